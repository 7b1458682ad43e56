package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"dental-insights-go/internal/logger"
	"dental-insights-go/internal/types"
)

// ErrEmptyInput rejects audits of empty transcripts before any model
// call is spent.
var ErrEmptyInput = errors.New("empty transcript")

// systemPrompt is the fixed supervisor rubric. Strict scoring, the
// customer's primary objection must be named, and advice must be
// concrete phrasing the consultant can use.
const systemPrompt = `你是一名专业的口腔门诊运营督导（Supervisor）。
任务：根据咨询录音文本，对咨询师的专业性、沟通技巧和销售逻辑进行深度审计。
原则：
1. 评分严格：满分100，及格60。未挖掘出预算或病史的一律不及格。
2. 痛点精准：必须指出客户最担心的问题（如怕痛、嫌贵、不信任）。
3. 建议落地：给出具体的话术改进建议。
输出要求：只返回一个 JSON 对象，不要任何其他文字，字段如下：
summary（50字以内的对话摘要）、customer_intent（客户意向等级，只能是 高/中/低）、
sales_score（销售评分，0-100 的整数）、pain_points（客户核心痛点）、
good_points（咨询师做得好的地方）、bad_points（咨询师的失误点）、next_step（下一步跟进建议）。`

type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Temperature  float64
	HTTPTimeout  time.Duration
	MaxRetryTime time.Duration
}

// Engine runs the schema-constrained audit extraction against a
// chat-completions endpoint.
type Engine struct {
	cfg  Config
	http *http.Client
	log  *logrus.Entry
}

func New(cfg Config) (*Engine, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm api key not configured")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("llm base url not configured")
	}
	if cfg.Model == "" {
		cfg.Model = "qwen-plus"
	}
	if cfg.Temperature == 0 {
		// near-deterministic so repeated audits of the same call agree
		cfg.Temperature = 0.1
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 60 * time.Second
	}
	if cfg.MaxRetryTime <= 0 {
		cfg.MaxRetryTime = 45 * time.Second
	}
	return &Engine{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.HTTPTimeout},
		log:  logger.New().WithComponent("extractor"),
	}, nil
}

// Extract audits one dialogue transcript and returns the validated
// report. Transport faults and schema violations fail the call; a
// malformed model object is never partially accepted.
func (e *Engine) Extract(ctx context.Context, dialogueText string) (types.ConsultationReport, error) {
	if strings.TrimSpace(dialogueText) == "" {
		return types.ConsultationReport{}, ErrEmptyInput
	}

	reqBody := map[string]any{
		"model": e.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": "【录音文本】：\n" + dialogueText},
		},
		"temperature":     e.cfg.Temperature,
		"response_format": map[string]string{"type": "json_object"},
	}
	data, _ := json.Marshal(reqBody)
	endpoint := strings.TrimRight(e.cfg.BaseURL, "/") + "/chat/completions"

	var report types.ConsultationReport
	var lastErr error

	op := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, e.cfg.HTTPTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.http.Do(req)
		if err != nil {
			lastErr = err
			return err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("llm server error: %s", string(body))
			return lastErr
		}
		if resp.StatusCode >= 400 {
			lastErr = fmt.Errorf("llm request rejected: status=%d body=%s", resp.StatusCode, string(body))
			return backoff.Permanent(lastErr)
		}

		content, err := contentFromChoices(body)
		if err != nil {
			lastErr = err
			return backoff.Permanent(lastErr)
		}
		r, err := decodeReport(content)
		if err != nil {
			lastErr = err
			return backoff.Permanent(lastErr)
		}
		report = r
		lastErr = nil
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = e.cfg.MaxRetryTime
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if lastErr == nil {
			lastErr = err
		}
		e.log.WithError(lastErr).Error("audit extraction failed")
		return types.ConsultationReport{}, fmt.Errorf("audit extraction: %w", lastErr)
	}

	e.log.WithFields(logrus.Fields{
		"sales_score":     report.SalesScore,
		"customer_intent": report.CustomerIntent,
	}).Info("audit extracted")
	return report, nil
}

// contentFromChoices reads choices[0].message.content from an
// OpenAI-style completion response.
func contentFromChoices(body []byte) (string, error) {
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("malformed completion response: %v", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("completion response has no content")
	}
	return parsed.Choices[0].Message.Content, nil
}

// decodeReport parses the model content into the fixed report schema
// and validates every field. Any mismatch fails the call.
func decodeReport(content string) (types.ConsultationReport, error) {
	raw := stripFences(content)

	var r types.ConsultationReport
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return types.ConsultationReport{}, fmt.Errorf("report does not match schema: %v", err)
	}
	if r.SalesScore < 0 || r.SalesScore > 100 {
		return types.ConsultationReport{}, fmt.Errorf("sales_score %d out of range [0,100]", r.SalesScore)
	}
	if strings.TrimSpace(r.Summary) == "" {
		return types.ConsultationReport{}, fmt.Errorf("report missing summary")
	}
	if strings.TrimSpace(r.CustomerIntent) == "" {
		return types.ConsultationReport{}, fmt.Errorf("report missing customer_intent")
	}
	return r, nil
}

// stripFences removes markdown code fences some models wrap around
// JSON despite the response_format constraint.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	for _, fence := range []string{"```json", "```"} {
		s = strings.ReplaceAll(s, fence, "")
	}
	return strings.TrimSpace(s)
}
