package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"dental-insights-go/internal/logger"
)

// Terminal and in-flight task states reported by the service.
const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
)

type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	LanguageHints []string
	SpeakerCount  int
	PollInterval  time.Duration
	PollTimeout   time.Duration
}

// Client drives asynchronous diarized transcription jobs: submit,
// poll until terminal, resolve the result payload.
type Client struct {
	cfg  Config
	http *http.Client
	log  *logrus.Entry
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("transcription api key not configured")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("transcription base url not configured")
	}
	if cfg.Model == "" {
		cfg.Model = "paraformer-v1"
	}
	if cfg.SpeakerCount <= 0 {
		cfg.SpeakerCount = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
		log:  logger.New().WithComponent("transcription"),
	}, nil
}

// Job is the handle for one submitted transcription task. The raw
// task output is kept so a SUCCEEDED job can be resolved without an
// extra status read.
type Job struct {
	TaskID  string
	Status  string
	Message string
	raw     json.RawMessage
}

// Sentence is one diarized span. speaker_id is only stable within a
// single job's sentence sequence.
type Sentence struct {
	SpeakerID int    `json:"speaker_id"`
	Text      string `json:"text"`
}

// Transcript is one recognized channel: a sentence list, or a whole
// utterance text when the service did not segment.
type Transcript struct {
	Text      string     `json:"text"`
	Sentences []Sentence `json:"sentences"`
}

// ResultPayload is the raw transcript JSON. The service is
// inconsistent across response variants and populates either
// transcripts[] or results[].
type ResultPayload struct {
	Transcripts []Transcript `json:"transcripts"`
	Results     []Transcript `json:"results"`
}

type taskEnvelope struct {
	RequestID string          `json:"request_id"`
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	Output    json.RawMessage `json:"output"`
}

type taskOutput struct {
	TaskID     string `json:"task_id"`
	TaskStatus string `json:"task_status"`
	Message    string `json:"message"`
	Results    []struct {
		FileURL          string `json:"file_url"`
		TranscriptionURL string `json:"transcription_url"`
		SubtaskStatus    string `json:"subtask_status"`
	} `json:"results"`
}

// Submit starts an async diarized transcription job for the signed
// audio URL.
func (c *Client) Submit(fileURL string) (Job, error) {
	payload := map[string]any{
		"model": c.cfg.Model,
		"input": map[string]any{
			"file_urls": []string{fileURL},
		},
		"parameters": map[string]any{
			"language_hints":      c.cfg.LanguageHints,
			"diarization_enabled": true,
			"speaker_count":       c.cfg.SpeakerCount,
		},
	}
	body, _ := json.Marshal(payload)
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/services/audio/asr/transcription"

	var env taskEnvelope
	err := c.doJSON(func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-DashScope-Async", "enable")
		return req, nil
	}, &env)
	if err != nil {
		return Job{}, fmt.Errorf("submit: %w", err)
	}
	if env.Code != "" {
		return Job{}, fmt.Errorf("submit rejected: code=%s message=%s", env.Code, env.Message)
	}

	var out taskOutput
	if err := json.Unmarshal(env.Output, &out); err != nil || out.TaskID == "" {
		return Job{}, fmt.Errorf("submit: malformed task output: %s", string(env.Output))
	}
	c.log.WithField("task_id", out.TaskID).Info("transcription job submitted")
	return Job{TaskID: out.TaskID, Status: out.TaskStatus, raw: env.Output}, nil
}

// Poll is an idempotent status read for a submitted job.
func (c *Client) Poll(job Job) (Job, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/tasks/" + job.TaskID

	var env taskEnvelope
	err := c.doJSON(func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, endpoint, nil)
	}, &env)
	if err != nil {
		return job, fmt.Errorf("poll task %s: %w", job.TaskID, err)
	}
	var out taskOutput
	if err := json.Unmarshal(env.Output, &out); err != nil {
		return job, fmt.Errorf("poll task %s: malformed output: %s", job.TaskID, string(env.Output))
	}
	job.Status = out.TaskStatus
	job.Message = out.Message
	job.raw = env.Output
	return job, nil
}

// FetchResult resolves a SUCCEEDED job to its transcript payload.
// Results may sit behind a secondary transcription URL; when one is
// present a second fetch retrieves the actual sentence list, otherwise
// the task output itself is the payload.
func (c *Client) FetchResult(job Job) (*ResultPayload, error) {
	var out taskOutput
	if err := json.Unmarshal(job.raw, &out); err != nil {
		return nil, fmt.Errorf("task %s: malformed output", job.TaskID)
	}

	if len(out.Results) > 0 && out.Results[0].TranscriptionURL != "" {
		url := out.Results[0].TranscriptionURL
		c.log.WithField("transcription_url", url).Debug("downloading transcript payload")
		var payload ResultPayload
		err := c.doJSON(func() (*http.Request, error) {
			return http.NewRequest(http.MethodGet, url, nil)
		}, &payload)
		if err != nil {
			return nil, fmt.Errorf("download result: %w", err)
		}
		return &payload, nil
	}

	var payload ResultPayload
	if err := json.Unmarshal(job.raw, &payload); err != nil {
		return nil, fmt.Errorf("task %s: inline payload: %v", job.TaskID, err)
	}
	return &payload, nil
}

// Transcribe submits the job and blocks until it reaches a terminal
// state, polling at a fixed interval. The wait is cancellable through
// ctx and bounded by PollTimeout when one is configured; the remote
// job keeps running either way. A FAILED job is never retried.
func (c *Client) Transcribe(ctx context.Context, fileURL string) (*ResultPayload, error) {
	job, err := c.Submit(fileURL)
	if err != nil {
		return nil, err
	}

	if c.cfg.PollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.PollTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("transcription wait aborted: %w", ctx.Err())
		case <-ticker.C:
			job, err = c.Poll(job)
			if err != nil {
				return nil, err
			}
			c.log.WithFields(logrus.Fields{"task_id": job.TaskID, "status": job.Status}).Debug("polling transcription")
			switch job.Status {
			case StatusSucceeded:
				return c.FetchResult(job)
			case StatusFailed:
				return nil, fmt.Errorf("transcription job failed: %s", job.Message)
			}
		}
	}
}

// doJSON performs one JSON request with retry on transport faults and
// 5xx responses. 4xx responses are permanent.
func (c *Client) doJSON(build func() (*http.Request, error), target any) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 15 * time.Second
	var lastErr error
	op := func() error {
		req, err := build()
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			return err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error: %s", string(body))
			return lastErr
		}
		if resp.StatusCode >= 400 {
			lastErr = fmt.Errorf("request rejected: status=%d body=%s", resp.StatusCode, string(body))
			return backoff.Permanent(lastErr)
		}
		if err := json.Unmarshal(body, target); err != nil {
			lastErr = fmt.Errorf("json decode error: %v body=%s", err, string(body))
			return lastErr
		}
		return nil
	}
	if err := backoff.Retry(op, bo); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}
