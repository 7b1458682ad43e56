// Package pipeline sequences upload, transcription, dialogue
// reconstruction and audit extraction into a single analyze call.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"dental-insights-go/internal/dialogue"
	"dental-insights-go/internal/extractor"
	"dental-insights-go/internal/logger"
	"dental-insights-go/internal/metrics"
	"dental-insights-go/internal/transcription"
	"dental-insights-go/internal/types"
)

// Failure taxonomy. Every failed invocation returns exactly one of
// these tags; no stage ever substitutes a default report.
var (
	ErrStorageUnavailable   = errors.New("audio upload failed")
	ErrTranscriptionFailed  = errors.New("transcription failed")
	ErrLowQualityTranscript = errors.New("transcript has no usable content")
	ErrExtractionFailed     = errors.New("audit extraction failed")
)

type Uploader interface {
	Upload(data []byte, filename string) (string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, fileURL string) (*transcription.ResultPayload, error)
}

type Auditor interface {
	Extract(ctx context.Context, dialogueText string) (types.ConsultationReport, error)
}

// Analysis is the all-or-nothing result of one invocation.
type Analysis struct {
	Report     types.ConsultationReport `json:"report"`
	Dialogue   string                   `json:"dialogue"`
	DurationMs int64                    `json:"duration_ms"`
}

type Pipeline struct {
	store    Uploader
	asr      Transcriber
	llm      Auditor
	minChars int
	log      *logrus.Entry
	m        *metrics.Metrics
}

func New(store Uploader, asr Transcriber, llm Auditor, minDialogueChars int) *Pipeline {
	if minDialogueChars <= 0 {
		minDialogueChars = 10
	}
	return &Pipeline{
		store:    store,
		asr:      asr,
		llm:      llm,
		minChars: minDialogueChars,
		log:      logger.New().WithComponent("pipeline"),
		m:        metrics.Default,
	}
}

// Analyze runs the full pipeline for one recording, short-circuiting
// on the first failure. Each invocation owns its own job handle and
// transcript; nothing is shared between concurrent calls. There are
// no cross-stage retries, a failed invocation must be re-initiated by
// the caller.
func (p *Pipeline) Analyze(ctx context.Context, audio []byte, filename string) (Analysis, error) {
	start := time.Now()
	p.m.AnalysesTotal.Inc()
	log := p.log.WithField("filename", filename)

	fileURL, err := p.store.Upload(audio, filename)
	if err != nil {
		return p.fail(log, "upload", ErrStorageUnavailable, err)
	}

	payload, err := p.asr.Transcribe(ctx, fileURL)
	if err != nil {
		return p.fail(log, "transcription", ErrTranscriptionFailed, err)
	}

	text := dialogue.Reconstruct(payload)
	if text == dialogue.NoContent || utf8.RuneCountInString(text) < p.minChars {
		return p.fail(log, "quality_gate", ErrLowQualityTranscript,
			fmt.Errorf("dialogue has %d chars", utf8.RuneCountInString(text)))
	}

	report, err := p.llm.Extract(ctx, text)
	if err != nil {
		if errors.Is(err, extractor.ErrEmptyInput) {
			return p.fail(log, "quality_gate", ErrLowQualityTranscript, err)
		}
		return p.fail(log, "extraction", ErrExtractionFailed, err)
	}

	elapsed := time.Since(start)
	p.m.AnalysesSucceeded.Inc()
	p.m.AnalysisDuration.Observe(elapsed.Seconds())
	log.WithFields(logrus.Fields{
		"duration_ms": elapsed.Milliseconds(),
		"sales_score": report.SalesScore,
	}).Info("analysis complete")

	return Analysis{Report: report, Dialogue: text, DurationMs: elapsed.Milliseconds()}, nil
}

func (p *Pipeline) fail(log *logrus.Entry, stage string, tag, cause error) (Analysis, error) {
	p.m.AnalysesFailed.WithLabelValues(stage).Inc()
	log.WithField("stage", stage).WithField("error", cause.Error()).Warn("analysis failed")
	return Analysis{}, fmt.Errorf("%w: %v", tag, cause)
}
