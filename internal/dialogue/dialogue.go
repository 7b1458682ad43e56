// Package dialogue turns raw diarized transcription payloads into the
// human-readable turn sequence shown to supervisors and fed to the
// audit model.
package dialogue

import (
	"fmt"
	"strings"

	"dental-insights-go/internal/transcription"
)

// NoContent is returned when the payload carries neither sentences nor
// an utterance text. A recording with no discernible speech is a
// normal terminal state, not an error.
const NoContent = "（未识别到有效内容）"

// Reconstruct converts a transcript payload into dialogue text: one
// line per maximal run of consecutive same-speaker sentences, in
// original order, separated by blank lines. Deterministic and free of
// side effects.
func Reconstruct(p *transcription.ResultPayload) string {
	if p == nil {
		return NoContent
	}

	// The service populates transcripts[] or results[] depending on
	// the response variant; try both in that order.
	sources := [][]transcription.Transcript{p.Transcripts, p.Results}

	for _, ts := range sources {
		if len(ts) > 0 && len(ts[0].Sentences) > 0 {
			return mergeTurns(ts[0].Sentences)
		}
	}
	for _, ts := range sources {
		if len(ts) > 0 && strings.TrimSpace(ts[0].Text) != "" {
			return ts[0].Text
		}
	}
	return NoContent
}

// mergeTurns coalesces consecutive sentences from the same speaker
// into one turn, concatenating their texts without any separator.
func mergeTurns(sentences []transcription.Sentence) string {
	var (
		lines   []string
		speaker int
		texts   []string
		open    bool
	)
	flush := func() {
		if open {
			lines = append(lines, fmt.Sprintf("【说话人 %d】: %s", speaker, strings.Join(texts, "")))
		}
	}
	for _, s := range sentences {
		if !open || s.SpeakerID != speaker {
			flush()
			speaker = s.SpeakerID
			texts = texts[:0]
			open = true
		}
		texts = append(texts, s.Text)
	}
	flush()
	return strings.Join(lines, "\n\n")
}
