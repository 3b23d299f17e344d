package redact

import (
	"strings"

	"github.com/blindreview/redactor/internal/stage"
	"github.com/blindreview/redactor/pkg/models"
)

// resyncWindow bounds how far Align will scan to recover from text the model
// altered outside a delimited span.
const resyncWindow = 64

// Align maps a model-produced redaction (the original text with name spans
// replaced by ⟦alias⟧ tokens) back onto the original, producing one
// annotation per delimited token. A token whose pairing cannot be resolved —
// a missing close delimiter, or surrounding text the model rewrote beyond
// recognition — yields a Valid=false annotation instead of being dropped.
func Align(original, redacted string) *models.RedactedDocument {
	var annotations []models.Annotation
	i, j := 0, 0 // i indexes original, j indexes redacted

	for j < len(redacted) {
		if strings.HasPrefix(redacted[j:], stage.OpenDelim) {
			closeIdx := strings.Index(redacted[j+len(stage.OpenDelim):], stage.CloseDelim)
			if closeIdx < 0 {
				// Truncated output: the close delimiter never arrives.
				annotations = append(annotations, models.Annotation{
					OriginalSpan: models.Span{Start: i, End: len(original)},
					RedactedSpan: models.Span{Start: j, End: len(redacted)},
					OpenDelim:    stage.OpenDelim,
				})
				j = len(redacted)
				i = len(original)
				break
			}
			redEnd := j + len(stage.OpenDelim) + closeIdx + len(stage.CloseDelim)

			origEnd, ok := findOriginalEnd(original, redacted, i, redEnd)
			annotations = append(annotations, models.Annotation{
				OriginalSpan: models.Span{Start: i, End: origEnd},
				RedactedSpan: models.Span{Start: j, End: redEnd},
				Valid:        ok,
				OpenDelim:    stage.OpenDelim,
				CloseDelim:   stage.CloseDelim,
			})
			i = origEnd
			j = redEnd
			continue
		}

		if i < len(original) && original[i] == redacted[j] {
			i++
			j++
			continue
		}

		// The model drifted outside a delimited span. Try to resync within a
		// bounded window; if that fails, consume one redacted byte and retry.
		if di, dj, ok := resync(original, redacted, i, j); ok {
			i, j = di, dj
		} else {
			j++
		}
	}

	return &models.RedactedDocument{
		Original:    original,
		Redacted:    redacted,
		Annotations: annotations,
	}
}

// findOriginalEnd locates where the original text resumes after a delimited
// token by anchoring on the text that follows the close delimiter.
func findOriginalEnd(original, redacted string, origStart, redEnd int) (int, bool) {
	anchor := redacted[redEnd:]
	if next := strings.Index(anchor, stage.OpenDelim); next >= 0 {
		anchor = anchor[:next]
	}
	if len(anchor) > resyncWindow {
		anchor = anchor[:resyncWindow]
	}
	anchor = strings.TrimLeft(anchor, " ")
	if anchor == "" {
		// Token runs to the end of the document.
		return len(original), true
	}
	rel := strings.Index(original[origStart:], anchor)
	if rel < 0 {
		return origStart, false
	}
	return origStart + rel, true
}

// resync scans a bounded window for the next position where original and
// redacted agree on at least four consecutive bytes.
func resync(original, redacted string, i, j int) (int, int, bool) {
	const anchorLen = 4
	for dj := 0; dj < resyncWindow && j+dj+anchorLen <= len(redacted); dj++ {
		probe := redacted[j+dj : j+dj+anchorLen]
		if strings.HasPrefix(probe, stage.OpenDelim[:1]) {
			break
		}
		limit := i + resyncWindow
		if limit > len(original) {
			limit = len(original)
		}
		if rel := strings.Index(original[i:limit], probe); rel >= 0 {
			return i + rel, j + dj, true
		}
	}
	return 0, 0, false
}
