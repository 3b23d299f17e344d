// Package redact implements the "redact" capability: replacing subject names
// in a narrative with stable per-case aliases, producing span annotations.
package redact

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/blindreview/redactor/internal/stage"
	"github.com/blindreview/redactor/pkg/models"
)

// Register adds the redact backends to the registry.
func Register(r *stage.Registry) {
	r.Register(stage.CapabilityRedact, "exact", func(_ map[string]any) (stage.Stage, error) {
		return &exactRedactor{}, nil
	})
	r.Register(stage.CapabilityRedact, "openai", NewOpenAIFactory())
}

// exactRedactor replaces literal, whole-word occurrences of each placeholder
// name with its delimited alias. Deterministic; used where model-backed
// redaction is unavailable and as the reference implementation in tests.
type exactRedactor struct{}

func (e *exactRedactor) Capability() string     { return stage.CapabilityRedact }
func (e *exactRedactor) Backend() string        { return "exact" }
func (e *exactRedactor) InputKind() stage.Kind  { return stage.KindText }
func (e *exactRedactor) OutputKind() stage.Kind { return stage.KindRedacted }

func (e *exactRedactor) Run(_ context.Context, in stage.Payload, rc *stage.RunContext) (stage.Payload, error) {
	if rc == nil || len(rc.Placeholders) == 0 {
		return stage.Payload{}, stage.Fail(e, fmt.Errorf("no placeholders for case"))
	}
	doc := Apply(in.Text, rc.Placeholders)
	return stage.RedactedPayload(doc), nil
}

type match struct {
	start, end int
	alias      string
}

// Apply replaces every whole-word occurrence of the placeholder names in text
// with its delimited alias and returns the document with one annotation per
// replacement. Longer names win when occurrences overlap, so "Ana Maria Cruz"
// is masked as one span rather than leaving "Maria Cruz" behind.
func Apply(text string, placeholders map[string]string) *models.RedactedDocument {
	names := make([]string, 0, len(placeholders))
	for name := range placeholders {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})

	var matches []match
	for _, name := range names {
		for _, span := range findWholeWord(text, name) {
			if overlapsAny(matches, span[0], span[1]) {
				continue
			}
			matches = append(matches, match{start: span[0], end: span[1], alias: placeholders[name]})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].start < matches[j].start })

	var b strings.Builder
	annotations := make([]models.Annotation, 0, len(matches))
	prev := 0
	for _, m := range matches {
		b.WriteString(text[prev:m.start])
		rStart := b.Len()
		b.WriteString(stage.OpenDelim)
		b.WriteString(m.alias)
		b.WriteString(stage.CloseDelim)
		annotations = append(annotations, models.Annotation{
			OriginalSpan: models.Span{Start: m.start, End: m.end},
			RedactedSpan: models.Span{Start: rStart, End: b.Len()},
			Valid:        true,
			OpenDelim:    stage.OpenDelim,
			CloseDelim:   stage.CloseDelim,
		})
		prev = m.end
	}
	b.WriteString(text[prev:])

	return &models.RedactedDocument{
		Original:    text,
		Redacted:    b.String(),
		Annotations: annotations,
	}
}

// findWholeWord returns the byte spans of case-insensitive whole-word
// occurrences of name in text. Case folding is byte-length preserving for the
// ASCII names this service sees; a fold that changes length simply fails to
// match, which errs on the side of leaving text for the model backend.
func findWholeWord(text, name string) [][2]int {
	var spans [][2]int
	n := len(name)
	if n == 0 || n > len(text) {
		return spans
	}
	for i := 0; i+n <= len(text); i++ {
		if !strings.EqualFold(text[i:i+n], name) {
			continue
		}
		if !boundaryBefore(text, i) || !boundaryAfter(text, i+n) {
			continue
		}
		spans = append(spans, [2]int{i, i + n})
		i += n - 1
	}
	return spans
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func overlapsAny(matches []match, start, end int) bool {
	for _, m := range matches {
		if start < m.end && m.start < end {
			return true
		}
	}
	return false
}
