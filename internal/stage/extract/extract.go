// Package extract implements the "extract" capability: turning raw document
// bytes into text.
package extract

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/blindreview/redactor/internal/stage"
)

// Register adds the extract backends to the registry.
func Register(r *stage.Registry) {
	r.Register(stage.CapabilityExtract, "text", func(_ map[string]any) (stage.Stage, error) {
		return &textExtractor{}, nil
	})
}

// textExtractor decodes plain-text documents. Bytes that are not valid UTF-8
// are replaced rather than failing the whole document; scanned/image inputs
// belong to an OCR backend, not this one.
type textExtractor struct{}

func (e *textExtractor) Capability() string     { return stage.CapabilityExtract }
func (e *textExtractor) Backend() string        { return "text" }
func (e *textExtractor) InputKind() stage.Kind  { return stage.KindBytes }
func (e *textExtractor) OutputKind() stage.Kind { return stage.KindText }

func (e *textExtractor) Run(_ context.Context, in stage.Payload, _ *stage.RunContext) (stage.Payload, error) {
	if len(in.Bytes) == 0 {
		return stage.Payload{}, stage.Fail(e, fmt.Errorf("empty document content"))
	}
	text := string(in.Bytes)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	return stage.TextPayload(text), nil
}
