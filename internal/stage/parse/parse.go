// Package parse implements the "parse" capability: normalizing extracted text
// into a narrative suitable for redaction.
package parse

import (
	"context"
	"strings"

	"github.com/blindreview/redactor/internal/stage"
)

// Register adds the parse backends to the registry.
func Register(r *stage.Registry) {
	r.Register(stage.CapabilityParse, "narrative", func(_ map[string]any) (stage.Stage, error) {
		return &narrativeParser{}, nil
	})
}

// narrativeParser normalizes line endings and strips control characters that
// confuse downstream model calls. It deliberately preserves all printable
// text: byte offsets into the parsed narrative are what annotations refer to,
// so the parser is the last stage allowed to change the text's length.
type narrativeParser struct{}

func (p *narrativeParser) Capability() string     { return stage.CapabilityParse }
func (p *narrativeParser) Backend() string        { return "narrative" }
func (p *narrativeParser) InputKind() stage.Kind  { return stage.KindText }
func (p *narrativeParser) OutputKind() stage.Kind { return stage.KindText }

func (p *narrativeParser) Run(_ context.Context, in stage.Payload, _ *stage.RunContext) (stage.Payload, error) {
	text := strings.ReplaceAll(in.Text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, text)
	return stage.TextPayload(text), nil
}
