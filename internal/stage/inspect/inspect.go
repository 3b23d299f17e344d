// Package inspect implements the "inspect" capability: quality gates over a
// redacted document before it is accepted.
package inspect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/blindreview/redactor/internal/stage"
)

// Register adds the inspect backends to the registry.
func Register(r *stage.Registry) {
	r.Register(stage.CapabilityInspect, "quality", func(raw map[string]any) (stage.Stage, error) {
		p := stage.Params(raw)
		min := p.Float("minValidRatio", 0.995)
		if min < 0 || min > 1 {
			return nil, fmt.Errorf("minValidRatio must be in [0, 1], got %v", min)
		}
		return &qualityInspector{minValidRatio: min}, nil
	})
}

// qualityInspector rejects redactions whose annotation validity ratio falls
// below the configured floor. Rejection is retryable: model-backed redaction
// is nondeterministic and a later attempt may resolve the bad pairings.
type qualityInspector struct {
	minValidRatio float64
}

func (q *qualityInspector) Capability() string     { return stage.CapabilityInspect }
func (q *qualityInspector) Backend() string        { return "quality" }
func (q *qualityInspector) InputKind() stage.Kind  { return stage.KindRedacted }
func (q *qualityInspector) OutputKind() stage.Kind { return stage.KindRedacted }

func (q *qualityInspector) Run(_ context.Context, in stage.Payload, rc *stage.RunContext) (stage.Payload, error) {
	doc := in.Redacted
	if doc == nil {
		return stage.Payload{}, stage.Fail(q, fmt.Errorf("no redacted document to inspect"))
	}

	if ratio := doc.ValidRatio(); ratio < q.minValidRatio {
		return stage.Payload{}, stage.Retryable(q,
			fmt.Errorf("redaction quality too low (%.4f < %.4f)", ratio, q.minValidRatio))
	}

	if rc != nil {
		for subjectID, alias := range rc.Subjects {
			if alias != "" && !strings.Contains(doc.Redacted, alias) {
				slog.Warn("subject alias absent from redacted text",
					"subject_id", subjectID, "document_id", rc.DocumentID)
			}
		}
	}

	return in, nil
}
