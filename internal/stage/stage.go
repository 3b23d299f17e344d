// Package stage defines the pluggable processing stage contract and the
// registry that maps (capability, backend) pairs to implementations.
package stage

import (
	"context"
	"fmt"

	"github.com/blindreview/redactor/pkg/models"
)

// Capability names for the built-in stage kinds.
const (
	CapabilityExtract = "extract"
	CapabilityParse   = "parse"
	CapabilityRedact  = "redact"
	CapabilityInspect = "inspect"

	// Meta-stages handled by the pipeline engine itself, not the registry.
	CapabilityCompose = "compose"
	CapabilityChunk   = "chunk"
)

// Redaction delimiters. Redact backends wrap each replaced span in these so
// downstream stages (and the chunker) can recognize redacted regions. Both are
// multi-byte UTF-8 sequences chosen to be vanishingly unlikely in case text.
const (
	OpenDelim  = "⟦" // ⟦
	CloseDelim = "⟧" // ⟧
)

// Kind describes the payload type a stage consumes or produces. A stage's
// output kind must match the next stage's input kind; this is validated when
// a pipeline spec is loaded, not at run time.
type Kind string

const (
	KindBytes    Kind = "bytes"
	KindText     Kind = "text"
	KindRedacted Kind = "redacted"
)

// Payload carries data between stages. Exactly one field matching Kind is set.
type Payload struct {
	Kind     Kind
	Bytes    []byte
	Text     string
	Redacted *models.RedactedDocument
}

func BytesPayload(b []byte) Payload { return Payload{Kind: KindBytes, Bytes: b} }

func TextPayload(s string) Payload { return Payload{Kind: KindText, Text: s} }

func RedactedPayload(d *models.RedactedDocument) Payload {
	return Payload{Kind: KindRedacted, Redacted: d}
}

// RunContext carries per-document case data shared by every stage in a run.
// Stages read it; they never mutate it.
type RunContext struct {
	JurisdictionID string
	CaseID         string
	DocumentID     string

	// Placeholders maps a literal name rendering to the alias that replaces it.
	Placeholders map[string]string
	// Subjects maps subject IDs to their aliases for inspection stages.
	Subjects map[string]string
}

// Stage is one pluggable processing step. Implementations must be safe for
// concurrent use and idempotent given identical input, since the engine may
// retry an invocation. Network-backed stages must honor ctx cancellation.
type Stage interface {
	Capability() string
	Backend() string
	InputKind() Kind
	OutputKind() Kind
	Run(ctx context.Context, in Payload, rc *RunContext) (Payload, error)
}

// Error is a stage failure. Recoverable errors (timeouts, transient backend
// faults) are eligible for the chunk and job retry budgets; unrecoverable
// ones abort the pipeline immediately.
type Error struct {
	Capability  string
	Backend     string
	Recoverable bool
	Err         error
}

func (e *Error) Error() string {
	return fmt.Sprintf("stage %s/%s: %v", e.Capability, e.Backend, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fail wraps err as an unrecoverable failure of the given stage.
func Fail(s Stage, err error) *Error {
	return &Error{Capability: s.Capability(), Backend: s.Backend(), Err: err}
}

// Retryable wraps err as a recoverable failure of the given stage.
func Retryable(s Stage, err error) *Error {
	return &Error{Capability: s.Capability(), Backend: s.Backend(), Recoverable: true, Err: err}
}
