package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/blindreview/redactor/internal/stage"
	"github.com/blindreview/redactor/pkg/models"
)

// Defaults for the chunk meta-stage.
const (
	defaultMaxChunkBytes = 4000
	defaultMaxIterations = 3
	defaultConcurrency   = 4
)

// node is one compiled pipeline element. Kinds are fixed at compile time so
// misconfigured pipelines fail at load, not mid-document.
type node interface {
	inputKind() stage.Kind
	outputKind() stage.Kind
	run(ctx context.Context, in stage.Payload, rc *stage.RunContext) (stage.Payload, error)
}

// Engine executes a compiled pipeline spec against documents. Safe for
// concurrent use; it holds no per-run state.
type Engine struct {
	root *seqNode
}

// New compiles spec against the registry, resolving every stage and checking
// that each stage's output kind feeds the next stage's input kind.
func New(spec *Spec, reg *stage.Registry) (*Engine, error) {
	root, err := compileSeq(spec.Pipeline, reg, "pipeline")
	if err != nil {
		return nil, err
	}
	if root.outputKind() != stage.KindRedacted {
		return nil, fmt.Errorf("pipeline must produce a redacted document, ends in %q", root.outputKind())
	}
	return &Engine{root: root}, nil
}

// InputKind reports the payload kind the pipeline's first stage expects.
func (e *Engine) InputKind() stage.Kind { return e.root.inputKind() }

// Run executes the pipeline. Stage failures surface as *stage.Error with the
// failing capability name.
func (e *Engine) Run(ctx context.Context, in stage.Payload, rc *stage.RunContext) (*models.RedactedDocument, error) {
	if in.Kind != e.root.inputKind() {
		return nil, fmt.Errorf("pipeline expects %q input, got %q", e.root.inputKind(), in.Kind)
	}
	out, err := e.root.run(ctx, in, rc)
	if err != nil {
		return nil, err
	}
	return out.Redacted, nil
}

func compileSeq(specs []StageSpec, reg *stage.Registry, path string) (*seqNode, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%s: empty stage list", path)
	}
	children := make([]node, 0, len(specs))
	for i, s := range specs {
		slug := fmt.Sprintf("%s[%d]=%s", path, i, s.Capability)
		n, err := compileNode(s, reg, slug)
		if err != nil {
			return nil, err
		}
		if len(children) > 0 {
			prev := children[len(children)-1]
			if prev.outputKind() != n.inputKind() {
				return nil, fmt.Errorf("%s expects %q input but previous stage outputs %q",
					slug, n.inputKind(), prev.outputKind())
			}
		}
		children = append(children, n)
	}
	return &seqNode{children: children}, nil
}

func compileNode(s StageSpec, reg *stage.Registry, slug string) (node, error) {
	switch s.Capability {
	case stage.CapabilityCompose:
		if s.Backend != "" {
			return nil, fmt.Errorf("%s: compose takes no backend", slug)
		}
		return compileSeq(s.Children, reg, slug)
	case stage.CapabilityChunk:
		return compileChunk(s, reg, slug)
	default:
		if len(s.Children) > 0 {
			return nil, fmt.Errorf("%s: only compose and chunk take children", slug)
		}
		st, err := reg.Resolve(s.Capability, s.Backend, s.Params)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", slug, err)
		}
		return &leafNode{st: st}, nil
	}
}

func compileChunk(s StageSpec, reg *stage.Registry, slug string) (node, error) {
	child, err := compileSeq(s.Children, reg, slug)
	if err != nil {
		return nil, err
	}
	if child.inputKind() != stage.KindText {
		return nil, fmt.Errorf("%s: chunk sub-pipeline must accept text, expects %q", slug, child.inputKind())
	}
	if child.outputKind() != stage.KindRedacted {
		return nil, fmt.Errorf("%s: chunk sub-pipeline must produce a redacted document, outputs %q",
			slug, child.outputKind())
	}
	p := stage.Params(s.Params)
	cn := &chunkNode{
		child:         child,
		maxChunkBytes: p.Int("maxChunkBytes", defaultMaxChunkBytes),
		maxIterations: p.Int("maxIterations", defaultMaxIterations),
		concurrency:   p.Int("concurrency", defaultConcurrency),
	}
	if cn.maxChunkBytes <= 0 {
		return nil, fmt.Errorf("%s: maxChunkBytes must be positive", slug)
	}
	if cn.maxIterations <= 0 {
		return nil, fmt.Errorf("%s: maxIterations must be positive", slug)
	}
	if cn.concurrency <= 0 {
		cn.concurrency = 1
	}
	return cn, nil
}

// --- leaf ---

type leafNode struct {
	st stage.Stage
}

func (n *leafNode) inputKind() stage.Kind  { return n.st.InputKind() }
func (n *leafNode) outputKind() stage.Kind { return n.st.OutputKind() }

func (n *leafNode) run(ctx context.Context, in stage.Payload, rc *stage.RunContext) (stage.Payload, error) {
	out, err := n.st.Run(ctx, in, rc)
	if err != nil {
		var se *stage.Error
		if errors.As(err, &se) {
			return stage.Payload{}, err
		}
		// Timeouts and cancellations are recoverable; everything else
		// untyped is not.
		recoverable := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
		return stage.Payload{}, &stage.Error{
			Capability:  n.st.Capability(),
			Backend:     n.st.Backend(),
			Recoverable: recoverable,
			Err:         err,
		}
	}
	return out, nil
}

// --- sequence (also the compose meta-stage) ---

type seqNode struct {
	children []node
}

func (n *seqNode) inputKind() stage.Kind  { return n.children[0].inputKind() }
func (n *seqNode) outputKind() stage.Kind { return n.children[len(n.children)-1].outputKind() }

func (n *seqNode) run(ctx context.Context, in stage.Payload, rc *stage.RunContext) (stage.Payload, error) {
	cur := in
	for _, child := range n.children {
		out, err := child.run(ctx, cur, rc)
		if err != nil {
			return stage.Payload{}, err
		}
		cur = out
	}
	return cur, nil
}

// --- chunk meta-stage ---

// chunkNode splits oversized text into bounded segments, runs the sub-pipeline
// per segment in isolation, and reassembles results in original order with
// annotation spans shifted into document-global coordinates. A segment that
// exhausts maxIterations yields a Valid=false annotation covering it instead
// of failing the document: partial redaction beats total pipeline failure.
type chunkNode struct {
	child         *seqNode
	maxChunkBytes int
	maxIterations int
	concurrency   int
}

func (n *chunkNode) inputKind() stage.Kind  { return stage.KindText }
func (n *chunkNode) outputKind() stage.Kind { return stage.KindRedacted }

func (n *chunkNode) run(ctx context.Context, in stage.Payload, rc *stage.RunContext) (stage.Payload, error) {
	segments := SplitText(in.Text, n.maxChunkBytes)
	results := make([]*models.RedactedDocument, len(segments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.concurrency)
	for idx, seg := range segments {
		g.Go(func() error {
			doc, err := n.runSegment(gctx, seg, rc)
			if err != nil {
				return err
			}
			results[idx] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stage.Payload{}, err
	}

	return stage.RedactedPayload(reassemble(in.Text, results)), nil
}

// runSegment retries the sub-pipeline up to maxIterations times. Recoverable
// failures fall back to an invalid-span pass-through; unrecoverable ones
// abort the whole pipeline.
func (n *chunkNode) runSegment(ctx context.Context, seg Segment, rc *stage.RunContext) (*models.RedactedDocument, error) {
	var lastErr error
	for attempt := 0; attempt < n.maxIterations; attempt++ {
		if err := ctx.Err(); err != nil {
			// A deadline here is the job lease or a stage timeout expiring,
			// not a document defect; keep it on the retry budget.
			return nil, &stage.Error{Capability: stage.CapabilityChunk, Recoverable: true, Err: err}
		}
		out, err := n.child.run(ctx, stage.TextPayload(seg.Text), rc)
		if err == nil {
			return out.Redacted, nil
		}
		var se *stage.Error
		if errors.As(err, &se) && !se.Recoverable {
			return nil, err
		}
		lastErr = err
	}

	// Exhausted the iteration budget: surface the segment as an unresolved
	// span rather than discarding it.
	slog.Warn("chunk segment exhausted iteration budget",
		"segment_start", seg.Start, "attempts", n.maxIterations, "error", lastErr)
	return &models.RedactedDocument{
		Original: seg.Text,
		Redacted: seg.Text,
		Annotations: []models.Annotation{{
			OriginalSpan: models.Span{Start: 0, End: len(seg.Text)},
			RedactedSpan: models.Span{Start: 0, End: len(seg.Text)},
			Valid:        false,
		}},
	}, nil
}

// reassemble concatenates per-segment outputs in order, shifting each
// segment's annotation spans by the cumulative original and redacted lengths
// of the segments before it.
func reassemble(original string, parts []*models.RedactedDocument) *models.RedactedDocument {
	out := &models.RedactedDocument{Original: original, Annotations: []models.Annotation{}}
	origOff, redOff := 0, 0
	var redacted []byte
	for _, part := range parts {
		for _, a := range part.Annotations {
			out.Annotations = append(out.Annotations, a.Shift(origOff, redOff))
		}
		redacted = append(redacted, part.Redacted...)
		origOff += len(part.Original)
		redOff += len(part.Redacted)
	}
	out.Redacted = string(redacted)
	return out
}
