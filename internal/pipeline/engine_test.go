package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blindreview/redactor/internal/pipeline"
	"github.com/blindreview/redactor/internal/stage"
	"github.com/blindreview/redactor/internal/stage/mock"
	"github.com/blindreview/redactor/pkg/models"
)

// upperRedactor uppercases the text and annotates the first word as redacted.
func upperRedactor() *mock.Stage {
	return &mock.Stage{
		CapabilityName: stage.CapabilityRedact,
		BackendName:    "upper",
		In:             stage.KindText,
		Out:            stage.KindRedacted,
		RunFunc: func(_ context.Context, in stage.Payload, _ *stage.RunContext) (stage.Payload, error) {
			end := strings.IndexByte(in.Text, ' ')
			if end < 0 {
				end = len(in.Text)
			}
			return stage.RedactedPayload(&models.RedactedDocument{
				Original: in.Text,
				Redacted: strings.ToUpper(in.Text),
				Annotations: []models.Annotation{{
					OriginalSpan: models.Span{Start: 0, End: end},
					RedactedSpan: models.Span{Start: 0, End: end},
					Valid:        true,
				}},
			}), nil
		},
	}
}

func newRegistry(t *testing.T, stages ...*mock.Stage) *stage.Registry {
	t.Helper()
	r := stage.NewRegistry()
	for _, m := range stages {
		mock.Register(r, m)
	}
	return r
}

func leaf(capability, backend string) pipeline.StageSpec {
	return pipeline.StageSpec{Capability: capability, Backend: backend}
}

func TestNew_RejectsKindMismatch(t *testing.T) {
	reg := newRegistry(t,
		&mock.Stage{CapabilityName: stage.CapabilityParse, BackendName: "mock"}, // text -> text
		&mock.Stage{CapabilityName: stage.CapabilityExtract, BackendName: "bytes",
			In: stage.KindBytes, Out: stage.KindText},
	)

	// parse outputs text but extract expects bytes.
	_, err := pipeline.New(&pipeline.Spec{Pipeline: []pipeline.StageSpec{
		leaf(stage.CapabilityParse, "mock"),
		leaf(stage.CapabilityExtract, "bytes"),
	}}, reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expects")
}

func TestNew_RejectsNonRedactedTail(t *testing.T) {
	reg := newRegistry(t, &mock.Stage{CapabilityName: stage.CapabilityParse, BackendName: "mock"})

	_, err := pipeline.New(&pipeline.Spec{Pipeline: []pipeline.StageSpec{
		leaf(stage.CapabilityParse, "mock"),
	}}, reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redacted")
}

func TestNew_RejectsUnknownStage(t *testing.T) {
	reg := stage.NewRegistry()
	_, err := pipeline.New(&pipeline.Spec{Pipeline: []pipeline.StageSpec{
		leaf(stage.CapabilityRedact, "nope"),
	}}, reg)
	require.Error(t, err)
	assert.ErrorIs(t, err, stage.ErrUnknownStage)
}

func TestNew_RejectsChildrenOnLeaf(t *testing.T) {
	reg := newRegistry(t, upperRedactor())
	_, err := pipeline.New(&pipeline.Spec{Pipeline: []pipeline.StageSpec{
		{Capability: stage.CapabilityRedact, Backend: "upper",
			Children: []pipeline.StageSpec{leaf(stage.CapabilityRedact, "upper")}},
	}}, reg)
	require.Error(t, err)
}

func TestRun_LinearPipeline(t *testing.T) {
	reg := newRegistry(t,
		&mock.Stage{CapabilityName: stage.CapabilityParse, BackendName: "mock"},
		upperRedactor(),
	)
	eng, err := pipeline.New(&pipeline.Spec{Pipeline: []pipeline.StageSpec{
		leaf(stage.CapabilityParse, "mock"),
		leaf(stage.CapabilityRedact, "upper"),
	}}, reg)
	require.NoError(t, err)
	assert.Equal(t, stage.KindText, eng.InputKind())

	doc, err := eng.Run(context.Background(), stage.TextPayload("john met mary"), &stage.RunContext{})
	require.NoError(t, err)
	assert.Equal(t, "JOHN MET MARY", doc.Redacted)
	require.Len(t, doc.Annotations, 1)
	assert.Equal(t, models.Span{Start: 0, End: 4}, doc.Annotations[0].OriginalSpan)
}

func TestRun_ComposeIsTransparent(t *testing.T) {
	reg := newRegistry(t,
		&mock.Stage{CapabilityName: stage.CapabilityParse, BackendName: "mock"},
		upperRedactor(),
	)
	nested, err := pipeline.New(&pipeline.Spec{Pipeline: []pipeline.StageSpec{
		{Capability: stage.CapabilityCompose, Children: []pipeline.StageSpec{
			leaf(stage.CapabilityParse, "mock"),
			{Capability: stage.CapabilityCompose, Children: []pipeline.StageSpec{
				leaf(stage.CapabilityRedact, "upper"),
			}},
		}},
	}}, reg)
	require.NoError(t, err)

	flat, err := pipeline.New(&pipeline.Spec{Pipeline: []pipeline.StageSpec{
		leaf(stage.CapabilityParse, "mock"),
		leaf(stage.CapabilityRedact, "upper"),
	}}, reg)
	require.NoError(t, err)

	in := "some case narrative"
	nestedDoc, err := nested.Run(context.Background(), stage.TextPayload(in), &stage.RunContext{})
	require.NoError(t, err)
	flatDoc, err := flat.Run(context.Background(), stage.TextPayload(in), &stage.RunContext{})
	require.NoError(t, err)
	assert.Equal(t, flatDoc, nestedDoc)
}

func TestRun_ComposeRejectsBackend(t *testing.T) {
	reg := newRegistry(t, upperRedactor())
	_, err := pipeline.New(&pipeline.Spec{Pipeline: []pipeline.StageSpec{
		{Capability: stage.CapabilityCompose, Backend: "oops",
			Children: []pipeline.StageSpec{leaf(stage.CapabilityRedact, "upper")}},
	}}, reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compose takes no backend")
}

func chunkSpec(params map[string]any, children ...pipeline.StageSpec) *pipeline.Spec {
	return &pipeline.Spec{Pipeline: []pipeline.StageSpec{
		{Capability: stage.CapabilityChunk, Params: params, Children: children},
	}}
}

func TestRun_ChunkReassemblesInOrder(t *testing.T) {
	reg := newRegistry(t, upperRedactor())
	eng, err := pipeline.New(chunkSpec(
		map[string]any{"maxChunkBytes": 32, "concurrency": 4},
		leaf(stage.CapabilityRedact, "upper"),
	), reg)
	require.NoError(t, err)

	text := strings.Repeat("alpha beta gamma delta ", 20)
	doc, err := eng.Run(context.Background(), stage.TextPayload(text), &stage.RunContext{})
	require.NoError(t, err)

	assert.Equal(t, text, doc.Original)
	assert.Equal(t, strings.ToUpper(text), doc.Redacted)

	// One annotation per segment, shifted into document coordinates and
	// strictly increasing.
	require.NotEmpty(t, doc.Annotations)
	prev := -1
	for _, a := range doc.Annotations {
		assert.Greater(t, a.OriginalSpan.Start, prev)
		prev = a.OriginalSpan.Start
		word := doc.Original[a.OriginalSpan.Start:a.OriginalSpan.End]
		assert.Equal(t, strings.ToUpper(word), doc.Redacted[a.RedactedSpan.Start:a.RedactedSpan.End])
	}
}

func TestRun_ChunkSegmentFailureYieldsInvalidSpan(t *testing.T) {
	failer := &mock.Stage{
		CapabilityName: stage.CapabilityRedact,
		BackendName:    "flaky",
		In:             stage.KindText,
		Out:            stage.KindRedacted,
	}
	failer.RunFunc = func(_ context.Context, in stage.Payload, _ *stage.RunContext) (stage.Payload, error) {
		if strings.Contains(in.Text, "poison") {
			return stage.Payload{}, stage.Retryable(failer, errors.New("backend unavailable"))
		}
		return stage.RedactedPayload(&models.RedactedDocument{
			Original: in.Text, Redacted: in.Text, Annotations: []models.Annotation{},
		}), nil
	}

	reg := newRegistry(t, failer)
	eng, err := pipeline.New(chunkSpec(
		map[string]any{"maxChunkBytes": 24, "maxIterations": 2, "concurrency": 2},
		leaf(stage.CapabilityRedact, "flaky"),
	), reg)
	require.NoError(t, err)

	text := "clean segment one\n\npoison segment here\n\nclean segment two"
	doc, err := eng.Run(context.Background(), stage.TextPayload(text), &stage.RunContext{})
	require.NoError(t, err, "one bad segment must not fail the document")

	assert.Equal(t, text, doc.Original)
	assert.Equal(t, text, doc.Redacted)

	var invalid []models.Annotation
	for _, a := range doc.Annotations {
		if !a.Valid {
			invalid = append(invalid, a)
		}
	}
	require.Len(t, invalid, 1)
	span := doc.Original[invalid[0].OriginalSpan.Start:invalid[0].OriginalSpan.End]
	assert.Contains(t, span, "poison")
}

func TestRun_ChunkUnrecoverableAborts(t *testing.T) {
	boom := errors.New("bad credentials")
	failer := mock.Failing(stage.CapabilityRedact, "broken",
		stage.KindText, stage.KindRedacted, boom, false)

	reg := newRegistry(t, failer)
	eng, err := pipeline.New(chunkSpec(
		map[string]any{"maxChunkBytes": 16},
		leaf(stage.CapabilityRedact, "broken"),
	), reg)
	require.NoError(t, err)

	_, err = eng.Run(context.Background(), stage.TextPayload(strings.Repeat("text ", 20)), &stage.RunContext{})
	require.Error(t, err)

	var se *stage.Error
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Recoverable)
	assert.Equal(t, stage.CapabilityRedact, se.Capability)
}

func TestRun_ChunkDeadlineIsRecoverable(t *testing.T) {
	stall := &mock.Stage{
		CapabilityName: stage.CapabilityRedact,
		BackendName:    "stall",
		In:             stage.KindText,
		Out:            stage.KindRedacted,
		RunFunc: func(ctx context.Context, _ stage.Payload, _ *stage.RunContext) (stage.Payload, error) {
			<-ctx.Done()
			return stage.Payload{}, ctx.Err()
		},
	}

	reg := newRegistry(t, stall)
	eng, err := pipeline.New(chunkSpec(
		map[string]any{"maxChunkBytes": 16, "maxIterations": 2, "concurrency": 2},
		leaf(stage.CapabilityRedact, "stall"),
	), reg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = eng.Run(ctx, stage.TextPayload(strings.Repeat("text ", 20)), &stage.RunContext{})
	require.Error(t, err)

	// A lease or stage deadline expiring mid-document must consume the retry
	// budget, not end the job outright.
	var se *stage.Error
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Recoverable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_ChunkRetriesWithinBudget(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	flaky := &mock.Stage{
		CapabilityName: stage.CapabilityRedact,
		BackendName:    "flaky",
		In:             stage.KindText,
		Out:            stage.KindRedacted,
	}
	flaky.RunFunc = func(_ context.Context, in stage.Payload, _ *stage.RunContext) (stage.Payload, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return stage.Payload{}, stage.Retryable(flaky, errors.New("transient"))
		}
		return stage.RedactedPayload(&models.RedactedDocument{
			Original: in.Text, Redacted: in.Text, Annotations: []models.Annotation{},
		}), nil
	}

	reg := newRegistry(t, flaky)
	eng, err := pipeline.New(chunkSpec(
		map[string]any{"maxIterations": 3, "concurrency": 1},
		leaf(stage.CapabilityRedact, "flaky"),
	), reg)
	require.NoError(t, err)

	doc, err := eng.Run(context.Background(), stage.TextPayload("short text"), &stage.RunContext{})
	require.NoError(t, err)
	for _, a := range doc.Annotations {
		assert.True(t, a.Valid)
	}
	assert.Equal(t, 2, calls)
}

func TestRun_ChunkChildMustProduceRedacted(t *testing.T) {
	reg := newRegistry(t, &mock.Stage{CapabilityName: stage.CapabilityParse, BackendName: "mock"})
	_, err := pipeline.New(chunkSpec(nil, leaf(stage.CapabilityParse, "mock")), reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redacted")
}

func TestRun_InputKindMismatch(t *testing.T) {
	reg := newRegistry(t, upperRedactor())
	eng, err := pipeline.New(&pipeline.Spec{Pipeline: []pipeline.StageSpec{
		leaf(stage.CapabilityRedact, "upper"),
	}}, reg)
	require.NoError(t, err)

	_, err = eng.Run(context.Background(), stage.BytesPayload([]byte("raw")), &stage.RunContext{})
	require.Error(t, err)
}

func TestParseSpec_Empty(t *testing.T) {
	_, err := pipeline.ParseSpec([]byte("pipeline: []\n"))
	require.Error(t, err)
}

func TestParseSpec_YAML(t *testing.T) {
	raw := []byte(`
pipeline:
  - capability: extract
    backend: text
  - capability: chunk
    params:
      maxChunkBytes: 2048
    children:
      - capability: redact
        backend: exact
`)
	spec, err := pipeline.ParseSpec(raw)
	require.NoError(t, err)
	require.Len(t, spec.Pipeline, 2)
	assert.Equal(t, "extract", spec.Pipeline[0].Capability)
	assert.Equal(t, 2048, spec.Pipeline[1].Params["maxChunkBytes"])
	require.Len(t, spec.Pipeline[1].Children, 1)
	assert.Equal(t, "exact", spec.Pipeline[1].Children[0].Backend)
}
