// Package mock provides a configurable stage implementation for tests.
package mock

import (
	"context"

	"github.com/blindreview/redactor/internal/stage"
)

// Stage satisfies stage.Stage for testing. Zero-value fields fall back to a
// text-to-text identity stage.
type Stage struct {
	CapabilityName string
	BackendName    string
	In             stage.Kind
	Out            stage.Kind
	RunFunc        func(ctx context.Context, in stage.Payload, rc *stage.RunContext) (stage.Payload, error)
}

func (m *Stage) Capability() string {
	if m.CapabilityName == "" {
		return stage.CapabilityParse
	}
	return m.CapabilityName
}

func (m *Stage) Backend() string {
	if m.BackendName == "" {
		return "mock"
	}
	return m.BackendName
}

func (m *Stage) InputKind() stage.Kind {
	if m.In == "" {
		return stage.KindText
	}
	return m.In
}

func (m *Stage) OutputKind() stage.Kind {
	if m.Out == "" {
		return stage.KindText
	}
	return m.Out
}

func (m *Stage) Run(ctx context.Context, in stage.Payload, rc *stage.RunContext) (stage.Payload, error) {
	if m.RunFunc != nil {
		return m.RunFunc(ctx, in, rc)
	}
	return in, nil
}

// Register installs the stage under its capability/backend pair.
func Register(r *stage.Registry, m *Stage) {
	r.Register(m.Capability(), m.Backend(), func(_ map[string]any) (stage.Stage, error) {
		return m, nil
	})
}

// Failing returns a stage that always fails with err, recoverably or not.
func Failing(capability, backend string, in, out stage.Kind, err error, recoverable bool) *Stage {
	m := &Stage{CapabilityName: capability, BackendName: backend, In: in, Out: out}
	m.RunFunc = func(_ context.Context, _ stage.Payload, _ *stage.RunContext) (stage.Payload, error) {
		if recoverable {
			return stage.Payload{}, stage.Retryable(m, err)
		}
		return stage.Payload{}, stage.Fail(m, err)
	}
	return m
}

var _ stage.Stage = (*Stage)(nil)
