package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/nao1215/onionhost/internal/model"
)

// mockStep is a test double for Step.
type mockStep struct {
	name     string
	doFunc   func(ctx context.Context, session *model.Session) error
	executed bool
}

func (m *mockStep) Do(ctx context.Context, session *model.Session) error {
	m.executed = true
	if m.doFunc != nil {
		return m.doFunc(ctx, session)
	}
	return nil
}

func (m *mockStep) Name() string {
	return m.name
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestNew tests pipeline creation.
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("creates empty pipeline", func(t *testing.T) {
		t.Parallel()

		p := New()
		if p.StepCount() != 0 {
			t.Errorf("expected 0 steps, got %d", p.StepCount())
		}
		if p.logger == nil {
			t.Error("expected default logger")
		}
	})

	t.Run("applies logger option", func(t *testing.T) {
		t.Parallel()

		logger := discardLogger()
		if p := New(WithLogger(logger)); p.logger != logger {
			t.Error("expected custom logger to be set")
		}
	})
}

// TestPipelineAddSteps tests step ordering.
func TestPipelineAddSteps(t *testing.T) {
	t.Parallel()

	p := New()
	p.AddStep(&mockStep{name: "bind_proxy"})
	p.AddSteps(&mockStep{name: "bootstrap_tor"}, &mockStep{name: "publish_onion"})

	want := []string{"bind_proxy", "bootstrap_tor", "publish_onion"}
	got := p.StepNames()
	if len(got) != len(want) {
		t.Fatalf("expected %d names, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

// TestPipelineExecute tests the execution loop.
func TestPipelineExecute(t *testing.T) {
	t.Parallel()

	t.Run("runs steps in order and records them", func(t *testing.T) {
		t.Parallel()

		var order []string
		record := func(name string) *mockStep {
			return &mockStep{name: name, doFunc: func(context.Context, *model.Session) error {
				order = append(order, name)
				return nil
			}}
		}

		p := New(WithLogger(discardLogger()))
		p.AddSteps(record("first"), record("second"), record("third"))

		session := model.NewSession("blog", 2368, 80)
		if err := p.Execute(context.Background(), session); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(order) != 3 || order[0] != "first" || order[2] != "third" {
			t.Errorf("unexpected order %v", order)
		}
		if len(session.CompletedSteps) != 3 {
			t.Errorf("expected 3 completed steps, got %v", session.CompletedSteps)
		}
		if session.Error != nil {
			t.Errorf("expected no error, got %v", session.Error)
		}
	})

	t.Run("later steps see earlier results", func(t *testing.T) {
		t.Parallel()

		p := New(WithLogger(discardLogger()))
		p.AddSteps(
			&mockStep{name: "bind", doFunc: func(_ context.Context, s *model.Session) error {
				s.ProxyPort = 40000
				return nil
			}},
			&mockStep{name: "use", doFunc: func(_ context.Context, s *model.Session) error {
				if s.ProxyPort != 40000 {
					return errors.New("proxy port missing")
				}
				return nil
			}},
		)

		if err := p.Execute(context.Background(), model.NewSession("blog", 2368, 80)); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("stops at the first failure", func(t *testing.T) {
		t.Parallel()

		stepErr := model.NewError(model.KindProxyBind, "test", "address in use", nil)
		first := &mockStep{name: "first"}
		failing := &mockStep{name: "failing", doFunc: func(context.Context, *model.Session) error {
			return stepErr
		}}
		last := &mockStep{name: "last"}

		p := New(WithLogger(discardLogger()))
		p.AddSteps(first, failing, last)

		session := model.NewSession("blog", 2368, 80)
		err := p.Execute(context.Background(), session)
		if !errors.Is(err, model.ErrProxyBind) {
			t.Fatalf("expected proxy bind error, got %v", err)
		}
		if last.executed {
			t.Error("step after the failure must not run")
		}
		if len(session.CompletedSteps) != 1 || session.CompletedSteps[0] != "first" {
			t.Errorf("unexpected completed steps %v", session.CompletedSteps)
		}
		if session.Error != stepErr || session.ErrorMessage == "" {
			t.Errorf("expected error recorded in session, got %v %q", session.Error, session.ErrorMessage)
		}
	})

	t.Run("respects cancellation", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		step := &mockStep{name: "never"}
		p := New(WithLogger(discardLogger()))
		p.AddStep(step)

		session := model.NewSession("blog", 2368, 80)
		if err := p.Execute(ctx, session); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if step.executed {
			t.Error("step must not run after cancellation")
		}
		if !errors.Is(session.Error, context.Canceled) {
			t.Errorf("expected cancellation recorded, got %v", session.Error)
		}
	})

	t.Run("empty pipeline succeeds", func(t *testing.T) {
		t.Parallel()

		if err := New().Execute(context.Background(), model.NewSession("blog", 2368, 80)); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
