package pipeline

import (
	"context"
	"log/slog"

	"github.com/nao1215/onionhost/internal/model"
)

// Step defines the interface that all pipeline steps must implement.
// Steps are executed in sequence, with each step receiving the session
// populated by previous steps.
type Step interface {
	// Do executes the pipeline step.
	// Returns an error if the step fails critically; the pipeline stops and
	// later steps do not run. Non-critical problems are logged and Do
	// returns nil.
	Do(ctx context.Context, session *model.Session) error

	// Name returns the step's name for logging purposes.
	Name() string
}

// Pipeline orchestrates the execution of multiple steps.
// It maintains a list of steps and executes them in order.
type Pipeline struct {
	// steps contains the ordered list of steps to execute.
	steps []Step

	// logger is used for structured logging during execution.
	logger *slog.Logger
}

// Option is a function that configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger for the pipeline.
// If not set, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New creates a new Pipeline with the given options.
// Steps should be added using AddStep after creation.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		steps: make([]Step, 0),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}

	return p
}

// AddStep appends a step to the pipeline.
// Steps are executed in the order they are added.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends multiple steps to the pipeline.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Execute runs all pipeline steps in sequence and stops at the first
// failure. Cancellation is checked before each step; a step in progress is
// responsible for honoring ctx itself.
//
// The failing step's error is recorded in the session and returned.
func (p *Pipeline) Execute(ctx context.Context, session *model.Session) error {
	for _, step := range p.steps {
		select {
		case <-ctx.Done():
			p.logger.Warn("pipeline cancelled",
				"step", step.Name(),
				"reason", ctx.Err(),
			)
			p.fail(session, ctx.Err())
			return ctx.Err()
		default:
		}

		p.logger.Debug("executing step",
			"step", step.Name(),
			"nickname", session.Nickname,
		)

		if err := step.Do(ctx, session); err != nil {
			p.logger.Error("step failed",
				"step", step.Name(),
				"nickname", session.Nickname,
				"error", err,
			)
			p.fail(session, err)
			return err
		}

		p.logger.Debug("step completed",
			"step", step.Name(),
			"nickname", session.Nickname,
		)
		session.CompletedSteps = append(session.CompletedSteps, step.Name())
	}

	return nil
}

func (p *Pipeline) fail(session *model.Session, err error) {
	session.Error = err
	session.ErrorMessage = err.Error()
}

// StepCount returns the number of steps in the pipeline.
func (p *Pipeline) StepCount() int {
	return len(p.steps)
}

// StepNames returns the names of all steps in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
