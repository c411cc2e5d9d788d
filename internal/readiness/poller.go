package readiness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nao1215/onionhost/internal/model"
)

const (
	// DefaultInterval is the pause between two checks.
	DefaultInterval = 2 * time.Second
	// DefaultMinBodySize is the body length a response must exceed to count.
	DefaultMinBodySize = 100
	// DefaultRequiredSuccesses is the number of consecutive qualifying responses needed.
	DefaultRequiredSuccesses = 3
	// DefaultSettleDelay is waited once after the upstream qualified.
	DefaultSettleDelay = 2 * time.Second
	// DefaultRequestTimeout bounds a single check.
	DefaultRequestTimeout = 5 * time.Second
	// DefaultMaxAttempts is the attempt budget used by the CLI.
	DefaultMaxAttempts = 40
)

// Poller checks an upstream until it is ready.
type Poller struct {
	client            *http.Client
	logger            *slog.Logger
	interval          time.Duration
	minBodySize       int
	requiredSuccesses int
	settleDelay       time.Duration
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the pause between checks.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d >= 0 {
			p.interval = d
		}
	}
}

// WithMinBodySize sets the body length a response must exceed.
func WithMinBodySize(n int) Option {
	return func(p *Poller) {
		if n >= 0 {
			p.minBodySize = n
		}
	}
}

// WithRequiredSuccesses sets how many qualifying responses in a row are needed.
func WithRequiredSuccesses(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.requiredSuccesses = n
		}
	}
}

// WithSettleDelay sets the delay applied once the upstream qualified.
func WithSettleDelay(d time.Duration) Option {
	return func(p *Poller) {
		if d >= 0 {
			p.settleDelay = d
		}
	}
}

// WithHTTPClient replaces the HTTP client used for checks.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Poller) {
		if client != nil {
			p.client = client
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPoller returns a Poller with the default policy.
func NewPoller(opts ...Option) *Poller {
	p := &Poller{
		client:            &http.Client{Timeout: DefaultRequestTimeout},
		logger:            slog.Default(),
		interval:          DefaultInterval,
		minBodySize:       DefaultMinBodySize,
		requiredSuccesses: DefaultRequiredSuccesses,
		settleDelay:       DefaultSettleDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WaitReady checks url up to maxAttempts times. It returns nil after the
// required number of consecutive qualifying responses followed by the
// settle delay, and a model.KindReadinessTimeout error naming the attempt
// count when the budget runs out. Any non-qualifying check resets the
// count.
func (p *Poller) WaitReady(ctx context.Context, url string, maxAttempts int) error {
	const op = "readiness.WaitReady"

	p.logger.Info("waiting for upstream", "url", url)

	successes := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		size, err := p.check(ctx, url)
		switch {
		case err != nil:
			successes = 0
			p.logger.Debug("upstream not ready",
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"reason", err)
		case size <= p.minBodySize:
			successes = 0
			p.logger.Debug("upstream answered with incomplete content",
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"size", size)
		default:
			successes++
			p.logger.Debug("upstream answered with content",
				"check", successes,
				"required", p.requiredSuccesses,
				"attempt", attempt)
			if successes >= p.requiredSuccesses {
				if err := sleep(ctx, p.settleDelay); err != nil {
					return err
				}
				p.logger.Info("upstream is ready", "url", url, "attempts", attempt)
				return nil
			}
		}

		if attempt < maxAttempts {
			if err := sleep(ctx, p.interval); err != nil {
				return err
			}
		}
	}

	return model.NewError(model.KindReadinessTimeout, op,
		fmt.Sprintf("upstream not ready after %d attempts", maxAttempts), nil)
}

// check performs one request and returns the body size of a 2xx/3xx
// response. Other statuses and transport failures are errors.
func (p *Poller) check(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // draining only
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read body: %w", err)
	}
	return int(n), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
