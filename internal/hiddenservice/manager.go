package hiddenservice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/onionhost/internal/model"
)

// State is the lifecycle state of a Manager.
type State int

const (
	// StateNotStarted is the initial state.
	StateNotStarted State = iota
	// StateRunning means an onion service is published and bridged.
	StateRunning
	// StateStopped is terminal.
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	// defaultMaxRelays bounds concurrently bridged rendezvous connections.
	defaultMaxRelays = 256
	// defaultDialTimeout bounds connecting to the local target.
	defaultDialTimeout = 10 * time.Second
)

// Manager publishes one onion service and bridges it to a local port.
// It is safe for concurrent use.
type Manager struct {
	config      Config
	logger      *slog.Logger
	maxRelays   int64
	dialTimeout time.Duration

	// startMu serializes Start and Stop so that a slow launch never runs
	// concurrently with teardown.
	startMu sync.Mutex

	mu      sync.RWMutex
	state   State
	address model.OnionAddress
	rule    ForwardRule
	bridge  *bridge
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used by the manager and its bridge.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMaxRelays bounds how many rendezvous connections are relayed at once.
func WithMaxRelays(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxRelays = int64(n)
		}
	}
}

// WithDialTimeout sets the timeout for connecting to the local target.
func WithDialTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.dialTimeout = d
		}
	}
}

// NewManager returns a Manager in the NotStarted state.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		config:      cfg,
		logger:      slog.Default(),
		maxRelays:   defaultMaxRelays,
		dialTimeout: defaultDialTimeout,
		state:       StateNotStarted,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the manager's configuration.
func (m *Manager) Config() Config {
	return m.config
}

// Start publishes an onion service through launcher and bridges its
// virtual port onionPort to 127.0.0.1:localProxyPort.
//
// On any failure the manager stays NotStarted and every resource acquired
// during the attempt is released.
func (m *Manager) Start(ctx context.Context, launcher Launcher, localProxyPort, onionPort int) error {
	const op = "Manager.Start"

	m.startMu.Lock()
	defer m.startMu.Unlock()

	switch m.State() {
	case StateRunning:
		return ErrAlreadyStarted
	case StateStopped:
		return ErrManagerStopped
	}

	rule, err := NewForwardRule(onionPort, localProxyPort)
	if err != nil {
		return err
	}

	service, err := launcher.LaunchOnionService(ctx, OnionServiceRequest{
		Nickname:  m.config.Nickname(),
		OnionPort: onionPort,
	})
	if err != nil {
		return model.NewError(model.KindLaunch, op, "failed to launch onion service", err)
	}

	name, err := service.OnionName()
	if err != nil {
		_ = service.Close() //nolint:errcheck // already failing
		return model.NewError(model.KindAddressResolution, op, "onion service has no address", err)
	}
	address, err := model.NewOnionAddress(name, onionPort)
	if err != nil {
		_ = service.Close() //nolint:errcheck // already failing
		return model.NewError(model.KindAddressResolution, op, "onion service returned an invalid address", err)
	}

	b := newBridge(service, rule.Target, m.maxRelays, m.dialTimeout, m.logger)
	// The bridge outlives Start, so it must not inherit the caller's deadline.
	b.start(context.WithoutCancel(ctx))

	m.mu.Lock()
	m.state = StateRunning
	m.address = address
	m.rule = rule
	m.bridge = b
	m.mu.Unlock()

	m.logger.Info("onion service published",
		"address", address.String(),
		"target", rule.Target)
	return nil
}

// Stop tears down the onion service and the bridge. It is idempotent and
// leaves the manager in the terminal Stopped state.
func (m *Manager) Stop(ctx context.Context) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.mu.Lock()
	b := m.bridge
	wasRunning := m.state == StateRunning
	m.state = StateStopped
	m.address = model.OnionAddress{}
	m.rule = ForwardRule{}
	m.bridge = nil
	m.mu.Unlock()

	if b == nil {
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.stop()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			m.logger.Warn("error while removing onion service", "error", err)
		}
		if wasRunning {
			m.logger.Info("onion service stopped")
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsRunning reports whether the manager is Running and its bridge is
// still accepting connections.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateRunning && m.bridge != nil && !m.bridge.finished()
}

// Done returns a channel that is closed when the running service stops
// bridging connections, whether through Stop or because the service was
// closed underneath. It is already closed when no service runs.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.bridge == nil {
		return closedChan
	}
	return m.bridge.done
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// OnionAddress returns the published address, or the zero value when no
// service is running.
func (m *Manager) OnionAddress() model.OnionAddress {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateRunning {
		return model.OnionAddress{}
	}
	return m.address
}

// OnionURL returns the published address with an http:// scheme.
// The boolean is false when no service is running.
func (m *Manager) OnionURL() (string, bool) {
	address := m.OnionAddress()
	if address.IsZero() {
		return "", false
	}
	return address.URL(), true
}

// ForwardRule returns the active forward rule.
func (m *Manager) ForwardRule() (ForwardRule, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rule, m.state == StateRunning
}

var _ Status = (*Manager)(nil)
