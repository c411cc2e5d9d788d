package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/tornago"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/onionhost/internal/config"
	"github.com/nao1215/onionhost/internal/event"
	"github.com/nao1215/onionhost/internal/hiddenservice"
	"github.com/nao1215/onionhost/internal/model"
	"github.com/nao1215/onionhost/internal/proxy"
	"github.com/nao1215/onionhost/internal/readiness"
)

// Orchestrator brings an onion service up. It runs the startup pipeline
// and, next to it, waits for the upstream web service to become ready.
// Both outcomes are published on the event bus.
type Orchestrator struct {
	cfg         *config.Config
	logger      *slog.Logger
	bus         *event.Bus
	ledger      PublicationLedger
	bootstrap   BootstrapFunc
	poller      *readiness.Poller
	newFetcher  FetcherFactory
	proxyOpts   []proxy.Option
	managerOpts []hiddenservice.Option
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger sets the logger used by the orchestrator and every step.
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithBus sets the bus that receives startup events.
func WithBus(bus *event.Bus) OrchestratorOption {
	return func(o *Orchestrator) {
		o.bus = bus
	}
}

// WithLedger enables recording publications.
func WithLedger(ledger PublicationLedger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.ledger = ledger
	}
}

// WithBootstrapper replaces the default tor.Bootstrap call.
func WithBootstrapper(bootstrap BootstrapFunc) OrchestratorOption {
	return func(o *Orchestrator) {
		o.bootstrap = bootstrap
	}
}

// WithPoller replaces the default readiness poller.
func WithPoller(poller *readiness.Poller) OrchestratorOption {
	return func(o *Orchestrator) {
		o.poller = poller
	}
}

// WithFetcherFactory replaces the SOCKS prober used by the self-check.
func WithFetcherFactory(factory FetcherFactory) OrchestratorOption {
	return func(o *Orchestrator) {
		o.newFetcher = factory
	}
}

// WithProxyOptions adds options for the local proxy.
func WithProxyOptions(opts ...proxy.Option) OrchestratorOption {
	return func(o *Orchestrator) {
		o.proxyOpts = append(o.proxyOpts, opts...)
	}
}

// WithManagerOptions adds options for the hidden service manager.
func WithManagerOptions(opts ...hiddenservice.Option) OrchestratorOption {
	return func(o *Orchestrator) {
		o.managerOpts = append(o.managerOpts, opts...)
	}
}

// NewOrchestrator creates an Orchestrator for cfg. cfg is expected to be
// validated.
func NewOrchestrator(cfg *config.Config, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{cfg: cfg}
	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.bus == nil {
		o.bus = event.New()
	}
	if o.bootstrap == nil {
		o.bootstrap = DefaultBootstrap(cfg, o.logger)
	}
	if o.poller == nil {
		o.poller = readiness.NewPoller(readiness.WithLogger(o.logger))
	}
	return o
}

// Bus returns the bus startup events are published on.
func (o *Orchestrator) Bus() *event.Bus {
	return o.bus
}

// newPipeline assembles the startup steps in their required order: the
// proxy port has to exist before the onion service can forward to it.
func (o *Orchestrator) newPipeline(rt *Runtime) *Pipeline {
	p := New(WithLogger(o.logger))

	proxyOpts := append([]proxy.Option{
		proxy.WithLogger(o.logger),
		proxy.WithMaxConnections(o.cfg.MaxProxyConnections),
	}, o.proxyOpts...)
	managerOpts := append([]hiddenservice.Option{
		hiddenservice.WithLogger(o.logger),
		hiddenservice.WithMaxRelays(o.cfg.MaxBridgeConnections),
	}, o.managerOpts...)

	p.AddSteps(
		NewBindProxyStep(rt, o.logger, proxyOpts...),
		NewBootstrapTorStep(rt, o.bootstrap),
		NewPublishOnionStep(rt, o.cfg.TorDataDir, managerOpts...),
		NewRecordPublicationStep(rt, o.ledger, o.logger),
	)
	if o.cfg.SelfCheck {
		p.AddStep(NewSelfCheckStep(rt, o.newFetcher, o.cfg.SelfCheckTimeout, o.logger))
	}
	return p
}

// Run starts the service and returns once the pipeline has finished and
// readiness polling has concluded. A readiness failure is reported on the
// bus but does not fail Run. When the pipeline fails, every acquired
// resource is released and the error is returned.
func (o *Orchestrator) Run(ctx context.Context) (*Service, error) {
	session := model.NewSession(o.cfg.Nickname, o.cfg.UpstreamPort, o.cfg.OnionPort)
	rt := &Runtime{}
	p := o.newPipeline(rt)

	// errgroup.WithContext would cancel on return, which readiness must not
	// outlive but the proxy and bridge must.
	readyCtx, cancelReady := context.WithCancel(ctx)
	defer cancelReady()

	var g errgroup.Group
	if !o.cfg.SkipReadiness {
		g.Go(func() error {
			o.waitUpstream(readyCtx)
			return nil
		})
	}
	g.Go(func() error {
		if err := p.Execute(ctx, session); err != nil {
			cancelReady()
			o.bus.Publish(event.HiddenServiceFailed, err.Error())
			return err
		}
		o.bus.Publish(event.HiddenServiceReady, session.OnionAddress.URL())
		return nil
	})

	if err := g.Wait(); err != nil {
		if closeErr := rt.Close(context.WithoutCancel(ctx)); closeErr != nil {
			o.logger.Warn("failed to release resources", "error", closeErr)
		}
		return nil, err
	}

	return &Service{
		session: session,
		rt:      rt,
		manager: rt.Manager,
		done:    rt.Manager.Done(),
		proxy:   rt.Proxy,
		tor:     rt.Tor,
		ledger:  o.ledger,
		logger:  o.logger,
	}, nil
}

func (o *Orchestrator) waitUpstream(ctx context.Context) {
	target := o.cfg.ReadinessTarget()
	err := o.poller.WaitReady(ctx, target, o.cfg.ReadinessAttempts)
	switch {
	case ctx.Err() != nil:
		return
	case err != nil:
		o.logger.Warn("upstream did not become ready", "url", target, "error", err)
		o.bus.Publish(event.UpstreamFailed, err.Error())
	default:
		o.bus.Publish(event.UpstreamReady, target)
	}
}

// Service is a running onion service.
type Service struct {
	session *model.Session
	rt      *Runtime
	manager *hiddenservice.Manager
	done    <-chan struct{}
	proxy   *proxy.Proxy
	tor     TorClient
	ledger  PublicationLedger
	logger  *slog.Logger

	stopOnce sync.Once
	stopErr  error
}

var _ hiddenservice.Status = (*Service)(nil)

// Session returns the startup session.
func (s *Service) Session() *model.Session {
	return s.session
}

// OnionURL returns the published URL while the service runs.
func (s *Service) OnionURL() (string, bool) {
	return s.manager.OnionURL()
}

// IsRunning reports whether the onion service is still forwarding.
func (s *Service) IsRunning() bool {
	return s.manager.IsRunning()
}

// Status returns the read-only view of the hidden service manager.
func (s *Service) Status() hiddenservice.Status {
	return s.manager
}

// ProxyPort returns the local proxy port.
func (s *Service) ProxyPort() int {
	return s.session.ProxyPort
}

// ProxyDone is closed when the local proxy stops serving.
func (s *Service) ProxyDone() <-chan struct{} {
	return s.proxy.Done()
}

// Done is closed when the onion service stops bridging connections.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

// Stop removes the onion service, shuts Tor down and closes the proxy.
// The publication is marked stopped in the ledger. Later calls return the
// result of the first.
func (s *Service) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.stopErr = s.rt.Close(ctx)

		s.rt.mu.Lock()
		id := s.rt.PublicationID
		s.rt.mu.Unlock()

		if s.ledger != nil && id != 0 {
			if err := s.ledger.MarkStopped(ctx, id, time.Now()); err != nil {
				s.logger.Warn("failed to mark publication stopped", "error", err)
			}
		}
		s.logger.Info("onion service stopped", "nickname", s.session.Nickname)
	})
	return s.stopErr
}

// healthReporter is implemented by Tor clients that can report daemon health.
type healthReporter interface {
	Health(ctx context.Context) tornago.HealthCheck
}

// MonitorHealth checks Tor every interval and logs the result until ctx is
// done. It returns at once when the Tor client cannot report its health.
func (s *Service) MonitorHealth(ctx context.Context, interval time.Duration) {
	reporter, ok := s.tor.(healthReporter)
	if !ok || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logHealth(reporter.Health(ctx))
		}
	}
}

func (s *Service) logHealth(health tornago.HealthCheck) {
	switch {
	case health.IsHealthy():
		s.logger.Debug("tor healthy", "latency", health.Latency())
	case health.IsDegraded():
		s.logger.Warn("tor degraded", "message", health.Message(), "latency", health.Latency())
	default:
		s.logger.Error("tor unhealthy", "status", health.Status(), "message", health.Message())
	}
}
