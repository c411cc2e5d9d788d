package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/onionhost/internal/config"
	"github.com/nao1215/onionhost/internal/database"
	"github.com/nao1215/onionhost/internal/hiddenservice"
	"github.com/nao1215/onionhost/internal/model"
	"github.com/nao1215/onionhost/internal/proxy"
	"github.com/nao1215/onionhost/internal/tor"
)

// externalProxyCheckTimeout bounds the SOCKS check of an external Tor.
const externalProxyCheckTimeout = 10 * time.Second

// TorClient is the part of tor.Client the pipeline depends on.
type TorClient interface {
	hiddenservice.Launcher
	SocksAddr() string
	Embedded() bool
	Close() error
}

// BootstrapFunc starts or attaches to Tor.
type BootstrapFunc func(ctx context.Context) (TorClient, error)

// PublicationLedger records published addresses across runs.
type PublicationLedger interface {
	LatestPublication(ctx context.Context, nickname string) (*database.Publication, error)
	RecordPublication(ctx context.Context, pub *database.Publication) (int64, error)
	MarkStopped(ctx context.Context, id int64, at time.Time) error
}

// Fetcher issues a request through Tor and reports the status code.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (int, error)
}

// FetcherFactory builds a Fetcher for the given SOCKS address.
type FetcherFactory func(socksAddr string, timeout time.Duration) (Fetcher, error)

// Runtime holds the resources acquired by the steps. Steps add to it as
// they succeed; Close releases whatever was acquired, in reverse order.
type Runtime struct {
	mu sync.Mutex

	Proxy   *proxy.Proxy
	Tor     TorClient
	Manager *hiddenservice.Manager

	// PublicationID is the ledger row of this run, zero when not recorded.
	PublicationID int64
}

// Close stops the onion service, shuts Tor down and closes the proxy.
// It is safe to call more than once.
func (rt *Runtime) Close(ctx context.Context) error {
	rt.mu.Lock()
	manager, torClient, px := rt.Manager, rt.Tor, rt.Proxy
	rt.Manager, rt.Tor, rt.Proxy = nil, nil, nil
	rt.mu.Unlock()

	var errs []error
	if manager != nil {
		if err := manager.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop onion service: %w", err))
		}
	}
	if torClient != nil {
		if err := torClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Tor: %w", err))
		}
	}
	if px != nil {
		if err := px.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close proxy: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (rt *Runtime) torClient() TorClient {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.Tor
}

// BindProxyStep starts the local reverse proxy on an ephemeral loopback port.
type BindProxyStep struct {
	rt     *Runtime
	opts   []proxy.Option
	logger *slog.Logger
}

// NewBindProxyStep creates the proxy step. The proxy lives until the
// runtime is closed, not until ctx of Do is done.
func NewBindProxyStep(rt *Runtime, logger *slog.Logger, opts ...proxy.Option) *BindProxyStep {
	return &BindProxyStep{rt: rt, opts: opts, logger: logger}
}

// Name returns the step name.
func (s *BindProxyStep) Name() string {
	return "bind_proxy"
}

// Do binds the proxy and records its port in the session.
func (s *BindProxyStep) Do(ctx context.Context, session *model.Session) error {
	px, err := proxy.Start(context.WithoutCancel(ctx), session.UpstreamPort, s.opts...)
	if err != nil {
		return err
	}

	s.rt.mu.Lock()
	s.rt.Proxy = px
	s.rt.mu.Unlock()

	session.ProxyPort = px.Port()
	s.logger.Info("local proxy listening",
		"address", px.Addr(),
		"upstream_port", session.UpstreamPort)
	return nil
}

// BootstrapTorStep starts or attaches to Tor.
type BootstrapTorStep struct {
	rt        *Runtime
	bootstrap BootstrapFunc
}

// NewBootstrapTorStep creates the Tor bootstrap step.
func NewBootstrapTorStep(rt *Runtime, bootstrap BootstrapFunc) *BootstrapTorStep {
	return &BootstrapTorStep{rt: rt, bootstrap: bootstrap}
}

// Name returns the step name.
func (s *BootstrapTorStep) Name() string {
	return "bootstrap_tor"
}

// Do runs the bootstrap function and stores the client in the runtime.
func (s *BootstrapTorStep) Do(ctx context.Context, _ *model.Session) error {
	client, err := s.bootstrap(ctx)
	if err != nil {
		return err
	}

	s.rt.mu.Lock()
	s.rt.Tor = client
	s.rt.mu.Unlock()
	return nil
}

// DefaultBootstrap returns a BootstrapFunc that calls tor.Bootstrap with
// the settings in cfg.
func DefaultBootstrap(cfg *config.Config, logger *slog.Logger) BootstrapFunc {
	return func(ctx context.Context) (TorClient, error) {
		opts := []tor.Option{
			tor.WithDataDir(cfg.TorDataDir),
			tor.WithStartupTimeout(cfg.TorStartupTimeout),
			tor.WithLogger(logger),
		}
		if cfg.UseExternalTor {
			if err := checkExternalProxy(ctx, cfg.TorSocksAddress); err != nil {
				return nil, err
			}
			opts = append(opts,
				tor.WithExternalTor(cfg.TorSocksAddress, cfg.TorControlAddress),
				tor.WithControlPassword(cfg.TorControlPassword))
		}

		client, err := tor.Bootstrap(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// checkExternalProxy confirms that a Tor SOCKS proxy answers at addr
// before the ControlPort is contacted.
func checkExternalProxy(ctx context.Context, addr string) error {
	const op = "pipeline.checkExternalProxy"

	prober, err := tor.NewProber(addr, externalProxyCheckTimeout)
	if err != nil {
		return model.NewError(model.KindConfig, op, "invalid external Tor SOCKS address", err)
	}
	if status := prober.CheckConnection(ctx); status != tor.ProxyStatusOK {
		return model.NewError(model.KindBootstrap, op,
			fmt.Sprintf("tor proxy check failed: %s (make sure Tor is running at %s)", status, addr),
			status.Error())
	}
	return nil
}

// PublishOnionStep publishes the onion service and bridges it to the proxy.
type PublishOnionStep struct {
	rt          *Runtime
	dataDir     string
	managerOpts []hiddenservice.Option
}

// NewPublishOnionStep creates the publish step.
func NewPublishOnionStep(rt *Runtime, dataDir string, opts ...hiddenservice.Option) *PublishOnionStep {
	return &PublishOnionStep{rt: rt, dataDir: dataDir, managerOpts: opts}
}

// Name returns the step name.
func (s *PublishOnionStep) Name() string {
	return "publish_onion"
}

// Do starts a manager against the bootstrapped Tor client. The proxy step
// must have run before.
func (s *PublishOnionStep) Do(ctx context.Context, session *model.Session) error {
	const op = "PublishOnionStep.Do"

	torClient := s.rt.torClient()
	if torClient == nil || session.ProxyPort == 0 {
		return model.NewError(model.KindLaunch, op, "proxy and Tor must be ready before publishing", nil)
	}

	cfg, err := hiddenservice.NewConfig(s.dataDir, session.ProxyPort, session.OnionPort, session.Nickname)
	if err != nil {
		return err
	}

	manager := hiddenservice.NewManager(cfg, s.managerOpts...)
	if err := manager.Start(ctx, torClient, session.ProxyPort, session.OnionPort); err != nil {
		return err
	}

	s.rt.mu.Lock()
	s.rt.Manager = manager
	s.rt.mu.Unlock()

	session.OnionAddress = manager.OnionAddress()
	return nil
}

// RecordPublicationStep stores the published address in the ledger and
// compares it with the previous run. Ledger failures are logged only.
type RecordPublicationStep struct {
	rt     *Runtime
	ledger PublicationLedger
	logger *slog.Logger
}

// NewRecordPublicationStep creates the ledger step.
func NewRecordPublicationStep(rt *Runtime, ledger PublicationLedger, logger *slog.Logger) *RecordPublicationStep {
	return &RecordPublicationStep{rt: rt, ledger: ledger, logger: logger}
}

// Name returns the step name.
func (s *RecordPublicationStep) Name() string {
	return "record_publication"
}

// Do records the publication.
func (s *RecordPublicationStep) Do(ctx context.Context, session *model.Session) error {
	if s.ledger == nil || session.OnionAddress.IsZero() {
		return nil
	}

	previous, err := s.ledger.LatestPublication(ctx, session.Nickname)
	if err != nil {
		s.logger.Warn("failed to read previous publication", "error", err)
	} else if previous != nil {
		session.PreviousAddress = fmt.Sprintf("%s:%d", previous.OnionHost, previous.OnionPort)
	}

	if session.AddressChanged() {
		s.logger.Warn("onion address changed since the last run, key material may have been lost",
			"previous", session.PreviousAddress,
			"current", session.OnionAddress.String())
	}

	external := false
	if client := s.rt.torClient(); client != nil {
		external = !client.Embedded()
	}

	id, err := s.ledger.RecordPublication(ctx, &database.Publication{
		Nickname:     session.Nickname,
		OnionHost:    session.OnionAddress.Host(),
		OnionPort:    session.OnionAddress.Port(),
		UpstreamPort: session.UpstreamPort,
		ExternalTor:  external,
	})
	if err != nil {
		s.logger.Warn("failed to record publication", "error", err)
		return nil
	}

	s.rt.mu.Lock()
	s.rt.PublicationID = id
	s.rt.mu.Unlock()
	return nil
}

// SelfCheckStep fetches the published onion URL through Tor. A service can
// take a while to become reachable after publication, so failures are
// logged and the pipeline continues.
type SelfCheckStep struct {
	rt         *Runtime
	newFetcher FetcherFactory
	timeout    time.Duration
	logger     *slog.Logger
}

// NewSelfCheckStep creates the self-check step. A nil factory uses a
// SOCKS prober.
func NewSelfCheckStep(rt *Runtime, newFetcher FetcherFactory, timeout time.Duration, logger *slog.Logger) *SelfCheckStep {
	if newFetcher == nil {
		newFetcher = socksFetcher
	}
	return &SelfCheckStep{rt: rt, newFetcher: newFetcher, timeout: timeout, logger: logger}
}

func socksFetcher(socksAddr string, timeout time.Duration) (Fetcher, error) {
	prober, err := tor.NewProber(socksAddr, timeout)
	if err != nil {
		return nil, err
	}
	return prober, nil
}

// Name returns the step name.
func (s *SelfCheckStep) Name() string {
	return "self_check"
}

// Do fetches the onion URL once.
func (s *SelfCheckStep) Do(ctx context.Context, session *model.Session) error {
	client := s.rt.torClient()
	if client == nil || session.OnionAddress.IsZero() {
		return nil
	}

	fetcher, err := s.newFetcher(client.SocksAddr(), s.timeout)
	if err != nil {
		s.logger.Warn("self-check skipped", "error", err)
		return nil
	}

	checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	url := session.OnionAddress.URL()
	status, err := fetcher.Fetch(checkCtx, url)
	if err != nil {
		s.logger.Warn("onion service not reachable through Tor yet", "url", url, "error", err)
		return nil
	}
	s.logger.Info("onion service reachable through Tor", "url", url, "status", status)
	return nil
}
