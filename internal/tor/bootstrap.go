package tor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/nao1215/tornago"

	"github.com/nao1215/onionhost/internal/model"
)

const (
	// defaultStartupTimeout bounds daemon launch plus network bootstrap.
	defaultStartupTimeout = 3 * time.Minute
	// defaultControlTimeout is the per-command ControlPort timeout.
	defaultControlTimeout = 30 * time.Second
	// defaultBootstrapPollInterval is how often bootstrap progress is queried.
	defaultBootstrapPollInterval = 500 * time.Millisecond
	// bootstrapComplete is the PROGRESS value Tor reports when it can build circuits.
	bootstrapComplete = 100
)

// bootstrapProgressPattern extracts PROGRESS=NN from status/bootstrap-phase.
var bootstrapProgressPattern = regexp.MustCompile(`PROGRESS=(\d+)`)

// DefaultDataDir returns the default Tor data directory,
// $XDG_DATA_HOME/onionhost/tor.
func DefaultDataDir() string {
	return filepath.Join(xdg.DataHome, "onionhost", "tor")
}

// onionController is the subset of tornago.ControlClient the Client uses.
type onionController interface {
	GetInfo(ctx context.Context, key string) (string, error)
	CreateHiddenService(ctx context.Context, cfg tornago.HiddenServiceConfig) (tornago.HiddenService, error)
}

// Client is a bootstrapped Tor client. It is safe for concurrent use;
// ControlPort commands are serialized by tornago.
type Client struct {
	dataDir     string
	socksAddr   string
	controlAddr string

	// process is nil when attached to an external daemon.
	process *tornago.TorProcess
	tor     *tornago.Client
	control onionController
	keys    *KeyStore
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

// options holds Bootstrap settings.
type options struct {
	dataDir               string
	startupTimeout        time.Duration
	controlTimeout        time.Duration
	bootstrapPollInterval time.Duration
	logger                *slog.Logger
	externalSocksAddr     string
	externalControlAddr   string
	controlPassword       string
}

// Option configures Bootstrap.
type Option func(*options)

// WithDataDir sets the Tor data directory. Key material is stored below it.
func WithDataDir(dir string) Option {
	return func(o *options) {
		o.dataDir = dir
	}
}

// WithStartupTimeout bounds how long Bootstrap waits for Tor to become usable.
func WithStartupTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.startupTimeout = timeout
		}
	}
}

// WithControlTimeout sets the per-command ControlPort timeout.
func WithControlTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.controlTimeout = timeout
		}
	}
}

// WithLogger sets the logger. Tor's own log lines are forwarded to it at
// debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithExternalTor attaches to a running Tor daemon instead of launching one.
// Cookie authentication is used unless WithControlPassword is also given.
func WithExternalTor(socksAddr, controlAddr string) Option {
	return func(o *options) {
		o.externalSocksAddr = socksAddr
		o.externalControlAddr = controlAddr
	}
}

// WithControlPassword authenticates to an external ControlPort with a password.
func WithControlPassword(password string) Option {
	return func(o *options) {
		o.controlPassword = password
	}
}

func defaultOptions() options {
	return options{
		dataDir:               DefaultDataDir(),
		startupTimeout:        defaultStartupTimeout,
		controlTimeout:        defaultControlTimeout,
		bootstrapPollInterval: defaultBootstrapPollInterval,
		logger:                slog.Default(),
	}
}

// Bootstrap prepares the data directory, starts or attaches to Tor,
// authenticates to its ControlPort and waits until Tor has finished
// bootstrapping. All failures are reported as model.KindBootstrap errors.
//
// Starting an embedded daemon typically takes between a few seconds and a
// couple of minutes, depending on the state of the data directory.
func Bootstrap(ctx context.Context, opts ...Option) (*Client, error) {
	const op = "tor.Bootstrap"

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if err := PrepareDataDir(o.dataDir); err != nil {
		return nil, err
	}

	c := &Client{
		dataDir: o.dataDir,
		keys:    NewKeyStore(o.dataDir),
		logger:  o.logger,
	}

	if o.externalControlAddr != "" {
		c.socksAddr = o.externalSocksAddr
		c.controlAddr = o.externalControlAddr
		o.logger.Info("using external Tor daemon",
			"socks", c.socksAddr,
			"control", c.controlAddr)
	} else {
		process, err := startDaemon(o)
		if err != nil {
			return nil, model.NewError(model.KindBootstrap, op, "failed to start Tor daemon", err)
		}
		c.process = process
		c.socksAddr = process.SocksAddr()
		c.controlAddr = process.ControlAddr()
		o.logger.Info("Tor daemon started",
			"socks", c.socksAddr,
			"control", c.controlAddr,
			"data_dir", o.dataDir)
	}

	if err := c.connect(o); err != nil {
		_ = c.Close() //nolint:errcheck // already failing
		return nil, model.NewError(model.KindBootstrap, op, "failed to connect to Tor control port", err)
	}

	if err := c.waitBootstrapped(ctx, o.startupTimeout, o.bootstrapPollInterval); err != nil {
		_ = c.Close() //nolint:errcheck // already failing
		return nil, model.NewError(model.KindBootstrap, op, "Tor did not finish bootstrapping", err)
	}

	o.logger.Info("Tor bootstrap complete")
	return c, nil
}

// startDaemon launches tor with random SOCKS and control ports.
func startDaemon(o options) (*tornago.TorProcess, error) {
	logger := o.logger
	launchCfg, err := tornago.NewTorLaunchConfig(
		tornago.WithTorDataDir(o.dataDir),
		tornago.WithTorSocksAddr(":0"),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(o.startupTimeout),
		tornago.WithTorLogger(tornago.NewSlogAdapter(logger)),
		tornago.WithTorLogReporter(func(line string) {
			logger.Debug("tor", "line", strings.TrimSpace(line))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid Tor launch config: %w", err)
	}
	return tornago.StartTorDaemon(launchCfg)
}

// connect authenticates to the ControlPort and builds the tornago client.
func (c *Client) connect(o options) error {
	clientOpts := []tornago.ClientOption{
		tornago.WithClientControlAddr(c.controlAddr),
	}
	if c.socksAddr != "" {
		clientOpts = append(clientOpts, tornago.WithClientSocksAddr(c.socksAddr))
	}

	if o.controlPassword != "" {
		clientOpts = append(clientOpts, tornago.WithClientControlPassword(o.controlPassword))
	} else {
		auth, cookiePath, err := tornago.ControlAuthFromTor(c.controlAddr, o.startupTimeout)
		if err != nil {
			return err
		}
		c.logger.Debug("authenticated with control cookie", "path", cookiePath)
		clientOpts = append(clientOpts, tornago.WithClientControlCookieBytes(auth.CookieBytes()))
	}

	cfg, err := tornago.NewClientConfig(clientOpts...)
	if err != nil {
		return err
	}
	client, err := tornago.NewClient(cfg)
	if err != nil {
		return err
	}
	c.tor = client

	control := client.Control()
	if control == nil {
		return ErrNoControlPort
	}
	if err := control.Authenticate(); err != nil {
		return err
	}
	c.control = control
	return nil
}

// waitBootstrapped polls status/bootstrap-phase until PROGRESS=100.
func (c *Client) waitBootstrapped(ctx context.Context, timeout, interval time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := -1
	for {
		phase, err := c.control.GetInfo(ctx, "status/bootstrap-phase")
		if err == nil {
			progress, ok := parseBootstrapProgress(phase)
			if ok && progress != last {
				c.logger.Debug("Tor bootstrap progress", "percent", progress)
				last = progress
			}
			if ok && progress >= bootstrapComplete {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("%w (last error: %w)", ctx.Err(), err)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// parseBootstrapProgress extracts the percentage from a bootstrap-phase line
// such as `NOTICE BOOTSTRAP PROGRESS=100 TAG=done SUMMARY="Done"`.
func parseBootstrapProgress(phase string) (int, bool) {
	m := bootstrapProgressPattern.FindStringSubmatch(phase)
	if m == nil {
		return 0, false
	}
	progress, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return progress, true
}

// DataDir returns the Tor data directory.
func (c *Client) DataDir() string { return c.dataDir }

// SocksAddr returns the SOCKS5 address of the Tor daemon.
func (c *Client) SocksAddr() string { return c.socksAddr }

// ControlAddr returns the ControlPort address of the Tor daemon.
func (c *Client) ControlAddr() string { return c.controlAddr }

// KeyStore returns the store holding onion service keys.
func (c *Client) KeyStore() *KeyStore { return c.keys }

// Embedded reports whether the Client owns the Tor process.
func (c *Client) Embedded() bool { return c.process != nil }

// Health reports the daemon's health. For an external daemon only the
// client connection is checked.
func (c *Client) Health(ctx context.Context) tornago.HealthCheck {
	if c.process != nil {
		return tornago.CheckTorDaemon(ctx, c.process)
	}
	return c.tor.Check(ctx)
}

// Close shuts down the ControlPort connection and, when the Client owns
// it, the Tor daemon. Files in the data directory are left in place.
// Close is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var firstErr error
	if c.tor != nil {
		if err := c.tor.Close(); err != nil {
			firstErr = err
		}
	}
	if c.process != nil {
		if err := c.process.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
