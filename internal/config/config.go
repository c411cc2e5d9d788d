package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
// These values follow what a typical self-hosted blog expects: the upstream
// listens on its default port and is published as a plain HTTP onion on port 80.
const (
	// DefaultUpstreamPort is the port of the local web service to publish.
	// 2368 is the default port of a Ghost blog, the service this tool was
	// originally built around.
	DefaultUpstreamPort = 2368

	// DefaultOnionPort is the virtual port visitors use on the onion address.
	DefaultOnionPort = 80

	// DefaultNickname is the onion service nickname. The nickname selects the
	// persisted key, so it must stay stable across restarts to keep the address.
	DefaultNickname = "onionhost_hs"

	// DefaultReadinessAttempts is the number of readiness probes before the
	// upstream is reported as failed. With a 2 second interval this gives a
	// freshly installed upstream roughly 80 seconds to initialize.
	DefaultReadinessAttempts = 40

	// DefaultTorStartupTimeout is the maximum time to wait for the embedded
	// Tor daemon to bootstrap. 3 minutes is typically sufficient for most
	// network conditions, but may need to be increased for slow connections.
	DefaultTorStartupTimeout = 3 * time.Minute

	// DefaultMaxProxyConnections bounds concurrent connections accepted by the
	// local reverse proxy.
	DefaultMaxProxyConnections = 256

	// DefaultMaxBridgeConnections bounds concurrent rendezvous connections
	// relayed from Tor to the local reverse proxy.
	DefaultMaxBridgeConnections = 256

	// DefaultSelfCheckTimeout is how long the optional self check may take to
	// fetch the published address through Tor. Fresh descriptors often need
	// a minute or more before they are reachable.
	DefaultSelfCheckTimeout = 2 * time.Minute

	// AppName is the application name used for XDG directory paths.
	AppName = "onionhost"
)

// Config holds all configuration options for onionhost.
// This struct is populated from the configuration file and CLI flags and
// passed through the application rather than kept in global state.
type Config struct {
	// UpstreamPort is the port of the local HTTP service on 127.0.0.1.
	UpstreamPort int

	// OnionPort is the virtual port exposed on the onion address.
	OnionPort int

	// Nickname identifies the onion service key in the key store.
	Nickname string

	// TorDataDir holds Tor state and the onion_services key store.
	// Defaults to the XDG data directory (~/.local/share/onionhost/tor on Linux).
	TorDataDir string

	// TorStartupTimeout is the maximum time to wait for Tor to bootstrap.
	TorStartupTimeout time.Duration

	// UseExternalTor disables the embedded Tor daemon and connects to an
	// existing Tor instance at TorSocksAddress and TorControlAddress.
	UseExternalTor bool

	// TorSocksAddress is the SOCKS5 address of an external Tor instance.
	TorSocksAddress string

	// TorControlAddress is the ControlPort address of an external Tor instance.
	// Publishing an onion service requires ControlPort access.
	TorControlAddress string

	// TorControlPassword authenticates against an external ControlPort that
	// uses HashedControlPassword. Leave empty for cookie authentication.
	TorControlPassword string

	// ReadinessURL is the URL polled until the upstream is initialized.
	// When empty it is derived from UpstreamPort.
	ReadinessURL string

	// ReadinessAttempts is the number of probes before giving up.
	ReadinessAttempts int

	// SkipReadiness disables upstream readiness polling entirely.
	SkipReadiness bool

	// MaxProxyConnections bounds concurrent proxy connections.
	MaxProxyConnections int

	// MaxBridgeConnections bounds concurrent rendezvous relays.
	MaxBridgeConnections int

	// SelfCheck fetches the published onion URL through Tor after publishing.
	SelfCheck bool

	// SelfCheckTimeout bounds the self check request.
	SelfCheckTimeout time.Duration

	// DBDir is the directory of the publication ledger database.
	// When empty, publications are not recorded.
	DBDir string

	// SaveToDB indicates whether publications are recorded in the ledger.
	SaveToDB bool

	// Verbose enables debug logging.
	Verbose bool

	// JSONLog switches the log output to JSON lines.
	JSONLog bool

	// ConfigFilePath is the path to the configuration file.
	// If empty, the tool searches for .onionhost in the current directory
	// and then in the user's home directory.
	ConfigFilePath string

	// JSONReport renders history output as JSON.
	// Mutually exclusive with MarkdownReport.
	JSONReport bool

	// MarkdownReport renders history output as Markdown.
	// Mutually exclusive with JSONReport.
	MarkdownReport bool

	// ReportFile is the output file path for history reports.
	// When set, the report is written to this file instead of stdout.
	ReportFile string
}

// NewConfig creates a new Config with default values.
// Many defaults are non-zero (ports, timeouts), so callers start from here
// and override what they need.
func NewConfig() *Config {
	return &Config{
		UpstreamPort:         DefaultUpstreamPort,
		OnionPort:            DefaultOnionPort,
		Nickname:             DefaultNickname,
		TorDataDir:           DefaultTorDataDir(),
		TorStartupTimeout:    DefaultTorStartupTimeout,
		ReadinessAttempts:    DefaultReadinessAttempts,
		MaxProxyConnections:  DefaultMaxProxyConnections,
		MaxBridgeConnections: DefaultMaxBridgeConnections,
		SelfCheckTimeout:     DefaultSelfCheckTimeout,
		DBDir:                XDGDataDir(),
		SaveToDB:             true,
	}
}

// XDGDataDir returns the XDG data directory for onionhost.
// On Linux: ~/.local/share/onionhost
// On macOS: ~/Library/Application Support/onionhost
// On Windows: %LOCALAPPDATA%\onionhost
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for onionhost.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// DefaultTorDataDir returns the default Tor data directory, a "tor"
// subdirectory of the XDG data directory.
func DefaultTorDataDir() string {
	return filepath.Join(XDGDataDir(), "tor")
}

// ReadinessTarget returns the URL polled for upstream readiness.
func (c *Config) ReadinessTarget() string {
	if c.ReadinessURL != "" {
		return c.ReadinessURL
	}
	return fmt.Sprintf("http://127.0.0.1:%d/", c.UpstreamPort)
}

// Validate checks if the configuration is valid.
// It returns the first problem found as a sentinel error, so callers can
// match it with errors.Is.
func (c *Config) Validate() error {
	if !validPort(c.UpstreamPort) {
		return ErrInvalidUpstreamPort
	}
	if !validPort(c.OnionPort) {
		return ErrInvalidOnionPort
	}
	if c.TorDataDir == "" {
		return ErrNoTorDataDir
	}
	if c.TorStartupTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.UseExternalTor && (c.TorSocksAddress == "" || c.TorControlAddress == "") {
		return ErrIncompleteExternalTor
	}
	if !c.SkipReadiness && c.ReadinessAttempts <= 0 {
		return ErrInvalidReadinessAttempts
	}
	if c.MaxProxyConnections <= 0 || c.MaxBridgeConnections <= 0 {
		return ErrInvalidConnectionLimit
	}
	if c.SelfCheck && c.SelfCheckTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	return nil
}

func validPort(port int) bool {
	return port >= 1 && port <= 65535
}
