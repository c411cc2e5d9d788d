package config

import "time"

// File represents the structure of the .onionhost configuration file.
// Zero values mean "not set" and leave the corresponding Config field alone.
type File struct {
	// UpstreamPort is the port of the local web service.
	UpstreamPort int `yaml:"upstream_port,omitempty"`

	// OnionPort is the virtual port on the onion address.
	OnionPort int `yaml:"onion_port,omitempty"`

	// Nickname selects the persisted onion service key.
	Nickname string `yaml:"nickname,omitempty"`

	// Tor configures the Tor daemon or external Tor connection.
	Tor TorSection `yaml:"tor,omitempty"`

	// Readiness configures upstream readiness polling.
	Readiness ReadinessSection `yaml:"readiness,omitempty"`

	// Limits bounds concurrent connections.
	Limits LimitsSection `yaml:"limits,omitempty"`

	// SelfCheck enables fetching the onion URL through Tor after publishing.
	SelfCheck bool `yaml:"self_check,omitempty"`

	// DBDir overrides the publication ledger directory.
	DBDir string `yaml:"db_dir,omitempty"`
}

// TorSection holds Tor related settings.
type TorSection struct {
	DataDir        string        `yaml:"data_dir,omitempty"`
	StartupTimeout time.Duration `yaml:"startup_timeout,omitempty"`

	// External connects to an existing Tor instance instead of launching one.
	External ExternalTor `yaml:"external,omitempty"`
}

// ExternalTor holds the addresses of an existing Tor instance.
type ExternalTor struct {
	SocksAddress    string `yaml:"socks_address,omitempty"`
	ControlAddress  string `yaml:"control_address,omitempty"`
	ControlPassword string `yaml:"control_password,omitempty"`
}

// ReadinessSection holds readiness polling settings.
type ReadinessSection struct {
	URL      string `yaml:"url,omitempty"`
	Attempts int    `yaml:"attempts,omitempty"`
	Skip     bool   `yaml:"skip,omitempty"`
}

// LimitsSection holds connection bounds.
type LimitsSection struct {
	ProxyConnections  int `yaml:"proxy_connections,omitempty"`
	BridgeConnections int `yaml:"bridge_connections,omitempty"`
}

// Apply copies every value set in the file onto cfg.
// External Tor mode is enabled when the file names an external ControlPort.
func (f *File) Apply(cfg *Config) {
	if f.UpstreamPort != 0 {
		cfg.UpstreamPort = f.UpstreamPort
	}
	if f.OnionPort != 0 {
		cfg.OnionPort = f.OnionPort
	}
	if f.Nickname != "" {
		cfg.Nickname = f.Nickname
	}
	if f.Tor.DataDir != "" {
		cfg.TorDataDir = f.Tor.DataDir
	}
	if f.Tor.StartupTimeout != 0 {
		cfg.TorStartupTimeout = f.Tor.StartupTimeout
	}
	if ext := f.Tor.External; ext.ControlAddress != "" || ext.SocksAddress != "" {
		cfg.UseExternalTor = true
		cfg.TorSocksAddress = ext.SocksAddress
		cfg.TorControlAddress = ext.ControlAddress
		cfg.TorControlPassword = ext.ControlPassword
	}
	if f.Readiness.URL != "" {
		cfg.ReadinessURL = f.Readiness.URL
	}
	if f.Readiness.Attempts != 0 {
		cfg.ReadinessAttempts = f.Readiness.Attempts
	}
	if f.Readiness.Skip {
		cfg.SkipReadiness = true
	}
	if f.Limits.ProxyConnections != 0 {
		cfg.MaxProxyConnections = f.Limits.ProxyConnections
	}
	if f.Limits.BridgeConnections != 0 {
		cfg.MaxBridgeConnections = f.Limits.BridgeConnections
	}
	if f.SelfCheck {
		cfg.SelfCheck = true
	}
	if f.DBDir != "" {
		cfg.DBDir = f.DBDir
	}
}
