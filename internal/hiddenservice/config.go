package hiddenservice

import (
	"fmt"
	"net"
	"regexp"
	"strconv"

	"github.com/nao1215/onionhost/internal/model"
)

// DefaultNickname is the service identifier used when none is configured.
const DefaultNickname = "onionhost_hs"

// nicknamePattern restricts nicknames to names that are safe as directory names.
var nicknamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Config is the immutable configuration of a Manager.
type Config struct {
	dataDir   string
	localPort int
	onionPort int
	nickname  string
}

// NewConfig validates and returns a Config. An empty nickname selects
// DefaultNickname.
func NewConfig(dataDir string, localPort, onionPort int, nickname string) (Config, error) {
	if nickname == "" {
		nickname = DefaultNickname
	}
	if err := ValidateNickname(nickname); err != nil {
		return Config{}, err
	}
	if err := validatePort("local port", localPort); err != nil {
		return Config{}, err
	}
	if err := validatePort("onion port", onionPort); err != nil {
		return Config{}, err
	}
	return Config{
		dataDir:   dataDir,
		localPort: localPort,
		onionPort: onionPort,
		nickname:  nickname,
	}, nil
}

// DataDir returns the Tor data directory holding the key material.
func (c Config) DataDir() string { return c.dataDir }

// LocalPort returns the configured local port.
func (c Config) LocalPort() int { return c.localPort }

// OnionPort returns the virtual port exposed on the onion address.
func (c Config) OnionPort() int { return c.onionPort }

// Nickname returns the fixed service identifier.
func (c Config) Nickname() string {
	if c.nickname == "" {
		return DefaultNickname
	}
	return c.nickname
}

// ValidateNickname reports a ConfigError when nickname cannot be used as a
// service identifier.
func ValidateNickname(nickname string) error {
	if !nicknamePattern.MatchString(nickname) {
		return model.NewError(model.KindConfig, "hiddenservice.ValidateNickname",
			fmt.Sprintf("invalid nickname %q: use 1-64 letters, digits, '_' or '-'", nickname), nil)
	}
	return nil
}

// ForwardRule maps the onion virtual port to a loopback target.
type ForwardRule struct {
	OnionPort int
	Target    string
}

// NewForwardRule builds the rule forwarding onionPort to 127.0.0.1:localPort.
func NewForwardRule(onionPort, localPort int) (ForwardRule, error) {
	if err := validatePort("onion port", onionPort); err != nil {
		return ForwardRule{}, err
	}
	if err := validatePort("local port", localPort); err != nil {
		return ForwardRule{}, err
	}
	return ForwardRule{
		OnionPort: onionPort,
		Target:    net.JoinHostPort("127.0.0.1", strconv.Itoa(localPort)),
	}, nil
}

func validatePort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return model.NewError(model.KindConfig, "hiddenservice.validatePort",
			fmt.Sprintf("%s %d out of range", name, port), nil)
	}
	return nil
}
