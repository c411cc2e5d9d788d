package model

import (
	"encoding/base32"
	"errors"
	"net"
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"
)

// OnionAddress errors.
var (
	// ErrInvalidOnionAddress is returned when the address format or checksum is invalid.
	ErrInvalidOnionAddress = errors.New("invalid onion address")
	// ErrEmptyOnionAddress is returned when the address is empty.
	ErrEmptyOnionAddress = errors.New("onion address cannot be empty")
	// ErrInvalidOnionPort is returned when the virtual port is out of range.
	ErrInvalidOnionPort = errors.New("onion port must be between 1 and 65535")
)

const (
	// onionSuffix is the .onion TLD suffix.
	onionSuffix = ".onion"
	// v3AddressLength is the length of a v3 onion address (without .onion).
	v3AddressLength = 56
	// v3Version is the trailing version byte of a v3 address.
	v3Version = 0x03
	// ed25519PublicKeySize is the size of the identity key embedded in a v3 address.
	ed25519PublicKeySize = 32
)

// checksumPrefix is the constant prepended to the checksum input by the
// rend-spec-v3 address encoding.
var checksumPrefix = []byte(".onion checksum")

// OnionAddress is an immutable value object for a published onion service:
// the v3 host name and the virtual port it is exposed on.
type OnionAddress struct {
	host string // "<56 base32 chars>.onion"
	port int    // virtual port exposed on the onion service
}

// NewOnionAddress validates a v3 host name (with or without the .onion
// suffix, any case) including its checksum, and pairs it with port.
func NewOnionAddress(host string, port int) (OnionAddress, error) {
	if strings.TrimSpace(host) == "" {
		return OnionAddress{}, ErrEmptyOnionAddress
	}
	if port <= 0 || port > 65535 {
		return OnionAddress{}, ErrInvalidOnionPort
	}

	normalized := strings.ToLower(strings.TrimSpace(host))
	if !strings.HasSuffix(normalized, onionSuffix) {
		normalized += onionSuffix
	}
	if !IsValidV3Host(normalized) {
		return OnionAddress{}, ErrInvalidOnionAddress
	}

	return OnionAddress{host: normalized, port: port}, nil
}

// ParseOnionAddress parses the "<host>.onion:<port>" textual form.
// A leading http:// or https:// scheme is tolerated.
func ParseOnionAddress(s string) (OnionAddress, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimSuffix(s, "/")
	if s == "" {
		return OnionAddress{}, ErrEmptyOnionAddress
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return OnionAddress{}, ErrInvalidOnionAddress
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return OnionAddress{}, ErrInvalidOnionPort
	}
	return NewOnionAddress(host, port)
}

// IsValidV3Host reports whether host is a v3 onion host name with a
// correct version byte and checksum. host must be lowercase and carry the
// .onion suffix.
func IsValidV3Host(host string) bool {
	base := strings.TrimSuffix(host, onionSuffix)
	if len(base) != v3AddressLength || base+onionSuffix != host || !isValidBase32(base) {
		return false
	}

	decoded, err := base32.StdEncoding.DecodeString(strings.ToUpper(base))
	if err != nil || len(decoded) != ed25519PublicKeySize+3 {
		return false
	}

	pubkey := decoded[:ed25519PublicKeySize]
	checksum := decoded[ed25519PublicKeySize : ed25519PublicKeySize+2]
	version := decoded[ed25519PublicKeySize+2]
	if version != v3Version {
		return false
	}

	expected := v3Checksum(pubkey, version)
	return checksum[0] == expected[0] && checksum[1] == expected[1]
}

// ComputeV3Host derives the v3 onion host name from an ed25519 public key.
func ComputeV3Host(pubkey []byte) (string, error) {
	if len(pubkey) != ed25519PublicKeySize {
		return "", ErrInvalidOnionAddress
	}

	data := make([]byte, 0, ed25519PublicKeySize+3)
	data = append(data, pubkey...)
	data = append(data, v3Checksum(pubkey, v3Version)...)
	data = append(data, v3Version)

	return strings.ToLower(base32.StdEncoding.EncodeToString(data)) + onionSuffix, nil
}

// v3Checksum returns the first two bytes of
// SHA3-256(".onion checksum" || pubkey || version).
func v3Checksum(pubkey []byte, version byte) []byte {
	data := make([]byte, 0, len(checksumPrefix)+len(pubkey)+1)
	data = append(data, checksumPrefix...)
	data = append(data, pubkey...)
	data = append(data, version)

	hash := sha3.Sum256(data)
	return hash[:2]
}

// isValidBase32 checks if a string contains only lowercase base32 characters.
func isValidBase32(s string) bool {
	for _, c := range s {
		isLowerLetter := c >= 'a' && c <= 'z'
		isBase32Digit := c >= '2' && c <= '7'
		if !isLowerLetter && !isBase32Digit {
			return false
		}
	}
	return true
}

// Host returns the onion host name including the .onion suffix.
func (o OnionAddress) Host() string {
	return o.host
}

// ServiceID returns the host name without the .onion suffix, as used by
// Tor's ADD_ONION and DEL_ONION commands.
func (o OnionAddress) ServiceID() string {
	return strings.TrimSuffix(o.host, onionSuffix)
}

// Port returns the virtual port.
func (o OnionAddress) Port() int {
	return o.port
}

// String returns the "<host>.onion:<port>" textual form.
func (o OnionAddress) String() string {
	if o.IsZero() {
		return ""
	}
	return net.JoinHostPort(o.host, strconv.Itoa(o.port))
}

// URL returns the address prefixed with http:// unless it already carries a scheme.
func (o OnionAddress) URL() string {
	if o.IsZero() {
		return ""
	}
	return WithHTTPScheme(o.String())
}

// IsZero returns true if this is a zero value (empty) OnionAddress.
func (o OnionAddress) IsZero() bool {
	return o.host == ""
}

// Equals returns true if two OnionAddress values are equal.
func (o OnionAddress) Equals(other OnionAddress) bool {
	return o.host == other.host && o.port == other.port
}

// WithHTTPScheme prefixes addr with http:// unless it already starts with
// http:// or https://.
func WithHTTPScheme(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}
