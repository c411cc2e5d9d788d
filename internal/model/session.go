package model

import "time"

// Session accumulates the state produced while the startup pipeline runs.
// Each pipeline step reads what earlier steps recorded and adds its own
// results, so the step order is visible in which fields are populated.
type Session struct {
	// StartedAt is when the pipeline began.
	StartedAt time.Time

	// Nickname is the fixed service identifier used for key persistence.
	Nickname string

	// UpstreamPort is the local port of the web service being exposed.
	UpstreamPort int

	// ProxyPort is the ephemeral port the local reverse proxy bound.
	// Zero until the proxy step has run.
	ProxyPort int

	// OnionPort is the virtual port exposed on the onion address.
	OnionPort int

	// OnionAddress is the published address. Zero until the publish step has run.
	OnionAddress OnionAddress

	// PreviousAddress is the last address recorded for the same nickname,
	// if any. It differs from OnionAddress only when key material was lost.
	PreviousAddress string

	// CompletedSteps lists the names of steps that finished successfully.
	CompletedSteps []string

	// Error holds the error of the step that aborted the pipeline.
	Error error `json:"-"`

	// ErrorMessage is the string form of Error for serialization.
	ErrorMessage string
}

// NewSession creates a session for exposing upstreamPort on onionPort.
func NewSession(nickname string, upstreamPort, onionPort int) *Session {
	return &Session{
		StartedAt:      time.Now(),
		Nickname:       nickname,
		UpstreamPort:   upstreamPort,
		OnionPort:      onionPort,
		CompletedSteps: make([]string, 0),
	}
}

// AddressChanged reports whether a previously recorded address exists and
// differs from the one published in this session.
func (s *Session) AddressChanged() bool {
	return s.PreviousAddress != "" && !s.OnionAddress.IsZero() &&
		s.PreviousAddress != s.OnionAddress.String()
}
