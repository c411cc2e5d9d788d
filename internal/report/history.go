package report

import (
	"time"

	"github.com/nao1215/onionhost/internal/database"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Publication states shown in reports.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"

	// StatusEnded marks an older publication without a recorded stop,
	// i.e. the process ended without shutting down cleanly.
	StatusEnded = "ended"
)

// History is the publication history of one nickname (or of all nicknames
// when Nickname is empty), newest publication first.
type History struct {
	Nickname     string                 `json:"nickname,omitempty"`
	GeneratedAt  time.Time              `json:"generated_at"`
	Publications []database.Publication `json:"publications"`
}

// NewHistory creates a History stamped with the current time.
func NewHistory(nickname string, pubs []database.Publication) *History {
	if pubs == nil {
		pubs = []database.Publication{}
	}
	return &History{
		Nickname:     nickname,
		GeneratedAt:  time.Now(),
		Publications: pubs,
	}
}

// CurrentHost returns the host of the newest publication, or "" when empty.
func (h *History) CurrentHost() string {
	if len(h.Publications) == 0 {
		return ""
	}
	return h.Publications[0].OnionHost
}

// AddressChanges counts how often consecutive publications of the same
// nickname carried a different onion host.
func (h *History) AddressChanges() int {
	last := make(map[string]string)
	changes := 0
	// Walk oldest to newest.
	for i := len(h.Publications) - 1; i >= 0; i-- {
		p := h.Publications[i]
		if prev, ok := last[p.Nickname]; ok && prev != p.OnionHost {
			changes++
		}
		last[p.Nickname] = p.OnionHost
	}
	return changes
}

// HostCounts returns how many publications used each host, in order of
// first appearance from newest to oldest.
func (h *History) HostCounts() ([]string, map[string]int) {
	counts := make(map[string]int)
	var hosts []string
	for _, p := range h.Publications {
		if _, ok := counts[p.OnionHost]; !ok {
			hosts = append(hosts, p.OnionHost)
		}
		counts[p.OnionHost]++
	}
	return hosts, counts
}

// Status returns the state of the i-th publication.
// Only the newest publication of a nickname can still be running.
func (h *History) Status(i int) string {
	p := h.Publications[i]
	if !p.StoppedAt.IsZero() {
		return StatusStopped
	}
	for j := 0; j < i; j++ {
		if h.Publications[j].Nickname == p.Nickname {
			return StatusEnded
		}
	}
	return StatusRunning
}

// statusTitle returns the status for display, e.g. "Running".
// A Caser is stateful, so one is created per call.
func (h *History) statusTitle(i int) string {
	return cases.Title(language.English).String(h.Status(i))
}
