// Package relay manages the tracked relay set and the live connection pool
// used to publish, subscribe and fetch events.
package relay

import (
	"errors"
	"strings"
	"sync"
)

var (
	ErrInvalidURL  = errors.New("relay url must start with ws:// or wss://")
	ErrInvalidMode = errors.New("unknown relay mode")
)

// Mode controls which relays the manager considers active.
type Mode string

const (
	// ModeHybrid unions the default relay set with user-added relays.
	ModeHybrid Mode = "hybrid"
	// ModeExclusive uses only user-added relays.
	ModeExclusive Mode = "exclusive"
)

// State is the connection state of a tracked relay.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateFailed       State = "failed"
)

// Status pairs a state with an optional failure reason.
type Status struct {
	State  State
	Reason string
}

// Manager is pure bookkeeping over the tracked relay set: urls, mode and
// per-relay status. It performs no network I/O.
type Manager struct {
	mu            sync.RWMutex
	mode          Mode
	defaultRelays []string
	customRelays  []string
	statuses      map[string]Status
}

// NewManager starts in exclusive mode with no built-in relays; callers add
// their own or supply a default set for hybrid mode.
func NewManager(defaultRelays []string) *Manager {
	return &Manager{
		mode:          ModeExclusive,
		defaultRelays: append([]string(nil), defaultRelays...),
		statuses:      make(map[string]Status),
	}
}

// AddRelay tracks a relay url. Adding an already tracked url is a no-op.
func (m *Manager) AddRelay(url string) error {
	url = strings.TrimSpace(url)
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return ErrInvalidURL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.customRelays {
		if r == url {
			return nil
		}
	}
	m.customRelays = append(m.customRelays, url)
	return nil
}

// RemoveRelay stops tracking a relay url.
func (m *Manager) RemoveRelay(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.customRelays[:0]
	for _, r := range m.customRelays {
		if r != url {
			kept = append(kept, r)
		}
	}
	m.customRelays = kept
	delete(m.statuses, url)
}

// SetMode switches between hybrid and exclusive relay selection.
func (m *Manager) SetMode(mode Mode) error {
	if mode != ModeHybrid && mode != ModeExclusive {
		return ErrInvalidMode
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
	return nil
}

// Mode returns the current selection mode.
func (m *Manager) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// ActiveRelays returns the relay set implied by the current mode.
func (m *Manager) ActiveRelays() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.mode == ModeHybrid {
		out := append([]string(nil), m.defaultRelays...)
		for _, r := range m.customRelays {
			dup := false
			for _, d := range out {
				if d == r {
					dup = true
					break
				}
			}
			if !dup {
				out = append(out, r)
			}
		}
		return out
	}
	return append([]string(nil), m.customRelays...)
}

// DefaultRelays returns the built-in set used in hybrid mode.
func (m *Manager) DefaultRelays() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.defaultRelays...)
}

// CustomRelays returns the user-added set.
func (m *Manager) CustomRelays() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.customRelays...)
}

// UpdateStatus records the latest observed status for a relay.
func (m *Manager) UpdateStatus(url string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[url] = status
}

// Status returns the last recorded status for a relay.
func (m *Manager) Status(url string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[url]
	return s, ok
}

// AllStatuses returns a snapshot of every recorded relay status.
func (m *Manager) AllStatuses() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.statuses))
	for url, s := range m.statuses {
		out[url] = s
	}
	return out
}
