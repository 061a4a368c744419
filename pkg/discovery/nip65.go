// Package discovery implements relay-list discovery: querying a peer's
// preferred relays, publishing our own list, and probing relay health.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ostia/ostia-node/pkg/nostr"
	"github.com/ostia/ostia-node/pkg/relay"
)

const (
	queryTimeout       = 10 * time.Second
	healthCheckTimeout = 5 * time.Second
	// Settle delay between connecting write targets and publishing.
	publishSettleDelay = 500 * time.Millisecond
)

var ErrPublishFailed = errors.New("relay list not accepted by any relay")

// RelayListEntry is one relay from a user's relay-list metadata.
type RelayListEntry struct {
	URL   string `json:"url"`
	Read  bool   `json:"read"`
	Write bool   `json:"write"`
}

// HealthStatus classifies the outcome of a relay health probe.
type HealthStatus string

const (
	HealthInvalid      HealthStatus = "invalid"
	HealthDisconnected HealthStatus = "disconnected"
	HealthConnected    HealthStatus = "connected"
)

// HealthResult is the outcome of probing a single relay.
type HealthResult struct {
	URL    string       `json:"url"`
	Status HealthStatus `json:"status"`
	Reason string       `json:"reason,omitempty"`
}

// IsPublicRelayURL reports whether a relay url is usable for cross-device
// messaging. Blocked private ranges are dropped; loopback is explicitly
// permitted so tunnelled local relays keep working, and 10.0.2.2 is allowed
// for the emulator's host loopback.
func IsPublicRelayURL(url string) bool {
	lower := strings.ToLower(url)

	if strings.Contains(lower, "10.0.2.2") {
		return true
	}
	// 10.0.0.0/8
	for i := 0; i <= 255; i++ {
		prefix := fmt.Sprintf("10.%d.", i)
		if strings.Contains(lower, "//"+prefix) || strings.Contains(lower, "@"+prefix) ||
			strings.HasPrefix(lower, prefix) || strings.Contains(lower, "://"+prefix) {
			return false
		}
	}
	// 172.16.0.0/12
	for i := 16; i <= 31; i++ {
		if strings.Contains(lower, fmt.Sprintf("172.%d.", i)) {
			return false
		}
	}
	// localhost, 127.0.0.1, ::1, link-local 169.254 and RFC1918 192.168
	// stay usable for port-forwarded local testing.
	return true
}

// Manager performs relay-list discovery against the live pool.
type Manager struct {
	pool relay.Pool
	log  *zap.Logger
}

// NewManager creates a discovery manager over the given pool.
func NewManager(pool relay.Pool, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{pool: pool, log: log}
}

// parseRelayTags extracts relay entries from an event's r-tags. A tag with
// no qualifier grants both read and write; otherwise any qualifier
// containing "read"/"write" sets the respective flag. Blocked private
// addresses are dropped.
func parseRelayTags(ev *nostr.Event) []RelayListEntry {
	var entries []RelayListEntry
	for _, tag := range ev.Tags {
		if len(tag) < 2 || tag[0] != "r" {
			continue
		}
		url := tag[1]
		if !IsPublicRelayURL(url) {
			continue
		}
		qualifiers := tag[2:]
		read := len(qualifiers) == 0
		write := len(qualifiers) == 0
		for _, q := range qualifiers {
			if strings.Contains(q, "read") {
				read = true
			}
			if strings.Contains(q, "write") {
				write = true
			}
		}
		entries = append(entries, RelayListEntry{URL: url, Read: read, Write: write})
	}
	return entries
}

// QueryUserRelays fetches the latest relay-list metadata authored by pubkey.
func (m *Manager) QueryUserRelays(ctx context.Context, pubkey string, timeout time.Duration) ([]RelayListEntry, error) {
	pubHex, _, err := nostr.ParsePublicKey(pubkey)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = queryTimeout
	}

	filter := nostr.Filter{
		Kinds:   []int{nostr.KindRelayList},
		Authors: []string{pubHex},
		Limit:   1,
	}
	events, err := m.pool.Fetch(ctx, []nostr.Filter{filter}, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch relay list: %w", err)
	}

	latest := latestEvent(events)
	if latest == nil {
		return nil, nil
	}
	return parseRelayTags(latest), nil
}

// QueryMultipleUsersRelays fetches relay lists for several authors in one
// pass and merges them by url, OR-ing the read/write flags so the most
// permissive capability wins.
func (m *Manager) QueryMultipleUsersRelays(ctx context.Context, pubkeys []string, timeout time.Duration) ([]RelayListEntry, error) {
	authors := make([]string, 0, len(pubkeys))
	for _, pk := range pubkeys {
		pubHex, _, err := nostr.ParsePublicKey(pk)
		if err != nil {
			return nil, err
		}
		authors = append(authors, pubHex)
	}
	if timeout <= 0 {
		timeout = queryTimeout
	}

	filter := nostr.Filter{
		Kinds:   []int{nostr.KindRelayList},
		Authors: authors,
		Limit:   len(authors),
	}
	events, err := m.pool.Fetch(ctx, []nostr.Filter{filter}, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch relay lists: %w", err)
	}

	merged := make(map[string]*RelayListEntry)
	for _, ev := range events {
		for _, entry := range parseRelayTags(ev) {
			cur, ok := merged[entry.URL]
			if !ok {
				e := entry
				merged[entry.URL] = &e
				continue
			}
			cur.Read = cur.Read || entry.Read
			cur.Write = cur.Write || entry.Write
		}
	}

	out := make([]RelayListEntry, 0, len(merged))
	for _, e := range merged {
		out = append(out, *e)
	}
	return out, nil
}

// PublishRelayList signs and publishes our relay-list metadata. The event is
// sent individually to every write-capable relay with per-target acks;
// success requires at least one acceptance.
func (m *Manager) PublishRelayList(ctx context.Context, entries []RelayListEntry, keys *nostr.Keys) (string, error) {
	var tags []nostr.Tag
	for _, entry := range entries {
		if !entry.Read && !entry.Write {
			continue
		}
		if !IsPublicRelayURL(entry.URL) {
			m.log.Warn("not publishing private relay address", zap.String("url", entry.URL))
			continue
		}
		tag := nostr.Tag{"r", entry.URL}
		if entry.Read && !entry.Write {
			tag = append(tag, "read")
		} else if entry.Write && !entry.Read {
			tag = append(tag, "write")
		}
		tags = append(tags, tag)
	}

	ev := &nostr.Event{Kind: nostr.KindRelayList, Tags: tags}
	if err := ev.Sign(keys); err != nil {
		return "", err
	}

	// Targets are the write-capable relays; a literal localhost entry gets
	// a 127.0.0.1 shadow because some hosts resolve localhost to ::1 while
	// the relay only listens on IPv4.
	var targets []string
	for _, entry := range entries {
		if !entry.Write {
			continue
		}
		targets = append(targets, entry.URL)
		if err := m.pool.AddRelay(entry.URL); err != nil {
			m.log.Warn("failed to add publish target", zap.String("url", entry.URL), zap.Error(err))
		}
		if strings.Contains(entry.URL, "localhost") {
			shadow := strings.Replace(entry.URL, "localhost", "127.0.0.1", 1)
			targets = append(targets, shadow)
			_ = m.pool.AddRelay(shadow)
		}
	}

	m.pool.Connect(ctx)
	time.Sleep(publishSettleDelay)

	success := 0
	for _, url := range targets {
		if err := m.pool.PublishTo(ctx, url, ev); err != nil {
			m.log.Warn("relay list publish failed", zap.String("url", url), zap.Error(err))
			continue
		}
		m.log.Info("relay list published", zap.String("url", url))
		success++
	}
	if success == 0 {
		return "", ErrPublishFailed
	}
	return ev.ID, nil
}

// CheckRelayHealth classifies a relay as invalid, disconnected or connected
// by attempting an add+connect within a 5-second bound. A failing localhost
// url is retried once against 127.0.0.1.
func (m *Manager) CheckRelayHealth(ctx context.Context, url string) HealthResult {
	url = strings.TrimSpace(url)
	if url == "" {
		return HealthResult{URL: url, Status: HealthInvalid, Reason: "empty url"}
	}
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return HealthResult{URL: url, Status: HealthInvalid, Reason: "url must start with ws:// or wss://"}
	}

	if err := m.pool.AddRelay(url); err != nil {
		return HealthResult{URL: url, Status: HealthInvalid, Reason: err.Error()}
	}

	probeCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := m.pool.ConnectRelay(probeCtx, url); err == nil {
		return HealthResult{URL: url, Status: HealthConnected}
	}

	if strings.Contains(url, "localhost") {
		fallback := strings.Replace(url, "localhost", "127.0.0.1", 1)
		if fallback != url && m.pool.AddRelay(fallback) == nil {
			retryCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			defer cancel()
			if err := m.pool.ConnectRelay(retryCtx, fallback); err == nil {
				return HealthResult{URL: url, Status: HealthConnected}
			}
		}
	}

	return HealthResult{URL: url, Status: HealthDisconnected, Reason: "connect failed or timed out"}
}

// CheckRelaysHealth probes several relays sequentially.
func (m *Manager) CheckRelaysHealth(ctx context.Context, urls []string) []HealthResult {
	results := make([]HealthResult, 0, len(urls))
	for _, url := range urls {
		results = append(results, m.CheckRelayHealth(ctx, url))
	}
	return results
}

func latestEvent(events []*nostr.Event) *nostr.Event {
	var latest *nostr.Event
	for _, ev := range events {
		if latest == nil || ev.CreatedAt > latest.CreatedAt {
			latest = ev
		}
	}
	return latest
}
