// Package messaging is the protocol engine: it owns the identity keys, the
// relay pool, the envelope encryption and the local store, and exposes the
// high level operations (initialize, send, sync, listen) the embedding
// application drives.
package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ostia/ostia-node/pkg/discovery"
	"github.com/ostia/ostia-node/pkg/encryption"
	"github.com/ostia/ostia-node/pkg/nostr"
	"github.com/ostia/ostia-node/pkg/relay"
	"github.com/ostia/ostia-node/pkg/storage"
)

const (
	initializeTimeout = 15 * time.Second
	relayModeKey      = "relay_mode"
	relayCustomKey    = "relay_custom_list"
)

// Store is the slice of the persistence layer the engine needs. It is
// satisfied by *storage.Store and by in-memory fakes in tests.
type Store interface {
	SaveMessage(msg *storage.MessageRecord) (bool, error)
	GetMessage(id string) (*storage.MessageRecord, error)
	ListMessages(peer string, limit int) ([]*storage.MessageRecord, error)
	UpdateMessageStatus(id string, status storage.MessageStatus) error
	MarkMessagesRead(ids []string) error
	MarkEventDeleted(eventID, deletedBy string) error
	IsEventDeleted(eventID string) (bool, error)
	UpsertContactProfile(c *storage.Contact) error
	TouchContact(pubkey string, seenAt int64) error
	GetContact(pubkey string) (*storage.Contact, error)
	ListContacts() ([]*storage.Contact, error)
	GetCache(key string) (string, bool, error)
	SetCache(key, value string, ttl time.Duration) error
	DeleteCache(key string) error
}

// Service is the messaging engine. One Service holds one identity; create a
// second Service for a second identity rather than re-initializing.
type Service struct {
	log       *zap.Logger
	pool      relay.Pool
	manager   *relay.Manager
	store     Store
	envelope  *encryption.Manager
	discovery *discovery.Manager
	limiter   *rateLimiter
	sync      *SyncManager

	mu          sync.Mutex
	keys        *nostr.Keys
	initialized bool
	boundSecret string // hex of the secret the service is bound to
	liveOut     chan Notification

	listenerRunning atomic.Bool
	monitorRunning  atomic.Bool
	monitorEvery    time.Duration
	monitorSettle   time.Duration
	done            chan struct{}
	closeOnce       sync.Once
}

// New assembles a Service over the given pool, bookkeeping manager and store.
func New(pool relay.Pool, manager *relay.Manager, store Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		log:           log,
		pool:          pool,
		manager:       manager,
		store:         store,
		envelope:      encryption.NewManager(log),
		limiter:       newRateLimiter(),
		monitorEvery:  monitorInterval,
		monitorSettle: monitorSettleDelay,
		done:          make(chan struct{}),
	}
	s.discovery = discovery.NewManager(pool, log)
	s.sync = newSyncManager(s)
	s.envelope.SetCache(store)
	return s
}

// Sync exposes the offline sync engine.
func (s *Service) Sync() *SyncManager { return s.sync }

// Sessions exposes the legacy session-key archive for administration.
func (s *Service) Sessions() *encryption.SessionArchive { return s.envelope.Sessions() }

// Discovery exposes the relay-list discovery manager.
func (s *Service) Discovery() *discovery.Manager { return s.discovery }

// Listening reports whether the live listener is running.
func (s *Service) Listening() bool { return s.listenerRunning.Load() }

// Keys returns the loaded identity keys, or nil before Initialize.
func (s *Service) Keys() *nostr.Keys {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys
}

// Initialize binds the service to an identity and connects the relay pool.
// Repeat calls with the currently bound secret are no-ops; a different secret
// rebinds the identity and runs the full pool rebuild again. Degraded relay
// health does not fail initialization: the health monitor is started instead
// and sends retry through it.
func (s *Service) Initialize(ctx context.Context, secretKey string) error {
	keys, err := nostr.ParseKeys(secretKey)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.initialized && s.boundSecret == keys.SecretHex() {
		s.mu.Unlock()
		return nil
	}
	rebinding := s.initialized
	s.keys = keys
	s.boundSecret = keys.SecretHex()
	s.mu.Unlock()

	if rebinding {
		s.log.Info("rebinding identity", zap.String("pubkey", keys.PublicKeyHex()))
	}

	s.loadRelayConfig()
	for _, url := range s.manager.ActiveRelays() {
		if err := s.pool.AddRelay(url); err != nil {
			s.log.Warn("failed to add relay", zap.String("url", url), zap.Error(err))
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, initializeTimeout)
	defer cancel()
	s.pool.Connect(connectCtx)

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()

	if !s.verifyRelayConnections() {
		s.log.Warn("relay pool degraded after initialize",
			zap.Int("connected", s.pool.ConnectedCount()),
			zap.Int("total", len(s.pool.Relays())))
		s.startHealthMonitor()
	}

	s.log.Info("messaging service initialized",
		zap.String("pubkey", keys.PublicKeyHex()),
		zap.Int("relays", len(s.pool.Relays())))
	return nil
}

func (s *Service) requireInit() (*nostr.Keys, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized || s.keys == nil {
		return nil, ErrNotInitialized
	}
	return s.keys, nil
}

// AddRelay registers a relay url, persists the configuration and connects it.
func (s *Service) AddRelay(ctx context.Context, url string) error {
	if err := s.manager.AddRelay(url); err != nil {
		return err
	}
	if err := s.pool.AddRelay(url); err != nil {
		return err
	}
	s.saveRelayConfig()
	return s.pool.ConnectRelay(ctx, url)
}

// RemoveRelay drops a relay from the configuration and the pool.
func (s *Service) RemoveRelay(url string) {
	s.manager.RemoveRelay(url)
	s.pool.RemoveRelay(url)
	s.saveRelayConfig()
}

// SetRelayMode switches between hybrid and exclusive relay selection and
// reconciles the pool with the resulting active set.
func (s *Service) SetRelayMode(ctx context.Context, mode relay.Mode) error {
	if err := s.manager.SetMode(mode); err != nil {
		return err
	}
	active := make(map[string]bool)
	for _, url := range s.manager.ActiveRelays() {
		active[url] = true
		if err := s.pool.AddRelay(url); err != nil {
			s.log.Warn("failed to add relay", zap.String("url", url), zap.Error(err))
		}
	}
	for _, url := range s.pool.Relays() {
		if !active[url] {
			s.pool.RemoveRelay(url)
		}
	}
	s.saveRelayConfig()
	s.pool.Connect(ctx)
	return nil
}

// RelayStatuses reports the bookkeeping view of every known relay.
func (s *Service) RelayStatuses() map[string]relay.Status {
	for _, url := range s.pool.Relays() {
		state := relay.StateDisconnected
		if s.pool.IsConnected(url) {
			state = relay.StateConnected
		}
		s.manager.UpdateStatus(url, relay.Status{State: state})
	}
	return s.manager.AllStatuses()
}

type relayConfig struct {
	Mode   relay.Mode `json:"mode"`
	Custom []string   `json:"custom"`
}

func (s *Service) saveRelayConfig() {
	cfg := relayConfig{Mode: s.manager.Mode(), Custom: s.manager.CustomRelays()}
	raw, err := json.Marshal(cfg.Custom)
	if err != nil {
		return
	}
	if err := s.store.SetCache(relayCustomKey, string(raw), 0); err != nil {
		s.log.Warn("failed to persist relay list", zap.Error(err))
	}
	if err := s.store.SetCache(relayModeKey, string(cfg.Mode), 0); err != nil {
		s.log.Warn("failed to persist relay mode", zap.Error(err))
	}
}

func (s *Service) loadRelayConfig() {
	if raw, ok, err := s.store.GetCache(relayCustomKey); err == nil && ok {
		var urls []string
		if err := json.Unmarshal([]byte(raw), &urls); err == nil {
			for _, url := range urls {
				if err := s.manager.AddRelay(url); err != nil {
					s.log.Warn("skipping persisted relay", zap.String("url", url), zap.Error(err))
				}
			}
		}
	}
	if mode, ok, err := s.store.GetCache(relayModeKey); err == nil && ok {
		if err := s.manager.SetMode(relay.Mode(mode)); err != nil {
			s.log.Warn("ignoring persisted relay mode", zap.String("mode", mode), zap.Error(err))
		}
	}
}

// notifyLive forwards a notification to the running listener channel, if
// any. The send happens under the lock that also clears liveOut before the
// channel closes, so it can never hit a closed channel.
func (s *Service) notifyLive(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.liveOut == nil {
		return
	}
	select {
	case s.liveOut <- n:
	default:
	}
}

// Messages returns the stored conversation with a peer, newest first.
func (s *Service) Messages(peer string, limit int) ([]*storage.MessageRecord, error) {
	pubHex, _, err := nostr.ParsePublicKey(peer)
	if err != nil {
		return nil, ErrInvalidTarget
	}
	return s.store.ListMessages(pubHex, limit)
}

// Contacts returns every known contact ordered by recent activity.
func (s *Service) Contacts() ([]*storage.Contact, error) {
	return s.store.ListContacts()
}

// AddContact records a peer as a known contact, admitting their messages
// through the default inbound whitelist.
func (s *Service) AddContact(pubkey string) error {
	pubHex, _, err := nostr.ParsePublicKey(pubkey)
	if err != nil {
		return ErrInvalidTarget
	}
	return s.store.TouchContact(pubHex, time.Now().Unix())
}

// Close stops background jobs and disconnects the pool.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.pool.Close()
	})
}
