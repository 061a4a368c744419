package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ostia/ostia-node/pkg/messaging"
	"github.com/ostia/ostia-node/pkg/nostr"
	"github.com/ostia/ostia-node/pkg/relay"
	"github.com/ostia/ostia-node/pkg/storage"
)

func newTestServer(t *testing.T, backend *relay.MemoryBackend) (*Server, *messaging.Service) {
	t.Helper()

	store, err := storage.Open(filepath.Join(t.TempDir(), "api.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	manager := relay.NewManager(nil)
	require.NoError(t, manager.AddRelay("ws://test"))

	svc := messaging.New(relay.SharedBackend(backend), manager, store, nil)
	t.Cleanup(svc.Close)

	return NewServer(svc, DefaultConfig(), nil), svc
}

func doJSON(t *testing.T, server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	return w
}

func TestAPIInitializeAndSend(t *testing.T) {
	backend := relay.NewMemoryBackend()
	server, _ := newTestServer(t, backend)

	keys, err := nostr.GenerateKeys()
	require.NoError(t, err)
	receiver, err := nostr.GenerateKeys()
	require.NoError(t, err)

	t.Run("send before initialize conflicts", func(t *testing.T) {
		w := doJSON(t, server, "POST", "/api/v1/messages/send", map[string]string{
			"receiver": receiver.PublicKeyHex(),
			"content":  "too early",
		})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("initialize", func(t *testing.T) {
		w := doJSON(t, server, "POST", "/api/v1/initialize", map[string]string{
			"secret_key": keys.SecretHex(),
		})
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, keys.PublicKeyHex(), resp["pubkey"])
	})

	t.Run("send", func(t *testing.T) {
		w := doJSON(t, server, "POST", "/api/v1/messages/send", map[string]string{
			"receiver": receiver.PublicKeyHex(),
			"content":  "hello over http",
		})
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp["id"])
	})

	t.Run("send to bad pubkey", func(t *testing.T) {
		w := doJSON(t, server, "POST", "/api/v1/messages/send", map[string]string{
			"receiver": "garbage",
			"content":  "x",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("list messages", func(t *testing.T) {
		w := doJSON(t, server, "GET", "/api/v1/messages/"+receiver.PublicKeyHex(), nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Messages []*storage.MessageRecord `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Messages, 1)
		assert.Equal(t, "hello over http", resp.Messages[0].Content)
	})
}

func TestAPIKeyGeneration(t *testing.T) {
	server, _ := newTestServer(t, relay.NewMemoryBackend())

	w := doJSON(t, server, "POST", "/api/v1/keys/generate", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp["pubkey"], 64)
	assert.Len(t, resp["secret_key"], 64)
	assert.Contains(t, resp["npub"], "npub1")
	assert.Contains(t, resp["nsec"], "nsec1")
}

func TestAPIRelayAdmin(t *testing.T) {
	server, _ := newTestServer(t, relay.NewMemoryBackend())

	t.Run("add relay", func(t *testing.T) {
		w := doJSON(t, server, "POST", "/api/v1/relays", map[string]string{
			"url": "ws://added.example",
		})
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("add invalid relay", func(t *testing.T) {
		w := doJSON(t, server, "POST", "/api/v1/relays", map[string]string{
			"url": "http://nope",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("statuses include added relay", func(t *testing.T) {
		w := doJSON(t, server, "GET", "/api/v1/relays", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Relays map[string]relay.Status `json:"relays"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Contains(t, resp.Relays, "ws://added.example")
	})

	t.Run("set bad mode", func(t *testing.T) {
		w := doJSON(t, server, "PUT", "/api/v1/relays/mode", map[string]string{
			"mode": "bogus",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("remove relay", func(t *testing.T) {
		w := doJSON(t, server, "DELETE", "/api/v1/relays?url=ws://added.example", nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestAPISessions(t *testing.T) {
	server, _ := newTestServer(t, relay.NewMemoryBackend())

	t.Run("import and export", func(t *testing.T) {
		keyHex := fmt.Sprintf("%064x", 42)
		w := doJSON(t, server, "POST", "/api/v1/sessions", map[string]string{
			"peer": "peer-a",
			"key":  keyHex,
		})
		require.Equal(t, http.StatusNoContent, w.Code)

		w = doJSON(t, server, "GET", "/api/v1/sessions/peer-a", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, keyHex, resp["key"])
	})

	t.Run("bad key rejected", func(t *testing.T) {
		w := doJSON(t, server, "POST", "/api/v1/sessions", map[string]string{
			"peer": "peer-b",
			"key":  "short",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("delete", func(t *testing.T) {
		w := doJSON(t, server, "DELETE", "/api/v1/sessions/peer-a", nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestAPIContacts(t *testing.T) {
	server, _ := newTestServer(t, relay.NewMemoryBackend())

	peer, err := nostr.GenerateKeys()
	require.NoError(t, err)

	w := doJSON(t, server, "POST", "/api/v1/contacts", map[string]string{
		"pubkey": peer.PublicKeyHex(),
	})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, server, "POST", "/api/v1/contacts", map[string]string{
		"pubkey": "garbage",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, server, "GET", "/api/v1/contacts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Contacts []*storage.Contact `json:"contacts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Contacts, 1)
	assert.Equal(t, peer.PublicKeyHex(), resp.Contacts[0].PubKey)
}

// closeNotifyRecorder adds the http.CloseNotifier method that gin's
// Context.Stream requires but httptest.ResponseRecorder lacks.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *closeNotifyRecorder) CloseNotify() <-chan bool { return r.closed }

func TestAPINotificationsStream(t *testing.T) {
	backend := relay.NewMemoryBackend()
	server, svc := newTestServer(t, backend)

	bobKeys, err := nostr.GenerateKeys()
	require.NoError(t, err)
	require.NoError(t, svc.Initialize(context.Background(), bobKeys.SecretHex()))

	// A second engine on the same relay network plays the sender.
	store, err := storage.Open(filepath.Join(t.TempDir(), "peer.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	manager := relay.NewManager(nil)
	require.NoError(t, manager.AddRelay("ws://test"))
	alice := messaging.New(relay.SharedBackend(backend), manager, store, nil)
	t.Cleanup(alice.Close)
	aliceKeys, err := nostr.GenerateKeys()
	require.NoError(t, err)
	require.NoError(t, alice.Initialize(context.Background(), aliceKeys.SecretHex()))

	require.NoError(t, svc.AddContact(aliceKeys.PublicKeyHex()))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/api/v1/notifications", nil).WithContext(ctx)
	w := &closeNotifyRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool)}

	done := make(chan struct{})
	go func() {
		server.Router().ServeHTTP(w, req)
		close(done)
	}()

	require.Eventually(t, svc.Listening, 2*time.Second, 10*time.Millisecond)

	_, err = alice.Send(context.Background(), bobKeys.PublicKeyHex(), "stream me")
	require.NoError(t, err)

	// The record lands in the store before the event is flushed.
	require.Eventually(t, func() bool {
		msgs, err := svc.Messages(aliceKeys.PublicKeyHex(), 10)
		return err == nil && len(msgs) == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	assert.Contains(t, body, "event:notification")
	assert.Contains(t, body, "stream me")
}

func TestAPIHealth(t *testing.T) {
	server, _ := newTestServer(t, relay.NewMemoryBackend())
	w := doJSON(t, server, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
