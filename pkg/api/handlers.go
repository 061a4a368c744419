package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ostia/ostia-node/pkg/discovery"
	"github.com/ostia/ostia-node/pkg/messaging"
	"github.com/ostia/ostia-node/pkg/nostr"
	"github.com/ostia/ostia-node/pkg/relay"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, messaging.ErrNotInitialized),
		errors.Is(err, messaging.ErrListenerRunning):
		status = http.StatusConflict
	case errors.Is(err, messaging.ErrInvalidTarget),
		errors.Is(err, messaging.ErrEmptyMessage),
		errors.Is(err, nostr.ErrInvalidKey),
		errors.Is(err, nostr.ErrInvalidPubKey),
		errors.Is(err, relay.ErrInvalidURL),
		errors.Is(err, relay.ErrInvalidMode):
		status = http.StatusBadRequest
	case errors.Is(err, messaging.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, messaging.ErrRelayTimeout),
		errors.Is(err, messaging.ErrRelayNetwork),
		errors.Is(err, messaging.ErrNoHealthyRelays):
		status = http.StatusBadGateway
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleInitialize(c *gin.Context) {
	var req struct {
		SecretKey string `json:"secret_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "secret_key is required"})
		return
	}
	if err := s.svc.Initialize(c.Request.Context(), req.SecretKey); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pubkey": s.svc.Keys().PublicKeyHex()})
}

func (s *Server) handleGenerateKeys(c *gin.Context) {
	keys, err := nostr.GenerateKeys()
	if err != nil {
		respondError(c, err)
		return
	}
	// The secret is returned to the caller exactly once and never logged.
	c.JSON(http.StatusOK, gin.H{
		"pubkey":     keys.PublicKeyHex(),
		"npub":       keys.Npub(),
		"secret_key": keys.SecretHex(),
		"nsec":       keys.Nsec(),
	})
}

func (s *Server) handleSend(c *gin.Context) {
	var req struct {
		Receiver string `json:"receiver" binding:"required"`
		Content  string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "receiver and content are required"})
		return
	}
	id, err := s.svc.Send(c.Request.Context(), req.Receiver, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (s *Server) handleListMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	msgs, err := s.svc.Messages(c.Param("peer"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) handleReadReceipt(c *gin.Context) {
	var req struct {
		Peer       string   `json:"peer" binding:"required"`
		MessageIDs []string `json:"message_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "peer and message_ids are required"})
		return
	}
	if err := s.svc.SendReadReceipt(c.Request.Context(), req.Peer, req.MessageIDs); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeleteMessage(c *gin.Context) {
	if err := s.svc.DeleteMessage(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSync(c *gin.Context) {
	var req struct {
		Whitelist []string `json:"whitelist"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed whitelist"})
		return
	}
	report, err := s.svc.Sync().SyncOffline(c.Request.Context(), req.Whitelist)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// handleNotifications starts the live listener and streams its notifications
// as server-sent events until the client disconnects. The default whitelist
// (self plus stored contacts) applies.
func (s *Server) handleNotifications(c *gin.Context) {
	ch, err := s.svc.StartListener(c.Request.Context(), nil)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Stream(func(w io.Writer) bool {
		n, ok := <-ch
		if !ok {
			return false
		}
		c.SSEvent("notification", n)
		return true
	})
}

func (s *Server) handleRelayStatuses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"relays": s.svc.RelayStatuses()})
}

func (s *Server) handleAddRelay(c *gin.Context) {
	var req struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "url is required"})
		return
	}
	if err := s.svc.AddRelay(c.Request.Context(), req.URL); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRemoveRelay(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "url query parameter is required"})
		return
	}
	s.svc.RemoveRelay(url)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSetRelayMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "mode is required"})
		return
	}
	if err := s.svc.SetRelayMode(c.Request.Context(), relay.Mode(req.Mode)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRelayHealth(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "url query parameter is required"})
		return
	}
	result := s.svc.Discovery().CheckRelayHealth(c.Request.Context(), url)
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleQueryUserRelays(c *gin.Context) {
	entries, err := s.svc.Discovery().QueryUserRelays(c.Request.Context(), c.Param("pubkey"), 0)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"relays": entries})
}

func (s *Server) handlePublishRelayList(c *gin.Context) {
	var req struct {
		Relays []discovery.RelayListEntry `json:"relays" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "relays is required"})
		return
	}
	keys := s.svc.Keys()
	if keys == nil {
		respondError(c, messaging.ErrNotInitialized)
		return
	}
	id, err := s.svc.Discovery().PublishRelayList(c.Request.Context(), req.Relays, keys)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (s *Server) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"peers": s.svc.Sessions().List()})
}

func (s *Server) handleExportSession(c *gin.Context) {
	keyHex, err := s.svc.Sessions().Export(c.Param("peer"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": keyHex})
}

func (s *Server) handleImportSession(c *gin.Context) {
	var req struct {
		Peer string `json:"peer" binding:"required"`
		Key  string `json:"key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "peer and key are required"})
		return
	}
	if err := s.svc.Sessions().Import(req.Peer, req.Key); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	if err := s.svc.Sessions().Delete(c.Param("peer")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSetProfile(c *gin.Context) {
	var req messaging.Profile
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed profile"})
		return
	}
	id, err := s.svc.SetMetadata(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (s *Server) handleFetchProfile(c *gin.Context) {
	contact, err := s.svc.FetchProfile(c.Request.Context(), c.Param("pubkey"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (s *Server) handleAddContact(c *gin.Context) {
	var req struct {
		PubKey string `json:"pubkey" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "pubkey is required"})
		return
	}
	if err := s.svc.AddContact(req.PubKey); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListContacts(c *gin.Context) {
	contacts, err := s.svc.Contacts()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": contacts})
}

func (s *Server) handleTyping(c *gin.Context) {
	var req struct {
		Receiver string `json:"receiver" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "receiver is required"})
		return
	}
	if err := s.svc.SendTyping(c.Request.Context(), req.Receiver); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handlePresence(c *gin.Context) {
	var req struct {
		Receiver string `json:"receiver" binding:"required"`
		Status   string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "receiver and status are required"})
		return
	}
	if err := s.svc.SendPresence(c.Request.Context(), req.Receiver, req.Status); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCreateChannel(c *gin.Context) {
	var req messaging.ChannelInfo
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "name is required"})
		return
	}
	id, err := s.svc.CreateChannel(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (s *Server) handleQueryChannels(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	channels, err := s.svc.QueryChannels(c.Request.Context(), c.QueryArray("author"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

func (s *Server) handleSendChannelMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "content is required"})
		return
	}
	id, err := s.svc.SendChannelMessage(c.Request.Context(), c.Param("id"), req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (s *Server) handleFetchChannelMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	msgs, err := s.svc.FetchChannelMessages(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
