package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/network"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/peers"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/session"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/storage"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 500
)

// HealthResponse contains node health information
type HealthResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"` // "healthy", "degraded"
	Uptime  string `json:"uptime"`
	Checks  struct {
		SocketBound     bool `json:"socketBound"`
		QueueHeadroom   bool `json:"queueHeadroom"`
		JournalWritable bool `json:"journalWritable"`
	} `json:"checks"`
}

// TransportStatsResponse wraps the transport counters
type TransportStatsResponse struct {
	Success bool          `json:"success"`
	UserID  uint32        `json:"userId"`
	Stats   network.Stats `json:"stats"`
}

// SessionsResponse lists the handshake state of every known peer
type SessionsResponse struct {
	Success  bool                  `json:"success"`
	Count    int                   `json:"count"`
	Sessions []session.PeerSession `json:"sessions"`
}

// PeersResponse contains list of connected peers
type PeersResponse struct {
	Success bool         `json:"success"`
	Count   int          `json:"count"`
	Peers   []peers.Peer `json:"peers"`
}

// MessagesResponse is one page of the journal
type MessagesResponse struct {
	Success  bool                     `json:"success"`
	Count    int                      `json:"count"`
	Limit    int                      `json:"limit"`
	Offset   int                      `json:"offset"`
	Messages []*storage.StoredMessage `json:"messages"`
}

// MessageStatsResponse counts journaled messages per status
type MessageStatsResponse struct {
	Success bool                          `json:"success"`
	Counts  map[storage.MessageStatus]int `json:"counts"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	stats := s.transport.Stats()

	var response HealthResponse
	response.Success = true
	response.Uptime = formatDuration(time.Since(s.startedAt))
	response.Checks.SocketBound = stats.LocalAddr != ""
	response.Checks.QueueHeadroom = stats.QueueDepth < stats.QueueCapacity
	response.Checks.JournalWritable = true
	if s.journal != nil {
		_, err := s.journal.CountByStatus()
		response.Checks.JournalWritable = err == nil
	}

	response.Status = "healthy"
	if !response.Checks.SocketBound || !response.Checks.QueueHeadroom || !response.Checks.JournalWritable {
		response.Status = "degraded"
	}

	c.JSON(http.StatusOK, response)
}

// handleTransportStats handles GET /api/v1/transport/stats
func (s *Server) handleTransportStats(c *gin.Context) {
	c.JSON(http.StatusOK, TransportStatsResponse{
		Success: true,
		UserID:  s.transport.UserID(),
		Stats:   s.transport.Stats(),
	})
}

// handleSessions handles GET /api/v1/transport/sessions
func (s *Server) handleSessions(c *gin.Context) {
	sessions := s.transport.Sessions().Snapshot()

	c.JSON(http.StatusOK, SessionsResponse{
		Success:  true,
		Count:    len(sessions),
		Sessions: sessions,
	})
}

// handlePeers handles GET /api/v1/peers
func (s *Server) handlePeers(c *gin.Context) {
	list := []peers.Peer{}
	if s.peers != nil {
		list = s.peers.List()
	}

	c.JSON(http.StatusOK, PeersResponse{
		Success: true,
		Count:   len(list),
		Peers:   list,
	})
}

// handleMessages handles GET /api/v1/messages?peer=&limit=&offset=
func (s *Server) handleMessages(c *gin.Context) {
	if !s.requireJournal(c) {
		return
	}

	limit, err := queryInt(c, "limit", defaultMessageLimit)
	if err != nil || limit <= 0 || limit > maxMessageLimit {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid limit",
			Message: fmt.Sprintf("limit must be between 1 and %d", maxMessageLimit),
		})
		return
	}

	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid offset",
			Message: "offset must be a non-negative number",
		})
		return
	}

	messages, err := s.journal.ListMessages(c.Query("peer"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to list messages",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, MessagesResponse{
		Success:  true,
		Count:    len(messages),
		Limit:    limit,
		Offset:   offset,
		Messages: messages,
	})
}

// handleMessage handles GET /api/v1/messages/:id
func (s *Server) handleMessage(c *gin.Context) {
	if !s.requireJournal(c) {
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid message ID",
			Message: "Message ID must be a number",
		})
		return
	}

	msg, err := s.journal.GetMessage(id)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Message not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to load message",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: msg})
}

// handleMessageStats handles GET /api/v1/messages/stats
func (s *Server) handleMessageStats(c *gin.Context) {
	if !s.requireJournal(c) {
		return
	}

	counts, err := s.journal.CountByStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to count messages",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, MessageStatsResponse{Success: true, Counts: counts})
}

func (s *Server) requireJournal(c *gin.Context) bool {
	if s.journal != nil {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Error:   "Journal disabled",
		Message: "Start the node with a database path to record messages",
	})
	return false
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// formatDuration formats a duration in human-readable format
func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
