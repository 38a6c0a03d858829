package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZentaChain/palladium/pkg/datauri"
	"github.com/ZentaChain/palladium/pkg/errs"
	"github.com/ZentaChain/palladium/pkg/network"
	"github.com/ZentaChain/palladium/pkg/protocol"
)

// UserInfo describes a roster entry.
type UserInfo struct {
	Address     string `json:"address"`
	Account     string `json:"account"`
	Nick        string `json:"nick,omitempty"`
	Fingerprint string `json:"fingerprint"`
}

// MessageInfo describes a delivered message.
type MessageInfo struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	From      UserInfo          `json:"from"`
	Type      string            `json:"type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Text      string            `json:"text,omitempty"`
	Size      int               `json:"size,omitempty"`
	Received  time.Time         `json:"received"`
}

// NodeInfo describes the local session.
type NodeInfo struct {
	User   UserInfo `json:"user"`
	State  string   `json:"state"`
	Users  int      `json:"users"`
	Uptime string   `json:"uptime"`
}

// SendMessageRequest is the body of POST /api/v1/messages. Either Text or
// Data must be set.
type SendMessageRequest struct {
	To       string `json:"to" binding:"required"`
	Text     string `json:"text"`
	Data     []byte `json:"data"`
	Filename string `json:"filename"`
}

// SetNickRequest is the body of PUT /api/v1/node/nick.
type SetNickRequest struct {
	Nick string `json:"nick"`
}

func userInfo(id *protocol.Identity) UserInfo {
	if id == nil {
		return UserInfo{}
	}
	return UserInfo{
		Address:     id.String(),
		Account:     id.Account(),
		Nick:        id.Nick(),
		Fingerprint: id.Key().Fingerprint(),
	}
}

func messageInfo(m network.Message) MessageInfo {
	info := MessageInfo{
		ID:        m.Packet.ID().String(),
		Timestamp: m.Packet.Timestamp(),
		From:      userInfo(m.From),
		Received:  m.Received,
	}
	if m.Payload == nil {
		return info
	}
	info.Type = m.Payload.Type.String()
	if m.Payload.Metadata.Len() > 0 {
		info.Metadata = make(map[string]string, m.Payload.Metadata.Len())
		for _, k := range m.Payload.Metadata.Keys() {
			info.Metadata[k], _ = m.Payload.Metadata.Get(k)
		}
	}
	if text, ok := m.Payload.Text(); ok {
		info.Text = text
	} else if b, ok := m.Payload.Bytes(); ok {
		info.Size = len(b)
	}
	return info
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	if s.node.State() != network.Online {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status": s.node.State().String(),
		"time":   time.Now().Unix(),
	})
}

// handleNodeInfo handles GET /api/v1/node
func (s *Server) handleNodeInfo(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Data: NodeInfo{
			User:   userInfo(s.node.Identity()),
			State:  s.node.State().String(),
			Users:  len(s.node.Users()),
			Uptime: formatDuration(time.Since(s.startTime)),
		},
	})
}

// handleSetNick handles PUT /api/v1/node/nick
func (s *Server) handleSetNick(c *gin.Context) {
	var req SetNickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
		})
		return
	}

	if err := s.node.SetNick(c.Request.Context(), req.Nick); err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Data:    userInfo(s.node.Identity()),
	})
}

// handleUsers handles GET /api/v1/users
func (s *Server) handleUsers(c *gin.Context) {
	users := s.node.Users()
	infos := make([]UserInfo, 0, len(users))
	for _, u := range users {
		infos = append(infos, userInfo(u))
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: infos})
}

// handleMessages handles GET /api/v1/messages
func (s *Server) handleMessages(c *gin.Context) {
	messages := s.node.Messages()
	infos := make([]MessageInfo, 0, len(messages))
	for _, m := range messages {
		infos = append(infos, messageInfo(m))
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: infos})
}

// handleSendMessage handles POST /api/v1/messages
func (s *Server) handleSendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
		})
		return
	}

	recipient, err := s.resolveRecipient(req.To)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Unknown recipient",
			Message: err.Error(),
		})
		return
	}

	var payload *datauri.DataURI
	switch {
	case req.Data != nil:
		payload = datauri.Bytes(req.Data)
		if req.Filename != "" {
			payload.Metadata.Set(datauri.FilenameKey, req.Filename)
		}
	case req.Text != "":
		payload = datauri.Text(req.Text)
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Message: "text or data is required",
		})
		return
	}

	p, err := s.node.Message(c.Request.Context(), recipient, payload)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, SuccessResponse{
		Success: true,
		Data: gin.H{
			"id":        p.ID().String(),
			"timestamp": p.Timestamp(),
			"to":        recipient.String(),
		},
	})
}

// handleLAN handles GET /api/v1/lan
func (s *Server) handleLAN(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.BrowseTimeout)
	defer cancel()

	peers, err := s.browse(ctx)
	if err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "Discovery failed",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: peers})
}

// resolveRecipient finds a roster entry by address, then by unique account
// or nickname.
func (s *Server) resolveRecipient(to string) (*protocol.Identity, error) {
	if id, ok := s.node.Lookup(to); ok {
		return id, nil
	}
	return protocol.Resolve(s.node.Users(), to)
}

func (s *Server) abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, network.ErrOffline):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "Session offline", Message: err.Error()})
	case errs.IsKind(err, errs.Argument), errs.IsKind(err, errs.Format):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error(), Code: errs.KindOf(err).String()})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Request failed", Message: err.Error(), Code: errs.KindOf(err).String()})
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	sec := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, sec)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, sec)
	}
	return fmt.Sprintf("%ds", sec)
}
