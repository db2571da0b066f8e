package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/callsignal/internal/domain"
	"github.com/gin-gonic/gin"
)

type CallReader interface {
	ListActiveCalls(ws domain.WorkspaceID) []domain.CallSummary
	GetRoster(id domain.CallID) ([]domain.Participant, error)
	Call(id domain.CallID) (domain.Call, bool)
}

type PresenceReader interface {
	OnlineUsers(ws domain.WorkspaceID) []domain.PresenceEntry
}

// Handlers is the read-only REST view over call and presence state.
type Handlers struct {
	Calls    CallReader
	Presence PresenceReader
}

type CallsResponse struct {
	WorkspaceSlug domain.WorkspaceID   `json:"workspaceSlug"`
	Calls         []domain.CallSummary `json:"calls"`
}

type RosterResponse struct {
	CallID       domain.CallID        `json:"callId"`
	Participants []domain.Participant `json:"participants"`
}

type PresenceResponse struct {
	WorkspaceSlug domain.WorkspaceID     `json:"workspaceSlug"`
	Users         []domain.PresenceEntry `json:"users"`
}

func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/workspaces/:slug/calls", h.listCalls)
	r.GET("/workspaces/:slug/calls/:id", h.roster)
	r.GET("/workspaces/:slug/presence", h.presence)
}

func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func workspaceParam(c *gin.Context) (domain.WorkspaceID, bool) {
	ws := domain.WorkspaceID(c.Param("slug"))
	if err := domain.ValidateWorkspace(ws); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return ws, true
}

func (h *Handlers) listCalls(c *gin.Context) {
	ws, ok := workspaceParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, CallsResponse{WorkspaceSlug: ws, Calls: h.Calls.ListActiveCalls(ws)})
}

func (h *Handlers) roster(c *gin.Context) {
	ws, ok := workspaceParam(c)
	if !ok {
		return
	}
	id := domain.CallID(c.Param("id"))
	// calls of other workspaces are not visible here
	if call, ok := h.Calls.Call(id); !ok || call.Workspace != ws {
		c.JSON(http.StatusNotFound, gin.H{"error": domain.ErrCallNotFound.Error()})
		return
	}
	roster, err := h.Calls.GetRoster(id)
	if errors.Is(err, domain.ErrCallNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, RosterResponse{CallID: id, Participants: roster})
}

func (h *Handlers) presence(c *gin.Context) {
	ws, ok := workspaceParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, PresenceResponse{WorkspaceSlug: ws, Users: h.Presence.OnlineUsers(ws)})
}
