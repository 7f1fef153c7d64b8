package handlers

import (
	"net/http"

	"verifmatos/internal/models"
	"verifmatos/internal/verification"

	"github.com/gin-gonic/gin"
)

type startRequest struct {
	Name string `json:"name"`
}

// publicEvent resolves /public/:id/:token. A bad token and a missing event
// both answer 404.
func (h *Handler) publicEvent(c *gin.Context) (*models.Event, bool) {
	id, err := paramID(c, "id")
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return nil, false
	}
	event, err := h.verify.Resolve(id, c.Param("token"))
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return event, true
}

func (h *Handler) handlePublicEvent(c *gin.Context) {
	event, ok := h.publicEvent(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": event})
}

func (h *Handler) handleStartVerification(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}

	var req startRequest
	if !h.bindJSON(c, &req) {
		return
	}

	event, err := h.verify.Start(id, c.Param("token"), req.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": event})
}

func (h *Handler) handlePublicChecklist(c *gin.Context) {
	event, ok := h.publicEvent(c)
	if !ok {
		return
	}
	view, err := h.verify.View(event)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"event":    view.Event,
		"tree":     view.Tree,
		"progress": view.Progress,
	})
}

func (h *Handler) handleUpdateItem(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	nodeID, err := paramID(c, "node_id")
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
		return
	}

	var req verification.ItemRequest
	if !h.bindJSON(c, &req) {
		return
	}

	result, err := h.verify.UpdateItem(id, c.Param("token"), nodeID, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) handlePublicWS(c *gin.Context) {
	event, ok := h.publicEvent(c)
	if !ok {
		return
	}
	h.serveObserver(c, event)
}
