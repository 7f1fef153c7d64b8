package handlers

import (
	"net/http"

	"verifmatos/internal/database"

	"github.com/gin-gonic/gin"
)

// handleIssues lists every item reported as a problem, newest first, so the
// stock team knows what to repair or replace.
func (h *Handler) handleIssues(c *gin.Context) {
	issues, err := database.GetIssues(h.db)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"issues": issues})
}
