package handlers

import (
	"errors"
	"net/http"
	"strings"

	"verifmatos/internal/auth"
	"verifmatos/internal/database"
	"verifmatos/internal/domain"
	"verifmatos/internal/middleware"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const minPasswordLength = 4

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type passwordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (r passwordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.RuneLength(minPasswordLength, 0)),
	)
}

func (h *Handler) handleLogin(c *gin.Context) {
	var req loginRequest
	if !h.bindJSON(c, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		h.respondError(c, domain.Invalidf("username and password are required"))
		return
	}

	user, err := database.AuthenticateUser(h.db, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
			return
		}
		h.respondError(c, err)
		return
	}

	token, err := h.issuer.Issue(user.ID, user.Role)
	if err != nil {
		h.respondError(c, err)
		return
	}
	middleware.SetAuthCookie(c, h.cfg, token, h.issuer.TTL())

	h.log.Info("User logged in", "user_id", user.ID, "role", user.Role)
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *Handler) handleLogout(c *gin.Context) {
	middleware.ClearAuthCookie(c)
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

func (h *Handler) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": middleware.CurrentUser(c)})
}

func (h *Handler) handleChangePassword(c *gin.Context) {
	user := middleware.CurrentUser(c)

	var req passwordRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		h.respondError(c, domain.Invalid(err))
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.CurrentPassword) {
		h.respondError(c, domain.Invalidf("current password is incorrect"))
		return
	}

	if err := database.UpdatePassword(h.db, user.ID, req.NewPassword, false); err != nil {
		h.respondError(c, err)
		return
	}

	h.log.Info("Password changed", "user_id", user.ID)
	c.JSON(http.StatusOK, gin.H{"status": "password updated"})
}
