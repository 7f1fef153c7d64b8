package handlers

import (
	"net/http"
	"strings"

	"verifmatos/internal/database"
	"verifmatos/internal/domain"
	"verifmatos/internal/middleware"
	"verifmatos/internal/models"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type userRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (r userRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.RuneLength(3, 50)),
		validation.Field(&r.Password, validation.Required, validation.RuneLength(minPasswordLength, 0)),
		validation.Field(&r.Role, validation.Required, validation.In(models.RoleAdmin, models.RoleChief, models.RoleStock)),
	)
}

type resetRequest struct {
	Password string `json:"password"`
}

func (h *Handler) handleListUsers(c *gin.Context) {
	users, err := database.ListUsers(h.db)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// New accounts must pick their own password on first login.
func (h *Handler) handleCreateUser(c *gin.Context) {
	var req userRequest
	if !h.bindJSON(c, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))
	if err := req.Validate(); err != nil {
		h.respondError(c, domain.Invalid(err))
		return
	}

	user, err := database.CreateUser(h.db, req.Username, req.Password, req.Role, true)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.log.Info("User created",
		"user_id", user.ID,
		"role", user.Role,
		"by", middleware.CurrentUser(c).ID)
	c.JSON(http.StatusCreated, gin.H{"user": user})
}

func (h *Handler) handleResetPassword(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}

	var req resetRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if err := validation.Validate(req.Password, validation.Required, validation.RuneLength(minPasswordLength, 0)); err != nil {
		h.respondError(c, domain.Invalid(err))
		return
	}

	self := middleware.CurrentUser(c).ID == id
	if err := database.UpdatePassword(h.db, id, req.Password, !self); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "password updated"})
}

func (h *Handler) handleDeleteUser(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	if middleware.CurrentUser(c).ID == id {
		h.respondError(c, domain.Forbidden("you cannot delete your own account"))
		return
	}

	if err := database.DeleteUser(h.db, id); err != nil {
		h.respondError(c, err)
		return
	}
	h.log.Info("User deleted", "user_id", id)
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
