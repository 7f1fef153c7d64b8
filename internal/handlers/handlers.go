package handlers

import (
	"database/sql"
	"net/http"
	"strconv"

	"verifmatos/internal/auth"
	"verifmatos/internal/config"
	"verifmatos/internal/domain"
	"verifmatos/internal/logger"
	"verifmatos/internal/middleware"
	"verifmatos/internal/models"
	"verifmatos/internal/realtime"
	"verifmatos/internal/verification"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Handler holds what the routes need. Build it with New.
type Handler struct {
	db       *sql.DB
	cfg      *config.Config
	issuer   *auth.Issuer
	hub      *realtime.Hub
	verify   *verification.Service
	upgrader *websocket.Upgrader
	blocker  *middleware.IPBlocker
	log      *logger.Logger
}

func New(db *sql.DB, cfg *config.Config, hub *realtime.Hub, verify *verification.Service) *Handler {
	return &Handler{
		db:       db,
		cfg:      cfg,
		issuer:   auth.NewIssuer(cfg.SecretKey, cfg.SessionDuration),
		hub:      hub,
		verify:   verify,
		upgrader: realtime.NewUpgrader(cfg.AllowedOrigins),
		blocker:  middleware.NewIPBlocker(cfg),
		log:      logger.GetLogger().With("component", "http"),
	}
}

func SetupRoutes(r *gin.Engine, h *Handler) {
	r.Use(middleware.RequestID())
	r.Use(middleware.LogRequests())
	r.Use(middleware.SecurityHeaders(h.cfg))
	r.Use(middleware.CORS(h.cfg))
	r.Use(middleware.RateLimit(h.cfg))
	r.Use(h.blocker.Block())
	r.Use(h.blocker.Track())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	r.GET("/healthz", handleHealth)

	r.POST("/login", middleware.AuthRateLimit(h.cfg), h.handleLogin)
	r.POST("/logout", h.handleLogout)

	staff := r.Group("/")
	staff.Use(middleware.AuthRequired(h.db, h.issuer))
	{
		staff.GET("/me", h.handleMe)
		staff.POST("/password", h.handleChangePassword)
	}

	active := staff.Group("/")
	active.Use(middleware.RequirePasswordChanged())

	admin := active.Group("/users")
	admin.Use(middleware.RequireRoles(models.RoleAdmin))
	{
		admin.GET("", h.handleListUsers)
		admin.POST("", h.handleCreateUser)
		admin.POST("/:id/password", h.handleResetPassword)
		admin.POST("/:id/delete", h.handleDeleteUser)
	}

	chiefs := active.Group("/")
	chiefs.Use(middleware.RequireRoles(models.RoleAdmin, models.RoleChief))
	{
		chiefs.GET("/materials", h.handleMaterials)
		chiefs.GET("/materials/roots", h.handleRootMaterials)
		chiefs.POST("/materials", h.handleCreateMaterial)
		chiefs.POST("/materials/wizard", h.handleWizard)
		chiefs.GET("/materials/parents/export", h.handleExportMaterials)
		chiefs.POST("/materials/parents/import", h.handleImportMaterials)
		chiefs.POST("/materials/:id/delete", h.handleDeleteMaterial)

		chiefs.GET("/events", h.handleListEvents)
		chiefs.POST("/events", h.handleCreateEvent)
		chiefs.GET("/events/:id", h.handleEventDetail)
		chiefs.GET("/events/:id/monitor", h.handleEventMonitor)
		chiefs.POST("/events/:id/close", h.handleCloseEvent)
		chiefs.POST("/events/:id/delete", h.handleDeleteEvent)
		chiefs.GET("/ws/events/:id", h.handleStaffWS)
	}

	stock := active.Group("/stock")
	stock.Use(middleware.RequireRoles(models.RoleAdmin, models.RoleStock))
	{
		stock.GET("/issues", h.handleIssues)
	}

	public := r.Group("/public/:id/:token")
	{
		public.GET("", h.handlePublicEvent)
		public.POST("", middleware.VerificationRateLimit(h.cfg), h.handleStartVerification)
		public.GET("/check", h.handlePublicChecklist)
		public.POST("/item/:node_id", middleware.VerificationRateLimit(h.cfg), h.handleUpdateItem)
		public.GET("/ws", h.handlePublicWS)
	}
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError writes err as a JSON error with the status it maps to.
// Unexpected errors are logged and hidden from the client.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := domain.StatusCode(err)
	if status == http.StatusInternalServerError {
		h.log.Error("Request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"request_id", c.GetString(middleware.RequestIDKey),
			"error", err)
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handler) bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		h.respondError(c, domain.Invalidf("invalid request body"))
		return false
	}
	return true
}

func paramID(c *gin.Context, name string) (int, error) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		return 0, domain.Invalidf("invalid %s", name)
	}
	return id, nil
}

func publicPath(event *models.Event) string {
	return "/public/" + strconv.Itoa(event.ID) + "/" + event.PublicToken
}
