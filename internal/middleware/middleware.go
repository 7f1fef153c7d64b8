package middleware

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"verifmatos/internal/auth"
	"verifmatos/internal/config"
	"verifmatos/internal/database"
	"verifmatos/internal/domain"
	"verifmatos/internal/logger"
	"verifmatos/internal/models"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	UserKey      = "user"
	UserIDKey    = "user_id"
	RequestIDKey = "request_id"

	requestIDHeader = "X-Request-ID"
)

type rateLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet hands out one token bucket per client IP.
type limiterSet struct {
	mu      sync.Mutex
	clients map[string]*rateLimiter
	every   time.Duration
	burst   int
	idle    time.Duration
}

func newLimiterSet(every time.Duration, burst int, idle time.Duration) *limiterSet {
	return &limiterSet{
		clients: make(map[string]*rateLimiter),
		every:   every,
		burst:   burst,
		idle:    idle,
	}
}

func (s *limiterSet) allow(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	client, exists := s.clients[ip]
	if !exists {
		client = &rateLimiter{limiter: rate.NewLimiter(rate.Every(s.every), s.burst)}
		s.clients[ip] = client
	}
	client.lastSeen = now

	for other, c := range s.clients {
		if now.Sub(c.lastSeen) > s.idle {
			delete(s.clients, other)
		}
	}
	return client.limiter.Allow()
}

func limit(cfg *config.Config, set *limiterSet, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip rate limiting in development mode
		if cfg.IsDevelopment() {
			c.Next()
			return
		}
		if !set.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": message})
			return
		}
		c.Next()
	}
}

func RateLimit(cfg *config.Config) gin.HandlerFunc {
	return limit(cfg, newLimiterSet(time.Second/20, 20, 10*time.Minute), "Rate limit exceeded")
}

func AuthRateLimit(cfg *config.Config) gin.HandlerFunc {
	return limit(cfg, newLimiterSet(time.Minute, 5, 30*time.Minute), "Authentication rate limit exceeded")
}

// VerificationRateLimit throttles writes made through public links. A
// verifier ticking a long list goes fast, so the burst is generous.
func VerificationRateLimit(cfg *config.Config) gin.HandlerFunc {
	return limit(cfg, newLimiterSet(time.Second/5, 60, 30*time.Minute), "Too many updates, slow down")
}

type clientTracker struct {
	errors404    []time.Time
	blockedUntil time.Time
	lastSeen     time.Time
}

// IPBlocker temporarily bans clients that keep hitting 404s, which is what
// guessing public links looks like.
type IPBlocker struct {
	cfg      *config.Config
	mu       sync.Mutex
	trackers map[string]*clientTracker
	limit    int
	window   time.Duration
	blockFor time.Duration
	now      func() time.Time
}

func NewIPBlocker(cfg *config.Config) *IPBlocker {
	return &IPBlocker{
		cfg:      cfg,
		trackers: make(map[string]*clientTracker),
		limit:    10,
		window:   5 * time.Minute,
		blockFor: 15 * time.Minute,
		now:      time.Now,
	}
}

// Block rejects requests from currently banned IPs.
func (b *IPBlocker) Block() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip IP blocking in development mode
		if b.cfg.IsDevelopment() {
			c.Next()
			return
		}

		if b.Blocked(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Your IP has been temporarily blocked due to excessive invalid requests. Please try again later.",
			})
			return
		}
		c.Next()
	}
}

func (b *IPBlocker) Blocked(ip string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	tracker, exists := b.trackers[ip]
	return exists && b.now().Before(tracker.blockedUntil)
}

// Track counts 404 responses per IP and bans an IP once it reaches the limit
// inside the window.
func (b *IPBlocker) Track() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if b.cfg.IsDevelopment() || c.Writer.Status() != http.StatusNotFound {
			return
		}
		b.record(c.ClientIP())
	}
}

func (b *IPBlocker) record(ip string) {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	tracker, exists := b.trackers[ip]
	if !exists {
		tracker = &clientTracker{}
		b.trackers[ip] = tracker
	}
	tracker.lastSeen = now
	tracker.errors404 = append(tracker.errors404, now)

	cutoff := now.Add(-b.window)
	valid := tracker.errors404[:0]
	for _, at := range tracker.errors404 {
		if at.After(cutoff) {
			valid = append(valid, at)
		}
	}
	tracker.errors404 = valid

	if len(tracker.errors404) >= b.limit {
		tracker.blockedUntil = now.Add(b.blockFor)
		tracker.errors404 = nil
		logger.Warn("Blocked IP after repeated 404s",
			"ip", ip,
			"count", len(valid),
			"blocked_for", b.blockFor.String())
	}

	for other, t := range b.trackers {
		if now.Sub(t.lastSeen) > 30*time.Minute && now.After(t.blockedUntil) {
			delete(b.trackers, other)
		}
	}
}

func CORS(cfg *config.Config) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", requestIDHeader},
		ExposeHeaders:    []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func SecurityHeaders(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		if !cfg.IsDevelopment() {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			c.Header("Content-Security-Policy", "default-src 'self'; connect-src 'self' wss:; frame-ancestors 'none'")
		}
		c.Next()
	}
}

// RequestID tags every request so log lines can be correlated.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func LogRequests() gin.HandlerFunc {
	return logRequestsTo(gin.DefaultWriter)
}

func logRequestsTo(out io.Writer) gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{
		Output: out,
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("[%s] %s %s %d %s %s %v\n",
				param.TimeStamp.Format("2006/01/02 15:04:05"),
				param.Method,
				redactPath(param.Path),
				param.StatusCode,
				param.Latency,
				param.ClientIP,
				param.Keys[RequestIDKey],
			)
		},
	})
}

// redactPath masks the token segment of /public/:id/:token/... paths.
func redactPath(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) > 3 && parts[1] == "public" {
		parts[3] = logger.RedactToken(parts[3])
	}
	return strings.Join(parts, "/")
}

// AuthRequired loads the staff user behind the access token cookie.
func AuthRequired(db *sql.DB, issuer *auth.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(auth.CookieName)
		if err != nil || token == "" {
			abortWithError(c, domain.ErrUnauthorized)
			return
		}

		userID, _, err := issuer.Parse(token)
		if err != nil {
			ClearAuthCookie(c)
			abortWithError(c, domain.ErrUnauthorized)
			return
		}

		user, err := database.GetUserByID(db, userID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				ClearAuthCookie(c)
				abortWithError(c, domain.ErrUnauthorized)
				return
			}
			abortWithError(c, err)
			return
		}

		c.Set(UserKey, user)
		c.Set(UserIDKey, user.ID)
		c.Next()
	}
}

// RequirePasswordChanged keeps users flagged for a password change away from
// everything else.
func RequirePasswordChanged() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			abortWithError(c, domain.ErrUnauthorized)
			return
		}
		if user.MustChangePassword {
			abortWithError(c, domain.PasswordChangeRequired())
			return
		}
		c.Next()
	}
}

func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			abortWithError(c, domain.ErrUnauthorized)
			return
		}
		for _, role := range roles {
			if user.Role == role {
				c.Next()
				return
			}
		}
		abortWithError(c, domain.Forbidden("insufficient role"))
	}
}

// CurrentUser returns the authenticated user, nil outside AuthRequired.
func CurrentUser(c *gin.Context) *models.User {
	value, exists := c.Get(UserKey)
	if !exists {
		return nil
	}
	user, _ := value.(*models.User)
	return user
}

func SetAuthCookie(c *gin.Context, cfg *config.Config, token string, ttl time.Duration) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(auth.CookieName, token, int(ttl.Seconds()), "/", "", !cfg.IsDevelopment(), true)
}

func ClearAuthCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(auth.CookieName, "", -1, "/", "", false, true)
}

func abortWithError(c *gin.Context, err error) {
	status := domain.StatusCode(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", "path", c.FullPath(), "error", err)
		message = "internal server error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
