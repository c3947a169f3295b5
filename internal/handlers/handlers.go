package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/01moynul/zyra-golang/internal/auth"
	"github.com/01moynul/zyra-golang/internal/events"
	"github.com/01moynul/zyra-golang/internal/idempotency"
	"github.com/01moynul/zyra-golang/internal/middleware"
)

// Assistant answers admin questions about the store.
type Assistant interface {
	GenerateResponse(ctx context.Context, userMessage, userRole string) (string, int, error)
}

// Realtime pushes events to websocket subscribers.
type Realtime interface {
	Publish(ctx context.Context, topic, event string, payload any) error
	ServeWS(w http.ResponseWriter, r *http.Request, userID int64, role string) error
}

// Handlers struct holds all dependencies for our handlers.
type Handlers struct {
	DB          *sqlx.DB  // Primary Read/Write connection
	AIService   Assistant // nil when the assistant is disabled
	Tokens      *auth.Manager
	Realtime    Realtime
	Events      events.Publisher
	Idempotency idempotency.Store
	Log         zerolog.Logger

	UploadDir string
	BaseURL   string

	Now func() time.Time
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// sideEffectTimeout bounds the notifications, broadcasts and events sent
// after a commit so a slow broker cannot hold up the response.
const sideEffectTimeout = 5 * time.Second

// detached outlives the request that started it but not sideEffectTimeout.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
}

func currentUserID(c *gin.Context) int64 {
	return c.GetInt64(middleware.UserIDKey)
}

func currentRole(c *gin.Context) string {
	return c.GetString(middleware.UserRoleKey)
}

// paramID reads a positive integer path parameter, answering 400 otherwise.
func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}

// internalError records err for the request logger and answers 500.
func internalError(c *gin.Context, err error, msg string) {
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// Health is the handler for GET /health
func (h *Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.DB.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
