package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dkeye/taskboard-relay/internal/adapters/signal"
	"github.com/dkeye/taskboard-relay/internal/app/orch"
	"github.com/dkeye/taskboard-relay/internal/config"
	"github.com/dkeye/taskboard-relay/internal/domain"
	"github.com/dkeye/taskboard-relay/internal/telemetry"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

const sessionName = "RelaySession"

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, ctl *signal.SignalWSController, checks ...ReadyCheck) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(sessionName, store))

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/readyz", func(c *gin.Context) {
		for _, check := range checks {
			if err := check(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
				return
			}
		}
		c.Status(http.StatusOK)
	})
	r.GET("/metrics", gin.WrapH(telemetry.Handler()))

	api := r.Group("/api")
	api.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })

	h := &handlers{orch: o}
	api.POST("/session", h.createSession)
	api.DELETE("/session", h.deleteSession)
	api.GET("/presence", h.presence)
	api.GET("/boards/:id/active-users", h.activeUsers)
	if cfg.ServiceToken != "" {
		api.POST("/users/:id/events", serviceAuth(cfg.ServiceToken), h.emitToUser)
	}

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

// WithCORS wraps the router for browser clients served from another origin.
func WithCORS(allowed []string, h http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(h)
}

func serviceAuth(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got := []byte(signal.BearerToken(c.GetHeader("Authorization")))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

type handlers struct {
	orch *orch.Orchestrator
}

// createSession verifies a token and keeps it in the cookie session so a
// browser can open /api/ws without custom headers.
func (h *handlers) createSession(c *gin.Context) {
	var body struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if body.Token == "" {
		body.Token = signal.BearerToken(c.GetHeader("Authorization"))
	}
	user, err := h.orch.Authenticate(c.Request.Context(), body.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	s := sessions.Default(c)
	s.Set(signal.SessionTokenKey, body.Token)
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *handlers) deleteSession(c *gin.Context) {
	s := sessions.Default(c)
	s.Clear()
	_ = s.Save()
	c.Status(http.StatusNoContent)
}

func (h *handlers) presence(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": h.orch.Registry.OnlineUsers()})
}

func (h *handlers) activeUsers(c *gin.Context) {
	board := domain.BoardID(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"boardId": board, "users": h.orch.ActiveUsers(board)})
}

// emitToUser lets the CRUD layer push an event to every tab of one user.
func (h *handlers) emitToUser(c *gin.Context) {
	id := domain.UserID(c.Param("id"))
	if err := id.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var body struct {
		Type string          `json:"type" binding:"required"`
		Data json.RawMessage `json:"data"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type is required"})
		return
	}
	res := h.orch.EmitToUser(id, body.Type, body.Data)
	c.JSON(http.StatusAccepted, gin.H{"sentTo": res.SendTo, "dropped": len(res.Dropped)})
}
