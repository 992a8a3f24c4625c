package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"attendance_bot/internal/domain"
	"attendance_bot/internal/model"
	"attendance_bot/internal/service/relay"
)

// Relay операции ретранслятора, доступные через HTTP
type Relay interface {
	Create(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, bool, error)
	Lookup(ctx context.Context, q domain.LookupQuery) ([]model.AttendanceRecord, error)
	History(ctx context.Context, eventID string) ([]model.AttendanceRecord, error)
	Export(ctx context.Context, eventID, format string) (*bytes.Buffer, string, string, error)
	Subscribe() (<-chan model.AttendanceRecord, func())
}

type Options struct {
	AdminPassword string
	JWTSecret     string
	JWTTTL        time.Duration
	CORSOrigins   []string
}

type handler struct {
	logger   *zap.Logger
	relay    Relay
	tokens   *TokenManager
	password string
}

func NewRouter(r Relay, opts Options, logger *zap.Logger) *gin.Engine {
	secret := opts.JWTSecret
	if secret == "" {
		secret = opts.AdminPassword
	}
	h := &handler{
		logger:   logger,
		relay:    r,
		tokens:   NewTokenManager(secret, opts.JWTTTL),
		password: opts.AdminPassword,
	}

	engine := gin.New()
	engine.Use(requestLogger(logger), gin.Recovery())
	_ = engine.SetTrustedProxies(nil)
	engine.Use(cors.New(corsConfig(opts.CORSOrigins)))

	engine.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	api := engine.Group("/api")
	api.POST("/attendance", h.createAttendance)
	api.GET("/lookup", h.lookup)
	api.POST("/auth/login", h.login)

	admin := api.Group("", requireAdmin(opts.AdminPassword, h.tokens))
	admin.GET("/attendance", h.history)
	admin.GET("/admin/stream", h.stream)
	admin.GET("/admin/export", h.export)

	return engine
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", adminKeyHeader},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (h *handler) createAttendance(c *gin.Context) {
	var rec model.AttendanceRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	out, created, err := h.relay.Create(c.Request.Context(), rec)
	switch {
	case errors.Is(err, domain.ErrInvalidRecord):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("error creating attendance", zap.Error(err), zap.String("event_id", rec.EventID))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to save record"})
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, out)
}

func (h *handler) lookup(c *gin.Context) {
	q := domain.LookupQuery{
		Email:   c.Query("email"),
		Phone:   c.Query("phone"),
		EventID: c.Query("eventId"),
	}
	records, err := h.relay.Lookup(c.Request.Context(), q)
	switch {
	case errors.Is(err, domain.ErrLookupCriteria):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("error looking up attendance", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, records)
}

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

func (h *handler) login(c *gin.Context) {
	if h.password == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "admin login disabled"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password required"})
		return
	}
	if !equalSecret(req.Password, h.password) {
		h.logger.Warn("admin login rejected", zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
		return
	}
	token, exp, err := h.tokens.Issue()
	if err != nil {
		h.logger.Error("error issuing token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expiresAt": exp.UTC().Format(time.RFC3339)})
}

func (h *handler) history(c *gin.Context) {
	records, err := h.relay.History(c.Request.Context(), c.Query("eventId"))
	if err != nil {
		h.logger.Error("error reading history", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *handler) stream(c *gin.Context) {
	events, unsubscribe := h.relay.Subscribe()
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.SSEvent("ready", gin.H{"ok": true})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case rec, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("attendance", rec)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *handler) export(c *gin.Context) {
	buf, contentType, name, err := h.relay.Export(c.Request.Context(), c.Query("eventId"), c.Query("format"))
	switch {
	case errors.Is(err, relay.ErrExportFormat):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("error exporting attendance", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "export failed"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, contentType, buf.Bytes())
}
