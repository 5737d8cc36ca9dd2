package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	mailevents "github.com/goliatone/go-mailevents"
	"github.com/goliatone/go-mailevents/core"
	"github.com/goliatone/go-mailevents/webhooks"
)

type RouterConfig struct {
	Config   core.Config
	Receiver *webhooks.Receiver
	// Facade backs the admin routes; required when admin routes are enabled.
	Facade *mailevents.Facade
	// Metrics is mounted at /metrics when set.
	Metrics     http.Handler
	Logger      core.Logger
	ErrorMapper core.ErrorMapper
}

func NewRouter(cfg RouterConfig) (*gin.Engine, error) {
	if cfg.Receiver == nil {
		return nil, core.NewError("httpapi: webhook receiver is required", goerrors.CategoryInternal, core.ErrorCodeInternal)
	}
	if cfg.Config.HTTP.AdminEnabled && cfg.Facade == nil {
		return nil, core.NewError("httpapi: admin routes need a facade", goerrors.CategoryInternal, core.ErrorCodeInternal)
	}
	logger := glog.Ensure(cfg.Logger)
	mapper := cfg.ErrorMapper
	if mapper == nil {
		mapper = core.DefaultErrorMapper
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	webhookPath := strings.TrimSpace(cfg.Config.Webhook.Path)
	if webhookPath == "" {
		webhookPath = core.DefaultWebhookPath
	}
	maxBody := cfg.Config.Webhook.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = core.DefaultMaxBodyBytes
	}
	receiver := &receiverHandler{receiver: cfg.Receiver, logger: logger, maxBodyBytes: maxBody}
	router.Any(webhookPath, receiver.handle)

	if cfg.Config.HTTP.AdminEnabled {
		admin := &adminHandler{facade: cfg.Facade, mapError: mapper}
		admin.RegisterRoutes(router.Group("/admin/events"))
	}
	return router, nil
}

func requestLogger(logger core.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		args := []any{
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
		}
		if requestID := c.GetHeader("X-Request-ID"); requestID != "" {
			args = append(args, "request_id", requestID)
		}
		log := logger.WithContext(c.Request.Context())
		switch {
		case status >= 500:
			log.Error("request failed", args...)
		case status >= 400:
			log.Warn("request rejected", args...)
		default:
			log.Debug("request served", args...)
		}
	}
}
