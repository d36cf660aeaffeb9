package router

import (
	"net/http"
	"strconv"

	"loopsync/backend/internal/api"
	"loopsync/backend/pkg/di"
	"loopsync/backend/pkg/errors"
	"loopsync/backend/pkg/logger"
	"loopsync/backend/pkg/middleware"
	"loopsync/backend/pkg/observability"

	"github.com/gin-gonic/gin"
)

// Router is the main router for the application
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	logger.SetGlobal(container.Logger)

	if container.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Request ID first so the logger and error handler can use it
	engine.Use(middleware.RequestIDMiddleware())
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(metricsMiddleware(container.Metrics))
	engine.Use(corsMiddleware(container.Config.Security.AllowedOrigins))
	engine.Use(middleware.IdentityMiddleware())

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	r.setupHealthRoutes()

	if r.Container.Metrics != nil {
		r.Engine.GET("/metrics", gin.WrapH(r.Container.Metrics.Handler()))
	}

	apiGroup := r.Engine.Group("/api")
	if path := r.Container.Config.Security.OpenAPISchemaPath; path != "" {
		r.AddOpenAPIValidation(apiGroup, path)
	}

	// Chat routes are throttled by the guardrail rate limiter, which answers
	// with an assistant-shaped reply instead of a 429.
	chatController := api.NewChatController(r.Container.Assistant)
	chatController.RegisterRoutes(apiGroup)

	limited := apiGroup.Group("")
	limited.Use(r.Container.APILimiter.Middleware())
	analyticsController := api.NewAnalyticsController(r.Container.Store, r.Container.Config.Conversation.HistoryDefault)
	analyticsController.RegisterRoutes(limited)

	r.Engine.GET("/ws/coro", r.Container.Hub.ServeWs)
}

// metricsMiddleware counts requests by route template and status
func metricsMiddleware(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTP(route, strconv.Itoa(c.Writer.Status()))
	}
}

// corsMiddleware allows the configured origins, or any origin for "*"
func corsMiddleware(allowed []string) gin.HandlerFunc {
	allowAll := len(allowed) == 0
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		switch {
		case allowAll:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && set[origin]:
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, X-Request-ID, Origin, Upgrade, Connection, Cache-Control")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Upgrade, Connection")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
