// api/router.go
package api

import (
	"database/sql"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/Annany2002/nebula-gateway/api/handlers"
	"github.com/Annany2002/nebula-gateway/api/middleware"
	"github.com/Annany2002/nebula-gateway/config"
	"github.com/Annany2002/nebula-gateway/internal/core"
	"github.com/Annany2002/nebula-gateway/internal/engine"
	"github.com/Annany2002/nebula-gateway/internal/logger"
	"github.com/Annany2002/nebula-gateway/internal/permission"
	"github.com/Annany2002/nebula-gateway/internal/schema"
)

var customLog = logger.NewLogger()

// SetupRouter initializes the Gin router and sets up all routes.
func SetupRouter(metaDB *sql.DB, cfg *config.Config, svc *Services) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.HandleMethodNotAllowed = true

	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		customLog.Warnf("Invalid TRUSTED_PROXIES %v, trusting none: %v", cfg.TrustedProxies, err)
		_ = router.SetTrustedProxies(nil)
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSAllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept", "Authorization", middleware.APIKeyHeader},
		ExposeHeaders:    []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: !containsWildcard(cfg.CORSAllowedOrigins),
	}))
	router.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedExtensions([]string{".png", ".gif", ".jpeg", ".jpg", ".webp", ".ico", ".svg", ".pdf", ".mp4"})))
	// Must run before the throttle and the handlers so their errors are rendered.
	router.Use(middleware.ErrorHandler())
	if cfg.IPThrottleRPS > 0 {
		router.Use(middleware.IPThrottleMiddleware(middleware.NewIPThrottle(cfg.IPThrottleRPS, cfg.IPThrottleBurst)))
	}
	router.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	router.NoRoute(func(c *gin.Context) {
		_ = c.Error(core.Errorf(core.ErrNotFound, "Route not found"))
	})
	router.NoMethod(func(c *gin.Context) {
		_ = c.Error(core.Errorf(core.ErrMethodNotAllowed, "Method not allowed"))
	})

	authHandler := handlers.NewAuthHandler(metaDB, cfg)
	gatewayHandler := handlers.NewGatewayHandler(
		metaDB,
		cfg,
		svc.Adapters,
		permission.NewResolver(metaDB, cfg.PermissiveWithoutRules),
		svc.Limiter,
		engine.New(schema.NewStore(metaDB)),
		svc.Uploads,
	)

	// --- Public Routes ---
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	router.POST("/auth/login", authHandler.Login)

	if cfg.UploadBackend == "local" && strings.HasPrefix(cfg.UploadPublicURL, "/") {
		router.Static(cfg.UploadPublicURL, cfg.UploadDir)
	}

	// --- Gateway Routes ---
	apiRoutes := router.Group("/api/v1")
	apiRoutes.Use(middleware.GatewayAuth(metaDB, cfg))
	{
		apiRoutes.GET("/:database_id", gatewayHandler.ListTables)

		apiRoutes.GET("/:database_id/:table", gatewayHandler.List)
		apiRoutes.POST("/:database_id/:table", gatewayHandler.Create)
		apiRoutes.PUT("/:database_id/:table", gatewayHandler.MissingID)
		apiRoutes.PATCH("/:database_id/:table", gatewayHandler.MissingID)
		apiRoutes.DELETE("/:database_id/:table", gatewayHandler.MissingID)

		apiRoutes.GET("/:database_id/:table/:id", gatewayHandler.Detail)
		apiRoutes.POST("/:database_id/:table/:id", gatewayHandler.Override)
		apiRoutes.PUT("/:database_id/:table/:id", gatewayHandler.Update)
		apiRoutes.PATCH("/:database_id/:table/:id", gatewayHandler.Update)
		apiRoutes.DELETE("/:database_id/:table/:id", gatewayHandler.Delete)
	}

	return router
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
