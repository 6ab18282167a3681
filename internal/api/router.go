package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/judge/internal/api/handlers"
	"github.com/your-org/judge/internal/api/ws"
	"github.com/your-org/judge/internal/auth"
)

type RouterConfig struct {
	APIKey      string
	CORSOrigins []string
	Visitors    handlers.VisitorReader
	Frames      handlers.FrameReader
	Images      handlers.ImageStore
	Checks      map[string]handlers.Check
	Hub         *ws.Hub
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(corsMiddleware(cfg.CORSOrigins))

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	visitorH := handlers.NewVisitorHandler(cfg.Visitors)
	v1.GET("/visitors", visitorH.List)
	v1.GET("/visitors/:id", visitorH.Get)
	v1.GET("/visitors/:id/sessions", visitorH.Sessions)
	v1.GET("/visitors/:id/detections", visitorH.Detections)

	frameH := handlers.NewFrameHandler(cfg.Frames, cfg.Images)
	v1.GET("/frames/:id", frameH.Get)
	v1.GET("/frames/:id/image", frameH.Image)

	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		return cors.Default()
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", auth.HeaderName},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}
