package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/zeitwise/detox-backend/internal/http/handlers"
	httpMW "github.com/zeitwise/detox-backend/internal/http/middleware"
	"github.com/zeitwise/detox-backend/internal/observability"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	ServiceName string
	CORSOrigins []string

	AuthMiddleware *httpMW.AuthMiddleware

	HealthHandler *httpH.HealthHandler
	DetoxHandler  *httpH.DetoxHandler
	MemeHandler   *httpH.MemeHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", cfg.Metrics.Handler())
	}

	api := r.Group("/api")
	if cfg.AuthMiddleware != nil {
		api.Use(cfg.AuthMiddleware.RequireAuth())
	}
	{
		if cfg.DetoxHandler != nil {
			api.POST("/detox/process", cfg.DetoxHandler.Process)
			api.GET("/detox/status/:id", cfg.DetoxHandler.Status)
		}
		if cfg.MemeHandler != nil {
			api.POST("/memes/generate", cfg.MemeHandler.Generate)
			api.GET("/memes/status/:task_id", cfg.MemeHandler.Status)
		}
	}

	return r
}
