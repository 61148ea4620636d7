package app

import (
	"github.com/zeitwise/detox-backend/internal/data/repos"
	httpserver "github.com/zeitwise/detox-backend/internal/http"
	httpH "github.com/zeitwise/detox-backend/internal/http/handlers"
	httpMW "github.com/zeitwise/detox-backend/internal/http/middleware"
	"github.com/zeitwise/detox-backend/internal/services"
)

func routerConfig(a *App, auth services.AuthService, jobs services.JobService, items repos.DetoxItemRepo, cfg Config) httpserver.RouterConfig {
	log := a.Log
	return httpserver.RouterConfig{
		Log:            log,
		Metrics:        a.Metrics,
		ServiceName:    cfg.ServiceName,
		CORSOrigins:    cfg.CORSOrigins,
		AuthMiddleware: httpMW.NewAuthMiddleware(log, auth),
		HealthHandler:  httpH.NewHealthHandler(),
		DetoxHandler:   httpH.NewDetoxHandler(log, services.NewDetoxService(a.DB, log, items, jobs)),
		MemeHandler:    httpH.NewMemeHandler(log, services.NewMemeService(log, jobs), cfg.Worker.MaxAttempts),
	}
}
