package httptransport

import (
	"log/slog"

	"github.com/ErlanBelekov/pg-executor/internal/transport/http/handler"
	"github.com/ErlanBelekov/pg-executor/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"
)

func NewRouter(logger *slog.Logger, ops *handler.OpsHandler, jwtKey []byte) *gin.Engine {
	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestID(),
		sloggin.New(logger),
		middleware.Metrics(),
	)

	v1 := r.Group("/v1", middleware.Auth(jwtKey))
	v1.GET("/cron/jobs", ops.ListCronJobs)
	v1.GET("/cron/runs", ops.ListCronJobRuns)
	v1.GET("/executor/jobs", ops.ListExecutorJobs)

	return r
}
