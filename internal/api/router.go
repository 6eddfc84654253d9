package api

import (
	httpSwagger "github.com/swaggo/http-swagger"

	_ "open-data-insight/docs"
	"open-data-insight/internal/api/handler"
	"open-data-insight/pkg/router"
)

// @title Open Data Insight API
// @version 1.0
// @description Connects to open-data REST feeds, ingests them in the background and serves schema, statistics and charts.
// @BasePath /

func RegisterRoutes(r *router.Router, h *handler.Handler) {
	r.GET("/healthz", h.Health)

	r.POST("/connections/test", h.TestConnection)
	r.POST("/connections", h.CreateConnection)
	r.GET("/connections", h.ListConnections)
	r.GET("/connections/{id}", h.GetConnection)

	r.POST("/connections/{id}/ingest", h.TriggerIngestion)
	r.GET("/connections/{id}/ingest", h.ListIngestionJobs)
	r.GET("/connections/{id}/ingest/{job_id}", h.GetIngestionJob)

	r.GET("/connections/{id}/analysis", h.GetAnalysis)

	r.Handle("GET /swagger/", httpSwagger.WrapHandler)
}
