package service

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the gin engine serving the read API under /v1.
func NewRouter(ts *TelemetryService) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	api := router.Group("/v1")
	registerTelemetryRoutes(api, ts)

	return router
}

func registerTelemetryRoutes(router *gin.RouterGroup, ts *TelemetryService) {
	router.GET("/snapshot", ts.GetSnapshot)
	router.GET("/overview", ts.GetOverview)
	router.GET("/triggers", ts.GetTriggers)
	router.GET("/positions", ts.GetPositions)
	router.GET("/strategies", ts.GetStrategies)
	router.GET("/strategy-log", ts.GetStrategyLog)
	router.GET("/feed", ts.GetFeed)
	router.GET("/health", ts.GetHealth)
	router.GET("/trades", ts.GetTrades)
	router.GET("/trades.csv", ts.GetTradesCSV)
	router.POST("/commands", ts.PostCommand)
	router.GET("/stream", ts.Stream)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("component", "http").
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
