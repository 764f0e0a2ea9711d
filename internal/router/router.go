package router

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpy/paths"
	"github.com/psds-microservice/queue-service/api"
	"github.com/psds-microservice/queue-service/internal/handler"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func New(queueHandler *handler.QueueHandler, ready handler.ReadinessCheck, log zerolog.Logger) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(log))
	r.GET(paths.PathHealth, handler.Health)
	r.GET(paths.PathReady, handler.Ready(ready))
	r.GET(paths.PathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, paths.PathSwagger+"/") })
	r.GET(paths.PathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = paths.PathSwagger + "/index.html"
			c.Request.RequestURI = paths.PathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL(paths.PathSwagger+"/openapi.json"))(c)
	})

	v1 := r.Group("/api/v1")
	{
		v1.POST("/queue/entries", queueHandler.CheckIn)
		v1.GET("/queue/entries/:id", queueHandler.Get)
		v1.PATCH("/queue/entries/:id/status", queueHandler.UpdateStatus)
		v1.PATCH("/queue/entries/:id/priority", queueHandler.UpdatePriority)
		v1.GET("/queue/tickets/:ticket", queueHandler.GetByTicket)
		v1.GET("/queue/active", queueHandler.AllActiveQueues)

		v1.GET("/departments", queueHandler.Departments)
		v1.GET("/departments/:department/queue/active", queueHandler.ActiveQueue)
		v1.GET("/departments/:department/queue/today", queueHandler.TodayQueue)
		v1.GET("/departments/:department/queue/summary", queueHandler.Summary)
		v1.POST("/departments/:department/call-next", queueHandler.CallNext)
	}

	return r
}

// RequestLogger пишет строку zerolog на каждый запрос; 5xx пишутся на уровне error.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		evt := log.Info()
		if status >= http.StatusInternalServerError {
			evt = log.Error()
		}
		if len(c.Errors) > 0 {
			evt = evt.Str("errors", c.Errors.String())
		}
		evt.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("route", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("remote_ip", c.ClientIP()).
			Msg("request")
	}
}
