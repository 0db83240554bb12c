package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	outclick "github.com/outclick-labs/outclick"
	"github.com/outclick-labs/outclick/api/middleware"
	"github.com/outclick-labs/outclick/config"
)

type Api struct {
	engine *outclick.Outclick
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/conversions", a.RecordConversion)
	router.GET("/conversions", a.SearchConversions)
	router.GET("/conversions/:id", a.GetConversion)
	router.POST("/conversions/:id/approve", a.ApproveConversion)
	router.POST("/conversions/:id/reject", a.RejectConversion)
	router.POST("/conversions/:id/hold", a.HoldConversion)

	router.GET("/webhooks/:id/deliveries", a.GetDeliveryLogs)
	return a.router
}

func NewAPI(engine *outclick.Outclick) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	if conf.EnableTelemetry {
		r.Use(otelgin.Middleware("outclick-api"))
	}
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.SecretKey != "" {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &Api{engine: engine, router: r}
}
