package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gis-utility-platform/api/internal/config"
	"github.com/gis-utility-platform/api/internal/http/handlers"
	"github.com/gis-utility-platform/api/internal/http/middleware"

	_ "github.com/gis-utility-platform/api/docs"
)

// Router wires the handler onto gin. events may be nil, in which case
// /ws/events is not served.
func Router(cfg config.Config, h *handlers.Handler, events http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(h.Logger))

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.AdminKeyHeader, middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if cfg.AllowAllOrigins() {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORSOrigins()
		corsCfg.AllowCredentials = true
	}
	r.Use(middleware.CORS(corsCfg))

	r.GET("/health", h.Health)
	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	if cfg.RequestTimeout > 0 {
		api.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	{
		api.POST("/complaints", h.CreateComplaint)
		api.GET("/complaints", h.ListComplaints)
		api.GET("/complaints/nearby", h.NearbyComplaints)
		api.GET("/complaints/:id", h.ComplaintDetails)
		api.POST("/complaints/:id/withdraw", h.WithdrawComplaint)
		api.POST("/complaints/:id/status", h.UpdateStatus)

		api.POST("/technicians", h.RegisterTechnician)
		api.GET("/technicians", h.ListTechnicians)
		api.GET("/technicians/:id", h.TechnicianDetails)
		api.POST("/technicians/:id/location", h.TechnicianLocation)

		api.GET("/dispatch/next", h.DispatchNext)
		api.GET("/sla/breaches", h.SLABreaches)
		api.GET("/sla/policy", h.SLAPolicy)
		api.GET("/dashboard/stats", h.DashboardStats)
		api.GET("/dashboard/category-distribution", h.CategoryDistribution)
		api.GET("/dashboard/complaint-trends", h.ComplaintTrends)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/complaints/:id/reassign", h.Reassign)
		admin.GET("/dispatch/queue", h.DispatchQueue)
		admin.POST("/dispatch/run", h.DispatchRun)
		admin.POST("/sla/check", h.SLACheck)
	}

	if events != nil {
		r.GET("/ws/events", gin.WrapH(events))
	}
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
