package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/gatewayctl/internal/server/middleware"
)

func (s *Server) SetupRoutes() {
	limiter := middleware.NewRateLimiter(s.config.AdminRPS, s.config.AdminBurst, s.logger)

	admin := s.admin.Group("/apisix/admin")
	admin.Use(middleware.Identity("APISIX/" + s.config.Version))
	admin.Use(middleware.AdminKey(s.config.AdminKey))
	admin.Use(limiter.Middleware())
	admin.Use(middleware.ErrorHandler(s.logger))
	{
		admin.GET("/routes", s.listRoutes)
		admin.GET("/routes/:id", s.getRoute)
		admin.PUT("/routes/:id", s.putRoute)
		admin.DELETE("/routes/:id", s.deleteRoute)

		admin.GET("/consumers/:username", s.getConsumer)
		admin.PUT("/consumers", s.putConsumer)
		admin.PUT("/consumers/:username", s.putConsumer)
		admin.DELETE("/consumers/:username", s.deleteConsumer)

		admin.GET("/plugins/:name", s.getPlugin)
	}

	s.proxy.Use(middleware.Identity("APISIX/" + s.config.Version))
	s.proxy.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.proxy.NoRoute(s.serveProxy)
}
