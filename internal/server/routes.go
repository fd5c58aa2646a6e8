package server

import (
	"github.com/OFFIS-RIT/deepresearch/internal/server/middleware"
	"github.com/OFFIS-RIT/deepresearch/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Research run routes
	apiRoutes.POST("/research", routes.CreateResearchHandler, middleware.RequirePermission("research.create"))
	apiRoutes.GET("/research/:id", routes.GetResearchHandler)
	apiRoutes.GET("/research/:id/report", routes.GetResearchReportHandler)
	apiRoutes.POST("/research/:id/ask", routes.AskResearchHandler, middleware.RequirePermission("research.ask"))
	apiRoutes.DELETE("/research/:id", routes.DeleteResearchHandler)
}
