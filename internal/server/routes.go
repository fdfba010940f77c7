package server

import (
	"github.com/OFFIS-RIT/tvkpi/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api")

	// Graph routes
	apiRoutes.GET("/graph", routes.GetGraphHandler)
	apiRoutes.GET("/graph/graphml", routes.GetGraphMLHandler)
	apiRoutes.GET("/graph/stats", routes.GetStatsHandler)
	apiRoutes.POST("/graph/reload", routes.ReloadHandler)

	// Ranking routes
	apiRoutes.GET("/rankings/pagerank", routes.GetPageRankHandler)
	apiRoutes.GET("/rankings/degree", routes.GetDegreeHandler)

	// Aggregate routes
	apiRoutes.GET("/combinations", routes.GetCombinationsHandler)
	apiRoutes.GET("/companies/:name", routes.GetCompanyHandler)
}
