package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/tvkpi/internal/server/middleware"
	"github.com/OFFIS-RIT/tvkpi/pkg/common"
	"github.com/OFFIS-RIT/tvkpi/pkg/graph"
	"github.com/OFFIS-RIT/tvkpi/pkg/logger"
	"github.com/OFFIS-RIT/tvkpi/pkg/store"

	"github.com/labstack/echo/v4"
)

type errorResponse struct {
	Error string `json:"error"`
}

func loadSnapshot(c echo.Context) (*middleware.Snapshot, error) {
	return c.(*middleware.AppContext).App.Snapshot(c.Request().Context())
}

func snapshotError(c echo.Context, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "No aggregate available yet"})
	}
	logger.Error("Failed to load graph", "err", err)
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
}

// GetGraphHandler returns the graph in node-link form.
func GetGraphHandler(c echo.Context) error {
	snap, err := loadSnapshot(c)
	if err != nil {
		return snapshotError(c, err)
	}
	return c.JSON(http.StatusOK, snap.Graph)
}

// GetGraphMLHandler returns the graph as GraphML.
func GetGraphMLHandler(c echo.Context) error {
	snap, err := loadSnapshot(c)
	if err != nil {
		return snapshotError(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/graphml+xml")
	c.Response().WriteHeader(http.StatusOK)
	return snap.Graph.WriteGraphML(c.Response())
}

// GetStatsHandler returns node and edge counts with the aggregate summary.
func GetStatsHandler(c echo.Context) error {
	type statsResponse struct {
		Graph     graph.Stats             `json:"graph"`
		Aggregate common.AggregateSummary `json:"aggregate"`
	}

	snap, err := loadSnapshot(c)
	if err != nil {
		return snapshotError(c, err)
	}
	return c.JSON(http.StatusOK, statsResponse{
		Graph:     snap.Graph.Stats(),
		Aggregate: snap.Aggregate.Summary,
	})
}

// ReloadHandler reloads the aggregate from the store.
func ReloadHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	snap, err := app.Reload(c.Request().Context())
	if err != nil {
		return snapshotError(c, err)
	}
	return c.JSON(http.StatusOK, snap.Graph.Stats())
}
