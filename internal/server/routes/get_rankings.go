package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/tvkpi/pkg/graph"

	"github.com/labstack/echo/v4"
)

type rankingResponse struct {
	Ranking []graph.Ranked `json:"ranking"`
}

// GetPageRankHandler returns the nodes with the highest PageRank.
func GetPageRankHandler(c echo.Context) error {
	type getPageRankParams struct {
		Limit int `query:"limit" validate:"omitempty,min=1,max=1000"`
	}

	params := new(getPageRankParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request params"})
	}
	if params.Limit == 0 {
		params.Limit = 10
	}

	snap, err := loadSnapshot(c)
	if err != nil {
		return snapshotError(c, err)
	}
	return c.JSON(http.StatusOK, rankingResponse{Ranking: nonNil(snap.Graph.TopByPageRank(params.Limit))})
}

// GetDegreeHandler returns the nodes with the highest degree, optionally
// restricted to one node type.
func GetDegreeHandler(c echo.Context) error {
	type getDegreeParams struct {
		Type  string `query:"type" validate:"omitempty,oneof=company kpi factor"`
		Limit int    `query:"limit" validate:"omitempty,min=1,max=1000"`
	}

	params := new(getDegreeParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request params"})
	}
	if params.Limit == 0 {
		params.Limit = 5
	}

	snap, err := loadSnapshot(c)
	if err != nil {
		return snapshotError(c, err)
	}
	ranking := snap.Graph.TopByDegree(graph.NodeType(params.Type), params.Limit)
	return c.JSON(http.StatusOK, rankingResponse{Ranking: nonNil(ranking)})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
