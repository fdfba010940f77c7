package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/tvkpi/pkg/common"

	"github.com/labstack/echo/v4"
)

// GetCombinationsHandler returns the most mentioned KPI/factor pairs,
// optionally for one KPI or one factor.
func GetCombinationsHandler(c echo.Context) error {
	type getCombinationsParams struct {
		KPI    string `query:"kpi"`
		Factor string `query:"factor"`
		Limit  int    `query:"limit" validate:"omitempty,min=1,max=1000"`
	}

	type getCombinationsResponse struct {
		Total        int                           `json:"total"`
		Combinations []common.KpiFactorCombination `json:"combinations"`
	}

	params := new(getCombinationsParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request params"})
	}

	snap, err := loadSnapshot(c)
	if err != nil {
		return snapshotError(c, err)
	}

	combos := make([]common.KpiFactorCombination, 0, len(snap.Aggregate.Combinations))
	for _, combo := range snap.Aggregate.Combinations {
		if params.KPI != "" && combo.KPI != params.KPI {
			continue
		}
		if params.Factor != "" && combo.Factor != params.Factor {
			continue
		}
		combos = append(combos, combo)
	}
	total := len(combos)
	if params.Limit > 0 && len(combos) > params.Limit {
		combos = combos[:params.Limit]
	}

	return c.JSON(http.StatusOK, getCombinationsResponse{Total: total, Combinations: combos})
}

// GetCompanyHandler returns the summary of one company.
func GetCompanyHandler(c echo.Context) error {
	type getCompanyParams struct {
		Name string `param:"name" validate:"required"`
	}

	params := new(getCompanyParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request params"})
	}

	snap, err := loadSnapshot(c)
	if err != nil {
		return snapshotError(c, err)
	}
	summary, ok := snap.Aggregate.ByCompany[params.Name]
	if !ok {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "Company not found"})
	}
	return c.JSON(http.StatusOK, summary)
}
