package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/deepresearch/internal/server/middleware"
	"github.com/OFFIS-RIT/deepresearch/pkg/store"

	"github.com/labstack/echo/v4"
)

// RunStatus maps a stored run onto the coarse status exposed by the API.
func RunStatus(run *store.Run) string {
	switch {
	case run.Finished() && run.Phase == store.PhaseFailed:
		return "failed"
	case run.Finished():
		return "completed"
	case run.Phase == store.PhaseQueued:
		return "queued"
	default:
		return "running"
	}
}

type runParams struct {
	ID string `param:"id" validate:"required,max=64"`
}

// loadRun binds the :id param, loads the run and checks that the user may
// access it. On failure the response has been written and the returned run
// is nil.
func loadRun(c echo.Context, permission string) (*store.Run, error) {
	params := new(runParams)
	if err := (&echo.DefaultBinder{}).BindPathParams(c, params); err != nil {
		return nil, c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return nil, c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	ac := c.(*middleware.AppContext)
	if ac.User == nil {
		return nil, c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	run, err := ac.App.Runs.GetRun(c.Request().Context(), params.ID)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			return nil, c.JSON(http.StatusNotFound, map[string]string{"error": "Research run not found"})
		}
		return nil, c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	// Foreign runs look like missing runs.
	if !middleware.CanAccessRun(ac.User, run.OwnerID, permission) {
		return nil, c.JSON(http.StatusNotFound, map[string]string{"error": "Research run not found"})
	}
	return run, nil
}
