package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/deepresearch/internal/server/middleware"
	"github.com/OFFIS-RIT/deepresearch/pkg/logger"
	"github.com/OFFIS-RIT/deepresearch/pkg/store"

	"github.com/labstack/echo/v4"
)

// DeleteResearchHandler removes a run and its stored report. Running runs
// are refused so a worker never writes into a deleted record.
func DeleteResearchHandler(c echo.Context) error {
	run, err := loadRun(c, "research.delete")
	if run == nil {
		return err
	}

	status := RunStatus(run)
	if status == "running" {
		return c.JSON(http.StatusConflict, map[string]string{"error": "Research run is still running"})
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	if run.ReportKey != "" && app.Reports != nil {
		if err := app.Reports.DeleteReport(ctx, run.ReportKey); err != nil {
			logger.Warn("[Server] Failed to delete stored report", "run_id", run.ID, "err", err)
		}
	}

	if err := app.Runs.DeleteRun(ctx, run.ID); err != nil && !errors.Is(err, store.ErrRunNotFound) {
		logger.Error("[Server] Failed to delete run", "run_id", run.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Research run deleted"})
}
