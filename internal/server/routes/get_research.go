package routes

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/OFFIS-RIT/deepresearch/internal/server/middleware"
	"github.com/OFFIS-RIT/deepresearch/pkg/common"
	"github.com/OFFIS-RIT/deepresearch/pkg/logger"
	"github.com/OFFIS-RIT/deepresearch/pkg/research"
	"github.com/OFFIS-RIT/deepresearch/pkg/store"

	"github.com/labstack/echo/v4"
)

type runResponse struct {
	ID         string                 `json:"id"`
	Topic      string                 `json:"topic"`
	Status     string                 `json:"status"`
	Phase      string                 `json:"phase"`
	Params     store.RunParams        `json:"params"`
	Sections   []research.SectionPlan `json:"sections,omitempty"`
	Sources    []common.Source        `json:"sources,omitempty"`
	Report     string                 `json:"report,omitempty"`
	Error      string                 `json:"error,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
	FinishedAt *time.Time             `json:"finished_at,omitempty"`
}

// runCheckpoint is the part of the saved engine state the API exposes.
type runCheckpoint struct {
	Sections []research.SectionPlan `json:"sections"`
	Sources  []common.Source        `json:"sources"`
}

// GetResearchHandler returns status, plan progress and, once finished, the
// report of a run.
func GetResearchHandler(c echo.Context) error {
	run, err := loadRun(c, "research.view:all")
	if run == nil {
		return err
	}

	res := runResponse{
		ID:         run.ID,
		Topic:      run.Topic,
		Status:     RunStatus(run),
		Phase:      run.Phase,
		Params:     run.Params,
		Report:     run.Report,
		Error:      run.Error,
		CreatedAt:  run.CreatedAt,
		UpdatedAt:  run.UpdatedAt,
		FinishedAt: run.FinishedAt,
	}

	if len(run.State) > 0 {
		var checkpoint runCheckpoint
		if err := json.Unmarshal(run.State, &checkpoint); err != nil {
			logger.Warn("[Server] Failed to decode run state", "run_id", run.ID, "err", err)
		} else {
			res.Sections = checkpoint.Sections
			res.Sources = checkpoint.Sources
		}
	}

	return c.JSON(http.StatusOK, res)
}

// GetResearchReportHandler returns the markdown report. With object storage
// configured it redirects to a presigned download link instead.
func GetResearchReportHandler(c echo.Context) error {
	run, err := loadRun(c, "research.view:all")
	if run == nil {
		return err
	}

	if RunStatus(run) != "completed" {
		return c.JSON(http.StatusConflict, map[string]string{"error": "Research run has no report yet"})
	}

	app := c.(*middleware.AppContext).App
	if run.ReportKey != "" && app.Reports != nil && c.QueryParam("inline") == "" {
		link, err := app.Reports.DownloadLink(c.Request().Context(), run.ReportKey)
		if err == nil {
			return c.Redirect(http.StatusTemporaryRedirect, link)
		}
		logger.Warn("[Server] Failed to presign report, serving it inline", "run_id", run.ID, "err", err)
	}

	report := run.Report
	if report == "" && run.ReportKey != "" && app.Reports != nil {
		report, err = app.Reports.GetReport(c.Request().Context(), run.ReportKey)
		if err != nil {
			logger.Error("[Server] Failed to load report", "run_id", run.ID, "err", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		}
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, `inline; filename="`+run.ID+`.md"`)
	return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", []byte(report))
}
