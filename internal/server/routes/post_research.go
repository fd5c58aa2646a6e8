package routes

import (
	"net/http"
	"strings"

	"github.com/OFFIS-RIT/deepresearch/internal/queue"
	"github.com/OFFIS-RIT/deepresearch/internal/server/middleware"
	"github.com/OFFIS-RIT/deepresearch/pkg/logger"
	"github.com/OFFIS-RIT/deepresearch/pkg/store"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// CreateResearchHandler stores a queued run and hands it to the workers.
func CreateResearchHandler(c echo.Context) error {
	type createResearchBody struct {
		Topic              string `json:"topic" validate:"required,min=3,max=500"`
		MaxLoops           int    `json:"max_loops" validate:"omitempty,min=1,max=10"`
		MaxResultsPerQuery int    `json:"max_results_per_query" validate:"omitempty,min=1,max=10"`
		SnippetsOnly       bool   `json:"snippets_only"`
		Language           string `json:"language" validate:"omitempty,max=40"`
	}

	type createResearchResponse struct {
		Message string `json:"message"`
		ID      string `json:"id,omitempty"`
		Status  string `json:"status,omitempty"`
	}

	data := new(createResearchBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, createResearchResponse{
			Message: "Invalid request body",
		})
	}
	data.Topic = strings.TrimSpace(data.Topic)
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, createResearchResponse{
			Message: "Invalid request body",
		})
	}

	ac := c.(*middleware.AppContext)
	if ac.User == nil {
		return c.JSON(http.StatusUnauthorized, createResearchResponse{
			Message: "Unauthorized",
		})
	}

	id, err := gonanoid.New()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, createResearchResponse{
			Message: "Internal server error",
		})
	}

	ctx := c.Request().Context()
	run := &store.Run{
		ID:      id,
		OwnerID: ac.User.UserID,
		Topic:   data.Topic,
		Params: store.RunParams{
			MaxLoops:           data.MaxLoops,
			MaxResultsPerQuery: data.MaxResultsPerQuery,
			SnippetsOnly:       data.SnippetsOnly,
			Language:           data.Language,
		},
		Phase: store.PhaseQueued,
	}
	if err := ac.App.Runs.CreateRun(ctx, run); err != nil {
		logger.Error("[Server] Failed to create run", "err", err)
		return c.JSON(http.StatusInternalServerError, createResearchResponse{
			Message: "Internal server error",
		})
	}

	// The run stays queued when publishing fails; stale run recovery in the
	// worker picks it up later.
	if err := queue.PublishResearchJob(ac.App.Queue, id, "Research requested"); err != nil {
		logger.Error("[Server] Failed to publish research job", "run_id", id, "err", err)
	}

	logger.Info("[Server] Research run queued", "run_id", id, "user", ac.User.UserID)
	return c.JSON(http.StatusAccepted, createResearchResponse{
		Message: "Research run queued",
		ID:      id,
		Status:  RunStatus(run),
	})
}

// AskResearchHandler answers a follow-up question from a finished report.
func AskResearchHandler(c echo.Context) error {
	type askBody struct {
		Question string `json:"question" validate:"required,max=2000"`
	}

	type askResponse struct {
		Question string `json:"question"`
		Answer   string `json:"answer"`
	}

	run, err := loadRun(c, "research.view:all")
	if run == nil {
		return err
	}

	data := new(askBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	data.Question = strings.TrimSpace(data.Question)
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	if RunStatus(run) != "completed" || run.Report == "" {
		return c.JSON(http.StatusConflict, map[string]string{"error": "Research run has no report yet"})
	}

	app := c.(*middleware.AppContext).App
	if app.Answerer == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Follow-up questions are disabled"})
	}

	answer, err := app.Answerer.Answer(c.Request().Context(), run.Report, data.Question, run.Params.Language)
	if err != nil {
		logger.Error("[Server] Failed to answer question", "run_id", run.ID, "err", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "Failed to answer question"})
	}

	return c.JSON(http.StatusOK, askResponse{Question: data.Question, Answer: answer})
}
