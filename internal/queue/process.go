package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/deepresearch/pkg/leaselock"
	"github.com/OFFIS-RIT/deepresearch/pkg/logger"
	"github.com/OFFIS-RIT/deepresearch/pkg/research"
	"github.com/OFFIS-RIT/deepresearch/pkg/store"
)

// Researcher executes one research run. *research.Orchestrator implements it.
type Researcher interface {
	Run(ctx context.Context, params research.Params) (*research.State, error)
}

// ReportUploader stores a finished report and returns its object key.
type ReportUploader interface {
	PutReport(ctx context.Context, runID string, report string) (string, error)
}

// Locker serializes work on a key across workers.
type Locker interface {
	WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

// ResearchProcessor executes research jobs taken from the research queue.
// Reports and Events are optional.
type ResearchProcessor struct {
	Runs          store.RunStorage
	Locks         Locker
	Reports       ReportUploader
	Events        Publisher
	NewResearcher func(hooks research.Hooks) Researcher

	LeaseTTL time.Duration
	Holder   string
}

// ProcessResearchMessage runs the job in body. It returns an error only when
// the message should be retried: malformed jobs, storage failures and runs
// interrupted by shutdown or a lost lease. A failed run is a result and is
// stored, not retried.
func (p *ResearchProcessor) ProcessResearchMessage(ctx context.Context, body []byte) error {
	var msg ResearchJobMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("decode research job: %w", err)
	}
	if msg.RunID == "" {
		return errors.New("research job without run id")
	}

	run, err := p.Runs.GetRun(ctx, msg.RunID)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			logger.Warn("[Queue] Run no longer exists, dropping job", "run_id", msg.RunID)
			return nil
		}
		return err
	}
	if run.Finished() {
		logger.Info("[Queue] Run already finished, skipping", "run_id", run.ID, "phase", run.Phase)
		return nil
	}

	opts := leaselock.Options{TTL: p.LeaseTTL, Holder: p.Holder}
	err = p.Locks.WithLease(ctx, leaselock.RunKey(run.ID), opts, func(ctx context.Context) error {
		return p.execute(ctx, run)
	})
	if errors.Is(err, leaselock.ErrBusy) {
		logger.Info("[Queue] Run is executed by another worker", "run_id", run.ID)
		return nil
	}
	return err
}

func (p *ResearchProcessor) execute(ctx context.Context, run *store.Run) error {
	logger.Info("[Queue] Executing research run", "run_id", run.ID, "topic", run.Topic)

	hooks := &progressHooks{ctx: ctx, runID: run.ID, runs: p.Runs, events: p.Events}
	state, runErr := p.NewResearcher(hooks).Run(ctx, research.Params{
		RunID:              run.ID,
		Topic:              run.Topic,
		MaxLoops:           run.Params.MaxLoops,
		MaxResultsPerQuery: run.Params.MaxResultsPerQuery,
		SnippetsOnly:       run.Params.SnippetsOnly,
		Language:           run.Params.Language,
	})

	// A cancelled run would leave a partial report behind; let another
	// delivery start over.
	if ctx.Err() != nil {
		return fmt.Errorf("run %s interrupted: %w", run.ID, context.Cause(ctx))
	}

	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state of run %s: %w", run.ID, err)
	}

	if runErr != nil {
		logger.Error("[Queue] Research run failed", "run_id", run.ID, "err", runErr)
		return p.Runs.FinishRun(ctx, run.ID, store.RunResult{
			Phase: store.PhaseFailed,
			State: encoded,
			Error: runErr.Error(),
		})
	}

	var key string
	if p.Reports != nil {
		key, err = p.Reports.PutReport(ctx, run.ID, state.Report)
		if err != nil {
			logger.Warn("[Queue] Report upload failed, keeping report in database only", "run_id", run.ID, "err", err)
			key = ""
		}
	}

	if err := p.Runs.FinishRun(ctx, run.ID, store.RunResult{
		Phase:     store.PhaseDone,
		State:     encoded,
		Report:    state.Report,
		ReportKey: key,
	}); err != nil {
		return err
	}

	logger.Info("[Queue] Research run stored", "run_id", run.ID, "sources", state.Sources.Len(), "report_key", key)
	return nil
}

// progressHooks persists checkpoints and broadcasts progress. Worker runs
// are never interactive, so plan and query reviews approve unchanged.
type progressHooks struct {
	research.NopHooks

	ctx    context.Context
	runID  string
	runs   store.RunStorage
	events Publisher
}

func (h *progressHooks) Progress(e research.Event) {
	if h.events != nil {
		h.publish(e)
	}

	// Terminal phases are written together with the result by FinishRun.
	if e.Phase == research.PhaseDone || e.Phase == research.PhaseFailed {
		return
	}

	var state []byte
	switch e.Kind {
	case research.EventPhase:
	case research.EventPlanCreated, research.EventPlanRefined, research.EventSectionFinished:
		if e.State != nil {
			encoded, err := json.Marshal(e.State)
			if err != nil {
				logger.Warn("[Queue] Failed to encode checkpoint", "run_id", h.runID, "err", err)
				return
			}
			state = encoded
		}
	default:
		return
	}

	if err := h.runs.SaveProgress(h.ctx, h.runID, string(e.Phase), state); err != nil {
		logger.Warn("[Queue] Failed to save progress", "run_id", h.runID, "kind", e.Kind, "err", err)
	}
}

func (h *progressHooks) publish(e research.Event) {
	data, err := json.Marshal(ProgressMsg{
		RunID:     h.runID,
		Kind:      string(e.Kind),
		Phase:     string(e.Phase),
		SectionID: e.SectionID,
		Section:   e.Section,
		Status:    string(e.Status),
		Iteration: e.Iteration,
		Query:     e.Query,
		Sources:   e.Sources,
		Message:   e.Message,
	})
	if err != nil {
		return
	}
	if err := PublishTopic(h.events, ProgressTopic(h.runID, string(e.Kind)), data); err != nil {
		logger.Debug("[Queue] Failed to publish progress", "run_id", h.runID, "err", err)
	}
}
