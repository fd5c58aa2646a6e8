package store

import (
	"context"
	"errors"
	"time"
)

var ErrRunNotFound = errors.New("research run not found")

// Run phases that exist only outside the engine. The engine phases
// (planning, executing, reflecting, synthesizing, done, failed) are stored
// as they are reported.
const (
	PhaseQueued = "queued"
	PhaseDone   = "done"
	PhaseFailed = "failed"
)

// RunParams are the user supplied knobs of a run. Zero values fall back to
// the worker configuration.
type RunParams struct {
	MaxLoops           int    `json:"max_loops,omitempty"`
	MaxResultsPerQuery int    `json:"max_results_per_query,omitempty"`
	SnippetsOnly       bool   `json:"snippets_only,omitempty"`
	Language           string `json:"language,omitempty"`
}

// Run is the persisted record of a research run. State holds the JSON
// encoded engine state and is nil until the worker saved progress.
type Run struct {
	ID         string
	OwnerID    string
	Topic      string
	Params     RunParams
	Phase      string
	State      []byte
	Report     string
	ReportKey  string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time
}

// Finished reports whether a worker stored the result of the run.
func (r *Run) Finished() bool {
	return r.FinishedAt != nil
}

// RunStorage persists research runs.
type RunStorage interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	SaveProgress(ctx context.Context, id string, phase string, state []byte) error
	FinishRun(ctx context.Context, id string, result RunResult) error
	DeleteRun(ctx context.Context, id string) error
	ListStaleRuns(ctx context.Context, idleFor time.Duration) ([]Run, error)
}

// RunResult is what a worker writes when a run ends.
type RunResult struct {
	Phase     string
	State     []byte
	Report    string
	ReportKey string
	Error     string
}
