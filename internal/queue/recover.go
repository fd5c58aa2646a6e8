package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/deepresearch/pkg/logger"
	"github.com/OFFIS-RIT/deepresearch/pkg/store"
)

// RecoverStaleRuns republishes unfinished runs without progress for idleFor,
// e.g. after a worker crashed. Duplicate jobs are harmless: the run lease
// lets one worker execute a run and finished runs are skipped.
func RecoverStaleRuns(ctx context.Context, ch Publisher, runs store.RunStorage, idleFor time.Duration) error {
	stale, err := runs.ListStaleRuns(ctx, idleFor)
	if err != nil {
		return fmt.Errorf("failed to get stale runs: %w", err)
	}

	if len(stale) == 0 {
		logger.Debug("[Queue] No stale runs found")
		return nil
	}

	logger.Info("[Queue] Found stale runs", "count", len(stale))

	for _, run := range stale {
		if err := PublishResearchJob(ch, run.ID, "Recovered stale run"); err != nil {
			logger.Error("[Queue] Failed to republish run", "run_id", run.ID, "err", err)
			continue
		}
		logger.Info("[Queue] Recovered stale run", "run_id", run.ID, "phase", run.Phase, "idle", time.Since(run.UpdatedAt).Round(time.Second))
	}

	return nil
}
