package queue

import (
	"encoding/json"
	"fmt"
)

// ResearchJobMsg asks a worker to execute a queued run. Topic and parameters
// are read from the run record.
type ResearchJobMsg struct {
	RunID   string `json:"run_id"`
	Message string `json:"message,omitempty"`
}

// ProgressMsg is published on the events exchange under
// "research.<run id>.<event kind>".
type ProgressMsg struct {
	RunID     string `json:"run_id"`
	Kind      string `json:"kind"`
	Phase     string `json:"phase"`
	SectionID string `json:"section_id,omitempty"`
	Section   string `json:"section,omitempty"`
	Status    string `json:"status,omitempty"`
	Iteration int    `json:"iteration,omitempty"`
	Query     string `json:"query,omitempty"`
	Sources   int    `json:"sources"`
	Message   string `json:"message,omitempty"`
}

func ProgressTopic(runID, kind string) string {
	return fmt.Sprintf("research.%s.%s", runID, kind)
}

// PublishResearchJob enqueues runID on the research queue.
func PublishResearchJob(ch Publisher, runID, message string) error {
	data, err := json.Marshal(ResearchJobMsg{RunID: runID, Message: message})
	if err != nil {
		return err
	}
	return PublishFIFO(ch, ResearchQueue, data)
}
