package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OFFIS-RIT/deepresearch/pkg/leaselock"
	"github.com/OFFIS-RIT/deepresearch/pkg/research"
	"github.com/OFFIS-RIT/deepresearch/pkg/store"

	"github.com/rabbitmq/amqp091-go"
)

type published struct {
	exchange string
	key      string
	msg      amqp091.Publishing
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *fakePublisher) Publish(exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

type fakeAck struct {
	acked   int
	nacked  int
	requeue bool
}

func (a *fakeAck) Ack(uint64, bool) error { a.acked++; return nil }
func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}
func (a *fakeAck) Reject(uint64, bool) error { return nil }

func TestHandleProcessingErrorRetries(t *testing.T) {
	tests := []struct {
		name      string
		headers   amqp091.Table
		wantQueue string
		wantCount any
	}{
		{"first failure", nil, "research_queue_retry", int32(1)},
		{"counted failure", amqp091.Table{"x-retries": int32(3)}, "research_queue_retry", int32(4)},
		{"exhausted", amqp091.Table{"x-retries": int32(MaxRetries)}, "research_queue_dlq", int32(MaxRetries)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			ack := &fakeAck{}
			msg := amqp091.Delivery{Acknowledger: ack, Headers: tt.headers, Body: []byte(`{"run_id":"r1"}`)}

			HandleProcessingError(pub, msg, ResearchQueue)

			if len(pub.sent) != 1 || pub.sent[0].key != tt.wantQueue {
				t.Fatalf("expected publish to %s, got %+v", tt.wantQueue, pub.sent)
			}
			if got := pub.sent[0].msg.Headers["x-retries"]; got != tt.wantCount {
				t.Fatalf("expected x-retries %v, got %v", tt.wantCount, got)
			}
			if ack.acked != 1 {
				t.Fatalf("expected original delivery to be acked")
			}
		})
	}
}

func TestHandleProcessingErrorRequeuesOnPublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	ack := &fakeAck{}
	HandleProcessingError(pub, amqp091.Delivery{Acknowledger: ack}, ResearchQueue)
	if ack.nacked != 1 || !ack.requeue || ack.acked != 0 {
		t.Fatalf("expected nack with requeue, got %+v", ack)
	}
}

type fakeRuns struct {
	mu       sync.Mutex
	runs     map[string]*store.Run
	progress []string
	finished map[string]store.RunResult
	stale    []store.Run
}

func newFakeRuns(runs ...*store.Run) *fakeRuns {
	f := &fakeRuns{runs: map[string]*store.Run{}, finished: map[string]store.RunResult{}}
	for _, r := range runs {
		f.runs[r.ID] = r
	}
	return f
}

func (f *fakeRuns) CreateRun(_ context.Context, run *store.Run) error {
	f.runs[run.ID] = run
	return nil
}

func (f *fakeRuns) GetRun(_ context.Context, id string) (*store.Run, error) {
	r, ok := f.runs[id]
	if !ok {
		return nil, store.ErrRunNotFound
	}
	return r, nil
}

func (f *fakeRuns) SaveProgress(_ context.Context, id string, phase string, state []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry := phase
	if state != nil {
		entry += "+state"
	}
	f.progress = append(f.progress, entry)
	return nil
}

func (f *fakeRuns) FinishRun(_ context.Context, id string, result store.RunResult) error {
	f.finished[id] = result
	return nil
}

func (f *fakeRuns) DeleteRun(_ context.Context, id string) error {
	delete(f.runs, id)
	return nil
}

func (f *fakeRuns) ListStaleRuns(context.Context, time.Duration) ([]store.Run, error) {
	return f.stale, nil
}

type fakeLocker struct {
	busy bool
	keys []string
}

func (l *fakeLocker) WithLease(ctx context.Context, key string, _ leaselock.Options, fn func(context.Context) error) error {
	l.keys = append(l.keys, key)
	if l.busy {
		return leaselock.ErrBusy
	}
	return fn(ctx)
}

type fakeResearcher struct {
	hooks  research.Hooks
	params research.Params
	err    error
}

func (r *fakeResearcher) Run(_ context.Context, params research.Params) (*research.State, error) {
	r.params = params
	state := research.NewState(params.Topic, "English")
	state.ID = params.RunID
	state.Sections = []research.SectionPlan{{ID: "a", Title: "History", Objective: "o", Status: research.StatusPending}}

	emit := func(kind research.EventKind, phase research.Phase) {
		state.Phase = phase
		r.hooks.Progress(research.Event{Kind: kind, Phase: phase, State: state})
	}
	emit(research.EventPhase, research.PhasePlanning)
	if r.err != nil {
		state.Phase = research.PhaseFailed
		emit(research.EventFailed, research.PhaseFailed)
		return state, r.err
	}
	emit(research.EventPlanCreated, research.PhasePlanning)
	emit(research.EventSectionFinished, research.PhaseReflecting)
	emit(research.EventPhase, research.PhaseDone)
	state.Report = "# " + params.Topic + "\n"
	return state, nil
}

type fakeUploader struct {
	reports map[string]string
}

func (u *fakeUploader) PutReport(_ context.Context, runID, report string) (string, error) {
	u.reports[runID] = report
	return "reports/" + runID + ".md", nil
}

func newProcessor(runs *fakeRuns, researcher *fakeResearcher) (*ResearchProcessor, *fakePublisher, *fakeLocker, *fakeUploader) {
	pub := &fakePublisher{}
	locks := &fakeLocker{}
	uploader := &fakeUploader{reports: map[string]string{}}
	p := &ResearchProcessor{
		Runs:    runs,
		Locks:   locks,
		Reports: uploader,
		Events:  pub,
		NewResearcher: func(hooks research.Hooks) Researcher {
			researcher.hooks = hooks
			return researcher
		},
	}
	return p, pub, locks, uploader
}

func TestProcessResearchMessage(t *testing.T) {
	runs := newFakeRuns(&store.Run{
		ID:     "r1",
		Topic:  "Solar energy",
		Params: store.RunParams{MaxLoops: 2, Language: "Japanese"},
		Phase:  store.PhaseQueued,
	})
	researcher := &fakeResearcher{}
	p, pub, locks, uploader := newProcessor(runs, researcher)

	if err := p.ProcessResearchMessage(context.Background(), []byte(`{"run_id":"r1"}`)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if researcher.params.RunID != "r1" || researcher.params.MaxLoops != 2 || researcher.params.Language != "Japanese" {
		t.Fatalf("unexpected params %+v", researcher.params)
	}
	if len(locks.keys) != 1 || locks.keys[0] != "research_run:r1" {
		t.Fatalf("unexpected lease keys %v", locks.keys)
	}

	result := runs.finished["r1"]
	if result.Phase != store.PhaseDone || result.Report != "# Solar energy\n" || result.ReportKey != "reports/r1.md" {
		t.Fatalf("unexpected result %+v", result)
	}
	var restored research.State
	if err := json.Unmarshal(result.State, &restored); err != nil || restored.ID != "r1" {
		t.Fatalf("expected stored state, got %v", err)
	}
	if uploader.reports["r1"] != result.Report {
		t.Fatalf("expected uploaded report")
	}

	expected := []string{"planning", "planning+state", "reflecting+state"}
	if strings.Join(runs.progress, ",") != strings.Join(expected, ",") {
		t.Fatalf("expected checkpoints %v, got %v", expected, runs.progress)
	}
	if len(pub.sent) != 4 || pub.sent[0].exchange != EventsExchange || pub.sent[0].key != "research.r1.phase" {
		t.Fatalf("unexpected progress events %+v", pub.sent)
	}
}

func TestProcessResearchMessageStoresFailure(t *testing.T) {
	runs := newFakeRuns(&store.Run{ID: "r1", Topic: "Solar"})
	p, _, _, uploader := newProcessor(runs, &fakeResearcher{err: errors.New("planning failed")})

	if err := p.ProcessResearchMessage(context.Background(), []byte(`{"run_id":"r1"}`)); err != nil {
		t.Fatalf("expected failed run to be stored without retry, got %v", err)
	}
	result := runs.finished["r1"]
	if result.Phase != store.PhaseFailed || result.Error != "planning failed" {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(uploader.reports) != 0 {
		t.Fatalf("expected no upload for failed run")
	}
}

func TestProcessResearchMessageSkips(t *testing.T) {
	finishedAt := time.Now()
	tests := []struct {
		name string
		body string
		run  *store.Run
		busy bool
	}{
		{"unknown run", `{"run_id":"missing"}`, &store.Run{ID: "r1"}, false},
		{"finished run", `{"run_id":"r1"}`, &store.Run{ID: "r1", FinishedAt: &finishedAt}, false},
		{"leased elsewhere", `{"run_id":"r1"}`, &store.Run{ID: "r1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs := newFakeRuns(tt.run)
			researcher := &fakeResearcher{}
			p, _, locks, _ := newProcessor(runs, researcher)
			locks.busy = tt.busy

			if err := p.ProcessResearchMessage(context.Background(), []byte(tt.body)); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if researcher.params.RunID != "" || len(runs.finished) != 0 {
				t.Fatalf("expected run to be skipped")
			}
		})
	}
}

func TestProcessResearchMessageRejectsMalformed(t *testing.T) {
	p, _, _, _ := newProcessor(newFakeRuns(), &fakeResearcher{})
	for _, body := range []string{`not json`, `{}`} {
		if err := p.ProcessResearchMessage(context.Background(), []byte(body)); err == nil {
			t.Fatalf("expected error for %q", body)
		}
	}
}

func TestProcessResearchMessageRetriesCancelledRun(t *testing.T) {
	runs := newFakeRuns(&store.Run{ID: "r1", Topic: "Solar"})
	p, _, _, _ := newProcessor(runs, &fakeResearcher{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.ProcessResearchMessage(ctx, []byte(`{"run_id":"r1"}`)); err == nil {
		t.Fatalf("expected error for cancelled run")
	}
	if len(runs.finished) != 0 {
		t.Fatalf("expected no result for cancelled run")
	}
}

func TestRecoverStaleRuns(t *testing.T) {
	runs := newFakeRuns()
	runs.stale = []store.Run{{ID: "a", UpdatedAt: time.Now()}, {ID: "b", UpdatedAt: time.Now()}}
	pub := &fakePublisher{}

	if err := RecoverStaleRuns(context.Background(), pub, runs, time.Hour); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(pub.sent) != 2 || pub.sent[0].key != ResearchQueue {
		t.Fatalf("unexpected publishes %+v", pub.sent)
	}
	var msg ResearchJobMsg
	if err := json.Unmarshal(pub.sent[1].msg.Body, &msg); err != nil || msg.RunID != "b" {
		t.Fatalf("unexpected job %s", pub.sent[1].msg.Body)
	}
}
