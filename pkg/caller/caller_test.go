package caller

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recordingSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return nil
}

func (r *recordingSleep) total() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum time.Duration
	for _, d := range r.waits {
		sum += d
	}
	return sum
}

func TestDo_RetriesTransientWithBackoff(t *testing.T) {
	rec := &recordingSleep{}
	c := New(Params{Name: "llm", Sleep: rec.sleep})

	calls := 0
	got, err := Do(context.Background(), c, "generate", func(context.Context) (string, error) {
		calls++
		if calls <= 2 {
			return "", Transient(errors.New("overloaded"))
		}
		return "answer", nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got != "answer" {
		t.Fatalf("expected answer, got %q", got)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if !reflect.DeepEqual(rec.waits, want) {
		t.Fatalf("expected waits %v, got %v", want, rec.waits)
	}
	if rec.total() != 6*time.Second {
		t.Fatalf("expected 6s total wait, got %v", rec.total())
	}

	stats := c.Stats()
	if stats.Calls != 1 || stats.Attempts != 3 || stats.Retries != 2 || stats.Failures != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestDo_ExhaustedReturnsRetryError(t *testing.T) {
	rec := &recordingSleep{}
	c := New(Params{Sleep: rec.sleep})

	cause := errors.New("503 from upstream")
	_, err := Do(context.Background(), c, "search", func(context.Context) (int, error) {
		return 0, FromStatus(503, cause)
	})

	var re *RetryError
	if !errors.As(err, &re) {
		t.Fatalf("expected RetryError, got %T %v", err, err)
	}
	if re.Attempts != 3 || re.Op != "search" {
		t.Fatalf("unexpected retry error %+v", re)
	}
	var te *TransientError
	if !errors.As(err, &te) || te.Status != 503 {
		t.Fatalf("expected wrapped transient error with status 503, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable, got %v", err)
	}
	if len(rec.waits) != 2 {
		t.Fatalf("expected 2 waits for 3 attempts, got %v", rec.waits)
	}
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	rec := &recordingSleep{}
	c := New(Params{Sleep: rec.sleep})

	permanent := errors.New("invalid api key")
	calls := 0
	_, err := Do(context.Background(), c, "generate", func(context.Context) (int, error) {
		calls++
		return 0, FromStatus(401, permanent)
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	var re *RetryError
	if errors.As(err, &re) {
		t.Fatalf("expected no RetryError for permanent failures, got %v", err)
	}
	if calls != 1 || len(rec.waits) != 0 {
		t.Fatalf("expected a single call without waits, got calls=%d waits=%v", calls, rec.waits)
	}
}

func TestDo_AttemptTimeoutIsTransient(t *testing.T) {
	rec := &recordingSleep{}
	c := New(Params{Timeout: 10 * time.Millisecond, MaxAttempts: 2, Sleep: rec.sleep})

	calls := 0
	_, err := Do(context.Background(), c, "fetch", func(ctx context.Context) (int, error) {
		calls++
		<-ctx.Done()
		return 0, ctx.Err()
	})

	var re *RetryError
	if !errors.As(err, &re) {
		t.Fatalf("expected RetryError after timeouts, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded cause, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestDo_ParentCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := New(Params{Sleep: func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}})

	calls := 0
	_, err := Do(ctx, c, "generate", func(context.Context) (int, error) {
		calls++
		return 0, Transient(errors.New("busy"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_BoundsConcurrency(t *testing.T) {
	c := New(Params{MaxConcurrent: 2})

	var inFlight, peak atomic.Int64
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = Do(context.Background(), c, fmt.Sprintf("op-%d", i), func(context.Context) (int, error) {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return i, nil
			})
		}(i)
	}
	wg.Wait()

	if peak.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent calls, got %d", peak.Load())
	}
}

func TestDo_NilCaller(t *testing.T) {
	got, err := Do(context.Background(), nil, "noop", func(context.Context) (int, error) {
		return 7, nil
	})
	if err != nil || got != 7 {
		t.Fatalf("expected 7, got %d (%v)", got, err)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"marked", Transient(errors.New("boom")), true},
		{"wrapped marked", fmt.Errorf("call: %w", Transient(errors.New("boom"))), true},
		{"429", FromStatus(429, errors.New("slow down")), true},
		{"500", FromStatus(500, errors.New("oops")), true},
		{"501", FromStatus(501, errors.New("nope")), false},
		{"400", FromStatus(400, errors.New("bad")), false},
		{"net timeout", timeoutErr{}, true},
		{"canceled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
