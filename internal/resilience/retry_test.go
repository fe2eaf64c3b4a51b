package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

// flaky fails with errs in order, then succeeds with "ok".
func flaky(calls *int, errs ...error) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		*calls++
		if *calls <= len(errs) {
			return "", errs[*calls-1]
		}
		return "ok", nil
	}
}

func TestCall(t *testing.T) {
	busy := NewTransientError(errors.New("unexpected status 503"), 503)
	notFound := errors.New("unexpected status 404")
	malformed := Permanent(eris.New("gzip: invalid header"))

	tests := []struct {
		name      string
		attempts  int
		errs      []error
		wantCalls int
		wantErr   error
	}{
		{"first try", 3, nil, 1, nil},
		{"recovers after transient", 3, []error{busy, busy}, 3, nil},
		{"exhausted", 2, []error{busy, busy, busy}, 2, busy},
		{"not retryable", 3, []error{notFound}, 1, notFound},
		{"permanent", 3, []error{malformed}, 1, malformed},
		{"single attempt", 1, []error{busy}, 1, busy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			val, err := Call(context.Background(), fastPolicy(tt.attempts), flaky(&calls, tt.errs...))
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantErr == nil {
				if err != nil || val != "ok" {
					t.Fatalf("got (%q, %v), want (ok, nil)", val, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if val != "" {
				t.Errorf("val = %q, want zero value", val)
			}
		})
	}
}

func TestCall_CustomRetryable(t *testing.T) {
	var calls int
	p := fastPolicy(3)
	p.Retryable = func(error) bool { return true }

	_, err := Call(context.Background(), p, flaky(&calls, errors.New("a"), errors.New("b")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestCall_OnRetry(t *testing.T) {
	var seen []int
	p := fastPolicy(3)
	p.OnRetry = func(attempt int, _ error) { seen = append(seen, attempt) }

	var calls int
	busy := NewTransientError(errors.New("busy"), 503)
	_, _ = Call(context.Background(), p, flaky(&calls, busy, busy, busy))

	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", seen)
	}
}

func TestCall_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, Backoff: time.Hour, MaxBackoff: time.Hour}

	var calls int
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Call(ctx, p, flaky(&calls, NewTransientError(errors.New("busy"), 503)))
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if time.Since(start) > time.Second {
		t.Error("Call should stop sleeping when the context is done")
	}
}

func TestCall_ContextAlreadyDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int
	_, err := Call(ctx, fastPolicy(3), func(ctx context.Context) (int, error) {
		calls++
		return 0, NewTransientError(ctx.Err(), 0)
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPolicy_Defaults(t *testing.T) {
	p := Policy{}.withDefaults()
	if p.MaxAttempts != 3 || p.Backoff != 500*time.Millisecond || p.MaxBackoff != 30*time.Second || p.Multiplier != 2 {
		t.Errorf("unexpected defaults: %+v", p)
	}
	if p.Retryable == nil {
		t.Error("Retryable should default to IsTransient")
	}

	neg := Policy{Jitter: -1}.withDefaults()
	if neg.Jitter != 0 {
		t.Errorf("negative jitter should clamp to 0, got %v", neg.Jitter)
	}
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{Backoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}.withDefaults()

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second}
	for n, w := range want {
		if got := p.delay(n); got != w {
			t.Errorf("delay(%d) = %v, want %v", n, got, w)
		}
	}
}

func TestPolicy_DelayJitterBounds(t *testing.T) {
	p := Policy{Backoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2, Jitter: 0.5}.withDefaults()

	for range 200 {
		d := p.delay(0)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("delay %v outside [50ms, 150ms]", d)
		}
	}
}

func TestLogRetry(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	LogRetry("fetcher", "download")(2, errors.New("busy"))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Message != "fetcher: retrying download" {
		t.Errorf("message = %q", entries[0].Message)
	}
	if entries[0].ContextMap()["attempt"] != int64(2) {
		t.Errorf("attempt = %v", entries[0].ContextMap()["attempt"])
	}
}
