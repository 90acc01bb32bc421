package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TymurD/miquella/common/retry"
)

var errTransient = errors.New("transient")

func TestDo_FirstTry(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Policy{Attempts: 3, Delay: time.Millisecond}, func(context.Context) error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDo_EventualSuccess(t *testing.T) {
	calls := 0
	var waits []time.Duration
	p := retry.Policy{
		Attempts: 4,
		Delay:    time.Millisecond,
		MaxDelay: 3 * time.Millisecond,
		OnRetry:  func(_ int, _ error, d time.Duration) { waits = append(waits, d) },
	}
	err := retry.Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 4 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}
	if len(waits) != len(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait %d = %v, want %v", i, waits[i], want[i])
		}
	}
}

func TestDo_GivesUp(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Policy{Attempts: 3, Delay: time.Millisecond}, func(context.Context) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, errTransient) || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDo_NotRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	p := retry.Policy{
		Attempts:  5,
		Delay:     time.Millisecond,
		Retryable: func(err error) bool { return !errors.Is(err, permanent) },
	}
	err := retry.Do(context.Background(), p, func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDo_SingleAttemptByDefault(t *testing.T) {
	calls := 0
	_ = retry.Do(context.Background(), retry.Policy{}, func(context.Context) error {
		calls++
		return errTransient
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDo_CancelDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := retry.Policy{Attempts: 3, Delay: time.Hour, OnRetry: func(int, error, time.Duration) { cancel() }}

	err := retry.Do(ctx, p, func(context.Context) error { return errTransient })
	if !errors.Is(err, errTransient) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
