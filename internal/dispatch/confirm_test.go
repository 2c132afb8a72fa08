package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestAwaitConfirmationImmediate(t *testing.T) {
	t.Parallel()
	ok := AwaitConfirmation(context.Background(), time.Second, func(ctx context.Context) (bool, error) {
		return true, nil
	})
	if !ok {
		t.Fatal("immediate confirmation not reported")
	}
}

func TestAwaitConfirmationEventually(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	ok := AwaitConfirmation(context.Background(), 5*time.Second, func(ctx context.Context) (bool, error) {
		return calls.Add(1) >= 3, nil
	})
	if !ok {
		t.Fatal("confirmation after retries not reported")
	}
	if calls.Load() < 3 {
		t.Fatalf("calls = %d, want >= 3", calls.Load())
	}
}

func TestAwaitConfirmationBudgetExhausted(t *testing.T) {
	t.Parallel()
	start := time.Now()
	ok := AwaitConfirmation(context.Background(), 300*time.Millisecond, func(ctx context.Context) (bool, error) {
		return false, nil
	})
	if ok {
		t.Fatal("unconfirmed upload reported as confirmed")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("budget not honored: %v", elapsed)
	}
}

func TestAwaitConfirmationCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok := AwaitConfirmation(ctx, time.Minute, func(ctx context.Context) (bool, error) {
		return false, errors.New("probe failed")
	})
	if ok {
		t.Fatal("cancelled wait reported confirmation")
	}
}

func TestAwaitConfirmationNilProbe(t *testing.T) {
	t.Parallel()
	if AwaitConfirmation(context.Background(), time.Second, nil) {
		t.Fatal("nil probe cannot confirm")
	}
	if AwaitConfirmation(context.Background(), 0, func(ctx context.Context) (bool, error) { return true, nil }) {
		t.Fatal("zero budget cannot confirm")
	}
}
