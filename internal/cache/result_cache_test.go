package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/phenoscope-backend/internal/apperr"
	"github.com/yungbote/phenoscope-backend/internal/logger"
	"github.com/yungbote/phenoscope-backend/internal/types"
)

func testLogger(tb testing.TB) *logger.Logger {
	tb.Helper()
	log, err := logger.New("test")
	if err != nil {
		tb.Fatalf("logger: %v", err)
	}
	return log
}

func resultFor(fp string) *types.ApproximationResult {
	return &types.ApproximationResult{Fingerprint: fp, CohortID: "ukb", SampleCount: 10}
}

func TestGetOrComputeCoherence(t *testing.T) {
	c := New(testLogger(t), 8)
	var calls atomic.Int64
	compute := func(context.Context) (*types.ApproximationResult, error) {
		calls.Add(1)
		return resultFor("fp1"), nil
	}

	ctx := context.Background()
	first, err := c.GetOrCompute(ctx, "fp1", compute)
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	second, err := c.GetOrCompute(ctx, "fp1", compute)
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if first != second {
		t.Fatal("expected the identical cached result")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 compute invocation, got %d", got)
	}

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Size != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestSingleFlight(t *testing.T) {
	c := New(testLogger(t), 8)
	var calls atomic.Int64
	release := make(chan struct{})
	compute := func(context.Context) (*types.ApproximationResult, error) {
		calls.Add(1)
		<-release
		return resultFor("fp1"), nil
	}

	const callers = 12
	var wg sync.WaitGroup
	results := make([]*types.ApproximationResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCompute(context.Background(), "fp1", compute)
		}(i)
	}

	// Let every goroutine reach the cache before the computation finishes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 compute invocation for %d callers, got %d", callers, got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatalf("caller %d received a different result", i)
		}
	}
}

func TestFailurePropagatesAndLeavesNoEntry(t *testing.T) {
	c := New(testLogger(t), 8)
	boom := errors.New("projection failed")
	var calls atomic.Int64

	_, err := c.GetOrCompute(context.Background(), "fp1", func(context.Context) (*types.ApproximationResult, error) {
		calls.Add(1)
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected computation error, got %v", err)
	}
	if c.Peek("fp1") {
		t.Fatal("failed computation must not be cached")
	}

	// Next request retries.
	if _, err := c.GetOrCompute(context.Background(), "fp1", func(context.Context) (*types.ApproximationResult, error) {
		calls.Add(1)
		return resultFor("fp1"), nil
	}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 invocations, got %d", got)
	}
}

func TestLRUEviction(t *testing.T) {
	c := New(testLogger(t), 2)
	ctx := context.Background()

	for _, fp := range []string{"a", "b"} {
		fp := fp
		if _, err := c.GetOrCompute(ctx, fp, func(context.Context) (*types.ApproximationResult, error) {
			return resultFor(fp), nil
		}); err != nil {
			t.Fatalf("seed %s: %v", fp, err)
		}
	}

	// Touch "a" so "b" is the eviction candidate.
	if _, err := c.GetOrCompute(ctx, "a", nil); err != nil {
		t.Fatalf("touch a: %v", err)
	}

	if _, err := c.GetOrCompute(ctx, "c", func(context.Context) (*types.ApproximationResult, error) {
		return resultFor("c"), nil
	}); err != nil {
		t.Fatalf("insert c: %v", err)
	}

	if c.Peek("b") {
		t.Fatal("expected b to be evicted")
	}
	if !c.Peek("a") || !c.Peek("c") {
		t.Fatal("expected a and c to remain")
	}
	if s := c.Stats(); s.Size != 2 || s.Evictions != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestCapacityNeverExceeded(t *testing.T) {
	c := New(testLogger(t), 4)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		fp := fmt.Sprintf("fp%d", i)
		if _, err := c.GetOrCompute(ctx, fp, func(context.Context) (*types.ApproximationResult, error) {
			return resultFor(fp), nil
		}); err != nil {
			t.Fatalf("insert %s: %v", fp, err)
		}
		if s := c.Stats(); s.Size > 4 {
			t.Fatalf("capacity exceeded: %+v", s)
		}
	}
}

func TestWaiterContextCancellation(t *testing.T) {
	c := New(testLogger(t), 8)
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, _ = c.GetOrCompute(context.Background(), "fp1", func(context.Context) (*types.ApproximationResult, error) {
			<-release
			return resultFor("fp1"), nil
		})
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetOrCompute(ctx, "fp1", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled for waiter, got %v", err)
	}

	close(release)
	<-done
	if !c.Peek("fp1") {
		t.Fatal("owner computation should still complete and cache")
	}
}

func TestWaiterContextErrorCarriesKind(t *testing.T) {
	c := New(testLogger(t), 8)
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, _ = c.GetOrCompute(context.Background(), "fp1", func(context.Context) (*types.ApproximationResult, error) {
			<-release
			return resultFor("fp1"), nil
		})
	}()
	time.Sleep(20 * time.Millisecond)

	// A waiter whose deadline already passed must fail with the timeout
	// kind, not a bare context error.
	expired, cancelExpired := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancelExpired()
	_, err := c.GetOrCompute(expired, "fp1", nil)
	if !apperr.IsKind(err, apperr.KindComputationTimeout) {
		t.Fatalf("expired waiter: kind = %q, want computation_timeout (err=%v)", apperr.KindOf(err), err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.GetOrCompute(cancelled, "fp1", nil)
	if !apperr.IsKind(err, apperr.KindCancelled) {
		t.Fatalf("cancelled waiter: kind = %q, want cancelled (err=%v)", apperr.KindOf(err), err)
	}

	close(release)
	<-done
}

func TestWaiterRetriesAfterOwnerInterrupted(t *testing.T) {
	c := New(testLogger(t), 8)
	var calls atomic.Int64
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	compute := func(context.Context) (*types.ApproximationResult, error) {
		if calls.Add(1) == 1 {
			close(firstStarted)
			<-releaseFirst
			// The owner's job was cancelled mid-computation.
			return nil, apperr.Wrap(apperr.KindCancelled, context.Canceled)
		}
		return resultFor("fp1"), nil
	}

	ownerDone := make(chan struct{})
	var ownerErr error
	go func() {
		defer close(ownerDone)
		_, ownerErr = c.GetOrCompute(context.Background(), "fp1", compute)
	}()
	<-firstStarted

	waiterDone := make(chan struct{})
	var waiterResult *types.ApproximationResult
	var waiterErr error
	go func() {
		defer close(waiterDone)
		waiterResult, waiterErr = c.GetOrCompute(context.Background(), "fp1", compute)
	}()
	time.Sleep(20 * time.Millisecond)
	close(releaseFirst)

	<-ownerDone
	<-waiterDone

	if !apperr.IsKind(ownerErr, apperr.KindCancelled) {
		t.Fatalf("owner should keep its own cancellation, got %v", ownerErr)
	}
	// The waiter was never cancelled; it must recompute under its own
	// context rather than inherit the owner's interruption.
	if waiterErr != nil {
		t.Fatalf("waiter: %v", waiterErr)
	}
	if waiterResult == nil || waiterResult.Fingerprint != "fp1" {
		t.Fatalf("waiter result: %+v", waiterResult)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 compute invocations, got %d", got)
	}
	if !c.Peek("fp1") {
		t.Fatal("retried computation should be cached")
	}
}
