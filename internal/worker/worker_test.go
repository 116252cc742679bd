package worker_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/tybalt/worklog-classifier/internal/worker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestProcessAll_PreservesInputOrder(t *testing.T) {
	t.Parallel()

	items := []int{5, 1, 4, 2, 3}
	fn := func(_ context.Context, n int) (int, error) {
		time.Sleep(time.Duration(n) * time.Millisecond)
		return n * 10, nil
	}

	out, err := worker.ProcessAll(context.Background(), items, fn, worker.Options{Workers: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != len(items) {
		t.Fatalf("expected %d outputs, got %d", len(items), len(out))
	}
	for i, res := range out {
		if res.Index != i || res.Input != items[i] || res.Output != items[i]*10 {
			t.Fatalf("unexpected out[%d]: %#v", i, res)
		}
	}
}

func TestProcessAll_ErrorsAreRecordedPerItem(t *testing.T) {
	t.Parallel()

	fn := func(_ context.Context, row string) (string, error) {
		if row == "bad" {
			return "", errors.New("boom")
		}
		return "ok", nil
	}

	out, err := worker.ProcessAll(context.Background(), []string{"bad", "good"}, fn, worker.Options{Workers: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Err == nil || out[0].Err.Error() != "boom" {
		t.Fatalf("unexpected out[0]: %#v", out[0])
	}
	if out[1].Err != nil || out[1].Output != "ok" {
		t.Fatalf("unexpected out[1]: %#v", out[1])
	}
}

func TestProcessAll_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	fn := func(_ context.Context, _ int) (struct{}, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return struct{}{}, nil
	}

	items := make([]int, 20)
	if _, err := worker.ProcessAll(context.Background(), items, fn, worker.Options{Workers: 4}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := peak.Load(); got > 4 || got < 1 {
		t.Fatalf("expected peak concurrency in [1,4], got %d", got)
	}
}

func TestProcessAll_SingleWorkerIsSequential(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var order []int
	fn := func(_ context.Context, n int) (int, error) {
		mu.Lock()
		order = append(order, n)
		mu.Unlock()
		return n, nil
	}

	if _, err := worker.ProcessAll(context.Background(), []int{1, 2, 3, 4}, fn, worker.Options{Workers: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(order, []int{1, 2, 3, 4}) {
		t.Fatalf("expected sequential processing, got %v", order)
	}
}

func TestProcessAllWithCallback_CompletesInCompletionOrder(t *testing.T) {
	t.Parallel()

	releaseSlow := make(chan struct{})
	startedSlow := make(chan struct{})
	var firstCallbackInput atomic.Value
	firstCallbackInput.Store("")

	fn := func(_ context.Context, row string) (string, error) {
		if row == "slow" {
			close(startedSlow)
			<-releaseSlow
		}
		return row, nil
	}

	var mu sync.Mutex
	var seen []string
	doneErr := make(chan error, 1)
	go func() {
		_, err := worker.ProcessAllWithCallback(
			context.Background(),
			[]string{"slow", "fast"},
			fn,
			func(res worker.Result[string, string]) error {
				mu.Lock()
				defer mu.Unlock()
				seen = append(seen, res.Input)
				if len(seen) == 1 {
					firstCallbackInput.Store(res.Input)
				}
				return nil
			},
			worker.Options{Workers: 2},
		)
		doneErr <- err
	}()

	select {
	case <-startedSlow:
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for slow task to start")
	}

	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		if firstCallbackInput.Load().(string) == "fast" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := firstCallbackInput.Load().(string); got != "fast" {
		t.Fatalf("expected fast callback first, got %q", got)
	}

	close(releaseSlow)
	select {
	case err := <-doneErr:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(seen, []string{"fast", "slow"}) {
		t.Fatalf("unexpected callback order: %v", seen)
	}
}

func TestProcessAllWithCallback_CallbackErrorStopsRun(t *testing.T) {
	t.Parallel()

	callbackErr := errors.New("callback failed")
	_, err := worker.ProcessAllWithCallback(
		context.Background(),
		[]string{"a", "b", "c"},
		func(_ context.Context, row string) (string, error) {
			return row, nil
		},
		func(worker.Result[string, string]) error {
			return callbackErr
		},
		worker.Options{Workers: 1},
	)
	if !errors.Is(err, callbackErr) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestProcessAll_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := worker.ProcessAll(ctx, []string{"a"}, func(_ context.Context, s string) (string, error) {
		return s, nil
	}, worker.Options{Workers: 2})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestProcessAll_RateLimited(t *testing.T) {
	t.Parallel()

	start := time.Now()
	_, err := worker.ProcessAll(context.Background(), []int{1, 2, 3}, func(_ context.Context, n int) (int, error) {
		return n, nil
	}, worker.Options{Workers: 3, RateLimitRPS: 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Burst of 1 at 20 rps: the third item waits at least ~100ms.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("expected limiter to pace requests, finished in %s", elapsed)
	}
}
