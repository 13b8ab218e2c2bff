package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestDispatcherRunsJobAndReturnsError(t *testing.T) {
	d := NewDispatcher(2, 4, nil)
	defer d.Stop()

	ran := false
	if err := d.Do(context.Background(), "s1", func(ctx context.Context) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if !ran {
		t.Fatalf("job did not run")
	}

	wantErr := errors.New("model unavailable")
	err := d.Do(context.Background(), "s1", func(ctx context.Context) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}

	err = d.Do(context.Background(), "s1", func(ctx context.Context) error { panic("boom") })
	if err == nil {
		t.Fatalf("expected panic to surface as error")
	}
}

func TestDispatcherSerializesSession(t *testing.T) {
	d := NewDispatcher(4, 32, nil)
	defer d.Stop()

	var (
		active  int32
		overlap int32
		mu      sync.Mutex
		order   []int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			err := d.Do(context.Background(), "same", func(ctx context.Context) error {
				if atomic.AddInt32(&active, 1) > 1 {
					atomic.StoreInt32(&overlap, 1)
				}
				time.Sleep(2 * time.Millisecond)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				atomic.AddInt32(&active, -1)
				return nil
			})
			if err != nil {
				t.Errorf("Do returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	if overlap != 0 {
		t.Fatalf("jobs of one session overlapped")
	}
	if len(order) != 8 {
		t.Fatalf("expected 8 jobs, got %d", len(order))
	}
}

func TestDispatcherKeepsSubmissionOrderPerSession(t *testing.T) {
	d := NewDispatcher(2, 8, nil)
	defer d.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = d.Do(context.Background(), "s", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var (
		mu    sync.Mutex
		order []string
		wg    sync.WaitGroup
	)
	for i, name := range []string{"first", "second", "third"} {
		wg.Add(1)
		name := name
		go func() {
			defer wg.Done()
			_ = d.Do(context.Background(), "s", func(ctx context.Context) error {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return nil
			})
		}()
		want := i + 1
		waitFor(t, func() bool { return d.Pending() == want })
	}
	close(release)
	wg.Wait()

	want := []string{"first", "second", "third"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order mismatch: want %v got %v", want, order)
		}
	}
}

func TestDispatcherRunsSessionsConcurrently(t *testing.T) {
	d := NewDispatcher(2, 4, nil)
	defer d.Stop()

	var wg sync.WaitGroup
	barrier := make(chan struct{})
	var arrived int32
	for _, sid := range []string{"A", "B"} {
		wg.Add(1)
		sid := sid
		go func() {
			defer wg.Done()
			err := d.Do(context.Background(), sid, func(ctx context.Context) error {
				if atomic.AddInt32(&arrived, 1) == 2 {
					close(barrier)
				}
				select {
				case <-barrier:
					return nil
				case <-time.After(2 * time.Second):
					return errors.New("sessions did not run in parallel")
				}
			})
			if err != nil {
				t.Errorf("session %s: %v", sid, err)
			}
		}()
	}
	wg.Wait()
}

func TestDispatcherBusy(t *testing.T) {
	d := NewDispatcher(1, 1, nil)
	defer d.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = d.Do(context.Background(), "A", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	go func() {
		defer wg.Done()
		_ = d.Do(context.Background(), "B", func(ctx context.Context) error { return nil })
	}()
	waitFor(t, func() bool { return d.Pending() == 1 })

	err := d.Do(context.Background(), "C", func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrDispatcherBusy) {
		t.Fatalf("expected ErrDispatcherBusy, got %v", err)
	}
	close(release)
	wg.Wait()
}

func TestDispatcherSkipsCanceledJob(t *testing.T) {
	d := NewDispatcher(1, 4, nil)
	defer d.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Do(context.Background(), "A", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	var ran int32
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Do(ctx, "A", func(ctx context.Context) error {
			atomic.StoreInt32(&ran, 1)
			return nil
		})
	}()
	waitFor(t, func() bool { return d.Pending() == 1 })
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(release)
	<-done
	waitFor(t, func() bool { return d.Pending() == 0 })

	// the next job of the session still runs after the skipped one
	if err := d.Do(context.Background(), "A", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("follow-up job failed: %v", err)
	}
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatalf("canceled job should not run")
	}
}

func TestDispatcherStopDrainsAndRejects(t *testing.T) {
	d := NewDispatcher(1, 8, nil)

	var count int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Do(context.Background(), "s", func(ctx context.Context) error {
				atomic.AddInt32(&count, 1)
				return nil
			})
		}()
	}
	wg.Wait()
	d.Stop()

	if got := atomic.LoadInt32(&count); got != 4 {
		t.Fatalf("expected 4 jobs to run, got %d", got)
	}
	err := d.Do(context.Background(), "s", func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrDispatcherStopped) {
		t.Fatalf("expected ErrDispatcherStopped, got %v", err)
	}
}

func TestDispatcherWaitsForStartedJobAfterCancel(t *testing.T) {
	d := NewDispatcher(1, 4, nil)
	defer d.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})
	var finished int32
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Do(ctx, "A", func(context.Context) error {
			close(started)
			<-release
			atomic.StoreInt32(&finished, 1)
			return errors.New("turn aborted")
		})
	}()
	<-started
	cancel()

	select {
	case err := <-errCh:
		t.Fatalf("Do returned before the running job finished: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	err := <-errCh
	if atomic.LoadInt32(&finished) != 1 {
		t.Fatalf("Do returned before job completion")
	}
	if err == nil || err.Error() != "turn aborted" {
		t.Fatalf("expected job error, got %v", err)
	}
}
