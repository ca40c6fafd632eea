package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type stubResult struct {
	err error
}

func (r stubResult) GetError() error { return r.err }

type stubJob struct {
	fail     bool
	executed *atomic.Int32
	block    time.Duration
}

func (j stubJob) Execute(ctx context.Context) Result {
	if j.executed != nil {
		j.executed.Add(1)
	}
	if j.block > 0 {
		select {
		case <-time.After(j.block):
		case <-ctx.Done():
			return stubResult{err: ctx.Err()}
		}
	}
	if j.fail {
		return stubResult{err: errors.New("job failed")}
	}
	return stubResult{}
}

func TestNewPoolClampsWorkerCount(t *testing.T) {
	if got := NewPool(5).workers; got != 5 {
		t.Errorf("workers = %d, want 5", got)
	}
	if got := NewPool(0).workers; got != 1 {
		t.Errorf("workers = %d, want 1 for zero input", got)
	}
	if got := NewPool(-3).workers; got != 1 {
		t.Errorf("workers = %d, want 1 for negative input", got)
	}
}

func TestPoolRunsEveryJob(t *testing.T) {
	pool := NewPool(3)
	pool.Start()

	var executed atomic.Int32
	const jobs = 12
	for i := 0; i < jobs; i++ {
		pool.Submit(stubJob{executed: &executed})
	}

	results := pool.Wait()
	if len(results) != jobs {
		t.Errorf("got %d results, want %d", len(results), jobs)
	}
	if executed.Load() != jobs {
		t.Errorf("executed = %d, want %d", executed.Load(), jobs)
	}
}

func TestPoolWaitReleasesContext(t *testing.T) {
	pool := NewPool(2)
	pool.Start()

	var executed atomic.Int32
	pool.Submit(stubJob{executed: &executed})
	pool.Wait()

	if pool.ctx.Err() == nil {
		t.Error("pool context still live after Wait")
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	const workers = 4
	pool := NewPool(workers)
	pool.Start()

	var current, peak atomic.Int32
	for i := 0; i < 20; i++ {
		pool.Submit(trackedJob{current: &current, peak: &peak})
	}

	pool.Wait()
	if p := peak.Load(); p > workers {
		t.Errorf("peak concurrency %d exceeded %d workers", p, workers)
	}
}

type trackedJob struct {
	current *atomic.Int32
	peak    *atomic.Int32
}

func (j trackedJob) Execute(context.Context) Result {
	cur := j.current.Add(1)
	for {
		p := j.peak.Load()
		if cur <= p || j.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	j.current.Add(-1)
	return stubResult{}
}

func TestPoolSurfacesPerJobErrors(t *testing.T) {
	pool := NewPool(2)
	pool.Start()

	pool.Submit(stubJob{fail: true})
	pool.Submit(stubJob{})

	results := pool.Wait()
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	failures := 0
	for _, res := range results {
		if res.GetError() != nil {
			failures++
		}
	}
	if failures != 1 {
		t.Errorf("failures = %d, want 1", failures)
	}
}

func TestPoolSubmitAfterShutdownDoesNotBlock(t *testing.T) {
	pool := NewPool(2)
	pool.Start()
	pool.Shutdown()

	done := make(chan struct{})
	go func() {
		pool.Submit(stubJob{})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit after shutdown blocked")
	}
}

func TestPoolShutdownCancelsRunningJobs(t *testing.T) {
	pool := NewPool(1)
	pool.Start()

	started := make(chan struct{})
	pool.Submit(startSignalJob{started: started})

	<-started
	pool.Shutdown()

	done := make(chan struct{})
	go func() {
		for range pool.results {
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not drain the pool")
	}
}

type startSignalJob struct {
	started chan struct{}
}

func (j startSignalJob) Execute(ctx context.Context) Result {
	close(j.started)
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
	}
	return stubResult{}
}
