package gc

import (
	"context"
	"sync"

	"k8s.io/client-go/util/workqueue"
)

// task wraps a closure behind a pointer identity so it can sit in a
// workqueue, whose Typed variants require a comparable item type. Function
// values are not comparable, so the queue holds *task rather than the
// closure itself.
type task struct {
	fn func(context.Context)
}

// Dispatcher runs orchestrator sub-tasks on a bounded worker pool and
// reports completion through whatever channel the caller closes over. The
// orchestrator never runs sub-operator I/O on its own goroutine.
//
// Adapted from rate-limited workqueue plumbing originally built around a
// perpetual consume loop over a single typed queue, generalized here to a
// one-shot fan-out of heterogeneous closures.
type Dispatcher struct {
	queue   workqueue.TypedRateLimitingInterface[*task]
	workers int
	wg      sync.WaitGroup
	started sync.Once
	stop    chan struct{}
}

// NewDispatcher creates a Dispatcher backed by workers goroutines.
func NewDispatcher(workers int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		queue: workqueue.NewTypedRateLimitingQueue[*task](
			workqueue.DefaultTypedControllerRateLimiter[*task](),
		),
		workers: workers,
		stop:    make(chan struct{}),
	}
}

// Start launches the worker goroutines; safe to call multiple times.
func (d *Dispatcher) Start(ctx context.Context) {
	d.started.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.worker(ctx)
		}
	})
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		t, shutdown := d.queue.Get()
		if shutdown {
			return
		}
		func() {
			defer d.queue.Done(t)
			t.fn(ctx)
		}()
	}
}

// Spawn enqueues fn to run on the worker pool. fn is responsible for
// reporting its own result (typically by sending on a results channel owned
// by the orchestrator).
func (d *Dispatcher) Spawn(fn func(ctx context.Context)) {
	d.queue.Add(&task{fn: fn})
}

// Shutdown drains and stops the worker pool, waiting up to the context's
// deadline for in-flight tasks to return.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.queue.ShutDown()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
