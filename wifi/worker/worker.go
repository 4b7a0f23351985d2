// Package worker provides the single execution context in which network
// platform handles may be touched, and the lender that wraps those handles.
//
// Code running inside the worker receives a *Context. Functions that need to
// touch native handles take a *Context argument, so holding one is proof that
// the caller is on the worker goroutine.
package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrWorkerUnavailable is returned when a task is submitted before Start or after Stop.
	ErrWorkerUnavailable = errors.New("network worker is not running")
	// ErrWorkerRunning is returned by Start when a worker is already running in this process.
	ErrWorkerRunning = errors.New("a network worker is already running")
	// ErrTaskPanicked is returned by RunBlocking when the task panicked.
	ErrTaskPanicked = errors.New("network worker task panicked")
)

// active enforces a single running worker per process.
var active atomic.Bool

// Observer receives task timings. Implementations must be safe for concurrent use.
// Every TaskStarted is followed by exactly one TaskFinished.
type Observer interface {
	TaskStarted()
	TaskFinished(d time.Duration)
}

// Context is only constructed by the worker loop.
type Context struct {
	w *Worker
}

// Post enqueues fn to run after the current task. It is the re-entrant form of
// RunAsync for code already inside the worker.
func (c *Context) Post(fn func(*Context)) {
	_ = c.w.RunAsync(fn)
}

// AfterFunc runs fn as a worker task once d has elapsed, unless the timer is
// stopped first.
func (c *Context) AfterFunc(d time.Duration, fn func(*Context)) *Timer {
	t := &Timer{}
	w := c.w
	t.t = time.AfterFunc(d, func() {
		err := w.RunAsync(func(ctx *Context) {
			if t.stopped.Load() {
				return
			}
			fn(ctx)
		})
		if err != nil {
			w.logger.Debug("dropping timer callback", "error", err)
		}
	})
	return t
}

// Timer is a pending AfterFunc callback.
type Timer struct {
	t       *time.Timer
	stopped atomic.Bool
}

// Stop prevents the callback from running. Safe to call more than once and on a nil Timer.
func (t *Timer) Stop() {
	if t == nil {
		return
	}
	t.stopped.Store(true)
	t.t.Stop()
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopping
)

type task struct {
	run func(*Context)
	// drop is called instead of run when the worker stops with the task still queued.
	drop func()
}

// Worker runs submitted tasks one at a time on a dedicated goroutine locked to
// its OS thread.
type Worker struct {
	logger   *slog.Logger
	observer Observer

	mu    sync.Mutex
	cond  *sync.Cond
	queue []task
	state state
	done  chan struct{}
}

// New creates a stopped worker.
func New(logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{logger: logger.With("component", "worker")}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// SetObserver installs o to receive task timings. Call before Start.
func (w *Worker) SetObserver(o Observer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.observer = o
}

// Start launches the worker loop.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != stateIdle {
		return ErrWorkerRunning
	}
	if !active.CompareAndSwap(false, true) {
		return ErrWorkerRunning
	}
	w.state = stateRunning
	w.queue = nil
	w.done = make(chan struct{})
	go w.loop(w.done)
	w.logger.Debug("worker started")
	return nil
}

// Stop finishes the current task, drops the rest of the queue and waits for the
// loop to exit. It must not be called from inside a task.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.state != stateRunning {
		w.mu.Unlock()
		return
	}
	w.state = stateStopping
	done := w.done
	w.cond.Broadcast()
	w.mu.Unlock()

	<-done
	active.Store(false)
	w.logger.Debug("worker stopped")
}

// Running reports whether tasks are currently accepted.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == stateRunning
}

// RunAsync enqueues fn and returns immediately.
func (w *Worker) RunAsync(fn func(*Context)) error {
	return w.enqueue(task{run: fn})
}

// RunBlocking runs fn inside the worker and waits for its result. Calling it
// from inside a task deadlocks; use Context.Post there.
func (w *Worker) RunBlocking(fn func(*Context) error) error {
	result := make(chan error, 1)
	t := task{
		run: func(ctx *Context) {
			var err error
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("worker task panicked", "panic", r)
					err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
				}
				result <- err
			}()
			err = fn(ctx)
		},
		drop: func() {
			result <- ErrWorkerUnavailable
		},
	}
	if err := w.enqueue(t); err != nil {
		return err
	}
	return <-result
}

// Call is RunBlocking for tasks that produce a value.
func Call[T any](w *Worker, fn func(*Context) (T, error)) (T, error) {
	var out T
	err := w.RunBlocking(func(ctx *Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}

func (w *Worker) enqueue(t task) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != stateRunning {
		return ErrWorkerUnavailable
	}
	w.queue = append(w.queue, t)
	w.cond.Signal()
	return nil
}

func (w *Worker) loop(done chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(done)

	ctx := &Context{w: w}
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && w.state == stateRunning {
			w.cond.Wait()
		}
		if w.state != stateRunning {
			pending := w.queue
			w.queue = nil
			w.state = stateIdle
			w.mu.Unlock()
			for _, t := range pending {
				if t.drop != nil {
					t.drop()
				}
			}
			return
		}
		t := w.queue[0]
		w.queue[0] = task{}
		w.queue = w.queue[1:]
		observer := w.observer
		w.mu.Unlock()

		if observer != nil {
			observer.TaskStarted()
		}
		start := time.Now()
		w.execute(ctx, t)
		if observer != nil {
			observer.TaskFinished(time.Since(start))
		}
	}
}

func (w *Worker) execute(ctx *Context, t task) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker task panicked", "panic", r)
		}
	}()
	t.run(ctx)
}
