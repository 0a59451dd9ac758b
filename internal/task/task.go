// Package task manages the lifecycle of background goroutines with explicit stop-and-wait semantics.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-conpro/logger"
)

var (
	// ErrStopped is returned when a task is started on a stopped Manager.
	ErrStopped = errors.New("task manager already stopped")
	// ErrIntervalExists is returned when an interval task with the same name is already running.
	ErrIntervalExists = errors.New("interval task already exists")
	// ErrIntervalNotFound is returned by StopInterval for an unknown name.
	ErrIntervalNotFound = errors.New("interval task not found")
)

// Func is the body of a task. It returns true to keep running, false to stop the goroutine.
type Func func() bool

// Manager manages a group of goroutines (tasks) that share one cancellation context.
//
// Stop cancels the context and every interval ticker; Wait blocks until all tasks have returned.
// A Manager is single use: once stopped it refuses new tasks.
//
// Example Usage:
//
//	mgr := task.NewManager(ctx, logger)
//	_ = mgr.Start("listener", func() bool {
//	    // ... poll once ...
//	    return true
//	})
//	mgr.Stop()
//	mgr.Wait()
type Manager struct {
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    logger.Logger
	count     atomic.Int32
	intervals *xsync.MapOf[string, *interval]
	mu        sync.Mutex // serializes task creation against Stop
	stopped   bool
}

// NewManager creates a Manager whose tasks stop when ctx is canceled or Stop is called.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	mgr := &Manager{
		logger:    l,
		intervals: xsync.NewMapOf[string, *interval](),
	}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the context shared by all tasks of the manager.
func (mgr *Manager) Context() context.Context {
	return mgr.ctx
}

// Start starts a goroutine that calls taskFunc in a loop until it returns false or the manager is stopped.
func (mgr *Manager) Start(name string, taskFunc Func) error {
	mgr.logger.Debug("start task", "name", name)

	return mgr.spawn(name, func() {
		for {
			select {
			case <-mgr.ctx.Done():
				return
			default:
				if !mgr.callWithRecover(name, taskFunc) {
					return
				}
			}
		}
	})
}

// StartInterval starts a goroutine that calls taskFunc every period until it returns false,
// the interval is stopped, or the manager is stopped.
func (mgr *Manager) StartInterval(name string, taskFunc Func, period time.Duration) error {
	mgr.logger.Debug("start interval task", "name", name, "interval", period)

	if period <= 0 {
		return fmt.Errorf("invalid interval: %v", period)
	}

	iv := newInterval(period)
	if _, loaded := mgr.intervals.LoadOrStore(name, iv); loaded {
		iv.stop()
		return fmt.Errorf("%w: %s", ErrIntervalExists, name)
	}

	cleanup := func() {
		iv.stop()
		mgr.intervals.Compute(name, func(cur *interval, loaded bool) (*interval, bool) {
			// only remove our own entry
			return cur, !loaded || cur == iv
		})
	}

	err := mgr.spawn(name, func() {
		defer cleanup()

		for {
			select {
			case <-mgr.ctx.Done():
				return
			case <-iv.quit:
				return
			case <-iv.ticker.C:
				if !mgr.callWithRecover(name, taskFunc) {
					return
				}
			}
		}
	})
	if err != nil {
		cleanup()
		return err
	}

	return nil
}

// StopInterval stops the named interval task. Its goroutine exits without running taskFunc again.
func (mgr *Manager) StopInterval(name string) error {
	iv, ok := mgr.intervals.LoadAndDelete(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrIntervalNotFound, name)
	}
	iv.stop()

	return nil
}

// Stop signals all running tasks to exit. It does not wait for them.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	mgr.stopped = true
	mgr.mu.Unlock()

	mgr.intervals.Range(func(_ string, iv *interval) bool {
		iv.stop()
		return true
	})

	mgr.cancel()
}

// Stopped reports whether Stop was called or the parent context is done.
func (mgr *Manager) Stopped() bool {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	return mgr.stopped || mgr.ctx.Err() != nil
}

// Wait blocks until all tasks have returned.
func (mgr *Manager) Wait() {
	mgr.wg.Wait()
}

// Count returns the number of running tasks.
func (mgr *Manager) Count() int {
	return int(mgr.count.Load())
}

func (mgr *Manager) spawn(name string, body func()) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.stopped || mgr.ctx.Err() != nil {
		return fmt.Errorf("start %s: %w", name, ErrStopped)
	}

	mgr.wg.Add(1)
	mgr.count.Add(1)

	go func() {
		defer func() {
			mgr.count.Add(-1)
			mgr.wg.Done()
			mgr.logger.Debug("task terminated", "name", name, "task_count", mgr.Count())
		}()

		body()
	}()

	return nil
}

// callWithRecover calls fn with panic protection. A panicking task stops.
func (mgr *Manager) callWithRecover(name string, fn Func) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
			ok = false
		}
	}()

	return fn()
}

type interval struct {
	ticker *time.Ticker
	quit   chan struct{}
	once   sync.Once
}

func newInterval(d time.Duration) *interval {
	return &interval{ticker: time.NewTicker(d), quit: make(chan struct{})}
}

func (iv *interval) stop() {
	iv.once.Do(func() {
		iv.ticker.Stop()
		close(iv.quit)
	})
}
