// Package coordinator implements C9: one RunningExecution per taskId,
// enforcing that no task is ever driven by two Executions at once, and
// exposing start/resume/pause/cancel plus per-task and global speed/
// connection control. Grounded on the teacher's WorkerPool
// (internal/download/pool.go): the same map-of-active-downloads-plus-
// cancel-func shape and PauseAll/GracefulShutdown draining loop,
// generalized from a fixed worker-goroutine pool to one goroutine spawned
// per admitted task (admission itself now lives in queue.Queue, C10).
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/surge-downloader/surge/internal/engine/execution"
	"github.com/surge-downloader/surge/internal/engine/model"
	"github.com/surge-downloader/surge/internal/logx"
	"github.com/surge-downloader/surge/internal/ratelimit"
	"github.com/surge-downloader/surge/internal/source"
	"github.com/surge-downloader/surge/internal/store"
)

// DoneFunc is invoked once an Execution's Run returns, with its final
// record, so the caller (Engine, C1-C12 wiring) can release the Queue
// slot and advance the scheduler.
type DoneFunc func(rec *model.TaskRecord)

// running tracks one taskId's in-flight Execution.
type running struct {
	exec   *execution.Execution
	cancel context.CancelFunc
}

// Coordinator owns the set of currently-executing tasks.
type Coordinator struct {
	mu      sync.Mutex
	active  map[string]*running
	wg      sync.WaitGroup
	store   *store.Store
	sources *source.Registry
	log     *logx.Logger

	globalMu      sync.RWMutex
	globalLimiter *ratelimit.Limited

	onState StateFunc
	onDone  DoneFunc
}

// StateFunc is invoked on every ObservedState transition of any task.
type StateFunc func(taskID string, s model.ObservedState)

// New creates a Coordinator. globalBytesPerSec <= 0 means unlimited.
func New(st *store.Store, sources *source.Registry, globalBytesPerSec int64, log *logx.Logger, onState StateFunc, onDone DoneFunc) *Coordinator {
	if log == nil {
		log = logx.Discard()
	}
	c := &Coordinator{
		active:  make(map[string]*running),
		store:   st,
		sources: sources,
		log:     log,
		onState: onState,
		onDone:  onDone,
	}
	if globalBytesPerSec > 0 {
		c.globalLimiter = ratelimit.NewLimited(globalBytesPerSec)
	}
	return c
}

func (c *Coordinator) limiter() ratelimit.Limiter {
	c.globalMu.RLock()
	defer c.globalMu.RUnlock()
	if c.globalLimiter == nil {
		return ratelimit.Unlimited{}
	}
	return c.globalLimiter
}

// SetGlobalSpeedLimit changes (or clears, with bytesPerSec <= 0) the cap
// shared by every running task, taking effect immediately without
// restarting any Execution.
func (c *Coordinator) SetGlobalSpeedLimit(bytesPerSec int64) {
	c.globalMu.Lock()
	defer c.globalMu.Unlock()
	if bytesPerSec <= 0 {
		c.globalLimiter = nil
		return
	}
	if c.globalLimiter == nil {
		c.globalLimiter = ratelimit.NewLimited(bytesPerSec)
		return
	}
	c.globalLimiter.SetRate(bytesPerSec)
}

// Start begins (or restarts, on resume) driving rec. If taskId already
// has a running Execution this is a no-op, enforcing the at-most-one
// invariant.
func (c *Coordinator) Start(rec *model.TaskRecord) {
	c.mu.Lock()
	if _, exists := c.active[rec.TaskID]; exists {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	exec := execution.New(rec, execution.Options{
		Store:         c.store,
		Sources:       c.sources,
		GlobalLimiter: c.limiter(),
		Log:           c.log,
	}, func(s model.ObservedState) {
		if c.onState != nil {
			c.onState(rec.TaskID, s)
		}
	})
	c.active[rec.TaskID] = &running{exec: exec, cancel: cancel}
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		final := exec.Run(ctx)
		c.mu.Lock()
		delete(c.active, rec.TaskID)
		c.mu.Unlock()
		if c.onDone != nil {
			c.onDone(final)
		}
	}()
}

// Pause asks taskId's running Execution to stop gracefully, leaving its
// record in PAUSED with segments intact for a later Resume. A no-op if
// the task isn't running (idempotent, matching the teacher's Pause).
func (c *Coordinator) Pause(taskID string) {
	c.mu.Lock()
	r, ok := c.active[taskID]
	c.mu.Unlock()
	if !ok {
		return
	}
	r.exec.Pause()
}

// Cancel stops taskId's running Execution immediately; the caller is
// responsible for any disk cleanup and record deletion once onDone fires.
func (c *Coordinator) Cancel(taskID string) {
	c.mu.Lock()
	r, ok := c.active[taskID]
	c.mu.Unlock()
	if !ok {
		return
	}
	r.exec.Cancel()
}

// SetTaskSpeedLimit changes taskId's own rate cap immediately if it is
// currently running. Returns false if the task isn't running, so the
// caller can still persist the new limit for when it next starts.
func (c *Coordinator) SetTaskSpeedLimit(taskID string, bytesPerSec int64) bool {
	c.mu.Lock()
	r, ok := c.active[taskID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	r.exec.SetSpeedLimit(bytesPerSec)
	return true
}

// SetTaskConnections records a new desired segment count for taskId and,
// if running, pauses it so the next Resume re-plans under
// segment.Resegment. Returns true if a pause was triggered.
func (c *Coordinator) SetTaskConnections(taskID string, n int) bool {
	c.mu.Lock()
	r, ok := c.active[taskID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	r.exec.RequestConnections(n)
	r.exec.Pause()
	return true
}

// IsRunning reports whether taskId currently has an Execution in flight.
func (c *Coordinator) IsRunning(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[taskID]
	return ok
}

// ActiveCount returns the number of tasks currently running.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// CancelAll stops every running Execution (used by PauseAllAndWait's
// cancel-hard sibling, e.g. on a detected fatal startup error).
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.Cancel(id)
	}
}

// PauseAllAndWait pauses every running Execution and blocks until each
// has exited (or timeout elapses), matching the teacher's
// GracefulShutdown: PauseAll then wait for every worker to drain.
func (c *Coordinator) PauseAllAndWait(timeout time.Duration) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.Pause(id)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		c.log.Debug("coordinator: graceful shutdown timed out after %v, forcing cancel", timeout)
		c.CancelAll()
		<-done
	}
}
