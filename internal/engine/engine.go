package engine

import (
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/surge-downloader/surge/internal/engine/coordinator"
	"github.com/surge-downloader/surge/internal/engine/errs"
	"github.com/surge-downloader/surge/internal/engine/model"
	"github.com/surge-downloader/surge/internal/engine/queue"
	"github.com/surge-downloader/surge/internal/engine/scheduler"
	"github.com/surge-downloader/surge/internal/engine/task"
	"github.com/surge-downloader/surge/internal/logx"
	"github.com/surge-downloader/surge/internal/ratelimit"
	"github.com/surge-downloader/surge/internal/source"
	"github.com/surge-downloader/surge/internal/store"
)

// Config bundles everything needed to construct an Engine: every C1-C12
// component's tunables in one place, matching the teacher's
// types.RuntimeConfig pattern of a single config struct threaded through
// the whole download path.
type Config struct {
	StorePath          string
	GlobalSpeedLimit   int64 // bytes/sec, 0 = unlimited
	MaxConcurrent      int   // 0 = unbounded
	MaxPerHost         int   // 0 = unbounded
	DefaultConnections int
	Predicate          scheduler.PredicateSource
	Log                *logx.Logger
}

// Engine wires C1-C12 into the single object the CLI and the REST daemon
// both drive: it is the concrete task.Controller and owns the Store,
// source Registry, Coordinator, Queue and Scheduler for every task
// submitted to it. Flow per spec.md §4's pipeline diagram: Submit hands a
// task to the Scheduler (or straight to the Queue if ungated); the Queue
// admits under caps into the Coordinator; the Coordinator drives an
// Execution, which resolves via a source.Source and runs a
// segdownload.Downloader, persisting through the Store throughout.
type Engine struct {
	cfg     Config
	store   *store.Store
	sources *source.Registry
	coord   *coordinator.Coordinator
	queue   *queue.Queue
	sched   *scheduler.Scheduler
	log     *logx.Logger

	mu         sync.Mutex
	tasks      map[string]*task.Task
	autoResume map[string]bool

	events *task.Observable[Event]
}

// Event is one entry of the engine-wide activity stream the REST daemon's
// SSE endpoint relays, per spec.md §6: task_added/task_removed on
// lifecycle edges, state_changed/progress/error mirroring each task's own
// ObservedState pushes.
type Event struct {
	Type     string
	TaskID   string
	State    model.ObservedState
	Progress model.Progress
	Err      *model.ErrorRecord
}

// Events subscribes to the engine-wide activity stream.
func (e *Engine) Events() (<-chan Event, func()) {
	return e.events.Subscribe()
}

// New opens the store, restores any tasks persisted from a previous
// process, and starts admitting them per their saved state.
func New(cfg Config, sources *source.Registry) (*Engine, error) {
	if cfg.Log == nil {
		cfg.Log = logx.Discard()
	}
	if cfg.DefaultConnections <= 0 {
		cfg.DefaultConnections = 4
	}
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		store:      st,
		sources:    sources,
		log:        cfg.Log,
		tasks:      make(map[string]*task.Task),
		autoResume: make(map[string]bool),
		events:     task.NewObservable(Event{}),
	}
	e.coord = coordinator.New(st, sources, cfg.GlobalSpeedLimit, cfg.Log, e.onExecState, e.onExecDone)
	e.queue = queue.New(cfg.MaxConcurrent, cfg.MaxPerHost, e.onQueueAdmit, e.onQueuePreempt)
	e.sched = scheduler.New(cfg.Predicate, e.onSchedulerAdmit)

	recs, err := st.LoadAll()
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		e.restore(rec)
	}
	return e, nil
}

// restore re-admits a persisted, non-terminal record on process start,
// per spec.md §3's IsRestorable rule: QUEUED/SCHEDULED/PENDING/
// DOWNLOADING all re-enter the pipeline; DOWNLOADING restarts as a
// resume (its segments are already on the record); PAUSED stays PAUSED
// until the user explicitly resumes it.
func (e *Engine) restore(rec *model.TaskRecord) {
	t := e.trackTask(rec)
	if !rec.State.IsRestorable() {
		return
	}
	switch rec.State {
	case model.StatePaused:
		return
	case model.StateScheduled:
		e.sched.Hold(rec.TaskID, rec.Request.Schedule, rec.Request.Conditions)
	default:
		rec.State = model.StateQueued
		e.store.Save(rec)
		t.PushState(model.ObservedState{Kind: model.ObservedQueued})
		e.queue.Enqueue(rec.TaskID, rec.Request.Priority, hostOf(rec.Request.URL))
	}
}

func (e *Engine) trackTask(rec *model.TaskRecord) *task.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tasks[rec.TaskID]; ok {
		return t
	}
	t := task.New(rec.TaskID, hostOf(rec.Request.URL), e, observedFromRecord(rec), rec.State, rec.Request.Priority)
	t.PushSegments(rec.Segments)
	e.tasks[rec.TaskID] = t
	return t
}

func observedFromRecord(rec *model.TaskRecord) model.ObservedState {
	switch rec.State {
	case model.StateCompleted:
		return model.ObservedState{Kind: model.ObservedCompleted, Path: rec.OutputPath}
	case model.StateFailed:
		return model.ObservedState{Kind: model.ObservedFailed, Err: rec.Error}
	case model.StateCanceled:
		return model.ObservedState{Kind: model.ObservedCanceled}
	case model.StatePaused:
		return model.ObservedState{Kind: model.ObservedPaused}
	case model.StateScheduled:
		return model.ObservedState{Kind: model.ObservedScheduled}
	default:
		return model.ObservedState{Kind: model.ObservedQueued}
	}
}

// Submit creates a new task from req, either gating it in the Scheduler
// (if it carries a schedule or conditions) or enqueueing it directly.
func (e *Engine) Submit(req model.DownloadRequest) (string, error) {
	if req.URL == "" {
		return "", errs.ValidationFailed("url is required")
	}
	if _, err := url.Parse(req.URL); err != nil {
		return "", errs.ValidationFailed(fmt.Sprintf("invalid url: %v", err))
	}
	if req.Connections <= 0 {
		req.Connections = e.cfg.DefaultConnections
	}

	id := uuid.New().String()
	gated := req.Schedule != nil && !req.Schedule.IsZero() || len(req.Conditions) > 0
	state := model.StateQueued
	if gated {
		state = model.StateScheduled
	}

	rec := &model.TaskRecord{
		TaskID:     id,
		Request:    req,
		State:      state,
		TotalBytes: -1,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := e.store.Save(rec); err != nil {
		return "", err
	}

	t := e.trackTask(rec)
	e.events.Set(Event{Type: "task_added", TaskID: id, State: observedFromRecord(rec)})
	if gated {
		t.PushState(model.ObservedState{Kind: model.ObservedScheduled})
		e.sched.Hold(id, req.Schedule, req.Conditions)
	} else {
		t.PushState(model.ObservedState{Kind: model.ObservedQueued})
		e.queue.Enqueue(id, req.Priority, hostOf(req.URL))
	}
	return id, nil
}

// Task returns the façade for id, if known.
func (e *Engine) Task(id string) (*task.Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	return t, ok
}

// List returns every tracked task's façade.
func (e *Engine) List() []*task.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*task.Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		out = append(out, t)
	}
	return out
}

// SetGlobalSpeedLimit adjusts the shared cap applied to every running
// task, effective immediately.
func (e *Engine) SetGlobalSpeedLimit(bytesPerSec int64) {
	e.coord.SetGlobalSpeedLimit(bytesPerSec)
}

// Shutdown gracefully pauses every running task (so segments persist
// cleanly) and stops the scheduler, within timeout.
func (e *Engine) Shutdown(timeout time.Duration) error {
	e.sched.Close()
	e.coord.PauseAllAndWait(timeout)
	return e.store.Close()
}

// --- task.Controller ---

func (e *Engine) Enqueue(taskID string, priority model.Priority, host string) {
	e.queue.Enqueue(taskID, priority, host)
}

func (e *Engine) SetQueuePriority(taskID string, priority model.Priority) {
	e.queue.SetPriority(taskID, priority)
}

func (e *Engine) DequeueOrCancel(taskID string) {
	e.queue.Remove(taskID)
	if e.coord.IsRunning(taskID) {
		e.coord.Cancel(taskID)
		return
	}
	e.transition(taskID, model.StateCanceled, model.ObservedState{Kind: model.ObservedCanceled})
}

func (e *Engine) Pause(taskID string) {
	if e.coord.IsRunning(taskID) {
		e.coord.Pause(taskID)
		return
	}
	e.queue.Remove(taskID)
	e.sched.Cancel(taskID)
	e.transition(taskID, model.StatePaused, model.ObservedState{Kind: model.ObservedPaused})
}

func (e *Engine) Resume(taskID string, destination string) {
	rec, err := e.store.Load(taskID)
	if err != nil || rec == nil {
		return
	}
	if destination != "" {
		rec.Request.Destination = destination
	}
	rec.State = model.StateQueued
	e.store.Save(rec)
	if t, ok := e.Task(taskID); ok {
		t.PushState(model.ObservedState{Kind: model.ObservedQueued})
	}
	e.queue.Enqueue(taskID, rec.Request.Priority, hostOf(rec.Request.URL))
}

func (e *Engine) Hold(taskID string, schedule *model.DownloadSchedule, conditions []model.Condition) {
	e.sched.Hold(taskID, schedule, conditions)
}

func (e *Engine) Reschedule(taskID string, schedule *model.DownloadSchedule, conditions []model.Condition) {
	e.queue.Remove(taskID)
	if e.coord.IsRunning(taskID) {
		e.coord.Pause(taskID)
	}
	e.sched.Reschedule(taskID, schedule, conditions)
	if t, ok := e.Task(taskID); ok {
		t.PushState(model.ObservedState{Kind: model.ObservedScheduled})
	}
}

func (e *Engine) SetTaskSpeedLimit(taskID string, spec string) {
	rec, err := e.store.Load(taskID)
	if err == nil && rec != nil {
		rec.Request.SpeedLimit = spec
		e.store.Save(rec)
	}
	e.coord.SetTaskSpeedLimit(taskID, ratelimit.ParseSpeedLimit(spec))
}

func (e *Engine) SetTaskConnections(taskID string, n int) {
	rec, err := e.store.Load(taskID)
	if err == nil && rec != nil {
		rec.Request.Connections = n
		e.store.Save(rec)
	}
	if e.coord.SetTaskConnections(taskID, n) {
		e.mu.Lock()
		e.autoResume[taskID] = true
		e.mu.Unlock()
	}
}

func (e *Engine) Remove(taskID string, deleteFile bool) {
	e.queue.Remove(taskID)
	e.sched.Cancel(taskID)
	if e.coord.IsRunning(taskID) {
		e.coord.Cancel(taskID)
	}
	rec, err := e.store.Load(taskID)
	if err == nil && rec != nil && deleteFile && rec.OutputPath != "" {
		os.Remove(rec.OutputPath)
	}
	e.store.Remove(taskID)
	e.mu.Lock()
	delete(e.tasks, taskID)
	delete(e.autoResume, taskID)
	e.mu.Unlock()
	e.events.Set(Event{Type: "task_removed", TaskID: taskID})
}

// --- internal callbacks wiring C9/C10/C11 together ---

func (e *Engine) onQueueAdmit(taskID string) {
	rec, err := e.store.Load(taskID)
	if err != nil || rec == nil {
		return
	}
	if t, ok := e.Task(taskID); ok {
		t.PushState(model.ObservedState{Kind: model.ObservedPending})
	}
	e.coord.Start(rec)
}

// onQueuePreempt is called when an URGENT task needs an active, lower-
// priority task's slot; that task is paused and requeued to retry later.
func (e *Engine) onQueuePreempt(taskID string) {
	e.coord.Pause(taskID)
	rec, err := e.store.Load(taskID)
	if err != nil || rec == nil {
		return
	}
	rec.Preempted = true
	e.store.Save(rec)
	e.mu.Lock()
	e.autoResume[taskID] = true
	e.mu.Unlock()
}

func (e *Engine) onSchedulerAdmit(taskID string) {
	rec, err := e.store.Load(taskID)
	if err != nil || rec == nil {
		return
	}
	rec.State = model.StateQueued
	e.store.Save(rec)
	if t, ok := e.Task(taskID); ok {
		t.PushState(model.ObservedState{Kind: model.ObservedQueued})
	}
	e.queue.Enqueue(taskID, rec.Request.Priority, hostOf(rec.Request.URL))
}

func (e *Engine) onExecState(taskID string, s model.ObservedState) {
	if t, ok := e.Task(taskID); ok {
		t.PushState(s)
	}
	if rec, err := e.store.Load(taskID); err == nil && rec != nil {
		if t, ok := e.Task(taskID); ok {
			t.PushSegments(rec.Segments)
		}
	}

	evType := "state_changed"
	switch s.Kind {
	case model.ObservedDownloading:
		if s.Progress.TotalBytes != 0 || s.Progress.DownloadedBytes != 0 {
			evType = "progress"
		}
	case model.ObservedFailed:
		evType = "error"
	}
	e.events.Set(Event{Type: evType, TaskID: taskID, State: s, Progress: s.Progress, Err: s.Err})
}

// onExecDone releases the task's queue slot once its Execution returns,
// and auto-resumes it if the pause was internally triggered (preemption
// or a live SetConnections change) rather than user-requested.
func (e *Engine) onExecDone(rec *model.TaskRecord) {
	e.queue.Release(rec.TaskID)

	e.mu.Lock()
	shouldResume := e.autoResume[rec.TaskID]
	delete(e.autoResume, rec.TaskID)
	e.mu.Unlock()

	if shouldResume && rec.State == model.StatePaused {
		e.Resume(rec.TaskID, "")
	}
}

func (e *Engine) transition(taskID string, state model.State, observed model.ObservedState) {
	rec, err := e.store.Load(taskID)
	if err != nil || rec == nil {
		return
	}
	rec.State = state
	e.store.Save(rec)
	if t, ok := e.Task(taskID); ok {
		t.PushState(observed)
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}
