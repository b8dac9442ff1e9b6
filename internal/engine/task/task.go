package task

import (
	"sync"

	"github.com/surge-downloader/surge/internal/engine/model"
)

// Controller is the subset of the engine's queue/scheduler/coordinator
// surface a Task needs to route user operations to, per spec.md §4.12.
// The top-level engine wiring implements this by delegating to C9/C10/C11
// directly; tests can supply a fake.
type Controller interface {
	Enqueue(taskID string, priority model.Priority, host string)
	SetQueuePriority(taskID string, priority model.Priority)
	DequeueOrCancel(taskID string)
	Pause(taskID string)
	Resume(taskID string, destination string)
	Hold(taskID string, schedule *model.DownloadSchedule, conditions []model.Condition)
	Reschedule(taskID string, schedule *model.DownloadSchedule, conditions []model.Condition)
	SetTaskSpeedLimit(taskID string, spec string)
	SetTaskConnections(taskID string, n int)
	Remove(taskID string, deleteFile bool)
}

// Task is the C12 façade for one task: an observable DownloadState/
// Segments pair plus user operations that check the current state before
// routing to the Controller, so invalid transitions (pause-on-terminal,
// resume-on-active, ...) are silent no-ops instead of errors, per
// spec.md §4.12.
type Task struct {
	id      string
	ctl     Controller
	host    string
	state   *Observable[model.ObservedState]
	segs    *Observable[[]model.Segment]

	mu       sync.Mutex
	current  model.State
	priority model.Priority
}

// New creates a Task façade for id, seeded with the record's persisted
// state so a freshly-restored task reports correctly before its first
// ObservedState push.
func New(id string, host string, ctl Controller, initial model.ObservedState, initialState model.State, priority model.Priority) *Task {
	return &Task{
		id:       id,
		ctl:      ctl,
		host:     host,
		state:    NewObservable(initial),
		segs:     NewObservable[[]model.Segment](nil),
		current:  initialState,
		priority: priority,
	}
}

// ID returns the task's identifier.
func (t *Task) ID() string { return t.id }

// State returns the latest ObservedState.
func (t *Task) State() model.ObservedState { return t.state.Get() }

// Segments returns the latest segment snapshot.
func (t *Task) Segments() []model.Segment { return t.segs.Get() }

// SubscribeState returns a channel of ObservedState updates.
func (t *Task) SubscribeState() (<-chan model.ObservedState, func()) { return t.state.Subscribe() }

// SubscribeSegments returns a channel of segment-snapshot updates.
func (t *Task) SubscribeSegments() (<-chan []model.Segment, func()) { return t.segs.Subscribe() }

// PushState is called by the engine wiring on every Execution state
// transition, keeping both the latest-value cache and the derived
// model.State (used to validate subsequent user operations) current.
func (t *Task) PushState(s model.ObservedState) {
	t.mu.Lock()
	t.current = stateFromObserved(s)
	t.mu.Unlock()
	t.state.Set(s)
}

// PushSegments is called on every persisted segment snapshot.
func (t *Task) PushSegments(segs []model.Segment) {
	t.segs.Set(append([]model.Segment{}, segs...))
}

func (t *Task) snapshotState() model.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Pause stops an active or queued task. No-op if already terminal, paused,
// or not tracked by the queue/coordinator.
func (t *Task) Pause() {
	switch t.snapshotState() {
	case model.StateDownloading, model.StatePending, model.StateQueued, model.StateScheduled:
		t.ctl.Pause(t.id)
	}
}

// Resume restarts a paused task, optionally at a new destination. No-op
// unless the task is currently PAUSED.
func (t *Task) Resume(destination string) {
	if t.snapshotState() != model.StatePaused {
		return
	}
	t.ctl.Resume(t.id, destination)
}

// Cancel stops the task unconditionally, unless it's already terminal.
func (t *Task) Cancel() {
	if t.snapshotState().IsTerminal() {
		return
	}
	t.ctl.DequeueOrCancel(t.id)
}

// SetSpeedLimit changes the task's own rate cap; valid in any
// non-terminal state since it only affects future reads.
func (t *Task) SetSpeedLimit(spec string) {
	if t.snapshotState().IsTerminal() {
		return
	}
	t.ctl.SetTaskSpeedLimit(t.id, spec)
}

// SetPriority reprioritizes a queued (or scheduled-but-not-yet-queued)
// task. No-op once the task is already running or terminal, since
// priority only affects queue admission order.
func (t *Task) SetPriority(p model.Priority) {
	switch t.snapshotState() {
	case model.StateQueued, model.StateScheduled:
		t.mu.Lock()
		t.priority = p
		t.mu.Unlock()
		t.ctl.SetQueuePriority(t.id, p)
	}
}

// SetConnections adjusts the active segment count; only meaningful while
// downloading (the execution resegments the undownloaded tail).
func (t *Task) SetConnections(n int) {
	if t.snapshotState() != model.StateDownloading {
		return
	}
	t.ctl.SetTaskConnections(t.id, n)
}

// Reschedule re-gates the task under a new schedule/conditions. Valid
// from SCHEDULED or QUEUED (pulling it back under a gate); a no-op once
// the task is already running or terminal.
func (t *Task) Reschedule(schedule *model.DownloadSchedule, conditions []model.Condition) {
	switch t.snapshotState() {
	case model.StateScheduled, model.StateQueued:
		t.ctl.Reschedule(t.id, schedule, conditions)
	}
}

// Remove deletes the task's record and, if deleteFile is true, its
// partial or completed output file. Always routes through (even from a
// terminal state, since remove is how a user clears history).
func (t *Task) Remove(deleteFile bool) {
	t.ctl.Remove(t.id, deleteFile)
}

func stateFromObserved(s model.ObservedState) model.State {
	switch s.Kind {
	case model.ObservedScheduled:
		return model.StateScheduled
	case model.ObservedQueued:
		return model.StateQueued
	case model.ObservedPending:
		return model.StatePending
	case model.ObservedDownloading:
		return model.StateDownloading
	case model.ObservedPaused:
		return model.StatePaused
	case model.ObservedCompleted:
		return model.StateCompleted
	case model.ObservedFailed:
		return model.StateFailed
	case model.ObservedCanceled:
		return model.StateCanceled
	default:
		return model.StateQueued
	}
}
