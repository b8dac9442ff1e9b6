// Package scheduler implements C11: holding a task in SCHEDULED until its
// DownloadSchedule instant and every DownloadCondition are satisfied, then
// handing it off to the Queue. Grounded on the teacher's debounced
// re-check loop in internal/tui/update.go (a single per-item timer that
// re-evaluates and re-arms rather than polling), adapted from a UI-refresh
// timer into a one-shot-per-task admission timer.
package scheduler

import (
	"sync"
	"time"

	"github.com/surge-downloader/surge/internal/engine/model"
)

// PredicateSource reports whether a named runtime condition currently
// holds (network type, power state, ...). The engine wires in a concrete
// implementation; tests use a fake.
type PredicateSource interface {
	Holds(c model.Condition) bool
	// Subscribe registers fn to be called whenever any condition's value
	// may have changed, so the Scheduler can re-evaluate gated tasks
	// without polling. Returns an unsubscribe func.
	Subscribe(fn func()) (unsubscribe func())
}

// AlwaysSource is a PredicateSource that holds every condition true,
// suitable for engines that never gate on runtime predicates.
type AlwaysSource struct{}

func (AlwaysSource) Holds(model.Condition) bool               { return true }
func (AlwaysSource) Subscribe(func()) (unsubscribe func()) { return func() {} }

// AdmitFunc is called once a task's gate is satisfied, handing it to the
// Queue (C10).
type AdmitFunc func(taskID string)

type gated struct {
	taskID     string
	schedule   *model.DownloadSchedule
	conditions []model.Condition
	timer      *time.Timer
}

// Scheduler holds gated tasks and admits them once their schedule and
// conditions are satisfied.
type Scheduler struct {
	mu        sync.Mutex
	tasks     map[string]*gated
	predicate PredicateSource
	onAdmit   AdmitFunc
	unsub     func()
}

// New creates a Scheduler. predicate may be AlwaysSource{} for engines
// with no condition gating.
func New(predicate PredicateSource, onAdmit AdmitFunc) *Scheduler {
	if predicate == nil {
		predicate = AlwaysSource{}
	}
	s := &Scheduler{
		tasks:     make(map[string]*gated),
		predicate: predicate,
		onAdmit:   onAdmit,
	}
	s.unsub = predicate.Subscribe(s.reevaluateAll)
	return s
}

// Close stops watching the predicate source and cancels every pending
// timer (used on engine shutdown).
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.tasks {
		if g.timer != nil {
			g.timer.Stop()
		}
	}
	s.tasks = make(map[string]*gated)
	if s.unsub != nil {
		s.unsub()
	}
}

// Hold registers taskId as SCHEDULED, gated on schedule and conditions.
// If the gate is already satisfied, onAdmit fires immediately (inline,
// before Hold returns) rather than waiting for the next timer/predicate
// tick.
func (s *Scheduler) Hold(taskID string, schedule *model.DownloadSchedule, conditions []model.Condition) {
	s.mu.Lock()
	if existing, ok := s.tasks[taskID]; ok && existing.timer != nil {
		existing.timer.Stop()
	}
	g := &gated{taskID: taskID, schedule: schedule, conditions: conditions}
	s.tasks[taskID] = g
	ready := s.armLocked(g)
	s.mu.Unlock()

	if ready {
		s.admit(taskID)
	}
}

// Reschedule implements reschedule(taskId, schedule, conditions): cancels
// the current timer and re-registers under the new gating. If taskId
// isn't currently held, it is registered fresh (equivalent to Hold).
func (s *Scheduler) Reschedule(taskID string, schedule *model.DownloadSchedule, conditions []model.Condition) {
	s.Hold(taskID, schedule, conditions)
}

// Cancel removes taskId from scheduling (e.g. the user canceled or
// removed the task before its gate opened).
func (s *Scheduler) Cancel(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.tasks[taskID]; ok {
		if g.timer != nil {
			g.timer.Stop()
		}
		delete(s.tasks, taskID)
	}
}

// IsHeld reports whether taskId is currently gated in SCHEDULED.
func (s *Scheduler) IsHeld(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[taskID]
	return ok
}

// armLocked arms a timer for g's next schedule instant (if any) and
// checks whether the gate is already fully satisfied. Caller holds s.mu.
func (s *Scheduler) armLocked(g *gated) bool {
	now := time.Now()
	var wait time.Duration
	timeReady := true
	if g.schedule != nil && !g.schedule.IsZero() {
		next := nextTrigger(g.schedule, now)
		if next.After(now) {
			timeReady = false
			wait = next.Sub(now)
		}
	}

	if !timeReady {
		g.timer = time.AfterFunc(wait, func() { s.onTimerFired(g.taskID) })
		return false
	}
	return s.conditionsHeldLocked(g)
}

func (s *Scheduler) conditionsHeldLocked(g *gated) bool {
	for _, c := range g.conditions {
		if !s.predicate.Holds(c) {
			return false
		}
	}
	return true
}

// nextTrigger computes the next instant a schedule fires. A non-recurring
// schedule fires once at At; a recurring one fires at the next occurrence
// of Weekday/HourOfDay/MinuteOfHour at or after now.
func nextTrigger(sch *model.DownloadSchedule, now time.Time) time.Time {
	if !sch.Recurring {
		return sch.At
	}
	candidate := time.Date(now.Year(), now.Month(), now.Day(), sch.HourOfDay, sch.MinuteOfHour, 0, 0, now.Location())
	for candidate.Weekday() != sch.Weekday || !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

func (s *Scheduler) onTimerFired(taskID string) {
	s.mu.Lock()
	g, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return
	}
	ready := s.conditionsHeldLocked(g)
	s.mu.Unlock()
	if ready {
		s.admit(taskID)
	}
}

// reevaluateAll is the PredicateSource change callback: any condition may
// have flipped, so every held task not also waiting on a future time gate
// is re-checked.
func (s *Scheduler) reevaluateAll() {
	s.mu.Lock()
	var toAdmit []string
	for id, g := range s.tasks {
		if g.timer != nil {
			continue // still time-gated; the timer itself will re-check
		}
		if s.conditionsHeldLocked(g) {
			toAdmit = append(toAdmit, id)
		}
	}
	s.mu.Unlock()
	for _, id := range toAdmit {
		s.admit(id)
	}
}

func (s *Scheduler) admit(taskID string) {
	s.mu.Lock()
	delete(s.tasks, taskID)
	s.mu.Unlock()
	if s.onAdmit != nil {
		s.onAdmit(taskID)
	}
}
