// Package queue implements C10, admission control: priority-ordered
// waiting list, global and per-host concurrency caps, and URGENT
// preemption of an active lower-priority task. Grounded on the teacher's
// DownloadQueue (internal/downloader/queue.go): the same
// mutex-protected-map-plus-list shape and ProcessQueue admission loop,
// generalized from FIFO-only to priority order with caps and preemption
// per spec.md §4.10.
package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/surge-downloader/surge/internal/engine/model"
)

// AdmitFunc is invoked (outside the queue's lock) when a waiting task is
// admitted into an execution slot.
type AdmitFunc func(taskID string)

// PreemptFunc is invoked when an active, non-URGENT task must yield its
// slot to a newly enqueued URGENT task. The callee is expected to pause
// the task and report back via Release once it has actually stopped.
type PreemptFunc func(taskID string)

type entry struct {
	taskID     string
	priority   model.Priority
	host       string
	enqueuedAt time.Time
}

// Queue holds tasks that are either waiting for an execution slot or
// currently occupying one.
type Queue struct {
	mu sync.Mutex

	maxConcurrent int
	maxPerHost    int

	waiting []*entry
	active  map[string]*entry // taskID -> entry, occupying a slot
	byHost  map[string]int    // host -> active count

	onAdmit   AdmitFunc
	onPreempt PreemptFunc
}

// New creates a Queue with the given caps. maxConcurrent <= 0 means
// unbounded; maxPerHost <= 0 means unbounded per host.
func New(maxConcurrent, maxPerHost int, onAdmit AdmitFunc, onPreempt PreemptFunc) *Queue {
	return &Queue{
		maxConcurrent: maxConcurrent,
		maxPerHost:    maxPerHost,
		active:        make(map[string]*entry),
		byHost:        make(map[string]int),
		onAdmit:       onAdmit,
		onPreempt:     onPreempt,
	}
}

// Enqueue adds taskID to the waiting list and attempts admission. If
// priority is URGENT and the queue is already at global capacity, the
// lowest-priority active task is asked to yield via onPreempt.
func (q *Queue) Enqueue(taskID string, priority model.Priority, host string) {
	q.mu.Lock()
	for _, e := range q.waiting {
		if e.taskID == taskID {
			e.priority = priority
			q.mu.Unlock()
			return
		}
	}
	if _, alreadyActive := q.active[taskID]; alreadyActive {
		q.mu.Unlock()
		return
	}

	q.waiting = append(q.waiting, &entry{
		taskID:     taskID,
		priority:   priority,
		host:       host,
		enqueuedAt: time.Now(),
	})
	sortWaiting(q.waiting)

	var preemptID string
	if priority == model.PriorityUrgent && q.atGlobalCap() {
		preemptID = q.pickPreemptionVictimLocked()
	}
	admitted := q.admitLocked()
	q.mu.Unlock()

	if preemptID != "" && q.onPreempt != nil {
		q.onPreempt(preemptID)
	}
	q.fireAdmits(admitted)
}

// SetPriority reprioritizes a waiting task and re-attempts admission
// (e.g. a LOW task raised to URGENT may now warrant preemption).
func (q *Queue) SetPriority(taskID string, priority model.Priority) {
	q.mu.Lock()
	var host string
	for _, e := range q.waiting {
		if e.taskID == taskID {
			e.priority = priority
			host = e.host
			break
		}
	}
	if host == "" {
		q.mu.Unlock()
		return
	}
	sortWaiting(q.waiting)

	var preemptID string
	if priority == model.PriorityUrgent && q.atGlobalCap() {
		preemptID = q.pickPreemptionVictimLocked()
	}
	admitted := q.admitLocked()
	q.mu.Unlock()

	if preemptID != "" && q.onPreempt != nil {
		q.onPreempt(preemptID)
	}
	q.fireAdmits(admitted)
}

// Release frees the slot held by taskID (whether it completed, was
// canceled, or was preempted back to waiting) and admits the next
// eligible waiting task(s).
func (q *Queue) Release(taskID string) {
	q.mu.Lock()
	e, ok := q.active[taskID]
	if !ok {
		q.mu.Unlock()
		return
	}
	delete(q.active, taskID)
	q.byHost[e.host]--
	if q.byHost[e.host] <= 0 {
		delete(q.byHost, e.host)
	}
	admitted := q.admitLocked()
	q.mu.Unlock()
	q.fireAdmits(admitted)
}

// Requeue returns a preempted active task to the front of its priority
// band in the waiting list, without attempting immediate re-admission
// (the caller already knows it just gave up its slot). Its original
// enqueuedAt is preserved rather than reset to now, so sortWaiting's FIFO
// ordering puts it ahead of every task that was still waiting behind it
// when it was first admitted, instead of sending it to the tail.
func (q *Queue) Requeue(taskID string, priority model.Priority, host string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	enqueuedAt := time.Now()
	if e, ok := q.active[taskID]; ok {
		enqueuedAt = e.enqueuedAt
		delete(q.active, taskID)
		q.byHost[e.host]--
		if q.byHost[e.host] <= 0 {
			delete(q.byHost, e.host)
		}
	}
	q.waiting = append(q.waiting, &entry{
		taskID:     taskID,
		priority:   priority,
		host:       host,
		enqueuedAt: enqueuedAt,
	})
	sortWaiting(q.waiting)
}

// Remove drops taskID from either the waiting list or active set without
// triggering preemption bookkeeping (used on explicit cancel/delete).
func (q *Queue) Remove(taskID string) {
	q.mu.Lock()
	for i, e := range q.waiting {
		if e.taskID == taskID {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			q.mu.Unlock()
			return
		}
	}
	admitted := []string(nil)
	if e, ok := q.active[taskID]; ok {
		delete(q.active, taskID)
		q.byHost[e.host]--
		if q.byHost[e.host] <= 0 {
			delete(q.byHost, e.host)
		}
		admitted = q.admitLocked()
	}
	q.mu.Unlock()
	q.fireAdmits(admitted)
}

// Len returns the number of tasks currently waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// ActiveCount returns the number of tasks currently occupying a slot.
func (q *Queue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

func (q *Queue) atGlobalCap() bool {
	return q.maxConcurrent > 0 && len(q.active) >= q.maxConcurrent
}

// admitLocked pulls as many waiting entries into active as caps allow,
// highest priority (then earliest enqueued) first. Caller holds q.mu.
func (q *Queue) admitLocked() []string {
	var admitted []string
	for {
		if q.atGlobalCap() {
			break
		}
		idx := -1
		for i, e := range q.waiting {
			if q.maxPerHost > 0 && q.byHost[e.host] >= q.maxPerHost {
				continue
			}
			idx = i
			break
		}
		if idx == -1 {
			break
		}
		e := q.waiting[idx]
		q.waiting = append(q.waiting[:idx], q.waiting[idx+1:]...)
		q.active[e.taskID] = e
		q.byHost[e.host]++
		admitted = append(admitted, e.taskID)
	}
	return admitted
}

// pickPreemptionVictimLocked finds the lowest-priority, longest-idle
// active, non-URGENT task to yield its slot. Returns "" if none qualify.
// Caller holds q.mu.
func (q *Queue) pickPreemptionVictimLocked() string {
	var victim *entry
	for _, e := range q.active {
		if e.priority == model.PriorityUrgent {
			continue
		}
		if victim == nil || e.priority < victim.priority ||
			(e.priority == victim.priority && e.enqueuedAt.After(victim.enqueuedAt)) {
			victim = e
		}
	}
	if victim == nil {
		return ""
	}
	return victim.taskID
}

func (q *Queue) fireAdmits(admitted []string) {
	if q.onAdmit == nil {
		return
	}
	for _, id := range admitted {
		q.onAdmit(id)
	}
}

// sortWaiting orders by descending priority, then ascending enqueue time
// (FIFO within a priority band), matching spec.md §4.10.
func sortWaiting(list []*entry) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority > list[j].priority
		}
		return list[i].enqueuedAt.Before(list[j].enqueuedAt)
	})
}
