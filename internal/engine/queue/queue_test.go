package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/surge/internal/engine/model"
)

func collector() (*[]string, AdmitFunc) {
	var mu sync.Mutex
	var admitted []string
	return &admitted, func(id string) {
		mu.Lock()
		defer mu.Unlock()
		admitted = append(admitted, id)
	}
}

func TestQueue_AdmitsWithinGlobalCap(t *testing.T) {
	admitted, onAdmit := collector()
	q := New(2, 0, onAdmit, nil)

	q.Enqueue("a", model.PriorityNormal, "host1")
	q.Enqueue("b", model.PriorityNormal, "host1")
	q.Enqueue("c", model.PriorityNormal, "host1")

	assert.ElementsMatch(t, []string{"a", "b"}, *admitted)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 2, q.ActiveCount())
}

func TestQueue_PerHostCapLimitsConcurrentPerHost(t *testing.T) {
	admitted, onAdmit := collector()
	q := New(0, 1, onAdmit, nil)

	q.Enqueue("a", model.PriorityNormal, "host1")
	q.Enqueue("b", model.PriorityNormal, "host1")

	assert.Equal(t, []string{"a"}, *admitted)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_HigherPriorityAdmittedFirst(t *testing.T) {
	q := New(1, 0, nil, nil)
	// Fill manually via waiting list, then enqueue a high-priority entry
	// before any admission happens by constructing with cap reached first.
	admitted, onAdmit := collector()
	q = New(1, 0, onAdmit, nil)

	q.Enqueue("low", model.PriorityLow, "h")
	// low immediately admitted since cap=1 and queue was empty.
	require.Equal(t, []string{"low"}, *admitted)

	q.Enqueue("high", model.PriorityHigh, "h")
	// still only "low" admitted since cap is full; "high" waits.
	assert.Equal(t, []string{"low"}, *admitted)
	assert.Equal(t, 1, q.Len())

	q.Release("low")
	assert.Equal(t, []string{"low", "high"}, *admitted)
}

func TestQueue_UrgentPreemptsLowerPriorityAtCap(t *testing.T) {
	admitted, onAdmit := collector()
	var preempted []string
	q := New(1, 0, onAdmit, func(id string) { preempted = append(preempted, id) })

	q.Enqueue("normal", model.PriorityNormal, "h")
	require.Equal(t, []string{"normal"}, *admitted)

	q.Enqueue("urgent", model.PriorityUrgent, "h")
	assert.Equal(t, []string{"normal"}, preempted)
}

func TestQueue_RequeueReturnsTaskToWaitingFront(t *testing.T) {
	admitted, onAdmit := collector()
	q := New(1, 0, onAdmit, nil)

	q.Enqueue("a", model.PriorityNormal, "h")
	require.Equal(t, []string{"a"}, *admitted)

	q.Requeue("a", model.PriorityNormal, "h")
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 0, q.ActiveCount())
}

func TestQueue_RequeuePreservesOriginalEnqueueOrder(t *testing.T) {
	admitted, onAdmit := collector()
	q := New(1, 0, onAdmit, nil)

	q.Enqueue("a", model.PriorityNormal, "h")
	require.Equal(t, []string{"a"}, *admitted)

	q.Enqueue("b", model.PriorityNormal, "h") // waits; enqueued after a's original slot
	q.Requeue("a", model.PriorityNormal, "h") // a yields its slot (e.g. preempted, now un-preempted)

	// A third same-priority arrival re-triggers admission. "a" should win
	// the freed slot over "b" because Requeue preserved its earlier
	// original enqueuedAt, putting it at the head of the priority band
	// rather than resetting it to the tail.
	q.Enqueue("z", model.PriorityNormal, "h")
	assert.Equal(t, []string{"a", "a"}, *admitted)
}

func TestQueue_RemoveDropsFromEitherList(t *testing.T) {
	admitted, onAdmit := collector()
	q := New(1, 0, onAdmit, nil)

	q.Enqueue("a", model.PriorityNormal, "h")
	q.Enqueue("b", model.PriorityNormal, "h")
	require.Equal(t, 1, q.Len())

	q.Remove("b") // waiting
	assert.Equal(t, 0, q.Len())

	q.Remove("a") // active
	assert.Equal(t, 0, q.ActiveCount())
}

func TestQueue_SetPriorityReordersWaitingList(t *testing.T) {
	admitted, onAdmit := collector()
	q := New(1, 0, onAdmit, nil)

	q.Enqueue("a", model.PriorityNormal, "h")
	q.Enqueue("b", model.PriorityLow, "h")
	q.Enqueue("c", model.PriorityLow, "h")
	require.Equal(t, []string{"a"}, *admitted)

	q.SetPriority("c", model.PriorityHigh)
	q.Release("a")

	assert.Equal(t, []string{"a", "c"}, *admitted)
}
