package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/surge/internal/engine/model"
)

type fakePredicate struct {
	mu    sync.Mutex
	holds map[model.Condition]bool
	subs  []func()
}

func newFakePredicate() *fakePredicate {
	return &fakePredicate{holds: make(map[model.Condition]bool)}
}

func (f *fakePredicate) Holds(c model.Condition) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.holds[c]
}

func (f *fakePredicate) Subscribe(fn func()) func() {
	f.mu.Lock()
	f.subs = append(f.subs, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakePredicate) set(c model.Condition, v bool) {
	f.mu.Lock()
	f.holds[c] = v
	subs := append([]func(){}, f.subs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

func admitCollector() (*[]string, AdmitFunc) {
	var mu sync.Mutex
	var admitted []string
	return &admitted, func(id string) {
		mu.Lock()
		defer mu.Unlock()
		admitted = append(admitted, id)
	}
}

func TestScheduler_HoldWithNoGateAdmitsImmediately(t *testing.T) {
	admitted, onAdmit := admitCollector()
	s := New(AlwaysSource{}, onAdmit)
	defer s.Close()

	s.Hold("t1", nil, nil)
	assert.Equal(t, []string{"t1"}, *admitted)
	assert.False(t, s.IsHeld("t1"))
}

func TestScheduler_HoldWithFutureTimeWaitsForTimer(t *testing.T) {
	admitted, onAdmit := admitCollector()
	s := New(AlwaysSource{}, onAdmit)
	defer s.Close()

	sched := &model.DownloadSchedule{At: time.Now().Add(50 * time.Millisecond)}
	s.Hold("t1", sched, nil)

	assert.Empty(t, *admitted)
	assert.True(t, s.IsHeld("t1"))

	require.Eventually(t, func() bool {
		return len(*admitted) == 1
	}, time.Second, 10*time.Millisecond)
	assert.False(t, s.IsHeld("t1"))
}

func TestScheduler_HoldGatedOnConditionWaitsUntilHolds(t *testing.T) {
	pred := newFakePredicate()
	admitted, onAdmit := admitCollector()
	s := New(pred, onAdmit)
	defer s.Close()

	s.Hold("t1", nil, []model.Condition{model.ConditionWifiOnly})
	assert.Empty(t, *admitted)
	assert.True(t, s.IsHeld("t1"))

	pred.set(model.ConditionWifiOnly, true)
	assert.Equal(t, []string{"t1"}, *admitted)
	assert.False(t, s.IsHeld("t1"))
}

func TestScheduler_CancelRemovesHeldTask(t *testing.T) {
	admitted, onAdmit := admitCollector()
	s := New(AlwaysSource{}, onAdmit)
	defer s.Close()

	sched := &model.DownloadSchedule{At: time.Now().Add(time.Hour)}
	s.Hold("t1", sched, nil)
	require.True(t, s.IsHeld("t1"))

	s.Cancel("t1")
	assert.False(t, s.IsHeld("t1"))
	assert.Empty(t, *admitted)
}

func TestScheduler_RescheduleReplacesGate(t *testing.T) {
	admitted, onAdmit := admitCollector()
	s := New(AlwaysSource{}, onAdmit)
	defer s.Close()

	s.Hold("t1", &model.DownloadSchedule{At: time.Now().Add(time.Hour)}, nil)
	require.True(t, s.IsHeld("t1"))

	s.Reschedule("t1", nil, nil) // no gate now, admits immediately
	assert.Equal(t, []string{"t1"}, *admitted)
}
