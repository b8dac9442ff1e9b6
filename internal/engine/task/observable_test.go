package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservable_GetReturnsInitialThenLatest(t *testing.T) {
	o := NewObservable(1)
	assert.Equal(t, 1, o.Get())

	o.Set(2)
	assert.Equal(t, 2, o.Get())
}

func TestObservable_SubscribeReceivesSubsequentUpdates(t *testing.T) {
	o := NewObservable("initial")
	ch, unsubscribe := o.Subscribe()
	defer unsubscribe()

	o.Set("next")
	select {
	case v := <-ch:
		assert.Equal(t, "next", v)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
	}
}

func TestObservable_MultipleSubscribersEachGetTheirOwnCopy(t *testing.T) {
	o := NewObservable(0)
	ch1, unsub1 := o.Subscribe()
	ch2, unsub2 := o.Subscribe()
	defer unsub1()
	defer unsub2()

	o.Set(42)
	require.Equal(t, 42, <-ch1)
	require.Equal(t, 42, <-ch2)
}

func TestObservable_UnsubscribeClosesChannel(t *testing.T) {
	o := NewObservable(0)
	ch, unsubscribe := o.Subscribe()
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestObservable_SetNeverBlocksOnFullSubscriberBuffer(t *testing.T) {
	o := NewObservable(0)
	_, unsubscribe := o.Subscribe() // never drained
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			o.Set(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Set blocked on a full subscriber channel")
	}
}
