package events

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_FanOut(t *testing.T) {
	n := New(nil)
	a := n.Subscribe()
	b := n.Subscribe()
	defer a.Close()
	defer b.Close()

	n.Publish(Event{Type: NewItem, ItemID: "1"})

	for _, s := range []*Subscription{a, b} {
		e := <-s.C
		assert.Equal(t, NewItem, e.Type)
		assert.Equal(t, "1", e.ItemID)
		assert.NotZero(t, e.Timestamp)
	}
}

func TestNotifier_OrderPreserved(t *testing.T) {
	n := New(nil)
	s := n.Subscribe()
	defer s.Close()

	seq := []Type{NewItem, ItemUpdated, ItemUpdated, ItemConfirmed}
	for _, typ := range seq {
		n.Publish(Event{Type: typ, ItemID: "x"})
	}
	for _, want := range seq {
		assert.Equal(t, want, (<-s.C).Type)
	}
}

func TestNotifier_FullQueueDrops(t *testing.T) {
	n := New(nil)
	s := n.Subscribe()
	defer s.Close()

	for i := range DefaultBuffer + 10 {
		n.Publish(Event{Type: ItemUpdated, ItemID: strconv.Itoa(i)})
	}

	assert.Len(t, s.C, DefaultBuffer)
	assert.Equal(t, "0", (<-s.C).ItemID)
}

func TestSubscription_Close(t *testing.T) {
	n := New(nil)
	s := n.Subscribe()
	assert.Equal(t, 1, n.Subscribers())

	s.Close()
	s.Close()
	assert.Equal(t, 0, n.Subscribers())

	_, ok := <-s.C
	assert.False(t, ok)

	// Publishing after close must not panic.
	n.Publish(Event{Type: ItemDeleted, ItemID: "1"})
}

func TestNotifier_ConcurrentPublishAndClose(t *testing.T) {
	n := New(nil)
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			s := n.Subscribe()
			for range 20 {
				n.Publish(Event{Type: ItemUpdated})
			}
			s.Close()
		})
	}
	wg.Wait()
	require.Equal(t, 0, n.Subscribers())
}
