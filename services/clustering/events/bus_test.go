package events

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/solgraph/services/clustering/observability"
)

func TestBus_DeliversToEverySubscriber(t *testing.T) {
	bus := NewBus(nil)
	a := bus.Subscribe(4)
	b := bus.Subscribe(4)

	bus.Publish(Event{Kind: KindSubmissionAccepted, AssignmentID: "hw1", SubmissionUID: "s1"})

	for _, s := range []*Subscription{a, b} {
		ev := <-s.C()
		assert.Equal(t, KindSubmissionAccepted, ev.Kind)
		assert.Equal(t, "s1", ev.SubmissionUID)
		assert.False(t, ev.Time.IsZero())
	}
}

func TestBus_FullQueueDropsOldest(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	bus := NewBus(m)
	s := bus.Subscribe(2)

	for _, uid := range []string{"1", "2", "3"} {
		bus.Publish(Event{Kind: KindSubmissionAccepted, SubmissionUID: uid})
	}

	require.Len(t, s.C(), 2)
	assert.Equal(t, "2", (<-s.C()).SubmissionUID)
	assert.Equal(t, "3", (<-s.C()).SubmissionUID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDroppedTotal))
}

func TestBus_UnsubscribeClosesOnce(t *testing.T) {
	bus := NewBus(nil)
	s := bus.Subscribe(0)
	assert.Equal(t, 1, bus.Subscribers())
	assert.Equal(t, DefaultBuffer, cap(s.ch))

	bus.Unsubscribe(s)
	bus.Unsubscribe(s)
	_, open := <-s.C()
	assert.False(t, open)
	assert.Equal(t, 0, bus.Subscribers())

	assert.NotPanics(t, func() { bus.Publish(Event{Kind: KindAssignmentCreated}) })
}

func TestBus_ConcurrentPublishers(t *testing.T) {
	bus := NewBus(nil)
	s := bus.Subscribe(10)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(Event{Kind: KindSubmissionAccepted})
			}
		}()
	}
	wg.Wait()
	assert.Len(t, s.C(), 10)
}

func TestBus_NilIsNoop(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(Event{}) })
}
