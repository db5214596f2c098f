package catsync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foodcat/catsync/model"
)

func TestEventQueueFIFO(t *testing.T) {
	q := newEventQueue(2)
	for _, id := range []string{"a", "b", "c"} {
		q.Enqueue(workerEvent{kind: eventRetry, requestID: id})
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"a", "b", "c"} {
		ev, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, ev.requestID)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestEventQueueSignalCoalesces(t *testing.T) {
	q := newEventQueue(0)
	q.Enqueue(workerEvent{kind: eventRetry, requestID: "a"})
	q.Enqueue(workerEvent{kind: eventRetry, requestID: "b"})

	select {
	case <-q.Wait():
	default:
		t.Fatal("expected a pending signal")
	}
	select {
	case <-q.Wait():
		t.Fatal("signals should coalesce")
	default:
	}
	assert.Equal(t, 2, q.Len())
}

func TestEventQueueConcurrentProducers(t *testing.T) {
	q := newEventQueue(0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Enqueue(workerEvent{kind: eventRetry})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, q.Len())
}

func TestTrackerSlots(t *testing.T) {
	tr := newTracker()

	assert.True(t, tr.claim("FOO", model.FamilyReserve))
	assert.False(t, tr.claim("FOO", model.FamilyReserve))
	assert.True(t, tr.claim("FOO", model.FamilyPublish))
	assert.True(t, tr.claim("BAR", model.FamilyReserve))

	id, ok := tr.outstanding("FOO", model.FamilyReserve)
	assert.True(t, ok)
	assert.Empty(t, id)

	tr.bind("FOO", model.FamilyReserve, "DCF-0001")
	id, _ = tr.outstanding("FOO", model.FamilyReserve)
	assert.Equal(t, "DCF-0001", id)

	tr.releaseRequest("DCF-0001")
	_, ok = tr.outstanding("FOO", model.FamilyReserve)
	assert.False(t, ok)

	tr.release("FOO", model.FamilyPublish)
	assert.Equal(t, 1, tr.len())
}
