package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 0, want: defaultBackoffBase},
		{attempts: 1, want: defaultBackoffBase},
		{attempts: 2, want: 4 * time.Second},
		{attempts: 3, want: 8 * time.Second},
		{attempts: 10, want: defaultBackoffCap},
	}

	for _, tt := range tests {
		got := CalculateBackoff(tt.attempts)
		assert.Equal(t, tt.want, got)
	}
}

func TestPriorityScore_OrdersByPriorityThenSequence(t *testing.T) {
	higherPriority := priorityScore(0, 100)
	lowerPriority := priorityScore(1, 1)

	assert.Less(t, higherPriority, lowerPriority, "lower priority number should sort first regardless of sequence")

	first := priorityScore(5, 1)
	second := priorityScore(5, 2)
	assert.Less(t, first, second, "equal priority should order by sequence")
}

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := newEventBus()
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.publish(Event{Type: EventActive, EntryID: "job-1"})

	select {
	case evt := <-ch:
		assert.Equal(t, EventActive, evt.Type)
		assert.Equal(t, "job-1", evt.EntryID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := newEventBus()
	ch, unsubscribe := bus.Subscribe()
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestEntryMarshalRoundtrip(t *testing.T) {
	entry := &Entry{
		ID:          "job-1",
		Name:        "transcode",
		Priority:    1,
		MaxAttempts: 5,
		Status:      StatusWaiting,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}

	data, err := entry.marshal()
	assert.NoError(t, err)

	got, err := unmarshalEntry(data)
	assert.NoError(t, err)
	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, entry.Status, got.Status)
	assert.Equal(t, entry.CreatedAt, got.CreatedAt)
}
