package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vsinha/costing/pkg/domain/entities"
)

type recordingHandler struct {
	types  map[string]bool
	seen   []Event
	failOn string
}

func (h *recordingHandler) Handle(event Event) error {
	h.seen = append(h.seen, event)
	if event.Type() == h.failOn {
		return errors.New("boom")
	}
	return nil
}

func (h *recordingHandler) CanHandle(eventType string) bool {
	return h.types[eventType]
}

func TestInMemoryEventStore_VersionsPerStream(t *testing.T) {
	store := NewInMemoryEventStore(nil)
	at := time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)

	order := entities.ProductionOrder{ID: "O1"}
	require.NoError(t, store.AppendEvent("O1", NewOrderEvent(OrderSubmittedEvent, order, at)))
	require.NoError(t, store.AppendEvent("O2", NewOrderEvent(OrderSubmittedEvent, entities.ProductionOrder{ID: "O2"}, at)))
	require.NoError(t, store.AppendEvent("O1", NewOrderEvent(OrderAllocatedEvent, order, at)))

	stream, err := store.ReadEvents("O1", 0)
	require.NoError(t, err)
	require.Len(t, stream, 2)
	assert.Equal(t, 1, stream[0].Version())
	assert.Equal(t, 2, stream[1].Version())
	assert.Equal(t, OrderAllocatedEvent, stream[1].Type())

	tail, err := store.ReadEvents("O1", 2)
	require.NoError(t, err)
	assert.Len(t, tail, 1)

	all, err := store.ReadAllEvents(1)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "O2", all[0].StreamID())

	empty, err := store.ReadAllEvents(10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestInMemoryEventStore_NotifiesSynchronously(t *testing.T) {
	store := NewInMemoryEventStore(nil)
	handler := &recordingHandler{types: map[string]bool{MovementEvent: true}, failOn: MovementEvent}
	require.NoError(t, store.Subscribe([]string{MovementEvent, OrderStartedEvent}, handler))

	m := entities.Movement{Seq: 7, Product: "P", Type: entities.MovementReserve}
	assert.NoError(t, store.AppendEvent("P", NewMovementEvent(m)), "handler failure does not fail the append")
	require.NoError(t, store.AppendEvent("O1", NewOrderEvent(OrderStartedEvent, entities.ProductionOrder{ID: "O1"}, time.Time{})))

	require.Len(t, handler.seen, 1, "CanHandle filters the order event")
	recorded := handler.seen[0].Data().(MovementRecorded)
	assert.Equal(t, int64(7), recorded.Movement.Seq)

	require.NoError(t, store.Unsubscribe(handler))
	require.NoError(t, store.AppendEvent("P", NewMovementEvent(m)))
	assert.Len(t, handler.seen, 1)
}

func TestOrderEventType(t *testing.T) {
	tests := []struct {
		status   entities.OrderStatus
		expected string
	}{
		{entities.OrderPlanned, OrderSubmittedEvent},
		{entities.OrderAllocated, OrderAllocatedEvent},
		{entities.OrderInProgress, OrderStartedEvent},
		{entities.OrderCompleted, OrderCompletedEvent},
		{entities.OrderCancelled, OrderCancelledEvent},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, OrderEventType(tt.status))
		})
	}
}
