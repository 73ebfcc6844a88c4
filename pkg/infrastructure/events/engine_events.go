package events

import (
	"time"

	"github.com/vsinha/costing/pkg/domain/entities"
)

const (
	StockReceivedEvent = "stock.received"
	MovementEvent      = "ledger.movement"

	BOMDefinedEvent   = "bom.defined"
	BOMActivatedEvent = "bom.activated"
	BOMObsoletedEvent = "bom.obsoleted"

	OrderSubmittedEvent = "order.submitted"
	OrderAllocatedEvent = "order.allocated"
	OrderStartedEvent   = "order.started"
	OrderCompletedEvent = "order.completed"
	OrderCancelledEvent = "order.cancelled"
)

// AllEventTypes lists every type emitted by the engine, for catch-all subscribers
var AllEventTypes = []string{
	StockReceivedEvent, MovementEvent,
	BOMDefinedEvent, BOMActivatedEvent, BOMObsoletedEvent,
	OrderSubmittedEvent, OrderAllocatedEvent, OrderStartedEvent, OrderCompletedEvent, OrderCancelledEvent,
}

// StockReceived is emitted when a purchased batch enters the ledger
type StockReceived struct {
	Batch entities.Batch `json:"batch"`
}

// MovementRecorded carries one committed ledger movement
type MovementRecorded struct {
	Movement entities.Movement `json:"movement"`
}

// BOMChanged is emitted on BOM lifecycle changes
type BOMChanged struct {
	Node entities.CompositionNode `json:"node"`
}

// OrderChanged carries the order after a committed transition
type OrderChanged struct {
	Order entities.ProductionOrder `json:"order"`
}

// NewMovementEvent streams a movement under its product
func NewMovementEvent(m entities.Movement) Event {
	return NewEvent(MovementEvent, string(m.Product), MovementRecorded{Movement: m}, m.RecordedAt)
}

// NewStockReceivedEvent streams a receipt under its product
func NewStockReceivedEvent(b entities.Batch, at time.Time) Event {
	return NewEvent(StockReceivedEvent, string(b.Product), StockReceived{Batch: b}, at)
}

// NewBOMEvent streams a BOM change under the BOM's product
func NewBOMEvent(eventType string, node entities.CompositionNode, at time.Time) Event {
	return NewEvent(eventType, string(node.Product), BOMChanged{Node: node}, at)
}

// NewOrderEvent streams an order transition under the order ID
func NewOrderEvent(eventType string, order entities.ProductionOrder, at time.Time) Event {
	return NewEvent(eventType, string(order.ID), OrderChanged{Order: order.Clone()}, at)
}

// OrderEventType maps an order status to the event emitted on entering it
func OrderEventType(status entities.OrderStatus) string {
	switch status {
	case entities.OrderAllocated:
		return OrderAllocatedEvent
	case entities.OrderInProgress:
		return OrderStartedEvent
	case entities.OrderCompleted:
		return OrderCompletedEvent
	case entities.OrderCancelled:
		return OrderCancelledEvent
	default:
		return OrderSubmittedEvent
	}
}
