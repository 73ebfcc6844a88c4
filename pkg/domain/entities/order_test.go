package entities

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestProductionOrder_Validation(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	node := CompositionNode{ID: "BOM-BIKE", Product: "BIKE", Version: "v1"}

	order, err := NewProductionOrder("BIKE", node, "WH-1", decimal.NewFromInt(5), "alice", now)
	if err != nil {
		t.Fatalf("Expected valid order creation to succeed: %v", err)
	}
	if order.Status != OrderPlanned {
		t.Errorf("Expected Planned, got %s", order.Status)
	}
	if order.BOMVersion != "v1" {
		t.Errorf("Expected BOM version v1, got %s", order.BOMVersion)
	}

	if _, err := NewProductionOrder("BIKE", node, "WH-1", decimal.Zero, "", now); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("Expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := NewProductionOrder("BIKE", node, "", decimal.NewFromInt(1), "", now); err == nil {
		t.Error("Expected error for empty warehouse")
	}
	if _, err := NewProductionOrder("TRIKE", node, "WH-1", decimal.NewFromInt(1), "", now); !errors.Is(err, ErrBOMProductMismatch) {
		t.Errorf("Expected ErrBOMProductMismatch, got %v", err)
	}
}

func TestOrderStatus_Transitions(t *testing.T) {
	testCases := []struct {
		from, to OrderStatus
		allowed  bool
	}{
		{OrderPlanned, OrderAllocated, true},
		{OrderPlanned, OrderCancelled, true},
		{OrderPlanned, OrderInProgress, false},
		{OrderAllocated, OrderInProgress, true},
		{OrderAllocated, OrderCancelled, true},
		{OrderInProgress, OrderCompleted, true},
		{OrderInProgress, OrderCancelled, false},
		{OrderCompleted, OrderCancelled, false},
		{OrderCancelled, OrderPlanned, false},
	}

	for _, tc := range testCases {
		t.Run(tc.from.String()+"->"+tc.to.String(), func(t *testing.T) {
			if tc.from.CanTransition(tc.to) != tc.allowed {
				t.Errorf("Expected allowed=%v", tc.allowed)
			}
		})
	}
}

func TestProductionOrder_TransitionStampsTime(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	order := &ProductionOrder{ID: "O1", Status: OrderPlanned}

	if err := order.Transition(OrderAllocated, now); err != nil {
		t.Fatalf("Expected transition to succeed: %v", err)
	}
	if order.AllocatedAt == nil || !order.AllocatedAt.Equal(now) {
		t.Errorf("Expected AllocatedAt %v, got %v", now, order.AllocatedAt)
	}

	err := order.Transition(OrderCompleted, now)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition, got %v", err)
	}
	if !strings.Contains(err.Error(), "from Allocated to Completed") {
		t.Errorf("Expected states in message, got %q", err.Error())
	}
}

func TestProductionOrder_Clone(t *testing.T) {
	now := time.Now()
	order := ProductionOrder{
		Requirements: []Requirement{{Product: "A", Warehouse: "W", Quantity: decimal.NewFromInt(1)}},
		AllocatedAt:  &now,
	}
	clone := order.Clone()
	clone.Requirements[0].Product = "B"
	*clone.AllocatedAt = now.Add(time.Hour)

	if order.Requirements[0].Product != "A" {
		t.Error("Expected clone requirements to be independent")
	}
	if !order.AllocatedAt.Equal(now) {
		t.Error("Expected clone timestamps to be independent")
	}
}

func TestInsufficientStockError_Message(t *testing.T) {
	err := &InsufficientStockError{Shortages: []Shortage{{
		Product:   "RM-STEEL-001",
		Warehouse: "WH-1",
		Required:  decimal.NewFromInt(112),
		Available: decimal.NewFromInt(100),
		ShortBy:   decimal.NewFromInt(12),
	}}}

	if !errors.Is(err, ErrInsufficientStock) {
		t.Error("Expected error to match ErrInsufficientStock")
	}
	if !strings.Contains(err.Error(), "short by 12 units of RM-STEEL-001 in WH-1") {
		t.Errorf("Unexpected message %q", err.Error())
	}
	if !err.ShortBy("RM-STEEL-001").Equal(decimal.NewFromInt(12)) {
		t.Errorf("Expected ShortBy 12, got %s", err.ShortBy("RM-STEEL-001"))
	}
}

func TestCircularReferenceError_Path(t *testing.T) {
	var err error = &CircularReferenceError{Path: []ProductID{"A", "B", "A"}}

	var cycle *CircularReferenceError
	if !errors.As(err, &cycle) {
		t.Fatal("Expected errors.As to extract the cycle")
	}
	if !errors.Is(err, ErrCircularReference) {
		t.Error("Expected error to match ErrCircularReference")
	}
	if !strings.HasSuffix(err.Error(), "A -> B -> A") {
		t.Errorf("Unexpected message %q", err.Error())
	}
}
