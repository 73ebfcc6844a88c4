package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vsinha/costing/pkg/application/dto"
	"github.com/vsinha/costing/pkg/domain/entities"
	"github.com/vsinha/costing/pkg/domain/operator"
	domainservices "github.com/vsinha/costing/pkg/domain/services"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) ReceiveStock(ctx context.Context, req dto.ReceiptRequest) (*entities.Batch, error) {
	args := m.Called(ctx, req)
	batch, _ := args.Get(0).(*entities.Batch)
	return batch, args.Error(1)
}

func (m *mockEngine) CheckAvailability(ctx context.Context, product entities.ProductID, warehouse entities.WarehouseID) (*dto.Availability, error) {
	args := m.Called(ctx, product, warehouse)
	availability, _ := args.Get(0).(*dto.Availability)
	return availability, args.Error(1)
}

func (m *mockEngine) ExplodeBOM(ctx context.Context, req dto.ExplosionRequest) (*dto.ExplosionResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*dto.ExplosionResult)
	return result, args.Error(1)
}

func (m *mockEngine) DefineBOM(ctx context.Context, req dto.DefineBOMRequest) (*entities.CompositionNode, error) {
	args := m.Called(ctx, req)
	node, _ := args.Get(0).(*entities.CompositionNode)
	return node, args.Error(1)
}

func (m *mockEngine) ActivateBOM(ctx context.Context, id entities.BOMID) (*entities.CompositionNode, error) {
	args := m.Called(ctx, id)
	node, _ := args.Get(0).(*entities.CompositionNode)
	return node, args.Error(1)
}

func (m *mockEngine) ObsoleteBOM(ctx context.Context, id entities.BOMID) (*entities.CompositionNode, error) {
	args := m.Called(ctx, id)
	node, _ := args.Get(0).(*entities.CompositionNode)
	return node, args.Error(1)
}

func (m *mockEngine) ValidateBOMs(ctx context.Context) (*domainservices.ValidationResult, error) {
	args := m.Called(ctx)
	result, _ := args.Get(0).(*domainservices.ValidationResult)
	return result, args.Error(1)
}

func (m *mockEngine) SubmitOrder(ctx context.Context, req dto.SubmitOrderRequest) (*entities.ProductionOrder, error) {
	args := m.Called(ctx, req)
	order, _ := args.Get(0).(*entities.ProductionOrder)
	return order, args.Error(1)
}

func (m *mockEngine) AllocateOrder(ctx context.Context, id entities.OrderID) (*entities.ProductionOrder, error) {
	args := m.Called(ctx, id)
	order, _ := args.Get(0).(*entities.ProductionOrder)
	return order, args.Error(1)
}

func (m *mockEngine) StartOrder(ctx context.Context, id entities.OrderID) (*entities.ProductionOrder, error) {
	args := m.Called(ctx, id)
	order, _ := args.Get(0).(*entities.ProductionOrder)
	return order, args.Error(1)
}

func (m *mockEngine) CompleteOrder(ctx context.Context, id entities.OrderID, report dto.CompletionReport) (*entities.ProductionOrder, error) {
	args := m.Called(ctx, id, report)
	order, _ := args.Get(0).(*entities.ProductionOrder)
	return order, args.Error(1)
}

func (m *mockEngine) CancelOrder(ctx context.Context, id entities.OrderID) (*entities.ProductionOrder, error) {
	args := m.Called(ctx, id)
	order, _ := args.Get(0).(*entities.ProductionOrder)
	return order, args.Error(1)
}

func (m *mockEngine) GetOrder(ctx context.Context, id entities.OrderID) (*entities.ProductionOrder, error) {
	args := m.Called(ctx, id)
	order, _ := args.Get(0).(*entities.ProductionOrder)
	return order, args.Error(1)
}

func (m *mockEngine) ListOrders(ctx context.Context, status *entities.OrderStatus) ([]entities.ProductionOrder, error) {
	args := m.Called(ctx, status)
	orders, _ := args.Get(0).([]entities.ProductionOrder)
	return orders, args.Error(1)
}

func (m *mockEngine) Movements(ctx context.Context, afterSeq int64, limit int) ([]entities.Movement, error) {
	args := m.Called(ctx, afterSeq, limit)
	movements, _ := args.Get(0).([]entities.Movement)
	return movements, args.Error(1)
}

// Verify interface compliance
var _ Engine = (*mockEngine)(nil)

func serve(t *testing.T, engine Engine, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, values := range header {
		for _, val := range values {
			req.Header.Add(k, val)
		}
	}
	rec := httptest.NewRecorder()
	NewTransport(engine, nil).ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestReceiveStock_CreatesBatchWithOperator(t *testing.T) {
	engine := new(mockEngine)
	batch := &entities.Batch{ID: "B-1", Product: "RM-STEEL-001", Warehouse: "WH-1", QuantityOnHand: decimal.NewFromInt(100)}
	engine.On("ReceiveStock", mock.MatchedBy(func(ctx context.Context) bool {
		return operator.FromContext(ctx) == "alice"
	}), mock.MatchedBy(func(req dto.ReceiptRequest) bool {
		return req.Product == "RM-STEEL-001" && req.Quantity.Equal(decimal.NewFromInt(100)) &&
			req.Quality == entities.QualityQuarantine
	})).Return(batch, nil)

	rec := serve(t, engine, http.MethodPost, "/stock/receipts",
		`{"product":"RM-STEEL-001","warehouse":"WH-1","quantity":"100","unit_cost":"25.50","quality":"Quarantine"}`,
		http.Header{OperatorHeader: []string{"alice"}})

	require.Equal(t, http.StatusCreated, rec.Code)
	var got entities.Batch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, entities.BatchID("B-1"), got.ID)
	assert.True(t, got.QuantityOnHand.Equal(decimal.NewFromInt(100)))
	engine.AssertExpectations(t)
}

func TestRequestValidation(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{"malformed json", "/stock/receipts", `{"product":`},
		{"zero receipt quantity", "/stock/receipts", `{"product":"P","warehouse":"W","quantity":"0","unit_cost":"1"}`},
		{"negative unit cost", "/stock/receipts", `{"product":"P","warehouse":"W","quantity":"1","unit_cost":"-1"}`},
		{"missing warehouse", "/orders", `{"product":"P","quantity":"5"}`},
		{"bom without lines", "/boms", `{"product":"P","version":"v1","lines":[]}`},
		{"scrap of one hundred percent", "/boms",
			`{"product":"P","version":"v1","lines":[{"sequence":1,"component":"C","quantity":"1","scrap_percentage":"100"}]}`},
		{"negative scrap reported", "/orders/ORD-1/complete", `{"scrapped":"-1"}`},
		{"explosion without quantity", "/boms/explode", `{"product":"P","warehouse":"W"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := new(mockEngine)
			rec := serve(t, engine, http.MethodPost, tt.path, tt.body, nil)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, ErrorTypeCode[ErrInvalidRequest], decodeError(t, rec).Code)
			engine.AssertNotCalled(t, "ReceiveStock", mock.Anything, mock.Anything)
			engine.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)
			engine.AssertNotCalled(t, "DefineBOM", mock.Anything, mock.Anything)
		})
	}
}

func TestAllocateOrder_ShortageReturnsConflictWithShortages(t *testing.T) {
	engine := new(mockEngine)
	shortage := entities.Shortage{
		Product:   "RM-STEEL-001",
		Warehouse: "WH-1",
		Required:  decimal.NewFromInt(900),
		Available: decimal.NewFromInt(800),
		ShortBy:   decimal.NewFromInt(100),
	}
	engine.On("AllocateOrder", mock.Anything, entities.OrderID("ORD-1")).
		Return(nil, fmt.Errorf("allocate order ORD-1: %w", &entities.InsufficientStockError{Shortages: []entities.Shortage{shortage}}))

	rec := serve(t, engine, http.MethodPost, "/orders/ORD-1/allocate", "", nil)

	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeError(t, rec)
	require.Len(t, resp.Shortages, 1)
	assert.Equal(t, entities.ProductID("RM-STEEL-001"), resp.Shortages[0].Product)
	assert.True(t, resp.Shortages[0].ShortBy.Equal(decimal.NewFromInt(100)))
	assert.Contains(t, resp.Detail, "short by 100 units of RM-STEEL-001 in WH-1")
}

func TestActivateBOM_CycleReturnsPath(t *testing.T) {
	engine := new(mockEngine)
	engine.On("ActivateBOM", mock.Anything, entities.BOMID("B@v1")).
		Return(nil, &entities.CircularReferenceError{Path: []entities.ProductID{"A", "B", "A"}})

	rec := serve(t, engine, http.MethodPost, "/boms/B@v1/activate", "", nil)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, []entities.ProductID{"A", "B", "A"}, decodeError(t, rec).Cycle)
}

func TestInvariantViolationHidesDetail(t *testing.T) {
	engine := new(mockEngine)
	engine.On("CancelOrder", mock.Anything, entities.OrderID("ORD-1")).
		Return(nil, fmt.Errorf("release: %w", entities.ErrUnknownReservation))

	rec := serve(t, engine, http.MethodPost, "/orders/ORD-1/cancel", "", nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "internal error", resp.Message)
	assert.Empty(t, resp.Detail)
}

func TestCheckAvailability_PathVariables(t *testing.T) {
	engine := new(mockEngine)
	engine.On("CheckAvailability", mock.Anything, entities.ProductID("RM-STEEL-001"), entities.WarehouseID("WH-1")).
		Return(&dto.Availability{Product: "RM-STEEL-001", Warehouse: "WH-1", Available: decimal.NewFromInt(325)}, nil)

	rec := serve(t, engine, http.MethodGet, "/stock/RM-STEEL-001/WH-1", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got dto.Availability
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Available.Equal(decimal.NewFromInt(325)))
}

func TestListOrders_StatusFilter(t *testing.T) {
	engine := new(mockEngine)
	engine.On("ListOrders", mock.Anything, mock.MatchedBy(func(status *entities.OrderStatus) bool {
		return status != nil && *status == entities.OrderAllocated
	})).Return(nil, nil)

	rec := serve(t, engine, http.MethodGet, "/orders?status=Allocated", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = serve(t, engine, http.MethodGet, "/orders?status=Shipped", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	engine.AssertNumberOfCalls(t, "ListOrders", 1)
}

func TestMovements_Paging(t *testing.T) {
	engine := new(mockEngine)
	engine.On("Movements", mock.Anything, int64(5), 10).
		Return([]entities.Movement{{Seq: 6}, {Seq: 7}}, nil)
	engine.On("Movements", mock.Anything, int64(0), defaultMovementLimit).Return(nil, nil)

	rec := serve(t, engine, http.MethodGet, "/movements?after=5&limit=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got []entities.Movement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 2)

	rec = serve(t, engine, http.MethodGet, "/movements", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	for _, query := range []string{"after=-1", "limit=0", "limit=x"} {
		rec = serve(t, engine, http.MethodGet, "/movements?"+query, "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
	engine.AssertExpectations(t)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("x: %w", entities.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", entities.ErrInvalidQuantity), http.StatusBadRequest},
		{fmt.Errorf("x: %w", entities.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("x: %w", entities.ErrInvalidTransition), http.StatusConflict},
		{fmt.Errorf("x: %w", entities.ErrConcurrentModification), http.StatusConflict},
		{fmt.Errorf("x: %w", entities.ErrAlreadyExists), http.StatusConflict},
		{fmt.Errorf("x: %w", entities.ErrBOMNotActive), http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w", entities.ErrDepthExceeded), http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w", entities.ErrConsumeExceedsReservation), http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w", entities.ErrOverReservation), http.StatusInternalServerError},
		{errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, ErrorTypeHTTPCode[classify(tt.err)])
		})
	}
}
