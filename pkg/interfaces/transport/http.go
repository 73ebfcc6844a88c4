// Package transport binds the costing engine to JSON over HTTP.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/vsinha/costing/pkg/application/dto"
	"github.com/vsinha/costing/pkg/domain/entities"
	domainservices "github.com/vsinha/costing/pkg/domain/services"
	"go.uber.org/zap"
)

// Engine is the part of services.Engine served over HTTP
type Engine interface {
	ReceiveStock(ctx context.Context, req dto.ReceiptRequest) (*entities.Batch, error)
	CheckAvailability(ctx context.Context, product entities.ProductID, warehouse entities.WarehouseID) (*dto.Availability, error)
	ExplodeBOM(ctx context.Context, req dto.ExplosionRequest) (*dto.ExplosionResult, error)
	DefineBOM(ctx context.Context, req dto.DefineBOMRequest) (*entities.CompositionNode, error)
	ActivateBOM(ctx context.Context, id entities.BOMID) (*entities.CompositionNode, error)
	ObsoleteBOM(ctx context.Context, id entities.BOMID) (*entities.CompositionNode, error)
	ValidateBOMs(ctx context.Context) (*domainservices.ValidationResult, error)
	SubmitOrder(ctx context.Context, req dto.SubmitOrderRequest) (*entities.ProductionOrder, error)
	AllocateOrder(ctx context.Context, id entities.OrderID) (*entities.ProductionOrder, error)
	StartOrder(ctx context.Context, id entities.OrderID) (*entities.ProductionOrder, error)
	CompleteOrder(ctx context.Context, id entities.OrderID, report dto.CompletionReport) (*entities.ProductionOrder, error)
	CancelOrder(ctx context.Context, id entities.OrderID) (*entities.ProductionOrder, error)
	GetOrder(ctx context.Context, id entities.OrderID) (*entities.ProductionOrder, error)
	ListOrders(ctx context.Context, status *entities.OrderStatus) ([]entities.ProductionOrder, error)
	Movements(ctx context.Context, afterSeq int64, limit int) ([]entities.Movement, error)
}

// defaultMovementLimit caps GET /movements when no limit is given
const defaultMovementLimit = 500

// RestHandler serves the engine operations over HTTP
type RestHandler struct {
	engine Engine
	logger *zap.Logger
}

// NewTransport wires the routes and middleware for engine
func NewTransport(engine Engine, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	router := mux.NewRouter()
	rh := &RestHandler{engine: engine, logger: logger}

	router.HandleFunc("/health", rh.Health).Methods(http.MethodGet)

	// stock
	router.HandleFunc("/stock/receipts", rh.ReceiveStock).Methods(http.MethodPost)
	router.HandleFunc("/stock/{product}/{warehouse}", rh.CheckAvailability).Methods(http.MethodGet)

	// BOMs
	router.HandleFunc("/boms", rh.DefineBOM).Methods(http.MethodPost)
	router.HandleFunc("/boms/explode", rh.ExplodeBOM).Methods(http.MethodPost)
	router.HandleFunc("/boms/validation", rh.ValidateBOMs).Methods(http.MethodGet)
	router.HandleFunc("/boms/{id}/activate", rh.ActivateBOM).Methods(http.MethodPost)
	router.HandleFunc("/boms/{id}/obsolete", rh.ObsoleteBOM).Methods(http.MethodPost)

	// production orders
	router.HandleFunc("/orders", rh.SubmitOrder).Methods(http.MethodPost)
	router.HandleFunc("/orders", rh.ListOrders).Methods(http.MethodGet)
	router.HandleFunc("/orders/{id}", rh.GetOrder).Methods(http.MethodGet)
	router.HandleFunc("/orders/{id}/allocate", rh.orderTransition(engine.AllocateOrder)).Methods(http.MethodPost)
	router.HandleFunc("/orders/{id}/start", rh.orderTransition(engine.StartOrder)).Methods(http.MethodPost)
	router.HandleFunc("/orders/{id}/complete", rh.CompleteOrder).Methods(http.MethodPost)
	router.HandleFunc("/orders/{id}/cancel", rh.orderTransition(engine.CancelOrder)).Methods(http.MethodPost)

	// audit feed
	router.HandleFunc("/movements", rh.Movements).Methods(http.MethodGet)

	// middleware
	router.Use(OperatorMiddleware())
	router.Use(LoggingMiddleware(logger))

	return router
}

// decode reads a JSON body into req and validates it
func decode(r *http.Request, req interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		return fmt.Errorf("malformed body: %w", err)
	}
	return validateStruct(req)
}

// Health reports that the server is up
func (h *RestHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReceiveStock handles POST /stock/receipts
func (h *RestHandler) ReceiveStock(w http.ResponseWriter, r *http.Request) {
	var req dto.ReceiptRequest
	if err := decode(r, &req); err != nil {
		h.writeInvalid(w, err)
		return
	}

	batch, err := h.engine.ReceiveStock(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, batch)
}

// CheckAvailability handles GET /stock/{product}/{warehouse}
func (h *RestHandler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	availability, err := h.engine.CheckAvailability(r.Context(),
		entities.ProductID(vars["product"]), entities.WarehouseID(vars["warehouse"]))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availability)
}

// DefineBOM handles POST /boms; the BOM is created as Draft
func (h *RestHandler) DefineBOM(w http.ResponseWriter, r *http.Request) {
	var req dto.DefineBOMRequest
	if err := decode(r, &req); err != nil {
		h.writeInvalid(w, err)
		return
	}

	node, err := h.engine.DefineBOM(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

// ActivateBOM handles POST /boms/{id}/activate
func (h *RestHandler) ActivateBOM(w http.ResponseWriter, r *http.Request) {
	node, err := h.engine.ActivateBOM(r.Context(), entities.BOMID(mux.Vars(r)["id"]))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// ObsoleteBOM handles POST /boms/{id}/obsolete
func (h *RestHandler) ObsoleteBOM(w http.ResponseWriter, r *http.Request) {
	node, err := h.engine.ObsoleteBOM(r.Context(), entities.BOMID(mux.Vars(r)["id"]))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// ExplodeBOM handles POST /boms/explode
func (h *RestHandler) ExplodeBOM(w http.ResponseWriter, r *http.Request) {
	var req dto.ExplosionRequest
	if err := decode(r, &req); err != nil {
		h.writeInvalid(w, err)
		return
	}

	result, err := h.engine.ExplodeBOM(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ValidateBOMs handles GET /boms/validation
func (h *RestHandler) ValidateBOMs(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.ValidateBOMs(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SubmitOrder handles POST /orders
func (h *RestHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req dto.SubmitOrderRequest
	if err := decode(r, &req); err != nil {
		h.writeInvalid(w, err)
		return
	}

	order, err := h.engine.SubmitOrder(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// ListOrders handles GET /orders, optionally filtered by ?status
func (h *RestHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	var status *entities.OrderStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := entities.ParseOrderStatus(raw)
		if err != nil {
			h.writeInvalid(w, err)
			return
		}
		status = &parsed
	}

	orders, err := h.engine.ListOrders(r.Context(), status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []entities.ProductionOrder{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetOrder handles GET /orders/{id}
func (h *RestHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.engine.GetOrder(r.Context(), entities.OrderID(mux.Vars(r)["id"]))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// orderTransition serves the transitions that take nothing but the order ID
func (h *RestHandler) orderTransition(
	transition func(context.Context, entities.OrderID) (*entities.ProductionOrder, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, err := transition(r.Context(), entities.OrderID(mux.Vars(r)["id"]))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, order)
	}
}

// CompleteOrder handles POST /orders/{id}/complete
func (h *RestHandler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	var report dto.CompletionReport
	if err := decode(r, &report); err != nil {
		h.writeInvalid(w, err)
		return
	}

	order, err := h.engine.CompleteOrder(r.Context(), entities.OrderID(mux.Vars(r)["id"]), report)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// Movements handles GET /movements?after=&limit=
func (h *RestHandler) Movements(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var after int64
	if raw := query.Get("after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			h.writeInvalid(w, fmt.Errorf("invalid after: %s", raw))
			return
		}
		after = parsed
	}
	limit := defaultMovementLimit
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeInvalid(w, fmt.Errorf("invalid limit: %s", raw))
			return
		}
		limit = parsed
	}

	movements, err := h.engine.Movements(r.Context(), after, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if movements == nil {
		movements = []entities.Movement{}
	}
	writeJSON(w, http.StatusOK, movements)
}
