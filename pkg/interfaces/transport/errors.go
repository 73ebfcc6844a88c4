package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vsinha/costing/pkg/domain/entities"
	"go.uber.org/zap"
)

// ErrorType classifies failures returned to HTTP clients
type ErrorType int

const (
	ErrInternal ErrorType = iota
	ErrInvalidRequest
	ErrNotFound
	ErrInsufficientStock
	ErrCircularReference
	ErrConflict
	ErrUnprocessable
)

// ErrorTypeMessage is the client-facing message of each error type
var ErrorTypeMessage = map[ErrorType]string{
	ErrInternal:          "internal error",
	ErrInvalidRequest:    "invalid request",
	ErrNotFound:          "not found",
	ErrInsufficientStock: "insufficient stock",
	ErrCircularReference: "circular BOM reference",
	ErrConflict:          "conflict",
	ErrUnprocessable:     "request cannot be processed",
}

// ErrorTypeHTTPCode is the response status of each error type
var ErrorTypeHTTPCode = map[ErrorType]int{
	ErrInternal:          http.StatusInternalServerError,
	ErrInvalidRequest:    http.StatusBadRequest,
	ErrNotFound:          http.StatusNotFound,
	ErrInsufficientStock: http.StatusConflict,
	ErrCircularReference: http.StatusUnprocessableEntity,
	ErrConflict:          http.StatusConflict,
	ErrUnprocessable:     http.StatusUnprocessableEntity,
}

// ErrorTypeCode is the stable code returned in error bodies
var ErrorTypeCode = map[ErrorType]string{
	ErrInternal:          "0001",
	ErrInvalidRequest:    "0002",
	ErrNotFound:          "0003",
	ErrInsufficientStock: "0004",
	ErrCircularReference: "0005",
	ErrConflict:          "0006",
	ErrUnprocessable:     "0007",
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Code      string               `json:"code"`
	Message   string               `json:"message"`
	Detail    string               `json:"detail,omitempty"`
	Shortages []entities.Shortage  `json:"shortages,omitempty"`
	Cycle     []entities.ProductID `json:"cycle,omitempty"`
}

// classify maps an engine error onto its ErrorType. Order matters:
// ErrConsumeExceedsReservation is both a user error on completion and a ledger invariant.
func classify(err error) ErrorType {
	var shortage *entities.InsufficientStockError
	var cycle *entities.CircularReferenceError
	switch {
	case errors.As(err, &shortage):
		return ErrInsufficientStock
	case errors.As(err, &cycle):
		return ErrCircularReference
	case errors.Is(err, entities.ErrConsumeExceedsReservation):
		return ErrUnprocessable
	case errors.Is(err, entities.ErrInvalidQuantity), errors.Is(err, entities.ErrInvalidInput):
		return ErrInvalidRequest
	case errors.Is(err, entities.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, entities.ErrInvalidTransition),
		errors.Is(err, entities.ErrConcurrentModification),
		errors.Is(err, entities.ErrAlreadyExists):
		return ErrConflict
	case errors.Is(err, entities.ErrBOMNotActive),
		errors.Is(err, entities.ErrBOMProductMismatch),
		errors.Is(err, entities.ErrDepthExceeded):
		return ErrUnprocessable
	default:
		return ErrInternal
	}
}

func newErrorResponse(errType ErrorType, err error) ErrorResponse {
	resp := ErrorResponse{
		Code:    ErrorTypeCode[errType],
		Message: ErrorTypeMessage[errType],
	}
	if errType == ErrInternal {
		return resp
	}
	if err != nil {
		resp.Detail = err.Error()
	}

	var shortage *entities.InsufficientStockError
	if errors.As(err, &shortage) {
		resp.Shortages = shortage.Shortages
	}
	var cycle *entities.CircularReferenceError
	if errors.As(err, &cycle) {
		resp.Cycle = cycle.Path
	}
	return resp
}

func (h *RestHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	errType := classify(err)
	if errType == ErrInternal {
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		}
		if entities.IsInvariantViolation(err) {
			fields = append(fields, zap.Bool("defect", true))
		}
		h.logger.Error("request failed", fields...)
	}
	writeJSON(w, ErrorTypeHTTPCode[errType], newErrorResponse(errType, err))
}

func (h *RestHandler) writeInvalid(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, newErrorResponse(ErrInvalidRequest, err))
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
