package repositories

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/vsinha/costing/pkg/domain/entities"
)

// BatchReader yields usable batches for a stock key in FIFO order.
// Outside a transaction the result is a lock-free snapshot and may be stale.
type BatchReader interface {
	UsableBatches(ctx context.Context, key entities.StockKey) ([]entities.Batch, error)
}

// BatchLedger is the authoritative record of batches and reservations
type BatchLedger interface {
	BatchReader
	Batch(ctx context.Context, id entities.BatchID) (entities.Batch, error)
	Batches(ctx context.Context, key entities.StockKey) ([]entities.Batch, error)
	Reservation(ctx context.Context, id entities.ReservationID) (entities.Reservation, error)
	OrderReservations(ctx context.Context, orderID entities.OrderID) ([]entities.Reservation, error)
	Movements(ctx context.Context, afterSeq int64, limit int) ([]entities.Movement, error)

	// Atomically locks keys in sorted order and runs fn against a unit of work.
	// Writes are committed only when fn returns nil; the committed movements are
	// returned with their sequence numbers assigned.
	Atomically(ctx context.Context, keys []entities.StockKey, fn func(tx LedgerTx) error) ([]entities.Movement, error)
}

// LedgerTx is a unit of work valid only inside Atomically and only for the locked keys
type LedgerTx interface {
	BatchReader
	Batch(ctx context.Context, id entities.BatchID) (entities.Batch, error)
	OrderReservations(ctx context.Context, orderID entities.OrderID) ([]entities.Reservation, error)

	// Reserve increments the batch reserved quantity and writes the reservation in one step
	Reserve(ctx context.Context, r entities.Reservation) (entities.Reservation, error)
	// Release frees an Active reservation; releasing a Released one is a no-op
	Release(ctx context.Context, id entities.ReservationID) error
	// Consume removes actual from on-hand and frees the whole reservation
	Consume(ctx context.Context, id entities.ReservationID, actual decimal.Decimal) (entities.Reservation, error)
	// Receive stocks a new batch and assigns its ID and sequence.
	// kind is MovementReceipt or MovementProductionReceipt.
	Receive(ctx context.Context, b entities.Batch, kind entities.MovementType, reference string) (entities.Batch, error)

	// Recorded returns the movements staged by this unit of work so far
	Recorded() []entities.Movement
}

// KeyLocker serializes access to stock keys
type KeyLocker interface {
	// Lock acquires every key in the given order and returns a function releasing them
	Lock(ctx context.Context, keys []entities.StockKey) (unlock func(), err error)
}
