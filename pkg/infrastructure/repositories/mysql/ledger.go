package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/vsinha/costing/pkg/domain/entities"
	"github.com/vsinha/costing/pkg/domain/operator"
	"github.com/vsinha/costing/pkg/domain/repositories"
	"go.uber.org/zap"
)

// LedgerConfig configures a MySQL ledger
type LedgerConfig struct {
	// Locker is an optional cross-instance serializer taken before the row locks.
	// When it cannot be obtained the unit of work proceeds on row locks alone.
	Locker      repositories.KeyLocker
	LockTimeout time.Duration
	Clock       entities.Clock
	Logger      *zap.Logger
}

// Ledger is a batch ledger stored in MySQL. Each Atomically call is one DB
// transaction holding SELECT ... FOR UPDATE locks on every batch of its keys.
type Ledger struct {
	db          *sqlx.DB
	locker      repositories.KeyLocker
	lockTimeout time.Duration
	clock       entities.Clock
	logger      *zap.Logger
}

// Verify interface compliance
var _ repositories.BatchLedger = (*Ledger)(nil)

// NewLedger creates a ledger over an open connection pool
func NewLedger(db *sqlx.DB, config LedgerConfig) *Ledger {
	if config.Clock == nil {
		config.Clock = entities.SystemClock{}
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Ledger{
		db:          db,
		locker:      config.Locker,
		lockTimeout: config.LockTimeout,
		clock:       config.Clock,
		logger:      config.Logger.Named("mysql_ledger"),
	}
}

func selectBatches(ctx context.Context, q sqlx.QueryerContext, where, suffix string, args ...interface{}) ([]entities.Batch, error) {
	var rows []batchRow
	query := `SELECT ` + batchColumns + ` FROM batches WHERE ` + where + ` ORDER BY entry_time, sequence` + suffix
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	return batchEntities(rows)
}

func getBatch(ctx context.Context, q sqlx.QueryerContext, id entities.BatchID, suffix string) (entities.Batch, error) {
	var row batchRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+batchColumns+` FROM batches WHERE id = ?`+suffix, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return entities.Batch{}, fmt.Errorf("batch %s: %w", id, entities.ErrNotFound)
	}
	if err != nil {
		return entities.Batch{}, fmt.Errorf("failed to query batch %s: %w", id, err)
	}
	return row.entity()
}

func getReservation(ctx context.Context, q sqlx.QueryerContext, id entities.ReservationID, suffix string) (entities.Reservation, bool, error) {
	var row reservationRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`+suffix, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return entities.Reservation{}, false, nil
	}
	if err != nil {
		return entities.Reservation{}, false, fmt.Errorf("failed to query reservation %s: %w", id, err)
	}
	r, err := row.entity()
	return r, err == nil, err
}

func selectOrderReservations(ctx context.Context, q sqlx.QueryerContext, orderID entities.OrderID, suffix string) ([]entities.Reservation, error) {
	var rows []reservationRow
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE order_id = ? ORDER BY created_seq` + suffix
	if err := sqlx.SelectContext(ctx, q, &rows, query, string(orderID)); err != nil {
		return nil, fmt.Errorf("failed to query reservations of order %s: %w", orderID, err)
	}
	return reservationEntities(rows)
}

const usableWhere = `product_id = ? AND warehouse_id = ? AND quality = 'Usable' AND quantity_on_hand > reserved_quantity`

// UsableBatches returns a lock-free snapshot of usable batches in FIFO order
func (l *Ledger) UsableBatches(ctx context.Context, key entities.StockKey) ([]entities.Batch, error) {
	return selectBatches(ctx, l.db, usableWhere, "", string(key.Product), string(key.Warehouse))
}

// Batch returns a batch by ID
func (l *Ledger) Batch(ctx context.Context, id entities.BatchID) (entities.Batch, error) {
	return getBatch(ctx, l.db, id, "")
}

// Batches returns every batch of a key in FIFO order, including unusable ones
func (l *Ledger) Batches(ctx context.Context, key entities.StockKey) ([]entities.Batch, error) {
	return selectBatches(ctx, l.db, `product_id = ? AND warehouse_id = ?`, "", string(key.Product), string(key.Warehouse))
}

// Reservation returns a reservation by ID
func (l *Ledger) Reservation(ctx context.Context, id entities.ReservationID) (entities.Reservation, error) {
	r, ok, err := getReservation(ctx, l.db, id, "")
	if err != nil {
		return entities.Reservation{}, err
	}
	if !ok {
		return entities.Reservation{}, fmt.Errorf("reservation %s: %w", id, entities.ErrNotFound)
	}
	return r, nil
}

// OrderReservations returns an order's reservations in creation order
func (l *Ledger) OrderReservations(ctx context.Context, orderID entities.OrderID) ([]entities.Reservation, error) {
	return selectOrderReservations(ctx, l.db, orderID, "")
}

// Movements returns up to limit movements after afterSeq; limit <= 0 returns all
func (l *Ledger) Movements(ctx context.Context, afterSeq int64, limit int) ([]entities.Movement, error) {
	query := `SELECT ` + movementColumns + ` FROM movements WHERE seq > ? ORDER BY seq`
	args := []interface{}{afterSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []movementRow
	if err := l.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	movements := make([]entities.Movement, 0, len(rows))
	for _, row := range rows {
		m, err := row.entity()
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, nil
}

// Atomically runs fn inside one DB transaction after locking every batch row of keys
func (l *Ledger) Atomically(
	ctx context.Context,
	keys []entities.StockKey,
	fn func(tx repositories.LedgerTx) error,
) ([]entities.Movement, error) {
	sorted := entities.SortedKeys(keys)

	if l.locker != nil {
		unlock, err := l.lockKeys(ctx, sorted)
		if err != nil {
			l.logger.Warn("cross-instance lock not obtained, relying on row locks",
				zap.Int("keys", len(sorted)),
				zap.Error(err),
			)
		} else {
			defer unlock()
		}
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer tx.Rollback()

	// Keys are locked in sorted order so concurrent units of work cannot deadlock
	for _, key := range sorted {
		var ids []string
		if err := tx.SelectContext(ctx, &ids,
			`SELECT id FROM batches WHERE product_id = ? AND warehouse_id = ? ORDER BY entry_time, sequence FOR UPDATE`,
			string(key.Product), string(key.Warehouse),
		); err != nil {
			return nil, fmt.Errorf("failed to lock %s: %w", key, err)
		}
	}

	uow := &unitOfWork{tx: tx, ledger: l, locked: make(map[entities.StockKey]bool, len(sorted))}
	for _, key := range sorted {
		uow.locked[key] = true
	}

	if err := fn(uow); err != nil {
		l.logger.Debug("unit of work rolled back",
			zap.Int("staged_movements", len(uow.movements)),
			zap.Error(err),
		)
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit ledger transaction: %w", err)
	}
	return uow.movements, nil
}

func (l *Ledger) lockKeys(ctx context.Context, keys []entities.StockKey) (func(), error) {
	lockCtx := ctx
	if l.lockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, l.lockTimeout)
		defer cancel()
	}
	return l.locker.Lock(lockCtx, keys)
}

type unitOfWork struct {
	tx        *sqlx.Tx
	ledger    *Ledger
	locked    map[entities.StockKey]bool
	movements []entities.Movement
}

// Verify interface compliance
var _ repositories.LedgerTx = (*unitOfWork)(nil)

func (u *unitOfWork) requireLocked(key entities.StockKey) error {
	if !u.locked[key] {
		return fmt.Errorf("%w: %s", entities.ErrKeyNotLocked, key)
	}
	return nil
}

func (u *unitOfWork) record(ctx context.Context, t entities.MovementType, b entities.Batch, res entities.ReservationID, qty decimal.Decimal, reference string) error {
	m := entities.NewMovement(t, b, res, qty, reference, operator.FromContext(ctx), u.ledger.clock.Now())
	result, err := u.tx.ExecContext(ctx, `
		INSERT INTO movements (type, batch_id, product_id, warehouse_id, reservation_id,
			quantity, unit_cost, cost, reference, operator, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Type.String(), string(m.Batch), string(m.Product), string(m.Warehouse), string(m.Reservation),
		m.Quantity, m.UnitCost, m.Cost, m.Reference, m.Operator, utc(m.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s movement: %w", t, err)
	}
	if m.Seq, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read movement sequence: %w", err)
	}
	u.movements = append(u.movements, m)
	return nil
}

func (u *unitOfWork) writeBatch(ctx context.Context, b entities.Batch) error {
	if err := b.CheckInvariant(); err != nil {
		return fmt.Errorf("%w: %v", entities.ErrOverReservation, err)
	}
	_, err := u.tx.ExecContext(ctx,
		`UPDATE batches SET quantity_on_hand = ?, reserved_quantity = ? WHERE id = ?`,
		b.QuantityOnHand, b.ReservedQuantity, string(b.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update batch %s: %w", b.ID, err)
	}
	return nil
}

func (u *unitOfWork) UsableBatches(ctx context.Context, key entities.StockKey) ([]entities.Batch, error) {
	if err := u.requireLocked(key); err != nil {
		return nil, err
	}
	return selectBatches(ctx, u.tx, usableWhere, " FOR UPDATE", string(key.Product), string(key.Warehouse))
}

func (u *unitOfWork) Batch(ctx context.Context, id entities.BatchID) (entities.Batch, error) {
	return getBatch(ctx, u.tx, id, " FOR UPDATE")
}

func (u *unitOfWork) OrderReservations(ctx context.Context, orderID entities.OrderID) ([]entities.Reservation, error) {
	return selectOrderReservations(ctx, u.tx, orderID, " FOR UPDATE")
}

func (u *unitOfWork) Reserve(ctx context.Context, r entities.Reservation) (entities.Reservation, error) {
	if err := entities.RequirePositive("reservation quantity", r.Quantity); err != nil {
		return entities.Reservation{}, err
	}
	b, err := getBatch(ctx, u.tx, r.BatchID, " FOR UPDATE")
	if err != nil {
		return entities.Reservation{}, err
	}
	if err := u.requireLocked(b.Key()); err != nil {
		return entities.Reservation{}, err
	}
	if b.Quality != entities.QualityUsable || r.Quantity.GreaterThan(b.AvailableQuantity()) {
		return entities.Reservation{}, fmt.Errorf("%w: batch %s has %s available (%s), requested %s",
			entities.ErrOverReservation, b.ID, b.AvailableQuantity(), b.Quality, r.Quantity)
	}

	now := u.ledger.clock.Now()
	delta := r.Quantity

	var existing entities.Reservation
	var found bool
	if r.ID != "" {
		if existing, found, err = getReservation(ctx, u.tx, r.ID, " FOR UPDATE"); err != nil {
			return entities.Reservation{}, err
		}
	} else {
		r.ID = entities.ReservationID(uuid.NewString())
	}

	if found {
		if existing.Status != entities.ReservationActive || existing.BatchID != b.ID {
			return entities.Reservation{}, fmt.Errorf("%w: reservation %s is %s on batch %s",
				entities.ErrUnknownReservation, existing.ID, existing.Status, existing.BatchID)
		}
		existing.Quantity = existing.Quantity.Add(delta)
		existing.UpdatedAt = now
		r = existing
		if _, err := u.tx.ExecContext(ctx,
			`UPDATE reservations SET quantity = ?, updated_at = ? WHERE id = ?`,
			r.Quantity, utc(now), string(r.ID),
		); err != nil {
			return entities.Reservation{}, fmt.Errorf("failed to top up reservation %s: %w", r.ID, err)
		}
	} else {
		r.Product = b.Product
		r.Warehouse = b.Warehouse
		r.UnitCost = b.UnitCost
		r.Status = entities.ReservationActive
		r.ConsumedQuantity = decimal.Zero
		r.CreatedAt = now
		r.UpdatedAt = now
		if _, err := u.tx.ExecContext(ctx, `
			INSERT INTO reservations (id, order_id, batch_id, product_id, warehouse_id, quantity,
				consumed_quantity, unit_cost, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(r.ID), string(r.OrderID), string(r.BatchID), string(r.Product), string(r.Warehouse),
			r.Quantity, r.ConsumedQuantity, r.UnitCost, r.Status.String(), utc(now), utc(now),
		); err != nil {
			return entities.Reservation{}, fmt.Errorf("failed to insert reservation %s: %w", r.ID, err)
		}
	}

	b.ReservedQuantity = b.ReservedQuantity.Add(delta)
	if err := u.writeBatch(ctx, b); err != nil {
		return entities.Reservation{}, err
	}
	if err := u.record(ctx, entities.MovementReserve, b, r.ID, delta, string(r.OrderID)); err != nil {
		return entities.Reservation{}, err
	}
	return r, nil
}

// activeReservation loads a reservation and its batch, both row-locked
func (u *unitOfWork) activeReservation(ctx context.Context, id entities.ReservationID) (entities.Reservation, entities.Batch, error) {
	r, ok, err := getReservation(ctx, u.tx, id, " FOR UPDATE")
	if err != nil {
		return entities.Reservation{}, entities.Batch{}, err
	}
	if !ok {
		return entities.Reservation{}, entities.Batch{}, fmt.Errorf("%w: reservation %s does not exist", entities.ErrUnknownReservation, id)
	}
	if r.IsTerminal() {
		return r, entities.Batch{}, nil
	}
	if err := u.requireLocked(r.Key()); err != nil {
		return entities.Reservation{}, entities.Batch{}, err
	}
	b, err := getBatch(ctx, u.tx, r.BatchID, " FOR UPDATE")
	if err != nil {
		return entities.Reservation{}, entities.Batch{}, err
	}
	return r, b, nil
}

func (u *unitOfWork) finishReservation(ctx context.Context, r entities.Reservation) error {
	_, err := u.tx.ExecContext(ctx,
		`UPDATE reservations SET status = ?, consumed_quantity = ?, updated_at = ? WHERE id = ?`,
		r.Status.String(), r.ConsumedQuantity, utc(r.UpdatedAt), string(r.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update reservation %s: %w", r.ID, err)
	}
	return nil
}

func (u *unitOfWork) Release(ctx context.Context, id entities.ReservationID) error {
	r, b, err := u.activeReservation(ctx, id)
	if err != nil {
		return err
	}
	switch r.Status {
	case entities.ReservationReleased:
		return nil
	case entities.ReservationConsumed:
		return fmt.Errorf("%w: reservation %s is already consumed", entities.ErrUnknownReservation, id)
	}

	b.ReservedQuantity = b.ReservedQuantity.Sub(r.Quantity)
	r.Status = entities.ReservationReleased
	r.UpdatedAt = u.ledger.clock.Now()

	if err := u.writeBatch(ctx, b); err != nil {
		return err
	}
	if err := u.finishReservation(ctx, r); err != nil {
		return err
	}
	return u.record(ctx, entities.MovementRelease, b, r.ID, r.Quantity, string(r.OrderID))
}

func (u *unitOfWork) Consume(ctx context.Context, id entities.ReservationID, actual decimal.Decimal) (entities.Reservation, error) {
	if err := entities.RequireNonNegative("consumed quantity", actual); err != nil {
		return entities.Reservation{}, err
	}
	r, b, err := u.activeReservation(ctx, id)
	if err != nil {
		return entities.Reservation{}, err
	}
	if r.IsTerminal() {
		return entities.Reservation{}, fmt.Errorf("%w: reservation %s is already %s", entities.ErrUnknownReservation, id, r.Status)
	}
	if actual.GreaterThan(r.Quantity) {
		return entities.Reservation{}, fmt.Errorf("%w: reservation %s holds %s, consumed %s",
			entities.ErrConsumeExceedsReservation, id, r.Quantity, actual)
	}

	b.QuantityOnHand = b.QuantityOnHand.Sub(actual)
	b.ReservedQuantity = b.ReservedQuantity.Sub(r.Quantity)
	r.ConsumedQuantity = actual
	r.Status = entities.ReservationConsumed
	r.UpdatedAt = u.ledger.clock.Now()

	if err := u.writeBatch(ctx, b); err != nil {
		return entities.Reservation{}, err
	}
	if err := u.finishReservation(ctx, r); err != nil {
		return entities.Reservation{}, err
	}
	if actual.IsPositive() {
		if err := u.record(ctx, entities.MovementConsume, b, r.ID, actual, string(r.OrderID)); err != nil {
			return entities.Reservation{}, err
		}
	}
	if remainder := r.Quantity.Sub(actual); remainder.IsPositive() {
		if err := u.record(ctx, entities.MovementRelease, b, r.ID, remainder, string(r.OrderID)); err != nil {
			return entities.Reservation{}, err
		}
	}
	return r, nil
}

func (u *unitOfWork) Receive(ctx context.Context, b entities.Batch, kind entities.MovementType, reference string) (entities.Batch, error) {
	if kind != entities.MovementReceipt && kind != entities.MovementProductionReceipt {
		return entities.Batch{}, fmt.Errorf("movement type %s is not a receipt", kind)
	}
	validated, err := entities.NewBatch(b.Product, b.Warehouse, b.LotNumber, b.QuantityOnHand, b.UnitCost, b.EntryTime, b.Quality)
	if err != nil {
		return entities.Batch{}, err
	}
	if err := u.requireLocked(validated.Key()); err != nil {
		return entities.Batch{}, err
	}

	validated.ID = b.ID
	if validated.ID == "" {
		validated.ID = entities.BatchID(uuid.NewString())
	}
	if validated.EntryTime.IsZero() {
		validated.EntryTime = u.ledger.clock.Now()
	}

	result, err := u.tx.ExecContext(ctx, `
		INSERT INTO batches (id, product_id, warehouse_id, lot_number, quantity_on_hand,
			reserved_quantity, unit_cost, entry_time, quality)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(validated.ID), string(validated.Product), string(validated.Warehouse), validated.LotNumber,
		validated.QuantityOnHand, validated.ReservedQuantity, validated.UnitCost,
		utc(validated.EntryTime), validated.Quality.String(),
	)
	if isDuplicate(err) {
		return entities.Batch{}, fmt.Errorf("batch %s: %w", validated.ID, entities.ErrAlreadyExists)
	}
	if err != nil {
		return entities.Batch{}, fmt.Errorf("failed to insert batch %s: %w", validated.ID, err)
	}
	if validated.Sequence, err = result.LastInsertId(); err != nil {
		return entities.Batch{}, fmt.Errorf("failed to read batch sequence: %w", err)
	}

	if err := u.record(ctx, kind, *validated, "", validated.QuantityOnHand, reference); err != nil {
		return entities.Batch{}, err
	}
	return *validated, nil
}

func (u *unitOfWork) Recorded() []entities.Movement {
	return append([]entities.Movement(nil), u.movements...)
}
