package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vsinha/costing/pkg/domain/entities"
	"github.com/vsinha/costing/pkg/domain/operator"
	"github.com/vsinha/costing/pkg/domain/repositories"
	"go.uber.org/zap"
)

// LedgerConfig configures an in-memory ledger. Zero values select defaults.
type LedgerConfig struct {
	Clock       entities.Clock
	Locker      repositories.KeyLocker
	Logger      *zap.Logger
	LockTimeout time.Duration
}

// Ledger is an in-memory batch ledger. Mutations happen only through Atomically,
// which stages writes in a unit of work and applies them in a single commit.
type Ledger struct {
	mu           sync.RWMutex
	batches      map[entities.BatchID]entities.Batch
	byKey        map[entities.StockKey][]entities.BatchID
	reservations map[entities.ReservationID]entities.Reservation
	byOrder      map[entities.OrderID][]entities.ReservationID
	movements    []entities.Movement
	sequence     atomic.Int64

	clock       entities.Clock
	locker      repositories.KeyLocker
	logger      *zap.Logger
	lockTimeout time.Duration
}

// NewLedger creates a new in-memory ledger
func NewLedger(config LedgerConfig) *Ledger {
	if config.Clock == nil {
		config.Clock = entities.SystemClock{}
	}
	if config.Locker == nil {
		config.Locker = NewKeyLocker()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Ledger{
		batches:      make(map[entities.BatchID]entities.Batch),
		byKey:        make(map[entities.StockKey][]entities.BatchID),
		reservations: make(map[entities.ReservationID]entities.Reservation),
		byOrder:      make(map[entities.OrderID][]entities.ReservationID),
		clock:        config.Clock,
		locker:       config.Locker,
		logger:       config.Logger.Named("ledger"),
		lockTimeout:  config.LockTimeout,
	}
}

// Verify interface compliance
var _ repositories.BatchLedger = (*Ledger)(nil)
var _ repositories.LedgerTx = (*unitOfWork)(nil)

// UsableBatches returns a lock-free snapshot of usable batches in FIFO order
func (l *Ledger) UsableBatches(ctx context.Context, key entities.StockKey) ([]entities.Batch, error) {
	all, err := l.Batches(ctx, key)
	if err != nil {
		return nil, err
	}
	return usableInOrder(all), nil
}

// Batches returns every batch of key regardless of quality or availability
func (l *Ledger) Batches(ctx context.Context, key entities.StockKey) ([]entities.Batch, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := l.byKey[key]
	result := make([]entities.Batch, 0, len(ids))
	for _, id := range ids {
		result = append(result, l.batches[id])
	}
	return result, nil
}

// Batch returns a batch by ID
func (l *Ledger) Batch(ctx context.Context, id entities.BatchID) (entities.Batch, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	b, ok := l.batches[id]
	if !ok {
		return entities.Batch{}, fmt.Errorf("batch %s: %w", id, entities.ErrNotFound)
	}
	return b, nil
}

// Reservation returns a reservation by ID
func (l *Ledger) Reservation(ctx context.Context, id entities.ReservationID) (entities.Reservation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.reservations[id]
	if !ok {
		return entities.Reservation{}, fmt.Errorf("reservation %s: %w", id, entities.ErrNotFound)
	}
	return r, nil
}

// OrderReservations returns every reservation of an order in creation order
func (l *Ledger) OrderReservations(ctx context.Context, orderID entities.OrderID) ([]entities.Reservation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := l.byOrder[orderID]
	result := make([]entities.Reservation, 0, len(ids))
	for _, id := range ids {
		result = append(result, l.reservations[id])
	}
	return result, nil
}

// Movements returns up to limit movements with Seq greater than afterSeq
func (l *Ledger) Movements(ctx context.Context, afterSeq int64, limit int) ([]entities.Movement, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if afterSeq < 0 {
		afterSeq = 0
	}
	if afterSeq >= int64(len(l.movements)) {
		return []entities.Movement{}, nil
	}
	start := int(afterSeq)
	end := len(l.movements)
	if limit > 0 && limit < end-start {
		end = start + limit
	}
	return append([]entities.Movement(nil), l.movements[start:end]...), nil
}

// Atomically locks keys and runs fn against a fresh unit of work.
// Any error from fn discards every staged write.
func (l *Ledger) Atomically(
	ctx context.Context,
	keys []entities.StockKey,
	fn func(tx repositories.LedgerTx) error,
) ([]entities.Movement, error) {
	sorted := entities.SortedKeys(keys)

	lockCtx := ctx
	if l.lockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, l.lockTimeout)
		defer cancel()
	}
	unlock, err := l.locker.Lock(lockCtx, sorted)
	if err != nil {
		return nil, fmt.Errorf("failed to lock %d stock keys: %w", len(sorted), err)
	}
	defer unlock()

	uow := newUnitOfWork(l, sorted)
	if err := fn(uow); err != nil {
		l.logger.Debug("unit of work discarded",
			zap.Int("staged_movements", len(uow.movements)),
			zap.Error(err),
		)
		return nil, err
	}
	return l.commit(uow)
}

func (l *Ledger) commit(uow *unitOfWork) ([]entities.Movement, error) {
	for _, b := range uow.batches {
		if err := b.CheckInvariant(); err != nil {
			return nil, fmt.Errorf("%w: %v", entities.ErrOverReservation, err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range uow.createdBatches {
		b := uow.batches[id]
		l.byKey[b.Key()] = append(l.byKey[b.Key()], id)
	}
	for id, b := range uow.batches {
		l.batches[id] = b
	}
	for _, id := range uow.createdReservations {
		r := uow.reservations[id]
		l.byOrder[r.OrderID] = append(l.byOrder[r.OrderID], id)
	}
	for id, r := range uow.reservations {
		l.reservations[id] = r
	}

	committed := make([]entities.Movement, len(uow.movements))
	for i, m := range uow.movements {
		m.Seq = int64(len(l.movements) + 1)
		l.movements = append(l.movements, m)
		committed[i] = m
	}
	return committed, nil
}

// VerifyConservation checks that every batch's reserved quantity equals the sum
// of its Active reservations and stays within on-hand
func (l *Ledger) VerifyConservation() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	active := make(map[entities.BatchID]decimal.Decimal, len(l.batches))
	for _, r := range l.reservations {
		if r.Status == entities.ReservationActive {
			active[r.BatchID] = active[r.BatchID].Add(r.Quantity)
		}
	}
	for id, b := range l.batches {
		if err := b.CheckInvariant(); err != nil {
			return err
		}
		if !active[id].Equal(b.ReservedQuantity) {
			return fmt.Errorf("batch %s: active reservations %s do not match reserved quantity %s",
				id, active[id], b.ReservedQuantity)
		}
	}
	return nil
}

// LedgerSnapshot is a deep copy of ledger state for comparison
type LedgerSnapshot struct {
	Batches      map[entities.BatchID]entities.Batch
	Reservations map[entities.ReservationID]entities.Reservation
	Movements    int
}

// Snapshot copies the current ledger state
func (l *Ledger) Snapshot() LedgerSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := LedgerSnapshot{
		Batches:      make(map[entities.BatchID]entities.Batch, len(l.batches)),
		Reservations: make(map[entities.ReservationID]entities.Reservation, len(l.reservations)),
		Movements:    len(l.movements),
	}
	for id, b := range l.batches {
		snap.Batches[id] = b
	}
	for id, r := range l.reservations {
		snap.Reservations[id] = r
	}
	return snap
}

func usableInOrder(batches []entities.Batch) []entities.Batch {
	usable := make([]entities.Batch, 0, len(batches))
	for _, b := range batches {
		if b.Usable() {
			usable = append(usable, b)
		}
	}
	sort.SliceStable(usable, func(i, j int) bool {
		return entities.FIFOLess(usable[i], usable[j])
	})
	return usable
}

// unitOfWork stages batch and reservation writes for one Atomically call
type unitOfWork struct {
	ledger *Ledger
	locked map[entities.StockKey]bool

	batches             map[entities.BatchID]entities.Batch
	createdBatches      []entities.BatchID
	reservations        map[entities.ReservationID]entities.Reservation
	createdReservations []entities.ReservationID
	movements           []entities.Movement
}

func newUnitOfWork(l *Ledger, keys []entities.StockKey) *unitOfWork {
	locked := make(map[entities.StockKey]bool, len(keys))
	for _, key := range keys {
		locked[key] = true
	}
	return &unitOfWork{
		ledger:       l,
		locked:       locked,
		batches:      make(map[entities.BatchID]entities.Batch),
		reservations: make(map[entities.ReservationID]entities.Reservation),
	}
}

func (u *unitOfWork) requireLocked(key entities.StockKey) error {
	if !u.locked[key] {
		return fmt.Errorf("%w: %s", entities.ErrKeyNotLocked, key)
	}
	return nil
}

func (u *unitOfWork) batch(id entities.BatchID) (entities.Batch, bool) {
	if b, ok := u.batches[id]; ok {
		return b, true
	}
	u.ledger.mu.RLock()
	defer u.ledger.mu.RUnlock()
	b, ok := u.ledger.batches[id]
	return b, ok
}

func (u *unitOfWork) reservation(id entities.ReservationID) (entities.Reservation, bool) {
	if r, ok := u.reservations[id]; ok {
		return r, true
	}
	u.ledger.mu.RLock()
	defer u.ledger.mu.RUnlock()
	r, ok := u.ledger.reservations[id]
	return r, ok
}

func (u *unitOfWork) record(ctx context.Context, t entities.MovementType, b entities.Batch, res entities.ReservationID, qty decimal.Decimal, reference string) {
	u.movements = append(u.movements,
		entities.NewMovement(t, b, res, qty, reference, operator.FromContext(ctx), u.ledger.clock.Now()))
}

// UsableBatches returns usable batches of a locked key including staged writes
func (u *unitOfWork) UsableBatches(ctx context.Context, key entities.StockKey) ([]entities.Batch, error) {
	if err := u.requireLocked(key); err != nil {
		return nil, err
	}

	u.ledger.mu.RLock()
	ids := append([]entities.BatchID(nil), u.ledger.byKey[key]...)
	u.ledger.mu.RUnlock()

	all := make([]entities.Batch, 0, len(ids))
	for _, id := range ids {
		if b, ok := u.batch(id); ok {
			all = append(all, b)
		}
	}
	for _, id := range u.createdBatches {
		if b := u.batches[id]; b.Key() == key {
			all = append(all, b)
		}
	}
	return usableInOrder(all), nil
}

// Batch returns a batch as seen by this unit of work
func (u *unitOfWork) Batch(ctx context.Context, id entities.BatchID) (entities.Batch, error) {
	b, ok := u.batch(id)
	if !ok {
		return entities.Batch{}, fmt.Errorf("batch %s: %w", id, entities.ErrNotFound)
	}
	return b, nil
}

// OrderReservations returns the order's reservations including staged writes
func (u *unitOfWork) OrderReservations(ctx context.Context, orderID entities.OrderID) ([]entities.Reservation, error) {
	u.ledger.mu.RLock()
	ids := append([]entities.ReservationID(nil), u.ledger.byOrder[orderID]...)
	u.ledger.mu.RUnlock()

	for _, id := range u.createdReservations {
		if u.reservations[id].OrderID == orderID {
			ids = append(ids, id)
		}
	}

	result := make([]entities.Reservation, 0, len(ids))
	for _, id := range ids {
		if r, ok := u.reservation(id); ok {
			result = append(result, r)
		}
	}
	return result, nil
}

// Reserve increments reserved quantity and writes the reservation together
func (u *unitOfWork) Reserve(ctx context.Context, r entities.Reservation) (entities.Reservation, error) {
	if err := entities.RequirePositive("reservation quantity", r.Quantity); err != nil {
		return entities.Reservation{}, err
	}
	b, ok := u.batch(r.BatchID)
	if !ok {
		return entities.Reservation{}, fmt.Errorf("batch %s: %w", r.BatchID, entities.ErrNotFound)
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

	if r.ID == "" {
		r.ID = entities.ReservationID(uuid.NewString())
	}
	if existing, ok := u.reservation(r.ID); ok {
		if existing.Status != entities.ReservationActive || existing.BatchID != b.ID {
			return entities.Reservation{}, fmt.Errorf("%w: reservation %s is %s on batch %s",
				entities.ErrUnknownReservation, existing.ID, existing.Status, existing.BatchID)
		}
		existing.Quantity = existing.Quantity.Add(delta)
		existing.UpdatedAt = now
		r = existing
	} else {
		r.Product = b.Product
		r.Warehouse = b.Warehouse
		r.UnitCost = b.UnitCost
		r.Status = entities.ReservationActive
		r.ConsumedQuantity = decimal.Zero
		r.CreatedAt = now
		r.UpdatedAt = now
		u.createdReservations = append(u.createdReservations, r.ID)
	}

	b.ReservedQuantity = b.ReservedQuantity.Add(delta)
	u.batches[b.ID] = b
	u.reservations[r.ID] = r
	u.record(ctx, entities.MovementReserve, b, r.ID, delta, string(r.OrderID))
	return r, nil
}

// Release frees an Active reservation. Releasing a Released reservation is a no-op.
func (u *unitOfWork) Release(ctx context.Context, id entities.ReservationID) error {
	r, ok := u.reservation(id)
	if !ok {
		return fmt.Errorf("%w: reservation %s does not exist", entities.ErrUnknownReservation, id)
	}
	switch r.Status {
	case entities.ReservationReleased:
		return nil
	case entities.ReservationConsumed:
		return fmt.Errorf("%w: reservation %s is already consumed", entities.ErrUnknownReservation, id)
	}

	b, ok := u.batch(r.BatchID)
	if !ok {
		return fmt.Errorf("batch %s: %w", r.BatchID, entities.ErrNotFound)
	}
	if err := u.requireLocked(b.Key()); err != nil {
		return err
	}

	b.ReservedQuantity = b.ReservedQuantity.Sub(r.Quantity)
	r.Status = entities.ReservationReleased
	r.UpdatedAt = u.ledger.clock.Now()

	u.batches[b.ID] = b
	u.reservations[r.ID] = r
	u.record(ctx, entities.MovementRelease, b, r.ID, r.Quantity, string(r.OrderID))
	return nil
}

// Consume removes actual from on-hand and frees the whole reservation.
// The unconsumed remainder is released in the same write.
func (u *unitOfWork) Consume(ctx context.Context, id entities.ReservationID, actual decimal.Decimal) (entities.Reservation, error) {
	if err := entities.RequireNonNegative("consumed quantity", actual); err != nil {
		return entities.Reservation{}, err
	}
	r, ok := u.reservation(id)
	if !ok {
		return entities.Reservation{}, fmt.Errorf("%w: reservation %s does not exist", entities.ErrUnknownReservation, id)
	}
	if r.IsTerminal() {
		return entities.Reservation{}, fmt.Errorf("%w: reservation %s is already %s", entities.ErrUnknownReservation, id, r.Status)
	}
	if actual.GreaterThan(r.Quantity) {
		return entities.Reservation{}, fmt.Errorf("%w: reservation %s holds %s, consumed %s",
			entities.ErrConsumeExceedsReservation, id, r.Quantity, actual)
	}

	b, ok := u.batch(r.BatchID)
	if !ok {
		return entities.Reservation{}, fmt.Errorf("batch %s: %w", r.BatchID, entities.ErrNotFound)
	}
	if err := u.requireLocked(b.Key()); err != nil {
		return entities.Reservation{}, err
	}

	b.QuantityOnHand = b.QuantityOnHand.Sub(actual)
	b.ReservedQuantity = b.ReservedQuantity.Sub(r.Quantity)
	r.ConsumedQuantity = actual
	r.Status = entities.ReservationConsumed
	r.UpdatedAt = u.ledger.clock.Now()

	u.batches[b.ID] = b
	u.reservations[r.ID] = r
	if actual.IsPositive() {
		u.record(ctx, entities.MovementConsume, b, r.ID, actual, string(r.OrderID))
	}
	if remainder := r.Quantity.Sub(actual); remainder.IsPositive() {
		u.record(ctx, entities.MovementRelease, b, r.ID, remainder, string(r.OrderID))
	}
	return r, nil
}

// Receive stocks a new batch, assigning ID, sequence and entry time when unset
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
	if _, exists := u.batch(validated.ID); exists {
		return entities.Batch{}, fmt.Errorf("batch %s: %w", validated.ID, entities.ErrAlreadyExists)
	}
	if validated.EntryTime.IsZero() {
		validated.EntryTime = u.ledger.clock.Now()
	}
	validated.Sequence = u.ledger.sequence.Add(1)

	u.batches[validated.ID] = *validated
	u.createdBatches = append(u.createdBatches, validated.ID)
	u.record(ctx, kind, *validated, "", validated.QuantityOnHand, reference)
	return *validated, nil
}

// Recorded returns the movements staged so far
func (u *unitOfWork) Recorded() []entities.Movement {
	return append([]entities.Movement(nil), u.movements...)
}
