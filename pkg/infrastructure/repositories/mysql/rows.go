package mysql

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/vsinha/costing/pkg/domain/entities"
)

const duplicateEntry = 1062

func isDuplicate(err error) bool {
	var mysqlErr *mysqldriver.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == duplicateEntry
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

const batchColumns = `id, sequence, product_id, warehouse_id, lot_number, quantity_on_hand,
	reserved_quantity, unit_cost, entry_time, quality`

type batchRow struct {
	ID             string          `db:"id"`
	Sequence       int64           `db:"sequence"`
	Product        string          `db:"product_id"`
	Warehouse      string          `db:"warehouse_id"`
	LotNumber      string          `db:"lot_number"`
	QuantityOnHand decimal.Decimal `db:"quantity_on_hand"`
	Reserved       decimal.Decimal `db:"reserved_quantity"`
	UnitCost       decimal.Decimal `db:"unit_cost"`
	EntryTime      time.Time       `db:"entry_time"`
	Quality        string          `db:"quality"`
}

func (r batchRow) entity() (entities.Batch, error) {
	quality, err := entities.ParseQualityStatus(r.Quality)
	if err != nil {
		return entities.Batch{}, fmt.Errorf("batch %s: %w", r.ID, err)
	}
	return entities.Batch{
		ID:               entities.BatchID(r.ID),
		Product:          entities.ProductID(r.Product),
		Warehouse:        entities.WarehouseID(r.Warehouse),
		LotNumber:        r.LotNumber,
		QuantityOnHand:   r.QuantityOnHand,
		ReservedQuantity: r.Reserved,
		UnitCost:         r.UnitCost,
		EntryTime:        r.EntryTime,
		Sequence:         r.Sequence,
		Quality:          quality,
	}, nil
}

func batchEntities(rows []batchRow) ([]entities.Batch, error) {
	batches := make([]entities.Batch, 0, len(rows))
	for _, row := range rows {
		b, err := row.entity()
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, nil
}

const reservationColumns = `id, order_id, batch_id, product_id, warehouse_id, quantity,
	consumed_quantity, unit_cost, status, created_at, updated_at`

type reservationRow struct {
	ID        string          `db:"id"`
	OrderID   string          `db:"order_id"`
	BatchID   string          `db:"batch_id"`
	Product   string          `db:"product_id"`
	Warehouse string          `db:"warehouse_id"`
	Quantity  decimal.Decimal `db:"quantity"`
	Consumed  decimal.Decimal `db:"consumed_quantity"`
	UnitCost  decimal.Decimal `db:"unit_cost"`
	Status    string          `db:"status"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

func parseReservationStatus(s string) (entities.ReservationStatus, error) {
	for _, status := range []entities.ReservationStatus{
		entities.ReservationActive, entities.ReservationConsumed, entities.ReservationReleased,
	} {
		if status.String() == s {
			return status, nil
		}
	}
	return entities.ReservationActive, fmt.Errorf("unknown reservation status %q", s)
}

func (r reservationRow) entity() (entities.Reservation, error) {
	status, err := parseReservationStatus(r.Status)
	if err != nil {
		return entities.Reservation{}, fmt.Errorf("reservation %s: %w", r.ID, err)
	}
	return entities.Reservation{
		ID:               entities.ReservationID(r.ID),
		OrderID:          entities.OrderID(r.OrderID),
		BatchID:          entities.BatchID(r.BatchID),
		Product:          entities.ProductID(r.Product),
		Warehouse:        entities.WarehouseID(r.Warehouse),
		Quantity:         r.Quantity,
		ConsumedQuantity: r.Consumed,
		UnitCost:         r.UnitCost,
		Status:           status,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}, nil
}

func reservationEntities(rows []reservationRow) ([]entities.Reservation, error) {
	reservations := make([]entities.Reservation, 0, len(rows))
	for _, row := range rows {
		r, err := row.entity()
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, r)
	}
	return reservations, nil
}

const movementColumns = `seq, type, batch_id, product_id, warehouse_id, reservation_id,
	quantity, unit_cost, cost, reference, operator, recorded_at`

type movementRow struct {
	Seq         int64           `db:"seq"`
	Type        string          `db:"type"`
	Batch       string          `db:"batch_id"`
	Product     string          `db:"product_id"`
	Warehouse   string          `db:"warehouse_id"`
	Reservation string          `db:"reservation_id"`
	Quantity    decimal.Decimal `db:"quantity"`
	UnitCost    decimal.Decimal `db:"unit_cost"`
	Cost        decimal.Decimal `db:"cost"`
	Reference   string          `db:"reference"`
	Operator    string          `db:"operator"`
	RecordedAt  time.Time       `db:"recorded_at"`
}

func (r movementRow) entity() (entities.Movement, error) {
	t, ok := entities.ParseMovementType(r.Type)
	if !ok {
		return entities.Movement{}, fmt.Errorf("movement %d: unknown type %q", r.Seq, r.Type)
	}
	return entities.Movement{
		Seq:         r.Seq,
		Type:        t,
		Batch:       entities.BatchID(r.Batch),
		Product:     entities.ProductID(r.Product),
		Warehouse:   entities.WarehouseID(r.Warehouse),
		Reservation: entities.ReservationID(r.Reservation),
		Quantity:    r.Quantity,
		UnitCost:    r.UnitCost,
		Cost:        r.Cost,
		Reference:   r.Reference,
		Operator:    r.Operator,
		RecordedAt:  r.RecordedAt,
	}, nil
}

const nodeColumns = `id, product_id, version, status, effective_from, effective_to, labor_cost, overhead_cost`

type nodeRow struct {
	ID            string          `db:"id"`
	Product       string          `db:"product_id"`
	Version       string          `db:"version"`
	Status        string          `db:"status"`
	EffectiveFrom time.Time       `db:"effective_from"`
	EffectiveTo   sql.NullTime    `db:"effective_to"`
	LaborCost     decimal.Decimal `db:"labor_cost"`
	OverheadCost  decimal.Decimal `db:"overhead_cost"`
}

func (r nodeRow) entity() (entities.CompositionNode, error) {
	status, err := entities.ParseBOMStatus(r.Status)
	if err != nil {
		return entities.CompositionNode{}, fmt.Errorf("BOM %s: %w", r.ID, err)
	}
	return entities.CompositionNode{
		ID:            entities.BOMID(r.ID),
		Product:       entities.ProductID(r.Product),
		Version:       r.Version,
		Status:        status,
		EffectiveFrom: r.EffectiveFrom,
		EffectiveTo:   timePtr(r.EffectiveTo),
		LaborCost:     r.LaborCost,
		OverheadCost:  r.OverheadCost,
	}, nil
}

type edgeRow struct {
	BOM             string          `db:"bom_id"`
	Sequence        int             `db:"sequence"`
	Component       string          `db:"component_id"`
	Quantity        decimal.Decimal `db:"quantity"`
	ScrapPercentage decimal.Decimal `db:"scrap_percentage"`
}

func (r edgeRow) entity() entities.CompositionEdge {
	return entities.CompositionEdge{
		BOM:             entities.BOMID(r.BOM),
		Sequence:        r.Sequence,
		Component:       entities.ProductID(r.Component),
		Quantity:        r.Quantity,
		ScrapPercentage: r.ScrapPercentage,
	}
}

const orderColumns = `id, product_id, bom_id, bom_version, warehouse_id, planned_quantity, status, requirements,
	estimated_material_cost, estimated_labor_cost, estimated_overhead_cost, estimated_total_cost,
	allocated_material_cost, actual_material_cost, actual_total_cost,
	produced_quantity, scrapped_quantity, output_batch, created_by, created_at,
	allocated_at, started_at, completed_at, cancelled_at, version`

type orderRow struct {
	ID                    string          `db:"id"`
	Product               string          `db:"product_id"`
	BOM                   string          `db:"bom_id"`
	BOMVersion            string          `db:"bom_version"`
	Warehouse             string          `db:"warehouse_id"`
	PlannedQuantity       decimal.Decimal `db:"planned_quantity"`
	Status                string          `db:"status"`
	Requirements          string          `db:"requirements"`
	EstimatedMaterialCost decimal.Decimal `db:"estimated_material_cost"`
	EstimatedLaborCost    decimal.Decimal `db:"estimated_labor_cost"`
	EstimatedOverheadCost decimal.Decimal `db:"estimated_overhead_cost"`
	EstimatedTotalCost    decimal.Decimal `db:"estimated_total_cost"`
	AllocatedMaterialCost decimal.Decimal `db:"allocated_material_cost"`
	ActualMaterialCost    decimal.Decimal `db:"actual_material_cost"`
	ActualTotalCost       decimal.Decimal `db:"actual_total_cost"`
	ProducedQuantity      decimal.Decimal `db:"produced_quantity"`
	ScrappedQuantity      decimal.Decimal `db:"scrapped_quantity"`
	OutputBatch           string          `db:"output_batch"`
	CreatedBy             string          `db:"created_by"`
	CreatedAt             time.Time       `db:"created_at"`
	AllocatedAt           sql.NullTime    `db:"allocated_at"`
	StartedAt             sql.NullTime    `db:"started_at"`
	CompletedAt           sql.NullTime    `db:"completed_at"`
	CancelledAt           sql.NullTime    `db:"cancelled_at"`
	Version               int64           `db:"version"`
}

func newOrderRow(o entities.ProductionOrder) (orderRow, error) {
	requirements := o.Requirements
	if requirements == nil {
		requirements = []entities.Requirement{}
	}
	raw, err := json.Marshal(requirements)
	if err != nil {
		return orderRow{}, fmt.Errorf("failed to encode requirements of order %s: %w", o.ID, err)
	}
	return orderRow{
		ID:                    string(o.ID),
		Product:               string(o.Product),
		BOM:                   string(o.BOM),
		BOMVersion:            o.BOMVersion,
		Warehouse:             string(o.Warehouse),
		PlannedQuantity:       o.PlannedQuantity,
		Status:                o.Status.String(),
		Requirements:          string(raw),
		EstimatedMaterialCost: o.EstimatedMaterialCost,
		EstimatedLaborCost:    o.EstimatedLaborCost,
		EstimatedOverheadCost: o.EstimatedOverheadCost,
		EstimatedTotalCost:    o.EstimatedTotalCost,
		AllocatedMaterialCost: o.AllocatedMaterialCost,
		ActualMaterialCost:    o.ActualMaterialCost,
		ActualTotalCost:       o.ActualTotalCost,
		ProducedQuantity:      o.ProducedQuantity,
		ScrappedQuantity:      o.ScrappedQuantity,
		OutputBatch:           string(o.OutputBatch),
		CreatedBy:             o.CreatedBy,
		CreatedAt:             utc(o.CreatedAt),
		AllocatedAt:           nullTime(o.AllocatedAt),
		StartedAt:             nullTime(o.StartedAt),
		CompletedAt:           nullTime(o.CompletedAt),
		CancelledAt:           nullTime(o.CancelledAt),
		Version:               o.Version,
	}, nil
}

func (r orderRow) entity() (entities.ProductionOrder, error) {
	status, err := entities.ParseOrderStatus(r.Status)
	if err != nil {
		return entities.ProductionOrder{}, fmt.Errorf("order %s: %w", r.ID, err)
	}
	var requirements []entities.Requirement
	if err := json.Unmarshal([]byte(r.Requirements), &requirements); err != nil {
		return entities.ProductionOrder{}, fmt.Errorf("failed to decode requirements of order %s: %w", r.ID, err)
	}
	return entities.ProductionOrder{
		ID:                    entities.OrderID(r.ID),
		Product:               entities.ProductID(r.Product),
		BOM:                   entities.BOMID(r.BOM),
		BOMVersion:            r.BOMVersion,
		Warehouse:             entities.WarehouseID(r.Warehouse),
		PlannedQuantity:       r.PlannedQuantity,
		Status:                status,
		Requirements:          requirements,
		EstimatedMaterialCost: r.EstimatedMaterialCost,
		EstimatedLaborCost:    r.EstimatedLaborCost,
		EstimatedOverheadCost: r.EstimatedOverheadCost,
		EstimatedTotalCost:    r.EstimatedTotalCost,
		AllocatedMaterialCost: r.AllocatedMaterialCost,
		ActualMaterialCost:    r.ActualMaterialCost,
		ActualTotalCost:       r.ActualTotalCost,
		ProducedQuantity:      r.ProducedQuantity,
		ScrappedQuantity:      r.ScrappedQuantity,
		OutputBatch:           entities.BatchID(r.OutputBatch),
		CreatedBy:             r.CreatedBy,
		CreatedAt:             r.CreatedAt,
		AllocatedAt:           timePtr(r.AllocatedAt),
		StartedAt:             timePtr(r.StartedAt),
		CompletedAt:           timePtr(r.CompletedAt),
		CancelledAt:           timePtr(r.CancelledAt),
		Version:               r.Version,
	}, nil
}

type productRow struct {
	ID            string          `db:"id"`
	Description   string          `db:"description"`
	UnitOfMeasure string          `db:"unit_of_measure"`
	MinimumStock  decimal.Decimal `db:"minimum_stock"`
	CriticalStock decimal.Decimal `db:"critical_stock"`
}

func (r productRow) entity() entities.Product {
	return entities.Product{
		ID:            entities.ProductID(r.ID),
		Description:   r.Description,
		UnitOfMeasure: r.UnitOfMeasure,
		MinimumStock:  r.MinimumStock,
		CriticalStock: r.CriticalStock,
	}
}
