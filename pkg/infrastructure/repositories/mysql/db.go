// Package mysql persists the ledger, BOMs, orders and products in MySQL through sqlx.
package mysql

import (
	"context"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// Options configures the connection pool
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to MySQL and applies the schema. The DSN must set parseTime=true.
func Open(ctx context.Context, dsn string, opts Options) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates missing tables. Statements are idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		description VARCHAR(255) NOT NULL DEFAULT '',
		unit_of_measure VARCHAR(16) NOT NULL,
		minimum_stock DECIMAL(20,6) NOT NULL DEFAULT 0,
		critical_stock DECIMAL(20,6) NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS batches (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		sequence BIGINT NOT NULL AUTO_INCREMENT,
		product_id VARCHAR(64) NOT NULL,
		warehouse_id VARCHAR(64) NOT NULL,
		lot_number VARCHAR(64) NOT NULL DEFAULT '',
		quantity_on_hand DECIMAL(20,6) NOT NULL,
		reserved_quantity DECIMAL(20,6) NOT NULL DEFAULT 0,
		unit_cost DECIMAL(20,6) NOT NULL,
		entry_time DATETIME(6) NOT NULL,
		quality VARCHAR(16) NOT NULL,
		UNIQUE KEY uq_batches_sequence (sequence),
		KEY idx_batches_fifo (product_id, warehouse_id, entry_time, sequence),
		CONSTRAINT chk_batches_reserved CHECK (reserved_quantity >= 0 AND reserved_quantity <= quantity_on_hand)
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		created_seq BIGINT NOT NULL AUTO_INCREMENT,
		order_id VARCHAR(64) NOT NULL,
		batch_id VARCHAR(64) NOT NULL,
		product_id VARCHAR(64) NOT NULL,
		warehouse_id VARCHAR(64) NOT NULL,
		quantity DECIMAL(20,6) NOT NULL,
		consumed_quantity DECIMAL(20,6) NOT NULL DEFAULT 0,
		unit_cost DECIMAL(20,6) NOT NULL,
		status VARCHAR(16) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_reservations_seq (created_seq),
		KEY idx_reservations_order (order_id, created_seq),
		CONSTRAINT fk_reservations_batch FOREIGN KEY (batch_id) REFERENCES batches (id)
	)`,
	`CREATE TABLE IF NOT EXISTS movements (
		seq BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		type VARCHAR(32) NOT NULL,
		batch_id VARCHAR(64) NOT NULL,
		product_id VARCHAR(64) NOT NULL,
		warehouse_id VARCHAR(64) NOT NULL,
		reservation_id VARCHAR(64) NOT NULL DEFAULT '',
		quantity DECIMAL(20,6) NOT NULL,
		unit_cost DECIMAL(20,6) NOT NULL,
		cost DECIMAL(26,6) NOT NULL,
		reference VARCHAR(128) NOT NULL DEFAULT '',
		operator VARCHAR(128) NOT NULL DEFAULT '',
		recorded_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bom_nodes (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		product_id VARCHAR(64) NOT NULL,
		version VARCHAR(32) NOT NULL,
		status VARCHAR(16) NOT NULL,
		effective_from DATETIME(6) NOT NULL,
		effective_to DATETIME(6) NULL,
		labor_cost DECIMAL(20,6) NOT NULL DEFAULT 0,
		overhead_cost DECIMAL(20,6) NOT NULL DEFAULT 0,
		UNIQUE KEY uq_bom_nodes_version (product_id, version)
	)`,
	`CREATE TABLE IF NOT EXISTS bom_edges (
		bom_id VARCHAR(64) NOT NULL,
		sequence INT NOT NULL,
		component_id VARCHAR(64) NOT NULL,
		quantity DECIMAL(20,6) NOT NULL,
		scrap_percentage DECIMAL(9,4) NOT NULL DEFAULT 0,
		PRIMARY KEY (bom_id, sequence),
		KEY idx_bom_edges_component (component_id),
		CONSTRAINT fk_bom_edges_node FOREIGN KEY (bom_id) REFERENCES bom_nodes (id)
	)`,
	`CREATE TABLE IF NOT EXISTS production_orders (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		product_id VARCHAR(64) NOT NULL,
		bom_id VARCHAR(64) NOT NULL,
		bom_version VARCHAR(32) NOT NULL,
		warehouse_id VARCHAR(64) NOT NULL,
		planned_quantity DECIMAL(20,6) NOT NULL,
		status VARCHAR(16) NOT NULL,
		requirements JSON NOT NULL,
		estimated_material_cost DECIMAL(26,6) NOT NULL DEFAULT 0,
		estimated_labor_cost DECIMAL(26,6) NOT NULL DEFAULT 0,
		estimated_overhead_cost DECIMAL(26,6) NOT NULL DEFAULT 0,
		estimated_total_cost DECIMAL(26,6) NOT NULL DEFAULT 0,
		allocated_material_cost DECIMAL(26,6) NOT NULL DEFAULT 0,
		actual_material_cost DECIMAL(26,6) NOT NULL DEFAULT 0,
		actual_total_cost DECIMAL(26,6) NOT NULL DEFAULT 0,
		produced_quantity DECIMAL(20,6) NOT NULL DEFAULT 0,
		scrapped_quantity DECIMAL(20,6) NOT NULL DEFAULT 0,
		output_batch VARCHAR(64) NOT NULL DEFAULT '',
		created_by VARCHAR(128) NOT NULL DEFAULT '',
		created_at DATETIME(6) NOT NULL,
		allocated_at DATETIME(6) NULL,
		started_at DATETIME(6) NULL,
		completed_at DATETIME(6) NULL,
		cancelled_at DATETIME(6) NULL,
		version BIGINT NOT NULL,
		KEY idx_production_orders_status (status, created_at)
	)`,
}
