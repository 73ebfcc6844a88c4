package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/vsinha/costing/pkg/domain/entities"
	"github.com/vsinha/costing/pkg/domain/repositories"
)

// CompositionRepository stores BOM headers in bom_nodes and lines in bom_edges
type CompositionRepository struct {
	db *sqlx.DB
}

// NewCompositionRepository creates a new MySQL composition repository
func NewCompositionRepository(db *sqlx.DB) *CompositionRepository {
	return &CompositionRepository{db: db}
}

// Verify interface compliance
var _ repositories.CompositionRepository = (*CompositionRepository)(nil)

// SaveNode inserts a node or replaces an existing one with the same ID
func (r *CompositionRepository) SaveNode(ctx context.Context, node entities.CompositionNode) (entities.CompositionNode, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return entities.CompositionNode{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	saved, err := saveNode(ctx, tx, node)
	if err != nil {
		return entities.CompositionNode{}, err
	}
	if err := tx.Commit(); err != nil {
		return entities.CompositionNode{}, fmt.Errorf("commit BOM %s: %w", saved.ID, err)
	}
	return saved, nil
}

// SaveBOM writes a node and replaces its lines in one transaction
func (r *CompositionRepository) SaveBOM(
	ctx context.Context,
	node entities.CompositionNode,
	edges []entities.CompositionEdge,
) (entities.CompositionNode, error) {
	for _, edge := range edges {
		if err := checkEdge(node.Product, edge); err != nil {
			return entities.CompositionNode{}, err
		}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return entities.CompositionNode{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	saved, err := saveNode(ctx, tx, node)
	if err != nil {
		return entities.CompositionNode{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM bom_edges WHERE bom_id = ?`, string(saved.ID)); err != nil {
		return entities.CompositionNode{}, fmt.Errorf("failed to clear lines of BOM %s: %w", saved.ID, err)
	}
	for _, edge := range edges {
		edge.BOM = saved.ID
		if err := insertEdge(ctx, tx, edge); err != nil {
			return entities.CompositionNode{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return entities.CompositionNode{}, fmt.Errorf("commit BOM %s: %w", saved.ID, err)
	}
	return saved, nil
}

func saveNode(ctx context.Context, tx *sqlx.Tx, node entities.CompositionNode) (entities.CompositionNode, error) {
	if node.ID == "" {
		node.ID = entities.BOMID(uuid.NewString())
	}

	var product string
	err := tx.GetContext(ctx, &product, `SELECT product_id FROM bom_nodes WHERE id = ? FOR UPDATE`, string(node.ID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO bom_nodes (id, product_id, version, status, effective_from, effective_to, labor_cost, overhead_cost)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			string(node.ID), string(node.Product), node.Version, node.Status.String(),
			utc(node.EffectiveFrom), nullTime(node.EffectiveTo), node.LaborCost, node.OverheadCost,
		)
	case err != nil:
		return entities.CompositionNode{}, fmt.Errorf("failed to query BOM %s: %w", node.ID, err)
	case product != string(node.Product):
		return entities.CompositionNode{}, fmt.Errorf("%w: BOM %s cannot move from %s to %s",
			entities.ErrBOMProductMismatch, node.ID, product, node.Product)
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE bom_nodes SET version = ?, status = ?, effective_from = ?, effective_to = ?,
				labor_cost = ?, overhead_cost = ?
			WHERE id = ?`,
			node.Version, node.Status.String(), utc(node.EffectiveFrom), nullTime(node.EffectiveTo),
			node.LaborCost, node.OverheadCost, string(node.ID),
		)
	}
	if isDuplicate(err) {
		return entities.CompositionNode{}, fmt.Errorf("BOM %s version %s: %w", node.Product, node.Version, entities.ErrAlreadyExists)
	}
	if err != nil {
		return entities.CompositionNode{}, fmt.Errorf("failed to save BOM %s: %w", node.ID, err)
	}
	return node, nil
}

func checkEdge(product entities.ProductID, edge entities.CompositionEdge) error {
	if err := entities.RequirePositive("component quantity", edge.Quantity); err != nil {
		return err
	}
	if product == edge.Component {
		return &entities.CircularReferenceError{Path: []entities.ProductID{edge.Component, edge.Component}}
	}
	return nil
}

func insertEdge(ctx context.Context, exec sqlx.ExecerContext, edge entities.CompositionEdge) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO bom_edges (bom_id, sequence, component_id, quantity, scrap_percentage)
		VALUES (?, ?, ?, ?, ?)`,
		string(edge.BOM), edge.Sequence, string(edge.Component), edge.Quantity, edge.ScrapPercentage,
	)
	if isDuplicate(err) {
		return fmt.Errorf("BOM %s line %d: %w", edge.BOM, edge.Sequence, entities.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to add line %d to BOM %s: %w", edge.Sequence, edge.BOM, err)
	}
	return nil
}

// AddEdge appends a line to an existing BOM
func (r *CompositionRepository) AddEdge(ctx context.Context, edge entities.CompositionEdge) error {
	node, err := r.Node(ctx, edge.BOM)
	if err != nil {
		return err
	}
	if err := checkEdge(node.Product, edge); err != nil {
		return err
	}
	return insertEdge(ctx, r.db, edge)
}

// SetStatus changes the lifecycle status of a BOM
func (r *CompositionRepository) SetStatus(ctx context.Context, id entities.BOMID, status entities.BOMStatus) error {
	if _, err := r.Node(ctx, id); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE bom_nodes SET status = ? WHERE id = ?`, status.String(), string(id)); err != nil {
		return fmt.Errorf("failed to set status of BOM %s: %w", id, err)
	}
	return nil
}

func (r *CompositionRepository) getNode(ctx context.Context, where string, args ...interface{}) (entities.CompositionNode, error) {
	var row nodeRow
	if err := r.db.GetContext(ctx, &row, `SELECT `+nodeColumns+` FROM bom_nodes WHERE `+where, args...); err != nil {
		return entities.CompositionNode{}, err
	}
	return row.entity()
}

// Node returns a BOM by ID
func (r *CompositionRepository) Node(ctx context.Context, id entities.BOMID) (entities.CompositionNode, error) {
	node, err := r.getNode(ctx, `id = ?`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return entities.CompositionNode{}, fmt.Errorf("BOM %s: %w", id, entities.ErrNotFound)
	}
	return node, err
}

// FindNode returns the BOM of a product at an exact version
func (r *CompositionRepository) FindNode(ctx context.Context, product entities.ProductID, version string) (entities.CompositionNode, error) {
	node, err := r.getNode(ctx, `product_id = ? AND version = ?`, string(product), version)
	if errors.Is(err, sql.ErrNoRows) {
		return entities.CompositionNode{}, fmt.Errorf("BOM %s version %s: %w", product, version, entities.ErrNotFound)
	}
	return node, err
}

// ActiveNode returns the Active node effective at the given time
func (r *CompositionRepository) ActiveNode(ctx context.Context, product entities.ProductID, at time.Time) (entities.CompositionNode, bool, error) {
	at = utc(at)
	node, err := r.getNode(ctx, `product_id = ? AND status = 'Active'
		AND effective_from <= ? AND (effective_to IS NULL OR effective_to > ?)
		ORDER BY effective_from DESC, version DESC LIMIT 1`,
		string(product), at, at,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return entities.CompositionNode{}, false, nil
	}
	if err != nil {
		return entities.CompositionNode{}, false, fmt.Errorf("failed to resolve active BOM of %s: %w", product, err)
	}
	return node, true, nil
}

// Edges returns the lines of a BOM ordered by sequence
func (r *CompositionRepository) Edges(ctx context.Context, bom entities.BOMID) ([]entities.CompositionEdge, error) {
	var rows []edgeRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT bom_id, sequence, component_id, quantity, scrap_percentage
		FROM bom_edges WHERE bom_id = ? ORDER BY sequence`, string(bom),
	); err != nil {
		return nil, fmt.Errorf("failed to query lines of BOM %s: %w", bom, err)
	}
	edges := make([]entities.CompositionEdge, len(rows))
	for i, row := range rows {
		edges[i] = row.entity()
	}
	return edges, nil
}

// Nodes returns every BOM
func (r *CompositionRepository) Nodes(ctx context.Context) ([]entities.CompositionNode, error) {
	var rows []nodeRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+nodeColumns+` FROM bom_nodes ORDER BY product_id, version`); err != nil {
		return nil, fmt.Errorf("failed to query BOMs: %w", err)
	}
	nodes := make([]entities.CompositionNode, 0, len(rows))
	for _, row := range rows {
		node, err := row.entity()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}
