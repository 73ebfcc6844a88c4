package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vsinha/costing/pkg/domain/entities"
	"github.com/vsinha/costing/pkg/domain/repositories"
)

// CompositionRepository provides in-memory BOM header and line storage
type CompositionRepository struct {
	mu        sync.RWMutex
	nodes     []entities.CompositionNode
	nodeIndex map[entities.BOMID]int
	byProduct map[entities.ProductID][]int
	edges     map[entities.BOMID][]entities.CompositionEdge
}

// NewCompositionRepository creates a new in-memory composition repository
func NewCompositionRepository(expectedNodes int) *CompositionRepository {
	return &CompositionRepository{
		nodes:     make([]entities.CompositionNode, 0, expectedNodes),
		nodeIndex: make(map[entities.BOMID]int, expectedNodes),
		byProduct: make(map[entities.ProductID][]int, expectedNodes),
		edges:     make(map[entities.BOMID][]entities.CompositionEdge, expectedNodes),
	}
}

// Verify interface compliance
var _ repositories.CompositionRepository = (*CompositionRepository)(nil)

// SaveNode creates or replaces a node. Product and version are unique together.
func (r *CompositionRepository) SaveNode(ctx context.Context, node entities.CompositionNode) (entities.CompositionNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.saveNode(node)
}

// SaveBOM stores a node and replaces its lines in one step; nothing is kept on error
func (r *CompositionRepository) SaveBOM(
	ctx context.Context,
	node entities.CompositionNode,
	edges []entities.CompositionEdge,
) (entities.CompositionNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sequences := make(map[int]bool, len(edges))
	for _, edge := range edges {
		if err := checkEdge(node.Product, edge); err != nil {
			return entities.CompositionNode{}, err
		}
		if sequences[edge.Sequence] {
			return entities.CompositionNode{}, fmt.Errorf("BOM %s line %d: %w", node.Product, edge.Sequence, entities.ErrAlreadyExists)
		}
		sequences[edge.Sequence] = true
	}

	saved, err := r.saveNode(node)
	if err != nil {
		return entities.CompositionNode{}, err
	}
	lines := make([]entities.CompositionEdge, len(edges))
	for i, edge := range edges {
		edge.BOM = saved.ID
		lines[i] = edge
	}
	sort.SliceStable(lines, func(a, b int) bool { return lines[a].Sequence < lines[b].Sequence })
	r.edges[saved.ID] = lines
	return saved, nil
}

func (r *CompositionRepository) saveNode(node entities.CompositionNode) (entities.CompositionNode, error) {
	if node.ID == "" {
		node.ID = entities.BOMID(uuid.NewString())
	}
	for _, i := range r.byProduct[node.Product] {
		if existing := r.nodes[i]; existing.Version == node.Version && existing.ID != node.ID {
			return entities.CompositionNode{}, fmt.Errorf("BOM %s version %s: %w as %s", node.Product, node.Version, entities.ErrAlreadyExists, existing.ID)
		}
	}

	if i, ok := r.nodeIndex[node.ID]; ok {
		if r.nodes[i].Product != node.Product {
			return entities.CompositionNode{}, fmt.Errorf("%w: BOM %s cannot move from %s to %s",
				entities.ErrBOMProductMismatch, node.ID, r.nodes[i].Product, node.Product)
		}
		r.nodes[i] = node
		return node, nil
	}

	r.nodeIndex[node.ID] = len(r.nodes)
	r.byProduct[node.Product] = append(r.byProduct[node.Product], len(r.nodes))
	r.nodes = append(r.nodes, node)
	return node, nil
}

// AddEdge appends a component line to a BOM
func (r *CompositionRepository) AddEdge(ctx context.Context, edge entities.CompositionEdge) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.nodeIndex[edge.BOM]
	if !ok {
		return fmt.Errorf("BOM %s: %w", edge.BOM, entities.ErrNotFound)
	}
	if err := checkEdge(r.nodes[i].Product, edge); err != nil {
		return err
	}

	lines := append(r.edges[edge.BOM], edge)
	sort.SliceStable(lines, func(a, b int) bool { return lines[a].Sequence < lines[b].Sequence })
	r.edges[edge.BOM] = lines
	return nil
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

// SetStatus changes the lifecycle state of a BOM
func (r *CompositionRepository) SetStatus(ctx context.Context, id entities.BOMID, status entities.BOMStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.nodeIndex[id]
	if !ok {
		return fmt.Errorf("BOM %s: %w", id, entities.ErrNotFound)
	}
	r.nodes[i].Status = status
	return nil
}

// Node returns a BOM header by ID
func (r *CompositionRepository) Node(ctx context.Context, id entities.BOMID) (entities.CompositionNode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.nodeIndex[id]
	if !ok {
		return entities.CompositionNode{}, fmt.Errorf("BOM %s: %w", id, entities.ErrNotFound)
	}
	return r.nodes[i], nil
}

// FindNode returns the BOM of product with the given version
func (r *CompositionRepository) FindNode(ctx context.Context, product entities.ProductID, version string) (entities.CompositionNode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, i := range r.byProduct[product] {
		if r.nodes[i].Version == version {
			return r.nodes[i], nil
		}
	}
	return entities.CompositionNode{}, fmt.Errorf("BOM %s version %s: %w", product, version, entities.ErrNotFound)
}

// ActiveNode returns the Active BOM of product effective at the given time
func (r *CompositionRepository) ActiveNode(ctx context.Context, product entities.ProductID, at time.Time) (entities.CompositionNode, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best entities.CompositionNode
	found := false
	for _, i := range r.byProduct[product] {
		node := r.nodes[i]
		if node.Status != entities.BOMActive || !node.IsEffective(at) {
			continue
		}
		if !found || node.Supersedes(best) {
			best = node
			found = true
		}
	}
	return best, found, nil
}

// Edges returns the lines of a BOM ordered by sequence
func (r *CompositionRepository) Edges(ctx context.Context, bom entities.BOMID) ([]entities.CompositionEdge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.nodeIndex[bom]; !ok {
		return nil, fmt.Errorf("BOM %s: %w", bom, entities.ErrNotFound)
	}
	return append([]entities.CompositionEdge(nil), r.edges[bom]...), nil
}

// Nodes returns every BOM header in insertion order
func (r *CompositionRepository) Nodes(ctx context.Context) ([]entities.CompositionNode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]entities.CompositionNode(nil), r.nodes...), nil
}
