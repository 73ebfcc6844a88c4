// Package explosion flattens nested BOMs into priced leaf requirements.
package explosion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vsinha/costing/pkg/application/dto"
	"github.com/vsinha/costing/pkg/application/services/fifo"
	"github.com/vsinha/costing/pkg/domain/entities"
	"github.com/vsinha/costing/pkg/domain/repositories"
	"go.uber.org/zap"
)

// DefaultMaxDepth bounds recursion when no depth is configured
const DefaultMaxDepth = 10000

// Config holds explosion settings
type Config struct {
	// MaxDepth is a fallback ceiling only; cycles are caught on the recursion path
	MaxDepth int
}

// Engine walks the composition graph depth first
type Engine struct {
	compositions repositories.CompositionRepository
	stock        repositories.BatchReader
	maxDepth     int
	clock        entities.Clock
	logger       *zap.Logger
}

// NewEngine creates a new explosion engine
func NewEngine(
	compositions repositories.CompositionRepository,
	stock repositories.BatchReader,
	config Config,
	clock entities.Clock,
	logger *zap.Logger,
) *Engine {
	if config.MaxDepth <= 0 {
		config.MaxDepth = DefaultMaxDepth
	}
	if clock == nil {
		clock = entities.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		compositions: compositions,
		stock:        stock,
		maxDepth:     config.MaxDepth,
		clock:        clock,
		logger:       logger.Named("explosion"),
	}
}

// ResolveRoot finds the BOM named by the request and checks it belongs to the product
func (e *Engine) ResolveRoot(ctx context.Context, req dto.ExplosionRequest) (entities.CompositionNode, error) {
	var (
		node entities.CompositionNode
		err  error
	)
	switch {
	case req.BOM != "":
		node, err = e.compositions.Node(ctx, req.BOM)
	case req.Version != "":
		node, err = e.compositions.FindNode(ctx, req.Product, req.Version)
	default:
		var found bool
		node, found, err = e.compositions.ActiveNode(ctx, req.Product, e.at(req))
		if err == nil && !found {
			err = fmt.Errorf("no active BOM for %s: %w", req.Product, entities.ErrNotFound)
		}
	}
	if err != nil {
		return entities.CompositionNode{}, err
	}
	if node.Product != req.Product {
		return entities.CompositionNode{}, fmt.Errorf("%w: BOM %s is for %s, not %s",
			entities.ErrBOMProductMismatch, node.ID, node.Product, req.Product)
	}
	return node, nil
}

func (e *Engine) at(req dto.ExplosionRequest) time.Time {
	if req.At.IsZero() {
		return e.clock.Now()
	}
	return req.At
}

// Explode resolves the root BOM and explodes it
func (e *Engine) Explode(ctx context.Context, req dto.ExplosionRequest) (*dto.ExplosionResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	root, err := e.ResolveRoot(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.ExplodeNode(ctx, root, req.Warehouse, req.Quantity, e.at(req))
}

// ExplodeNode explodes an already resolved root node. Leaves are priced with a
// lock-free partial FIFO quote, so the result may be stale under concurrent allocation.
func (e *Engine) ExplodeNode(
	ctx context.Context,
	root entities.CompositionNode,
	warehouse entities.WarehouseID,
	quantity decimal.Decimal,
	at time.Time,
) (*dto.ExplosionResult, error) {
	if err := entities.RequirePositive("explosion quantity", quantity); err != nil {
		return nil, err
	}

	w := &walker{
		engine: e,
		at:     at,
		done:   make(map[entities.BOMID]*subtree),
		onPath: make(map[entities.ProductID]bool),
	}
	tree, err := w.explode(ctx, root, 0)
	if err != nil {
		var cycle *entities.CircularReferenceError
		if errors.As(err, &cycle) {
			e.logger.Warn("circular BOM reference",
				zap.String("root", string(root.Product)),
				zap.Any("path", cycle.Path),
			)
		}
		return nil, err
	}

	result := &dto.ExplosionResult{
		Product:      root.Product,
		BOM:          root.ID,
		Version:      root.Version,
		Warehouse:    warehouse,
		Quantity:     quantity,
		Leaves:       make([]dto.LeafRequirement, 0, len(tree.leafOrder)),
		Nodes:        make([]dto.NodeCost, 0, len(tree.nodes)),
		Shortages:    make([]entities.Shortage, 0),
		MaterialCost: decimal.Zero,
		LaborCost:    decimal.Zero,
		OverheadCost: decimal.Zero,
		MaxDepth:     tree.height,
		ComputedAt:   e.clock.Now(),
	}

	for _, product := range tree.leafOrder {
		key := entities.StockKey{Product: product, Warehouse: warehouse}
		leaf, err := e.price(ctx, key, quantity.Mul(tree.leaves[product]))
		if err != nil {
			return nil, err
		}
		result.Leaves = append(result.Leaves, leaf)
		result.MaterialCost = result.MaterialCost.Add(leaf.Cost)
		if leaf.ShortBy.IsPositive() {
			result.Shortages = append(result.Shortages, entities.Shortage{
				Product:   leaf.Product,
				Warehouse: leaf.Warehouse,
				Required:  leaf.Quantity,
				Available: leaf.Available,
				ShortBy:   leaf.ShortBy,
			})
		}
	}
	for _, share := range tree.nodes {
		n := share.cost(quantity)
		result.Nodes = append(result.Nodes, n)
		result.LaborCost = result.LaborCost.Add(n.LaborCost)
		result.OverheadCost = result.OverheadCost.Add(n.OverheadCost)
	}
	result.TotalCost = result.MaterialCost.Add(result.LaborCost).Add(result.OverheadCost)

	e.logger.Debug("exploded BOM",
		zap.String("bom", string(root.ID)),
		zap.Int("leaves", len(result.Leaves)),
		zap.Int("shortages", len(result.Shortages)),
		zap.Int("depth", result.MaxDepth),
	)
	return result, nil
}

// price quotes a leaf against current usable stock. Cost covers the available part only.
func (e *Engine) price(ctx context.Context, key entities.StockKey, required decimal.Decimal) (dto.LeafRequirement, error) {
	batches, err := e.stock.UsableBatches(ctx, key)
	if err != nil {
		return dto.LeafRequirement{}, fmt.Errorf("failed to read usable batches for %s: %w", key, err)
	}
	plan, err := fifo.Plan(batches, key, required, fifo.ModePartial)
	if err != nil {
		return dto.LeafRequirement{}, err
	}

	available := decimal.Zero
	for _, b := range batches {
		available = available.Add(b.AvailableQuantity())
	}
	return dto.LeafRequirement{
		Product:   key.Product,
		Warehouse: key.Warehouse,
		Quantity:  required,
		Available: available,
		ShortBy:   plan.ShortBy,
		UnitCost:  plan.WeightedUnitCost,
		Cost:      plan.TotalCost,
	}, nil
}

func validate(req dto.ExplosionRequest) error {
	if req.Product == "" {
		return fmt.Errorf("%w: product cannot be empty", entities.ErrInvalidInput)
	}
	if req.Warehouse == "" {
		return fmt.Errorf("%w: warehouse cannot be empty", entities.ErrInvalidInput)
	}
	return entities.RequirePositive("explosion quantity", req.Quantity)
}

// subtree is the explosion of one unit of a BOM node. It is computed once per
// explosion and scaled wherever the node repeats.
type subtree struct {
	leafOrder []entities.ProductID
	leaves    map[entities.ProductID]decimal.Decimal
	nodes     []nodeShare
	index     map[entities.BOMID]int
	height    int
}

// nodeShare is one BOM node inside a subtree: its level relative to the
// subtree root and the quantity one unit of the root needs
type nodeShare struct {
	node     entities.CompositionNode
	level    int
	quantity decimal.Decimal
}

func (n nodeShare) cost(multiplier decimal.Decimal) dto.NodeCost {
	qty := multiplier.Mul(n.quantity)
	return dto.NodeCost{
		BOM:          n.node.ID,
		Product:      n.node.Product,
		Version:      n.node.Version,
		Level:        n.level,
		Quantity:     qty,
		LaborCost:    qty.Mul(n.node.LaborCost),
		OverheadCost: qty.Mul(n.node.OverheadCost),
	}
}

func newSubtree(node entities.CompositionNode) *subtree {
	t := &subtree{
		leaves: make(map[entities.ProductID]decimal.Decimal),
		index:  make(map[entities.BOMID]int),
	}
	t.addNode(node, 0, decimal.NewFromInt(1))
	return t
}

func (t *subtree) addNode(node entities.CompositionNode, level int, quantity decimal.Decimal) {
	if i, ok := t.index[node.ID]; ok {
		t.nodes[i].quantity = t.nodes[i].quantity.Add(quantity)
		return
	}
	t.index[node.ID] = len(t.nodes)
	t.nodes = append(t.nodes, nodeShare{node: node, level: level, quantity: quantity})
}

func (t *subtree) addLeaf(product entities.ProductID, quantity decimal.Decimal) {
	if _, seen := t.leaves[product]; !seen {
		t.leafOrder = append(t.leafOrder, product)
	}
	t.leaves[product] = t.leaves[product].Add(quantity)
}

// merge adds factor units of child one level below the root
func (t *subtree) merge(child *subtree, factor decimal.Decimal) {
	for _, share := range child.nodes {
		t.addNode(share.node, share.level+1, share.quantity.Mul(factor))
	}
	for _, product := range child.leafOrder {
		t.addLeaf(product, child.leaves[product].Mul(factor))
	}
	if child.height+1 > t.height {
		t.height = child.height + 1
	}
}

// walker carries the state of one explosion
type walker struct {
	engine *Engine
	at     time.Time

	// done holds finished subtrees. A cycle through a finished node would have
	// been found while its own subtree was explored.
	done   map[entities.BOMID]*subtree
	onPath map[entities.ProductID]bool
	path   []entities.ProductID
}

func (w *walker) explode(ctx context.Context, node entities.CompositionNode, level int) (*subtree, error) {
	if cached, ok := w.done[node.ID]; ok {
		if level+cached.height > w.engine.maxDepth {
			return nil, w.depthExceeded()
		}
		return cached, nil
	}
	if level > w.engine.maxDepth {
		return nil, w.depthExceeded()
	}

	w.onPath[node.Product] = true
	w.path = append(w.path, node.Product)
	defer func() {
		delete(w.onPath, node.Product)
		w.path = w.path[:len(w.path)-1]
	}()

	edges, err := w.engine.compositions.Edges(ctx, node.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lines of BOM %s: %w", node.ID, err)
	}

	tree := newSubtree(node)
	for _, edge := range edges {
		perUnit := edge.EffectiveQuantity()

		if w.onPath[edge.Component] {
			cycle := append(append([]entities.ProductID(nil), w.path...), edge.Component)
			return nil, &entities.CircularReferenceError{Path: cycle}
		}

		child, composite, err := w.engine.compositions.ActiveNode(ctx, edge.Component, w.at)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve BOM of %s: %w", edge.Component, err)
		}
		if !composite {
			tree.addLeaf(edge.Component, perUnit)
			continue
		}
		sub, err := w.explode(ctx, child, level+1)
		if err != nil {
			return nil, err
		}
		tree.merge(sub, perUnit)
	}

	w.done[node.ID] = tree
	return tree, nil
}

func (w *walker) depthExceeded() error {
	return fmt.Errorf("%w: %d levels below %s", entities.ErrDepthExceeded, w.engine.maxDepth, w.path[0])
}
