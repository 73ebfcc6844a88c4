package services

import (
	"context"
	"fmt"

	"github.com/vsinha/costing/pkg/domain/entities"
)

// CompositionGraph is the read side of the BOM store needed for validation
type CompositionGraph interface {
	Nodes(ctx context.Context) ([]entities.CompositionNode, error)
	Edges(ctx context.Context, bom entities.BOMID) ([]entities.CompositionEdge, error)
}

// BOMValidator checks composition graph integrity
type BOMValidator struct {
	graph CompositionGraph
}

// NewBOMValidator creates a new BOM validator
func NewBOMValidator(graph CompositionGraph) *BOMValidator {
	return &BOMValidator{graph: graph}
}

// ValidationResult contains the results of a whole-graph validation
type ValidationResult struct {
	HasCycles      bool                       `json:"has_cycles"`
	CyclePaths     [][]entities.ProductID     `json:"cycle_paths,omitempty"`
	DuplicateLines []entities.CompositionEdge `json:"duplicate_lines,omitempty"`
	Errors         []string                   `json:"errors,omitempty"`
}

// ValidateActivation fails with a CircularReferenceError if activating candidate
// would close a cycle among the Active BOMs. Every Active version of a product
// contributes its edges, regardless of effectivity window.
func (v *BOMValidator) ValidateActivation(ctx context.Context, candidate entities.CompositionNode) error {
	adjacency, err := v.buildAdjacencyMap(ctx, func(n entities.CompositionNode) bool {
		return n.Status == entities.BOMActive || n.ID == candidate.ID
	})
	if err != nil {
		return err
	}

	visited := make(map[entities.ProductID]bool)
	onPath := make(map[entities.ProductID]bool)
	if cycle := v.dfsFindCycle(candidate.Product, adjacency, visited, onPath, nil); cycle != nil {
		return &entities.CircularReferenceError{Path: cycle}
	}
	return nil
}

// Validate reports every cycle and duplicate line across all non-obsolete BOMs
func (v *BOMValidator) Validate(ctx context.Context) (*ValidationResult, error) {
	result := &ValidationResult{
		CyclePaths:     make([][]entities.ProductID, 0),
		DuplicateLines: make([]entities.CompositionEdge, 0),
		Errors:         make([]string, 0),
	}

	nodes, err := v.graph.Nodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list BOMs: %w", err)
	}
	for _, node := range nodes {
		edges, err := v.graph.Edges(ctx, node.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load lines of BOM %s: %w", node.ID, err)
		}
		result.DuplicateLines = append(result.DuplicateLines, detectDuplicateLines(edges)...)
	}

	adjacency, err := v.buildAdjacencyMap(ctx, func(n entities.CompositionNode) bool {
		return n.Status != entities.BOMObsolete
	})
	if err != nil {
		return nil, err
	}

	visited := make(map[entities.ProductID]bool)
	for _, node := range nodes {
		if visited[node.Product] {
			continue
		}
		onPath := make(map[entities.ProductID]bool)
		if cycle := v.dfsFindCycle(node.Product, adjacency, visited, onPath, nil); cycle != nil {
			result.CyclePaths = append(result.CyclePaths, cycle)
		}
	}
	result.HasCycles = len(result.CyclePaths) > 0

	for _, cycle := range result.CyclePaths {
		result.Errors = append(result.Errors, (&entities.CircularReferenceError{Path: cycle}).Error())
	}
	if len(result.DuplicateLines) > 0 {
		result.Errors = append(result.Errors, fmt.Sprintf("found %d duplicate BOM lines", len(result.DuplicateLines)))
	}

	return result, nil
}

// buildAdjacencyMap creates a map of parent product -> component products
func (v *BOMValidator) buildAdjacencyMap(
	ctx context.Context,
	include func(entities.CompositionNode) bool,
) (map[entities.ProductID][]entities.ProductID, error) {
	nodes, err := v.graph.Nodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list BOMs: %w", err)
	}

	adjacency := make(map[entities.ProductID][]entities.ProductID)
	seen := make(map[[2]entities.ProductID]bool)
	for _, node := range nodes {
		if !include(node) {
			continue
		}
		edges, err := v.graph.Edges(ctx, node.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load lines of BOM %s: %w", node.ID, err)
		}
		for _, edge := range edges {
			pair := [2]entities.ProductID{node.Product, edge.Component}
			if seen[pair] {
				continue
			}
			seen[pair] = true
			adjacency[node.Product] = append(adjacency[node.Product], edge.Component)
		}
	}
	return adjacency, nil
}

// dfsFindCycle returns the first cycle reachable from current, closed with the repeated product
func (v *BOMValidator) dfsFindCycle(
	current entities.ProductID,
	adjacency map[entities.ProductID][]entities.ProductID,
	visited map[entities.ProductID]bool,
	onPath map[entities.ProductID]bool,
	path []entities.ProductID,
) []entities.ProductID {
	visited[current] = true
	onPath[current] = true
	path = append(path, current)
	defer delete(onPath, current)

	for _, child := range adjacency[current] {
		if onPath[child] {
			for i, p := range path {
				if p == child {
					cycle := make([]entities.ProductID, 0, len(path)-i+1)
					cycle = append(cycle, path[i:]...)
					return append(cycle, child)
				}
			}
		}
		if visited[child] {
			continue
		}
		if cycle := v.dfsFindCycle(child, adjacency, visited, onPath, path); cycle != nil {
			return cycle
		}
	}
	return nil
}

// detectDuplicateLines finds lines repeating the same component at the same sequence
func detectDuplicateLines(edges []entities.CompositionEdge) []entities.CompositionEdge {
	seen := make(map[string]bool)
	duplicates := make([]entities.CompositionEdge, 0)

	for _, edge := range edges {
		key := fmt.Sprintf("%s|%s|%d", edge.BOM, edge.Component, edge.Sequence)
		if seen[key] {
			duplicates = append(duplicates, edge)
			continue
		}
		seen[key] = true
	}
	return duplicates
}
