package repositories

import (
	"context"
	"time"

	"github.com/vsinha/costing/pkg/domain/entities"
)

// CompositionRepository provides access to versioned BOM headers and lines
type CompositionRepository interface {
	// SaveNode creates or replaces a node, assigning an ID when empty
	SaveNode(ctx context.Context, node entities.CompositionNode) (entities.CompositionNode, error)
	// SaveBOM writes a node together with its full set of lines; on error neither is stored
	SaveBOM(ctx context.Context, node entities.CompositionNode, edges []entities.CompositionEdge) (entities.CompositionNode, error)
	AddEdge(ctx context.Context, edge entities.CompositionEdge) error
	SetStatus(ctx context.Context, id entities.BOMID, status entities.BOMStatus) error

	Node(ctx context.Context, id entities.BOMID) (entities.CompositionNode, error)
	FindNode(ctx context.Context, product entities.ProductID, version string) (entities.CompositionNode, error)

	// ActiveNode returns the Active node effective at the given time.
	// The latest EffectiveFrom wins; ties go to the greater version.
	ActiveNode(ctx context.Context, product entities.ProductID, at time.Time) (entities.CompositionNode, bool, error)

	// Edges returns the lines of a BOM ordered by sequence
	Edges(ctx context.Context, bom entities.BOMID) ([]entities.CompositionEdge, error)
	Nodes(ctx context.Context) ([]entities.CompositionNode, error)
}
