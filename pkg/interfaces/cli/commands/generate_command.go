package commands

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vsinha/costing/pkg/domain/entities"
	"github.com/vsinha/costing/pkg/infrastructure/repositories/csv"
)

// GenerateConfig holds configuration for scenario generation
type GenerateConfig struct {
	Products  int     // Total number of products to generate
	MaxDepth  int     // Maximum depth of the BOM graph
	Coverage  float64 // Stock multiplier per root unit (e.g. 0.5 = half coverage, 4.0 = 4x coverage)
	Warehouse string  // Warehouse the batches are received into
	OutputDir string  // Output directory for generated files
	Seed      int64   // Random seed for reproducible generation
	Help      bool
	Verbose   bool
}

// GenerateCommand writes a random acyclic costing scenario
type GenerateCommand struct {
	config GenerateConfig
	rand   *rand.Rand
}

// NewGenerateCommand creates a new generate command
func NewGenerateCommand(config GenerateConfig) *GenerateCommand {
	if config.Seed == 0 {
		config.Seed = time.Now().UnixNano()
	}
	if config.Warehouse == "" {
		config.Warehouse = "WH-1"
	}
	if config.MaxDepth <= 0 {
		config.MaxDepth = 4
	}
	if config.Coverage == 0 {
		config.Coverage = 2
	}

	return &GenerateCommand{
		config: config,
		rand:   rand.New(rand.NewSource(config.Seed)),
	}
}

// genNode is a product in the generated graph
type genNode struct {
	ID       string
	Level    int
	IsRoot   bool
	Children []genLine
	Parents  []*genNode
}

// genLine is one component line of a generated BOM
type genLine struct {
	Child    *genNode
	Quantity int
	Scrap    int
}

// Execute runs the generate command
func (cmd *GenerateCommand) Execute(ctx context.Context) error {
	if cmd.config.Help {
		cmd.printHelp()
		return nil
	}
	if cmd.config.Products < 2 {
		return fmt.Errorf("need at least 2 products, got %d", cmd.config.Products)
	}
	if cmd.config.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	coverage, err := entities.QuantityFromFloat(cmd.config.Coverage)
	if err == nil {
		err = entities.RequirePositive("coverage", coverage)
	}
	if err != nil {
		return fmt.Errorf("invalid coverage: %w", err)
	}

	if cmd.config.Verbose {
		fmt.Printf("🔧 Generating scenario with %d products, max depth %d, %.1fx coverage\n",
			cmd.config.Products, cmd.config.MaxDepth, cmd.config.Coverage)
		fmt.Printf("📁 Output directory: %s\n", cmd.config.OutputDir)
		fmt.Printf("🎲 Random seed: %d\n", cmd.config.Seed)
	}

	if err := os.MkdirAll(cmd.config.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	nodes := cmd.generateGraph()
	ordered := sortedNodes(nodes)

	steps := []struct {
		file  string
		write func([]*genNode, *os.File) error
	}{
		{csv.ProductsFile, cmd.writeProducts},
		{csv.BOMsFile, cmd.writeBOMs},
		{csv.BOMLinesFile, cmd.writeBOMLines},
		{csv.BatchesFile, cmd.writeBatches},
	}
	for _, step := range steps {
		if cmd.config.Verbose {
			fmt.Printf("📦 Generating %s...\n", step.file)
		}
		if err := cmd.writeFile(step.file, ordered, step.write); err != nil {
			return fmt.Errorf("failed to generate %s: %w", step.file, err)
		}
	}

	if cmd.config.Verbose {
		fmt.Printf("✅ Scenario generated successfully in %s\n", cmd.config.OutputDir)
	}
	return nil
}

func (cmd *GenerateCommand) writeFile(name string, nodes []*genNode, write func([]*genNode, *os.File) error) error {
	file, err := os.Create(filepath.Join(cmd.config.OutputDir, name))
	if err != nil {
		return err
	}
	defer file.Close()
	return write(nodes, file)
}

// generateGraph builds a layered graph with shared components. Children always
// sit on a deeper level than their parent, so the graph is acyclic.
func (cmd *GenerateCommand) generateGraph() map[string]*genNode {
	nodes := make(map[string]*genNode)

	numRoots := max(1, cmd.config.Products/50+cmd.rand.Intn(2))
	var roots []*genNode
	for i := 0; i < numRoots; i++ {
		node := &genNode{ID: fmt.Sprintf("ASSY-%03d", i+1), IsRoot: true}
		nodes[node.ID] = node
		roots = append(roots, node)
	}
	generated := numRoots

	currentLevel := roots
	for level := 1; level <= cmd.config.MaxDepth && generated < cmd.config.Products; level++ {
		var nextLevel []*genNode
		for _, parent := range currentLevel {
			numChildren := 2 + cmd.rand.Intn(4)
			for c := 0; c < numChildren && generated < cmd.config.Products; c++ {
				var child *genNode
				if level > 1 && cmd.rand.Float64() < 0.2 {
					if candidates := cmd.findShareable(nextLevel, parent); len(candidates) > 0 {
						child = candidates[cmd.rand.Intn(len(candidates))]
					}
				}
				if child == nil {
					child = &genNode{ID: fmt.Sprintf("PART-L%d-%04d", level, generated), Level: level}
					nodes[child.ID] = child
					nextLevel = append(nextLevel, child)
					generated++
				}
				parent.Children = append(parent.Children, genLine{
					Child:    child,
					Quantity: 1 + cmd.rand.Intn(4),
					Scrap:    cmd.rand.Intn(3) * 5,
				})
				child.Parents = append(child.Parents, parent)
			}
		}
		if len(nextLevel) == 0 {
			break
		}
		currentLevel = nextLevel
	}

	// Fill remaining products as components of the deepest level
	for generated < cmd.config.Products {
		parent := currentLevel[cmd.rand.Intn(len(currentLevel))]
		child := &genNode{ID: fmt.Sprintf("COMP-%04d", generated), Level: parent.Level + 1}
		nodes[child.ID] = child
		parent.Children = append(parent.Children, genLine{Child: child, Quantity: 1 + cmd.rand.Intn(10)})
		child.Parents = append(child.Parents, parent)
		generated++
	}

	return nodes
}

// findShareable returns nodes of the level being built that parent does not already use
func (cmd *GenerateCommand) findShareable(level []*genNode, parent *genNode) []*genNode {
	var candidates []*genNode
	for _, node := range level {
		if len(node.Parents) >= 3 {
			continue
		}
		used := false
		for _, line := range parent.Children {
			if line.Child == node {
				used = true
				break
			}
		}
		if !used {
			candidates = append(candidates, node)
		}
	}
	return candidates
}

func sortedNodes(nodes map[string]*genNode) []*genNode {
	ordered := make([]*genNode, 0, len(nodes))
	for _, node := range nodes {
		ordered = append(ordered, node)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	return ordered
}

func (cmd *GenerateCommand) writeProducts(nodes []*genNode, file *os.File) error {
	fmt.Fprintln(file, "id,description,unit_of_measure,minimum_stock,critical_stock")
	for _, node := range nodes {
		desc := "Component"
		switch {
		case node.IsRoot:
			desc = "Complete Assembly"
		case len(node.Children) > 0:
			desc = "Subassembly"
		}
		minimum := 0
		if len(node.Children) == 0 {
			minimum = 10 * (1 + cmd.rand.Intn(5))
		}
		if _, err := fmt.Fprintf(file, "%s,%s %s,EA,%d,%d\n", node.ID, node.ID, desc, minimum, minimum/5); err != nil {
			return err
		}
	}
	return nil
}

func (cmd *GenerateCommand) writeBOMs(nodes []*genNode, file *os.File) error {
	fmt.Fprintln(file, "product,version,status,effective_from,effective_to,labor_cost,overhead_cost")
	for _, node := range nodes {
		if len(node.Children) == 0 {
			continue
		}
		labor := 5 + cmd.rand.Intn(20)
		if _, err := fmt.Fprintf(file, "%s,v1,Active,2024-01-01,,%d,%d\n", node.ID, labor, labor/4); err != nil {
			return err
		}
	}
	return nil
}

func (cmd *GenerateCommand) writeBOMLines(nodes []*genNode, file *os.File) error {
	fmt.Fprintln(file, "product,version,sequence,component,quantity,scrap_percentage")
	for _, node := range nodes {
		for i, line := range node.Children {
			if _, err := fmt.Fprintf(file, "%s,v1,%d,%s,%d,%d\n",
				node.ID, (i+1)*10, line.Child.ID, line.Quantity, line.Scrap); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeBatches stocks every raw material in two FIFO batches sized from the
// quantity one unit of every root needs, scaled by Coverage
func (cmd *GenerateCommand) writeBatches(nodes []*genNode, file *os.File) error {
	fmt.Fprintln(file, "product,warehouse,lot_number,quantity,unit_cost,entry_time,quality")

	need := make(map[string]float64)
	for _, node := range nodes {
		if node.IsRoot {
			accumulateNeed(node, 1, need)
		}
	}

	entry := time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)
	for _, node := range nodes {
		if len(node.Children) > 0 {
			continue
		}
		total, err := entities.QuantityFromFloat(need[node.ID] * cmd.config.Coverage)
		if err != nil {
			return fmt.Errorf("batch size of %s: %w", node.ID, err)
		}
		total = total.Round(0)
		if !total.IsPositive() {
			continue
		}
		first := decimal.Max(decimal.NewFromInt(1), total.Div(decimal.NewFromInt(2)).Floor())
		lots := []decimal.Decimal{first}
		if rest := total.Sub(first); rest.IsPositive() {
			lots = append(lots, rest)
		}
		cost := 1 + cmd.rand.Intn(50)
		for i, qty := range lots {
			if _, err := fmt.Fprintf(file, "%s,%s,%s-LOT-%d,%s,%d.%02d,%s,Usable\n",
				node.ID, cmd.config.Warehouse, node.ID, i+1, qty, cost+i, cmd.rand.Intn(100),
				entry.AddDate(0, 0, i).Format(time.RFC3339)); err != nil {
				return err
			}
		}
	}
	return nil
}

func accumulateNeed(node *genNode, qty float64, need map[string]float64) {
	if len(node.Children) == 0 {
		need[node.ID] += qty
		return
	}
	for _, line := range node.Children {
		gross := qty * float64(line.Quantity) * (1 + float64(line.Scrap)/100)
		accumulateNeed(line.Child, gross, need)
	}
}

func (cmd *GenerateCommand) printHelp() {
	fmt.Printf(`Generate a random acyclic costing scenario

USAGE:
    costing generate -output <dir> [options]

OPTIONS:
    -products <n>     Number of products (default: 50)
    -depth <n>        Maximum BOM depth (default: 4)
    -coverage <x>     Stock per root unit requirement (default: 2.0)
    -warehouse <id>   Warehouse for generated batches (default: WH-1)
    -output <dir>     Output directory (required)
    -seed <n>         Random seed (default: current time)
    -verbose          Enable verbose output
    -help             Show this help message
`)
}
