package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vsinha/costing/pkg/application/dto"
	"github.com/vsinha/costing/pkg/application/services"
	"github.com/vsinha/costing/pkg/domain/entities"
	"github.com/vsinha/costing/pkg/infrastructure/repositories/csv"
	"github.com/vsinha/costing/pkg/infrastructure/repositories/memory"
	"github.com/vsinha/costing/pkg/interfaces/cli/output"
	"go.uber.org/zap"
)

// ExplodeConfig holds configuration for the explode command
type ExplodeConfig struct {
	ScenarioDir string
	Product     string
	Version     string
	Warehouse   string
	Quantity    string
	At          string
	OutputDir   string
	Format      string
	Verbose     bool
	Help        bool
}

// ExplodeCommand loads a CSV scenario into memory stores and prints a priced explosion
type ExplodeCommand struct {
	config ExplodeConfig
	logger *zap.Logger
	// out receives the report, default os.Stdout
	out io.Writer
}

// NewExplodeCommand creates a new explode command with the given configuration
func NewExplodeCommand(config ExplodeConfig, logger *zap.Logger) *ExplodeCommand {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExplodeCommand{config: config, logger: logger, out: os.Stdout}
}

// Execute runs the explode command
func (c *ExplodeCommand) Execute(ctx context.Context) error {
	if c.config.Help {
		c.showHelp()
		return nil
	}

	req, err := c.request()
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if c.config.Verbose {
		fmt.Fprintf(c.out, "🚀 Costing Engine CLI\n")
		fmt.Fprintf(c.out, "Scenario: %s\n", c.config.ScenarioDir)
		fmt.Fprintf(c.out, "📂 Loading data from CSV files...\n")
	}

	scenario, err := csv.NewLoader().LoadScenario(c.config.ScenarioDir)
	if err != nil {
		return fmt.Errorf("error loading scenario: %w", err)
	}

	if c.config.Verbose {
		fmt.Fprintf(c.out, "✅ Data loaded successfully:\n")
		fmt.Fprintf(c.out, "  Products: %d\n", len(scenario.Products))
		fmt.Fprintf(c.out, "  BOMs: %d\n", len(scenario.BOMs))
		fmt.Fprintf(c.out, "  Batches: %d\n\n", len(scenario.Batches))
	}

	engine, err := newScenarioEngine(ctx, scenario, c.logger)
	if err != nil {
		return err
	}

	startTime := time.Now()
	result, err := engine.ExplodeBOM(ctx, req)
	explosionTime := time.Since(startTime)
	if err != nil {
		return fmt.Errorf("error running explosion: %w", err)
	}

	return output.Generate(result, output.Config{
		Format:        c.config.Format,
		OutputDir:     c.config.OutputDir,
		Verbose:       c.config.Verbose,
		ExplosionTime: explosionTime,
		Writer:        c.out,
	})
}

// newScenarioEngine stores scenario in fresh memory repositories and wires an engine over them
func newScenarioEngine(ctx context.Context, scenario *csv.Scenario, logger *zap.Logger) (*services.Engine, error) {
	products := memory.NewProductRepository(len(scenario.Products))
	compositions := memory.NewCompositionRepository(len(scenario.BOMs))
	ledger := memory.NewLedger(memory.LedgerConfig{Logger: logger})

	if err := scenario.Apply(ctx, products, compositions, ledger); err != nil {
		return nil, fmt.Errorf("failed to load scenario into repositories: %w", err)
	}

	return services.NewEngine(services.Repositories{
		Ledger:       ledger,
		Compositions: compositions,
		Orders:       memory.NewOrderRepository(),
		Products:     products,
	}, nil, services.EngineConfig{}, nil, logger)
}

// request validates the flags and builds the explosion request
func (c *ExplodeCommand) request() (dto.ExplosionRequest, error) {
	if c.config.ScenarioDir == "" {
		return dto.ExplosionRequest{}, fmt.Errorf("must specify -scenario directory")
	}
	for _, name := range []string{csv.ProductsFile, csv.BOMsFile, csv.BOMLinesFile} {
		path := filepath.Join(c.config.ScenarioDir, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return dto.ExplosionRequest{}, fmt.Errorf("%s not found: %s", name, path)
		}
	}
	if c.config.Product == "" || c.config.Warehouse == "" {
		return dto.ExplosionRequest{}, fmt.Errorf("-product and -warehouse are required")
	}

	quantity, err := decimal.NewFromString(c.config.Quantity)
	if err != nil {
		return dto.ExplosionRequest{}, fmt.Errorf("invalid -qty %q", c.config.Quantity)
	}

	req := dto.ExplosionRequest{
		Product:   entities.ProductID(c.config.Product),
		Version:   c.config.Version,
		Warehouse: entities.WarehouseID(c.config.Warehouse),
		Quantity:  quantity,
	}
	if c.config.At != "" {
		at, err := time.Parse("2006-01-02", c.config.At)
		if err != nil {
			return dto.ExplosionRequest{}, fmt.Errorf("invalid -at %q (expected YYYY-MM-DD)", c.config.At)
		}
		req.At = at
	}
	return req, nil
}

// showHelp displays the help message
func (c *ExplodeCommand) showHelp() {
	fmt.Fprintf(c.out, `Costing Engine CLI - explode a BOM against a CSV scenario

USAGE:
    costing explode -scenario <dir> -product <id> -warehouse <id> -qty <n> [options]

OPTIONS:
    -scenario <dir>     Path to scenario directory containing CSV files
    -product <id>       Product to explode
    -version <v>        BOM version (default: the Active BOM effective at -at)
    -warehouse <id>     Warehouse whose batches price the leaves
    -qty <n>            Quantity to explode
    -at <date>          Effective date YYYY-MM-DD (default: today)
    -output <dir>       Output directory for results (optional)
    -format <fmt>       Output format: text, json, csv (default: text)
    -verbose            Enable verbose output
    -help               Show this help message

SCENARIO DIRECTORY STRUCTURE:
    scenario_name/
    ├── products.csv    # Product master data
    ├── boms.csv        # BOM headers
    ├── bom_lines.csv   # BOM component lines
    └── batches.csv     # Received batches (optional)

CSV FILE FORMATS:

products.csv:
    id,description,unit_of_measure,minimum_stock,critical_stock
    RM-STEEL-001,Steel tube,KG,50,10

boms.csv:
    product,version,status,effective_from,effective_to,labor_cost,overhead_cost
    FRAME,v1,Active,2024-12-01,,10,2

bom_lines.csv:
    product,version,sequence,component,quantity,scrap_percentage
    FRAME,v1,10,RM-STEEL-001,3,5

batches.csv:
    product,warehouse,lot_number,quantity,unit_cost,entry_time,quality
    RM-STEEL-001,WH-1,HEAT-1,20,4.00,2025-01-06T08:00:00Z,Usable

EXAMPLES:
    costing explode -scenario scenarios/bicycle -product BIKE -warehouse WH-1 -qty 2
    costing explode -scenario scenarios/bicycle -product BIKE -version v1 -warehouse WH-1 -qty 2 -format json
`)
}
