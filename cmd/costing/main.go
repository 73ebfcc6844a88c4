package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vsinha/costing/pkg/infrastructure/config"
	"github.com/vsinha/costing/pkg/infrastructure/logger"
	"github.com/vsinha/costing/pkg/interfaces/cli/commands"
	"go.uber.org/zap"
)

const usage = `Costing Engine CLI - inventory allocation and costing

USAGE:
    costing serve [-config <file>]          Run the HTTP server
    costing explode -scenario <dir> ...     Explode a BOM against a CSV scenario
    costing generate -output <dir> ...      Generate a random CSV scenario

Run "costing <command> -help" for command options.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "explode":
		err = runExplode(ctx, os.Args[2:])
	case "generate":
		err = runGenerate(ctx, os.Args[2:])
	case "help", "-help", "--help", "-h":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to a config file (yaml, json or toml)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Environment); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Close()

	return commands.NewServeCommand(cfg, logger.Get()).Execute(ctx)
}

func runExplode(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("explode", flag.ExitOnError)
	var (
		scenarioDir = fs.String("scenario", "", "Path to scenario directory containing CSV files")
		product     = fs.String("product", "", "Product to explode")
		version     = fs.String("version", "", "BOM version (default: Active BOM)")
		warehouse   = fs.String("warehouse", "", "Warehouse whose batches price the leaves")
		quantity    = fs.String("qty", "1", "Quantity to explode")
		at          = fs.String("at", "", "Effective date YYYY-MM-DD")
		outputDir   = fs.String("output", "", "Output directory for results (optional)")
		format      = fs.String("format", "text", "Output format: text, json, csv")
		verbose     = fs.Bool("verbose", false, "Enable verbose output")
		help        = fs.Bool("help", false, "Show help message")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := zap.NewNop()
	if *verbose {
		var err error
		if log, err = logger.New("development"); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer log.Sync()
	}

	cmd := commands.NewExplodeCommand(commands.ExplodeConfig{
		ScenarioDir: *scenarioDir,
		Product:     *product,
		Version:     *version,
		Warehouse:   *warehouse,
		Quantity:    *quantity,
		At:          *at,
		OutputDir:   *outputDir,
		Format:      *format,
		Verbose:     *verbose,
		Help:        *help,
	}, log)
	return cmd.Execute(ctx)
}

func runGenerate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	var (
		products  = fs.Int("products", 50, "Number of products")
		depth     = fs.Int("depth", 4, "Maximum BOM depth")
		coverage  = fs.Float64("coverage", 2.0, "Stock per root unit requirement")
		warehouse = fs.String("warehouse", "WH-1", "Warehouse for generated batches")
		outputDir = fs.String("output", "", "Output directory")
		seed      = fs.Int64("seed", 0, "Random seed (default: current time)")
		verbose   = fs.Bool("verbose", false, "Enable verbose output")
		help      = fs.Bool("help", false, "Show help message")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cmd := commands.NewGenerateCommand(commands.GenerateConfig{
		Products:  *products,
		MaxDepth:  *depth,
		Coverage:  *coverage,
		Warehouse: *warehouse,
		OutputDir: *outputDir,
		Seed:      *seed,
		Help:      *help,
		Verbose:   *verbose,
	})
	return cmd.Execute(ctx)
}
