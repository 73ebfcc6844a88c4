package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/vsinha/costing/pkg/application/dto"
)

// Config holds configuration for output generation
type Config struct {
	Format        string
	OutputDir     string
	Verbose       bool
	ExplosionTime time.Duration
	// Writer receives stdout output, default os.Stdout
	Writer io.Writer
}

// Generate creates output in the specified format
func Generate(result *dto.ExplosionResult, config Config) error {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}
	switch config.Format {
	case "text", "":
		return generateTextOutput(result, config)
	case "json":
		return generateJSONOutput(result, config)
	case "csv":
		return generateCSVOutput(result, config)
	default:
		return fmt.Errorf("unsupported output format: %s", config.Format)
	}
}

// generateTextOutput creates human-readable text output
func generateTextOutput(result *dto.ExplosionResult, config Config) error {
	w := config.Writer

	fmt.Fprintf(w, "📊 Explosion of %s x %s (BOM %s, version %s) in %s\n",
		result.Product, result.Quantity, result.BOM, result.Version, result.Warehouse)
	fmt.Fprintf(w, "==========================================================\n\n")

	fmt.Fprintf(w, "Leaf Requirements: %d\n", len(result.Leaves))
	fmt.Fprintf(w, "BOM Depth: %d\n", result.MaxDepth)
	fmt.Fprintf(w, "Shortages: %d\n", len(result.Shortages))
	if config.ExplosionTime > 0 {
		fmt.Fprintf(w, "Explosion Time: %v\n", config.ExplosionTime)
	}
	fmt.Fprintln(w)

	if len(result.Leaves) > 0 {
		fmt.Fprintf(w, "📦 Raw Materials:\n")
		fmt.Fprintf(w, "%-15s %-12s %-12s %-12s %-12s %-12s\n",
			"Product", "Required", "Available", "Short By", "Unit Cost", "Cost")
		fmt.Fprintf(w, "%-15s %-12s %-12s %-12s %-12s %-12s\n",
			"---------------", "------------", "------------", "------------", "------------", "------------")

		for _, leaf := range result.Leaves {
			fmt.Fprintf(w, "%-15s %-12s %-12s %-12s %-12s %-12s\n",
				leaf.Product,
				leaf.Quantity.String(),
				leaf.Available.String(),
				leaf.ShortBy.String(),
				leaf.UnitCost.StringFixed(4),
				leaf.Cost.StringFixed(2))
		}
		fmt.Fprintln(w)
	}

	if config.Verbose && len(result.Nodes) > 0 {
		fmt.Fprintf(w, "🏭 Conversion Costs:\n")
		fmt.Fprintf(w, "%-5s %-15s %-8s %-10s %-12s %-12s\n",
			"Level", "Product", "Version", "Quantity", "Labor", "Overhead")
		for _, node := range result.Nodes {
			fmt.Fprintf(w, "%-5d %-15s %-8s %-10s %-12s %-12s\n",
				node.Level,
				node.Product,
				node.Version,
				node.Quantity.String(),
				node.LaborCost.StringFixed(2),
				node.OverheadCost.StringFixed(2))
		}
		fmt.Fprintln(w)
	}

	if len(result.Shortages) > 0 {
		fmt.Fprintf(w, "⚠️  Shortages:\n")
		for _, shortage := range result.Shortages {
			fmt.Fprintf(w, "  %s\n", shortage)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "💰 Cost Roll-up:\n")
	fmt.Fprintf(w, "  Material: %s\n", result.MaterialCost.StringFixed(2))
	fmt.Fprintf(w, "  Labor:    %s\n", result.LaborCost.StringFixed(2))
	fmt.Fprintf(w, "  Overhead: %s\n", result.OverheadCost.StringFixed(2))
	fmt.Fprintf(w, "  Total:    %s\n", result.TotalCost.StringFixed(2))
	if result.Quantity.IsPositive() {
		fmt.Fprintf(w, "  Per Unit: %s\n", result.TotalCost.Div(result.Quantity).StringFixed(4))
	}
	return nil
}

// generateJSONOutput creates JSON output
func generateJSONOutput(result *dto.ExplosionResult, config Config) error {
	jsonData, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if config.OutputDir == "" {
		fmt.Fprintln(config.Writer, string(jsonData))
		return nil
	}

	if err := os.MkdirAll(config.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	filename := filepath.Join(config.OutputDir, "explosion.json")
	if err := os.WriteFile(filename, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write JSON file: %w", err)
	}
	if config.Verbose {
		fmt.Fprintf(config.Writer, "💾 JSON results saved to: %s\n", filename)
	}
	return nil
}

// generateCSVOutput writes one row per leaf requirement
func generateCSVOutput(result *dto.ExplosionResult, config Config) error {
	if config.OutputDir == "" {
		return writeLeavesCSV(result.Leaves, config.Writer)
	}

	if err := os.MkdirAll(config.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	filename := filepath.Join(config.OutputDir, "leaf_requirements.csv")
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	if err := writeLeavesCSV(result.Leaves, file); err != nil {
		return fmt.Errorf("failed to write leaf requirements CSV: %w", err)
	}
	if config.Verbose {
		fmt.Fprintf(config.Writer, "💾 CSV results saved to: %s\n", filename)
	}
	return nil
}

func writeLeavesCSV(leaves []dto.LeafRequirement, w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"product", "warehouse", "quantity", "available", "short_by", "unit_cost", "cost"}); err != nil {
		return err
	}
	for _, leaf := range leaves {
		record := []string{
			string(leaf.Product),
			string(leaf.Warehouse),
			leaf.Quantity.String(),
			leaf.Available.String(),
			leaf.ShortBy.String(),
			leaf.UnitCost.String(),
			leaf.Cost.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
