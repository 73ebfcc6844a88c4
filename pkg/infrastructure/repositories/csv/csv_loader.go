package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vsinha/costing/pkg/domain/entities"
	"github.com/vsinha/costing/pkg/domain/repositories"
	domainservices "github.com/vsinha/costing/pkg/domain/services"
)

// Scenario file names inside a scenario directory
const (
	ProductsFile = "products.csv"
	BOMsFile     = "boms.csv"
	BOMLinesFile = "bom_lines.csv"
	BatchesFile  = "batches.csv"
)

var (
	productsHeader = []string{"id", "description", "unit_of_measure", "minimum_stock", "critical_stock"}
	bomsHeader     = []string{"product", "version", "status", "effective_from", "effective_to", "labor_cost", "overhead_cost"}
	bomLinesHeader = []string{"product", "version", "sequence", "component", "quantity", "scrap_percentage"}
	batchesHeader  = []string{"product", "warehouse", "lot_number", "quantity", "unit_cost", "entry_time", "quality"}
)

// BOMDefinition is a BOM header with its lines as read from boms.csv and bom_lines.csv
type BOMDefinition struct {
	Node  entities.CompositionNode
	Lines []entities.CompositionEdge
}

// Scenario is the content of a scenario directory
type Scenario struct {
	Products []*entities.Product
	BOMs     []BOMDefinition
	Batches  []entities.Batch
}

// ProductWriter stores product master data
type ProductWriter interface {
	SaveProduct(ctx context.Context, product entities.Product) error
}

// Loader handles loading costing scenarios from CSV files
type Loader struct{}

// NewLoader creates a new CSV loader
func NewLoader() *Loader {
	return &Loader{}
}

// LoadScenario reads the four scenario files from dir. batches.csv is optional.
func (l *Loader) LoadScenario(dir string) (*Scenario, error) {
	products, err := l.LoadProducts(filepath.Join(dir, ProductsFile))
	if err != nil {
		return nil, err
	}
	boms, err := l.LoadBOMs(filepath.Join(dir, BOMsFile), filepath.Join(dir, BOMLinesFile))
	if err != nil {
		return nil, err
	}

	var batches []entities.Batch
	batchesPath := filepath.Join(dir, BatchesFile)
	if _, statErr := os.Stat(batchesPath); statErr == nil {
		if batches, err = l.LoadBatches(batchesPath); err != nil {
			return nil, err
		}
	}

	return &Scenario{Products: products, BOMs: boms, Batches: batches}, nil
}

// LoadProducts loads product master data from a CSV file
func (l *Loader) LoadProducts(filename string) ([]*entities.Product, error) {
	records, err := readRecords(filename, "products", productsHeader)
	if err != nil {
		return nil, err
	}

	products := make([]*entities.Product, 0, len(records))
	for i, record := range records {
		product, err := parseProduct(record)
		if err != nil {
			return nil, fmt.Errorf("products CSV row %d: %w", i+2, err)
		}
		products = append(products, product)
	}
	return products, nil
}

// LoadBOMs loads BOM headers and attaches their lines. BOM IDs are "product@version".
func (l *Loader) LoadBOMs(bomsFile, linesFile string) ([]BOMDefinition, error) {
	headers, err := readRecords(bomsFile, "BOMs", bomsHeader)
	if err != nil {
		return nil, err
	}

	definitions := make([]BOMDefinition, 0, len(headers))
	index := make(map[entities.BOMID]int, len(headers))
	for i, record := range headers {
		node, err := parseBOM(record)
		if err != nil {
			return nil, fmt.Errorf("BOMs CSV row %d: %w", i+2, err)
		}
		if _, dup := index[node.ID]; dup {
			return nil, fmt.Errorf("BOMs CSV row %d: duplicate BOM %s", i+2, node.ID)
		}
		index[node.ID] = len(definitions)
		definitions = append(definitions, BOMDefinition{Node: *node})
	}

	lines, err := readRecords(linesFile, "BOM lines", bomLinesHeader)
	if err != nil {
		return nil, err
	}
	for i, record := range lines {
		edge, err := parseBOMLine(record)
		if err != nil {
			return nil, fmt.Errorf("BOM lines CSV row %d: %w", i+2, err)
		}
		at, ok := index[edge.BOM]
		if !ok {
			return nil, fmt.Errorf("BOM lines CSV row %d: unknown BOM %s", i+2, edge.BOM)
		}
		definitions[at].Lines = append(definitions[at].Lines, *edge)
	}

	return definitions, nil
}

// LoadBatches loads received batches from a CSV file
func (l *Loader) LoadBatches(filename string) ([]entities.Batch, error) {
	records, err := readRecords(filename, "batches", batchesHeader)
	if err != nil {
		return nil, err
	}

	batches := make([]entities.Batch, 0, len(records))
	for i, record := range records {
		batch, err := parseBatch(record)
		if err != nil {
			return nil, fmt.Errorf("batches CSV row %d: %w", i+2, err)
		}
		batches = append(batches, *batch)
	}
	return batches, nil
}

// Apply stores the scenario. Active BOMs are checked for cycles after loading.
func (s *Scenario) Apply(
	ctx context.Context,
	products ProductWriter,
	compositions repositories.CompositionRepository,
	ledger repositories.BatchLedger,
) error {
	for _, p := range s.Products {
		if err := products.SaveProduct(ctx, *p); err != nil {
			return err
		}
	}

	for _, def := range s.BOMs {
		if _, err := compositions.SaveBOM(ctx, def.Node, def.Lines); err != nil {
			return fmt.Errorf("failed to load BOM %s: %w", def.Node.ID, err)
		}
	}

	result, err := domainservices.NewBOMValidator(compositions).Validate(ctx)
	if err != nil {
		return err
	}
	if result.HasCycles {
		return &entities.CircularReferenceError{Path: result.CyclePaths[0]}
	}

	for _, b := range s.Batches {
		batch := b
		_, err := ledger.Atomically(ctx, []entities.StockKey{batch.Key()}, func(tx repositories.LedgerTx) error {
			_, err := tx.Receive(ctx, batch, entities.MovementReceipt, "csv")
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to load batch %s of %s: %w", batch.LotNumber, batch.Product, err)
		}
	}
	return nil
}

// Helper functions for parsing CSV records

// readRecords returns the data rows of filename after checking its header and column counts
func readRecords(filename, kind string, expectedHeader []string) ([][]string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s file %s: %w", kind, filename, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s CSV: %w", kind, err)
	}

	if len(records) < 1 {
		return nil, fmt.Errorf("%s CSV must have a header row", kind)
	}
	if !validateHeader(records[0], expectedHeader) {
		return nil, fmt.Errorf("%s CSV header mismatch. Expected: %v, Got: %v", kind, expectedHeader, records[0])
	}

	for i, record := range records[1:] {
		if len(record) != len(expectedHeader) {
			return nil, fmt.Errorf("%s CSV row %d: expected %d columns, got %d", kind, i+2, len(expectedHeader), len(record))
		}
	}
	return records[1:], nil
}

func validateHeader(actual, expected []string) bool {
	if len(actual) != len(expected) {
		return false
	}

	for i, col := range expected {
		if strings.ToLower(strings.TrimSpace(actual[i])) != col {
			return false
		}
	}

	return true
}

// BOMKey is the ID the loader gives the BOM of product at version
func BOMKey(product entities.ProductID, version string) entities.BOMID {
	return entities.BOMID(string(product) + "@" + version)
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %s", field, s)
	}
	return d, nil
}

// parseTime accepts YYYY-MM-DD or RFC 3339
func parseTime(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s format: %s (expected YYYY-MM-DD or RFC 3339)", field, s)
	}
	return t, nil
}

func parseProduct(record []string) (*entities.Product, error) {
	minimum, err := parseDecimal("minimum_stock", record[3])
	if err != nil {
		return nil, err
	}
	critical, err := parseDecimal("critical_stock", record[4])
	if err != nil {
		return nil, err
	}
	return entities.NewProduct(entities.ProductID(record[0]), record[1], record[2], minimum, critical)
}

func parseBOM(record []string) (*entities.CompositionNode, error) {
	product := entities.ProductID(record[0])
	version := record[1]

	status, err := entities.ParseBOMStatus(record[2])
	if err != nil {
		return nil, err
	}
	from, err := parseTime("effective_from", record[3])
	if err != nil {
		return nil, err
	}
	var to *time.Time
	if strings.TrimSpace(record[4]) != "" {
		t, err := parseTime("effective_to", record[4])
		if err != nil {
			return nil, err
		}
		to = &t
	}
	labor, err := parseDecimal("labor_cost", record[5])
	if err != nil {
		return nil, err
	}
	overhead, err := parseDecimal("overhead_cost", record[6])
	if err != nil {
		return nil, err
	}

	node, err := entities.NewCompositionNode(product, version, from, to, labor, overhead)
	if err != nil {
		return nil, err
	}
	node.ID = BOMKey(product, version)
	node.Status = status
	return node, nil
}

func parseBOMLine(record []string) (*entities.CompositionEdge, error) {
	sequence, err := strconv.Atoi(strings.TrimSpace(record[2]))
	if err != nil {
		return nil, fmt.Errorf("invalid sequence: %s", record[2])
	}
	quantity, err := parseDecimal("quantity", record[4])
	if err != nil {
		return nil, err
	}
	scrap, err := parseDecimal("scrap_percentage", record[5])
	if err != nil {
		return nil, err
	}
	return entities.NewCompositionEdge(BOMKey(entities.ProductID(record[0]), record[1]),
		sequence, entities.ProductID(record[3]), quantity, scrap)
}

func parseBatch(record []string) (*entities.Batch, error) {
	quantity, err := parseDecimal("quantity", record[3])
	if err != nil {
		return nil, err
	}
	cost, err := parseDecimal("unit_cost", record[4])
	if err != nil {
		return nil, err
	}
	entry, err := parseTime("entry_time", record[5])
	if err != nil {
		return nil, err
	}
	quality, err := entities.ParseQualityStatus(strings.TrimSpace(record[6]))
	if err != nil {
		return nil, err
	}
	return entities.NewBatch(entities.ProductID(record[0]), entities.WarehouseID(record[1]), record[2],
		quantity, cost, entry, quality)
}
