package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver

	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// ordinalColumn carries the file position of each row through sampling.
const ordinalColumn = "__featurefactory_row"

// DuckDBProvider reads problem data files with an in-memory DuckDB.
// CSV files go through read_csv_auto, Parquet files through read_parquet.
type DuckDBProvider struct {
	db       *sql.DB
	dataRoot string
	seed     int64
	logger   *slog.Logger
}

// DuckDBOptions configures a DuckDBProvider.
type DuckDBOptions struct {
	// DataRoot resolves relative data paths. Empty means the working directory.
	DataRoot string
	// Seed makes samples repeatable.
	Seed   int64
	Logger *slog.Logger
}

// NewDuckDBProvider opens an in-memory DuckDB connection.
func NewDuckDBProvider(ctx context.Context, opts DuckDBOptions) (*DuckDBProvider, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &DuckDBProvider{db: db, dataRoot: opts.DataRoot, seed: opts.Seed, logger: logger}, nil
}

// Close closes the DuckDB connection.
func (d *DuckDBProvider) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// Dataset reads the problem's data file. Samples are drawn with a repeatable
// reservoir and keep file order.
func (d *DuckDBProvider) Dataset(ctx context.Context, p *core.Problem, sampleSize int) (*core.Dataset, error) {
	if d.db == nil {
		return nil, fmt.Errorf("database connection not established")
	}

	query, err := d.buildQuery(p, sampleSize)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("loading dataset", slog.String("problem", p.Name), slog.Int("sample_size", sampleSize))

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p.DataPath, err)
	}
	defer func() { _ = rows.Close() }()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	cells := make(map[string][]any, len(names))
	var ordinal []int64
	values := make([]any, len(names))
	ptrs := make([]any, len(names))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, name := range names {
			v := normalize(values[i])
			if name == ordinalColumn {
				n, _ := v.(int64)
				ordinal = append(ordinal, n)
				continue
			}
			cells[name] = append(cells[name], v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", p.DataPath, err)
	}

	columns := make([]string, 0, len(names))
	for _, name := range names {
		if name == ordinalColumn {
			continue
		}
		columns = append(columns, name)
		if cells[name] == nil {
			cells[name] = []any{}
		}
	}
	return assemble(p, columns, cells, ordinal)
}

func (d *DuckDBProvider) buildQuery(p *core.Problem, sampleSize int) (string, error) {
	path := p.DataPath
	if !filepath.IsAbs(path) && d.dataRoot != "" {
		path = filepath.Join(d.dataRoot, path)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	var source string
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".csv", ".tsv", ".txt":
		source = fmt.Sprintf("read_csv_auto(%s, header=true)", quoteLiteral(absPath))
	case ".parquet", ".pq":
		source = fmt.Sprintf("read_parquet(%s)", quoteLiteral(absPath))
	default:
		return "", fmt.Errorf("problem %s: unsupported data file %s (expected .csv or .parquet)", p.Name, p.DataPath)
	}

	query := fmt.Sprintf("SELECT *, row_number() OVER () - 1 AS %s FROM %s", ordinalColumn, source)
	if sampleSize > 0 {
		query = fmt.Sprintf("SELECT * FROM (%s) USING SAMPLE reservoir(%d ROWS) REPEATABLE (%d)", query, sampleSize, d.seed)
	}
	return fmt.Sprintf("SELECT * FROM (%s) ORDER BY %s", query, ordinalColumn), nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

var _ Provider = (*DuckDBProvider)(nil)
