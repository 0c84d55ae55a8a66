package commands

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/HDI-Project/FeatureFactory/internal/cli/output"
	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// NewSampleCommand creates the sample command.
func NewSampleCommand() *cobra.Command {
	var rows int
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Show a random sample of a problem's dataset",
		Long: `Show a random sample of a problem's dataset, as feature code sees it.
The target column is shown last.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rows < 0 {
				return usageErrorf("--rows cannot be negative")
			}
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			sess, err := cmdCtx.Session(cmd, Stack{})
			if err != nil {
				return err
			}
			ds, err := sess.SampleDataset(cmd.Context(), rows)
			if err != nil {
				return err
			}
			return renderDataset(cmdCtx.Renderer, ds)
		},
	}
	addIdentityFlags(cmd)
	cmd.Flags().IntVarP(&rows, "rows", "n", 10, "Number of rows (0 for all)")
	return cmd
}

func renderDataset(r *output.Renderer, ds *core.Dataset) error {
	if r.EffectiveMode() == output.ModeJSON {
		rows := make([]map[string]any, ds.NumRows())
		for i := range rows {
			row := make(map[string]any, len(ds.Columns)+1)
			for _, name := range ds.Columns {
				row[name] = finite(ds.Cells[name][i])
			}
			row[ds.TargetColumn] = finite(ds.Target[i])
			rows[i] = row
		}
		return r.JSON(rows)
	}

	r.Header(1, fmt.Sprintf("%s (%d rows)", ds.Problem, ds.NumRows()))
	header := make([]string, 0, len(ds.Columns)+2)
	header = append(header, indexHeader(ds))
	header = append(header, ds.Columns...)
	header = append(header, ds.TargetColumn)

	rows := make([][]any, ds.NumRows())
	for i := range rows {
		row := make([]any, 0, len(header))
		row = append(row, ds.Index[i])
		for _, name := range ds.Columns {
			row = append(row, cell(ds.Cells[name][i]))
		}
		row = append(row, cell(ds.Target[i]))
		rows[i] = row
	}
	r.Table(header, rows)
	return nil
}

func indexHeader(ds *core.Dataset) string {
	if ds.IndexColumn != "" {
		return ds.IndexColumn
	}
	return "#"
}

func cell(v any) any {
	if v == nil {
		return "None"
	}
	return v
}

// finite maps NaN and infinities to nil, which JSON cannot carry.
func finite(v any) any {
	if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return nil
	}
	return v
}
