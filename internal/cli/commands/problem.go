package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/HDI-Project/FeatureFactory/internal/cli/output"
	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// ProblemManifest is the YAML document read by "problem import".
type ProblemManifest struct {
	Problems []ProblemSpec `yaml:"problems"`
}

// ProblemSpec describes one problem in a manifest.
type ProblemSpec struct {
	Name   string `yaml:"name" json:"name"`
	Type   string `yaml:"type" json:"type"`
	Data   string `yaml:"data" json:"data"`
	Target string `yaml:"target" json:"target"`
	Index  string `yaml:"index,omitempty" json:"index,omitempty"`
}

func (s ProblemSpec) problem() (*core.Problem, error) {
	typ, err := core.ParseProblemType(strings.ToLower(s.Type))
	if err != nil {
		return nil, usageErrorf("problem %q: %v", s.Name, err)
	}
	p := &core.Problem{
		Name:         s.Name,
		Type:         typ,
		DataPath:     s.Data,
		TargetColumn: s.Target,
		IndexColumn:  s.Index,
	}
	if err := p.Validate(); err != nil {
		return nil, usageErrorf("%v", err)
	}
	return p, nil
}

// NewProblemCommand creates the problem command group.
func NewProblemCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "problem",
		Short: "Manage prediction problems",
	}
	cmd.AddCommand(newProblemCreateCommand(), newProblemListCommand(), newProblemImportCommand())
	return cmd
}

func newProblemCreateCommand() *cobra.Command {
	var spec ProblemSpec
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Register a new problem",
		Example: `  featurefactory problem create titanic --type classification \
      --data data/titanic.csv --target survived --index passenger_id`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec.Name = args[0]
			p, err := spec.problem()
			if err != nil {
				return err
			}

			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := cmdCtx.Ledger.CreateProblem(cmd.Context(), p); err != nil {
				return err
			}
			cmdCtx.Logger.Info("problem created", "problem", p.Name, "id", p.ID)
			cmdCtx.Renderer.Success(fmt.Sprintf("Created problem %s (id %d)", p.Name, p.ID))
			return nil
		},
	}
	cmd.Flags().StringVar(&spec.Type, "type", string(core.ProblemClassification), "Problem type: classification or regression")
	cmd.Flags().StringVar(&spec.Data, "data", "", "CSV or Parquet file holding the dataset")
	cmd.Flags().StringVar(&spec.Target, "target", "", "Target column")
	cmd.Flags().StringVar(&spec.Index, "index", "", "Index column (default: row position)")
	return cmd
}

func newProblemListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List problems",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			problems, err := cmdCtx.Ledger.GetProblems(cmd.Context())
			if err != nil {
				return err
			}
			renderProblems(cmdCtx.Renderer, problems)
			return nil
		},
	}
}

func renderProblems(r *output.Renderer, problems []*core.Problem) {
	if r.EffectiveMode() == output.ModeJSON {
		specs := make([]ProblemSpec, 0, len(problems))
		for _, p := range problems {
			specs = append(specs, ProblemSpec{Name: p.Name, Type: string(p.Type), Data: p.DataPath, Target: p.TargetColumn, Index: p.IndexColumn})
		}
		_ = r.JSON(specs)
		return
	}

	r.Header(1, fmt.Sprintf("Problems (%d total)", len(problems)))
	rows := make([][]any, 0, len(problems))
	for _, p := range problems {
		rows = append(rows, []any{p.ID, p.Name, p.Type, p.TargetColumn, p.IndexColumn, p.DataPath})
	}
	r.Table([]string{"ID", "Name", "Type", "Target", "Index", "Data"}, rows)
}

func newProblemImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import MANIFEST",
		Short: "Create every problem listed in a YAML manifest",
		Long: `Create every problem listed in a YAML manifest. Problems that already
exist are skipped.

Manifest format:

  problems:
    - name: titanic
      type: classification
      data: data/titanic.csv
      target: survived
      index: passenger_id`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := readManifest(args[0])
			if err != nil {
				return err
			}

			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			r := cmdCtx.Renderer

			created := 0
			for _, spec := range manifest.Problems {
				p, err := spec.problem()
				if err != nil {
					return err
				}
				err = cmdCtx.Ledger.CreateProblem(cmd.Context(), p)
				switch {
				case errors.Is(err, core.ErrExists):
					r.StatusLine(p.Name, "skipped", "already exists")
				case err != nil:
					r.StatusLine(p.Name, "failed", err.Error())
					return err
				default:
					created++
					r.StatusLine(p.Name, "success", string(p.Type))
				}
			}
			r.Success(fmt.Sprintf("Imported %d of %d problems", created, len(manifest.Problems)))
			return nil
		},
	}
}

func readManifest(path string) (*ProblemManifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // manifest path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m ProblemManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, usageErrorf("invalid manifest %s: %v", path, err)
	}
	if len(m.Problems) == 0 {
		return nil, usageErrorf("manifest %s lists no problems", path)
	}
	return &m, nil
}
