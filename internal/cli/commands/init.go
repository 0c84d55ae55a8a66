package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/HDI-Project/FeatureFactory/internal/cli/output"
	intconfig "github.com/HDI-Project/FeatureFactory/internal/config"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool
	var example bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new FeatureFactory workspace",
		Long: `Initialize a new FeatureFactory workspace with a configuration file and a
data/ directory for problem datasets.

Use --example to also create a small Titanic dataset, a problem manifest and
two example features.`,
		Example: `  # Initialize in current directory
  featurefactory init

  # Initialize a new directory with the example problem
  featurefactory init my-workspace --example
  cd my-workspace
  featurefactory problem import problems.yaml
  featurefactory register features/is_female.star -p titanic`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			cfg := getConfig(cmd.Context())
			r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.Output))

			template := "minimal"
			if example {
				template = "example"
			}
			return runInit(r, dir, template, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")
	cmd.Flags().BoolVar(&example, "example", false, "Include an example problem, dataset and features")

	return cmd
}

func runInit(r *output.Renderer, dir, template string, force bool) error {
	if err := os.MkdirAll(filepath.Join(dir, "data"), 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	configPath := filepath.Join(dir, intconfig.ConfigFileName)
	if _, err := os.Stat(configPath); err == nil && !force {
		return usageErrorf("%s already exists. Use --force to overwrite", intconfig.ConfigFileName)
	}

	files, err := workspaceTemplate(template)
	if err != nil {
		return err
	}
	written, err := writeTemplate(files, dir, force)
	if err != nil {
		return fmt.Errorf("failed to initialize workspace: %w", err)
	}

	groups := byGroup(written)
	for _, group := range []struct{ key, title string }{
		{"config", "Configuration"},
		{"data", "Data"},
		{"features", "Features"},
	} {
		if len(groups[group.key]) == 0 {
			continue
		}
		r.Header(2, group.title)
		for _, f := range groups[group.key] {
			r.StatusLine(f, "success", "")
		}
		r.Println("")
	}

	r.Success("FeatureFactory workspace initialized!")
	r.Println("")
	r.Println("Next steps:")
	if template == "example" {
		r.Println("  featurefactory problem import problems.yaml")
		r.Println("  featurefactory sample -p titanic")
		r.Println("  featurefactory register features/is_female.star -p titanic")
		r.Println("  featurefactory discover -p titanic")
	} else {
		r.Println("  1. Put your dataset (CSV or Parquet) in data/")
		r.Println("  2. featurefactory problem create NAME --data FILE --target COLUMN")
		r.Println("  3. featurefactory register FEATURE.star -p NAME")
	}
	return nil
}
