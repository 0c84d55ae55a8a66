package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HDI-Project/FeatureFactory/internal/cli/output"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Feature Ledger migrations",
		Long: `Apply pending Feature Ledger migrations. Every command that opens the
ledger does this too; migrate is useful to prepare a database ahead of time.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			version, err := cmdCtx.Ledger.MigrationVersion(cmd.Context())
			if err != nil {
				return err
			}
			cmdCtx.Renderer.Success(fmt.Sprintf("Ledger schema is at version %d (%s)", version, cmdCtx.Cfg.Ledger.Driver))
			return nil
		},
	}
	cmd.AddCommand(newMigrateStatusCommand())
	return cmd
}

func newMigrateStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List ledger migrations and whether they are applied",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			r := cmdCtx.Renderer

			statuses, err := cmdCtx.Ledger.MigrationStatus(cmd.Context())
			if err != nil {
				return err
			}
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(statuses)
			}

			r.Header(1, "Migrations")
			rows := make([][]any, 0, len(statuses))
			for _, st := range statuses {
				applied := "pending"
				if st.Applied {
					applied = "applied"
				}
				rows = append(rows, []any{st.Version, st.Source, applied})
			}
			r.Table([]string{"Version", "Source", "State"}, rows)
			return nil
		},
	}
}
