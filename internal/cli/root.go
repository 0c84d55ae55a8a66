// Package cli provides the command-line interface for FeatureFactory.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/HDI-Project/FeatureFactory/internal/cli/commands"
	"github.com/HDI-Project/FeatureFactory/internal/cli/config"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "featurefactory",
		Short: "FeatureFactory - collaborative feature engineering",
		Long: `FeatureFactory lets many contributors propose features for shared prediction
problems. Each feature is a small Starlark function; FeatureFactory runs it in
isolation, scores the resulting column with k-fold cross-validation and keeps
every distinct feature in the Feature Ledger.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help, completion and the worker
			switch cmd.Name() {
			case "help", "completion", "__complete", "worker":
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			logger := config.NewLogger(cfg.Log, cmd.ErrOrStderr())

			ctx := config.WithConfig(cmd.Context(), cfg)
			ctx = config.WithLogger(ctx, logger)
			cmd.SetContext(ctx)

			if configFile := config.GetConfigFileUsed(); configFile != "" {
				logger.Debug("using config file", "path", configFile)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	// Global persistent flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./featurefactory.yaml, searched upwards)")
	flags.String("ledger-driver", "", "Feature Ledger driver (sqlite|postgres)")
	flags.String("ledger-dsn", "", "Feature Ledger file (sqlite) or connection string (postgres)")
	flags.String("data-root", "", "Directory that relative dataset paths resolve against")
	flags.String("isolation", "", "Feature execution isolation (thread|process)")
	flags.Duration("timeout", 0, "Time limit for one execution attempt")
	flags.Int("max-attempts", 0, "Execution attempts before giving up")
	flags.Int("folds", 0, "Cross-validation folds")
	flags.Uint64("seed", 0, "Seed for fold assignment and sampling")
	flags.Int("sample-size", 0, "Rows used for execution and scoring (0 for all)")
	flags.Duration("dedup-timeout", 0, "How long to wait for identical code being scored elsewhere")
	flags.String("addr", "", "Session API listen address")
	flags.String("log-level", "", "Log level (debug|info|warn|error)")
	flags.String("log-format", "", "Log format (text|json)")
	flags.StringP("output", "o", "", "Output format (auto|text|markdown|json)")

	// Register completion for enumerated flags
	completions := map[string][]string{
		"output":        {"auto", "text", "markdown", "json"},
		"ledger-driver": {"sqlite", "postgres"},
		"isolation":     {"thread", "process"},
		"log-level":     {"debug", "info", "warn", "error"},
		"log-format":    {"text", "json"},
	}
	for name, values := range completions {
		_ = rootCmd.RegisterFlagCompletionFunc(name, func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
			return values, cobra.ShellCompDirectiveNoFileComp
		})
	}

	// Add subcommands
	rootCmd.AddCommand(commands.NewVersionCommand(Version, GitCommit, BuildDate))
	rootCmd.AddCommand(commands.NewInitCommand())
	rootCmd.AddCommand(commands.NewProblemCommand())
	rootCmd.AddCommand(commands.NewFeatureCommand())
	rootCmd.AddCommand(commands.NewRegisterCommand())
	rootCmd.AddCommand(commands.NewCrossValidateCommand())
	rootCmd.AddCommand(commands.NewDiscoverCommand())
	rootCmd.AddCommand(commands.NewSampleCommand())
	rootCmd.AddCommand(commands.NewWatchCommand())
	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewMigrateCommand())
	rootCmd.AddCommand(commands.NewDoctorCommand())
	rootCmd.AddCommand(commands.NewWorkerCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return commands.ExitCode(err)
	}
	return commands.ExitOK
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for FeatureFactory.

To load completions:

Bash:
  $ source <(featurefactory completion bash)

Zsh:
  $ featurefactory completion zsh > "${fpath[1]}/_featurefactory"

Fish:
  $ featurefactory completion fish | source

PowerShell:
  PS> featurefactory completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
