package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/HDI-Project/FeatureFactory/internal/cli/config"
	"github.com/HDI-Project/FeatureFactory/internal/cli/output"
	"github.com/HDI-Project/FeatureFactory/internal/dataset"
	"github.com/HDI-Project/FeatureFactory/internal/executor"
	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// smokeFeature is executed by the executor health check.
const smokeFeature = `
def %s(dataset):
    return [float(i) for i in range(dataset.num_rows)]
`

// DoctorOutput is the JSON output for the doctor command.
type DoctorOutput struct {
	ConfigFile   string        `json:"config_file,omitempty"`
	HealthChecks []HealthCheck `json:"health_checks"`
	Score        int           `json:"score"`
	IssueCount   int           `json:"issue_count"`
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	Name    string   `json:"name"`
	Group   string   `json:"group"`
	Status  string   `json:"status"` // "pass", "warn", "error"
	Details []string `json:"details,omitempty"`
}

func (h *HealthCheck) fail(status, format string, args ...any) {
	if h.Status != "error" {
		h.Status = status
	}
	h.Details = append(h.Details, fmt.Sprintf(format, args...))
}

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that the workspace can accept feature submissions",
		Long: `Check the configuration, the Feature Ledger, every problem's dataset and
the feature executor, and report anything that would make submissions fail.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx := NewCommandContextWithoutLedger(cmd)
			out := runDoctor(cmd.Context(), cmdCtx)

			r := cmdCtx.Renderer
			switch r.EffectiveMode() {
			case output.ModeJSON:
				return r.JSON(out)
			case output.ModeMarkdown:
				renderDoctorMarkdown(r, out)
			default:
				renderDoctorText(r, out)
			}
			return nil
		},
	}
}

func runDoctor(ctx context.Context, cmdCtx *CommandContext) *DoctorOutput {
	cfg := cmdCtx.Cfg
	var checks []HealthCheck

	server := HealthCheck{Name: "Session API settings", Group: "configuration", Status: "pass"}
	if err := cfg.ValidateServer(); err != nil {
		server.fail("warn", "%s", strings.SplitN(err.Error(), "\n", 2)[0])
	}
	checks = append(checks, server)

	ledgerCheck := HealthCheck{Name: "Feature Ledger", Group: "ledger", Status: "pass"}
	ledger, err := openLedger(ctx, cfg, cmdCtx.Logger)
	var problems []*core.Problem
	if err != nil {
		ledgerCheck.fail("error", "%v", err)
	} else {
		defer func() { _ = ledger.Close() }()
		if v, err := ledger.MigrationVersion(ctx); err != nil {
			ledgerCheck.fail("error", "%v", err)
		} else {
			ledgerCheck.Details = append(ledgerCheck.Details, fmt.Sprintf("%s schema version %d", cfg.Ledger.Driver, v))
		}
		if problems, err = ledger.GetProblems(ctx); err != nil {
			ledgerCheck.fail("error", "%v", err)
		}
	}
	checks = append(checks, ledgerCheck)

	checks = append(checks, checkDatasets(ctx, cmdCtx, problems)...)
	checks = append(checks, checkExecutor(ctx, cfg))

	out := &DoctorOutput{ConfigFile: config.GetConfigFileUsed(), HealthChecks: checks}
	for _, c := range checks {
		if c.Status != "pass" {
			out.IssueCount++
		}
	}
	out.Score = calculateHealthScore(checks)
	return out
}

func checkDatasets(ctx context.Context, cmdCtx *CommandContext, problems []*core.Problem) []HealthCheck {
	if len(problems) == 0 {
		return []HealthCheck{{Name: "Problems", Group: "datasets", Status: "warn", Details: []string{"no problems registered"}}}
	}

	duck, err := dataset.NewDuckDBProvider(ctx, dataset.DuckDBOptions{DataRoot: cmdCtx.Cfg.DataRoot, Logger: cmdCtx.Logger})
	if err != nil {
		return []HealthCheck{{Name: "Dataset reader", Group: "datasets", Status: "error", Details: []string{err.Error()}}}
	}
	defer func() { _ = duck.Close() }()

	checks := make([]HealthCheck, 0, len(problems))
	for _, p := range problems {
		check := HealthCheck{Name: "Problem " + p.Name, Group: "datasets", Status: "pass"}
		ds, err := duck.Dataset(ctx, p, 0)
		switch {
		case err != nil:
			check.fail("error", "%v", err)
		case ds.NumRows() < cmdCtx.Cfg.Scoring.Folds:
			check.fail("warn", "%d rows is fewer than %d folds", ds.NumRows(), cmdCtx.Cfg.Scoring.Folds)
		default:
			check.Details = append(check.Details, fmt.Sprintf("%d rows, %d columns", ds.NumRows(), len(ds.Columns)))
		}
		checks = append(checks, check)
	}
	return checks
}

func checkExecutor(ctx context.Context, cfg *config.Config) HealthCheck {
	check := HealthCheck{Name: "Feature executor (" + cfg.Executor.Isolation + ")", Group: "executor", Status: "pass"}
	if cfg.Executor.Isolation == executor.IsolationThread && cfg.Executor.MemoryLimitMB > 0 {
		check.fail("warn", "executor.memory_limit_mb (%d MB) is not enforced in thread isolation; use process", cfg.Executor.MemoryLimitMB)
	}
	runner, err := executor.NewRunner(cfg.Executor.Isolation, executor.Limits{
		Timeout:       cfg.Executor.Timeout,
		MaxSteps:      cfg.Executor.MaxSteps,
		MemoryLimitMB: cfg.Executor.MemoryLimitMB,
		Entrypoint:    cfg.Executor.Entrypoint,
	}, nil)
	if err != nil {
		check.fail("error", "%v", err)
		return check
	}

	ds := &core.Dataset{
		Problem:      "doctor",
		TargetColumn: "y",
		Columns:      []string{"x"},
		Index:        []string{"0", "1", "2"},
		Cells:        map[string][]any{"x": {int64(1), int64(2), int64(3)}},
		Target:       []any{int64(0), int64(1), int64(0)},
	}
	res, err := executor.New(runner, executor.Options{MaxAttempts: 1}).
		Execute(ctx, fmt.Sprintf(smokeFeature, cfg.Executor.Entrypoint), ds)
	if err != nil {
		check.fail("error", "%v", err)
		return check
	}
	check.Details = append(check.Details, fmt.Sprintf("sample feature ran in %s", res.Elapsed.Round(time.Microsecond)))
	return check
}

// calculateHealthScore computes a health score from 0-100.
// Each error costs 25 points and each warning 10.
func calculateHealthScore(checks []HealthCheck) int {
	score := 100
	for _, check := range checks {
		switch check.Status {
		case "error":
			score -= 25
		case "warn":
			score -= 10
		}
	}
	return max(score, 0)
}

func renderDoctorText(r *output.Renderer, out *DoctorOutput) {
	styles := r.Styles()

	r.Header(1, "FeatureFactory Health Report")
	if out.ConfigFile != "" {
		r.Muted("Config: " + out.ConfigFile)
		r.Println("")
	}

	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, check := range out.HealthChecks {
		if check.Group != currentGroup {
			currentGroup = check.Group
			r.Println(styles.Subheader.Render(titleCaser.String(currentGroup)))
		}

		icon := styles.Success.Render("✓")
		switch check.Status {
		case "warn":
			icon = styles.Warning.Render("!")
		case "error":
			icon = styles.Error.Render("✗")
		}
		r.Printf("   %s %s\n", icon, check.Name)
		for _, detail := range check.Details {
			r.Println(styles.Muted.Render("       - " + detail))
		}
	}
	r.Println("")

	scoreStyle := styles.Success
	if out.Score < 70 {
		scoreStyle = styles.Warning
	}
	if out.Score < 50 {
		scoreStyle = styles.Error
	}
	r.Printf("   Health Score: %s\n", scoreStyle.Render(fmt.Sprintf("%d/100", out.Score)))
}

func renderDoctorMarkdown(r *output.Renderer, out *DoctorOutput) {
	r.Println(output.FormatHeader(1, "FeatureFactory Health Report"))
	r.Println("")
	if out.ConfigFile != "" {
		r.Println(output.FormatKeyValue("Config", out.ConfigFile))
		r.Println("")
	}

	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, check := range out.HealthChecks {
		if check.Group != currentGroup {
			currentGroup = check.Group
			r.Println(output.FormatHeader(2, titleCaser.String(currentGroup)))
			r.Println("")
		}
		r.Printf("- **[%s]** %s\n", strings.ToUpper(check.Status), check.Name)
		for _, detail := range check.Details {
			r.Printf("  - %s\n", detail)
		}
	}
	r.Println("")
	r.Println(output.FormatHeader(2, "Health Score"))
	r.Println("")
	r.Printf("**%d/100**\n", out.Score)
}
