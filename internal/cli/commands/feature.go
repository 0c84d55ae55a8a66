package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/HDI-Project/FeatureFactory/internal/cli/output"
	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// FeatureInfo is the JSON form of a stored feature.
type FeatureInfo struct {
	ID          int64         `json:"id"`
	Contributor string        `json:"contributor"`
	Description string        `json:"description"`
	Fingerprint string        `json:"fingerprint"`
	Score       *float64      `json:"score"`
	Metrics     []core.Metric `json:"metrics,omitempty"`
	Code        string        `json:"code,omitempty"`
	Redacted    bool          `json:"redacted,omitempty"`
	CreatedAt   string        `json:"created_at"`
}

// NewFeatureCommand creates the feature command group. These commands read
// the ledger directly and are meant for operators.
func NewFeatureCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feature",
		Short: "Inspect and administer stored features",
	}
	cmd.AddCommand(newFeatureListCommand(), newFeatureShowCommand(), newFeatureDeleteCommand())
	return cmd
}

func newFeatureListCommand() *cobra.Command {
	var problem, user string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List features, optionally filtered by problem and contributor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			ctx := cmd.Context()

			var filter core.FeatureFilter
			if problem != "" {
				p, err := problemByName(ctx, cmdCtx.Ledger, problem)
				if err != nil {
					return err
				}
				filter.ProblemID = p.ID
			}
			if user != "" {
				c, err := cmdCtx.Ledger.GetContributor(ctx, user)
				if err != nil {
					return fmt.Errorf("contributor %q: %w", user, err)
				}
				filter.ContributorID = c.ID
			}

			features, err := cmdCtx.Ledger.GetFeatures(ctx, filter)
			if err != nil {
				return err
			}
			views := make([]core.FeatureView, 0, len(features))
			for _, f := range features {
				views = append(views, core.FeatureView{
					ID: f.ID, Contributor: f.Contributor, Description: f.Description,
					Fingerprint: f.Fingerprint, Score: f.Score, Metrics: f.Metrics, CreatedAt: f.CreatedAt,
				})
			}
			return renderFeatureViews(cmdCtx.Renderer, "Features", views)
		},
	}
	cmd.Flags().StringVarP(&problem, "problem", "p", "", "Only features of this problem")
	cmd.Flags().StringVarP(&user, "user", "u", "", "Only features by this contributor")
	return cmd
}

func newFeatureShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Print a feature with its code and metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			f, err := cmdCtx.Ledger.GetFeature(cmd.Context(), id)
			if err != nil {
				return err
			}
			return PrintFeature(cmdCtx.Renderer, f)
		},
	}
}

func newFeatureDeleteCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Remove a feature from the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if !yes {
				return usageErrorf("refusing to delete feature %d without --yes", id)
			}
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := cmdCtx.Ledger.DeleteFeature(cmd.Context(), id); err != nil {
				return err
			}
			cmdCtx.Logger.Info("feature deleted", "feature_id", id)
			cmdCtx.Renderer.Success(fmt.Sprintf("Deleted feature %d", id))
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the deletion")
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, usageErrorf("invalid feature id %q", s)
	}
	return id, nil
}

// PrintFeature renders one feature in full: metadata, metrics and code.
func PrintFeature(r *output.Renderer, f *core.Feature) error {
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(featureInfo(core.FeatureView{
			ID: f.ID, Contributor: f.Contributor, Description: f.Description, Fingerprint: f.Fingerprint,
			Score: f.Score, Metrics: f.Metrics, Code: f.Code, CreatedAt: f.CreatedAt,
		}))
	case output.ModeMarkdown:
		r.Println(output.FormatHeader(1, fmt.Sprintf("Feature %d", f.ID)))
		r.Println()
		r.Println(output.FormatKeyValue("Contributor", f.Contributor))
		r.Println(output.FormatKeyValue("Description", f.Description))
		r.Println(output.FormatKeyValue("Score", output.FormatScore(f.Score)))
		r.Println(output.FormatKeyValue("Fingerprint", f.Fingerprint))
		r.Println(output.FormatKeyValue("Created", f.CreatedAt.Format("2006-01-02 15:04:05")))
		r.Println()
		renderMetrics(r, f.Metrics)
		r.Println(output.FormatHeader(2, "Code"))
		r.Println()
		r.Println("```starlark")
		r.Println(strings.TrimRight(f.Code, "\n"))
		r.Println("```")
	default:
		s := r.Styles()
		r.Header(1, fmt.Sprintf("Feature %d", f.ID))
		r.Printf("%s %s\n", s.Muted.Render("Contributor:"), f.Contributor)
		r.Printf("%s %s\n", s.Muted.Render("Description:"), f.Description)
		r.Printf("%s %s\n", s.Muted.Render("Score:      "), output.FormatScore(f.Score))
		r.Printf("%s %s\n", s.Muted.Render("Fingerprint:"), f.Fingerprint)
		r.Println()
		renderMetrics(r, f.Metrics)
		r.Header(2, "Code")
		r.Println(s.Code.Render(strings.TrimRight(f.Code, "\n")))
	}
	return nil
}

func renderMetrics(r *output.Renderer, metrics []core.Metric) {
	if len(metrics) == 0 {
		return
	}
	rows := make([][]any, 0, len(metrics))
	for _, m := range metrics {
		rows = append(rows, []any{m.Name, m.Scoring, output.FormatScore(m.Value)})
	}
	r.Table([]string{"Metric", "Scoring", "Mean"}, rows)
}

func renderFeatureViews(r *output.Renderer, title string, views []core.FeatureView) error {
	if r.EffectiveMode() == output.ModeJSON {
		out := make([]FeatureInfo, 0, len(views))
		for _, v := range views {
			out = append(out, featureInfo(v))
		}
		return r.JSON(out)
	}

	r.Header(1, fmt.Sprintf("%s (%d total)", title, len(views)))
	if len(views) == 0 {
		r.Muted("No features yet.")
		return nil
	}
	rows := make([][]any, 0, len(views))
	for _, v := range views {
		rows = append(rows, []any{v.ID, v.Contributor, output.FormatScore(v.Score), v.Description, v.Fingerprint[:min(12, len(v.Fingerprint))]})
	}
	r.Table([]string{"ID", "Contributor", "Score", "Description", "Fingerprint"}, rows)
	return nil
}

func featureInfo(v core.FeatureView) FeatureInfo {
	return FeatureInfo{
		ID:          v.ID,
		Contributor: v.Contributor,
		Description: v.Description,
		Fingerprint: v.Fingerprint,
		Score:       v.Score,
		Metrics:     v.Metrics,
		Code:        v.Code,
		Redacted:    v.Redacted,
		CreatedAt:   v.CreatedAt.Format(time.RFC3339),
	}
}
