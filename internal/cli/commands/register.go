package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/HDI-Project/FeatureFactory/internal/cli/output"
	"github.com/HDI-Project/FeatureFactory/internal/scoring"
	"github.com/HDI-Project/FeatureFactory/internal/session"
	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// SubmissionInfo is the JSON form of a register result.
type SubmissionInfo struct {
	ID          string        `json:"id"`
	Problem     string        `json:"problem"`
	Contributor string        `json:"contributor"`
	Fingerprint string        `json:"fingerprint"`
	Stages      []string      `json:"stages"`
	Existing    bool          `json:"existing"`
	Attempts    int           `json:"attempts"`
	FeatureID   int64         `json:"feature_id,omitempty"`
	Score       *float64      `json:"score"`
	Metrics     []core.Metric `json:"metrics,omitempty"`
	Error       string        `json:"error,omitempty"`
	Kind        string        `json:"kind,omitempty"`
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "register FILE",
		Short: "Execute, score and store a feature",
		Long: `Execute the feature code in FILE against the problem's dataset, score the
resulting column with k-fold cross-validation and store it in the Feature Ledger.

FILE is Starlark source defining transform(dataset). Use "-" to read stdin.
Code identical to an already registered feature returns the stored score.`,
		Example: `  featurefactory register age_bucket.star -p titanic -d "age bucketed by decade"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readCode(cmd, args[0])
			if err != nil {
				return err
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
			sub, err := sess.RegisterFeature(cmd.Context(), code, description)
			renderSubmission(cmdCtx.Renderer, sub)
			return err
		},
	}
	addIdentityFlags(cmd)
	cmd.Flags().StringVarP(&description, "description", "d", "", "Human-readable description of the feature")
	return cmd
}

// NewCrossValidateCommand creates the cross-validate command.
func NewCrossValidateCommand() *cobra.Command {
	var holdout int
	cmd := &cobra.Command{
		Use:     "cross-validate FILE",
		Aliases: []string{"cv"},
		Short:   "Score a feature without storing it",
		Long: `Score a feature without storing it.

By default the feature is cross-validated. With --holdout N the tree is
trained on the first N rows of the dataset and scored on the rest.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if holdout < 0 {
				return fmt.Errorf("--holdout must not be negative")
			}
			code, err := readCode(cmd, args[0])
			if err != nil {
				return err
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
			var res *scoring.Result
			if holdout > 0 {
				res, err = sess.Holdout(cmd.Context(), code, holdout)
			} else {
				res, err = sess.CrossValidate(cmd.Context(), code)
			}
			if err != nil {
				renderFailure(cmdCtx.Renderer, err)
				return err
			}
			return renderScore(cmdCtx.Renderer, sess.Problem().Name, res)
		},
	}
	addIdentityFlags(cmd)
	cmd.Flags().IntVar(&holdout, "holdout", 0, "Train on the first N rows and score on the rest")
	return cmd
}

func submissionInfo(sub *session.Submission) SubmissionInfo {
	info := SubmissionInfo{
		ID:          sub.ID.String(),
		Problem:     sub.Problem,
		Contributor: sub.Contributor,
		Fingerprint: sub.Fingerprint,
		Existing:    sub.Existing,
		Attempts:    sub.Attempts,
		Score:       sub.Score(),
	}
	for _, st := range sub.Stages() {
		info.Stages = append(info.Stages, string(st))
	}
	if sub.Feature != nil {
		info.FeatureID = sub.Feature.ID
		info.Metrics = sub.Feature.Metrics
	}
	if sub.Err != nil {
		info.Error = sub.Err.Error()
		info.Kind = string(core.KindOf(sub.Err))
	}
	return info
}

func renderSubmission(r *output.Renderer, sub *session.Submission) {
	if sub == nil {
		return
	}
	if r.EffectiveMode() == output.ModeJSON {
		_ = r.JSON(submissionInfo(sub))
		return
	}

	stages := make([]string, 0, len(sub.Trail))
	for _, st := range sub.Stages() {
		stages = append(stages, string(st))
	}
	r.Muted(strings.Join(stages, " → "))

	switch {
	case sub.Err != nil:
		renderFailure(r, sub.Err)
	case sub.Existing:
		r.Warning(fmt.Sprintf("Identical code is already registered as feature %d (score %s)",
			sub.Feature.ID, output.FormatScore(sub.Feature.Score)))
	default:
		r.Success(fmt.Sprintf("Registered feature %d for %s with score %s",
			sub.Feature.ID, sub.Problem, output.FormatScore(sub.Score())))
		renderMetrics(r, sub.Feature.Metrics)
	}
}

func renderScore(r *output.Renderer, problem string, res *scoring.Result) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(map[string]any{"problem": problem, "score": res.Score, "folds": res.Folds, "metrics": res.Metrics})
	}
	score := res.Score
	if res.Folds == 1 {
		r.Success(fmt.Sprintf("%s: holdout score %s", problem, output.FormatScore(&score)))
	} else {
		r.Success(fmt.Sprintf("%s: %d-fold score %s", problem, res.Folds, output.FormatScore(&score)))
	}
	renderMetrics(r, res.Metrics)
	return nil
}

func renderFailure(r *output.Renderer, err error) {
	var f *core.Failure
	if !errors.As(err, &f) {
		return
	}
	r.Error(fmt.Sprintf("%s failure (%s): %s", f.Kind.Category(), f.Kind, f.Reason))
	if f.Detail != "" {
		r.Warning(f.Detail)
	}
}
