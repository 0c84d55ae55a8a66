// Package scoring measures how well a single feature column predicts a
// problem's target with k-fold cross-validation of a decision tree.
package scoring

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// Config controls cross-validation.
type Config struct {
	Folds          int    // default 5
	Seed           uint64 // fold shuffling
	MaxDepth       int    // 0 means unlimited
	MinSamplesLeaf int    // default 1
}

// DefaultConfig returns the standard scoring configuration.
func DefaultConfig() Config {
	return Config{Folds: 5, Seed: 42, MinSamplesLeaf: 1}
}

// Result is a cross-validated evaluation of a feature.
type Result struct {
	// Score is the primary metric: Accuracy for classification,
	// Root Mean Squared Error for regression.
	Score   float64
	Metrics []core.Metric
	Folds   int
}

// Metric returns the value of the metric with the given scoring identifier.
func (r *Result) Metric(scoring string) (float64, bool) {
	for _, m := range r.Metrics {
		if m.Scoring == scoring && m.Value != nil {
			return *m.Value, true
		}
	}
	return 0, false
}

// Scorer evaluates feature columns. It is stateless and safe for concurrent use.
type Scorer struct {
	cfg Config
}

// New creates a Scorer, filling zero config values with defaults.
func New(cfg Config) *Scorer {
	def := DefaultConfig()
	if cfg.Folds <= 0 {
		cfg.Folds = def.Folds
	}
	if cfg.MinSamplesLeaf <= 0 {
		cfg.MinSamplesLeaf = def.MinSamplesLeaf
	}
	return &Scorer{cfg: cfg}
}

// Score cross-validates a decision tree trained on col alone against target.
// The result is deterministic for a given column, target and config.
func (s *Scorer) Score(ctx context.Context, col core.Column, target []any, problemType core.ProblemType) (*Result, error) {
	if err := checkColumn(col, target); err != nil {
		return nil, err
	}
	if col.Len() < s.cfg.Folds {
		return nil, core.Failf(core.KindInsufficientData, "%d rows cannot be split into %d folds", col.Len(), s.cfg.Folds)
	}

	switch problemType {
	case core.ProblemClassification:
		return s.scoreClassification(ctx, col.Values, target)
	case core.ProblemRegression:
		return s.scoreRegression(ctx, col.Values, target)
	default:
		return nil, fmt.Errorf("unknown problem type %q", problemType)
	}
}

// checkColumn rejects columns the tree cannot be trained on.
func checkColumn(col core.Column, target []any) error {
	if col.Len() != len(target) || len(col.Valid) != col.Len() {
		return core.Failf(core.KindInvalidColumn, "column has %d values for %d targets", col.Len(), len(target))
	}
	if i := col.Missing(); i >= 0 {
		return core.Failf(core.KindInvalidColumn, "column has a missing value at row %d", i)
	}
	for i, v := range col.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return core.Failf(core.KindInvalidColumn, "column has a non-finite value at row %d", i)
		}
	}
	return nil
}

func (s *Scorer) params() treeParams {
	return treeParams{maxDepth: s.cfg.MaxDepth, minSamplesLeaf: s.cfg.MinSamplesLeaf}
}

func (s *Scorer) scoreClassification(ctx context.Context, x []float64, target []any) (*Result, error) {
	labels, nClasses, err := classLabels(target)
	if err != nil {
		return nil, err
	}

	folds := stratifiedKFold(labels, nClasses, s.cfg.Folds, s.cfg.Seed)
	scores := make(map[string][]float64, len(classificationMetrics))
	for _, test := range folds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.evalClassifier(x, labels, nClasses, complement(len(x), test), test, scores)
	}
	return summarize(classificationMetrics, scores, ScoringAccuracy, len(folds))
}

func (s *Scorer) scoreRegression(ctx context.Context, x []float64, target []any) (*Result, error) {
	y, err := regressionTarget(target)
	if err != nil {
		return nil, err
	}

	folds := kFold(len(x), s.cfg.Folds, s.cfg.Seed)
	scores := make(map[string][]float64, len(regressionMetrics))
	for _, test := range folds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.evalRegressor(x, y, complement(len(x), test), test, scores)
	}
	return summarize(regressionMetrics, scores, ScoringRMSE, len(folds))
}

func classLabels(target []any) ([]int, int, error) {
	labels, nClasses := encodeLabels(target)
	if nClasses < 2 {
		return nil, 0, core.Failf(core.KindInsufficientData, "target has %d distinct classes, need at least 2", nClasses)
	}
	return labels, nClasses, nil
}

func regressionTarget(target []any) ([]float64, error) {
	y := make([]float64, len(target))
	for i, v := range target {
		f, ok := toFloat(v)
		if !ok {
			return nil, core.Failf(core.KindInsufficientData, "regression target is not numeric at row %d", i)
		}
		y[i] = f
	}
	return y, nil
}

// evalClassifier fits a tree on the train rows and appends its metrics on
// the test rows to scores.
func (s *Scorer) evalClassifier(x []float64, labels []int, nClasses int, train, test []int, scores map[string][]float64) {
	rows := make([]sample, len(train))
	for i, r := range train {
		rows[i] = sample{x: x[r], class: labels[r]}
	}
	tree := fitClassifier(rows, nClasses, s.params())

	truth := make([]int, len(test))
	pred := make([]int, len(test))
	probs := make([][]float64, len(test))
	for i, r := range test {
		leaf := tree.find(x[r])
		truth[i] = labels[r]
		probs[i] = leaf.probs
		pred[i] = predictClass(leaf.probs)
	}
	precision, recall := precisionRecall(truth, pred, nClasses)
	scores[ScoringAccuracy] = append(scores[ScoringAccuracy], accuracy(truth, pred))
	scores[ScoringPrecision] = append(scores[ScoringPrecision], precision)
	scores[ScoringRecall] = append(scores[ScoringRecall], recall)
	scores[ScoringROCAUC] = append(scores[ScoringROCAUC], classAUC(truth, probs, nClasses))
}

// evalRegressor is evalClassifier for regression trees.
func (s *Scorer) evalRegressor(x, y []float64, train, test []int, scores map[string][]float64) {
	rows := make([]sample, len(train))
	for i, r := range train {
		rows[i] = sample{x: x[r], y: y[r]}
	}
	tree := fitRegressor(rows, s.params())

	truth := make([]float64, len(test))
	pred := make([]float64, len(test))
	for i, r := range test {
		truth[i] = y[r]
		pred[i] = tree.find(x[r]).mean
	}
	scores[ScoringRMSE] = append(scores[ScoringRMSE], rmse(truth, pred))
	scores[ScoringR2] = append(scores[ScoringR2], r2(truth, pred))
}

func summarize(defs []metricDef, scores map[string][]float64, primary string, folds int) (*Result, error) {
	res := &Result{Folds: folds}
	for _, def := range defs {
		m := core.Metric{Name: def.name, Scoring: def.scoring}
		if mean := nanMean(scores[def.scoring]); !math.IsNaN(mean) {
			m.Value = &mean
		}
		res.Metrics = append(res.Metrics, m)
	}
	score, ok := res.Metric(primary)
	if !ok {
		return nil, core.Failf(core.KindInsufficientData, "%s is undefined for every fold", primary)
	}
	res.Score = score
	return res, nil
}

// encodeLabels maps target values to 0..n-1 in the sorted order of their
// string form. Numeric targets sort numerically.
func encodeLabels(target []any) ([]int, int) {
	keys := make([]string, len(target))
	distinct := make(map[string]struct{})
	numeric := true
	for i, v := range target {
		keys[i] = labelKey(v)
		distinct[keys[i]] = struct{}{}
		if _, ok := toFloat(v); !ok {
			numeric = false
		}
	}

	sorted := make([]string, 0, len(distinct))
	for k := range distinct {
		sorted = append(sorted, k)
	}
	if numeric {
		sort.Slice(sorted, func(i, j int) bool {
			a, _ := strconv.ParseFloat(sorted[i], 64)
			b, _ := strconv.ParseFloat(sorted[j], 64)
			return a < b
		})
	} else {
		sort.Strings(sorted)
	}

	code := make(map[string]int, len(sorted))
	for i, k := range sorted {
		code[k] = i
	}
	labels := make([]int, len(target))
	for i, k := range keys {
		labels[i] = code[k]
	}
	return labels, len(sorted)
}

func labelKey(v any) string {
	switch val := v.(type) {
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		if val {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(val)
	}
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case int64:
		return float64(val), true
	case float64:
		return val, !math.IsNaN(val)
	case int:
		return float64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
