package scoring

import (
	"context"
	"fmt"

	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// Holdout trains a decision tree on the first n rows of col and reports its
// metrics on the remaining rows. Rows keep their dataset order, so the split
// is the same for every feature of a problem. The Result has Folds 1.
func (s *Scorer) Holdout(ctx context.Context, col core.Column, target []any, problemType core.ProblemType, n int) (*Result, error) {
	if err := checkColumn(col, target); err != nil {
		return nil, err
	}
	if n < 1 || n >= col.Len() {
		return nil, core.Failf(core.KindInsufficientData, "cannot hold out rows after the first %d of %d", n, col.Len())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	train := make([]int, n)
	for i := range train {
		train[i] = i
	}
	test := make([]int, col.Len()-n)
	for i := range test {
		test[i] = n + i
	}

	switch problemType {
	case core.ProblemClassification:
		labels, nClasses, err := classLabels(target)
		if err != nil {
			return nil, err
		}
		scores := make(map[string][]float64, len(classificationMetrics))
		s.evalClassifier(col.Values, labels, nClasses, train, test, scores)
		return summarize(classificationMetrics, scores, ScoringAccuracy, 1)
	case core.ProblemRegression:
		y, err := regressionTarget(target)
		if err != nil {
			return nil, err
		}
		scores := make(map[string][]float64, len(regressionMetrics))
		s.evalRegressor(col.Values, y, train, test, scores)
		return summarize(regressionMetrics, scores, ScoringRMSE, 1)
	default:
		return nil, fmt.Errorf("unknown problem type %q", problemType)
	}
}
