package scoring

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// Metric scoring identifiers.
const (
	ScoringAccuracy  = "accuracy"
	ScoringPrecision = "precision"
	ScoringRecall    = "recall"
	ScoringROCAUC    = "roc_auc"
	ScoringRMSE      = "root_mean_squared_error"
	ScoringR2        = "r2"
)

type metricDef struct {
	name    string
	scoring string
}

var classificationMetrics = []metricDef{
	{"Accuracy", ScoringAccuracy},
	{"Precision", ScoringPrecision},
	{"Recall", ScoringRecall},
	{"ROC AUC", ScoringROCAUC},
}

var regressionMetrics = []metricDef{
	{"Root Mean Squared Error", ScoringRMSE},
	{"R-squared", ScoringR2},
}

func accuracy(truth, pred []int) float64 {
	hit := 0
	for i := range truth {
		if truth[i] == pred[i] {
			hit++
		}
	}
	return float64(hit) / float64(len(truth))
}

// precisionRecall scores the positive class (the highest label) for binary
// problems and micro-averages over all classes otherwise. A ratio with an
// empty denominator is zero.
func precisionRecall(truth, pred []int, nClasses int) (precision, recall float64) {
	if nClasses != 2 {
		// micro averaging of single-label predictions reduces to accuracy
		a := accuracy(truth, pred)
		return a, a
	}
	const positive = 1
	var tp, fp, fn float64
	for i := range truth {
		switch {
		case pred[i] == positive && truth[i] == positive:
			tp++
		case pred[i] == positive:
			fp++
		case truth[i] == positive:
			fn++
		}
	}
	if tp+fp > 0 {
		precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		recall = tp / (tp + fn)
	}
	return precision, recall
}

// rocAUC computes the area under the ROC curve from positive-class scores.
// It is undefined (NaN) when only one class is present.
func rocAUC(positive []bool, score []float64) float64 {
	nPos := 0
	for _, p := range positive {
		if p {
			nPos++
		}
	}
	if nPos == 0 || nPos == len(positive) {
		return math.NaN()
	}
	y := slices.Clone(score)
	classes := slices.Clone(positive)
	stat.SortWeightedLabeled(y, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr)
}

// classAUC scores binary problems on the positive-class probability and
// multiclass problems with micro-averaged one-vs-rest.
func classAUC(truth []int, probs [][]float64, nClasses int) float64 {
	if nClasses == 2 {
		positive := make([]bool, len(truth))
		score := make([]float64, len(truth))
		for i := range truth {
			positive[i] = truth[i] == 1
			score[i] = probs[i][1]
		}
		return rocAUC(positive, score)
	}
	positive := make([]bool, 0, len(truth)*nClasses)
	score := make([]float64, 0, len(truth)*nClasses)
	for i := range truth {
		for c := 0; c < nClasses; c++ {
			positive = append(positive, truth[i] == c)
			score = append(score, probs[i][c])
		}
	}
	return rocAUC(positive, score)
}

func rmse(truth, pred []float64) float64 {
	return floats.Distance(truth, pred, 2) / math.Sqrt(float64(len(truth)))
}

// r2 is the coefficient of determination. It is undefined (NaN) for a constant target.
func r2(truth, pred []float64) float64 {
	if floats.Min(truth) == floats.Max(truth) {
		return math.NaN()
	}
	return stat.RSquaredFrom(pred, truth, nil)
}

// nanMean averages the defined values. It returns NaN when none is defined.
func nanMean(values []float64) float64 {
	defined := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			defined = append(defined, v)
		}
	}
	if len(defined) == 0 {
		return math.NaN()
	}
	return stat.Mean(defined, nil)
}
