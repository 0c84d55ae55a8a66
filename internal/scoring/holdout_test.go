package scoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

func TestHoldout_Classification(t *testing.T) {
	x, y := binaryTarget(40)
	res, err := New(DefaultConfig()).Holdout(context.Background(), column(x...), y, core.ProblemClassification, 30)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Folds)
	assert.InDelta(t, 1.0, res.Score, 1e-9)
	assert.InDelta(t, 1.0, metricValue(t, res, ScoringROCAUC), 1e-9)
	assert.Len(t, res.Metrics, len(classificationMetrics))
}

func TestHoldout_ScoresOnlyRowsAfterN(t *testing.T) {
	// the relation flips after row 20, so a tree fit on the first 20 rows
	// gets every held out row wrong
	x, y := binaryTarget(30)
	for i := 20; i < 30; i++ {
		x[i] = 1 - x[i]
	}
	res, err := New(DefaultConfig()).Holdout(context.Background(), column(x...), y, core.ProblemClassification, 20)
	require.NoError(t, err)

	assert.InDelta(t, 0.0, res.Score, 1e-9)
	assert.InDelta(t, 0.0, metricValue(t, res, ScoringROCAUC), 1e-9)
}

func TestHoldout_Regression(t *testing.T) {
	n := 100
	x := make([]float64, n)
	y := make([]any, n)
	for i := range n {
		x[i] = float64(i % 10)
		y[i] = 2 * x[i]
	}
	res, err := New(DefaultConfig()).Holdout(context.Background(), column(x...), y, core.ProblemRegression, 80)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Folds)
	assert.InDelta(t, 0.0, res.Score, 1e-9)
	assert.Equal(t, res.Score, metricValue(t, res, ScoringRMSE))
	assert.InDelta(t, 1.0, metricValue(t, res, ScoringR2), 1e-9)
}

func TestHoldout_Failures(t *testing.T) {
	x, y := binaryTarget(10)
	oneClass := make([]any, 10)
	for i := range oneClass {
		oneClass[i] = int64(1)
	}
	missing := column(x...)
	missing.Valid = append([]bool(nil), missing.Valid...)
	missing.Valid[3] = false

	tests := []struct {
		name   string
		col    core.Column
		target []any
		n      int
		kind   core.Kind
	}{
		{name: "no training rows", col: column(x...), target: y, n: 0, kind: core.KindInsufficientData},
		{name: "no test rows", col: column(x...), target: y, n: 10, kind: core.KindInsufficientData},
		{name: "negative split", col: column(x...), target: y, n: -1, kind: core.KindInsufficientData},
		{name: "one class", col: column(x...), target: oneClass, n: 5, kind: core.KindInsufficientData},
		{name: "missing value", col: missing, target: y, n: 5, kind: core.KindInvalidColumn},
		{name: "length mismatch", col: column(x[:9]...), target: y, n: 5, kind: core.KindInvalidColumn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(DefaultConfig()).Holdout(context.Background(), tt.col, tt.target, core.ProblemClassification, tt.n)
			require.Error(t, err)
			assert.Equal(t, tt.kind, core.KindOf(err))
		})
	}
}
