package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFailure_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("register: %w", Failf(KindTimeout, "attempt exceeded %s", "10s"))

	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, errors.Is(err, ErrUserError))
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestFailure_Error(t *testing.T) {
	f := Failf(KindUserError, "column has %d rows, dataset has %d", 3, 4).WithDetail("boom")
	assert.Equal(t, "user_error: column has 3 rows, dataset has 4: boom", f.Error())

	f = Failf(KindTimeout, "attempt exceeded 1s")
	f.Attempts = 3
	assert.Equal(t, "timeout: attempt exceeded 1s (after 3 attempts)", f.Error())
}

func TestFailure_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Failf(KindUnavailable, "ledger unreachable").Wrap(cause)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestKind_CategoryAndTransient(t *testing.T) {
	tests := []struct {
		kind      Kind
		category  Category
		transient bool
	}{
		{KindTimeout, CategoryExecution, true},
		{KindResourceExhausted, CategoryExecution, true},
		{KindUserError, CategoryExecution, false},
		{KindBusy, CategoryDeduplication, false},
		{KindAlreadyExists, CategoryDeduplication, false},
		{KindInvalidColumn, CategoryScoring, false},
		{KindInsufficientData, CategoryScoring, false},
		{KindDuplicateFingerprint, CategoryPersistence, false},
		{KindUnavailable, CategoryPersistence, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.category, tt.kind.Category())
			assert.Equal(t, tt.transient, tt.kind.Transient())
		})
	}
}

func TestProblem_Validate(t *testing.T) {
	valid := Problem{Name: "titanic", Type: ProblemClassification, DataPath: "titanic.csv", TargetColumn: "survived", IndexColumn: "passenger_id"}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(p *Problem)
		errMsg string
	}{
		{"missing name", func(p *Problem) { p.Name = "" }, "name is required"},
		{"bad type", func(p *Problem) { p.Type = "ranking" }, "unknown problem type"},
		{"missing data", func(p *Problem) { p.DataPath = "" }, "data path is required"},
		{"missing target", func(p *Problem) { p.TargetColumn = "" }, "target column is required"},
		{"index is target", func(p *Problem) { p.IndexColumn = "survived" }, "cannot be the target"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := p.Validate()
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.errMsg)
			}
		})
	}
}

func TestDataset_Check(t *testing.T) {
	ds := &Dataset{
		Problem: "p",
		Columns: []string{"a"},
		Index:   []string{"1", "2"},
		Cells:   map[string][]any{"a": {int64(1), int64(2)}},
		Target:  []any{int64(0), int64(1)},
	}
	assert.NoError(t, ds.Check())
	assert.Equal(t, 2, ds.NumRows())

	ds.Cells["a"] = ds.Cells["a"][:1]
	assert.ErrorContains(t, ds.Check(), `column "a" has 1 rows`)
}

func TestColumn_Missing(t *testing.T) {
	c := Column{Values: []float64{1, 0, 3}, Valid: []bool{true, false, true}}
	assert.Equal(t, 1, c.Missing())
	assert.Equal(t, 3, c.Len())

	c.Valid[1] = true
	assert.Equal(t, -1, c.Missing())
}
