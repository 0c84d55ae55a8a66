package core

import (
	"fmt"
	"time"
)

// ProblemType is the kind of prediction task a problem poses.
type ProblemType string

// Problem type constants.
const (
	ProblemClassification ProblemType = "classification"
	ProblemRegression     ProblemType = "regression"
)

// ParseProblemType converts a string into a ProblemType.
func ParseProblemType(s string) (ProblemType, error) {
	switch ProblemType(s) {
	case ProblemClassification, ProblemRegression:
		return ProblemType(s), nil
	default:
		return "", fmt.Errorf("unknown problem type %q (expected classification or regression)", s)
	}
}

// Problem identifies a prediction task.
// Immutable after creation.
type Problem struct {
	ID           int64
	Name         string
	Type         ProblemType
	DataPath     string // CSV or Parquet file holding the raw dataset
	TargetColumn string // y column
	IndexColumn  string // row key used to align feature columns; empty means row ordinal
	CreatedAt    time.Time
}

// Validate checks the problem definition before it is stored.
func (p *Problem) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("problem name is required")
	}
	if _, err := ParseProblemType(string(p.Type)); err != nil {
		return err
	}
	if p.DataPath == "" {
		return fmt.Errorf("problem %q: data path is required", p.Name)
	}
	if p.TargetColumn == "" {
		return fmt.Errorf("problem %q: target column is required", p.Name)
	}
	if p.IndexColumn != "" && p.IndexColumn == p.TargetColumn {
		return fmt.Errorf("problem %q: index column cannot be the target column", p.Name)
	}
	return nil
}

// Contributor identifies a person submitting features.
type Contributor struct {
	ID   int64
	Name string
}

// Feature is a scored submission. Features are append-only.
type Feature struct {
	ID            int64
	ContributorID int64
	ProblemID     int64
	Code          string
	Description   string
	Fingerprint   string
	Score         *float64 // nil until scoring succeeds
	Metrics       []Metric
	CreatedAt     time.Time

	// Contributor is the author's name, filled in by listing queries.
	Contributor string
}

// Reservation is a pending claim on a fingerprint, held while the feature
// that produced it is executed and scored.
type Reservation struct {
	ProblemID   int64
	Fingerprint string
	Token       string
	Description string
	ExpiresAt   time.Time
}

// Metric is one named evaluation of a feature.
// Value is nil when the metric is undefined for the data (e.g. ROC AUC on one class).
type Metric struct {
	Name    string   `json:"name"`
	Scoring string   `json:"scoring"`
	Value   *float64 `json:"value"`
}

// FeatureFilter narrows GetFeatures. Zero values mean "any".
type FeatureFilter struct {
	ProblemID     int64
	ContributorID int64
}

// FeatureView is a feature as shown to a given viewer.
// Code is empty when the viewer may not read the source.
type FeatureView struct {
	ID          int64
	Contributor string
	Description string
	Fingerprint string
	Score       *float64
	Metrics     []Metric
	Code        string
	Redacted    bool
	CreatedAt   time.Time
}
