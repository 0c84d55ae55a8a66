package core

import "context"

// Ledger is the durable store of problems, contributors and scored features.
// Implementations must enforce that (problem, fingerprint) is unique and
// report a violation as ErrDuplicateFingerprint instead of overwriting.
type Ledger interface {
	Close() error

	// Problem operations
	CreateProblem(ctx context.Context, p *Problem) error
	GetProblems(ctx context.Context) ([]*Problem, error)
	GetProblem(ctx context.Context, name string) (*Problem, error)

	// Contributor operations
	EnsureContributor(ctx context.Context, name string) (*Contributor, error)
	GetContributor(ctx context.Context, name string) (*Contributor, error)

	// Feature operations
	GetFeatures(ctx context.Context, filter FeatureFilter) ([]*Feature, error)
	GetFeature(ctx context.Context, id int64) (*Feature, error)
	FindFeature(ctx context.Context, problemID int64, fingerprint string) (*Feature, error)
	InsertFeature(ctx context.Context, f *Feature) error
	DeleteFeature(ctx context.Context, id int64) error
}
