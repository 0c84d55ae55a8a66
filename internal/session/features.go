package session

import (
	"context"
	"fmt"

	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// DiscoverFeatures lists the problem's features. The source of features by
// other contributors is redacted unless the viewer is an administrator.
func (s *Session) DiscoverFeatures(ctx context.Context) ([]core.FeatureView, error) {
	features, err := s.c.ledger.GetFeatures(ctx, core.FeatureFilter{ProblemID: s.problem.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to list features: %w", err)
	}
	return s.views(features), nil
}

// MyFeatures lists the contributor's own features for the problem.
func (s *Session) MyFeatures(ctx context.Context) ([]core.FeatureView, error) {
	features, err := s.c.ledger.GetFeatures(ctx, core.FeatureFilter{
		ProblemID:     s.problem.ID,
		ContributorID: s.contributor.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list features: %w", err)
	}
	return s.views(features), nil
}

// SampleDataset returns up to n rows of the problem's dataset for local
// exploration. n <= 0 returns every row.
func (s *Session) SampleDataset(ctx context.Context, n int) (*core.Dataset, error) {
	ds, err := s.c.datasets.Dataset(ctx, s.problem, n)
	if err != nil {
		return nil, fmt.Errorf("failed to sample dataset for %s: %w", s.problem.Name, err)
	}
	return ds, nil
}

func (s *Session) views(features []*core.Feature) []core.FeatureView {
	admin := s.Admin()
	out := make([]core.FeatureView, 0, len(features))
	for _, f := range features {
		out = append(out, View(f, admin || f.ContributorID == s.contributor.ID))
	}
	return out
}

// View presents f, including its source only when showCode is set.
func View(f *core.Feature, showCode bool) core.FeatureView {
	v := core.FeatureView{
		ID:          f.ID,
		Contributor: f.Contributor,
		Description: f.Description,
		Fingerprint: f.Fingerprint,
		Score:       f.Score,
		Metrics:     f.Metrics,
		CreatedAt:   f.CreatedAt,
	}
	if showCode {
		v.Code = f.Code
	} else {
		v.Redacted = true
	}
	return v
}
