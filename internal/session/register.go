package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HDI-Project/FeatureFactory/internal/fingerprint"
	"github.com/HDI-Project/FeatureFactory/internal/scoring"
	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// Operation names reported to the Observer.
const (
	OpRegister      = "register"
	OpCrossValidate = "cross_validate"
	OpHoldout       = "holdout"
)

// Outcomes reported to the Observer besides failure kinds.
const (
	OutcomePersisted = "persisted"
	OutcomeExisting  = "existing"
	OutcomeScored    = "scored"
	OutcomeAborted   = "aborted"
	OutcomeError     = "error"
)

// RegisterFeature fingerprints code, executes it, scores the column and
// stores the feature. Identical code already registered for the problem
// resolves to the stored feature without running it again.
//
// The returned Submission is never nil. On failure its Err is also returned;
// it is a *core.Failure unless the caller cancelled ctx or an infrastructure
// component broke.
func (s *Session) RegisterFeature(ctx context.Context, code, description string) (*Submission, error) {
	sub := newSubmission(s.problem.Name, s.contributor.Name, description)
	log := s.logger.With("submission", sub.ID.String())

	if strings.TrimSpace(code) == "" {
		return s.fail(sub, OpRegister, core.Failf(core.KindUserError, "feature code is empty"))
	}
	sub.Fingerprint = fingerprint.Fingerprint(code)

	s.enter(sub, StageDeduping)
	claim, err := s.c.gate.Reserve(ctx, s.problem.ID, sub.Fingerprint, description, s.c.dedupTimeout)
	if err != nil {
		return s.fail(sub, OpRegister, err)
	}
	switch claim.Outcome {
	case fingerprint.AlreadyExists:
		sub.Existing = true
		sub.Feature = claim.Existing
		s.enter(sub, StagePersisted)
		s.c.observer.ObserveSubmission(OpRegister, OutcomeExisting)
		log.Info("feature already registered", "feature_id", claim.Existing.ID, "fingerprint", shortHash(sub.Fingerprint))
		return sub, nil
	case fingerprint.Busy:
		return s.fail(sub, OpRegister, core.Failf(core.KindBusy,
			"identical code is being scored by another session; retry later"))
	}
	defer claim.Reservation.Release()

	s.enter(sub, StageExecuting)
	ds, err := s.dataset(ctx)
	if err != nil {
		return s.fail(sub, OpRegister, err)
	}
	execResult, err := s.c.executor.Execute(ctx, code, ds)
	if err != nil {
		var f *core.Failure
		if errors.As(err, &f) {
			sub.Attempts = f.Attempts
		}
		return s.fail(sub, OpRegister, err)
	}
	sub.Attempts = execResult.Attempts

	s.enter(sub, StageScoring)
	result, err := s.c.scorer.Score(ctx, execResult.Column, ds.Target, s.problem.Type)
	if err != nil {
		return s.fail(sub, OpRegister, err)
	}
	sub.Result = result

	score := result.Score
	feature := &core.Feature{
		ContributorID: s.contributor.ID,
		ProblemID:     s.problem.ID,
		Code:          code,
		Description:   description,
		Fingerprint:   sub.Fingerprint,
		Score:         &score,
		Metrics:       result.Metrics,
		Contributor:   s.contributor.Name,
	}
	if err := s.c.ledger.InsertFeature(ctx, feature); err != nil {
		return s.fail(sub, OpRegister, err)
	}
	sub.Feature = feature

	s.enter(sub, StagePersisted)
	s.c.observer.ObserveSubmission(OpRegister, OutcomePersisted)
	s.c.observer.ObserveScore(s.problem.Name, score)
	log.Info("feature registered",
		"feature_id", feature.ID,
		"fingerprint", shortHash(sub.Fingerprint),
		"score", score,
		"attempts", sub.Attempts,
		"elapsed", time.Since(sub.Trail[0].At),
	)
	return sub, nil
}

// CrossValidate executes and scores code without reserving its fingerprint
// or storing anything.
func (s *Session) CrossValidate(ctx context.Context, code string) (*scoring.Result, error) {
	return s.evaluate(ctx, OpCrossValidate, code, func(col core.Column, ds *core.Dataset) (*scoring.Result, error) {
		return s.c.scorer.Score(ctx, col, ds.Target, s.problem.Type)
	})
}

// Holdout executes code and scores it trained on the first trainRows rows of
// the dataset and tested on the rest. Nothing is stored.
func (s *Session) Holdout(ctx context.Context, code string, trainRows int) (*scoring.Result, error) {
	return s.evaluate(ctx, OpHoldout, code, func(col core.Column, ds *core.Dataset) (*scoring.Result, error) {
		return s.c.scorer.Holdout(ctx, col, ds.Target, s.problem.Type, trainRows)
	})
}

type scoreFunc func(col core.Column, ds *core.Dataset) (*scoring.Result, error)

func (s *Session) evaluate(ctx context.Context, op, code string, score scoreFunc) (*scoring.Result, error) {
	result, err := s.runAndScore(ctx, code, score)
	if err != nil {
		s.c.observer.ObserveSubmission(op, outcomeOf(err))
		return nil, err
	}
	s.c.observer.ObserveSubmission(op, OutcomeScored)
	return result, nil
}

func (s *Session) runAndScore(ctx context.Context, code string, score scoreFunc) (*scoring.Result, error) {
	if strings.TrimSpace(code) == "" {
		return nil, core.Failf(core.KindUserError, "feature code is empty")
	}
	ds, err := s.dataset(ctx)
	if err != nil {
		return nil, err
	}
	execResult, err := s.c.executor.Execute(ctx, code, ds)
	if err != nil {
		return nil, err
	}
	return score(execResult.Column, ds)
}

func (s *Session) dataset(ctx context.Context) (*core.Dataset, error) {
	ds, err := s.c.datasets.Dataset(ctx, s.problem, s.c.sampleSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset for %s: %w", s.problem.Name, err)
	}
	return ds, nil
}

func (s *Session) enter(sub *Submission, next Stage) {
	prev, d := sub.advance(next)
	s.c.observer.ObserveStage(string(prev), d)
}

func (s *Session) fail(sub *Submission, op string, err error) (*Submission, error) {
	sub.Err = err
	failedIn := sub.Stage()
	s.enter(sub, StageFailed)

	outcome := outcomeOf(err)
	s.c.observer.ObserveSubmission(op, outcome)
	s.logger.Info("feature submission failed",
		"submission", sub.ID.String(),
		"stage", string(failedIn),
		"outcome", outcome,
		"error", err,
	)
	return sub, err
}

func outcomeOf(err error) string {
	if kind := core.KindOf(err); kind != "" {
		return string(kind)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return OutcomeAborted
	}
	return OutcomeError
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
