package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/HDI-Project/FeatureFactory/internal/scoring"
	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// Stage is a step of the submission state machine.
type Stage string

// Submission stages. Persisted and Failed are terminal.
const (
	StageSubmitted Stage = "submitted"
	StageDeduping  Stage = "deduping"
	StageExecuting Stage = "executing"
	StageScoring   Stage = "scoring"
	StagePersisted Stage = "persisted"
	StageFailed    Stage = "failed"
)

// Terminal reports whether no further stage can follow s.
func (s Stage) Terminal() bool {
	return s == StagePersisted || s == StageFailed
}

// Transition records entry into a stage.
type Transition struct {
	Stage Stage
	At    time.Time
}

// Submission tracks one register_feature call from submission to its
// terminal stage.
type Submission struct {
	ID          uuid.UUID
	Problem     string
	Contributor string
	Fingerprint string
	Description string

	// Trail lists the stages entered, in order.
	Trail []Transition

	// Feature is the persisted row, or the stored one when Existing is set.
	Feature *core.Feature
	// Existing is set when identical code was already registered; no new
	// row was written.
	Existing bool
	// Result holds the full metric breakdown of a fresh scoring.
	Result *scoring.Result
	// Attempts is the number of execution attempts consumed.
	Attempts int
	// Err is the failure that ended the submission.
	Err error
}

func newSubmission(problem, contributor, description string) *Submission {
	sub := &Submission{
		ID:          uuid.New(),
		Problem:     problem,
		Contributor: contributor,
		Description: description,
	}
	sub.Trail = append(sub.Trail, Transition{Stage: StageSubmitted, At: time.Now()})
	return sub
}

// Stage returns the current stage.
func (s *Submission) Stage() Stage {
	return s.Trail[len(s.Trail)-1].Stage
}

// Stages returns the stage names of the trail.
func (s *Submission) Stages() []Stage {
	out := make([]Stage, len(s.Trail))
	for i, t := range s.Trail {
		out[i] = t.Stage
	}
	return out
}

// Score returns the feature's primary score, or nil if there is none.
func (s *Submission) Score() *float64 {
	if s.Feature == nil {
		return nil
	}
	return s.Feature.Score
}

// advance enters next and returns how long the previous stage lasted.
func (s *Submission) advance(next Stage) (Stage, time.Duration) {
	now := time.Now()
	prev := s.Trail[len(s.Trail)-1]
	s.Trail = append(s.Trail, Transition{Stage: next, At: now})
	return prev.Stage, now.Sub(prev.At)
}
