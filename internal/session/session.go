// Package session coordinates feature submissions for a contributor working
// on a problem.
//
// A submission moves through deduplication, execution, scoring and
// persistence strictly in sequence. The fingerprint gate guarantees at most
// one in-flight scoring per (problem, fingerprint); the ledger's unique
// constraint backs it across processes.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/HDI-Project/FeatureFactory/internal/dataset"
	"github.com/HDI-Project/FeatureFactory/internal/executor"
	"github.com/HDI-Project/FeatureFactory/internal/fingerprint"
	"github.com/HDI-Project/FeatureFactory/internal/scoring"
	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// DefaultDedupTimeout is how long a submission waits for another session
// holding the same fingerprint.
const DefaultDedupTimeout = 30 * time.Second

// Observer receives submission events, typically to feed metrics.
type Observer interface {
	ObserveSubmission(operation, outcome string)
	ObserveStage(stage string, d time.Duration)
	ObserveScore(problem string, score float64)
}

type nopObserver struct{}

func (nopObserver) ObserveSubmission(string, string)   {}
func (nopObserver) ObserveStage(string, time.Duration) {}
func (nopObserver) ObserveScore(string, float64)       {}

// Config holds the coordinator's collaborators and settings.
type Config struct {
	Ledger   core.Ledger
	Datasets dataset.Provider
	Executor *executor.Executor
	Scorer   *scoring.Scorer
	// Gate is created over Ledger when nil. It shares reservations through
	// the ledger when Ledger implements fingerprint.Claims.
	Gate *fingerprint.Gate

	// DedupTimeout bounds the wait on a fingerprint held by another session.
	DedupTimeout time.Duration
	// SampleSize limits the rows features are executed and scored on.
	// Zero means the full dataset.
	SampleSize int
	// Admins may read the source of every feature.
	Admins []string

	Observer Observer
	Logger   *slog.Logger
}

// Coordinator owns the collaborators shared by every session.
type Coordinator struct {
	ledger   core.Ledger
	datasets dataset.Provider
	executor *executor.Executor
	scorer   *scoring.Scorer
	gate     *fingerprint.Gate

	dedupTimeout time.Duration
	sampleSize   int
	admins       map[string]bool

	observer Observer
	logger   *slog.Logger
}

// New creates a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("session: ledger is required")
	}
	if cfg.Datasets == nil {
		return nil, fmt.Errorf("session: dataset provider is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("session: executor is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	scorer := cfg.Scorer
	if scorer == nil {
		scorer = scoring.New(scoring.DefaultConfig())
	}
	gate := cfg.Gate
	if gate == nil {
		opts := fingerprint.GateOptions{Logger: logger}
		if claims, ok := cfg.Ledger.(fingerprint.Claims); ok {
			opts.Claims = claims
		}
		gate = fingerprint.NewGate(cfg.Ledger, opts)
	}
	timeout := cfg.DedupTimeout
	if timeout <= 0 {
		timeout = DefaultDedupTimeout
	}
	var observer Observer = nopObserver{}
	if cfg.Observer != nil {
		observer = cfg.Observer
	}

	admins := make(map[string]bool, len(cfg.Admins))
	for _, name := range cfg.Admins {
		admins[name] = true
	}

	return &Coordinator{
		ledger:       cfg.Ledger,
		datasets:     cfg.Datasets,
		executor:     cfg.Executor,
		scorer:       scorer,
		gate:         gate,
		dedupTimeout: timeout,
		sampleSize:   cfg.SampleSize,
		admins:       admins,
		observer:     observer,
		logger:       logger,
	}, nil
}

// Gate returns the fingerprint gate.
func (c *Coordinator) Gate() *fingerprint.Gate {
	return c.gate
}

// Ledger returns the feature ledger.
func (c *Coordinator) Ledger() core.Ledger {
	return c.ledger
}

// IsAdmin reports whether name may read every feature's source.
func (c *Coordinator) IsAdmin(name string) bool {
	return c.admins[name]
}

// Open binds contributor to the named problem, creating the contributor on
// first use. It returns core.ErrNotFound if the problem does not exist.
func (c *Coordinator) Open(ctx context.Context, contributor, problem string) (*Session, error) {
	if contributor == "" {
		return nil, fmt.Errorf("contributor name is required")
	}
	p, err := c.ledger.GetProblem(ctx, problem)
	if err != nil {
		return nil, fmt.Errorf("failed to open problem %s: %w", problem, err)
	}
	u, err := c.ledger.EnsureContributor(ctx, contributor)
	if err != nil {
		return nil, fmt.Errorf("failed to register contributor %s: %w", contributor, err)
	}

	c.logger.Debug("session opened", "contributor", u.Name, "problem", p.Name)
	return &Session{
		c:           c,
		contributor: u,
		problem:     p,
		logger:      c.logger.With("contributor", u.Name, "problem", p.Name),
	}, nil
}

// Session is one contributor working on one problem. A Session is safe for
// concurrent use; each call drives its own submission.
type Session struct {
	c           *Coordinator
	contributor *core.Contributor
	problem     *core.Problem
	logger      *slog.Logger
}

// Problem returns the bound problem.
func (s *Session) Problem() *core.Problem {
	return s.problem
}

// Contributor returns the bound contributor.
func (s *Session) Contributor() *core.Contributor {
	return s.contributor
}

// Admin reports whether the contributor is an administrator.
func (s *Session) Admin() bool {
	return s.c.IsAdmin(s.contributor.Name)
}
