package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// DefaultTTL bounds how long a reservation stays live without being released.
const DefaultTTL = 5 * time.Minute

// Outcome is the result of a reservation attempt.
type Outcome int

// Reservation outcomes.
const (
	Acquired Outcome = iota
	AlreadyExists
	Busy
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case AlreadyExists:
		return "already_exists"
	case Busy:
		return "busy"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Lookup finds a stored feature by fingerprint. It returns core.ErrNotFound
// when there is none.
type Lookup interface {
	FindFeature(ctx context.Context, problemID int64, fingerprint string) (*core.Feature, error)
}

// Claim is the answer to Reserve. Exactly one of Reservation (Acquired) or
// Existing (AlreadyExists) is set, or neither (Busy).
type Claim struct {
	Outcome     Outcome
	Reservation *Reservation
	Existing    *core.Feature
}

type key struct {
	problemID int64
	hash      string
}

// record is a Description Record: the pending claim on a fingerprint.
type record struct {
	token       string
	description string
	expires     time.Time
	done        chan struct{} // closed on release or takeover
}

// Claims persists reservations so that gates in different processes sharing
// one ledger see each other's work.
type Claims interface {
	// ClaimFingerprint stores r unless a live reservation (expiring after now)
	// holds the fingerprint, and returns whichever reservation holds it
	// afterwards. A zero Token means the holder released in between.
	ClaimFingerprint(ctx context.Context, r core.Reservation, now time.Time) (core.Reservation, error)
	// ReleaseFingerprint deletes the reservation if token still holds it.
	ReleaseFingerprint(ctx context.Context, problemID int64, fingerprint, token string) error
}

// Gate serializes work on a fingerprint. Claims within one process are
// coordinated in memory; with a Claims store they are also recorded in the
// ledger so that other processes wait for them.
type Gate struct {
	lookup Lookup
	claims Claims
	ttl    time.Duration
	poll   time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	records map[key]*record
}

// DefaultPollInterval is how often a gate re-checks a reservation held by
// another process.
const DefaultPollInterval = 200 * time.Millisecond

// releaseTimeout bounds the ledger call made by Release.
const releaseTimeout = 5 * time.Second

// GateOptions configures a Gate.
type GateOptions struct {
	// TTL is the lifetime of a reservation. Zero means DefaultTTL.
	TTL time.Duration
	// Claims shares reservations through the ledger. Nil keeps them local.
	Claims Claims
	// PollInterval is the wait between checks of a remote reservation. Zero
	// means DefaultPollInterval.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// NewGate creates a Gate that consults lookup for stored features.
func NewGate(lookup Lookup, opts GateOptions) *Gate {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gate{
		lookup:  lookup,
		claims:  opts.Claims,
		ttl:     opts.TTL,
		poll:    opts.PollInterval,
		logger:  logger,
		records: make(map[key]*record),
	}
}

// Reserve claims hash for the problem. If a feature with the hash is already
// stored it reports AlreadyExists. If another live reservation holds the hash,
// in this process or in another one sharing the ledger, it waits up to
// timeout for it to be released or to expire, checking the ledger again after
// every wake-up, and reports Busy if it never frees up.
// Errors are ledger failures or the caller's cancellation.
func (g *Gate) Reserve(ctx context.Context, problemID int64, hash, description string, timeout time.Duration) (Claim, error) {
	k := key{problemID: problemID, hash: hash}
	deadline := time.Now().Add(timeout)

	for {
		existing, err := g.lookup.FindFeature(ctx, problemID, hash)
		switch {
		case err == nil:
			return Claim{Outcome: AlreadyExists, Existing: existing}, nil
		case !errors.Is(err, core.ErrNotFound):
			return Claim{}, fmt.Errorf("failed to look up fingerprint: %w", err)
		}

		g.mu.Lock()
		now := time.Now()
		rec, held := g.records[k]
		if held && now.Before(rec.expires) {
			done, expires := rec.done, rec.expires
			g.mu.Unlock()
			if !now.Before(deadline) {
				return Claim{Outcome: Busy}, nil
			}
			if err := g.wait(ctx, now, earliest(deadline, expires), done); err != nil {
				return Claim{}, err
			}
			continue
		}
		if held {
			g.logger.Warn("taking over expired reservation",
				slog.Int64("problem_id", problemID),
				slog.String("fingerprint", hash),
			)
			close(rec.done)
		}
		rec = &record{
			token:       uuid.NewString(),
			description: description,
			expires:     now.Add(g.ttl),
			done:        make(chan struct{}),
		}
		g.records[k] = rec
		g.mu.Unlock()

		if g.claims == nil {
			return Claim{Outcome: Acquired, Reservation: &Reservation{gate: g, key: k, token: rec.token}}, nil
		}

		holder, err := g.claims.ClaimFingerprint(ctx, core.Reservation{
			ProblemID:   problemID,
			Fingerprint: hash,
			Token:       rec.token,
			Description: description,
			ExpiresAt:   rec.expires,
		}, now)
		if err != nil {
			g.release(k, rec.token)
			return Claim{}, fmt.Errorf("failed to claim fingerprint: %w", err)
		}
		if holder.Token == rec.token {
			return Claim{Outcome: Acquired, Reservation: &Reservation{gate: g, key: k, token: rec.token}}, nil
		}

		// Held by another process. Local waiters poll the ledger too.
		g.release(k, rec.token)
		if holder.Token == "" {
			continue
		}
		g.logger.Debug("fingerprint reserved elsewhere",
			slog.Int64("problem_id", problemID),
			slog.String("fingerprint", hash),
			slog.Time("expires_at", holder.ExpiresAt),
		)
		if !now.Before(deadline) {
			return Claim{Outcome: Busy}, nil
		}
		wake := earliest(deadline, now.Add(g.poll))
		if !holder.ExpiresAt.IsZero() {
			wake = earliest(wake, holder.ExpiresAt)
		}
		if err := g.wait(ctx, now, wake, nil); err != nil {
			return Claim{}, err
		}
	}
}

// wait blocks until wake, until done is closed, or until ctx ends.
func (g *Gate) wait(ctx context.Context, now, wake time.Time, done <-chan struct{}) error {
	timer := time.NewTimer(wake.Sub(now))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	case <-timer.C:
	}
	return nil
}

func earliest(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

// Description returns the description of a pending reservation.
func (g *Gate) Description(problemID int64, hash string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.records[key{problemID: problemID, hash: hash}]
	if !ok || !time.Now().Before(rec.expires) {
		return "", false
	}
	return rec.description, true
}

// Pending returns the number of live reservations.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	n := 0
	for _, rec := range g.records {
		if now.Before(rec.expires) {
			n++
		}
	}
	return n
}

func (g *Gate) release(k key, token string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.records[k]
	if !ok || rec.token != token {
		return false
	}
	delete(g.records, k)
	close(rec.done)
	return true
}

// Reservation is an acquired claim on a fingerprint.
type Reservation struct {
	gate  *Gate
	key   key
	token string
	once  sync.Once
}

// Fingerprint returns the reserved hash.
func (r *Reservation) Fingerprint() string {
	return r.key.hash
}

// Release gives up the claim and wakes waiters. It is safe to call more than
// once and never releases a record that has since been taken over.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		g := r.gate
		if !g.release(r.key, r.token) {
			g.logger.Debug("reservation already taken over", slog.String("fingerprint", r.key.hash))
		}
		if g.claims == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := g.claims.ReleaseFingerprint(ctx, r.key.problemID, r.key.hash, r.token); err != nil {
			g.logger.Warn("failed to release reservation in ledger",
				slog.String("fingerprint", r.key.hash),
				slog.Any("error", err),
			)
		}
	})
}
