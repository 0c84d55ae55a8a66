package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// ClaimFingerprint stores r unless a reservation expiring after now already
// holds its fingerprint, then returns the reservation that holds it. The
// caller owns the fingerprint when the returned token equals r.Token.
// Expiry is stored as Unix nanoseconds so both dialects compare it alike.
func (s *store) ClaimFingerprint(ctx context.Context, r core.Reservation, now time.Time) (core.Reservation, error) {
	if s.db == nil {
		return core.Reservation{}, fmt.Errorf("database not opened")
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO reservations (problem_id, fingerprint, token, description, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (problem_id, fingerprint) DO UPDATE
		 SET token = excluded.token, description = excluded.description, expires_at = excluded.expires_at
		 WHERE reservations.expires_at <= ?`),
		r.ProblemID, r.Fingerprint, r.Token, r.Description, r.ExpiresAt.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return core.Reservation{}, s.wrap("claim fingerprint", err)
	}

	holder := core.Reservation{ProblemID: r.ProblemID, Fingerprint: r.Fingerprint}
	var expires int64
	err = s.db.QueryRowContext(ctx, s.rebind(
		`SELECT token, description, expires_at FROM reservations WHERE problem_id = ? AND fingerprint = ?`),
		r.ProblemID, r.Fingerprint,
	).Scan(&holder.Token, &holder.Description, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		// released between the two statements
		return core.Reservation{ProblemID: r.ProblemID, Fingerprint: r.Fingerprint}, nil
	}
	if err != nil {
		return core.Reservation{}, s.wrap("read reservation", err)
	}
	holder.ExpiresAt = time.Unix(0, expires).UTC()
	return holder, nil
}

// ReleaseFingerprint deletes the reservation on fingerprint if token still
// holds it. Releasing a reservation that was taken over is a no-op.
func (s *store) ReleaseFingerprint(ctx context.Context, problemID int64, fingerprint, token string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM reservations WHERE problem_id = ? AND fingerprint = ? AND token = ?`),
		problemID, fingerprint, token,
	)
	if err != nil {
		return s.wrap("release fingerprint", err)
	}
	return nil
}
