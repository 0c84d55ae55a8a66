// Package state implements the Feature Ledger on SQL databases.
//
// SQLite (modernc.org/sqlite) serves single-host deployments and tests;
// PostgreSQL (pgx) serves shared deployments. Both enforce one feature per
// (problem, fingerprint) with a unique constraint and report violations as
// core.ErrDuplicateFingerprint.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// dialect captures the differences between the supported databases.
type dialect struct {
	name  string
	goose goose.Dialect
	// numbered placeholders ($1) instead of ?
	numbered bool
	// classify maps driver errors onto ledger errors; it returns nil when the
	// error has no special meaning.
	classify func(err error) error
	// timeArg converts a timestamp to a driver argument.
	timeArg func(t time.Time) any
}

// store is the database/sql implementation shared by both dialects.
type store struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

// Open connects to the ledger named by driver ("sqlite" or "postgres") and
// applies pending migrations.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (Ledger, error) {
	var (
		l   Ledger
		err error
	)
	switch driver {
	case "sqlite", "":
		l, err = OpenSQLite(ctx, dsn, logger)
	case "postgres", "pgx":
		l, err = OpenPostgres(ctx, dsn, logger)
	default:
		return nil, fmt.Errorf("unknown ledger driver %q (expected sqlite or postgres)", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := l.Migrate(ctx); err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}

// Ledger is a core.Ledger that can manage its own schema and share
// fingerprint reservations between processes.
type Ledger interface {
	core.Ledger
	ClaimFingerprint(ctx context.Context, r core.Reservation, now time.Time) (core.Reservation, error)
	ReleaseFingerprint(ctx context.Context, problemID int64, fingerprint, token string) error
	Migrate(ctx context.Context) error
	MigrationVersion(ctx context.Context) (int64, error)
	MigrationStatus(ctx context.Context) ([]MigrationStatus, error)
}

// Close closes the database connection.
func (s *store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// rebind rewrites ? placeholders for dialects that number them.
func (s *store) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// wrap classifies a driver error and adds context.
func (s *store) wrap(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	}
	if classified := s.dialect.classify(err); classified != nil {
		return fmt.Errorf("%s: %w", op, classified)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// errUnique is returned by dialect classifiers for unique violations.
var errUnique = errors.New("unique constraint violated")

func unavailable(err error) error {
	return core.Failf(core.KindUnavailable, "ledger is unavailable").Wrap(err)
}

// --- Problem operations ---

// CreateProblem stores a new problem and sets its ID.
func (s *store) CreateProblem(ctx context.Context, p *core.Problem) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO problems (name, problem_type, data_path, target_column, index_column, created_at)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		p.Name, string(p.Type), p.DataPath, p.TargetColumn, p.IndexColumn, s.dialect.timeArg(p.CreatedAt),
	).Scan(&p.ID)
	if err != nil {
		err = s.wrap("create problem", err)
		if errors.Is(err, errUnique) {
			return fmt.Errorf("problem %q: %w", p.Name, core.ErrExists)
		}
		return err
	}
	return nil
}

const problemColumns = `id, name, problem_type, data_path, target_column, index_column, created_at`

func scanProblem(row interface{ Scan(...any) error }) (*core.Problem, error) {
	p := &core.Problem{}
	var typ string
	var created timestamp
	if err := row.Scan(&p.ID, &p.Name, &typ, &p.DataPath, &p.TargetColumn, &p.IndexColumn, &created); err != nil {
		return nil, err
	}
	p.Type = core.ProblemType(typ)
	p.CreatedAt = created.Time
	return p, nil
}

// GetProblems lists all problems by name.
func (s *store) GetProblems(ctx context.Context) ([]*core.Problem, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+problemColumns+` FROM problems ORDER BY name`)
	if err != nil {
		return nil, s.wrap("get problems", err)
	}
	defer func() { _ = rows.Close() }()

	var problems []*core.Problem
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan problem: %w", err)
		}
		problems = append(problems, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating problems: %w", err)
	}
	return problems, nil
}

// GetProblem retrieves a problem by name.
func (s *store) GetProblem(ctx context.Context, name string) (*core.Problem, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	p, err := scanProblem(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+problemColumns+` FROM problems WHERE name = ?`), name))
	if err != nil {
		return nil, s.wrap(fmt.Sprintf("get problem %q", name), err)
	}
	return p, nil
}

// --- Contributor operations ---

// EnsureContributor returns the contributor with the given name, creating it if needed.
func (s *store) EnsureContributor(ctx context.Context, name string) (*core.Contributor, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if name == "" {
		return nil, fmt.Errorf("contributor name is required")
	}

	c, err := s.GetContributor(ctx, name)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	c = &core.Contributor{Name: name}
	err = s.db.QueryRowContext(ctx, s.rebind(`INSERT INTO users (name, created_at) VALUES (?, ?) RETURNING id`),
		name, s.dialect.timeArg(time.Now().UTC()),
	).Scan(&c.ID)
	if err != nil {
		err = s.wrap("create contributor", err)
		if errors.Is(err, errUnique) {
			// created concurrently
			return s.GetContributor(ctx, name)
		}
		return nil, err
	}
	return c, nil
}

// GetContributor retrieves a contributor by name.
func (s *store) GetContributor(ctx context.Context, name string) (*core.Contributor, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	c := &core.Contributor{}
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, name FROM users WHERE name = ?`), name).Scan(&c.ID, &c.Name)
	if err != nil {
		return nil, s.wrap(fmt.Sprintf("get contributor %q", name), err)
	}
	return c, nil
}

// --- Feature operations ---

const featureColumns = `f.id, f.user_id, f.problem_id, f.code, f.description, f.fingerprint, f.score, f.metrics, f.created_at, u.name`

const featureFrom = ` FROM features f JOIN users u ON u.id = f.user_id`

func scanFeature(row interface{ Scan(...any) error }) (*core.Feature, error) {
	f := &core.Feature{}
	var score sql.NullFloat64
	var metrics []byte
	var created timestamp
	if err := row.Scan(&f.ID, &f.ContributorID, &f.ProblemID, &f.Code, &f.Description, &f.Fingerprint,
		&score, &metrics, &created, &f.Contributor); err != nil {
		return nil, err
	}
	if score.Valid {
		v := score.Float64
		f.Score = &v
	}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &f.Metrics); err != nil {
			return nil, fmt.Errorf("failed to decode metrics of feature %d: %w", f.ID, err)
		}
	}
	f.CreatedAt = created.Time
	return f, nil
}

// GetFeatures lists features matching filter, oldest first.
func (s *store) GetFeatures(ctx context.Context, filter core.FeatureFilter) ([]*core.Feature, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	query := `SELECT ` + featureColumns + featureFrom
	var where []string
	var args []any
	if filter.ProblemID != 0 {
		where = append(where, "f.problem_id = ?")
		args = append(args, filter.ProblemID)
	}
	if filter.ContributorID != 0 {
		where = append(where, "f.user_id = ?")
		args = append(args, filter.ContributorID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY f.id"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, s.wrap("get features", err)
	}
	defer func() { _ = rows.Close() }()

	var features []*core.Feature
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feature: %w", err)
		}
		features = append(features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating features: %w", err)
	}
	return features, nil
}

// GetFeature retrieves a feature by ID.
func (s *store) GetFeature(ctx context.Context, id int64) (*core.Feature, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	f, err := scanFeature(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+featureColumns+featureFrom+` WHERE f.id = ?`), id))
	if err != nil {
		return nil, s.wrap(fmt.Sprintf("get feature %d", id), err)
	}
	return f, nil
}

// FindFeature retrieves the feature of a problem with the given fingerprint.
func (s *store) FindFeature(ctx context.Context, problemID int64, fingerprint string) (*core.Feature, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	f, err := scanFeature(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+featureColumns+featureFrom+` WHERE f.problem_id = ? AND f.fingerprint = ?`),
		problemID, fingerprint))
	if err != nil {
		return nil, s.wrap("find feature", err)
	}
	return f, nil
}

// InsertFeature stores a scored feature and sets its ID. A second feature
// with the same (problem, fingerprint) fails with core.ErrDuplicateFingerprint.
func (s *store) InsertFeature(ctx context.Context, f *core.Feature) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	metrics, err := json.Marshal(f.Metrics)
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}
	if f.Metrics == nil {
		metrics = []byte("[]")
	}
	var score any
	if f.Score != nil {
		score = *f.Score
	}

	err = s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO features (user_id, problem_id, code, description, fingerprint, score, metrics, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		f.ContributorID, f.ProblemID, f.Code, f.Description, f.Fingerprint, score, string(metrics), s.dialect.timeArg(f.CreatedAt),
	).Scan(&f.ID)
	if err != nil {
		err = s.wrap("insert feature", err)
		if errors.Is(err, errUnique) {
			return core.Failf(core.KindDuplicateFingerprint, "a feature with fingerprint %s already exists for this problem", shortHash(f.Fingerprint)).Wrap(err)
		}
		return err
	}
	return nil
}

// DeleteFeature removes a feature. It is an administrative operation.
func (s *store) DeleteFeature(ctx context.Context, id int64) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM features WHERE id = ?`), id)
	if err != nil {
		return s.wrap(fmt.Sprintf("delete feature %d", id), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete feature %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete feature %d: %w", id, core.ErrNotFound)
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// timestamp scans times stored natively or as text.
type timestamp struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
}

func (t *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case int64:
		t.Time = time.Unix(v, 0).UTC()
		return nil
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
}

func (t *timestamp) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("cannot parse timestamp %q", s)
}
