package state

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"regexp"
	"syscall"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgresStore(db, nil), mock
}

func TestClassifyPostgres(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		unique bool
		kind   core.Kind
	}{
		{name: "unique violation", err: &pgconn.PgError{Code: pgerrcode.UniqueViolation}, unique: true},
		{name: "admin shutdown", err: &pgconn.PgError{Code: pgerrcode.AdminShutdown}, kind: core.KindUnavailable},
		{name: "too many connections", err: &pgconn.PgError{Code: pgerrcode.TooManyConnections}, kind: core.KindUnavailable},
		{name: "bad connection", err: fmt.Errorf("query: %w", driver.ErrBadConn), kind: core.KindUnavailable},
		{name: "network error", err: &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, kind: core.KindUnavailable},
		{name: "syntax error", err: &pgconn.PgError{Code: pgerrcode.SyntaxError}},
		{name: "other", err: errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyPostgres(tt.err)
			switch {
			case tt.unique:
				assert.ErrorIs(t, got, errUnique)
			case tt.kind != "":
				require.Error(t, got)
				assert.Equal(t, tt.kind, core.KindOf(got))
			default:
				assert.NoError(t, got)
			}
		})
	}
}

func TestPostgresStore_Rebind(t *testing.T) {
	s := NewPostgresStore(nil, nil)
	assert.Equal(t, "SELECT 1 FROM t WHERE a = $1 AND b = $2", s.rebind("SELECT 1 FROM t WHERE a = ? AND b = ?"))

	lite := &store{dialect: sqliteDialect}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestPostgresStore_InsertFeature(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		kind      core.Kind
		wantID    int64
	}{
		{
			name: "inserted",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO features")).
					WithArgs(int64(2), int64(1), "code", "desc", "abc", 0.5, `[{"name":"Accuracy","scoring":"accuracy","value":0.5}]`, sqlmock.AnyArg()).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
			},
			wantID: 7,
		},
		{
			name: "unique violation",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO features")).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, Message: "duplicate key"})
			},
			kind: core.KindDuplicateFingerprint,
		},
		{
			name: "connection lost",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO features")).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.AdminShutdown})
			},
			kind: core.KindUnavailable,
		},
		{
			// database/sql retries driver.ErrBadConn on a fresh connection,
			// so a connection dropped mid-query surfaces as a network error
			name: "connection reset",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO features")).
					WillReturnError(&net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET})
			},
			kind: core.KindUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			tt.setupMock(mock)

			v := 0.5
			f := &core.Feature{
				ContributorID: 2,
				ProblemID:     1,
				Code:          "code",
				Description:   "desc",
				Fingerprint:   "abc",
				Score:         &v,
				Metrics:       []core.Metric{{Name: "Accuracy", Scoring: "accuracy", Value: &v}},
			}
			err := s.InsertFeature(context.Background(), f)
			if tt.kind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.kind, core.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, f.ID)
		})
	}
}

func TestPostgresStore_FindFeature(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE f.problem_id = $1 AND f.fingerprint = $2")).
		WithArgs(int64(1), "abc").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "problem_id", "code", "description", "fingerprint", "score", "metrics", "created_at", "name"}).
			AddRow(int64(3), int64(2), int64(1), "code", "desc", "abc", 0.9, []byte(`[{"name":"Accuracy","scoring":"accuracy","value":0.9}]`), created, "ada"))

	mock.ExpectQuery(regexp.QuoteMeta("WHERE f.problem_id = $1 AND f.fingerprint = $2")).
		WithArgs(int64(1), "zzz").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	f, err := s.FindFeature(context.Background(), 1, "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(3), f.ID)
	assert.Equal(t, "ada", f.Contributor)
	assert.Equal(t, created, f.CreatedAt)
	require.Len(t, f.Metrics, 1)
	assert.InDelta(t, 0.9, *f.Metrics[0].Value, 1e-9)

	_, err = s.FindFeature(context.Background(), 1, "zzz")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestPostgresStore_CreateProblemConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO problems")).
		WithArgs("titanic", "classification", "titanic.csv", "survived", "", sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

	err := s.CreateProblem(context.Background(), &core.Problem{Name: "titanic", Type: core.ProblemClassification, DataPath: "titanic.csv", TargetColumn: "survived"})
	assert.ErrorIs(t, err, core.ErrExists)
}

func TestPostgresStore_GetFeaturesFilter(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE f.problem_id = $1 AND f.user_id = $2 ORDER BY f.id")).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "problem_id", "code", "description", "fingerprint", "score", "metrics", "created_at", "name"}).
			AddRow(int64(3), int64(2), int64(1), "code", "", "abc", nil, []byte(`[]`), time.Now(), "ada"))

	features, err := s.GetFeatures(context.Background(), core.FeatureFilter{ProblemID: 1, ContributorID: 2})
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Nil(t, features[0].Score)
}

func TestPostgresStore_DeleteMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM features WHERE id = $1")).
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, s.DeleteFeature(context.Background(), 9), core.ErrNotFound)
}
