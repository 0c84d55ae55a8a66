package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HDI-Project/FeatureFactory/internal/dataset"
	"github.com/HDI-Project/FeatureFactory/internal/executor"
	"github.com/HDI-Project/FeatureFactory/internal/fingerprint"
	"github.com/HDI-Project/FeatureFactory/internal/metrics"
	"github.com/HDI-Project/FeatureFactory/internal/session"
	"github.com/HDI-Project/FeatureFactory/internal/state"
	"github.com/HDI-Project/FeatureFactory/internal/testutil"
	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

const secret = "0123456789abcdef0123456789abcdef"

var tokens = map[string]string{
	"alice": "alice-token-0123456789",
	"bob":   "bob-token-0123456789",
	"root":  "root-token-0123456789",
}

const bigFare = `def transform(dataset):
    return [fare > 20 for fare in dataset["fare"]]
`

func dataset12() *core.Dataset {
	ds := &core.Dataset{
		Problem:      "titanic",
		TargetColumn: "survived",
		Columns:      []string{"fare"},
		Cells:        map[string][]any{"fare": {}},
	}
	for i := range 12 {
		fare := float64(5 + 3*i)
		survived := int64(0)
		if fare > 20 {
			survived = 1
		}
		ds.Index = append(ds.Index, strconv.Itoa(i))
		ds.Cells["fare"] = append(ds.Cells["fare"], fare)
		ds.Target = append(ds.Target, survived)
	}
	return ds
}

type harness struct {
	srv    *httptest.Server
	client *http.Client
	coord  *session.Coordinator
}

func newHarness(t *testing.T, cfg Config, dedup time.Duration) *harness {
	t.Helper()
	ctx := context.Background()
	logger := testutil.NewTestLogger(t)

	ledger, err := state.OpenSQLite(ctx, ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })
	require.NoError(t, ledger.Migrate(ctx))
	require.NoError(t, ledger.CreateProblem(ctx, &core.Problem{
		Name:         "titanic",
		Type:         core.ProblemClassification,
		DataPath:     "titanic.csv",
		TargetColumn: "survived",
	}))

	provider := dataset.NewMemoryProvider(1)
	require.NoError(t, provider.Add("titanic", dataset12()))

	reg := prometheus.NewRegistry()
	coord, err := session.New(session.Config{
		Ledger:       ledger,
		Datasets:     provider,
		Executor:     executor.New(executor.NewThreadRunner(executor.Limits{Timeout: 5 * time.Second}, logger), executor.Options{MaxAttempts: 1}),
		DedupTimeout: dedup,
		Admins:       []string{"root"},
		Observer:     metrics.New(reg),
		Logger:       logger,
	})
	require.NoError(t, err)

	cfg.Coordinator = coord
	cfg.SessionSecret = secret
	if cfg.UserHeader == "" && cfg.Tokens == nil {
		cfg.Tokens = tokens
	}
	cfg.Gatherer = reg
	cfg.Logger = logger
	s, err := New(cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &harness{srv: srv, client: &http.Client{Jar: jar}, coord: coord}
}

func (h *harness) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	return h.doWith(t, method, path, body, nil)
}

func (h *harness) doWith(t *testing.T, method, path string, body any, header http.Header) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, r)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (h *harness) login(t *testing.T, user string) *http.Response {
	t.Helper()
	resp, body := h.do(t, http.MethodPost, "/api/session", sessionRequest{User: user, Token: tokens[user], Problem: "titanic"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	return resp
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorContains(t, err, "coordinator is required")

	h := newHarness(t, Config{}, time.Second)
	_, err = New(Config{Coordinator: h.coord, SessionSecret: secret})
	assert.ErrorContains(t, err, "user header or contributor tokens are required")
}

func TestServer_RefusesUnauthenticatedLogin(t *testing.T) {
	h := newHarness(t, Config{}, time.Second)
	h.login(t, "alice")
	resp, body := h.do(t, http.MethodPost, "/api/features", submitRequest{Code: bigFare})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	resp, _ = h.do(t, http.MethodDelete, "/api/session", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	tests := []struct {
		name string
		req  sessionRequest
		want int
	}{
		{name: "admin name without a token", req: sessionRequest{User: "root", Problem: "titanic"}, want: http.StatusUnauthorized},
		{name: "admin name with a wrong token", req: sessionRequest{User: "root", Token: "guess-guess-guess", Problem: "titanic"}, want: http.StatusUnauthorized},
		{name: "admin name with another user's token", req: sessionRequest{User: "root", Token: tokens["alice"], Problem: "titanic"}, want: http.StatusUnauthorized},
		{name: "author name without a token", req: sessionRequest{User: "alice", Problem: "titanic"}, want: http.StatusUnauthorized},
		{name: "unknown name", req: sessionRequest{User: "mallory", Token: tokens["alice"], Problem: "titanic"}, want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := h.do(t, http.MethodPost, "/api/session", tt.req)
			assert.Equal(t, tt.want, resp.StatusCode)

			resp, body := h.do(t, http.MethodGet, "/api/features", nil)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.NotContains(t, string(body), "fare > 20")
		})
	}
}

func TestServer_ProxyIdentity(t *testing.T) {
	h := newHarness(t, Config{UserHeader: "X-Forwarded-User"}, time.Second)
	as := func(user string) http.Header {
		return http.Header{"X-Forwarded-User": {user}}
	}

	resp, _ := h.do(t, http.MethodPost, "/api/session", sessionRequest{User: "root", Problem: "titanic"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "no proxy assertion")

	resp, _ = h.doWith(t, http.MethodPost, "/api/session", sessionRequest{User: "root", Problem: "titanic"}, as("alice"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "body name differs from the asserted one")

	resp, body := h.doWith(t, http.MethodPost, "/api/session", sessionRequest{Problem: "titanic"}, as("alice"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var got sessionJSON
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "alice", got.User)
	assert.False(t, got.Admin)

	resp, _ = h.doWith(t, http.MethodGet, "/api/session", nil, as("alice"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = h.doWith(t, http.MethodGet, "/api/session", nil, as("root"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "cookie bound to another identity")
	resp, _ = h.do(t, http.MethodGet, "/api/session", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "proxy assertion missing")
}

func TestServer_SessionCookie(t *testing.T) {
	tests := []struct {
		name   string
		secure bool
	}{
		{name: "plain http", secure: false},
		{name: "behind https", secure: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{SecureCookies: tt.secure}, time.Second)
			resp := h.login(t, "alice")

			var cookie *http.Cookie
			for _, c := range resp.Cookies() {
				if c.Name == cookieName {
					cookie = c
				}
			}
			require.NotNil(t, cookie)
			assert.Equal(t, tt.secure, cookie.Secure)
			assert.True(t, cookie.HttpOnly)
			assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
		})
	}
}

func TestServer_RequiresSession(t *testing.T) {
	h := newHarness(t, Config{}, time.Second)

	resp, _ := h.do(t, http.MethodGet, "/api/features", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/api/session", sessionRequest{User: "alice", Token: tokens["alice"], Problem: "housing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/api/session", map[string]string{"user": "alice", "token": tokens["alice"]})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := h.do(t, http.MethodGet, "/api/problems", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var problems []problemJSON
	require.NoError(t, json.Unmarshal(body, &problems))
	require.Len(t, problems, 1)
	assert.Equal(t, "classification", problems[0].Type)
}

func TestServer_SubmissionFlow(t *testing.T) {
	h := newHarness(t, Config{}, time.Second)
	h.login(t, "alice")

	resp, body := h.do(t, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"user":"alice"`)

	resp, body = h.do(t, http.MethodPost, "/api/cross-validate", evaluateRequest{Code: bigFare})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var score scoreJSON
	require.NoError(t, json.Unmarshal(body, &score))
	assert.InDelta(t, 1.0, score.Score, 1e-9)

	resp, body = h.do(t, http.MethodPost, "/api/features", submitRequest{Code: bigFare, Description: "fare above 20"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var first submissionJSON
	require.NoError(t, json.Unmarshal(body, &first))
	assert.False(t, first.Existing)
	assert.Equal(t, []string{"submitted", "deduping", "executing", "scoring", "persisted"}, first.Stages)
	require.NotNil(t, first.Score)
	assert.Equal(t, fingerprint.Fingerprint(bigFare), first.Fingerprint)

	resp, body = h.do(t, http.MethodPost, "/api/features", submitRequest{Code: bigFare})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second submissionJSON
	require.NoError(t, json.Unmarshal(body, &second))
	assert.True(t, second.Existing)
	assert.Equal(t, first.FeatureID, second.FeatureID)
	assert.Equal(t, *first.Score, *second.Score)

	resp, body = h.do(t, http.MethodGet, "/api/features/mine", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var mine []featureJSON
	require.NoError(t, json.Unmarshal(body, &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, bigFare, mine[0].Code)

	resp, body = h.do(t, http.MethodGet, "/api/dataset/sample?n=4", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ds datasetJSON
	require.NoError(t, json.Unmarshal(body, &ds))
	assert.Len(t, ds.Index, 4)
	assert.Len(t, ds.Cells["fare"], 4)

	resp, _ = h.do(t, http.MethodGet, "/api/dataset/sample?n=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// another contributor sees the feature without its code
	resp, _ = h.do(t, http.MethodDelete, "/api/session", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	h.login(t, "bob")
	resp, body = h.do(t, http.MethodGet, "/api/features", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all []featureJSON
	require.NoError(t, json.Unmarshal(body, &all))
	require.Len(t, all, 1)
	assert.True(t, all[0].Redacted)
	assert.Empty(t, all[0].Code)
	assert.Equal(t, "alice", all[0].Contributor)

	resp, body = h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `featurefactory_submissions_total{operation="register",outcome="existing"} 1`)
}

func TestServer_FailureStatus(t *testing.T) {
	h := newHarness(t, Config{}, 50*time.Millisecond)
	h.login(t, "alice")

	resp, body := h.do(t, http.MethodPost, "/api/features", submitRequest{Code: "def transform(dataset):\n    return [1]\n"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var e errorJSON
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, "user_error", e.Kind)
	assert.Equal(t, "execution", e.Category)
	assert.NotContains(t, e.Error, "goroutine")

	resp, _ = h.do(t, http.MethodPost, "/api/features", map[string]any{"code": bigFare, "extra": true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	problem, err := h.coord.Ledger().GetProblem(context.Background(), "titanic")
	require.NoError(t, err)
	claim, err := h.coord.Gate().Reserve(context.Background(), problem.ID, fingerprint.Fingerprint(bigFare), "held", 0)
	require.NoError(t, err)
	defer claim.Reservation.Release()

	resp, body = h.do(t, http.MethodPost, "/api/features", submitRequest{Code: bigFare})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "5", resp.Header.Get("Retry-After"))
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, "busy", e.Kind)
}

func TestServer_RateLimit(t *testing.T) {
	h := newHarness(t, Config{RateLimit: 0.01, RateBurst: 1}, time.Second)
	h.login(t, "alice")

	resp, _ := h.do(t, http.MethodPost, "/api/cross-validate", evaluateRequest{Code: bigFare})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/api/cross-validate", evaluateRequest{Code: bigFare})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	retry, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	require.NoError(t, err)
	assert.Greater(t, retry, 1)
}

func TestServer_Holdout(t *testing.T) {
	h := newHarness(t, Config{}, time.Second)
	h.login(t, "alice")

	tests := []struct {
		name    string
		holdout int
		status  int
		folds   int
	}{
		{name: "cross validation", holdout: 0, status: http.StatusOK, folds: 5},
		{name: "first eight rows", holdout: 8, status: http.StatusOK, folds: 1},
		{name: "nothing held out", holdout: 12, status: http.StatusUnprocessableEntity},
		{name: "negative", holdout: -1, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := h.do(t, http.MethodPost, "/api/cross-validate", evaluateRequest{Code: bigFare, Holdout: tt.holdout})
			require.Equal(t, tt.status, resp.StatusCode, string(body))
			if tt.status != http.StatusOK {
				return
			}
			var score scoreJSON
			require.NoError(t, json.Unmarshal(body, &score))
			assert.Equal(t, tt.folds, score.Folds)
			assert.InDelta(t, 1.0, score.Score, 1e-9)
		})
	}
}

func TestServer_Events(t *testing.T) {
	h := newHarness(t, Config{}, time.Second)
	h.login(t, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.srv.URL+"/api/events", nil)
	require.NoError(t, err)
	stream, err := h.client.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	resp, _ := h.do(t, http.MethodPost, "/api/features", submitRequest{Code: bigFare})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	reader := bufio.NewReader(stream.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: features\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: titanic\n", line)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.Failf(core.KindUserError, "x"), http.StatusUnprocessableEntity},
		{core.Failf(core.KindInvalidColumn, "x"), http.StatusUnprocessableEntity},
		{core.Failf(core.KindInsufficientData, "x"), http.StatusUnprocessableEntity},
		{core.Failf(core.KindBusy, "x"), http.StatusConflict},
		{core.Failf(core.KindDuplicateFingerprint, "x"), http.StatusConflict},
		{core.Failf(core.KindTimeout, "x"), http.StatusRequestTimeout},
		{core.Failf(core.KindUnavailable, "x"), http.StatusServiceUnavailable},
		{fmt.Errorf("problem: %w", core.ErrNotFound), http.StatusNotFound},
		{core.ErrExists, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusOf(tt.err))
		})
	}
}

func TestNotifier(t *testing.T) {
	n := newNotifier()
	a := n.subscribe()
	b := n.subscribe()

	n.broadcast("titanic")
	assert.Equal(t, "titanic", <-a)
	assert.Equal(t, "titanic", <-b)

	n.unsubscribe(a)
	for range 10 {
		n.broadcast("housing")
	}
	assert.Len(t, b, cap(b))
	n.unsubscribe(b)
}
