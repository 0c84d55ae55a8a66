package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/HDI-Project/FeatureFactory/internal/scoring"
	"github.com/HDI-Project/FeatureFactory/internal/session"
	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

type sessionKey struct{}

type sessionRequest struct {
	User    string `json:"user"`
	Token   string `json:"token,omitempty"`
	Problem string `json:"problem"`
}

type submitRequest struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// evaluateRequest scores code by cross-validation, or on the rows after the
// first Holdout rows when Holdout is set.
type evaluateRequest struct {
	Code    string `json:"code"`
	Holdout int    `json:"holdout,omitempty"`
}

type problemJSON struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	TargetColumn string    `json:"target_column"`
	IndexColumn  string    `json:"index_column,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type sessionJSON struct {
	User    string      `json:"user"`
	Admin   bool        `json:"admin"`
	Problem problemJSON `json:"problem"`
}

type featureJSON struct {
	ID          int64         `json:"id"`
	Contributor string        `json:"contributor"`
	Description string        `json:"description"`
	Fingerprint string        `json:"fingerprint"`
	Score       *float64      `json:"score"`
	Metrics     []core.Metric `json:"metrics"`
	Code        string        `json:"code,omitempty"`
	Redacted    bool          `json:"redacted"`
	CreatedAt   time.Time     `json:"created_at"`
}

type submissionJSON struct {
	ID          string        `json:"id"`
	Problem     string        `json:"problem"`
	Contributor string        `json:"contributor"`
	Fingerprint string        `json:"fingerprint"`
	Stages      []string      `json:"stages"`
	Existing    bool          `json:"existing"`
	Attempts    int           `json:"attempts"`
	FeatureID   int64         `json:"feature_id"`
	Score       *float64      `json:"score"`
	Metrics     []core.Metric `json:"metrics"`
}

type scoreJSON struct {
	Score   float64       `json:"score"`
	Folds   int           `json:"folds"`
	Metrics []core.Metric `json:"metrics"`
}

type datasetJSON struct {
	Problem      string           `json:"problem"`
	IndexColumn  string           `json:"index_column,omitempty"`
	TargetColumn string           `json:"target_column"`
	Columns      []string         `json:"columns"`
	Index        []string         `json:"index"`
	Cells        map[string][]any `json:"cells"`
	Target       []any            `json:"target"`
}

func toProblemJSON(p *core.Problem) problemJSON {
	return problemJSON{
		ID:           p.ID,
		Name:         p.Name,
		Type:         string(p.Type),
		TargetColumn: p.TargetColumn,
		IndexColumn:  p.IndexColumn,
		CreatedAt:    p.CreatedAt,
	}
}

func toFeaturesJSON(views []core.FeatureView) []featureJSON {
	out := make([]featureJSON, 0, len(views))
	for _, v := range views {
		out = append(out, featureJSON{
			ID:          v.ID,
			Contributor: v.Contributor,
			Description: v.Description,
			Fingerprint: v.Fingerprint,
			Score:       v.Score,
			Metrics:     v.Metrics,
			Code:        v.Code,
			Redacted:    v.Redacted,
			CreatedAt:   v.CreatedAt,
		})
	}
	return out
}

func toSubmissionJSON(sub *session.Submission) submissionJSON {
	out := submissionJSON{
		ID:          sub.ID.String(),
		Problem:     sub.Problem,
		Contributor: sub.Contributor,
		Fingerprint: sub.Fingerprint,
		Existing:    sub.Existing,
		Attempts:    sub.Attempts,
		Score:       sub.Score(),
	}
	for _, st := range sub.Stages() {
		out.Stages = append(out.Stages, string(st))
	}
	if sub.Feature != nil {
		out.FeatureID = sub.Feature.ID
		out.Metrics = sub.Feature.Metrics
	}
	return out
}

func toScoreJSON(res *scoring.Result) scoreJSON {
	return scoreJSON{Score: res.Score, Folds: res.Folds, Metrics: res.Metrics}
}

// toDatasetJSON copies ds, replacing non-finite floats with null.
func toDatasetJSON(ds *core.Dataset) datasetJSON {
	cells := make(map[string][]any, len(ds.Columns))
	for _, name := range ds.Columns {
		cells[name] = finite(ds.Cells[name])
	}
	return datasetJSON{
		Problem:      ds.Problem,
		IndexColumn:  ds.IndexColumn,
		TargetColumn: ds.TargetColumn,
		Columns:      ds.Columns,
		Index:        ds.Index,
		Cells:        cells,
		Target:       finite(ds.Target),
	}
}

func finite(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			continue
		}
		out[i] = v
	}
	return out
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func current(ctx context.Context) *session.Session {
	s, _ := ctx.Value(sessionKey{}).(*session.Session)
	return s
}

// requireSession resolves the contributor session bound to the cookie.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, _ := s.cookies.Get(r, cookieName)
		user, _ := cookie.Values["user"].(string)
		problem, _ := cookie.Values["problem"].(string)
		if user == "" || problem == "" {
			writeMessage(w, http.StatusUnauthorized, "no session: POST /api/session with a user and a problem first")
			return
		}
		if !s.auth.still(r, user) {
			writeMessage(w, http.StatusUnauthorized, "session does not match the authenticated identity")
			return
		}

		sess, err := s.coord.Open(r.Context(), user, problem)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	})
}

func (s *Server) listProblems(w http.ResponseWriter, r *http.Request) {
	problems, err := s.coord.Ledger().GetProblems(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]problemJSON, 0, len(problems))
	for _, p := range problems {
		out = append(out, toProblemJSON(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) openSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decode(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Problem == "" {
		writeMessage(w, http.StatusBadRequest, "problem is required")
		return
	}
	user, refused := s.auth.login(r, req)
	if refused != nil {
		s.logger.Warn("refused login", "user", req.User, "status", refused.status)
		writeMessage(w, refused.status, refused.message)
		return
	}

	sess, err := s.coord.Open(r.Context(), user, req.Problem)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	cookie, _ := s.cookies.Get(r, cookieName)
	cookie.Values["user"] = sess.Contributor().Name
	cookie.Values["problem"] = sess.Problem().Name
	if err := cookie.Save(r, w); err != nil {
		s.writeError(w, r, fmt.Errorf("failed to save session: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON{User: sess.Contributor().Name, Admin: sess.Admin(), Problem: toProblemJSON(sess.Problem())})
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	cookie, _ := s.cookies.Get(r, cookieName)
	cookie.Options.MaxAge = -1
	if err := cookie.Save(r, w); err != nil {
		s.writeError(w, r, fmt.Errorf("failed to clear session: %w", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) showSession(w http.ResponseWriter, r *http.Request) {
	sess := current(r.Context())
	writeJSON(w, http.StatusOK, sessionJSON{User: sess.Contributor().Name, Admin: sess.Admin(), Problem: toProblemJSON(sess.Problem())})
}

func (s *Server) discoverFeatures(w http.ResponseWriter, r *http.Request) {
	views, err := current(r.Context()).DiscoverFeatures(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeaturesJSON(views))
}

func (s *Server) myFeatures(w http.ResponseWriter, r *http.Request) {
	views, err := current(r.Context()).MyFeatures(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeaturesJSON(views))
}

// throttle reports whether the contributor is over the submission rate,
// writing the 429 response if so.
func (s *Server) throttle(w http.ResponseWriter, sess *session.Session) bool {
	ok, wait := s.limiter.allow(sess.Contributor().Name)
	if ok {
		return false
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	writeMessage(w, http.StatusTooManyRequests, "too many submissions; slow down")
	return true
}

func (s *Server) registerFeature(w http.ResponseWriter, r *http.Request) {
	sess := current(r.Context())
	var req submitRequest
	if err := decode(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.throttle(w, sess) {
		return
	}

	sub, err := sess.RegisterFeature(r.Context(), req.Code, req.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sub.Existing {
		writeJSON(w, http.StatusOK, toSubmissionJSON(sub))
		return
	}
	s.notifier.broadcast(sess.Problem().Name)
	writeJSON(w, http.StatusCreated, toSubmissionJSON(sub))
}

func (s *Server) crossValidate(w http.ResponseWriter, r *http.Request) {
	sess := current(r.Context())
	var req evaluateRequest
	if err := decode(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Holdout < 0 {
		writeMessage(w, http.StatusBadRequest, "holdout must be a non-negative integer")
		return
	}
	if s.throttle(w, sess) {
		return
	}

	var res *scoring.Result
	var err error
	if req.Holdout > 0 {
		res, err = sess.Holdout(r.Context(), req.Code, req.Holdout)
	} else {
		res, err = sess.CrossValidate(r.Context(), req.Code)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toScoreJSON(res))
}

func (s *Server) sampleDataset(w http.ResponseWriter, r *http.Request) {
	n := 0
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeMessage(w, http.StatusBadRequest, "n must be a non-negative integer")
			return
		}
		n = v
	}

	ds, err := current(r.Context()).SampleDataset(r.Context(), n)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDatasetJSON(ds))
}

// events streams a "features" event whenever a new feature is registered
// for the session's problem.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeMessage(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	problem := current(r.Context()).Problem().Name

	updates := s.notifier.subscribe()
	defer s.notifier.unsubscribe(updates)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case name := <-updates:
			if name != problem {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: features\ndata: %s\n\n", name); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
