package session

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HDI-Project/FeatureFactory/internal/dataset"
	"github.com/HDI-Project/FeatureFactory/internal/executor"
	"github.com/HDI-Project/FeatureFactory/internal/fingerprint"
	"github.com/HDI-Project/FeatureFactory/internal/state"
	"github.com/HDI-Project/FeatureFactory/internal/testutil"
	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

const minorsSurvive = `def transform(dataset):
    return [age < 18 for age in dataset["age"]]
`

const spin = `def transform(dataset):
    while True:
        pass
`

// titanic returns 20 passengers where most minors survived.
func titanic() *core.Dataset {
	ages := []int64{4, 35, 12, 58, 16, 22, 9, 41, 15, 30, 2, 27, 17, 63, 11, 19, 8, 45, 14, 38}
	ds := &core.Dataset{
		Problem:      "titanic",
		IndexColumn:  "passenger_id",
		TargetColumn: "survived",
		Columns:      []string{"age", "sex", "fare"},
		Cells:        map[string][]any{"age": {}, "sex": {}, "fare": {}},
	}
	for i, age := range ages {
		survived := int64(0)
		if age < 18 {
			survived = 1
		}
		// a few exceptions keep the score below 1
		if i == 3 || i == 16 {
			survived = 1 - survived
		}
		sex := "male"
		if i%3 == 0 {
			sex = "female"
		}
		ds.Index = append(ds.Index, strconv.Itoa(i+1))
		ds.Cells["age"] = append(ds.Cells["age"], age)
		ds.Cells["sex"] = append(ds.Cells["sex"], sex)
		ds.Cells["fare"] = append(ds.Cells["fare"], float64(10+i))
		ds.Target = append(ds.Target, survived)
	}
	return ds
}

type recorder struct {
	mu       sync.Mutex
	outcomes []string
	stages   map[string]int
	scores   []float64
}

func (r *recorder) ObserveSubmission(op, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, op+":"+outcome)
}

func (r *recorder) ObserveStage(stage string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stages == nil {
		r.stages = make(map[string]int)
	}
	r.stages[stage]++
}

func (r *recorder) ObserveScore(_ string, score float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores = append(r.scores, score)
}

type fixture struct {
	coord  *Coordinator
	ledger *state.SQLiteStore
	obs    *recorder
}

func setup(t *testing.T, limits executor.Limits, attempts int, dedup time.Duration) *fixture {
	t.Helper()
	ledger := openLedger(t, ":memory:")
	coord, obs := newCoordinator(t, ledger, limits, attempts, dedup)
	return &fixture{coord: coord, ledger: ledger, obs: obs}
}

// openLedger opens and migrates the ledger at path and creates the titanic
// problem unless it already exists.
func openLedger(t *testing.T, path string) *state.SQLiteStore {
	t.Helper()
	ctx := context.Background()
	ledger, err := state.OpenSQLite(ctx, path, testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })
	require.NoError(t, ledger.Migrate(ctx))
	err = ledger.CreateProblem(ctx, &core.Problem{
		Name:         "titanic",
		Type:         core.ProblemClassification,
		DataPath:     "titanic.csv",
		TargetColumn: "survived",
		IndexColumn:  "passenger_id",
	})
	if !errors.Is(err, core.ErrExists) {
		require.NoError(t, err)
	}
	return ledger
}

func newCoordinator(t *testing.T, ledger *state.SQLiteStore, limits executor.Limits, attempts int, dedup time.Duration) (*Coordinator, *recorder) {
	t.Helper()
	logger := testutil.NewTestLogger(t)

	provider := dataset.NewMemoryProvider(7)
	require.NoError(t, provider.Add("titanic", titanic()))

	if limits.Timeout == 0 {
		limits.Timeout = 5 * time.Second
	}
	exec := executor.New(executor.NewThreadRunner(limits, logger), executor.Options{MaxAttempts: attempts, Logger: logger})

	obs := &recorder{}
	coord, err := New(Config{
		Ledger:       ledger,
		Datasets:     dataset.NewCache(provider),
		Executor:     exec,
		DedupTimeout: dedup,
		Admins:       []string{"root"},
		Observer:     obs,
		Logger:       logger,
	})
	require.NoError(t, err)
	return coord, obs
}

func (f *fixture) open(t *testing.T, who string) *Session {
	t.Helper()
	s, err := f.coord.Open(context.Background(), who, "titanic")
	require.NoError(t, err)
	return s
}

func (f *fixture) rows(t *testing.T) int {
	t.Helper()
	features, err := f.ledger.GetFeatures(context.Background(), core.FeatureFilter{})
	require.NoError(t, err)
	return len(features)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorContains(t, err, "ledger is required")
}

func TestCoordinator_OpenUnknownProblem(t *testing.T) {
	f := setup(t, executor.Limits{}, 1, time.Second)
	_, err := f.coord.Open(context.Background(), "alice", "housing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = f.coord.Open(context.Background(), "", "titanic")
	assert.Error(t, err)
}

func TestRegisterFeature_EndToEnd(t *testing.T) {
	f := setup(t, executor.Limits{}, 3, time.Second)
	alice := f.open(t, "alice")
	ctx := context.Background()

	first, err := alice.RegisterFeature(ctx, minorsSurvive, "minors survive")
	require.NoError(t, err)
	assert.False(t, first.Existing)
	assert.Equal(t, StagePersisted, first.Stage())
	assert.Equal(t, []Stage{StageSubmitted, StageDeduping, StageExecuting, StageScoring, StagePersisted}, first.Stages())
	assert.Equal(t, fingerprint.Fingerprint(minorsSurvive), first.Fingerprint)
	assert.Equal(t, 1, first.Attempts)
	require.NotNil(t, first.Score())
	assert.Greater(t, *first.Score(), 0.5)
	assert.Less(t, *first.Score(), 1.0)
	require.NotNil(t, first.Result)
	assert.Len(t, first.Result.Metrics, 4)
	assert.NotZero(t, first.Feature.ID)

	second, err := alice.RegisterFeature(ctx, minorsSurvive, "again")
	require.NoError(t, err)
	assert.True(t, second.Existing)
	assert.Equal(t, []Stage{StageSubmitted, StageDeduping, StagePersisted}, second.Stages())
	assert.Equal(t, *first.Score(), *second.Score())
	assert.Equal(t, first.Feature.ID, second.Feature.ID)
	assert.Equal(t, "minors survive", second.Feature.Description)

	assert.Equal(t, 1, f.rows(t))
	assert.Equal(t, 0, f.coord.Gate().Pending())
	assert.Equal(t, []string{"register:persisted", "register:existing"}, f.obs.outcomes)
	assert.Equal(t, []float64{*first.Score()}, f.obs.scores)
}

func TestRegisterFeature_Failures(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		kind      core.Kind
		failedIn  Stage
		wantTries int
	}{
		{
			name:      "empty code",
			code:      "   \n",
			kind:      core.KindUserError,
			failedIn:  StageSubmitted,
			wantTries: 0,
		},
		{
			name:      "raises",
			code:      "def transform(dataset):\n    fail(\"boom\")\n",
			kind:      core.KindUserError,
			failedIn:  StageExecuting,
			wantTries: 1,
		},
		{
			name:      "misaligned column",
			code:      "def transform(dataset):\n    return [1, 2]\n",
			kind:      core.KindUserError,
			failedIn:  StageExecuting,
			wantTries: 1,
		},
		{
			name:      "missing values",
			code:      "def transform(dataset):\n    return [None for _ in dataset.index]\n",
			kind:      core.KindInvalidColumn,
			failedIn:  StageScoring,
			wantTries: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, executor.Limits{}, 3, time.Second)
			alice := f.open(t, "alice")

			sub, err := alice.RegisterFeature(context.Background(), tt.code, "")
			require.Error(t, err)
			assert.Equal(t, tt.kind, core.KindOf(err))
			assert.Equal(t, err, sub.Err)
			assert.Equal(t, tt.wantTries, sub.Attempts)
			assert.Equal(t, StageFailed, sub.Stage())

			stages := sub.Stages()
			require.GreaterOrEqual(t, len(stages), 2)
			assert.Equal(t, tt.failedIn, stages[len(stages)-2])

			assert.Equal(t, 0, f.rows(t))
			assert.Equal(t, 0, f.coord.Gate().Pending())
		})
	}
}

func TestRegisterFeature_TimeoutAfterMaxAttempts(t *testing.T) {
	f := setup(t, executor.Limits{Timeout: 50 * time.Millisecond}, 2, time.Second)
	alice := f.open(t, "alice")

	sub, err := alice.RegisterFeature(context.Background(), spin, "spins")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTimeout)
	assert.Equal(t, 2, sub.Attempts)
	assert.Equal(t, 0, f.coord.Gate().Pending())
	assert.Equal(t, []string{"register:timeout"}, f.obs.outcomes)
}

func TestRegisterFeature_AbortReleasesReservation(t *testing.T) {
	f := setup(t, executor.Limits{Timeout: 10 * time.Second}, 3, time.Second)
	alice := f.open(t, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	sub, err := alice.RegisterFeature(ctx, spin, "spins")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, StageFailed, sub.Stage())
	assert.Equal(t, 0, f.coord.Gate().Pending())
	assert.Equal(t, []string{"register:aborted"}, f.obs.outcomes)

	// the slot is free for the next submission of the same code
	claim, err := f.coord.Gate().Reserve(context.Background(), alice.Problem().ID, sub.Fingerprint, "", 0)
	require.NoError(t, err)
	assert.Equal(t, fingerprint.Acquired, claim.Outcome)
	claim.Reservation.Release()
}

func TestRegisterFeature_Busy(t *testing.T) {
	f := setup(t, executor.Limits{}, 1, 50*time.Millisecond)
	alice := f.open(t, "alice")

	claim, err := f.coord.Gate().Reserve(context.Background(), alice.Problem().ID, fingerprint.Fingerprint(minorsSurvive), "held", 0)
	require.NoError(t, err)
	require.Equal(t, fingerprint.Acquired, claim.Outcome)
	defer claim.Reservation.Release()

	sub, err := alice.RegisterFeature(context.Background(), minorsSurvive, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrBusy)
	assert.Equal(t, []Stage{StageSubmitted, StageDeduping, StageFailed}, sub.Stages())
	assert.Equal(t, 0, f.rows(t))
}

func TestRegisterFeature_ConcurrentSameCode(t *testing.T) {
	f := setup(t, executor.Limits{}, 1, 10*time.Second)
	sessions := []*Session{f.open(t, "alice"), f.open(t, "bob"), f.open(t, "carol"), f.open(t, "dave")}

	subs := make([]*Submission, len(sessions))
	errs := make([]error, len(sessions))
	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			subs[i], errs[i] = s.RegisterFeature(context.Background(), minorsSurvive, "same")
		}()
	}
	wg.Wait()

	fresh := 0
	var score float64
	for i := range sessions {
		require.NoError(t, errs[i])
		if !subs[i].Existing {
			fresh++
			score = *subs[i].Score()
		}
	}
	assert.Equal(t, 1, fresh)
	for _, sub := range subs {
		assert.Equal(t, score, *sub.Score())
	}
	assert.Equal(t, 1, f.rows(t))
}

func TestRegisterFeature_CoordinatorsSharingALedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ledgers := []*state.SQLiteStore{openLedger(t, path), openLedger(t, path)}

	var sessions []*Session
	var recorders []*recorder
	for i, ledger := range ledgers {
		coord, obs := newCoordinator(t, ledger, executor.Limits{}, 1, 10*time.Second)
		recorders = append(recorders, obs)
		for _, who := range []string{"alice", "bob"} {
			s, err := coord.Open(context.Background(), who+strconv.Itoa(i), "titanic")
			require.NoError(t, err)
			sessions = append(sessions, s)
		}
	}

	subs := make([]*Submission, len(sessions))
	errs := make([]error, len(sessions))
	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			subs[i], errs[i] = s.RegisterFeature(context.Background(), minorsSurvive, "same")
		}()
	}
	wg.Wait()

	fresh := 0
	for i := range sessions {
		require.NoError(t, errs[i], "no submission loses the insert race")
		if !subs[i].Existing {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)

	executed := 0
	for _, obs := range recorders {
		executed += obs.stages[string(StageExecuting)]
	}
	assert.Equal(t, 1, executed, "the feature runs once across both coordinators")

	features, err := ledgers[1].GetFeatures(context.Background(), core.FeatureFilter{})
	require.NoError(t, err)
	assert.Len(t, features, 1)
}

func TestCrossValidate(t *testing.T) {
	f := setup(t, executor.Limits{}, 1, time.Second)
	alice := f.open(t, "alice")
	ctx := context.Background()

	result, err := alice.CrossValidate(ctx, minorsSurvive)
	require.NoError(t, err)
	acc, ok := result.Metric("accuracy")
	require.True(t, ok)
	assert.Equal(t, result.Score, acc)
	assert.Equal(t, 0, f.rows(t))

	sub, err := alice.RegisterFeature(ctx, minorsSurvive, "")
	require.NoError(t, err)
	assert.Equal(t, result.Score, *sub.Score())

	_, err = alice.CrossValidate(ctx, "def transform(dataset):\n    return dataset.nope\n")
	assert.ErrorIs(t, err, core.ErrUserError)
	assert.Equal(t, []string{"cross_validate:scored", "register:persisted", "cross_validate:user_error"}, f.obs.outcomes)
}

func TestHoldout(t *testing.T) {
	f := setup(t, executor.Limits{}, 1, time.Second)
	alice := f.open(t, "alice")
	ctx := context.Background()

	// trained on the first 15 passengers, one of the last five is mispredicted
	result, err := alice.Holdout(ctx, minorsSurvive, 15)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Folds)
	assert.InDelta(t, 0.8, result.Score, 1e-9)
	assert.Equal(t, 0, f.rows(t))

	_, err = alice.Holdout(ctx, minorsSurvive, 20)
	assert.Equal(t, core.KindInsufficientData, core.KindOf(err))
	assert.Equal(t, []string{"holdout:scored", "holdout:insufficient_data"}, f.obs.outcomes)
}

func TestDiscoverFeatures_Redaction(t *testing.T) {
	f := setup(t, executor.Limits{}, 1, time.Second)
	ctx := context.Background()
	alice := f.open(t, "alice")
	bob := f.open(t, "bob")
	root := f.open(t, "root")

	_, err := alice.RegisterFeature(ctx, minorsSurvive, "minors survive")
	require.NoError(t, err)

	views, err := bob.DiscoverFeatures(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].Redacted)
	assert.Empty(t, views[0].Code)
	assert.Equal(t, "alice", views[0].Contributor)
	assert.Equal(t, "minors survive", views[0].Description)
	require.NotNil(t, views[0].Score)

	views, err = alice.DiscoverFeatures(ctx)
	require.NoError(t, err)
	assert.Equal(t, minorsSurvive, views[0].Code)

	assert.True(t, root.Admin())
	views, err = root.DiscoverFeatures(ctx)
	require.NoError(t, err)
	assert.False(t, views[0].Redacted)

	mine, err := bob.MyFeatures(ctx)
	require.NoError(t, err)
	assert.Empty(t, mine)

	mine, err = alice.MyFeatures(ctx)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, minorsSurvive, mine[0].Code)
}

func TestSampleDataset(t *testing.T) {
	f := setup(t, executor.Limits{}, 1, time.Second)
	alice := f.open(t, "alice")

	ds, err := alice.SampleDataset(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 5, ds.NumRows())
	assert.Equal(t, []string{"age", "sex", "fare"}, ds.Columns)

	full, err := alice.SampleDataset(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 20, full.NumRows())
}
