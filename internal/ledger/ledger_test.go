package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattjoyce/parcc/internal/compile"
	"github.com/mattjoyce/parcc/internal/dispatch"
	"github.com/mattjoyce/parcc/internal/log"
	"github.com/mattjoyce/parcc/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

func openTestLedger(t *testing.T, retention int) *Ledger {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, retention)
}

func sampleResult(id string, startedAt time.Time) *dispatch.Result {
	return &dispatch.Result{
		BuildID:   id,
		PoolSize:  4,
		Objects:   []string{"obj/a.o", "obj/b.o"},
		Compiled:  1,
		Skipped:   1,
		StartedAt: startedAt,
		Duration:  1500 * time.Millisecond,
		Outcomes: []dispatch.Outcome{
			{Source: "src/a.c", Object: "obj/a.o", Status: dispatch.StatusCompiled, Duration: time.Second},
			{Source: "src/b.c", Object: "obj/b.o", Status: dispatch.StatusCurrent},
		},
	}
}

func TestRecordSuccessfulBuild(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t, 0)

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, l.Record(ctx, sampleResult("b-1", started), nil))

	b, err := l.Get(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, BuildSucceeded, b.Status)
	assert.Equal(t, 4, b.PoolSize)
	assert.Equal(t, 2, b.Units)
	assert.Equal(t, 1, b.Compiled)
	assert.Equal(t, 1, b.Skipped)
	assert.Equal(t, 0, b.Failed)
	assert.True(t, b.StartedAt.Equal(started))
	assert.Equal(t, 1500*time.Millisecond, b.Duration)
	assert.Nil(t, b.LastError)

	units, err := l.Units(ctx, "b-1")
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "src/a.c", units[0].Source)
	assert.Equal(t, dispatch.StatusCompiled, units[0].Status)
	assert.Equal(t, time.Second, units[0].Duration)
	assert.Equal(t, dispatch.StatusCurrent, units[1].Status)
	assert.Nil(t, units[1].ExitCode)
}

func TestRecordFailedBuildKeepsDiagnostics(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t, 0)

	res := sampleResult("b-fail", time.Now())
	cie := &compile.CompilerInvocationError{
		Source:     "src/b.c",
		Object:     "obj/b.o",
		ExitCode:   1,
		Diagnostic: "src/b.c:3: error: expected ';'",
		Err:        errors.New("exit status 1"),
	}
	res.Outcomes[1] = dispatch.Outcome{Source: "src/b.c", Object: "obj/b.o", Status: dispatch.StatusFailed, Err: cie}
	res.Skipped, res.Failed = 0, 1
	buildErr := &compile.BuildError{Total: 2, Failures: []compile.UnitFailure{{Source: "src/b.c", Object: "obj/b.o", Err: cie}}}

	require.NoError(t, l.Record(ctx, res, buildErr))

	b, err := l.Get(ctx, "b-fail")
	require.NoError(t, err)
	assert.Equal(t, BuildFailed, b.Status)
	require.NotNil(t, b.LastError)
	assert.Contains(t, *b.LastError, "1 of 2 units failed")

	units, err := l.Units(ctx, "b-fail")
	require.NoError(t, err)
	require.Len(t, units, 2)
	require.NotNil(t, units[1].ExitCode)
	assert.Equal(t, 1, *units[1].ExitCode)
	require.NotNil(t, units[1].Diagnostic)
	assert.Contains(t, *units[1].Diagnostic, "expected ';'")
	require.NotNil(t, units[1].Error)
}

func TestRecordRejectsMissingID(t *testing.T) {
	l := openTestLedger(t, 0)
	assert.Error(t, l.Record(context.Background(), nil, nil))
	assert.Error(t, l.Record(context.Background(), &dispatch.Result{}, nil))
}

func TestRecordDuplicateIDRollsBack(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t, 0)

	require.NoError(t, l.Record(ctx, sampleResult("dup", time.Now()), nil))
	require.Error(t, l.Record(ctx, sampleResult("dup", time.Now()), nil))

	units, err := l.Units(ctx, "dup")
	require.NoError(t, err)
	assert.Len(t, units, 2)
}

func TestLatestAndList(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t, 0)

	_, err := l.Latest(ctx)
	assert.ErrorIs(t, err, ErrBuildNotFound)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Record(ctx, sampleResult(fmt.Sprintf("b-%d", i), base.Add(time.Duration(i)*time.Minute)), nil))
	}

	latest, err := l.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b-2", latest.ID)

	builds, err := l.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, builds, 2)
	assert.Equal(t, "b-2", builds[0].ID)
	assert.Equal(t, "b-1", builds[1].ID)

	_, err = l.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrBuildNotFound)
}

func TestRetentionPrunesOldBuilds(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t, 2)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		require.NoError(t, l.Record(ctx, sampleResult(fmt.Sprintf("b-%d", i), base.Add(time.Duration(i)*time.Minute)), nil))
	}

	builds, err := l.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, builds, 2)
	assert.Equal(t, "b-3", builds[0].ID)
	assert.Equal(t, "b-2", builds[1].ID)

	units, err := l.Units(ctx, "b-0")
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t, 0)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Record(ctx, sampleResult(fmt.Sprintf("b-%d", i), base.Add(time.Duration(i)*time.Minute)), nil))
	}
	require.NoError(t, l.Prune(ctx, 0))
	builds, err := l.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, builds, 3)

	require.NoError(t, l.Prune(ctx, 1))
	builds, err = l.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, builds, 1)
	assert.Equal(t, "b-2", builds[0].ID)
}

func TestFingerprints(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t, 0)

	_, ok, err := l.Fingerprint(ctx, "obj/a.o")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.PutFingerprint(ctx, "obj/a.o", "src/a.c", "aaa"))
	fp, ok, err := l.Fingerprint(ctx, "obj/a.o")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "aaa", fp)

	require.NoError(t, l.PutFingerprint(ctx, "obj/a.o", "src/a.c", "bbb"))
	fp, _, err = l.Fingerprint(ctx, "obj/a.o")
	require.NoError(t, err)
	assert.Equal(t, "bbb", fp)

	require.NoError(t, l.ForgetFingerprint(ctx, "obj/a.o"))
	_, ok, err = l.Fingerprint(ctx, "obj/a.o")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, l.PutFingerprint(ctx, "", "src/a.c", "x"))
}
