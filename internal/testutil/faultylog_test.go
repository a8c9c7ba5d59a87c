package testutil

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evreplay/internal/ir"
	"github.com/roach88/evreplay/internal/store"
)

func newFaultyLog(t *testing.T) *FaultyLog {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "log.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewFaultyLog(st)
}

func TestFaultyLog_FailAppendAfterN(t *testing.T) {
	ctx := context.Background()
	f := newFaultyLog(t)
	boom := errors.New("disk full")
	f.FailAppend(boom, 1)

	_, err := f.Append(ctx, "tick", 1, []byte(`{"n":0}`))
	require.NoError(t, err)

	_, err = f.Append(ctx, "tick", 1, []byte(`{"n":1}`))
	require.Error(t, err)
	assert.True(t, ir.IsDurabilityFailure(err))
	assert.ErrorIs(t, err, boom)

	next, err := f.NextSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next, "failed append must not persist")

	f.FailAppend(nil, 0)
	_, err = f.Append(ctx, "tick", 1, []byte(`{"n":1}`))
	require.NoError(t, err)

	appends, _, _ := f.Counts()
	assert.Equal(t, 3, appends)
}

func TestFaultyLog_FailFlushAndRead(t *testing.T) {
	ctx := context.Background()
	f := newFaultyLog(t)

	f.FailFlush(errors.New("fsync"))
	assert.True(t, ir.IsDurabilityFailure(f.Flush(ctx)))
	f.FailFlush(nil)
	assert.NoError(t, f.Flush(ctx))

	f.FailRead(errors.New("io"))
	_, err := f.Read(ctx, 0, 10)
	assert.Error(t, err)
}

func TestFaultyLog_AfterRead(t *testing.T) {
	ctx := context.Background()
	f := newFaultyLog(t)
	_, err := f.Append(ctx, "tick", 1, []byte(`{"n":0}`))
	require.NoError(t, err)

	var seen int
	f.AfterRead(func(events []ir.Event) { seen += len(events) })
	_, err = f.Read(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, seen)
}
