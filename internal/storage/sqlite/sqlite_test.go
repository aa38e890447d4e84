package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plugkit/internal/storage"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSaveAndQueryEvents(t *testing.T) {
	ctx := context.Background()
	st := openTemp(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	events := []storage.LifecycleEvent{
		{Op: "create", Module: "echo.so", Plugin: "echo", HandleID: "h1", Status: "ok", TS: base},
		{Op: "execute", Module: "echo.so", Plugin: "echo", HandleID: "h1", Status: "error", ErrorKind: "execution", Message: "Execution error in echo: empty input", Duration: 1500 * time.Microsecond, TS: base.Add(time.Second)},
		{Op: "create", Module: "sysinfo.so", Plugin: "sysinfo", HandleID: "h2", Status: "ok", TS: base.Add(2 * time.Second)},
		{Op: "release", Module: "echo.so", Plugin: "echo", HandleID: "h1", Status: "ok", TS: base.Add(3 * time.Second)},
	}
	for _, ev := range events {
		require.NoError(t, st.SaveEvent(ctx, ev))
	}

	all, err := st.QueryEvents(ctx, storage.EventQuery{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "release", all[0].Op)
	assert.True(t, all[0].TS.Equal(base.Add(3*time.Second)))

	echo, err := st.QueryEvents(ctx, storage.EventQuery{Plugin: "echo", Op: "execute"})
	require.NoError(t, err)
	require.Len(t, echo, 1)
	assert.Equal(t, "execution", echo[0].ErrorKind)
	assert.Equal(t, "Execution error in echo: empty input", echo[0].Message)
	assert.Equal(t, 1500*time.Microsecond, echo[0].Duration)

	window, err := st.QueryEvents(ctx, storage.EventQuery{From: base.Add(time.Second), To: base.Add(2 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, window, 2)

	limited, err := st.QueryEvents(ctx, storage.EventQuery{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSaveEventDefaultsTimestamp(t *testing.T) {
	ctx := context.Background()
	st := openTemp(t)
	require.NoError(t, st.SaveEvent(ctx, storage.LifecycleEvent{Op: "open", Module: "x.so", Status: "ok"}))

	got, err := st.QueryEvents(ctx, storage.EventQuery{Op: "open"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.WithinDuration(t, time.Now().UTC(), got[0].TS, time.Minute)
}

func TestOpenReusesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	st, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, st.SaveEvent(context.Background(), storage.LifecycleEvent{Op: "open", Status: "ok"}))
	require.NoError(t, st.Close())

	st, err = Open(path)
	require.NoError(t, err)
	defer st.Close()
	got, err := st.QueryEvents(context.Background(), storage.EventQuery{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
