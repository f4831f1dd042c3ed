package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musictimer/internal/task"
	logx "musictimer/pkg/logx"
)

func openMem(t *testing.T) (Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	st, err := Open(Config{Driver: "file", Path: "/data/tasks.json", Fs: fs}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, fs
}

func sampleTasks() []task.Task {
	return []task.Task{
		{Start: task.MustTimeOfDay("09:00"), End: task.MustTimeOfDay("09:30"), Days: task.Weekdays{true, false, true}, Volume: 0.65, Path: "/usr/bin/mpv"},
		{Start: task.MustTimeOfDay("18:15"), End: task.MustTimeOfDay("19:00"), Volume: 1, Path: "/usr/bin/vlc"},
	}
}

func TestFileStoreMissingDocumentIsEmpty(t *testing.T) {
	st, _ := openMem(t)
	tasks, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestFileStoreSaveLoad(t *testing.T) {
	st, fs := openMem(t)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, sampleTasks()))

	got, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleTasks(), got)

	// tmp file must not linger after a successful replace
	exists, err := afero.Exists(fs, "/data/tasks.json.tmp")
	require.NoError(t, err)
	assert.False(t, exists)

	// the document is readable with the plain codec
	b, err := afero.ReadFile(fs, "/data/tasks.json")
	require.NoError(t, err)
	decoded, err := task.DecodeDocument(b)
	require.NoError(t, err)
	assert.Len(t, decoded, 2)
}

func TestFileStoreSaveOverwrites(t *testing.T) {
	st, _ := openMem(t)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, sampleTasks()))
	require.NoError(t, st.Save(ctx, sampleTasks()[:1]))

	got, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFileStoreMalformedIsFatal(t *testing.T) {
	st, fs := openMem(t)
	require.NoError(t, afero.WriteFile(fs, "/data/tasks.json", []byte(`[{"start_time":"09:00","end_time":"bad","path":"x","days":[],"volume":1}]`), 0o644))

	_, err := st.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestFileStoreInvalidTaskIsFatal(t *testing.T) {
	st, fs := openMem(t)
	require.NoError(t, afero.WriteFile(fs, "/data/tasks.json", []byte(`[{"start_time":"10:00","end_time":"09:00","path":"x","days":[false,false,false,false,false,false,false],"volume":1}]`), 0o644))

	_, err := st.Load(context.Background())
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestFileStoreHistory(t *testing.T) {
	st, fs := openMem(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	for i, kind := range []string{"started", "stopped", "removed"} {
		require.NoError(t, st.AppendHistory(ctx, HistoryEntry{
			RunID: "run-1", At: now.Add(time.Duration(i) * time.Minute), Kind: kind, Path: "/usr/bin/mpv", Window: "09:00-09:01",
		}))
	}

	all, err := st.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "started", all[0].Kind)

	last, err := st.History(ctx, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "stopped", last[0].Kind)
	assert.Equal(t, "removed", last[1].Kind)

	exists, err := afero.Exists(fs, "/data/tasks.history.jsonl")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestFileStoreClosed(t *testing.T) {
	st, _ := openMem(t)
	require.NoError(t, st.Close())
	_, err := st.Load(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, st.Save(context.Background(), nil), ErrClosed)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)
}
