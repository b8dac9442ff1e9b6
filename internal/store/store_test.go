package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/surge/internal/engine/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SaveThenLoadRoundTrips(t *testing.T) {
	s := openTestStore(t)

	rec := &model.TaskRecord{
		TaskID:     "task-1",
		Request:    model.DownloadRequest{URL: "https://example.com/file.bin", Connections: 4},
		OutputPath: "/tmp/file.bin",
		State:      model.State("running"),
		TotalBytes: 1000,
		Segments: []model.Segment{
			{Index: 0, Start: 0, End: 499, DownloadedBytes: 100},
			{Index: 1, Start: 500, End: 999, DownloadedBytes: 0},
		},
		SourceType:     "http",
		SourceMetadata: map[string]string{"etag": `"abc123"`, "last_modified": "Mon, 02 Jan 2006 15:04:05 GMT"},
	}
	require.NoError(t, s.Save(rec))

	loaded, err := s.Load("task-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, rec.TaskID, loaded.TaskID)
	assert.Equal(t, rec.Request.URL, loaded.Request.URL)
	assert.Equal(t, rec.Request.Connections, loaded.Request.Connections)
	assert.Equal(t, rec.OutputPath, loaded.OutputPath)
	assert.Equal(t, rec.State, loaded.State)
	assert.Equal(t, rec.TotalBytes, loaded.TotalBytes)
	assert.Equal(t, rec.Segments, loaded.Segments)
	assert.Equal(t, rec.SourceType, loaded.SourceType)
	assert.Equal(t, rec.SourceMetadata, loaded.SourceMetadata)
	assert.False(t, loaded.CreatedAt.IsZero())
}

func TestStore_LoadMissingReturnsNilNil(t *testing.T) {
	s := openTestStore(t)
	rec, err := s.Load("nonexistent")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStore_SaveUpsertsOnConflict(t *testing.T) {
	s := openTestStore(t)

	rec := &model.TaskRecord{TaskID: "task-1", State: model.State("queued")}
	require.NoError(t, s.Save(rec))

	rec.State = model.State("completed")
	require.NoError(t, s.Save(rec))

	loaded, err := s.Load("task-1")
	require.NoError(t, err)
	assert.Equal(t, model.State("completed"), loaded.State)

	all, err := s.LoadAll()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_RemoveIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	rec := &model.TaskRecord{TaskID: "task-1", State: model.State("queued")}
	require.NoError(t, s.Save(rec))
	require.NoError(t, s.Remove("task-1"))

	loaded, err := s.Load("task-1")
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// Removing again must not error.
	require.NoError(t, s.Remove("task-1"))
}

func TestStore_LoadAllReturnsEveryRecord(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Save(&model.TaskRecord{TaskID: "a", State: model.State("queued")}))
	require.NoError(t, s.Save(&model.TaskRecord{TaskID: "b", State: model.State("running")}))

	all, err := s.LoadAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_PersistsErrorRecord(t *testing.T) {
	s := openTestStore(t)

	rec := &model.TaskRecord{
		TaskID: "task-err",
		State:  model.State("failed"),
		Error:  &model.ErrorRecord{Kind: "network", Code: 1},
	}
	require.NoError(t, s.Save(rec))

	loaded, err := s.Load("task-err")
	require.NoError(t, err)
	require.NotNil(t, loaded.Error)
	assert.Equal(t, "network", loaded.Error.Kind)
	assert.Equal(t, 1, loaded.Error.Code)
}
