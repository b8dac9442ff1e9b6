package execution_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/surge/internal/engine/execution"
	"github.com/surge-downloader/surge/internal/engine/model"
	"github.com/surge-downloader/surge/internal/source"
	"github.com/surge-downloader/surge/internal/source/httpsource"
	"github.com/surge-downloader/surge/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestRegistry() *source.Registry {
	reg := source.NewRegistry()
	reg.Register(httpsource.New("http", "surge-test/1.0", 0, nil))
	return reg
}

// etagServer serves body with a mutable ETag header so a test can simulate
// the remote resource changing out from under a resumed task.
func etagServer(t *testing.T, body string, etag *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", *etag)
		http.ServeContent(w, r, "f.bin", time.Time{}, strings.NewReader(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExecution_FreshRunPersistsSourceIdentity(t *testing.T) {
	const body = "the quick brown fox jumps over the lazy dog"
	etag := `"v1"`
	srv := etagServer(t, body, &etag)
	dir := t.TempDir()

	rec := &model.TaskRecord{
		TaskID:  "task-1",
		Request: model.DownloadRequest{URL: srv.URL + "/f.bin", Destination: filepath.Join(dir, "f.bin"), Connections: 2},
	}
	st := newTestStore(t)
	require.NoError(t, st.Save(rec))

	ex := execution.New(rec, execution.Options{Store: st, Sources: newTestRegistry()}, nil)
	final := ex.Run(context.Background())

	require.Equal(t, model.StateCompleted, final.State)
	assert.Equal(t, `"v1"`, final.SourceMetadata["etag"])
	assert.NotEmpty(t, final.SourceResumeState)
	assert.Equal(t, "http", final.SourceType)

	data, err := os.ReadFile(final.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
}

func TestExecution_ResumeSucceedsWhenIdentityUnchanged(t *testing.T) {
	const body = "the quick brown fox jumps over the lazy dog"
	etag := `"v1"`
	srv := etagServer(t, body, &etag)
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "f.bin.part")

	rec := &model.TaskRecord{
		TaskID:         "task-2",
		Request:        model.DownloadRequest{URL: srv.URL + "/f.bin", Destination: filepath.Join(dir, "f.bin")},
		OutputPath:     outputPath,
		TotalBytes:     int64(len(body)),
		SourceType:     "http",
		SourceMetadata: map[string]string{"etag": `"v1"`},
		Segments:       []model.Segment{{Index: 0, Start: 0, End: int64(len(body)) - 1}},
	}
	st := newTestStore(t)
	require.NoError(t, st.Save(rec))

	ex := execution.New(rec, execution.Options{Store: st, Sources: newTestRegistry()}, nil)
	final := ex.Run(context.Background())

	require.Equal(t, model.StateCompleted, final.State)

	data, err := os.ReadFile(final.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
}

func TestExecution_ResumeFailsWhenETagChanged(t *testing.T) {
	const body = "the quick brown fox jumps over the lazy dog"
	etag := `"v2-different-file"`
	srv := etagServer(t, body, &etag)
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "f.bin.part")

	rec := &model.TaskRecord{
		TaskID:         "task-3",
		Request:        model.DownloadRequest{URL: srv.URL + "/f.bin", Destination: filepath.Join(dir, "f.bin")},
		OutputPath:     outputPath,
		TotalBytes:     int64(len(body)),
		SourceType:     "http",
		SourceMetadata: map[string]string{"etag": `"v1"`}, // stale: server now reports v2
		Segments:       []model.Segment{{Index: 0, Start: 0, End: int64(len(body)) - 1}},
	}
	st := newTestStore(t)
	require.NoError(t, st.Save(rec))

	ex := execution.New(rec, execution.Options{Store: st, Sources: newTestRegistry()}, nil)
	final := ex.Run(context.Background())

	require.Equal(t, model.StateFailed, final.State)
	require.NotNil(t, final.Error)
	assert.Equal(t, "ValidationFailed", final.Error.Kind)
	assert.Contains(t, final.Error.Message, "etag mismatch")
}

func TestExecution_ResumeFailsWhenSizeChanged(t *testing.T) {
	const body = "short"
	etag := `"v1"`
	srv := etagServer(t, body, &etag)
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "f.bin.part")

	rec := &model.TaskRecord{
		TaskID:         "task-4",
		Request:        model.DownloadRequest{URL: srv.URL + "/f.bin", Destination: filepath.Join(dir, "f.bin")},
		OutputPath:     outputPath,
		TotalBytes:     1000, // stale: server now reports a much shorter body
		SourceType:     "http",
		SourceMetadata: map[string]string{"etag": `"v1"`},
		Segments:       []model.Segment{{Index: 0, Start: 0, End: 999}},
	}
	st := newTestStore(t)
	require.NoError(t, st.Save(rec))

	ex := execution.New(rec, execution.Options{Store: st, Sources: newTestRegistry()}, nil)
	final := ex.Run(context.Background())

	require.Equal(t, model.StateFailed, final.State)
	require.NotNil(t, final.Error)
	assert.Contains(t, final.Error.Message, "size changed")
}
