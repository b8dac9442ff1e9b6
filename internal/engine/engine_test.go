package engine_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/surge/internal/engine"
	"github.com/surge-downloader/surge/internal/engine/model"
	"github.com/surge-downloader/surge/internal/engine/scheduler"
	"github.com/surge-downloader/surge/internal/source"
	"github.com/surge-downloader/surge/internal/source/httpsource"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	dir := t.TempDir()

	sources := source.NewRegistry()
	sources.Register(httpsource.New("http", "surge-test/1.0", 0, nil))

	eng, err := engine.New(engine.Config{
		StorePath:          filepath.Join(dir, "test.db"),
		MaxConcurrent:      2,
		DefaultConnections: 2,
		Predicate:          scheduler.AlwaysSource{},
	}, sources)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Shutdown(time.Second) })
	return eng
}

func TestEngine_SubmitAndRunToCompletion(t *testing.T) {
	const body = "the quick brown fox jumps over the lazy dog, repeated many times over"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "fox.txt", time.Time{}, strings.NewReader(body))
	}))
	defer srv.Close()

	eng := newTestEngine(t)
	dir := t.TempDir()

	id, err := eng.Submit(model.DownloadRequest{
		URL:         srv.URL + "/fox.txt",
		Destination: filepath.Join(dir, "fox.txt"),
		Connections: 2,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	tsk, ok := eng.Task(id)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return tsk.State().IsTerminal()
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, model.ObservedCompleted, tsk.State().Kind)

	data, err := os.ReadFile(filepath.Join(dir, "fox.txt"))
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
}

func TestEngine_SubmitRejectsEmptyURL(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.Submit(model.DownloadRequest{})
	assert.Error(t, err)
}

func TestEngine_SubmitRejectsInvalidURL(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.Submit(model.DownloadRequest{URL: "://not-a-url"})
	assert.Error(t, err)
}

func TestEngine_ListIncludesSubmittedTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "f.txt", time.Time{}, strings.NewReader("hello world"))
	}))
	defer srv.Close()

	eng := newTestEngine(t)
	dir := t.TempDir()

	id, err := eng.Submit(model.DownloadRequest{
		URL:         srv.URL + "/f.txt",
		Destination: filepath.Join(dir, "f.txt"),
	})
	require.NoError(t, err)

	found := false
	for _, tk := range eng.List() {
		if tk.ID() == id {
			found = true
		}
	}
	assert.True(t, found)
}

func TestEngine_CancelStopsTaskBeforeCompletion(t *testing.T) {
	body := strings.Repeat("x", 2*1024*1024) // 2MB
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "big.bin", time.Time{}, strings.NewReader(body))
	}))
	defer srv.Close()

	eng := newTestEngine(t)
	dir := t.TempDir()

	// A tight speed cap keeps the download running long enough to observe
	// it mid-flight and cancel it before it can complete.
	id, err := eng.Submit(model.DownloadRequest{
		URL:         srv.URL + "/big.bin",
		Destination: filepath.Join(dir, "big.bin"),
		Connections: 1,
		SpeedLimit:  "1k",
	})
	require.NoError(t, err)

	tsk, ok := eng.Task(id)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return tsk.State().Kind == model.ObservedDownloading
	}, 2*time.Second, 10*time.Millisecond)

	tsk.Cancel()

	require.Eventually(t, func() bool {
		return tsk.State().IsTerminal()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, model.ObservedCanceled, tsk.State().Kind)
}
