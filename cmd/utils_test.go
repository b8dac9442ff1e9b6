package cmd

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/surge/internal/api"
	"github.com/surge-downloader/surge/internal/client"
	"github.com/surge-downloader/surge/internal/engine"
	"github.com/surge-downloader/surge/internal/engine/model"
	"github.com/surge-downloader/surge/internal/engine/scheduler"
	"github.com/surge-downloader/surge/internal/source"
)

func TestFormatSize(t *testing.T) {
	cases := map[int64]string{
		0:                 "-",
		-5:                "-",
		500:               "500 B",
		1536:              "1.5 KB",
		10 * 1024 * 1024:  "10.0 MB",
	}
	for in, want := range cases {
		assert.Equal(t, want, formatSize(in), "input %d", in)
	}
}

func TestFormatSpeed(t *testing.T) {
	assert.Equal(t, "-", formatSpeed(0))
	assert.Equal(t, "1.0 KB/s", formatSpeed(1024))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abc", shortID("abc"))
	assert.Equal(t, "12345678", shortID("12345678-90ab-cdef"))
}

func TestReadURLsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "urls.txt")
	require.NoError(t, os.WriteFile(path, []byte("https://a.example/1\n# comment\n\nhttps://b.example/2\n"), 0644))

	urls, err := readURLsFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example/1", "https://b.example/2"}, urls)
}

func TestReadURLsFromFile_EmptyFileErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(path, []byte("# only comments\n"), 0644))

	_, err := readURLsFromFile(path)
	assert.Error(t, err)
}

func TestActiveAddr_SaveReadRemove(t *testing.T) {
	t.Setenv("SURGE_HOME", t.TempDir())

	assert.Equal(t, "", readActiveAddr())

	saveActiveAddr("http://127.0.0.1:9090")
	assert.Equal(t, "http://127.0.0.1:9090", readActiveAddr())

	removeActiveAddr()
	assert.Equal(t, "", readActiveAddr())
}

func newTestDaemon(t *testing.T) *client.Client {
	t.Helper()
	dir := t.TempDir()

	sources := source.NewRegistry()
	eng, err := engine.New(engine.Config{
		StorePath:          filepath.Join(dir, "t.db"),
		DefaultConnections: 2,
		Predicate:          scheduler.AlwaysSource{},
	}, sources)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Shutdown(0) })

	srv := httptest.NewServer(api.New(eng, ""))
	t.Cleanup(srv.Close)

	return client.New(srv.URL, "")
}

func TestResolveTaskID_UniquePrefixExpands(t *testing.T) {
	c := newTestDaemon(t)

	id, err := c.Add(model.DownloadRequest{URL: "https://example.com/does-not-matter.bin"})
	require.NoError(t, err)

	resolved, err := resolveTaskID(c, id[:8])
	require.NoError(t, err)
	assert.Equal(t, id, resolved)
}

func TestResolveTaskID_FullIDPassesThroughWithoutLookup(t *testing.T) {
	c := newTestDaemon(t)
	id := "11111111-2222-3333-4444-555555555555"
	resolved, err := resolveTaskID(c, id)
	require.NoError(t, err)
	assert.Equal(t, id, resolved)
}

func TestResolveTaskID_NoMatchReturnsInputUnchanged(t *testing.T) {
	c := newTestDaemon(t)
	resolved, err := resolveTaskID(c, "zzzzzz")
	require.NoError(t, err)
	assert.Equal(t, "zzzzzz", resolved)
}
