package httpsource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/surge/internal/engine/errs"
	"github.com/surge-downloader/surge/internal/engine/model"
	"github.com/surge-downloader/surge/internal/source"
)

func TestResolve_CapturesETagAndLastModified(t *testing.T) {
	const body = "hello world"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		http.ServeContent(w, r, "f.txt", time.Time{}, strings.NewReader(body))
	}))
	defer srv.Close()

	s := New("http", "surge-test/1.0", 4, nil)
	resolved, err := s.Resolve(context.Background(), model.DownloadRequest{URL: srv.URL + "/f.txt"})
	require.NoError(t, err)

	assert.True(t, resolved.SupportsResume)
	assert.Equal(t, int64(len(body)), resolved.TotalBytes)
	assert.Equal(t, `"v1"`, resolved.Metadata["etag"])
	assert.Equal(t, "Mon, 02 Jan 2006 15:04:05 GMT", resolved.Metadata["last_modified"])
}

func TestOpen_RangedRequestGetting200IsValidationFailed(t *testing.T) {
	const body = "hello world, this is more than one segment's worth of bytes"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Pretend to be a server that ignores Range headers entirely.
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	s := New("http", "surge-test/1.0", 4, nil)
	resolved := model.ResolvedSource{URL: srv.URL + "/f.txt", TotalBytes: int64(len(body))}

	// Second of two segments: a non-whole-file range, so a 200 must fail.
	_, err := s.Open(context.Background(), resolved, source.RangeRequest{Start: 10, End: 19})
	require.Error(t, err)
	ee, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindValidationFailed, ee.Kind)
}

func TestOpen_RangedRequestGetting200IsAcceptedForSoleWholeFileSegment(t *testing.T) {
	const body = "hello world"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	s := New("http", "surge-test/1.0", 4, nil)
	resolved := model.ResolvedSource{URL: srv.URL + "/f.txt", TotalBytes: int64(len(body))}

	rc, err := s.Open(context.Background(), resolved, source.RangeRequest{Start: 0, End: int64(len(body)) - 1})
	require.NoError(t, err)
	defer rc.Close()
}

func TestRetryAfter_ParsesSecondsForServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := New("http", "surge-test/1.0", 4, nil)
	resolved := model.ResolvedSource{URL: srv.URL + "/f.txt"}
	_, err := s.Open(context.Background(), resolved, source.RangeRequest{Start: 0, End: -1})
	require.Error(t, err)
	ee, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindHTTP, ee.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, ee.Code)
	assert.Equal(t, 7, int(ee.RetryAfter.Seconds()))
}
