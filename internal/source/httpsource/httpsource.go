package httpsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/surge-downloader/surge/internal/engine/errs"
	"github.com/surge-downloader/surge/internal/engine/model"
	"github.com/surge-downloader/surge/internal/logx"
	"github.com/surge-downloader/surge/internal/ratelimit"
	"github.com/surge-downloader/surge/internal/source"
)

// HTTPSource handles "http" and "https" URLs. One instance is shared
// across all tasks; its client pool scales with maxConnsPerHost. 429
// responses from any task against the same host cool down every other
// task hitting it, via backoffs.
type HTTPSource struct {
	scheme          string
	client          *http.Client
	userAgent       string
	log             *logx.Logger
	maxConnsPerHost int
	backoffs        *ratelimit.HostBackoffRegistry
}

// New creates a source for scheme ("http" or "https"). Register one
// instance per scheme, or reuse the same instance for both via a small
// registry wrapper in the caller, since both share identical semantics.
func New(scheme, userAgent string, maxConnsPerHost int, log *logx.Logger) *HTTPSource {
	if log == nil {
		log = logx.Discard()
	}
	return &HTTPSource{
		scheme:          scheme,
		client:          newClient(maxConnsPerHost),
		userAgent:       userAgent,
		log:             log,
		maxConnsPerHost: maxConnsPerHost,
		backoffs:        ratelimit.NewHostBackoffRegistry(),
	}
}

func (s *HTTPSource) Scheme() string { return s.scheme }

// Resolve performs C5's RangeProbe: a GET with "Range: bytes=0-0",
// classifying by status code exactly as the teacher's ProbeServer does
// (206 => range supported + size from Content-Range, 200 => no range
// support, size from Content-Length).
func (s *HTTPSource) Resolve(ctx context.Context, req model.DownloadRequest) (model.ResolvedSource, error) {
	if err := s.waitOutBackoff(ctx, req.URL); err != nil {
		return model.ResolvedSource{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return model.ResolvedSource{}, errs.ValidationFailed(fmt.Sprintf("invalid url: %v", err))
	}
	httpReq.Header.Set("Range", "bytes=0-0")
	httpReq.Header.Set("User-Agent", s.userAgent)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return model.ResolvedSource{}, errs.Network(err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := s.backoffs.Get(hostOf(req.URL)).Handle429(resp)
		return model.ResolvedSource{}, errs.HTTP(resp.StatusCode, wait)
	}
	s.backoffs.Get(hostOf(req.URL)).ReportSuccess()

	etag := resp.Header.Get("ETag")
	lastMod := resp.Header.Get("Last-Modified")

	var resolved model.ResolvedSource
	resolved.URL = req.URL
	resolved.SourceType = s.scheme

	switch resp.StatusCode {
	case http.StatusPartialContent:
		resolved.SupportsResume = true
		resolved.TotalBytes = parseContentRangeSize(resp.Header.Get("Content-Range"))
	case http.StatusOK:
		resolved.SupportsResume = false
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
				resolved.TotalBytes = n
			}
		} else {
			resolved.TotalBytes = -1
		}
	default:
		return model.ResolvedSource{}, errs.HTTP(resp.StatusCode, retryAfter(resp))
	}

	name, err := determineFilename(req.URL, resp)
	if err != nil {
		s.log.Debug("httpsource: filename detection failed: %v", err)
		name = "download.bin"
	}
	resolved.SuggestedFileName = name
	resolved.MaxSegments = s.maxConnsPerHost
	resolved.SelectionMode = model.SelectionSingle
	resolved.Metadata = map[string]string{"content_type": resp.Header.Get("Content-Type")}
	if etag != "" {
		resolved.Metadata["etag"] = etag
	}
	if lastMod != "" {
		resolved.Metadata["last_modified"] = lastMod
	}

	return resolved, nil
}

// Open returns a reader over [r.Start, r.End] (r.End == -1 means to EOF).
func (s *HTTPSource) Open(ctx context.Context, resolved model.ResolvedSource, r source.RangeRequest) (io.ReadCloser, error) {
	if err := s.waitOutBackoff(ctx, resolved.URL); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved.URL, nil)
	if err != nil {
		return nil, errs.Unknown(err)
	}
	httpReq.Header.Set("User-Agent", s.userAgent)
	ranged := r.End >= 0 || r.Start > 0
	if r.End >= 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", r.Start, r.End))
	} else if r.Start > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", r.Start))
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, errs.Network(err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := s.backoffs.Get(hostOf(resolved.URL)).Handle429(resp)
		resp.Body.Close()
		return nil, errs.HTTP(resp.StatusCode, wait)
	}
	if ranged && resp.StatusCode == http.StatusOK {
		// The server ignored our Range header and sent the whole entity.
		// That's only safe when this Open call was itself requesting the
		// whole file (the sole segment of a non-resumable download); for
		// any other segment it would silently overwrite the rest of the
		// output file with duplicate bytes.
		wholeFile := r.Start == 0 && (r.End < 0 || (resolved.TotalBytes > 0 && r.End == resolved.TotalBytes-1))
		if !wholeFile {
			resp.Body.Close()
			return nil, errs.ValidationFailed("server returned 200 for a ranged request instead of 206 partial content")
		}
	}
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errs.HTTP(resp.StatusCode, retryAfter(resp))
	}
	s.backoffs.Get(hostOf(resolved.URL)).ReportSuccess()
	return resp.Body, nil
}

// waitOutBackoff blocks until any active 429 cooldown for rawURL's host
// has elapsed, or ctx is done.
func (s *HTTPSource) waitOutBackoff(ctx context.Context, rawURL string) error {
	wait := s.backoffs.Get(hostOf(rawURL)).BlockDuration()
	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return errs.Canceled()
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

// ResumeState for plain HTTP is just the resolved metadata; there's no
// server-side session to remember, so resuming just means re-requesting
// the remaining byte ranges.
func (s *HTTPSource) ResumeState(resolved model.ResolvedSource) ([]byte, error) {
	return json.Marshal(resolved)
}

func retryAfter(resp *http.Response) time.Duration {
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0
	}
	if secs, err := strconv.Atoi(ra); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(ra); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func parseContentRangeSize(contentRange string) int64 {
	if contentRange == "" {
		return -1
	}
	idx := strings.LastIndex(contentRange, "/")
	if idx == -1 {
		return -1
	}
	sizeStr := contentRange[idx+1:]
	if sizeStr == "*" {
		return -1
	}
	n, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return -1
	}
	return n
}
