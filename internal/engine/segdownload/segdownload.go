// Package segdownload implements C7, the SegmentedDownloader: a worker
// pool that fetches every segment of a resolved source into a single
// output file, enforcing per-task then global speed limits, reporting
// throttled progress, and persisting segment state on a fixed cadence.
// Grounded on the teacher's worker()/downloadTask()
// (internal/engine/concurrent/worker.go): same read-buffer-then-WriteAt
// loop and per-segment retry-with-backoff, adapted to operate over
// model.Segment via the source.Source and fileio.Accessor abstractions
// instead of direct *os.File/http.Client calls.
package segdownload

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/surge-downloader/surge/internal/engine/errs"
	"github.com/surge-downloader/surge/internal/engine/model"
	"github.com/surge-downloader/surge/internal/fileio"
	"github.com/surge-downloader/surge/internal/logx"
	"github.com/surge-downloader/surge/internal/ratelimit"
	"github.com/surge-downloader/surge/internal/source"
)

// Options configures one run of the downloader.
type Options struct {
	BufferSize         int
	MaxRetries         int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	ProgressInterval time.Duration
	PersistInterval  time.Duration
	PerTaskLimiter   ratelimit.Limiter
	GlobalLimiter    ratelimit.Limiter
}

func (o *Options) withDefaults() {
	if o.BufferSize <= 0 {
		o.BufferSize = 32 * 1024
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = time.Second
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 60 * time.Second
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = 200 * time.Millisecond
	}
	if o.PersistInterval <= 0 {
		o.PersistInterval = 5 * time.Second
	}
	if o.PerTaskLimiter == nil {
		o.PerTaskLimiter = ratelimit.Unlimited{}
	}
	if o.GlobalLimiter == nil {
		o.GlobalLimiter = ratelimit.Unlimited{}
	}
}

// PersistFunc is called on the persistence cadence and on every segment
// completion, with the current segment snapshot; the caller (C8 Execution)
// owns writing it to the TaskStore.
type PersistFunc func(segments []model.Segment)

// ProgressFunc is called on the progress cadence with the aggregated,
// throttled view of the download.
type ProgressFunc func(p model.Progress)

// Downloader runs one task's segment fetch-and-write loop to completion,
// cancellation, or unrecoverable error.
type Downloader struct {
	src  source.Source
	file *fileio.FileAccessor
	opts Options
	log  *logx.Logger

	downloaded atomic.Int64
}

// New creates a Downloader for one task. file must already be opened (and
// preallocated, for known-size resources) by the caller.
func New(src source.Source, file *fileio.FileAccessor, opts Options, log *logx.Logger) *Downloader {
	opts.withDefaults()
	if log == nil {
		log = logx.Discard()
	}
	return &Downloader{src: src, file: file, opts: opts, log: log}
}

// Run fetches every not-yet-complete segment concurrently (one goroutine
// per segment, since SegmentPlanner already bounds segment count to the
// configured connection limit) and blocks until all segments finish, ctx
// is canceled, or a non-retryable error occurs. It returns the final
// segment snapshot so the caller can persist it one last time.
func (d *Downloader) Run(ctx context.Context, resolved model.ResolvedSource, segments []model.Segment, onProgress ProgressFunc, onPersist PersistFunc) ([]model.Segment, error) {
	for _, s := range segments {
		d.downloaded.Add(s.DownloadedBytes)
	}

	segCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	segs := append([]model.Segment{}, segments...)

	var wg sync.WaitGroup
	errCh := make(chan error, len(segs))

	for i := range segs {
		if segs[i].IsComplete() {
			continue
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if err := d.runSegment(segCtx, resolved, &mu, segs, idx); err != nil {
				errCh <- err
				cancel()
			}
		}(i)
	}

	stopProgress := make(chan struct{})
	go d.progressLoop(onProgress, resolved, stopProgress)

	stopPersist := make(chan struct{})
	go d.persistLoop(onPersist, &mu, segs, stopPersist)

	wg.Wait()
	close(stopProgress)
	close(stopPersist)
	close(errCh)

	mu.Lock()
	final := append([]model.Segment{}, segs...)
	mu.Unlock()

	if onPersist != nil {
		onPersist(final)
	}

	select {
	case err := <-errCh:
		if err != nil {
			return final, err
		}
	default:
	}

	if ctx.Err() != nil {
		return final, errs.Canceled()
	}
	return final, nil
}

// emaAlpha weights each interval's instantaneous rate against the running
// average; spec.md §4.7 step 3 calls for an exponential moving average
// rather than a cumulative since-start average, so a speed change (a
// cap kicking in, a slow peer) is reflected within a few intervals
// instead of being diluted by the whole download's history.
const emaAlpha = 0.3

func (d *Downloader) progressLoop(onProgress ProgressFunc, resolved model.ResolvedSource, stop <-chan struct{}) {
	if onProgress == nil {
		return
	}
	ticker := time.NewTicker(d.opts.ProgressInterval)
	defer ticker.Stop()

	lastSample := d.downloaded.Load()
	lastTick := time.Now()
	var ema float64
	haveSample := false

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := time.Now()
			downloaded := d.downloaded.Load()
			elapsed := now.Sub(lastTick).Seconds()
			var instant float64
			if elapsed > 0 {
				instant = float64(downloaded-lastSample) / elapsed
			}
			if !haveSample {
				ema = instant
				haveSample = true
			} else {
				ema = emaAlpha*instant + (1-emaAlpha)*ema
			}
			lastSample = downloaded
			lastTick = now

			var pct float64
			if resolved.TotalBytes > 0 {
				pct = float64(downloaded) / float64(resolved.TotalBytes) * 100
			}
			onProgress(model.Progress{
				DownloadedBytes: downloaded,
				TotalBytes:      resolved.TotalBytes,
				Percent:         pct,
				BytesPerSecond:  ema,
			})
		}
	}
}

func (d *Downloader) persistLoop(onPersist PersistFunc, mu *sync.Mutex, segs []model.Segment, stop <-chan struct{}) {
	if onPersist == nil {
		return
	}
	ticker := time.NewTicker(d.opts.PersistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			mu.Lock()
			snapshot := append([]model.Segment{}, segs...)
			mu.Unlock()
			onPersist(snapshot)
		}
	}
}

// runSegment fetches one segment with retry-with-backoff, grounded on the
// teacher's worker() retry loop: exponential delay, capped, honoring
// Retry-After via the typed HTTP error's RetryAfter field.
func (d *Downloader) runSegment(ctx context.Context, resolved model.ResolvedSource, mu *sync.Mutex, segs []model.Segment, idx int) error {
	var lastErr error
	for attempt := 0; attempt < d.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt, d.opts.RetryBaseDelay, d.opts.RetryMaxDelay)
			if e, ok := errs.As(lastErr); ok && e.RetryAfter > 0 {
				delay = e.RetryAfter
			}
			select {
			case <-ctx.Done():
				return errs.Canceled()
			case <-time.After(delay):
			}
		}

		mu.Lock()
		seg := segs[idx]
		mu.Unlock()

		err := d.fetchSegment(ctx, resolved, mu, segs, idx, seg)
		if err == nil {
			return nil
		}
		lastErr = err
		if errs.IsCanceled(err) || !errs.Retryable(err) {
			return err
		}
		d.log.Debug("segdownload: segment %d attempt %d failed: %v", idx, attempt, err)
	}
	return lastErr
}

func (d *Downloader) fetchSegment(ctx context.Context, resolved model.ResolvedSource, mu *sync.Mutex, segs []model.Segment, idx int, seg model.Segment) error {
	start := seg.Start + seg.DownloadedBytes
	end := seg.End

	rc, err := d.src.Open(ctx, resolved, source.RangeRequest{Start: start, End: end})
	if err != nil {
		return err
	}
	defer rc.Close()

	buf := make([]byte, d.opts.BufferSize)
	offset := start
	for {
		n, readErr := rc.Read(buf)
		if n > 0 {
			if err := ratelimit.Sequence(ctx, d.opts.PerTaskLimiter, d.opts.GlobalLimiter, n); err != nil {
				return errs.Canceled()
			}
			if err := d.file.WriteAt(offset, buf[:n]); err != nil {
				return err
			}
			offset += int64(n)
			d.downloaded.Add(int64(n))

			mu.Lock()
			segs[idx].DownloadedBytes = offset - seg.Start
			mu.Unlock()

			if end >= 0 && offset > end {
				break
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return errs.Network(readErr)
		}
		if end >= 0 && offset > end {
			break
		}
	}
	return nil
}

func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	d := base * time.Duration(uint64(1)<<uint(min(attempt, 10)))
	if d > max {
		d = max
	}
	return d
}
