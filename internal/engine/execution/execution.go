// Package execution implements C8, one task's run-to-completion state
// machine: resolve the source, plan (or resume) segments, drive
// segdownload.Downloader, persist progress, and finalise the output file.
// Grounded on the teacher's TUIDownload/WorkerPool download path
// (internal/download/manager.go) for the fresh-vs-resume branch and the
// uniqueFilePath collision-avoidance scheme, adapted to drive the
// abstracted source.Source/segdownload.Downloader instead of calling
// engine.ProbeServer and concurrent.ConcurrentDownloader directly.
package execution

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/surge-downloader/surge/internal/engine/errs"
	"github.com/surge-downloader/surge/internal/engine/model"
	"github.com/surge-downloader/surge/internal/engine/segdownload"
	"github.com/surge-downloader/surge/internal/fileio"
	"github.com/surge-downloader/surge/internal/logx"
	"github.com/surge-downloader/surge/internal/ratelimit"
	"github.com/surge-downloader/surge/internal/segment"
	"github.com/surge-downloader/surge/internal/source"
	"github.com/surge-downloader/surge/internal/store"
)

// StateFunc receives every ObservedState transition the Execution makes.
type StateFunc func(model.ObservedState)

// Execution drives exactly one task through QUEUED/PENDING -> DOWNLOADING
// -> COMPLETED/FAILED/CANCELED/PAUSED. One Execution is used per run; the
// Coordinator (C9) creates a fresh one on every admit, resume, or retry.
type Execution struct {
	taskID  string
	record  *model.TaskRecord
	sources *source.Registry
	st      *store.Store
	log     *logx.Logger

	globalLimiter ratelimit.Limiter
	onState       StateFunc

	mu          sync.Mutex
	file        *fileio.FileAccessor
	dl          *segdownload.Downloader
	cancel      context.CancelFunc
	pauseReq    bool
	taskLimiter ratelimit.Limiter
	pendingConn int
}

// Options bundles Execution's external dependencies.
type Options struct {
	Store         *store.Store
	Sources       *source.Registry
	GlobalLimiter ratelimit.Limiter
	Log           *logx.Logger
}

// New creates an Execution for rec. rec must already be persisted (the
// Coordinator inserts the initial QUEUED record before starting a run).
func New(rec *model.TaskRecord, opts Options, onState StateFunc) *Execution {
	if opts.GlobalLimiter == nil {
		opts.GlobalLimiter = ratelimit.Unlimited{}
	}
	if opts.Log == nil {
		opts.Log = logx.Discard()
	}
	return &Execution{
		taskID:        rec.TaskID,
		record:        rec,
		sources:       opts.Sources,
		st:            opts.Store,
		log:           opts.Log,
		globalLimiter: opts.GlobalLimiter,
		onState:       onState,
	}
}

// Run executes the task to a terminal state (or until ctx/Pause/Cancel
// interrupts it) and returns the final record. The caller (Coordinator)
// is responsible for releasing the Queue slot once Run returns.
func (e *Execution) Run(ctx context.Context) *model.TaskRecord {
	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer cancel()

	e.setState(model.ObservedState{Kind: model.ObservedPending})
	e.record.State = model.StatePending
	e.persist()

	src, err := e.sources.For(e.record.Request.URL)
	if err != nil {
		return e.fail(errs.ValidationFailed(err.Error()))
	}

	resuming := len(e.record.Segments) > 0 && e.record.OutputPath != ""
	resolved, err := src.Resolve(runCtx, e.record.Request)
	if err != nil {
		return e.handleRunErr(err)
	}

	if resuming {
		// Re-verify the resource is still the same one we started
		// downloading: a changed ETag/Last-Modified/size means the server
		// swapped the file out from under us, and continuing would splice
		// bytes from two different versions into one output file.
		if reason := identityMismatch(e.record, resolved); reason != "" {
			return e.fail(errs.ValidationFailed(reason))
		}
		if resolved.TotalBytes > 0 {
			e.record.TotalBytes = resolved.TotalBytes
		}
		e.record.SourceMetadata = resolved.Metadata
	} else {
		e.record.SourceType = resolved.SourceType
		e.record.TotalBytes = resolved.TotalBytes
		e.record.SourceMetadata = resolved.Metadata
		if state, rsErr := src.ResumeState(resolved); rsErr == nil {
			e.record.SourceResumeState = state
		} else {
			e.log.Debug("execution %s: capturing resume state failed: %v", e.taskID, rsErr)
		}
	}

	if err := e.prepareOutput(resolved, resuming); err != nil {
		return e.fail(err)
	}
	defer func() {
		e.mu.Lock()
		f := e.file
		e.mu.Unlock()
		if f != nil {
			f.Close()
		}
	}()

	connections := e.record.Request.Connections
	if connections <= 0 {
		connections = resolved.MaxSegments
	}
	if connections <= 0 {
		connections = 1
	}

	var segments []model.Segment
	if resuming {
		segments = e.record.Segments
		e.mu.Lock()
		pending := e.pendingConn
		e.pendingConn = 0
		e.mu.Unlock()
		if pending > 0 {
			segments = segment.Resegment(segments, pending)
		}
	} else {
		segments = segment.Plan(resolved.TotalBytes, connections)
		if resolved.TotalBytes > 0 {
			if err := e.file.Preallocate(resolved.TotalBytes); err != nil {
				return e.fail(err)
			}
		}
	}

	taskLimiter := ratelimit.Limiter(ratelimit.Unlimited{})
	if bps := ratelimit.ParseSpeedLimit(e.record.Request.SpeedLimit); bps > 0 {
		taskLimiter = ratelimit.NewLimited(bps)
	}

	e.mu.Lock()
	e.taskLimiter = taskLimiter
	e.dl = segdownload.New(src, e.file, segdownload.Options{
		PerTaskLimiter: taskLimiter,
		GlobalLimiter:  e.globalLimiter,
	}, e.log)
	e.mu.Unlock()

	e.record.State = model.StateDownloading
	e.record.Segments = segments
	e.persist()
	e.setState(model.ObservedState{Kind: model.ObservedDownloading})

	finalSegs, runErr := e.dl.Run(runCtx, resolved, segments,
		func(p model.Progress) { e.setState(model.ObservedState{Kind: model.ObservedDownloading, Progress: p}) },
		func(segs []model.Segment) {
			e.record.Segments = segs
			e.persist()
		},
	)
	e.record.Segments = finalSegs

	if runErr != nil {
		return e.handleRunErr(runErr)
	}

	return e.finalize()
}

// Pause requests a graceful stop; Run's segment goroutines exit on their
// next read/retry boundary and the already-downloaded segments remain on
// disk and in the persisted record for a later Resume.
func (e *Execution) Pause() {
	e.mu.Lock()
	e.pauseReq = true
	c := e.cancel
	e.mu.Unlock()
	if c != nil {
		c()
	}
}

// Cancel stops the run; unlike Pause, the caller is expected to also
// delete the partial file and record (spec.md leaves bytes-on-disk
// cleanup to the caller, not to Execution, so an accidental double-cancel
// never races a delete against an in-flight write).
func (e *Execution) Cancel() {
	e.mu.Lock()
	c := e.cancel
	e.mu.Unlock()
	if c != nil {
		c()
	}
}

// SetSpeedLimit changes the running task's own rate cap immediately,
// without interrupting the transfer, via the underlying Limiter's
// SetRate (golang.org/x/time/rate's SetLimit preserves already-accrued
// tokens). bytesPerSec <= 0 means unlimited going forward.
func (e *Execution) SetSpeedLimit(bytesPerSec int64) {
	e.mu.Lock()
	limiter := e.taskLimiter
	e.mu.Unlock()
	if limiter == nil {
		return
	}
	if bytesPerSec <= 0 {
		bytesPerSec = 1 << 40 // effectively unlimited for a rate.Limiter-backed cap
	}
	limiter.SetRate(bytesPerSec)
}

// RequestConnections records a desired segment count for the next run;
// since resegmenting mid-flight would require draining every in-flight
// segment read first, the change is applied the next time Run starts
// (i.e. after the caller pauses and resumes the task), per segment.Resegment.
func (e *Execution) RequestConnections(n int) {
	e.mu.Lock()
	e.pendingConn = n
	e.mu.Unlock()
}

func (e *Execution) handleRunErr(err error) *model.TaskRecord {
	e.mu.Lock()
	paused := e.pauseReq
	e.mu.Unlock()

	if paused || (errs.IsCanceled(err) && e.wasPauseRequested()) {
		e.record.State = model.StatePaused
		e.persist()
		e.setState(model.ObservedState{Kind: model.ObservedPaused})
		return e.record
	}
	if errs.IsCanceled(err) {
		e.record.State = model.StateCanceled
		e.persist()
		e.setState(model.ObservedState{Kind: model.ObservedCanceled})
		return e.record
	}
	return e.fail(err)
}

func (e *Execution) wasPauseRequested() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pauseReq
}

func (e *Execution) fail(err error) *model.TaskRecord {
	ee, ok := errs.As(err)
	if !ok {
		ee = errs.Unknown(err)
	}
	e.record.State = model.StateFailed
	e.record.Error = &model.ErrorRecord{
		Kind:       ee.Kind.String(),
		Code:       ee.Code,
		SourceType: ee.SourceType,
		Reason:     ee.Reason,
		Message:    ee.Error(),
	}
	e.persist()
	e.setState(model.ObservedState{Kind: model.ObservedFailed, Err: e.record.Error})
	return e.record
}

// finalize syncs and closes the accessor, then renames the ".part" file
// to its final destination, matching the teacher's IncompleteSuffix
// pattern (internal/engine/types' IncompleteSuffix const).
func (e *Execution) finalize() *model.TaskRecord {
	e.mu.Lock()
	f := e.file
	e.mu.Unlock()

	if err := f.Flush(); err != nil {
		return e.fail(err)
	}
	finalPath := strings.TrimSuffix(e.record.OutputPath, incompleteSuffix)
	if err := f.Rename(finalPath); err != nil {
		return e.fail(err)
	}

	e.record.OutputPath = finalPath
	e.record.State = model.StateCompleted
	e.persist()
	e.setState(model.ObservedState{Kind: model.ObservedCompleted, Path: finalPath})
	return e.record
}

const incompleteSuffix = ".part"

// identityMismatch compares a resume probe's freshly resolved metadata
// against what was captured the first time the task ran, returning a
// human-readable reason if the server-side resource appears to have
// changed (spec.md §7 ValidationFailed, §4.8 Resume). An empty string
// means the identity check passed.
func identityMismatch(rec *model.TaskRecord, resolved model.ResolvedSource) string {
	if rec.TotalBytes > 0 && resolved.TotalBytes > 0 && rec.TotalBytes != resolved.TotalBytes {
		return fmt.Sprintf("size changed: expected %d bytes, server now reports %d", rec.TotalBytes, resolved.TotalBytes)
	}
	for _, key := range [...]string{"etag", "last_modified"} {
		prev := rec.SourceMetadata[key]
		cur := resolved.Metadata[key]
		if prev != "" && cur != "" && prev != cur {
			return fmt.Sprintf("%s mismatch: expected %q, server now reports %q", key, prev, cur)
		}
	}
	return ""
}

// prepareOutput resolves the destination path (picking a unique name for
// a fresh download, reusing the persisted path for a resume), and opens
// the accessor against its ".part" form.
func (e *Execution) prepareOutput(resolved model.ResolvedSource, resuming bool) error {
	if resuming {
		f, err := fileio.Open(e.record.OutputPath)
		if err != nil {
			return err
		}
		e.mu.Lock()
		e.file = f
		e.mu.Unlock()
		return nil
	}

	dest := e.record.Request.Destination
	name := resolved.SuggestedFileName
	if name == "" {
		name = "download.bin"
	}

	var finalPath string
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		finalPath = filepath.Join(dest, name)
	} else if dest != "" {
		finalPath = dest
	} else {
		finalPath = name
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
		return errs.Disk(err)
	}
	finalPath = uniqueFilePath(finalPath)

	f, err := fileio.Open(finalPath + incompleteSuffix)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.file = f
	e.mu.Unlock()
	e.record.OutputPath = finalPath + incompleteSuffix
	return nil
}

// uniqueFilePath returns a collision-free path by appending "(1)", "(2)",
// etc., adapted from the teacher's internal/download/manager.go of the
// same name (same probing order: final path, then its ".part" form).
func uniqueFilePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if _, err := os.Stat(path + incompleteSuffix); os.IsNotExist(err) {
			return path
		}
	}

	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	name := strings.TrimSuffix(filepath.Base(path), ext)

	base := name
	counter := 1
	if len(name) > 3 && name[len(name)-1] == ')' {
		if openParen := strings.LastIndexByte(name, '('); openParen != -1 {
			numStr := name[openParen+1 : len(name)-1]
			if num, err := strconv.Atoi(numStr); err == nil && num > 0 {
				base = name[:openParen]
				counter = num + 1
			}
		}
	}

	for i := 0; i < 100; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s(%d)%s", base, counter+i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			if _, err := os.Stat(candidate + incompleteSuffix); os.IsNotExist(err) {
				return candidate
			}
		}
	}
	return path
}

func (e *Execution) persist() {
	e.record.UpdatedAt = time.Now()
	if e.st == nil {
		return
	}
	if err := e.st.Save(e.record); err != nil {
		e.log.Debug("execution %s: persist failed: %v", e.taskID, err)
	}
}

func (e *Execution) setState(s model.ObservedState) {
	if e.onState != nil {
		e.onState(s)
	}
}
