// Package model holds the engine's data model: DownloadRequest,
// ResolvedSource, Segment, TaskRecord, DownloadState and Progress, as
// specified for the download execution engine.
package model

import "time"

// Priority orders waiting tasks in the queue; URGENT may preempt an active,
// non-URGENT task.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityHigh:
		return "HIGH"
	case PriorityUrgent:
		return "URGENT"
	default:
		return "NORMAL"
	}
}

// SelectionMode describes how a multi-file source's files are chosen.
type SelectionMode int

const (
	SelectionSingle SelectionMode = iota
	SelectionMultiple
)

// DownloadSchedule gates admission until either a fixed instant or a
// recurrence (e.g. "next Wed 02:00 local") is reached.
type DownloadSchedule struct {
	At        time.Time `json:"at,omitempty"`
	Recurring bool      `json:"recurring,omitempty"`
	Weekday   time.Weekday `json:"weekday,omitempty"`
	HourOfDay int       `json:"hour_of_day,omitempty"`
	MinuteOfHour int    `json:"minute_of_hour,omitempty"`
}

// IsZero reports whether the schedule carries no gating information.
func (s *DownloadSchedule) IsZero() bool {
	return s == nil || (s.At.IsZero() && !s.Recurring)
}

// Condition is a named runtime predicate (network type, power state, ...)
// evaluated by an external PredicateSource; the scheduler only knows names.
type Condition string

const (
	ConditionWifiOnly   Condition = "WIFI_ONLY"
	ConditionUnmetered  Condition = "UNMETERED"
	ConditionCharging   Condition = "CHARGING"
)

// DownloadRequest is immutable once created.
type DownloadRequest struct {
	URL             string            `json:"url"`
	Destination     string            `json:"destination,omitempty"`
	Connections     int               `json:"connections,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	Priority        Priority          `json:"priority"`
	SpeedLimit      string            `json:"speed_limit,omitempty"` // "unlimited" | "500k" | "10m" | raw bytes
	SelectedFileIDs []string          `json:"selected_file_ids,omitempty"`
	Schedule        *DownloadSchedule `json:"schedule,omitempty"`
	Conditions      []Condition       `json:"conditions,omitempty"`
}

// SourceFile describes one selectable sub-file of a multi-file source
// (BitTorrent, archive-backed HTTP sources, ...).
type SourceFile struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Size     int64             `json:"size"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ResolvedSource is the outcome of DownloadSource.resolve.
type ResolvedSource struct {
	URL               string            `json:"url"`
	SourceType        string            `json:"source_type"`
	TotalBytes        int64             `json:"total_bytes"` // -1 when unknown
	SupportsResume    bool              `json:"supports_resume"`
	SuggestedFileName string            `json:"suggested_file_name,omitempty"`
	MaxSegments       int               `json:"max_segments"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	Files             []SourceFile      `json:"files,omitempty"`
	SelectionMode     SelectionMode     `json:"selection_mode"`
}

// Segment is a contiguous byte range of the output file assigned to one
// worker. Invariants are enforced by SegmentPlanner and checked by tests,
// not by the type itself.
type Segment struct {
	Index           int   `json:"index"`
	Start           int64 `json:"start"`
	End             int64 `json:"end"` // inclusive
	DownloadedBytes int64 `json:"downloaded_bytes"`
}

// Length returns the number of bytes the segment covers.
func (s Segment) Length() int64 { return s.End - s.Start + 1 }

// IsComplete reports whether every byte of the segment has been written.
func (s Segment) IsComplete() bool { return s.DownloadedBytes >= s.Length() }

// State enumerates TaskRecord.State values.
type State string

const (
	StateQueued      State = "QUEUED"
	StateScheduled   State = "SCHEDULED"
	StatePending     State = "PENDING"
	StateDownloading State = "DOWNLOADING"
	StatePaused      State = "PAUSED"
	StateCompleted   State = "COMPLETED"
	StateFailed      State = "FAILED"
	StateCanceled    State = "CANCELED"
)

// IsTerminal reports whether no further transition is possible without
// explicit user action recreating the task.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

// IsActive reports whether the task currently occupies an execution slot.
func (s State) IsActive() bool {
	return s == StateDownloading || s == StatePending
}

// IsRestorable reports whether loadAll should hand this record back to the
// queue on process start (every non-terminal state).
func (s State) IsRestorable() bool {
	return !s.IsTerminal()
}

// TaskRecord is the persisted, engine-owned record for one task. Mutated
// only through the atomic saver (see internal/store).
type TaskRecord struct {
	TaskID            string            `json:"task_id"`
	Request           DownloadRequest   `json:"request"`
	OutputPath        string            `json:"output_path,omitempty"`
	State             State             `json:"state"`
	TotalBytes        int64             `json:"total_bytes"`
	Error             *ErrorRecord      `json:"error,omitempty"`
	Segments          []Segment         `json:"segments,omitempty"`
	SourceType        string            `json:"source_type,omitempty"`
	SourceResumeState []byte            `json:"source_resume_state,omitempty"`
	SourceMetadata    map[string]string `json:"source_metadata,omitempty"`
	Preempted         bool              `json:"preempted,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// ErrorRecord is the serialisable projection of an *errs.Error, kept on the
// record so a restarted process can still show a typed failure reason.
type ErrorRecord struct {
	Kind       string `json:"kind"`
	Code       int    `json:"code,omitempty"`
	SourceType string `json:"source_type,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Message    string `json:"message"`
}

// Progress is the aggregated, throttled view of an active download.
type Progress struct {
	DownloadedBytes int64   `json:"downloaded_bytes"`
	TotalBytes      int64   `json:"total_bytes"`
	Percent         float64 `json:"percent"`
	BytesPerSecond  float64 `json:"bytes_per_second"`
}

// ObservedState is the discriminated union the task façade publishes:
// exactly one of its fields is meaningful, selected by Kind.
type ObservedStateKind string

const (
	ObservedIdle        ObservedStateKind = "Idle"
	ObservedScheduled   ObservedStateKind = "Scheduled"
	ObservedQueued      ObservedStateKind = "Queued"
	ObservedPending      ObservedStateKind = "Pending"
	ObservedDownloading ObservedStateKind = "Downloading"
	ObservedPaused      ObservedStateKind = "Paused"
	ObservedCompleted   ObservedStateKind = "Completed"
	ObservedFailed      ObservedStateKind = "Failed"
	ObservedCanceled    ObservedStateKind = "Canceled"
)

// ObservedState mirrors the DownloadState sum type of spec.md §3.
type ObservedState struct {
	Kind     ObservedStateKind `json:"kind"`
	When     time.Time         `json:"when,omitempty"`     // Scheduled
	Progress Progress          `json:"progress,omitempty"` // Downloading
	Path     string            `json:"path,omitempty"`     // Completed
	Err      *ErrorRecord      `json:"error,omitempty"`    // Failed
}

func (s ObservedState) IsTerminal() bool {
	switch s.Kind {
	case ObservedCompleted, ObservedFailed, ObservedCanceled:
		return true
	default:
		return false
	}
}

func (s ObservedState) IsActive() bool {
	return s.Kind == ObservedDownloading || s.Kind == ObservedPending
}
