// Package segment implements C6, the SegmentPlanner: pure functions that
// turn a total byte count and a connection count into a contiguous,
// non-overlapping set of model.Segment ranges, and that re-derive such a
// set when the connection count changes mid-download. It is grounded on
// the teacher's createTasks/calculateChunkSize
// (internal/engine/concurrent/downloader.go), generalised from the
// teacher's ad hoc types.Task{Offset,Length} to model.Segment and from a
// chunk-size heuristic to a fixed connection count (spec.md §4.6 pins
// "connections", not chunk size, as the planning input).
package segment

import "github.com/surge-downloader/surge/internal/engine/model"

// Plan splits [0, totalBytes) into N = min(connections, totalBytes)
// contiguous, non-overlapping segments covering every byte exactly once,
// per spec.md §4.6: even integer division with the remainder distributed
// to the earliest segments, one extra byte each. connections is clamped to
// totalBytes (never more segments than bytes) and to at least 1. If
// totalBytes <= 0, Plan returns a single unbounded segment (End == -1)
// representing a streaming, non-resumable download.
func Plan(totalBytes int64, connections int) []model.Segment {
	if totalBytes <= 0 {
		return []model.Segment{{Index: 0, Start: 0, End: -1}}
	}
	if connections < 1 {
		connections = 1
	}
	if int64(connections) > totalBytes {
		connections = int(totalBytes)
	}

	base := totalBytes / int64(connections)
	remainder := totalBytes % int64(connections)

	segs := make([]model.Segment, 0, connections)
	var start int64
	for idx := 0; idx < connections; idx++ {
		size := base
		if int64(idx) < remainder {
			size++
		}
		end := start + size - 1
		segs = append(segs, model.Segment{Index: idx, Start: start, End: end})
		start = end + 1
	}
	return segs
}

// Resegment redistributes the undownloaded tail of current into newCount
// fresh segments, preserving every segment that is already complete or
// partially downloaded in place (spec.md §4.6: "resegmentation never
// discards bytes already written"). Only the suffix of work not yet
// started is split differently; segments already in flight keep their
// existing boundaries so in-progress writes remain valid.
func Resegment(current []model.Segment, newCount int) []model.Segment {
	if newCount < 1 {
		newCount = 1
	}
	if len(current) == 0 {
		return current
	}

	var kept []model.Segment
	var remainderStart int64 = -1
	var remainderEnd int64
	for _, s := range current {
		if s.IsComplete() || s.DownloadedBytes > 0 {
			kept = append(kept, s)
			continue
		}
		if remainderStart == -1 {
			remainderStart = s.Start
		}
		remainderEnd = s.End
	}

	if remainderStart == -1 {
		return kept // nothing left to redistribute
	}

	untouchedBytes := remainderEnd - remainderStart + 1
	freshCount := newCount
	if int64(freshCount) > untouchedBytes {
		freshCount = int(untouchedBytes)
	}
	if freshCount < 1 {
		freshCount = 1
	}

	fresh := Plan(untouchedBytes, freshCount)
	nextIdx := nextIndex(kept)
	out := append([]model.Segment{}, kept...)
	for _, s := range fresh {
		out = append(out, model.Segment{
			Index: nextIdx,
			Start: s.Start + remainderStart,
			End:   s.End + remainderStart,
		})
		nextIdx++
	}
	return out
}

func nextIndex(segs []model.Segment) int {
	max := -1
	for _, s := range segs {
		if s.Index > max {
			max = s.Index
		}
	}
	return max + 1
}

// TotalDownloaded sums DownloadedBytes across segs, for progress reporting
// and for deciding whether a task is complete.
func TotalDownloaded(segs []model.Segment) int64 {
	var total int64
	for _, s := range segs {
		total += s.DownloadedBytes
	}
	return total
}

// AllComplete reports whether every segment has been fully written.
func AllComplete(segs []model.Segment) bool {
	for _, s := range segs {
		if !s.IsComplete() {
			return false
		}
	}
	return true
}
