package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/surge/internal/engine/model"
)

func TestPlan_CoversEveryByteExactlyOnce(t *testing.T) {
	segs := Plan(10_000_000, 4)
	require.Len(t, segs, 4)

	var covered int64
	for i, s := range segs {
		assert.Equal(t, i, s.Index)
		if i > 0 {
			assert.Equal(t, segs[i-1].End+1, s.Start, "segments must be contiguous")
		}
		covered += s.Length()
	}
	assert.Equal(t, segs[len(segs)-1].End, int64(9_999_999))
	assert.Equal(t, int64(10_000_000), covered)
}

func TestPlan_ClampsConnectionsToByteCount(t *testing.T) {
	segs := Plan(3, 10)
	require.Len(t, segs, 3)
	for i, s := range segs {
		assert.Equal(t, int64(1), s.Length(), "segment %d", i)
	}
}

func TestPlan_RemainderGoesToEarliestSegments(t *testing.T) {
	segs := Plan(10, 4)
	require.Len(t, segs, 4)
	// 10/4 = 2 remainder 2: first two segments get 3 bytes, the rest get 2.
	assert.Equal(t, int64(3), segs[0].Length())
	assert.Equal(t, int64(3), segs[1].Length())
	assert.Equal(t, int64(2), segs[2].Length())
	assert.Equal(t, int64(2), segs[3].Length())
}

func TestPlan_ZeroOrNegativeConnectionsClampedToOne(t *testing.T) {
	segs := Plan(1000, 0)
	require.Len(t, segs, 1)
	assert.Equal(t, int64(0), segs[0].Start)
	assert.Equal(t, int64(999), segs[0].End)
}

func TestPlan_UnknownSizeReturnsSingleUnboundedSegment(t *testing.T) {
	segs := Plan(0, 4)
	require.Len(t, segs, 1)
	assert.Equal(t, int64(-1), segs[0].End)

	segs = Plan(-1, 4)
	require.Len(t, segs, 1)
	assert.Equal(t, int64(-1), segs[0].End)
}

func TestResegment_PreservesCompleteAndInFlightSegments(t *testing.T) {
	current := []model.Segment{
		{Index: 0, Start: 0, End: 999, DownloadedBytes: 1000},   // complete
		{Index: 1, Start: 1000, End: 1999, DownloadedBytes: 500}, // in flight
		{Index: 2, Start: 2000, End: 2999, DownloadedBytes: 0},   // untouched
	}

	out := Resegment(current, 2)

	require.GreaterOrEqual(t, len(out), 2)
	assert.Equal(t, current[0], out[0])
	assert.Equal(t, current[1], out[1])

	var coveredRemainder int64
	for _, s := range out[2:] {
		assert.GreaterOrEqual(t, s.Start, int64(2000))
		coveredRemainder += s.Length()
	}
	assert.Equal(t, int64(1000), coveredRemainder)
}

func TestResegment_NothingLeftToRedistribute(t *testing.T) {
	current := []model.Segment{
		{Index: 0, Start: 0, End: 999, DownloadedBytes: 1000},
	}
	out := Resegment(current, 4)
	assert.Equal(t, current, out)
}

func TestResegment_EmptyInput(t *testing.T) {
	assert.Empty(t, Resegment(nil, 4))
}

func TestTotalDownloaded(t *testing.T) {
	segs := []model.Segment{
		{DownloadedBytes: 100},
		{DownloadedBytes: 250},
	}
	assert.Equal(t, int64(350), TotalDownloaded(segs))
}

func TestAllComplete(t *testing.T) {
	complete := []model.Segment{
		{Start: 0, End: 99, DownloadedBytes: 100},
		{Start: 100, End: 199, DownloadedBytes: 100},
	}
	assert.True(t, AllComplete(complete))

	incomplete := append(append([]model.Segment{}, complete...), model.Segment{Start: 200, End: 299, DownloadedBytes: 50})
	assert.False(t, AllComplete(incomplete))
}
