package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRanges(t *testing.T) {
	tests := []struct {
		name string
		in   []TimeRange
		want []TimeRange
	}{
		{name: "empty", in: nil, want: nil},
		{
			name: "sorts and merges adjacent",
			in:   []TimeRange{{4, 8}, {0, 4}, {10, 14}},
			want: []TimeRange{{0, 8}, {10, 14}},
		},
		{
			name: "tolerance bridges tiny gaps",
			in:   []TimeRange{{0, 3.99}, {4, 8}},
			want: []TimeRange{{0, 8}},
		},
		{
			name: "drops empty ranges",
			in:   []TimeRange{{5, 5}, {1, 2}},
			want: []TimeRange{{1, 2}},
		},
		{
			name: "overlap keeps the larger end",
			in:   []TimeRange{{0, 10}, {2, 4}},
			want: []TimeRange{{0, 10}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeRanges(tt.in, 0.05))
		})
	}
}

func TestIntersectRanges(t *testing.T) {
	video := []TimeRange{{0, 8}, {10, 14}}
	audio := []TimeRange{{0, 6}, {7, 12}}

	assert.Equal(t, []TimeRange{{0, 6}, {7, 8}, {10, 12}}, IntersectRanges(video, audio))
	assert.Equal(t, video, IntersectRanges(video))
	assert.Nil(t, IntersectRanges())
	assert.Empty(t, IntersectRanges(video, nil))
}

func TestBufferedAhead(t *testing.T) {
	ranges := []TimeRange{{0, 8}, {10, 14}}

	assert.InDelta(t, 6.0, BufferedAhead(ranges, 2, 0), 1e-9)
	assert.InDelta(t, 0.0, BufferedAhead(ranges, 9, 0), 1e-9)
	assert.InDelta(t, 4.0, BufferedAhead(ranges, 10, 0), 1e-9)

	end, ok := BufferedEnd(ranges, 8.05, 0.1)
	assert.True(t, ok)
	assert.InDelta(t, 8.0, end, 1e-9)

	next, ok := NextRangeStart(ranges, 8)
	assert.True(t, ok)
	assert.InDelta(t, 10.0, next, 1e-9)
	_, ok = NextRangeStart(ranges, 12)
	assert.False(t, ok)
}
