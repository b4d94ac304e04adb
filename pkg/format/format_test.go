package format

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1536, "1.5 KB"},
		{64 << 20, "64.0 MB"},
		{3 << 30, "3.0 GB"},
		{-2048, "-2.0 KB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Bytes(tt.in))
	}
}

func TestCount(t *testing.T) {
	assert.Equal(t, "1,234,567", Count(1234567))
	assert.Equal(t, "42", Count(42))
}

func TestPosition(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0:00.0"},
		{65, "1:05.0"},
		{3725.5, "1:02:05.5"},
		{59.96, "1:00.0"},
		{-2.5, "-0:02.5"},
		{math.NaN(), "-"},
		{math.Inf(1), "live"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Position(tt.in))
	}
}
