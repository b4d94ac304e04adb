package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		input   string
		want    Size
		wantErr bool
	}{
		{"1024", 1024, false},
		{"1024B", 1024, false},
		{"5KB", 5 * KB, false},
		{"5 kib", 5 * KB, false},
		{"64MB", 64 * MB, false},
		{"1.5GB", GB + GB/2, false},
		{"", 0, true},
		{"abc", 0, true},
		{"5XB", 0, true},
		{"-5MB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		input   string
		want    Rate
		wantErr bool
	}{
		{"1000000", 1_000_000, false},
		{"800k", 800_000, false},
		{"800kbps", 800_000, false},
		{"2.5Mbps", 2_500_000, false},
		{"2.5 Mbit/s", 2_500_000, false},
		{"1G", 1_000_000_000, false},
		{"fast", 0, true},
		{"5 furlongs", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseRate(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0B", FormatSize(0))
	assert.Equal(t, "512B", FormatSize(512))
	assert.Equal(t, "64MB", FormatSize(64*MB))
	assert.Equal(t, "1.5GB", FormatSize(GB+GB/2))
	assert.Equal(t, "-2KB", FormatSize(-2*KB))

	assert.Equal(t, "0bps", FormatRate(0))
	assert.Equal(t, "1Mbps", FormatRate(MBPS))
	assert.Equal(t, "2.5Mbps", FormatRate(2_500_000))
	assert.Equal(t, "128kbps", FormatRate(128_000))
	assert.Equal(t, "999bps", Rate(999).String())
}
