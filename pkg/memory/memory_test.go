package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBytes(t *testing.T) {
	tests := []struct {
		name     string
		quantity string
		want     int64
	}{
		{"binary gibibytes", "10Gi", 10 * 1024 * 1024 * 1024},
		{"decimal gigabytes", "10G", 10 * 1000 * 1000 * 1000},
		{"binary mebibytes", "512Mi", 512 * 1024 * 1024},
		{"bare bytes", "4096", 4096},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBytes(tt.quantity)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseBytes_Invalid(t *testing.T) {
	_, err := ParseBytes("not-a-quantity")
	assert.Error(t, err)
}

func TestHeapMegabytes(t *testing.T) {
	tests := []struct {
		name   string
		limit  string
		wantMB int64
	}{
		{"4GiB limit halves to 2048m", "4Gi", 2048},
		{"64GiB limit clamps to 31744m", "64Gi", 31744},
		{"exactly at the clamp boundary", "62Gi", 31 * 1024},
		{"just over the clamp boundary", "63Gi", 31 * 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HeapMegabytes(tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMB, got)
		})
	}
}

func TestHeapFlag(t *testing.T) {
	flag, err := HeapFlag("4Gi")
	require.NoError(t, err)
	assert.Equal(t, "2048m", flag)
}

func TestHeapNeverExceedsMax(t *testing.T) {
	for _, limit := range []string{"1Ti", "500Gi", "31Gi", "64Gi"} {
		mb, err := HeapMegabytes(limit)
		require.NoError(t, err)
		assert.LessOrEqual(t, mb*1024*1024, int64(MaxHeapBytes))
	}
}
