package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndFormatTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2025-01-01T00:00:00Z", "2025-01-01T00:00:00Z"},
		{"2025-01-01T00:00:00+00:00", "2025-01-01T00:00:00Z"},
		{"2025-01-01T02:30:00+02:30", "2025-01-01T00:00:00Z"},
		{"2024-12-31T23:00:00-05:00", "2025-01-01T04:00:00Z"},
		{"2025-01-01T00:00:00+0100", "2024-12-31T23:00:00Z"},
		{"2025-01-01 08:00:00Z", "2025-01-01T08:00:00Z"},
		{"2024-03-01T10:00:00+05", "2024-03-01T05:00:00Z"},
		{"2024-03-01 10:00:00-03", "2024-03-01T13:00:00Z"},
		{"2025-01-01T08:00:00", "2025-01-01T08:00:00Z"},
		{"2025-01-01T08:00:00.123Z", "2025-01-01T08:00:00.123000Z"},
		{"2025-01-01T08:00:00.1234567Z", "2025-01-01T08:00:00.123456Z"},
		{"2025-01-01T08:00Z", "2025-01-01T08:00:00Z"},
		{"2025-01-01", "2025-01-01T00:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ts, err := ParseTimestamp(tt.in)
			require.NoError(t, err)
			assert.Equal(t, time.UTC, ts.Location())
			assert.Equal(t, tt.want, FormatTimestamp(ts))
		})
	}
}

func TestParseTimestampRejects(t *testing.T) {
	for _, in := range []string{"", "   ", "not a time", "2025-13-01T00:00:00Z", "01/02/2025"} {
		_, err := ParseTimestamp(in)
		assert.ErrorIs(t, err, ErrInvalidTimestamp, in)
	}
}

func TestPartitionDate(t *testing.T) {
	dt, ok := PartitionDate("2025-01-01T23:59:59Z")
	assert.True(t, ok)
	assert.Equal(t, "2025-01-01", dt)

	_, ok = PartitionDate("garbage")
	assert.False(t, ok)
}
