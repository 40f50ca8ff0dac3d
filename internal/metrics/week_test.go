package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWeekID(t *testing.T) {
	tests := []struct {
		date string
		want string
	}{
		{"2024-01-10", "2024-W02"},
		{"2024-01-01", "2024-W01"},
		{"2023-12-31", "2023-W52"}, // 周日归属上一周
		{"2024-12-30", "2025-W01"}, // 跨年周一归属下一年
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			day, err := time.Parse("2006-01-02", tt.date)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, weekID(day))
		})
	}
}

func TestPreviousWeekID(t *testing.T) {
	assert.Equal(t, "2024-W01", previousWeekID("2024-W02"))
	assert.Equal(t, "2023-W52", previousWeekID("2024-W01"))
	assert.Equal(t, "2024-W09", previousWeekID("2024-W10"))
	assert.Equal(t, "", previousWeekID("garbage"))
}

func TestWeekBounds(t *testing.T) {
	tests := []struct {
		date      string
		wantStart string
		wantEnd   string
	}{
		{"2024-01-10", "2024-01-08", "2024-01-14"}, // 周三
		{"2024-01-08", "2024-01-08", "2024-01-14"}, // 周一
		{"2024-01-14", "2024-01-08", "2024-01-14"}, // 周日
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			day, err := time.Parse("2006-01-02", tt.date)
			assert.NoError(t, err)
			start, end := weekBounds(day)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", FormatDuration(45))
	assert.Equal(t, "45s", FormatDuration(45.4))
	assert.Equal(t, "2m 5s", FormatDuration(125))
	assert.Equal(t, "1m 0s", FormatDuration(60))
	assert.Equal(t, "1h 2m", FormatDuration(3725))
	assert.Equal(t, "0s", FormatDuration(0))
}
