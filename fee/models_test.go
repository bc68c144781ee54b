package fee_test

import (
	"testing"
	"time"

	"github.com/xraph/bursar/fee"
)

func TestDueDayDueDate(t *testing.T) {
	kolkata := time.FixedZone("IST", 5*3600+1800)

	tests := []struct {
		name  string
		day   fee.DueDay
		year  int
		month time.Month
		loc   *time.Location
		want  time.Time
	}{
		{"day in range", "10", 2025, time.March, nil, time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)},
		{"31 clamps in april", "31", 2025, time.April, nil, time.Date(2025, time.April, 30, 0, 0, 0, 0, time.UTC)},
		{"30 clamps in leap february", "30", 2024, time.February, nil, time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC)},
		{"29 clamps in common february", "29", 2025, time.February, nil, time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC)},
		{"text means end of month", "end of month", 2025, time.February, nil, time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC)},
		{"empty means end of month", "", 2025, time.December, nil, time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC)},
		{"zero means end of month", "0", 2025, time.June, nil, time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC)},
		{"negative means end of month", "-3", 2025, time.June, nil, time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC)},
		{"spaces trimmed", " 5 ", 2025, time.July, nil, time.Date(2025, time.July, 5, 0, 0, 0, 0, time.UTC)},
		{"location kept", "1", 2025, time.January, kolkata, time.Date(2025, time.January, 1, 0, 0, 0, 0, kolkata)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.day.DueDate(tt.year, tt.month, tt.loc)
			if !got.Equal(tt.want) || got.Location().String() != tt.want.Location().String() {
				t.Errorf("DueDate(%d, %s) = %v, want %v", tt.year, tt.month, got, tt.want)
			}
		})
	}
}

func TestLastDayOfMonth(t *testing.T) {
	tests := []struct {
		year  int
		month time.Month
		want  int
	}{
		{2024, time.February, 29},
		{2025, time.February, 28},
		{1900, time.February, 28},
		{2000, time.February, 29},
		{2025, time.April, 30},
		{2025, time.December, 31},
	}
	for _, tt := range tests {
		if got := fee.LastDayOfMonth(tt.year, tt.month); got != tt.want {
			t.Errorf("LastDayOfMonth(%d, %s) = %d, want %d", tt.year, tt.month, got, tt.want)
		}
	}
}
