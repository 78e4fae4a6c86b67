package news

import (
	"testing"
	"time"
)

func TestQuietHoursContains(t *testing.T) {
	q := DefaultQuietHours()
	day := func(h, m int) time.Time { return time.Date(2024, 3, 8, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"evening trading", day(23, 56), false},
		{"start inclusive", day(23, 57), true},
		{"midnight", day(0, 0), true},
		{"end inclusive", day(2, 5), true},
		{"after end", day(2, 6), false},
		{"midday", day(12, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := q.Contains(tt.t); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}

	sameDay := QuietHours{Start: ClockTime{Hour: 12}, End: ClockTime{Hour: 13}}
	if !sameDay.Contains(day(12, 30)) || sameDay.Contains(day(14, 0)) {
		t.Error("Expected a non-wrapping session to contain only its own span")
	}
}

func TestQuietHoursNextEnd(t *testing.T) {
	q := DefaultQuietHours()

	got := q.NextEnd(time.Date(2024, 3, 8, 1, 0, 0, 0, time.UTC))
	if want := time.Date(2024, 3, 8, 2, 5, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	got = q.NextEnd(time.Date(2024, 3, 8, 2, 5, 0, 0, time.UTC))
	if want := time.Date(2024, 3, 9, 2, 5, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("23:57")
	if err != nil || c != (ClockTime{23, 57, 0}) {
		t.Errorf("Expected 23:57, got %v %v", c, err)
	}
	if _, err := ParseClock("25:00"); err == nil {
		t.Error("Expected an error for an invalid hour")
	}
}
