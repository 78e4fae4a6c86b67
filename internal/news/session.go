package news

import (
	"fmt"
	"time"
)

// ClockTime is a time of day with second precision
type ClockTime struct {
	Hour, Minute, Second int
}

// ParseClock accepts "15:04" or "15:04:05"
func ParseClock(s string) (ClockTime, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return ClockTime{t.Hour(), t.Minute(), t.Second()}, nil
		}
	}
	return ClockTime{}, fmt.Errorf("invalid time of day %q", s)
}

func (c ClockTime) seconds() int {
	return c.Hour*3600 + c.Minute*60 + c.Second
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// On returns the clock time on the date of t, in t's location
func (c ClockTime) On(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, c.Second, 0, t.Location())
}

// QuietHours is the daily no-trading session. Start after End wraps midnight.
type QuietHours struct {
	Start ClockTime
	End   ClockTime
}

// DefaultQuietHours is 23:57 to 02:05
func DefaultQuietHours() QuietHours {
	return QuietHours{Start: ClockTime{23, 57, 0}, End: ClockTime{2, 5, 0}}
}

// Contains reports whether t falls inside the session, both ends inclusive
func (q QuietHours) Contains(t time.Time) bool {
	cur := ClockTime{t.Hour(), t.Minute(), t.Second()}.seconds()
	start, end := q.Start.seconds(), q.End.seconds()
	if start < end {
		return start <= cur && cur <= end
	}
	return start <= cur || cur <= end
}

// NextEnd is the first end of session strictly after t. The engine uses it to
// schedule the daily rollover.
func (q QuietHours) NextEnd(t time.Time) time.Time {
	end := q.End.On(t)
	if !end.After(t) {
		end = q.End.On(t.AddDate(0, 0, 1))
	}
	return end
}
