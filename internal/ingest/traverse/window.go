package traverse

import (
	"time"

	"github.com/capitolmirror/capitolmirror/internal/domain"
)

// Window is one contiguous date range for a single family: the unit of
// parallel dispatch. From is inclusive, To exclusive, both at UTC midnight.
type Window struct {
	Family domain.Family
	From   time.Time
	To     time.Time
}

// Days returns the calendar dates the window covers, oldest first.
func (w Window) Days() []time.Time {
	var days []time.Time
	for d := w.From; d.Before(w.To); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Split chunks [from, to) into contiguous sub-windows of at most
// maxRangeDays each, clamped below at minDate. An empty or inverted window
// yields no sub-windows.
func Split(f domain.Family, from, to time.Time, maxRangeDays int, minDate time.Time) []Window {
	from = midnight(from)
	to = midnight(to)
	if from.Before(minDate) {
		from = midnight(minDate)
	}
	if !from.Before(to) {
		return nil
	}
	if maxRangeDays <= 0 {
		maxRangeDays = 365
	}

	var windows []Window
	for cur := from; cur.Before(to); {
		end := cur.AddDate(0, 0, maxRangeDays)
		if end.After(to) {
			end = to
		}
		windows = append(windows, Window{Family: f, From: cur, To: end})
		cur = end
	}
	return windows
}

func midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
