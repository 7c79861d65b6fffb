package dealer

import (
	"time"

	"llm-dealer/internal/store"
)

const minutesPerDay = 24 * 60

type window struct{ start, end int }

func (w window) contains(m int) bool { return w.start <= m && m <= w.end }

func minuteOfDay(t time.Time) int { return t.Hour()*60 + t.Minute() }

func clockMinutes(s string) (int, error) {
	d, err := store.ParseClock(s)
	if err != nil {
		return 0, err
	}
	return int(d / time.Minute), nil
}

// inSession reports whether t falls inside any configured trading session.
func (d *Dealer) inSession(t time.Time) bool {
	m := minuteOfDay(t)
	for _, w := range d.sessions {
		if w.contains(m) {
			return true
		}
	}
	return false
}

const (
	daySessionStart   = 9 * 60
	nightSessionStart = 21 * 60
)

// tradingDate is the date that owns t for carrying lots. Bars after
// midnight but before the day session belong to the night session that
// opened the previous evening.
func tradingDate(t time.Time) string {
	if minuteOfDay(t) < daySessionStart {
		t = t.AddDate(0, 0, -1)
	}
	return t.Format(time.DateOnly)
}

// forcedCloseSession names the session whose forced-close window contains
// t, or returns "" when positions may be held. The day window starts at the
// day close and runs to the night open; the night window is the configured
// number of minutes before the night close and may wrap midnight.
func (d *Dealer) forcedCloseSession(t time.Time) string {
	m := minuteOfDay(t)
	if m >= daySessionStart && m < nightSessionStart {
		if m >= d.dayClose {
			return "day"
		}
		return ""
	}
	if d.nightClose < 0 {
		return ""
	}
	start := (d.nightClose - d.forceWindow + minutesPerDay) % minutesPerDay
	if start <= d.nightClose {
		if m >= start && m <= d.nightClose {
			return "night"
		}
		return ""
	}
	if m >= start || m <= d.nightClose {
		return "night"
	}
	return ""
}
