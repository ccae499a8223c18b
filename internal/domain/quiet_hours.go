package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// QuietWindow is a tenant's daily do-not-send window in UTC minutes of day.
// Start == End disables the window. Start > End wraps past midnight, so the
// window is [Start,1440) plus [0,End).
type QuietWindow struct {
	Start int
	End   int
}

// ParseQuietWindow builds a window from the tenant's HH:MM settings. Both
// empty means no window. A single missing or malformed bound is a tenant
// misconfiguration.
func ParseQuietWindow(startHHMM, endHHMM string) (QuietWindow, error) {
	if startHHMM == "" && endHHMM == "" {
		return QuietWindow{}, nil
	}
	start, err := parseMinuteOfDay(startHHMM)
	if err != nil {
		return QuietWindow{}, fmt.Errorf("quiet_hours_start: %w", err)
	}
	end, err := parseMinuteOfDay(endHHMM)
	if err != nil {
		return QuietWindow{}, fmt.Errorf("quiet_hours_end: %w", err)
	}
	return QuietWindow{Start: start, End: end}, nil
}

func parseMinuteOfDay(s string) (int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("%q: %w", s, ErrTenantMisconfigured)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%q: %w", s, ErrTenantMisconfigured)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%q: %w", s, ErrTenantMisconfigured)
	}
	return h*60 + m, nil
}

// Zero reports whether the window is disabled.
func (w QuietWindow) Zero() bool { return w.Start == w.End }

// Contains reports whether t (taken in UTC) falls inside the window. The
// window is half-open: the end minute itself is outside.
func (w QuietWindow) Contains(t time.Time) bool {
	if w.Zero() {
		return false
	}
	t = t.UTC()
	min := t.Hour()*60 + t.Minute()
	if w.Start < w.End {
		return min >= w.Start && min < w.End
	}
	return min >= w.Start || min < w.End
}

// NextAllowed returns the first instant at or after now that is outside the
// window, always strictly after now when now is inside. Second and
// sub-second components are dropped so the result lands exactly on the end
// minute.
func (w QuietWindow) NextAllowed(now time.Time) time.Time {
	now = now.UTC()
	if !w.Contains(now) {
		return now
	}
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	end := day.Add(time.Duration(w.End) * time.Minute)
	if !end.After(now) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}
