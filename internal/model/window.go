package model

import (
	"time"

	"parking-slots-backend/internal/apperr"
)

// TimeWindow is the half-open interval [Start, End) a booking occupies.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewTimeWindow validates that start is strictly before end.
func NewTimeWindow(start, end time.Time) (TimeWindow, error) {
	if !start.Before(end) {
		return TimeWindow{}, apperr.Invalid("window", "start time must be before end time")
	}
	return TimeWindow{Start: start, End: end}, nil
}

// Overlaps reports whether the two half-open windows share any instant.
// Windows that only touch (a.End == b.Start) do not overlap.
func (w TimeWindow) Overlaps(o TimeWindow) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Contains reports whether t falls inside [Start, End).
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Duration returns End - Start.
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// UTC returns the same window with both bounds in UTC.
func (w TimeWindow) UTC() TimeWindow {
	return TimeWindow{Start: w.Start.UTC(), End: w.End.UTC()}
}

// Instant is the zero-length probe [t, t+1s) used for "right now" availability.
func Instant(t time.Time) TimeWindow {
	t = t.Truncate(time.Second)
	return TimeWindow{Start: t, End: t.Add(time.Second)}
}
