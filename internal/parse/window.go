package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"parking-slots-backend/internal/apperr"
	"parking-slots-backend/internal/model"
)

const dateLayout = "2006-01-02"

var clockRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?$`)

// Clock holds a wall-clock time of day.
type Clock struct {
	Hour, Minute, Second int
}

// ParseClock accepts "H:MM", "HH:MM" and "HH:MM:SS" in 24-hour notation.
func ParseClock(raw string) (Clock, error) {
	m := clockRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Clock{}, fmt.Errorf("unable to parse clock time: %q", raw)
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	s := 0
	if m[3] != "" {
		s, _ = strconv.Atoi(m[3])
	}
	if h > 23 || mi > 59 || s > 59 {
		return Clock{}, fmt.Errorf("clock time out of range: %q", raw)
	}
	return Clock{Hour: h, Minute: mi, Second: s}, nil
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(raw string) (time.Time, error) {
	d, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("unable to parse date %q: %w", raw, err)
	}
	return d, nil
}

// Window builds a booking window from a calendar date and two wall-clock times,
// interpreted in loc. Both times belong to the same date and start must precede end.
func Window(date, start, end string, loc *time.Location) (model.TimeWindow, error) {
	v := &apperr.ValidationError{}

	d, err := ParseDate(date)
	if err != nil {
		v.Add("bookingDate", "must be a YYYY-MM-DD date")
	}
	sc, err := ParseClock(start)
	if err != nil {
		v.Add("startTime", "must be a HH:MM time")
	}
	ec, err := ParseClock(end)
	if err != nil {
		v.Add("endTime", "must be a HH:MM time")
	}
	if err := v.OrNil(); err != nil {
		return model.TimeWindow{}, err
	}

	return model.NewTimeWindow(sc.On(d, loc), ec.On(d, loc))
}

// On places the clock on the calendar day of d in loc.
func (c Clock) On(d time.Time, loc *time.Location) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour, c.Minute, c.Second, 0, loc)
}

// FormatDate renders t's calendar date in loc.
func FormatDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dateLayout)
}
