// Package slots derives bookable appointment times from a doctor's working
// hours. Everything here is a pure function of its inputs.
package slots

import (
	"errors"
	"fmt"
	"time"
)

const (
	// LookAhead is how far past "now" a same-day slot must start to be offered.
	LookAhead = 30 * time.Minute
	// MaxSlots bounds a single day's slot list, earliest first.
	MaxSlots = 12
)

var ErrInvalidScheduleConfig = errors.New("invalid schedule config")

// WorkingHours is a doctor's daily window and consultation length.
type WorkingHours struct {
	Start               string `json:"start"`
	End                 string `json:"end"`
	ConsultationMinutes int    `json:"consultationMinutes"`
}

// Validate reports ErrInvalidScheduleConfig for malformed hours.
func (wh WorkingHours) Validate() error {
	_, _, _, err := wh.parse()
	return err
}

func (wh WorkingHours) parse() (start, end Clock, step int, err error) {
	start, err = ParseClock(wh.Start)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: start: %v", ErrInvalidScheduleConfig, err)
	}
	end, err = ParseClock(wh.End)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: end: %v", ErrInvalidScheduleConfig, err)
	}
	if start >= end {
		return 0, 0, 0, fmt.Errorf("%w: start %s is not before end %s", ErrInvalidScheduleConfig, start, end)
	}
	step = wh.ConsultationMinutes
	if step <= 0 {
		return 0, 0, 0, fmt.Errorf("%w: consultation minutes must be positive, got %d", ErrInvalidScheduleConfig, step)
	}
	if step > int(end-start) {
		return 0, 0, 0, fmt.Errorf("%w: consultation of %d minutes does not fit %s-%s", ErrInvalidScheduleConfig, step, start, end)
	}
	return start, end, step, nil
}

// Slot is a candidate appointment start. It is derived per request and
// never cached.
type Slot struct {
	Date  Date   `json:"date"`
	Time  string `json:"time"`
	Label string `json:"label"`
}

func newSlot(d Date, c Clock) Slot {
	return Slot{Date: d, Time: c.String(), Label: c.Label()}
}

// Generate lists the slots a doctor offers on date as seen at now.
//
// Slots start at wh.Start and advance by the consultation length while the
// consultation still ends by wh.End. When date is today (in now's location)
// slots starting before now+LookAhead are dropped; past dates offer nothing.
// At most MaxSlots are returned.
func Generate(wh WorkingHours, date Date, now time.Time) ([]Slot, error) {
	start, end, step, err := wh.parse()
	if err != nil {
		return nil, err
	}

	out := make([]Slot, 0, MaxSlots)

	today := DateOf(now)
	if date.Before(today) {
		return out, nil
	}

	sameDay := date == today
	threshold := now.Add(LookAhead)

	for c := start; int(c)+step <= int(end) && len(out) < MaxSlots; c += Clock(step) {
		if sameDay && at(date, c, now.Location()).Before(threshold) {
			continue
		}
		out = append(out, newSlot(date, c))
	}
	return out, nil
}

// Contains reports whether hhmm is one of the offered slot times.
func Contains(offered []Slot, hhmm string) bool {
	for _, s := range offered {
		if s.Time == hhmm {
			return true
		}
	}
	return false
}

// Without drops every slot whose time is in taken, keeping order.
func Without(offered []Slot, taken map[string]struct{}) []Slot {
	out := make([]Slot, 0, len(offered))
	for _, s := range offered {
		if _, ok := taken[s.Time]; ok {
			continue
		}
		out = append(out, s)
	}
	return out
}

func at(d Date, c Clock, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, c.Hour(), c.Minute(), 0, 0, loc)
}
