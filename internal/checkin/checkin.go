// Package checkin records member check-ins to events.
//
// A check-in is classified by how far it falls from the event start: more
// than EarlyThreshold before the start is early, within the thresholds is
// on-time, and anything after LateThreshold is late. A member checks in to an
// event at most once.
package checkin

import (
	"fmt"
	"time"

	apperrors "github.com/kimhsiao/attendsync/internal/errors"
	"github.com/kimhsiao/attendsync/internal/models"
)

// Punctuality thresholds around the event start.
const (
	EarlyThreshold = 15 * time.Minute
	LateThreshold  = 15 * time.Minute
)

// Result is the outcome of one check-in attempt.
type Result struct {
	Success          bool                    `json:"success"`
	AlreadyCheckedIn bool                    `json:"already_checked_in,omitempty"`
	Member           *models.Member          `json:"member,omitempty"`
	Status           models.AttendanceStatus `json:"status,omitempty"`
	// Attendance is the stored record on success and the earlier record on a
	// duplicate.
	Attendance *models.Attendance `json:"attendance,omitempty"`
	// PreviousCheckIn is the time of the earlier check-in on a duplicate.
	PreviousCheckIn *time.Time `json:"previous_check_in,omitempty"`
	Message         string     `json:"message"`
}

// ProcessCheckIn classifies a check-in of member at the given time to an event
// starting at start. A non-nil previous record makes it a duplicate.
func ProcessCheckIn(member *models.Member, start, at time.Time, previous *models.Attendance) *Result {
	if previous != nil {
		prev := models.MillisTime(previous.CheckInAt)
		return &Result{
			AlreadyCheckedIn: true,
			Member:           member,
			Attendance:       previous,
			PreviousCheckIn:  &prev,
			Message:          fmt.Sprintf("Already checked in at %s", prev.Format(time.Kitchen)),
		}
	}

	minutes := minutesBetween(start, at)
	res := &Result{Success: true, Member: member}
	switch {
	case minutes < -int64(EarlyThreshold/time.Minute):
		res.Status = models.AttendanceEarly
		res.Message = fmt.Sprintf("%s - Early", member.FullName)
	case minutes <= int64(LateThreshold/time.Minute):
		res.Status = models.AttendanceOnTime
		res.Message = fmt.Sprintf("%s - On-time", member.FullName)
	default:
		res.Status = models.AttendanceLate
		res.Message = fmt.Sprintf("%s - Late (%d mins)", member.FullName, minutes)
	}
	return res
}

// minutesBetween returns the whole minutes from start to at, rounded down.
func minutesBetween(start, at time.Time) int64 {
	d := at.Sub(start)
	m := int64(d / time.Minute)
	if d < 0 && d%time.Minute != 0 {
		m--
	}
	return m
}

// EventStart returns the start of e in loc.
func EventStart(e *models.Event, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation("2006-01-02 "+models.TimeLayout, e.Date+" "+e.StartTime, loc)
	if err != nil {
		return time.Time{}, apperrors.Wrap(apperrors.ErrValidation,
			fmt.Sprintf("invalid event start %q %q", e.Date, e.StartTime), err)
	}
	return t, nil
}
