package checkin

import (
	"math"
	"time"

	"github.com/kimhsiao/attendsync/internal/models"
)

// Member status thresholds.
const (
	ActiveMinCheckIns = 3
	AtRiskAfterDays   = 14
)

// MemberStats summarizes a member's attendance history.
type MemberStats struct {
	Total           int                 `json:"total"`
	Early           int                 `json:"early"`
	OnTime          int                 `json:"on_time"`
	Late            int                 `json:"late"`
	Excused         int                 `json:"excused"`
	Absent          int                 `json:"absent"`
	PunctualityRate int                 `json:"punctuality_rate"`
	LastCheckIn     *time.Time          `json:"last_check_in,omitempty"`
	Status          models.MemberStatus `json:"status"`
}

// ComputeStats summarizes records as of now. Total counts every record;
// the status counts only check-ins within the last 30 days.
func ComputeStats(records []*models.Attendance, now time.Time) MemberStats {
	var (
		stats  MemberStats
		recent int
		last   int64
	)
	since := now.Add(-30 * 24 * time.Hour).UnixMilli()

	for _, a := range records {
		stats.Total++
		switch a.Status {
		case models.AttendanceEarly:
			stats.Early++
		case models.AttendanceOnTime:
			stats.OnTime++
		case models.AttendanceLate:
			stats.Late++
		case models.AttendanceExcused:
			stats.Excused++
		case models.AttendanceAbsent:
			stats.Absent++
		}
		if !a.Status.Present() {
			continue
		}
		if a.CheckInAt >= since {
			recent++
		}
		if a.CheckInAt > last {
			last = a.CheckInAt
		}
	}

	stats.PunctualityRate = PunctualityRate(stats.Early, stats.OnTime, stats.Total)
	days := -1
	if last != 0 {
		t := models.MillisTime(last)
		stats.LastCheckIn = &t
		days = int(now.Sub(t) / (24 * time.Hour))
	}
	stats.Status = DetermineMemberStatus(recent, days)
	return stats
}

// PunctualityRate returns the percentage of early and on-time check-ins,
// rounded to the nearest integer. It is zero when total is zero.
func PunctualityRate(early, onTime, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(early+onTime) / float64(total) * 100))
}

// DetermineMemberStatus classifies a member by the number of recent
// check-ins and the days since the last one. A negative daysSinceLast means
// the member never checked in.
func DetermineMemberStatus(count, daysSinceLast int) models.MemberStatus {
	switch {
	case count >= ActiveMinCheckIns:
		return models.MemberStatusActive
	case count >= 1:
		return models.MemberStatusIrregular
	case daysSinceLast > AtRiskAfterDays:
		return models.MemberStatusAtRisk
	}
	return models.MemberStatusInactive
}
