package checkin

import (
	"context"
	"time"

	"github.com/kimhsiao/attendsync/internal/db"
	apperrors "github.com/kimhsiao/attendsync/internal/errors"
	"github.com/kimhsiao/attendsync/internal/logging"
	"github.com/kimhsiao/attendsync/internal/models"
)

// Store is the subset of the local store the check-in flow needs.
type Store interface {
	MemberByQRCode(ctx context.Context, code string) (*models.Member, error)
	TodayEvent(ctx context.Context, date string) (*models.Event, error)
	FindAttendance(ctx context.Context, member, event db.IDs) (*models.Attendance, error)
	MemberAttendance(ctx context.Context, member db.IDs) ([]*models.Attendance, error)
	Save(ctx context.Context, e models.Entity, action models.Action) error
}

// Config holds check-in service settings.
type Config struct {
	// RecordedBy identifies the operator recording check-ins.
	RecordedBy string
	// Location is the time zone of event dates and start times.
	Location *time.Location
}

// Service records check-ins in the local store. Every recorded check-in is
// queued for sync.
type Service struct {
	store      Store
	recordedBy string
	loc        *time.Location
	now        func() time.Time
}

// NewService creates a new Service.
func NewService(store Store, cfg Config) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		store:      store,
		recordedBy: cfg.RecordedBy,
		loc:        loc,
		now:        time.Now,
	}
}

// TodayEvent returns the open event scheduled today.
func (s *Service) TodayEvent(ctx context.Context) (*models.Event, error) {
	today := s.now().In(s.loc).Format("2006-01-02")
	e, err := s.store.TodayEvent(ctx, today)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.New(apperrors.ErrEventNotFound, "no active event today")
	}
	return e, err
}

// CheckInByQR checks in the member carrying code.
func (s *Service) CheckInByQR(ctx context.Context, event *models.Event, code string) (*Result, error) {
	member, err := s.store.MemberByQRCode(ctx, code)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.New(apperrors.ErrMemberNotFound, "QR code not recognized")
	}
	if err != nil {
		return nil, err
	}
	return s.CheckInMember(ctx, event, member, models.MethodQRScan)
}

// CheckInMember checks member in to event. A duplicate returns a Result with
// AlreadyCheckedIn set and no error.
func (s *Service) CheckInMember(ctx context.Context, event *models.Event, member *models.Member, method models.CheckInMethod) (*Result, error) {
	if event == nil {
		return nil, apperrors.New(apperrors.ErrEventNotFound, "no active event today")
	}
	previous, err := s.previous(ctx, event, member)
	if err != nil {
		return nil, err
	}
	start, err := EventStart(event, s.loc)
	if err != nil {
		return nil, err
	}

	at := s.now()
	res := ProcessCheckIn(member, start, at, previous)
	if !res.Success {
		return res, nil
	}
	a, err := s.record(ctx, event, member, res.Status, method, at, "")
	if err != nil {
		return nil, err
	}
	res.Attendance = a

	logging.Info("Member checked in", map[string]interface{}{
		"member_local_id": member.LocalID,
		"event_local_id":  event.LocalID,
		"status":          res.Status,
		"method":          method,
	})
	return res, nil
}

// MarkAbsent records member as absent from event.
func (s *Service) MarkAbsent(ctx context.Context, event *models.Event, member *models.Member) (*Result, error) {
	if event == nil {
		return nil, apperrors.New(apperrors.ErrEventNotFound, "no active event today")
	}
	previous, err := s.previous(ctx, event, member)
	if err != nil {
		return nil, err
	}
	if previous != nil {
		prev := models.MillisTime(previous.CheckInAt)
		return &Result{
			AlreadyCheckedIn: true,
			Member:           member,
			Attendance:       previous,
			PreviousCheckIn:  &prev,
			Message:          "Already recorded at " + prev.Format(time.Kitchen),
		}, nil
	}

	a, err := s.record(ctx, event, member, models.AttendanceAbsent, models.MethodManual, s.now(), "Marked absent by secretary")
	if err != nil {
		return nil, err
	}
	return &Result{
		Success:    true,
		Member:     member,
		Status:     models.AttendanceAbsent,
		Attendance: a,
		Message:    member.FullName + " - Marked as Absent",
	}, nil
}

func (s *Service) previous(ctx context.Context, event *models.Event, member *models.Member) (*models.Attendance, error) {
	a, err := s.store.FindAttendance(ctx, db.IDsOf(member), db.IDsOf(event))
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	return a, err
}

func (s *Service) record(ctx context.Context, event *models.Event, member *models.Member,
	status models.AttendanceStatus, method models.CheckInMethod, at time.Time, notes string) (*models.Attendance, error) {
	a := &models.Attendance{
		MemberLocalID:  member.LocalID,
		MemberRemoteID: member.RemoteID,
		EventLocalID:   event.LocalID,
		EventRemoteID:  event.RemoteID,
		CheckInAt:      at.UnixMilli(),
		Status:         status,
		Method:         method,
		Notes:          notes,
		RecordedBy:     s.recordedBy,
	}
	if err := s.store.Save(ctx, a, models.ActionCreate); err != nil {
		return nil, err
	}
	return a, nil
}

// Stats returns the attendance summary of member.
func (s *Service) Stats(ctx context.Context, member *models.Member) (MemberStats, error) {
	records, err := s.store.MemberAttendance(ctx, db.IDsOf(member))
	if err != nil {
		return MemberStats{}, err
	}
	return ComputeStats(records, s.now()), nil
}
