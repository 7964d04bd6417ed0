// Package reminder schedules and delivers enrollment notifications.
//
// Reminders are derived once, when an enrollment is confirmed, and stored as
// pre-rendered messages with a fixed delivery time. An idempotency key on
// (enrollment, type, session) makes derivation safe to repeat.
package reminder

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/models"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/store"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/util"
)

// Lead times for upcoming-start reminders.
const (
	DayBeforeLead  = 24 * time.Hour
	HourBeforeLead = time.Hour
	// CompletionDelay is how long after the final session the course
	// completion message goes out.
	CompletionDelay = time.Hour
)

const timestampFormat = "Monday, 02 Jan 2006 at 15:04"

// Scheduler derives the reminder set for confirmed enrollments.
type Scheduler struct {
	st store.Store
}

// NewScheduler creates a reminder scheduler over the given store.
func NewScheduler(st store.Store) *Scheduler {
	return &Scheduler{st: st}
}

// ScheduleForEnrollment creates the full reminder set for a newly confirmed
// enrollment: an immediate confirmation, day-before and hour-before notices
// for every future start, and (for courses) a completion message after the
// final session. Already-created reminders are skipped via the idempotency
// key, so calling this twice for the same enrollment is harmless.
func (s *Scheduler) ScheduleForEnrollment(e models.Enrollment, o models.Offering, now time.Time) error {
	created := 0

	n, err := s.create(models.Reminder{
		EnrollmentID: e.ID,
		OfferingID:   o.ID,
		PhoneNumber:  e.PhoneNumber,
		Type:         models.ReminderEnrollmentConfirmation,
		Message:      confirmationMessage(o),
		ScheduledFor: now,
	})
	if err != nil {
		return err
	}
	created += n

	switch o.Type {
	case models.OfferingTypeEvent:
		if o.StartAt != nil {
			n, err := s.scheduleStartPair(e, o, 0, *o.StartAt, now,
				models.ReminderEventDayBefore, models.ReminderEventHourBefore,
				eventReminderMessage(o, *o.StartAt))
			if err != nil {
				return err
			}
			created += n
		}
	case models.OfferingTypeCourse:
		sessions, err := s.st.ListSessions(o.ID)
		if err != nil {
			return fmt.Errorf("reminder.Scheduler.ScheduleForEnrollment: list sessions: %w", err)
		}
		var lastEnd time.Time
		for _, sess := range sessions {
			n, err := s.scheduleStartPair(e, o, sess.ID, sess.StartAt, now,
				models.ReminderSessionDayBefore, models.ReminderSessionHourBefore,
				sessionReminderMessage(o, sess))
			if err != nil {
				return err
			}
			created += n
			if sess.EndAt.After(lastEnd) {
				lastEnd = sess.EndAt
			}
		}
		if !lastEnd.IsZero() && lastEnd.Add(CompletionDelay).After(now) {
			n, err := s.create(models.Reminder{
				EnrollmentID: e.ID,
				OfferingID:   o.ID,
				PhoneNumber:  e.PhoneNumber,
				Type:         models.ReminderCourseCompletion,
				Message:      completionMessage(o),
				ScheduledFor: lastEnd.Add(CompletionDelay),
			})
			if err != nil {
				return err
			}
			created += n
		}
	}

	slog.Info("reminder.Scheduler.ScheduleForEnrollment", "enrollmentID", e.ID, "offeringID", o.ID, "created", created)
	return nil
}

// scheduleStartPair creates the day-before and hour-before reminders for one
// start time. Lead times already in the past are skipped.
func (s *Scheduler) scheduleStartPair(e models.Enrollment, o models.Offering, sessionID int64, startAt, now time.Time, dayType, hourType models.ReminderType, message string) (int, error) {
	created := 0
	for _, lead := range []struct {
		typ models.ReminderType
		at  time.Time
	}{
		{dayType, startAt.Add(-DayBeforeLead)},
		{hourType, startAt.Add(-HourBeforeLead)},
	} {
		if !lead.at.After(now) {
			continue
		}
		n, err := s.create(models.Reminder{
			EnrollmentID: e.ID,
			OfferingID:   o.ID,
			SessionID:    sessionID,
			PhoneNumber:  e.PhoneNumber,
			Type:         lead.typ,
			Message:      message,
			ScheduledFor: lead.at,
		})
		if err != nil {
			return created, err
		}
		created += n
	}
	return created, nil
}

func (s *Scheduler) create(r models.Reminder) (int, error) {
	r.ID = util.GenerateReminderID()
	r.Status = models.ReminderStatusPending
	inserted, err := s.st.CreateReminder(r)
	if err != nil {
		return 0, fmt.Errorf("reminder.Scheduler: create %s reminder: %w", r.Type, err)
	}
	if !inserted {
		return 0, nil
	}
	return 1, nil
}

// CancelForEnrollment cancels all undelivered reminders for an enrollment,
// e.g. after a refund. Returns the number cancelled.
func (s *Scheduler) CancelForEnrollment(enrollmentID string) (int, error) {
	n, err := s.st.CancelPendingReminders(enrollmentID)
	if err != nil {
		return 0, fmt.Errorf("reminder.Scheduler.CancelForEnrollment: %w", err)
	}
	if n > 0 {
		slog.Info("reminder.Scheduler.CancelForEnrollment", "enrollmentID", enrollmentID, "cancelled", n)
	}
	return n, nil
}

func confirmationMessage(o models.Offering) string {
	msg := fmt.Sprintf("✅ You're enrolled in *%s*!", o.Title)
	if o.Type == models.OfferingTypeEvent && o.StartAt != nil {
		msg += fmt.Sprintf("\n\n📅 %s", o.StartAt.Format(timestampFormat))
	}
	if o.Location != "" {
		msg += fmt.Sprintf("\n📍 %s", o.Location)
	}
	if o.MeetingLink != "" {
		msg += fmt.Sprintf("\n🔗 %s", o.MeetingLink)
	}
	msg += "\n\nWe'll remind you before it starts. See you there!"
	return msg
}

func eventReminderMessage(o models.Offering, startAt time.Time) string {
	msg := fmt.Sprintf("⏰ Reminder: *%s* starts on %s.", o.Title, startAt.Format(timestampFormat))
	if o.Location != "" {
		msg += fmt.Sprintf("\n📍 %s", o.Location)
	}
	if o.MeetingLink != "" {
		msg += fmt.Sprintf("\n🔗 %s", o.MeetingLink)
	}
	return msg
}

func sessionReminderMessage(o models.Offering, sess models.Session) string {
	title := sess.Title
	if title == "" {
		title = fmt.Sprintf("Session %d", sess.SessionNumber)
	}
	msg := fmt.Sprintf("⏰ Reminder: *%s* — %s starts on %s.", o.Title, title, sess.StartAt.Format(timestampFormat))
	if o.MeetingLink != "" {
		msg += fmt.Sprintf("\n🔗 %s", o.MeetingLink)
	}
	return msg
}

func completionMessage(o models.Offering) string {
	return fmt.Sprintf("🎉 Congratulations on completing *%s*! We'd love to see you at our next programme. Reply *menu* to browse what's coming up.", o.Title)
}
