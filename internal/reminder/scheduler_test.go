package reminder

import (
	"testing"
	"time"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/models"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/store"
)

const testPhone = "263771234567"

func countByType(rs []models.Reminder) map[models.ReminderType]int {
	counts := make(map[models.ReminderType]int)
	for _, r := range rs {
		counts[r.Type]++
	}
	return counts
}

func TestScheduleForEventEnrollment(t *testing.T) {
	st := store.NewInMemoryStore()
	s := NewScheduler(st)
	now := time.Now()
	start := now.Add(72 * time.Hour)

	e := models.Enrollment{ID: "enr_1", OfferingID: 1, PhoneNumber: testPhone, Status: models.EnrollmentStatusConfirmed}
	o := models.Offering{ID: 1, Type: models.OfferingTypeEvent, Title: "Pitch Night", Location: "Harare", StartAt: &start}

	if err := s.ScheduleForEnrollment(e, o, now); err != nil {
		t.Fatalf("ScheduleForEnrollment failed: %v", err)
	}

	rs, err := st.ListRemindersByEnrollment(e.ID)
	if err != nil {
		t.Fatalf("ListRemindersByEnrollment failed: %v", err)
	}
	counts := countByType(rs)
	if counts[models.ReminderEnrollmentConfirmation] != 1 {
		t.Errorf("expected 1 confirmation, got %d", counts[models.ReminderEnrollmentConfirmation])
	}
	if counts[models.ReminderEventDayBefore] != 1 {
		t.Errorf("expected 1 day-before reminder, got %d", counts[models.ReminderEventDayBefore])
	}
	if counts[models.ReminderEventHourBefore] != 1 {
		t.Errorf("expected 1 hour-before reminder, got %d", counts[models.ReminderEventHourBefore])
	}

	for _, r := range rs {
		switch r.Type {
		case models.ReminderEventDayBefore:
			if !r.ScheduledFor.Equal(start.Add(-DayBeforeLead)) {
				t.Errorf("day-before scheduled at %v, want %v", r.ScheduledFor, start.Add(-DayBeforeLead))
			}
		case models.ReminderEventHourBefore:
			if !r.ScheduledFor.Equal(start.Add(-HourBeforeLead)) {
				t.Errorf("hour-before scheduled at %v, want %v", r.ScheduledFor, start.Add(-HourBeforeLead))
			}
		}
		if r.SessionID != 0 {
			t.Errorf("event reminders must not be session-bound, got session %d", r.SessionID)
		}
		if r.Status != models.ReminderStatusPending {
			t.Errorf("expected pending status, got %s", r.Status)
		}
	}
}

func TestSchedulePastLeadTimesAreSkipped(t *testing.T) {
	st := store.NewInMemoryStore()
	s := NewScheduler(st)
	now := time.Now()
	// Starts in 30 minutes: both lead times are already behind us.
	start := now.Add(30 * time.Minute)

	e := models.Enrollment{ID: "enr_1", OfferingID: 1, PhoneNumber: testPhone}
	o := models.Offering{ID: 1, Type: models.OfferingTypeEvent, Title: "Pitch Night", StartAt: &start}

	if err := s.ScheduleForEnrollment(e, o, now); err != nil {
		t.Fatalf("ScheduleForEnrollment failed: %v", err)
	}

	rs, _ := st.ListRemindersByEnrollment(e.ID)
	counts := countByType(rs)
	if counts[models.ReminderEventDayBefore] != 0 || counts[models.ReminderEventHourBefore] != 0 {
		t.Errorf("past lead times must be skipped, got %v", counts)
	}
	if counts[models.ReminderEnrollmentConfirmation] != 1 {
		t.Errorf("confirmation is always scheduled, got %d", counts[models.ReminderEnrollmentConfirmation])
	}
}

func TestScheduleForCourseEnrollment(t *testing.T) {
	st := store.NewInMemoryStore()
	s := NewScheduler(st)
	now := time.Now()

	st.SeedSession(models.Session{ID: 10, OfferingID: 2, SessionNumber: 1, StartAt: now.Add(48 * time.Hour), EndAt: now.Add(50 * time.Hour)})
	st.SeedSession(models.Session{ID: 11, OfferingID: 2, SessionNumber: 2, StartAt: now.Add(96 * time.Hour), EndAt: now.Add(98 * time.Hour)})

	e := models.Enrollment{ID: "enr_1", OfferingID: 2, PhoneNumber: testPhone}
	o := models.Offering{ID: 2, Type: models.OfferingTypeCourse, Title: "Bootcamp"}

	if err := s.ScheduleForEnrollment(e, o, now); err != nil {
		t.Fatalf("ScheduleForEnrollment failed: %v", err)
	}

	rs, _ := st.ListRemindersByEnrollment(e.ID)
	counts := countByType(rs)
	if counts[models.ReminderSessionDayBefore] != 2 {
		t.Errorf("expected 2 session day-before reminders, got %d", counts[models.ReminderSessionDayBefore])
	}
	if counts[models.ReminderSessionHourBefore] != 2 {
		t.Errorf("expected 2 session hour-before reminders, got %d", counts[models.ReminderSessionHourBefore])
	}
	if counts[models.ReminderCourseCompletion] != 1 {
		t.Errorf("expected 1 completion reminder, got %d", counts[models.ReminderCourseCompletion])
	}

	for _, r := range rs {
		if r.Type == models.ReminderCourseCompletion {
			want := now.Add(98 * time.Hour).Add(CompletionDelay)
			if !r.ScheduledFor.Equal(want) {
				t.Errorf("completion scheduled at %v, want %v", r.ScheduledFor, want)
			}
		}
	}
}

func TestScheduleIsIdempotent(t *testing.T) {
	st := store.NewInMemoryStore()
	s := NewScheduler(st)
	now := time.Now()
	start := now.Add(72 * time.Hour)

	e := models.Enrollment{ID: "enr_1", OfferingID: 1, PhoneNumber: testPhone}
	o := models.Offering{ID: 1, Type: models.OfferingTypeEvent, Title: "Pitch Night", StartAt: &start}

	if err := s.ScheduleForEnrollment(e, o, now); err != nil {
		t.Fatalf("first schedule failed: %v", err)
	}
	first, _ := st.ListRemindersByEnrollment(e.ID)

	if err := s.ScheduleForEnrollment(e, o, now); err != nil {
		t.Fatalf("second schedule failed: %v", err)
	}
	second, _ := st.ListRemindersByEnrollment(e.ID)

	if len(second) != len(first) {
		t.Errorf("repeat scheduling must not duplicate reminders: %d then %d", len(first), len(second))
	}
}

func TestCancelForEnrollment(t *testing.T) {
	st := store.NewInMemoryStore()
	s := NewScheduler(st)
	now := time.Now()
	start := now.Add(72 * time.Hour)

	e := models.Enrollment{ID: "enr_1", OfferingID: 1, PhoneNumber: testPhone}
	o := models.Offering{ID: 1, Type: models.OfferingTypeEvent, Title: "Pitch Night", StartAt: &start}
	if err := s.ScheduleForEnrollment(e, o, now); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	n, err := s.CancelForEnrollment(e.ID)
	if err != nil {
		t.Fatalf("CancelForEnrollment failed: %v", err)
	}
	if n == 0 {
		t.Fatal("expected pending reminders to be cancelled")
	}
	for _, r := range mustList(t, st, e.ID) {
		if r.Status == models.ReminderStatusPending {
			t.Errorf("reminder %s still pending after cancel", r.ID)
		}
	}

	// Cancelling again finds nothing and is not an error.
	n, err = s.CancelForEnrollment(e.ID)
	if err != nil {
		t.Fatalf("second CancelForEnrollment failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected zero cancellations on repeat, got %d", n)
	}
}

func mustList(t *testing.T, st *store.InMemoryStore, enrollmentID string) []models.Reminder {
	t.Helper()
	rs, err := st.ListRemindersByEnrollment(enrollmentID)
	if err != nil {
		t.Fatalf("ListRemindersByEnrollment failed: %v", err)
	}
	return rs
}
