// Package store provides storage backends for the chatbot service.
//
// It defines the Store interface over catalog, user, dialogue-flow and
// commerce records, with SQLite, PostgreSQL and in-memory implementations.
// The backend is selected by DSN detection.
package store

import (
	"strings"
	"time"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/models"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-style connection strings
// and "sqlite" for anything else (treated as a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// Store is the persistence interface shared by all backends.
//
// Conditional writes (the MarkPayment* family, MarkReminderSent) return a
// bool reporting whether the guarded transition actually happened; callers
// use it as a status fence so overlapping workers cannot double-fire side
// effects.
type Store interface {
	// Catalog (managed externally, read-only here).
	GetCategory(id int64) (*models.Category, error)
	ListCategoriesWithOfferings(t models.OfferingType, now time.Time) ([]models.Category, error)
	GetOffering(id int64) (*models.Offering, error)
	ListOfferingsByCategory(categoryID int64, t models.OfferingType, now time.Time, limit int) ([]models.Offering, error)
	ListSessions(offeringID int64) ([]models.Session, error)

	// Users.
	GetUserByPhone(phone string) (*models.User, error)
	GetUserByEmail(email string) (*models.User, error)
	CreateUser(u models.User) (int64, error)

	// Dialogue flows. One row per phone number; SaveFlow upserts.
	GetFlow(phone string) (*models.Flow, error)
	SaveFlow(f models.Flow) error
	DeleteFlow(phone string) error
	DeleteExpiredFlows(now time.Time) (int, error)

	// Enrollments.
	CreateEnrollment(e models.Enrollment) error
	GetEnrollmentByPayment(paymentID string) (*models.Enrollment, error)
	GetActiveEnrollment(phone string, offeringID int64) (*models.Enrollment, error)
	ListActiveEnrollments(phone string, limit int) ([]models.Enrollment, error)
	CountConfirmedEnrollments(offeringID int64) (int, error)
	UpdateEnrollmentStatus(id string, status models.EnrollmentStatus) error

	// Payments.
	CreatePayment(p models.Payment) error
	GetPayment(id string) (*models.Payment, error)
	GetPaymentByReference(ref string) (*models.Payment, error)
	// MarkPaymentPaid transitions a non-terminal payment to paid and stamps
	// paid_at. Returns false if the payment was already terminal.
	MarkPaymentPaid(id string, paidAt time.Time) (bool, error)
	// MarkPaymentFailed transitions a non-terminal payment to failed with the
	// given reason. Returns false if the payment was already terminal.
	MarkPaymentFailed(id, reason string) (bool, error)
	// MarkPaymentRefunded transitions a paid payment to refunded.
	MarkPaymentRefunded(id string) (bool, error)
	// MarkPaymentProcessing transitions pending to processing only; any other
	// current status returns false with no write.
	MarkPaymentProcessing(id string) (bool, error)
	// FlagPaymentTimeout marks the soft-timeout marker without touching status.
	FlagPaymentTimeout(id string) error
	// RecordPaymentError stores an observability note without touching status.
	RecordPaymentError(id, msg string) error

	// Reminders. CreateReminder returns false when a reminder with the same
	// (enrollment_id, reminder_type, session_id) idempotency key already exists.
	CreateReminder(r models.Reminder) (bool, error)
	// ClaimDueReminders moves due pending reminders to sending and returns
	// them; a reminder claimed by one dispatcher is invisible to the next.
	ClaimDueReminders(now time.Time, limit int) ([]models.Reminder, error)
	// RequeueStaleSendingReminders returns reminders stuck in sending (a
	// dispatcher died mid-delivery) to pending so they get retried.
	RequeueStaleSendingReminders(staleBefore time.Time) (int, error)
	MarkReminderSent(id string, sentAt time.Time, providerMessageID string) (bool, error)
	// RecordReminderFailure bumps retry bookkeeping; final marks the reminder
	// failed, otherwise it stays pending for the next dispatch pass.
	RecordReminderFailure(id, errMsg string, retryCount int, final bool) error
	CancelPendingReminders(enrollmentID string) (int, error)

	Close() error
}
