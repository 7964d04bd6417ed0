// Package store provides storage backends for the chatbot service.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists all service state in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Catalog ---

func (s *SQLiteStore) GetCategory(id int64) (*models.Category, error) {
	row := s.db.QueryRow(`SELECT `+categoryCols+` FROM categories WHERE id = ?`, id)
	c, err := scanCategory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get category %d failed: %w", id, err)
	}
	return &c, nil
}

// availableOfferingCond restricts a query to offerings that can currently be
// browsed and enrolled in: active, published, and (for events) not yet started.
const availableOfferingCond = `is_active = 1 AND published_at IS NOT NULL AND published_at <= ?
	AND (type != 'event' OR start_at IS NULL OR start_at > ?)`

func (s *SQLiteStore) ListCategoriesWithOfferings(t models.OfferingType, now time.Time) ([]models.Category, error) {
	rows, err := s.db.Query(
		`SELECT `+categoryCols+` FROM categories c
		 WHERE c.is_active = 1 AND EXISTS (
		     SELECT 1 FROM offerings WHERE category_id = c.id AND type = ? AND `+availableOfferingCond+`
		 )
		 ORDER BY c.display_order ASC, c.name ASC`,
		t, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("list categories query failed: %w", err)
	}
	defer rows.Close()

	var categories []models.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category row failed: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list categories iteration failed: %w", err)
	}
	slog.Debug("SQLiteStore.ListCategoriesWithOfferings", "type", t, "count", len(categories))
	return categories, nil
}

func (s *SQLiteStore) GetOffering(id int64) (*models.Offering, error) {
	row := s.db.QueryRow(`SELECT `+offeringCols+` FROM offerings WHERE id = ?`, id)
	o, err := scanOffering(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get offering %d failed: %w", id, err)
	}
	return &o, nil
}

func (s *SQLiteStore) ListOfferingsByCategory(categoryID int64, t models.OfferingType, now time.Time, limit int) ([]models.Offering, error) {
	rows, err := s.db.Query(
		`SELECT `+offeringCols+` FROM offerings
		 WHERE category_id = ? AND type = ? AND `+availableOfferingCond+`
		 ORDER BY COALESCE(start_at, created_at) ASC LIMIT ?`,
		categoryID, t, now, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list offerings query failed: %w", err)
	}
	defer rows.Close()

	var offerings []models.Offering
	for rows.Next() {
		o, err := scanOffering(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offering row failed: %w", err)
		}
		offerings = append(offerings, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list offerings iteration failed: %w", err)
	}
	return offerings, nil
}

func (s *SQLiteStore) ListSessions(offeringID int64) ([]models.Session, error) {
	rows, err := s.db.Query(
		`SELECT `+sessionCols+` FROM sessions WHERE offering_id = ? ORDER BY session_number ASC`,
		offeringID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions query failed: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row failed: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions iteration failed: %w", err)
	}
	return sessions, nil
}

// --- Users ---

func (s *SQLiteStore) GetUserByPhone(phone string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE phone_number = ?`, phone)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by phone failed: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStore) GetUserByEmail(email string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email failed: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStore) CreateUser(u models.User) (int64, error) {
	now := time.Now()
	var verifiedAt interface{}
	if !u.VerifiedAt.IsZero() {
		verifiedAt = u.VerifiedAt
	}
	result, err := s.db.Exec(
		`INSERT INTO users (name, email, phone_number, verified_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.Name, u.Email, u.PhoneNumber, verifiedAt, now,
	)
	if err != nil {
		slog.Error("SQLiteStore.CreateUser failed", "error", err, "phone", u.PhoneNumber)
		return 0, fmt.Errorf("create user failed: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create user id lookup failed: %w", err)
	}
	slog.Debug("SQLiteStore.CreateUser", "id", id, "phone", u.PhoneNumber)
	return id, nil
}

// --- Flows ---

func (s *SQLiteStore) GetFlow(phone string) (*models.Flow, error) {
	row := s.db.QueryRow(`SELECT `+flowCols+` FROM flows WHERE phone_number = ?`, phone)
	f, err := scanFlow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get flow failed: %w", err)
	}
	return &f, nil
}

func (s *SQLiteStore) SaveFlow(f models.Flow) error {
	ctxJSON, err := encodeContext(f.Context)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO flows (phone_number, current_state, previous_state, context_json, last_interaction_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(phone_number) DO UPDATE SET
		     current_state = excluded.current_state,
		     previous_state = excluded.previous_state,
		     context_json = excluded.context_json,
		     last_interaction_at = excluded.last_interaction_at,
		     expires_at = excluded.expires_at`,
		f.PhoneNumber, f.CurrentState, nilIfEmpty(string(f.PreviousState)), ctxJSON, f.LastInteractionAt, f.ExpiresAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.SaveFlow failed", "error", err, "phone", f.PhoneNumber)
		return fmt.Errorf("save flow failed: %w", err)
	}
	slog.Debug("SQLiteStore.SaveFlow", "phone", f.PhoneNumber, "state", f.CurrentState)
	return nil
}

func (s *SQLiteStore) DeleteFlow(phone string) error {
	_, err := s.db.Exec(`DELETE FROM flows WHERE phone_number = ?`, phone)
	if err != nil {
		return fmt.Errorf("delete flow failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteExpiredFlows(now time.Time) (int, error) {
	result, err := s.db.Exec(`DELETE FROM flows WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired flows failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// --- Enrollments ---

func (s *SQLiteStore) CreateEnrollment(e models.Enrollment) error {
	now := time.Now()
	var userID interface{}
	if e.UserID != 0 {
		userID = e.UserID
	}
	_, err := s.db.Exec(
		`INSERT INTO enrollments (id, offering_id, payment_id, user_id, phone_number, status, enrolled_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OfferingID, nilIfEmpty(e.PaymentID), userID, e.PhoneNumber, e.Status, e.EnrolledAt, now, now,
	)
	if err != nil {
		slog.Error("SQLiteStore.CreateEnrollment failed", "error", err, "id", e.ID)
		return fmt.Errorf("create enrollment failed: %w", err)
	}
	slog.Debug("SQLiteStore.CreateEnrollment", "id", e.ID, "offeringID", e.OfferingID)
	return nil
}

func (s *SQLiteStore) GetEnrollmentByPayment(paymentID string) (*models.Enrollment, error) {
	row := s.db.QueryRow(`SELECT `+enrollmentCols+` FROM enrollments WHERE payment_id = ?`, paymentID)
	e, err := scanEnrollment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get enrollment by payment failed: %w", err)
	}
	return &e, nil
}

func (s *SQLiteStore) GetActiveEnrollment(phone string, offeringID int64) (*models.Enrollment, error) {
	row := s.db.QueryRow(
		`SELECT `+enrollmentCols+` FROM enrollments
		 WHERE phone_number = ? AND offering_id = ? AND status IN ('pending', 'confirmed')
		 ORDER BY created_at DESC LIMIT 1`,
		phone, offeringID,
	)
	e, err := scanEnrollment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active enrollment failed: %w", err)
	}
	return &e, nil
}

func (s *SQLiteStore) ListActiveEnrollments(phone string, limit int) ([]models.Enrollment, error) {
	rows, err := s.db.Query(
		`SELECT `+enrollmentCols+` FROM enrollments
		 WHERE phone_number = ? AND status IN ('pending', 'confirmed')
		 ORDER BY created_at DESC LIMIT ?`,
		phone, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list active enrollments query failed: %w", err)
	}
	defer rows.Close()

	var enrollments []models.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment row failed: %w", err)
		}
		enrollments = append(enrollments, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active enrollments iteration failed: %w", err)
	}
	return enrollments, nil
}

func (s *SQLiteStore) CountConfirmedEnrollments(offeringID int64) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM enrollments WHERE offering_id = ? AND status = 'confirmed'`,
		offeringID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count confirmed enrollments failed: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) UpdateEnrollmentStatus(id string, status models.EnrollmentStatus) error {
	_, err := s.db.Exec(
		`UPDATE enrollments SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), id,
	)
	if err != nil {
		slog.Error("SQLiteStore.UpdateEnrollmentStatus failed", "error", err, "id", id)
		return fmt.Errorf("update enrollment status failed: %w", err)
	}
	slog.Debug("SQLiteStore.UpdateEnrollmentStatus", "id", id, "status", status)
	return nil
}

// --- Payments ---

func (s *SQLiteStore) CreatePayment(p models.Payment) error {
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO payments (id, offering_id, enrollment_id, phone_number, payer_phone, amount, currency, method, reference_number, poll_url, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OfferingID, nilIfEmpty(p.EnrollmentID), p.PhoneNumber, p.PayerPhone,
		p.Amount, p.Currency, p.Method, p.ReferenceNumber, nilIfEmpty(p.PollURL), p.Status, now, now,
	)
	if err != nil {
		slog.Error("SQLiteStore.CreatePayment failed", "error", err, "id", p.ID)
		return fmt.Errorf("create payment failed: %w", err)
	}
	slog.Debug("SQLiteStore.CreatePayment", "id", p.ID, "reference", p.ReferenceNumber)
	return nil
}

func (s *SQLiteStore) GetPayment(id string) (*models.Payment, error) {
	row := s.db.QueryRow(`SELECT `+paymentCols+` FROM payments WHERE id = ?`, id)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payment failed: %w", err)
	}
	return &p, nil
}

func (s *SQLiteStore) GetPaymentByReference(ref string) (*models.Payment, error) {
	row := s.db.QueryRow(`SELECT `+paymentCols+` FROM payments WHERE reference_number = ?`, ref)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payment by reference failed: %w", err)
	}
	return &p, nil
}

func (s *SQLiteStore) MarkPaymentPaid(id string, paidAt time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE payments SET status = 'paid', paid_at = ?, updated_at = ?
		 WHERE id = ? AND status NOT IN ('paid', 'failed', 'refunded')`,
		paidAt, time.Now(), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark payment paid failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) MarkPaymentFailed(id, reason string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE payments SET status = 'failed', failed_reason = ?, updated_at = ?
		 WHERE id = ? AND status NOT IN ('paid', 'failed', 'refunded')`,
		reason, time.Now(), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark payment failed failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) MarkPaymentRefunded(id string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE payments SET status = 'refunded', updated_at = ? WHERE id = ? AND status = 'paid'`,
		time.Now(), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark payment refunded failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) MarkPaymentProcessing(id string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE payments SET status = 'processing', updated_at = ? WHERE id = ? AND status = 'pending'`,
		time.Now(), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark payment processing failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) FlagPaymentTimeout(id string) error {
	_, err := s.db.Exec(
		`UPDATE payments SET timeout_flagged = 1, updated_at = ? WHERE id = ?`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("flag payment timeout failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordPaymentError(id, msg string) error {
	_, err := s.db.Exec(
		`UPDATE payments SET last_error = ?, updated_at = ? WHERE id = ?`,
		msg, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("record payment error failed: %w", err)
	}
	return nil
}

// --- Reminders ---

func (s *SQLiteStore) CreateReminder(r models.Reminder) (bool, error) {
	result, err := s.db.Exec(
		`INSERT INTO reminders (id, enrollment_id, offering_id, session_id, phone_number, reminder_type, message, scheduled_for, status, retry_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
		 ON CONFLICT(enrollment_id, reminder_type, session_id) DO NOTHING`,
		r.ID, r.EnrollmentID, r.OfferingID, r.SessionID, r.PhoneNumber, r.Type, r.Message, r.ScheduledFor, r.Status, time.Now(),
	)
	if err != nil {
		slog.Error("SQLiteStore.CreateReminder failed", "error", err, "id", r.ID)
		return false, fmt.Errorf("create reminder failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		slog.Debug("SQLiteStore.CreateReminder: dedupe hit", "enrollmentID", r.EnrollmentID, "type", r.Type, "sessionID", r.SessionID)
		return false, nil
	}
	slog.Debug("SQLiteStore.CreateReminder", "id", r.ID, "type", r.Type, "scheduledFor", r.ScheduledFor)
	return true, nil
}

func (s *SQLiteStore) ClaimDueReminders(now time.Time, limit int) ([]models.Reminder, error) {
	rows, err := s.db.Query(
		`SELECT `+reminderCols+` FROM reminders
		 WHERE status = 'pending' AND scheduled_for <= ?
		 ORDER BY scheduled_for ASC LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due reminders query failed: %w", err)
	}
	defer rows.Close()

	var candidates []models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder row failed: %w", err)
		}
		candidates = append(candidates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim due reminders iteration failed: %w", err)
	}

	// The conditional update is the fence: a row another dispatcher claimed
	// between our read and this write affects zero rows and is skipped.
	var claimed []models.Reminder
	for _, r := range candidates {
		result, err := s.db.Exec(
			`UPDATE reminders SET status = 'sending', locked_at = ? WHERE id = ? AND status = 'pending'`,
			now, r.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("mark reminder sending failed: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			continue
		}
		lockedAt := now
		r.Status = models.ReminderStatusSending
		r.LockedAt = &lockedAt
		claimed = append(claimed, r)
	}
	return claimed, nil
}

func (s *SQLiteStore) RequeueStaleSendingReminders(staleBefore time.Time) (int, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'pending', locked_at = NULL WHERE status = 'sending' AND locked_at < ?`,
		staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale sending reminders failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Warn("SQLiteStore.RequeueStaleSendingReminders", "requeued", n)
	}
	return int(n), nil
}

func (s *SQLiteStore) MarkReminderSent(id string, sentAt time.Time, providerMessageID string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'sent', sent_at = ?, locked_at = NULL, provider_message_id = ? WHERE id = ? AND status = 'sending'`,
		sentAt, nilIfEmpty(providerMessageID), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark reminder sent failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) RecordReminderFailure(id, errMsg string, retryCount int, final bool) error {
	status := models.ReminderStatusPending
	if final {
		status = models.ReminderStatusFailed
	}
	_, err := s.db.Exec(
		`UPDATE reminders SET status = ?, retry_count = ?, last_error = ?, locked_at = NULL WHERE id = ?`,
		status, retryCount, errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("record reminder failure failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CancelPendingReminders(enrollmentID string) (int, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'cancelled' WHERE enrollment_id = ? AND status = 'pending'`,
		enrollmentID,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel pending reminders failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Debug("SQLiteStore.CancelPendingReminders", "enrollmentID", enrollmentID, "cancelled", n)
	}
	return int(n), nil
}
