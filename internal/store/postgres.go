// Package store provides storage backends for the chatbot service.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists all service state in a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// --- Catalog ---

func (s *PostgresStore) GetCategory(id int64) (*models.Category, error) {
	row := s.db.QueryRow(`SELECT `+categoryCols+` FROM categories WHERE id = $1`, id)
	c, err := scanCategory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get category %d failed: %w", id, err)
	}
	return &c, nil
}

const availableOfferingCondPG = `is_active AND published_at IS NOT NULL AND published_at <= $2
	AND (type != 'event' OR start_at IS NULL OR start_at > $2)`

func (s *PostgresStore) ListCategoriesWithOfferings(t models.OfferingType, now time.Time) ([]models.Category, error) {
	rows, err := s.db.Query(
		`SELECT `+categoryCols+` FROM categories c
		 WHERE c.is_active AND EXISTS (
		     SELECT 1 FROM offerings WHERE category_id = c.id AND type = $1 AND `+availableOfferingCondPG+`
		 )
		 ORDER BY c.display_order ASC, c.name ASC`,
		t, now,
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
	slog.Debug("PostgresStore.ListCategoriesWithOfferings", "type", t, "count", len(categories))
	return categories, nil
}

func (s *PostgresStore) GetOffering(id int64) (*models.Offering, error) {
	row := s.db.QueryRow(`SELECT `+offeringCols+` FROM offerings WHERE id = $1`, id)
	o, err := scanOffering(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get offering %d failed: %w", id, err)
	}
	return &o, nil
}

func (s *PostgresStore) ListOfferingsByCategory(categoryID int64, t models.OfferingType, now time.Time, limit int) ([]models.Offering, error) {
	rows, err := s.db.Query(
		`SELECT `+offeringCols+` FROM offerings
		 WHERE category_id = $3 AND type = $1 AND `+availableOfferingCondPG+`
		 ORDER BY COALESCE(start_at, created_at) ASC LIMIT $4`,
		t, now, categoryID, limit,
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

func (s *PostgresStore) ListSessions(offeringID int64) ([]models.Session, error) {
	rows, err := s.db.Query(
		`SELECT `+sessionCols+` FROM sessions WHERE offering_id = $1 ORDER BY session_number ASC`,
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

func (s *PostgresStore) GetUserByPhone(phone string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE phone_number = $1`, phone)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by phone failed: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) GetUserByEmail(email string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE email = $1`, email)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email failed: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) CreateUser(u models.User) (int64, error) {
	now := time.Now()
	var verifiedAt interface{}
	if !u.VerifiedAt.IsZero() {
		verifiedAt = u.VerifiedAt
	}
	var id int64
	err := s.db.QueryRow(
		`INSERT INTO users (name, email, phone_number, verified_at, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		u.Name, u.Email, u.PhoneNumber, verifiedAt, now,
	).Scan(&id)
	if err != nil {
		slog.Error("PostgresStore.CreateUser failed", "error", err, "phone", u.PhoneNumber)
		return 0, fmt.Errorf("create user failed: %w", err)
	}
	slog.Debug("PostgresStore.CreateUser", "id", id, "phone", u.PhoneNumber)
	return id, nil
}

// --- Flows ---

func (s *PostgresStore) GetFlow(phone string) (*models.Flow, error) {
	row := s.db.QueryRow(`SELECT `+flowCols+` FROM flows WHERE phone_number = $1`, phone)
	f, err := scanFlow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get flow failed: %w", err)
	}
	return &f, nil
}

func (s *PostgresStore) SaveFlow(f models.Flow) error {
	ctxJSON, err := encodeContext(f.Context)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO flows (phone_number, current_state, previous_state, context_json, last_interaction_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (phone_number) DO UPDATE SET
		     current_state = EXCLUDED.current_state,
		     previous_state = EXCLUDED.previous_state,
		     context_json = EXCLUDED.context_json,
		     last_interaction_at = EXCLUDED.last_interaction_at,
		     expires_at = EXCLUDED.expires_at`,
		f.PhoneNumber, f.CurrentState, nilIfEmpty(string(f.PreviousState)), ctxJSON, f.LastInteractionAt, f.ExpiresAt,
	)
	if err != nil {
		slog.Error("PostgresStore.SaveFlow failed", "error", err, "phone", f.PhoneNumber)
		return fmt.Errorf("save flow failed: %w", err)
	}
	slog.Debug("PostgresStore.SaveFlow", "phone", f.PhoneNumber, "state", f.CurrentState)
	return nil
}

func (s *PostgresStore) DeleteFlow(phone string) error {
	_, err := s.db.Exec(`DELETE FROM flows WHERE phone_number = $1`, phone)
	if err != nil {
		return fmt.Errorf("delete flow failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteExpiredFlows(now time.Time) (int, error) {
	result, err := s.db.Exec(`DELETE FROM flows WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired flows failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// --- Enrollments ---

func (s *PostgresStore) CreateEnrollment(e models.Enrollment) error {
	now := time.Now()
	var userID interface{}
	if e.UserID != 0 {
		userID = e.UserID
	}
	_, err := s.db.Exec(
		`INSERT INTO enrollments (id, offering_id, payment_id, user_id, phone_number, status, enrolled_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.OfferingID, nilIfEmpty(e.PaymentID), userID, e.PhoneNumber, e.Status, e.EnrolledAt, now, now,
	)
	if err != nil {
		slog.Error("PostgresStore.CreateEnrollment failed", "error", err, "id", e.ID)
		return fmt.Errorf("create enrollment failed: %w", err)
	}
	slog.Debug("PostgresStore.CreateEnrollment", "id", e.ID, "offeringID", e.OfferingID)
	return nil
}

func (s *PostgresStore) GetEnrollmentByPayment(paymentID string) (*models.Enrollment, error) {
	row := s.db.QueryRow(`SELECT `+enrollmentCols+` FROM enrollments WHERE payment_id = $1`, paymentID)
	e, err := scanEnrollment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get enrollment by payment failed: %w", err)
	}
	return &e, nil
}

func (s *PostgresStore) GetActiveEnrollment(phone string, offeringID int64) (*models.Enrollment, error) {
	row := s.db.QueryRow(
		`SELECT `+enrollmentCols+` FROM enrollments
		 WHERE phone_number = $1 AND offering_id = $2 AND status IN ('pending', 'confirmed')
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

func (s *PostgresStore) ListActiveEnrollments(phone string, limit int) ([]models.Enrollment, error) {
	rows, err := s.db.Query(
		`SELECT `+enrollmentCols+` FROM enrollments
		 WHERE phone_number = $1 AND status IN ('pending', 'confirmed')
		 ORDER BY created_at DESC LIMIT $2`,
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

func (s *PostgresStore) CountConfirmedEnrollments(offeringID int64) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM enrollments WHERE offering_id = $1 AND status = 'confirmed'`,
		offeringID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count confirmed enrollments failed: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) UpdateEnrollmentStatus(id string, status models.EnrollmentStatus) error {
	_, err := s.db.Exec(
		`UPDATE enrollments SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now(), id,
	)
	if err != nil {
		slog.Error("PostgresStore.UpdateEnrollmentStatus failed", "error", err, "id", id)
		return fmt.Errorf("update enrollment status failed: %w", err)
	}
	slog.Debug("PostgresStore.UpdateEnrollmentStatus", "id", id, "status", status)
	return nil
}

// --- Payments ---

func (s *PostgresStore) CreatePayment(p models.Payment) error {
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO payments (id, offering_id, enrollment_id, phone_number, payer_phone, amount, currency, method, reference_number, poll_url, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.OfferingID, nilIfEmpty(p.EnrollmentID), p.PhoneNumber, p.PayerPhone,
		p.Amount, p.Currency, p.Method, p.ReferenceNumber, nilIfEmpty(p.PollURL), p.Status, now, now,
	)
	if err != nil {
		slog.Error("PostgresStore.CreatePayment failed", "error", err, "id", p.ID)
		return fmt.Errorf("create payment failed: %w", err)
	}
	slog.Debug("PostgresStore.CreatePayment", "id", p.ID, "reference", p.ReferenceNumber)
	return nil
}

func (s *PostgresStore) GetPayment(id string) (*models.Payment, error) {
	row := s.db.QueryRow(`SELECT `+paymentCols+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payment failed: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) GetPaymentByReference(ref string) (*models.Payment, error) {
	row := s.db.QueryRow(`SELECT `+paymentCols+` FROM payments WHERE reference_number = $1`, ref)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payment by reference failed: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) MarkPaymentPaid(id string, paidAt time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE payments SET status = 'paid', paid_at = $1, updated_at = $2
		 WHERE id = $3 AND status NOT IN ('paid', 'failed', 'refunded')`,
		paidAt, time.Now(), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark payment paid failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *PostgresStore) MarkPaymentFailed(id, reason string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE payments SET status = 'failed', failed_reason = $1, updated_at = $2
		 WHERE id = $3 AND status NOT IN ('paid', 'failed', 'refunded')`,
		reason, time.Now(), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark payment failed failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *PostgresStore) MarkPaymentRefunded(id string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE payments SET status = 'refunded', updated_at = $1 WHERE id = $2 AND status = 'paid'`,
		time.Now(), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark payment refunded failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *PostgresStore) MarkPaymentProcessing(id string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE payments SET status = 'processing', updated_at = $1 WHERE id = $2 AND status = 'pending'`,
		time.Now(), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark payment processing failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *PostgresStore) FlagPaymentTimeout(id string) error {
	_, err := s.db.Exec(
		`UPDATE payments SET timeout_flagged = TRUE, updated_at = $1 WHERE id = $2`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("flag payment timeout failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordPaymentError(id, msg string) error {
	_, err := s.db.Exec(
		`UPDATE payments SET last_error = $1, updated_at = $2 WHERE id = $3`,
		msg, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("record payment error failed: %w", err)
	}
	return nil
}

// --- Reminders ---

func (s *PostgresStore) CreateReminder(r models.Reminder) (bool, error) {
	result, err := s.db.Exec(
		`INSERT INTO reminders (id, enrollment_id, offering_id, session_id, phone_number, reminder_type, message, scheduled_for, status, retry_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10)
		 ON CONFLICT (enrollment_id, reminder_type, session_id) DO NOTHING`,
		r.ID, r.EnrollmentID, r.OfferingID, r.SessionID, r.PhoneNumber, r.Type, r.Message, r.ScheduledFor, r.Status, time.Now(),
	)
	if err != nil {
		slog.Error("PostgresStore.CreateReminder failed", "error", err, "id", r.ID)
		return false, fmt.Errorf("create reminder failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		slog.Debug("PostgresStore.CreateReminder: dedupe hit", "enrollmentID", r.EnrollmentID, "type", r.Type, "sessionID", r.SessionID)
		return false, nil
	}
	slog.Debug("PostgresStore.CreateReminder", "id", r.ID, "type", r.Type, "scheduledFor", r.ScheduledFor)
	return true, nil
}

func (s *PostgresStore) ClaimDueReminders(now time.Time, limit int) ([]models.Reminder, error) {
	// FOR UPDATE SKIP LOCKED lets concurrent dispatchers partition the due
	// set instead of fighting over the same rows.
	rows, err := s.db.Query(
		`UPDATE reminders SET status = 'sending', locked_at = $1
		 WHERE id IN (
		   SELECT id FROM reminders
		   WHERE status = 'pending' AND scheduled_for <= $1
		   ORDER BY scheduled_for ASC LIMIT $2
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+reminderCols,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due reminders failed: %w", err)
	}
	defer rows.Close()

	var claimed []models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder row failed: %w", err)
		}
		claimed = append(claimed, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim due reminders iteration failed: %w", err)
	}
	return claimed, nil
}

func (s *PostgresStore) RequeueStaleSendingReminders(staleBefore time.Time) (int, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'pending', locked_at = NULL WHERE status = 'sending' AND locked_at < $1`,
		staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale sending reminders failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Warn("PostgresStore.RequeueStaleSendingReminders", "requeued", n)
	}
	return int(n), nil
}

func (s *PostgresStore) MarkReminderSent(id string, sentAt time.Time, providerMessageID string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'sent', sent_at = $1, locked_at = NULL, provider_message_id = $2 WHERE id = $3 AND status = 'sending'`,
		sentAt, nilIfEmpty(providerMessageID), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark reminder sent failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *PostgresStore) RecordReminderFailure(id, errMsg string, retryCount int, final bool) error {
	status := models.ReminderStatusPending
	if final {
		status = models.ReminderStatusFailed
	}
	_, err := s.db.Exec(
		`UPDATE reminders SET status = $1, retry_count = $2, last_error = $3, locked_at = NULL WHERE id = $4`,
		status, retryCount, errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("record reminder failure failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) CancelPendingReminders(enrollmentID string) (int, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'cancelled' WHERE enrollment_id = $1 AND status = 'pending'`,
		enrollmentID,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel pending reminders failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Debug("PostgresStore.CancelPendingReminders", "enrollmentID", enrollmentID, "cancelled", n)
	}
	return int(n), nil
}
