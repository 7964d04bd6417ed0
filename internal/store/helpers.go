package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// Canonical column lists. Every SELECT uses these so the scan helpers stay
// in lockstep with the queries across both SQL backends.
const (
	categoryCols   = `id, name, description, is_active, display_order, created_at`
	offeringCols   = `id, category_id, type, title, description, short_description, location, location_type, meeting_link, capacity, amount, currency, duration_hours, instructors_json, is_active, published_at, start_at, created_at`
	sessionCols    = `id, offering_id, session_number, title, description, start_at, end_at`
	userCols       = `id, name, email, phone_number, verified_at, created_at`
	flowCols       = `phone_number, current_state, previous_state, context_json, last_interaction_at, expires_at`
	enrollmentCols = `id, offering_id, payment_id, user_id, phone_number, status, enrolled_at, created_at, updated_at`
	paymentCols    = `id, offering_id, enrollment_id, phone_number, payer_phone, amount, currency, method, reference_number, poll_url, status, paid_at, failed_reason, timeout_flagged, last_error, created_at, updated_at`
	reminderCols   = `id, enrollment_id, offering_id, session_id, phone_number, reminder_type, message, scheduled_for, status, sent_at, locked_at, provider_message_id, retry_count, last_error, created_at`
	jobCols        = `id, kind, run_at, payload_json, status, attempt, max_attempts, last_error, locked_at, dedupe_key, created_at, updated_at`
)

func scanCategory(s rowScanner) (models.Category, error) {
	var c models.Category
	var description sql.NullString
	err := s.Scan(&c.ID, &c.Name, &description, &c.IsActive, &c.DisplayOrder, &c.CreatedAt)
	if err != nil {
		return c, err
	}
	c.Description = description.String
	return c, nil
}

func scanOffering(s rowScanner) (models.Offering, error) {
	var o models.Offering
	var description, shortDescription, location, meetingLink, instructorsJSON sql.NullString
	var durationHours sql.NullInt64
	var publishedAt, startAt sql.NullTime
	err := s.Scan(
		&o.ID, &o.CategoryID, &o.Type, &o.Title, &description, &shortDescription,
		&location, &o.LocationType, &meetingLink, &o.Capacity, &o.Amount, &o.Currency,
		&durationHours, &instructorsJSON, &o.IsActive, &publishedAt, &startAt, &o.CreatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Description = description.String
	o.ShortDescription = shortDescription.String
	o.Location = location.String
	o.MeetingLink = meetingLink.String
	o.DurationHours = int(durationHours.Int64)
	if instructorsJSON.String != "" {
		if err := json.Unmarshal([]byte(instructorsJSON.String), &o.Instructors); err != nil {
			return o, fmt.Errorf("decode instructors for offering %d: %w", o.ID, err)
		}
	}
	if publishedAt.Valid {
		o.PublishedAt = &publishedAt.Time
	}
	if startAt.Valid {
		o.StartAt = &startAt.Time
	}
	return o, nil
}

func scanSession(s rowScanner) (models.Session, error) {
	var sess models.Session
	var title, description sql.NullString
	err := s.Scan(&sess.ID, &sess.OfferingID, &sess.SessionNumber, &title, &description, &sess.StartAt, &sess.EndAt)
	if err != nil {
		return sess, err
	}
	sess.Title = title.String
	sess.Description = description.String
	return sess, nil
}

func scanUser(s rowScanner) (models.User, error) {
	var u models.User
	var verifiedAt sql.NullTime
	err := s.Scan(&u.ID, &u.Name, &u.Email, &u.PhoneNumber, &verifiedAt, &u.CreatedAt)
	if err != nil {
		return u, err
	}
	if verifiedAt.Valid {
		u.VerifiedAt = verifiedAt.Time
	}
	return u, nil
}

func scanFlow(s rowScanner) (models.Flow, error) {
	var f models.Flow
	var previousState, contextJSON sql.NullString
	err := s.Scan(&f.PhoneNumber, &f.CurrentState, &previousState, &contextJSON, &f.LastInteractionAt, &f.ExpiresAt)
	if err != nil {
		return f, err
	}
	f.PreviousState = models.FlowState(previousState.String)
	if contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &f.Context); err != nil {
			return f, fmt.Errorf("decode flow context for %s: %w", f.PhoneNumber, err)
		}
	}
	return f, nil
}

func scanEnrollment(s rowScanner) (models.Enrollment, error) {
	var e models.Enrollment
	var paymentID sql.NullString
	var userID sql.NullInt64
	err := s.Scan(&e.ID, &e.OfferingID, &paymentID, &userID, &e.PhoneNumber, &e.Status, &e.EnrolledAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return e, err
	}
	e.PaymentID = paymentID.String
	e.UserID = userID.Int64
	return e, nil
}

func scanPayment(s rowScanner) (models.Payment, error) {
	var p models.Payment
	var enrollmentID, pollURL, failedReason, lastError sql.NullString
	var paidAt sql.NullTime
	err := s.Scan(
		&p.ID, &p.OfferingID, &enrollmentID, &p.PhoneNumber, &p.PayerPhone,
		&p.Amount, &p.Currency, &p.Method, &p.ReferenceNumber, &pollURL, &p.Status,
		&paidAt, &failedReason, &p.TimeoutFlagged, &lastError, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}
	p.EnrollmentID = enrollmentID.String
	p.PollURL = pollURL.String
	p.FailedReason = failedReason.String
	p.LastError = lastError.String
	if paidAt.Valid {
		p.PaidAt = &paidAt.Time
	}
	return p, nil
}

func scanReminder(s rowScanner) (models.Reminder, error) {
	var r models.Reminder
	var providerMessageID, lastError sql.NullString
	var sentAt, lockedAt sql.NullTime
	err := s.Scan(
		&r.ID, &r.EnrollmentID, &r.OfferingID, &r.SessionID, &r.PhoneNumber,
		&r.Type, &r.Message, &r.ScheduledFor, &r.Status, &sentAt, &lockedAt,
		&providerMessageID, &r.RetryCount, &lastError, &r.CreatedAt,
	)
	if err != nil {
		return r, err
	}
	r.ProviderMessageID = providerMessageID.String
	r.LastError = lastError.String
	if sentAt.Valid {
		r.SentAt = &sentAt.Time
	}
	if lockedAt.Valid {
		r.LockedAt = &lockedAt.Time
	}
	return r, nil
}

// scanJob scans a Job from a row or rows cursor.
func scanJob(s rowScanner) (Job, error) {
	var j Job
	var payloadJSON, lastError, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := s.Scan(
		&j.ID, &j.Kind, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, err
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}

// encodeContext serializes a flow context map for storage. An empty map
// stores as NULL.
func encodeContext(ctx map[string]string) (interface{}, error) {
	if len(ctx) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(ctx)
	if err != nil {
		return nil, fmt.Errorf("encode flow context: %w", err)
	}
	return string(b), nil
}
