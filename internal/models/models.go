// Package models defines the core data structures for the Hustleprenure
// Academy chatbot.
//
// It includes catalog entities (categories, offerings, sessions), commerce
// records (enrollments, payments, reminders) and the validation rules shared
// across modules.
package models

import (
	"errors"
	"time"
)

// OfferingType distinguishes one-off events from multi-session courses.
type OfferingType string

const (
	// OfferingTypeEvent is a single-session offering with one start date/time.
	OfferingTypeEvent OfferingType = "event"
	// OfferingTypeCourse is a multi-session offering with a schedule.
	OfferingTypeCourse OfferingType = "course"
)

// LocationType describes where an offering is held.
type LocationType string

const (
	LocationTypePhysical LocationType = "physical"
	LocationTypeOnline   LocationType = "online"
	LocationTypeHybrid   LocationType = "hybrid"
)

// PaymentMethod identifies the mobile money rail used for a payment.
type PaymentMethod string

const (
	PaymentMethodEcocash  PaymentMethod = "ecocash"
	PaymentMethodOnemoney PaymentMethod = "onemoney"
)

// IsValidPaymentMethod checks if the given payment method is supported.
func IsValidPaymentMethod(m PaymentMethod) bool {
	switch m {
	case PaymentMethodEcocash, PaymentMethodOnemoney:
		return true
	default:
		return false
	}
}

// Validation constants for user-supplied input.
const (
	// MinPaymentPhoneDigits is the minimum digit count for a payment number.
	MinPaymentPhoneDigits = 9
	// MaxPaymentPhoneDigits is the maximum digit count for a payment number.
	MaxPaymentPhoneDigits = 15
	// MinFullNameParts is the minimum word count for a registration name.
	MinFullNameParts = 2
)

// Error variables for better error handling and testability.
var (
	ErrEmptyRecipient        = errors.New("recipient cannot be empty")
	ErrOfferingNotFound      = errors.New("offering not found")
	ErrOfferingUnavailable   = errors.New("offering is not available for enrollment")
	ErrOfferingFull          = errors.New("offering is at capacity")
	ErrAlreadyEnrolled       = errors.New("an active enrollment already exists")
	ErrInvalidPaymentPhone   = errors.New("payment phone number must be 9-15 digits")
	ErrInvalidPaymentMethod  = errors.New("unsupported payment method")
	ErrMissingFlowContext    = errors.New("required flow context is missing")
	ErrInvalidFullName       = errors.New("full name must contain at least a first name and surname")
	ErrInvalidEmail          = errors.New("invalid email address")
	ErrEmailTaken            = errors.New("email address is already registered")
	ErrPaymentNotFound       = errors.New("payment not found")
	ErrPaymentAlreadySettled = errors.New("payment already settled")
)

// Category groups offerings for browsing.
type Category struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	IsActive     bool      `json:"is_active"`
	DisplayOrder int       `json:"display_order"`
	CreatedAt    time.Time `json:"created_at"`
}

// Offering is a bookable event or course in the catalog.
type Offering struct {
	ID               int64        `json:"id"`
	CategoryID       int64        `json:"category_id"`
	CategoryName     string       `json:"category_name,omitempty"`
	Type             OfferingType `json:"type"`
	Title            string       `json:"title"`
	Description      string       `json:"description,omitempty"`
	ShortDescription string       `json:"short_description,omitempty"`
	Location         string       `json:"location,omitempty"`
	LocationType     LocationType `json:"location_type"`
	MeetingLink      string       `json:"meeting_link,omitempty"`
	Capacity         int          `json:"capacity"` // 0 means unlimited
	Amount           float64      `json:"amount"`
	Currency         string       `json:"currency"`
	DurationHours    int          `json:"duration_hours,omitempty"`
	Instructors      []string     `json:"instructors,omitempty"`
	IsActive         bool         `json:"is_active"`
	PublishedAt      *time.Time   `json:"published_at,omitempty"`
	StartAt          *time.Time   `json:"start_at,omitempty"` // events only
	CreatedAt        time.Time    `json:"created_at"`
}

// Published reports whether the offering has been published as of now.
func (o *Offering) Published(now time.Time) bool {
	return o.PublishedAt != nil && !o.PublishedAt.After(now)
}

// Session is one scheduled meeting of a course offering.
type Session struct {
	ID            int64     `json:"id"`
	OfferingID    int64     `json:"offering_id"`
	SessionNumber int       `json:"session_number"`
	Title         string    `json:"title,omitempty"`
	Description   string    `json:"description,omitempty"`
	StartAt       time.Time `json:"start_at"`
	EndAt         time.Time `json:"end_at"`
}

// User is a registered counterparty, keyed by WhatsApp phone number.
type User struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	PhoneNumber string    `json:"phone_number"`
	VerifiedAt  time.Time `json:"verified_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// EnrollmentStatus represents the lifecycle state of an enrollment.
type EnrollmentStatus string

const (
	EnrollmentStatusPending   EnrollmentStatus = "pending"
	EnrollmentStatusConfirmed EnrollmentStatus = "confirmed"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusCancelled EnrollmentStatus = "cancelled"
)

// Enrollment links a phone number to an offering and the payment that
// funded it. At most one non-cancelled enrollment may exist per
// (phone number, offering) pair.
type Enrollment struct {
	ID          string           `json:"id"`
	OfferingID  int64            `json:"offering_id"`
	PaymentID   string           `json:"payment_id,omitempty"`
	UserID      int64            `json:"user_id,omitempty"`
	PhoneNumber string           `json:"phone_number"`
	Status      EnrollmentStatus `json:"status"`
	EnrolledAt  time.Time        `json:"enrolled_at"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// PaymentStatus represents the settlement state of a payment.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusPaid       PaymentStatus = "paid"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// Terminal reports whether the status admits no further settlement writes.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

// Payment records one gateway payment attempt for an offering.
type Payment struct {
	ID              string        `json:"id"`
	OfferingID      int64         `json:"offering_id"`
	EnrollmentID    string        `json:"enrollment_id,omitempty"`
	PhoneNumber     string        `json:"phone_number"` // chat counterparty
	PayerPhone      string        `json:"payer_phone"`  // mobile money number
	Amount          float64       `json:"amount"`
	Currency        string        `json:"currency"`
	Method          PaymentMethod `json:"method"`
	ReferenceNumber string        `json:"reference_number"` // unique, gateway-assigned
	PollURL         string        `json:"poll_url,omitempty"`
	Status          PaymentStatus `json:"status"`
	PaidAt          *time.Time    `json:"paid_at,omitempty"`
	FailedReason    string        `json:"failed_reason,omitempty"`
	TimeoutFlagged  bool          `json:"timeout_flagged,omitempty"` // poll budget exhausted while gateway-pending
	LastError       string        `json:"last_error,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// ReminderType identifies what a reminder is about.
type ReminderType string

const (
	ReminderEnrollmentConfirmation ReminderType = "enrollment_confirmation"
	ReminderEventDayBefore         ReminderType = "event_1day_before"
	ReminderEventHourBefore        ReminderType = "event_1hour_before"
	ReminderSessionDayBefore       ReminderType = "session_1day_before"
	ReminderSessionHourBefore      ReminderType = "session_1hour_before"
	ReminderCourseCompletion       ReminderType = "course_completion"
)

// ReminderStatus represents the delivery state of a reminder.
type ReminderStatus string

const (
	ReminderStatusPending   ReminderStatus = "pending"
	ReminderStatusSending   ReminderStatus = "sending"
	ReminderStatusSent      ReminderStatus = "sent"
	ReminderStatusFailed    ReminderStatus = "failed"
	ReminderStatusCancelled ReminderStatus = "cancelled"
)

// Reminder is a pre-rendered notification scheduled for future delivery.
// ScheduledFor is immutable once the reminder is created.
type Reminder struct {
	ID                string         `json:"id"`
	EnrollmentID      string         `json:"enrollment_id"`
	OfferingID        int64          `json:"offering_id"`
	SessionID         int64          `json:"session_id,omitempty"` // 0 when not session-bound
	PhoneNumber       string         `json:"phone_number"`
	Type              ReminderType   `json:"reminder_type"`
	Message           string         `json:"message"`
	ScheduledFor      time.Time      `json:"scheduled_for"`
	Status            ReminderStatus `json:"status"`
	SentAt            *time.Time     `json:"sent_at,omitempty"`
	LockedAt          *time.Time     `json:"locked_at,omitempty"` // set while a dispatcher holds the claim
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	RetryCount        int            `json:"retry_count"`
	LastError         string         `json:"last_error,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}
