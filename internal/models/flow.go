// Package models defines dialogue state structures for the chatbot.
package models

import "time"

// FlowState identifies a position in the conversational state machine.
type FlowState string

// The closed set of dialogue states. StateIdle is implicit: it is what an
// address is in when no active Flow exists.
const (
	StateIdle                  FlowState = "idle"
	StateMainMenu              FlowState = "main_menu"
	StateBrowsingCategories    FlowState = "browsing_categories"
	StateBrowsingEvents        FlowState = "browsing_events"
	StateBrowsingCourses       FlowState = "browsing_courses"
	StateViewingEventDetails   FlowState = "viewing_event_details"
	StateSelectingPayment      FlowState = "selecting_payment_method"
	StateAwaitingPaymentNumber FlowState = "awaiting_payment_number"
	StateAwaitingConfirmation  FlowState = "awaiting_payment_confirmation"
	StateRegistrationName      FlowState = "registration_name"
	StateRegistrationEmail     FlowState = "registration_email"
	StateViewingHelp           FlowState = "viewing_help"
)

// Context keys. Values are strings; list-valued keys hold JSON-encoded
// int64 slices. A key is meaningful only to the state that wrote it.
const (
	CtxOfferingType    = "offering_type"   // "event" or "course"
	CtxCategoryID      = "category_id"     // decimal id
	CtxCategoryIDs     = "category_ids"    // JSON []int64, 1-based selection target
	CtxOfferingID      = "offering_id"     // decimal id
	CtxOfferingIDs     = "offering_ids"    // JSON []int64, 1-based selection target
	CtxPaymentMethod   = "payment_method"  // PaymentMethod
	CtxPaymentID       = "payment_id"      // Payment.ID
	CtxReferenceNumber = "reference"       // gateway reference number
	CtxPayerPhone      = "payer_phone"     // normalized payment number
	CtxFullName        = "full_name"       // registration capture
)

// Flow is the persisted dialogue position and transient context for one
// phone number. At most one row exists per address; the row is only
// considered active while ExpiresAt is in the future.
type Flow struct {
	PhoneNumber       string            `json:"phone_number"`
	CurrentState      FlowState         `json:"current_state"`
	PreviousState     FlowState         `json:"previous_state,omitempty"`
	Context           map[string]string `json:"context,omitempty"`
	LastInteractionAt time.Time         `json:"last_interaction_at"`
	ExpiresAt         time.Time         `json:"expires_at"`
}

// Expired reports whether the flow's sliding window has lapsed.
func (f *Flow) Expired(now time.Time) bool {
	return !f.ExpiresAt.After(now)
}

// Ctx returns a context value, or def when the key is absent.
func (f *Flow) Ctx(key, def string) string {
	if f == nil || f.Context == nil {
		return def
	}
	if v, ok := f.Context[key]; ok {
		return v
	}
	return def
}
