// Package chatbot routes inbound WhatsApp messages to dialogue handlers.
package chatbot

import (
	"strconv"
	"strings"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/models"
)

// ActionKind enumerates the actions a structured reply can request.
type ActionKind int

const (
	ActionUnknown ActionKind = iota
	ActionBrowseEvents
	ActionBrowseCourses
	ActionCategory
	ActionViewOffering
	ActionEnroll
	ActionPayment
	ActionMyEnrollments
	ActionMenu
	ActionBack
	ActionHelp
	ActionCheckPayment
)

// Action is the decoded form of a reply ID. Only the fields relevant to the
// Kind are populated.
type Action struct {
	Kind       ActionKind
	CategoryID int64
	OfferingID int64
	Method     models.PaymentMethod
}

// ParseAction decodes a reply ID of the form action[_entity[_id]] into an
// Action. The grammar is underscore-delimited with the leading token naming
// the action; trailing segments beyond what an action consumes are ignored,
// so new suffixes never break old consumers. Anything unrecognized decodes
// to ActionUnknown.
func ParseAction(id string) Action {
	parts := strings.Split(strings.TrimSpace(id), "_")
	if len(parts) == 0 || parts[0] == "" {
		return Action{Kind: ActionUnknown}
	}

	switch parts[0] {
	case "browse":
		if len(parts) >= 2 {
			switch parts[1] {
			case "events":
				return Action{Kind: ActionBrowseEvents}
			case "courses":
				return Action{Kind: ActionBrowseCourses}
			}
		}
		return Action{Kind: ActionUnknown}

	case "category":
		if cid, ok := trailingID(parts[1:]); ok {
			return Action{Kind: ActionCategory, CategoryID: cid}
		}
		return Action{Kind: ActionUnknown}

	case "view":
		if oid, ok := trailingID(parts[1:]); ok {
			return Action{Kind: ActionViewOffering, OfferingID: oid}
		}
		return Action{Kind: ActionUnknown}

	case "enroll":
		if oid, ok := trailingID(parts[1:]); ok {
			return Action{Kind: ActionEnroll, OfferingID: oid}
		}
		return Action{Kind: ActionUnknown}

	case "payment":
		if len(parts) >= 2 {
			m := models.PaymentMethod(parts[1])
			if models.IsValidPaymentMethod(m) {
				return Action{Kind: ActionPayment, Method: m}
			}
		}
		return Action{Kind: ActionUnknown}

	case "my", "enrollments":
		// Both "my_enrollments" and bare "enrollments" land here.
		return Action{Kind: ActionMyEnrollments}

	case "menu":
		return Action{Kind: ActionMenu}

	case "back":
		return Action{Kind: ActionBack}

	case "help":
		return Action{Kind: ActionHelp}

	case "check":
		return Action{Kind: ActionCheckPayment}

	default:
		return Action{Kind: ActionUnknown}
	}
}

// trailingID finds the first numeric segment in the remaining parts. Reply
// IDs may carry an entity word before the number (enroll_event_12) or not
// (category_3).
func trailingID(parts []string) (int64, bool) {
	for _, p := range parts {
		if id, err := strconv.ParseInt(p, 10, 64); err == nil {
			return id, true
		}
	}
	return 0, false
}
