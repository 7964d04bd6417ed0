package chatbot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/commerce"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/flow"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/models"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/store"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/whatsapp"
)

// greetings are matched as prefixes of the normalized text.
var greetings = []string{
	"hi", "hie", "hello", "hey", "hola",
	"good morning", "good afternoon", "good evening",
}

// verificationCodeRe matches 6-digit OTP-style messages, which must not be
// acknowledged as read (the user may need to copy the code elsewhere).
var verificationCodeRe = regexp.MustCompile(`^\d{6}$`)

const fallbackMessage = "I didn't quite get that. Type *menu* to see what you can do."

// Router interprets inbound messages against the dialogue state and
// dispatches to browse, registration, or commerce handlers.
type Router struct {
	st       store.Store
	flows    *flow.FlowStore
	sender   whatsapp.Sender
	commerce *commerce.Service
	now      func() time.Time
}

// NewRouter creates a message router.
func NewRouter(st store.Store, flows *flow.FlowStore, sender whatsapp.Sender, commerce *commerce.Service) *Router {
	return &Router{
		st:       st,
		flows:    flows,
		sender:   sender,
		commerce: commerce,
		now:      time.Now,
	}
}

// HandleMessage processes one inbound envelope. It acknowledges the message
// to the channel (unless it looks like a verification code) before
// dispatching, so a handler error never leaves the message unacknowledged.
func (r *Router) HandleMessage(ctx context.Context, msg models.InboundMessage) error {
	if msg.From == "" {
		return models.ErrEmptyRecipient
	}

	if msg.ID != "" && !(msg.Type == models.MessageTypeText && verificationCodeRe.MatchString(strings.TrimSpace(msg.Text))) {
		if err := r.sender.MarkRead(ctx, msg.ID); err != nil {
			// Acknowledgment is best-effort; dispatch proceeds regardless.
			slog.Warn("Router.HandleMessage: mark read failed", "messageID", msg.ID, "error", err)
		}
	}

	switch msg.Type {
	case models.MessageTypeText:
		return r.handleText(ctx, msg.From, msg.Text)
	case models.MessageTypeInteractive:
		if msg.Interactive == nil {
			return r.sendFallback(ctx, msg.From)
		}
		return r.handleAction(ctx, msg.From, ParseAction(msg.Interactive.ID))
	default:
		return r.sendFallback(ctx, msg.From)
	}
}

// handleText implements the free-text routing order: capture states first
// (the text is data, not a command), then global commands, then greetings,
// then state-specific handling, then the fallback.
func (r *Router) handleText(ctx context.Context, phone, text string) error {
	trimmed := strings.TrimSpace(text)
	normalized := strings.ToLower(trimmed)

	f, err := r.flows.Current(phone)
	if err != nil {
		return err
	}
	state := models.StateIdle
	if f != nil {
		state = f.CurrentState
	}

	// Registration capture short-circuits everything: "Hi Moyo" as a name
	// must not be treated as a greeting.
	switch state {
	case models.StateRegistrationName:
		return r.handleNameCapture(ctx, phone, trimmed)
	case models.StateRegistrationEmail:
		return r.handleEmailCapture(ctx, phone, trimmed)
	}

	switch normalized {
	case "menu", "start":
		return r.showMainMenu(ctx, phone)
	case "help", "?":
		return r.showHelp(ctx, phone)
	case "my enrollments", "enrollments":
		return r.commerce.ShowMyEnrollments(ctx, phone)
	}

	if isGreeting(normalized) {
		u, err := r.st.GetUserByPhone(phone)
		if err != nil {
			return fmt.Errorf("Router.handleText: %w", err)
		}
		if u == nil {
			return r.startRegistration(ctx, phone)
		}
		return r.showMainMenu(ctx, phone)
	}

	return r.handleStateText(ctx, phone, f, state, trimmed, normalized)
}

// handleStateText dispatches text that is neither a capture nor a global
// command on the current dialogue state.
func (r *Router) handleStateText(ctx context.Context, phone string, f *models.Flow, state models.FlowState, trimmed, normalized string) error {
	switch state {
	case models.StateMainMenu:
		return r.handleMenuOption(ctx, phone, normalized)

	case models.StateBrowsingCategories:
		categoryID, ok := selectFromContext(f, models.CtxCategoryIDs, normalized)
		if !ok {
			_, err := r.sender.SendText(ctx, phone, "Please reply with one of the listed numbers, or type *menu* to start over.")
			return err
		}
		return r.listOfferings(ctx, phone, categoryID, offeringTypeFromFlow(f))

	case models.StateBrowsingEvents, models.StateBrowsingCourses:
		offeringID, ok := selectFromContext(f, models.CtxOfferingIDs, normalized)
		if !ok {
			_, err := r.sender.SendText(ctx, phone, "Please reply with one of the listed numbers, or type *menu* to start over.")
			return err
		}
		return r.showOfferingDetails(ctx, phone, offeringID)

	case models.StateViewingEventDetails:
		if normalized == "enroll" {
			if id, err := strconv.ParseInt(f.Ctx(models.CtxOfferingID, ""), 10, 64); err == nil {
				return r.commerce.InitiateEnrollment(ctx, phone, id)
			}
		}
		_, err := r.sender.SendText(ctx, phone, "Tap *Enroll* to sign up, or type *menu* to keep browsing.")
		return err

	case models.StateSelectingPayment:
		switch normalized {
		case "ecocash", "1":
			return r.commerce.SelectPaymentMethod(ctx, phone, models.PaymentMethodEcocash)
		case "onemoney", "2":
			return r.commerce.SelectPaymentMethod(ctx, phone, models.PaymentMethodOnemoney)
		}
		_, err := r.sender.SendText(ctx, phone, "Please choose *EcoCash* or *OneMoney* using the buttons.")
		return err

	case models.StateAwaitingPaymentNumber:
		return r.commerce.SubmitPaymentNumber(ctx, phone, trimmed)

	case models.StateAwaitingConfirmation:
		if normalized == "check" || normalized == "status" {
			return r.commerce.CheckPaymentStatus(ctx, phone)
		}
		_, err := r.sender.SendText(ctx, phone, "We're waiting for your payment to be confirmed. Tap *Check status* or reply *check* for an update.")
		return err

	default:
		return r.sendFallback(ctx, phone)
	}
}

// handleMenuOption resolves a main-menu reply: a numbered option, or loose
// text naming one ("events please", "my courses"). Anything unrecognized
// re-renders the menu instead of dead-ending the dialogue.
func (r *Router) handleMenuOption(ctx context.Context, phone, normalized string) error {
	n, err := strconv.Atoi(normalized)
	if err != nil {
		switch {
		case strings.Contains(normalized, "event"):
			return r.browseCategories(ctx, phone, models.OfferingTypeEvent)
		case strings.Contains(normalized, "course"):
			return r.browseCategories(ctx, phone, models.OfferingTypeCourse)
		case strings.Contains(normalized, "enrollment"), strings.Contains(normalized, "my"):
			return r.commerce.ShowMyEnrollments(ctx, phone)
		}
		return r.showMainMenu(ctx, phone)
	}
	switch n {
	case menuOptionEvents:
		return r.browseCategories(ctx, phone, models.OfferingTypeEvent)
	case menuOptionCourses:
		return r.browseCategories(ctx, phone, models.OfferingTypeCourse)
	case menuOptionEnrollments:
		return r.commerce.ShowMyEnrollments(ctx, phone)
	case menuOptionHelp:
		return r.showHelp(ctx, phone)
	default:
		_, err := r.sender.SendText(ctx, phone, fmt.Sprintf("Please reply with a number between 1 and %d.", menuOptionHelp))
		return err
	}
}

// handleAction dispatches a decoded interactive reply.
func (r *Router) handleAction(ctx context.Context, phone string, a Action) error {
	switch a.Kind {
	case ActionBrowseEvents:
		return r.browseCategories(ctx, phone, models.OfferingTypeEvent)
	case ActionBrowseCourses:
		return r.browseCategories(ctx, phone, models.OfferingTypeCourse)
	case ActionCategory:
		t := models.OfferingTypeEvent
		if f, err := r.flows.Current(phone); err == nil && f != nil {
			t = offeringTypeFromFlow(f)
		}
		return r.listOfferings(ctx, phone, a.CategoryID, t)
	case ActionViewOffering:
		return r.showOfferingDetails(ctx, phone, a.OfferingID)
	case ActionEnroll:
		return r.commerce.InitiateEnrollment(ctx, phone, a.OfferingID)
	case ActionPayment:
		return r.commerce.SelectPaymentMethod(ctx, phone, a.Method)
	case ActionMyEnrollments:
		return r.commerce.ShowMyEnrollments(ctx, phone)
	case ActionMenu, ActionBack:
		return r.showMainMenu(ctx, phone)
	case ActionHelp:
		return r.showHelp(ctx, phone)
	case ActionCheckPayment:
		return r.commerce.CheckPaymentStatus(ctx, phone)
	default:
		return r.sendFallback(ctx, phone)
	}
}

func (r *Router) sendFallback(ctx context.Context, phone string) error {
	_, err := r.sender.SendText(ctx, phone, fallbackMessage)
	return err
}

func isGreeting(normalized string) bool {
	for _, g := range greetings {
		if strings.HasPrefix(normalized, g) {
			return true
		}
	}
	return false
}

func offeringTypeFromFlow(f *models.Flow) models.OfferingType {
	if f.Ctx(models.CtxOfferingType, "") == string(models.OfferingTypeCourse) {
		return models.OfferingTypeCourse
	}
	return models.OfferingTypeEvent
}
