// Package commerce orchestrates enrollment and payment for catalog offerings.
//
// The dialogue layer calls into Service to drive a counterparty from an
// enroll tap through payment-method selection, gateway initiation, and the
// asynchronous settlement that confirms or fails the enrollment. Service
// owns the Enrollment, Payment and Reminder records; the dialogue layer only
// carries their identifiers in flow context.
package commerce

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/flow"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/models"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/pesepay"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/reminder"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/store"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/util"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/whatsapp"
)

// Reply button IDs produced by this package and parsed by the dialogue layer.
const (
	ButtonIDPaymentEcocash  = "payment_ecocash"
	ButtonIDPaymentOnemoney = "payment_onemoney"
	ButtonIDCheckPayment    = "check_payment_status"
	ButtonIDBackToMain      = "back_to_main"
)

// DefaultEnrollmentListLimit caps the "my enrollments" view.
const DefaultEnrollmentListLimit = 10

const sessionExpiredMessage = "Your session has expired. Type *menu* to start again."

var phoneStripRe = regexp.MustCompile(`[\s\-()]`)
var digitsRe = regexp.MustCompile(`^[0-9]+$`)

// NormalizePaymentPhone strips formatting from a user-supplied payment number
// and validates the digit count. Returns models.ErrInvalidPaymentPhone when
// the result is not 9-15 digits.
func NormalizePaymentPhone(raw string) (string, error) {
	n := phoneStripRe.ReplaceAllString(raw, "")
	if strings.HasPrefix(n, "+") {
		n = n[1:]
	} else if strings.HasPrefix(n, "00") {
		n = n[2:]
	}
	if len(n) < models.MinPaymentPhoneDigits || len(n) > models.MaxPaymentPhoneDigits || !digitsRe.MatchString(n) {
		return "", models.ErrInvalidPaymentPhone
	}
	return n, nil
}

// Opts holds configuration options for the commerce service.
type Opts struct {
	PollAttempts      int
	PollInterval      time.Duration
	InitialPollDelay  time.Duration
	TimeoutAutoRetry  bool
	TimeoutRetryDelay time.Duration
}

// Option defines a configuration option for the commerce service.
type Option func(*Opts)

// WithPollAttempts sets the settlement poll budget per payment.
func WithPollAttempts(n int) Option {
	return func(o *Opts) {
		if n > 0 {
			o.PollAttempts = n
		}
	}
}

// WithPollInterval sets the delay between settlement polls.
func WithPollInterval(d time.Duration) Option {
	return func(o *Opts) {
		if d > 0 {
			o.PollInterval = d
		}
	}
}

// WithTimeoutAutoRetry enables a fresh poll round after a soft timeout
// instead of leaving the payment for manual reconciliation.
func WithTimeoutAutoRetry(enabled bool, retryDelay time.Duration) Option {
	return func(o *Opts) {
		o.TimeoutAutoRetry = enabled
		if retryDelay > 0 {
			o.TimeoutRetryDelay = retryDelay
		}
	}
}

// Service drives enrollment and payment for offerings.
type Service struct {
	st        store.Store
	flows     *flow.FlowStore
	sender    whatsapp.Sender
	gateway   pesepay.Gateway
	jobs      store.JobRepo
	reminders *reminder.Scheduler
	cfg       Opts
}

// NewService creates the commerce service.
func NewService(st store.Store, flows *flow.FlowStore, sender whatsapp.Sender, gateway pesepay.Gateway, jobs store.JobRepo, reminders *reminder.Scheduler, opts ...Option) *Service {
	cfg := Opts{
		PollAttempts:      DefaultPollAttempts,
		PollInterval:      DefaultPollInterval,
		InitialPollDelay:  DefaultInitialPollDelay,
		TimeoutRetryDelay: DefaultTimeoutRetryDelay,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Service{
		st:        st,
		flows:     flows,
		sender:    sender,
		gateway:   gateway,
		jobs:      jobs,
		reminders: reminders,
		cfg:       cfg,
	}
}

// availability checks whether an offering can accept a new enrollment from
// phone. Returns one of the models sentinel errors on refusal.
func (s *Service) availability(phone string, offeringID int64) (*models.Offering, error) {
	o, err := s.st.GetOffering(offeringID)
	if err != nil {
		return nil, fmt.Errorf("Service.availability: %w", err)
	}
	if o == nil {
		return nil, models.ErrOfferingNotFound
	}
	if !o.IsActive || !o.Published(time.Now()) {
		return o, models.ErrOfferingUnavailable
	}
	if o.Capacity > 0 {
		confirmed, err := s.st.CountConfirmedEnrollments(o.ID)
		if err != nil {
			return nil, fmt.Errorf("Service.availability: count confirmed: %w", err)
		}
		if confirmed >= o.Capacity {
			return o, models.ErrOfferingFull
		}
	}
	existing, err := s.st.GetActiveEnrollment(phone, o.ID)
	if err != nil {
		return nil, fmt.Errorf("Service.availability: active enrollment lookup: %w", err)
	}
	if existing != nil {
		return o, models.ErrAlreadyEnrolled
	}
	return o, nil
}

// InitiateEnrollment validates the offering and, when enrollable, presents
// payment-method choices. Refusals are answered in chat without a state
// change.
func (s *Service) InitiateEnrollment(ctx context.Context, phone string, offeringID int64) error {
	o, err := s.availability(phone, offeringID)
	switch err {
	case nil:
	case models.ErrOfferingNotFound:
		_, sendErr := s.sender.SendText(ctx, phone, "Sorry, that offering could not be found. Type *menu* to browse what's available.")
		return sendErr
	case models.ErrOfferingUnavailable:
		_, sendErr := s.sender.SendText(ctx, phone, fmt.Sprintf("Sorry, *%s* is not open for enrollment right now.", o.Title))
		return sendErr
	case models.ErrOfferingFull:
		_, sendErr := s.sender.SendText(ctx, phone, fmt.Sprintf("Sorry, *%s* is fully booked. Type *menu* to browse other offerings.", o.Title))
		return sendErr
	case models.ErrAlreadyEnrolled:
		_, sendErr := s.sender.SendText(ctx, phone, fmt.Sprintf("You already have an enrollment for *%s*. Reply *my enrollments* to view it.", o.Title))
		return sendErr
	default:
		return err
	}

	body := fmt.Sprintf("How would you like to pay for *%s* (%s)?", o.Title, formatAmount(o))
	if _, err := s.sender.SendButtons(ctx, phone, body, []whatsapp.Button{
		{ID: ButtonIDPaymentEcocash, Title: "EcoCash"},
		{ID: ButtonIDPaymentOnemoney, Title: "OneMoney"},
		{ID: ButtonIDBackToMain, Title: "Back to menu"},
	}); err != nil {
		return fmt.Errorf("Service.InitiateEnrollment: send payment methods: %w", err)
	}

	return s.flows.Transition(phone, models.StateSelectingPayment, map[string]string{
		models.CtxOfferingID: strconv.FormatInt(o.ID, 10),
	})
}

// SelectPaymentMethod records the chosen mobile money rail and prompts for
// the number to bill. A missing offering context means the dialogue lapsed;
// the user is told to restart and the flow is cleared.
func (s *Service) SelectPaymentMethod(ctx context.Context, phone string, method models.PaymentMethod) error {
	if !models.IsValidPaymentMethod(method) {
		_, err := s.sender.SendText(ctx, phone, "That payment method isn't supported. Please choose EcoCash or OneMoney.")
		return err
	}

	f, err := s.flows.Current(phone)
	if err != nil {
		return err
	}
	if f == nil || f.Ctx(models.CtxOfferingID, "") == "" {
		return s.expireDialogue(ctx, phone)
	}

	prompt := fmt.Sprintf("Please enter the %s number to bill (e.g. 0771234567).", methodLabel(method))
	if _, err := s.sender.SendText(ctx, phone, prompt); err != nil {
		return fmt.Errorf("Service.SelectPaymentMethod: send prompt: %w", err)
	}

	return s.flows.Transition(phone, models.StateAwaitingPaymentNumber, map[string]string{
		models.CtxPaymentMethod: string(method),
	})
}

// SubmitPaymentNumber normalizes and validates the payment number, initiates
// the gateway payment, persists the pending Payment, and enqueues the
// settlement poll chain.
func (s *Service) SubmitPaymentNumber(ctx context.Context, phone, rawNumber string) error {
	f, err := s.flows.Current(phone)
	if err != nil {
		return err
	}
	if f == nil {
		return s.expireDialogue(ctx, phone)
	}
	offeringIDStr := f.Ctx(models.CtxOfferingID, "")
	method := models.PaymentMethod(f.Ctx(models.CtxPaymentMethod, ""))
	if offeringIDStr == "" || method == "" {
		return s.expireDialogue(ctx, phone)
	}
	offeringID, err := strconv.ParseInt(offeringIDStr, 10, 64)
	if err != nil {
		slog.Error("Service.SubmitPaymentNumber: corrupt offering context", "phone", phone, "value", offeringIDStr)
		return s.expireDialogue(ctx, phone)
	}

	payerPhone, err := NormalizePaymentPhone(rawNumber)
	if err != nil {
		_, sendErr := s.sender.SendText(ctx, phone, "That doesn't look like a valid mobile number. Please enter 9-15 digits, e.g. 0771234567.")
		return sendErr
	}

	o, err := s.st.GetOffering(offeringID)
	if err != nil {
		return fmt.Errorf("Service.SubmitPaymentNumber: %w", err)
	}
	if o == nil {
		return s.expireDialogue(ctx, phone)
	}

	req := pesepay.CreateRequest{
		Amount:     o.Amount,
		Currency:   o.Currency,
		Method:     method,
		PayerPhone: payerPhone,
		Reason:     fmt.Sprintf("Enrollment: %s", o.Title),
	}
	if u, err := s.st.GetUserByPhone(phone); err == nil && u != nil {
		req.CustomerName = u.Name
		req.CustomerEmail = u.Email
	}

	created, err := s.gateway.CreatePayment(ctx, req)
	if err != nil {
		slog.Error("Service.SubmitPaymentNumber: gateway initiation failed", "phone", phone, "offeringID", offeringID, "error", err)
		if _, sendErr := s.sender.SendText(ctx, phone, "We couldn't start the payment: the gateway is unavailable. Please choose a payment method to try again."); sendErr != nil {
			return sendErr
		}
		// Drop back so the user can pick a method and retry.
		return s.flows.Transition(phone, models.StateSelectingPayment, nil)
	}

	p := models.Payment{
		ID:              util.GeneratePaymentID(),
		OfferingID:      o.ID,
		PhoneNumber:     phone,
		PayerPhone:      payerPhone,
		Amount:          o.Amount,
		Currency:        o.Currency,
		Method:          method,
		ReferenceNumber: created.ReferenceNumber,
		PollURL:         created.PollURL,
		Status:          models.PaymentStatusPending,
	}
	if err := s.st.CreatePayment(p); err != nil {
		return fmt.Errorf("Service.SubmitPaymentNumber: persist payment: %w", err)
	}

	if err := s.EnqueueSettlement(p.ID); err != nil {
		return fmt.Errorf("Service.SubmitPaymentNumber: enqueue settlement: %w", err)
	}

	body := fmt.Sprintf("📲 A payment prompt for %s has been sent to %s. Enter your PIN on your phone to approve it.\n\nReference: %s", formatAmount(o), payerPhone, p.ReferenceNumber)
	if _, err := s.sender.SendButtons(ctx, phone, body, []whatsapp.Button{
		{ID: ButtonIDCheckPayment, Title: "Check status"},
	}); err != nil {
		return fmt.Errorf("Service.SubmitPaymentNumber: send pending notice: %w", err)
	}

	return s.flows.Transition(phone, models.StateAwaitingConfirmation, map[string]string{
		models.CtxPaymentID:       p.ID,
		models.CtxReferenceNumber: p.ReferenceNumber,
		models.CtxPayerPhone:      payerPhone,
	})
}

// CompleteEnrollment is the single join point between payment success and
// the dialogue ending cleanly. It is idempotent: if an enrollment already
// references the payment, nothing happens.
func (s *Service) CompleteEnrollment(ctx context.Context, p models.Payment) error {
	existing, err := s.st.GetEnrollmentByPayment(p.ID)
	if err != nil {
		return fmt.Errorf("Service.CompleteEnrollment: %w", err)
	}
	if existing != nil {
		slog.Debug("Service.CompleteEnrollment: already enrolled for payment", "paymentID", p.ID, "enrollmentID", existing.ID)
		return nil
	}

	o, err := s.st.GetOffering(p.OfferingID)
	if err != nil {
		return fmt.Errorf("Service.CompleteEnrollment: %w", err)
	}
	if o == nil {
		return fmt.Errorf("Service.CompleteEnrollment: %w: id %d", models.ErrOfferingNotFound, p.OfferingID)
	}

	e := models.Enrollment{
		ID:          util.GenerateEnrollmentID(),
		OfferingID:  p.OfferingID,
		PaymentID:   p.ID,
		PhoneNumber: p.PhoneNumber,
		Status:      models.EnrollmentStatusConfirmed,
		EnrolledAt:  time.Now(),
	}
	if u, err := s.st.GetUserByPhone(p.PhoneNumber); err == nil && u != nil {
		e.UserID = u.ID
	}
	if err := s.st.CreateEnrollment(e); err != nil {
		return fmt.Errorf("Service.CompleteEnrollment: persist enrollment: %w", err)
	}
	slog.Info("Service.CompleteEnrollment: enrollment confirmed", "enrollmentID", e.ID, "paymentID", p.ID, "offeringID", o.ID)

	if err := s.reminders.ScheduleForEnrollment(e, *o, time.Now()); err != nil {
		// Reminders are best-effort; the enrollment stands.
		slog.Error("Service.CompleteEnrollment: reminder scheduling failed", "enrollmentID", e.ID, "error", err)
	}

	if _, err := s.sender.SendText(ctx, p.PhoneNumber, s.confirmationBody(o)); err != nil {
		slog.Error("Service.CompleteEnrollment: send confirmation failed", "enrollmentID", e.ID, "error", err)
	}

	return s.flows.Clear(p.PhoneNumber)
}

func (s *Service) confirmationBody(o *models.Offering) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎉 Payment received! You are now enrolled in *%s*.", o.Title)
	if o.Type == models.OfferingTypeEvent && o.StartAt != nil {
		fmt.Fprintf(&b, "\n\n📅 %s", o.StartAt.Format("Monday, 02 Jan 2006 at 15:04"))
	}
	if o.Type == models.OfferingTypeCourse {
		if sessions, err := s.st.ListSessions(o.ID); err == nil && len(sessions) > 0 {
			b.WriteString("\n\nUpcoming sessions:")
			for i, sess := range sessions {
				if i >= 3 {
					fmt.Fprintf(&b, "\n…and %d more", len(sessions)-i)
					break
				}
				title := sess.Title
				if title == "" {
					title = fmt.Sprintf("Session %d", sess.SessionNumber)
				}
				fmt.Fprintf(&b, "\n• %s — %s", title, sess.StartAt.Format("02 Jan 15:04"))
			}
		}
	}
	if o.Location != "" {
		fmt.Fprintf(&b, "\n📍 %s", o.Location)
	}
	b.WriteString("\n\nWe'll send you reminders before it starts.")
	return b.String()
}

// HandleFailedPayment tells the user why the payment failed and ends the
// dialogue branch.
func (s *Service) HandleFailedPayment(ctx context.Context, p models.Payment) error {
	reason := p.FailedReason
	if reason == "" {
		reason = "the payment was not approved"
	}
	body := fmt.Sprintf("❌ Your payment could not be completed: %s.\n\nType *menu* to try again.", reason)
	if _, err := s.sender.SendText(ctx, p.PhoneNumber, body); err != nil {
		slog.Error("Service.HandleFailedPayment: send failed", "paymentID", p.ID, "error", err)
	}
	return s.flows.Clear(p.PhoneNumber)
}

// HandleRefund moves a paid payment to refunded, cancels the enrollment it
// funded along with its pending reminders, and notifies the user. Returns
// false when the payment was not in a refundable state.
func (s *Service) HandleRefund(ctx context.Context, paymentID string) (bool, error) {
	refunded, err := s.st.MarkPaymentRefunded(paymentID)
	if err != nil {
		return false, fmt.Errorf("Service.HandleRefund: %w", err)
	}
	if !refunded {
		return false, nil
	}

	p, err := s.st.GetPayment(paymentID)
	if err != nil {
		return true, fmt.Errorf("Service.HandleRefund: reload payment: %w", err)
	}

	e, err := s.st.GetEnrollmentByPayment(paymentID)
	if err != nil {
		return true, fmt.Errorf("Service.HandleRefund: enrollment lookup: %w", err)
	}
	if e != nil {
		if err := s.st.UpdateEnrollmentStatus(e.ID, models.EnrollmentStatusCancelled); err != nil {
			return true, fmt.Errorf("Service.HandleRefund: cancel enrollment: %w", err)
		}
		if _, err := s.reminders.CancelForEnrollment(e.ID); err != nil {
			slog.Error("Service.HandleRefund: cancel reminders failed", "enrollmentID", e.ID, "error", err)
		}
	}
	slog.Info("Service.HandleRefund: payment refunded", "paymentID", paymentID)

	if p != nil {
		body := fmt.Sprintf("Your payment (reference %s) has been refunded and the enrollment cancelled. Type *menu* if you'd like to browse again.", p.ReferenceNumber)
		if _, err := s.sender.SendText(ctx, p.PhoneNumber, body); err != nil {
			slog.Error("Service.HandleRefund: send notice failed", "paymentID", paymentID, "error", err)
		}
	}
	return true, nil
}

// ShowMyEnrollments renders the user's active enrollments.
func (s *Service) ShowMyEnrollments(ctx context.Context, phone string) error {
	enrollments, err := s.st.ListActiveEnrollments(phone, DefaultEnrollmentListLimit)
	if err != nil {
		return fmt.Errorf("Service.ShowMyEnrollments: %w", err)
	}
	if len(enrollments) == 0 {
		_, err := s.sender.SendText(ctx, phone, "You have no active enrollments yet. Type *menu* to browse events and courses.")
		return err
	}

	var b strings.Builder
	b.WriteString("📋 *Your enrollments:*\n")
	for _, e := range enrollments {
		title := fmt.Sprintf("offering #%d", e.OfferingID)
		var when string
		if o, err := s.st.GetOffering(e.OfferingID); err == nil && o != nil {
			title = o.Title
			if o.StartAt != nil {
				when = " — " + o.StartAt.Format("02 Jan 2006 15:04")
			}
		}
		fmt.Fprintf(&b, "\n• *%s*%s (%s)", title, when, e.Status)
	}
	b.WriteString("\n\nType *menu* for the main menu.")
	_, err = s.sender.SendText(ctx, phone, b.String())
	return err
}

// expireDialogue answers a lost-context situation: instruct a restart and
// drop whatever flow remains.
func (s *Service) expireDialogue(ctx context.Context, phone string) error {
	if _, err := s.sender.SendText(ctx, phone, sessionExpiredMessage); err != nil {
		return err
	}
	return s.flows.Clear(phone)
}

func methodLabel(m models.PaymentMethod) string {
	switch m {
	case models.PaymentMethodEcocash:
		return "EcoCash"
	case models.PaymentMethodOnemoney:
		return "OneMoney"
	default:
		return string(m)
	}
}

func formatAmount(o *models.Offering) string {
	if o.Amount == 0 {
		return "free"
	}
	return fmt.Sprintf("$%.2f %s", o.Amount, o.Currency)
}
