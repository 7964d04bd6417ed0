package chatbot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/commerce"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/flow"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/models"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/pesepay"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/reminder"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/store"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/whatsapp"
)

const testPhone = "263771111111"

type routerEnv struct {
	st      *store.InMemoryStore
	sender  *whatsapp.MockSender
	gateway *pesepay.MockGateway
	flows   *flow.FlowStore
	svc     *commerce.Service
	router  *Router
}

func newRouterEnv(t *testing.T) *routerEnv {
	t.Helper()
	st := store.NewInMemoryStore()
	sender := whatsapp.NewMockSender()
	gateway := pesepay.NewMockGateway()
	flows := flow.NewFlowStore(st)
	svc := commerce.NewService(st, flows, sender, gateway, st, reminder.NewScheduler(st))
	return &routerEnv{
		st:      st,
		sender:  sender,
		gateway: gateway,
		flows:   flows,
		svc:     svc,
		router:  NewRouter(st, flows, sender, svc),
	}
}

func (e *routerEnv) seedCatalog(t *testing.T) models.Offering {
	t.Helper()
	e.st.SeedCategory(models.Category{ID: 1, Name: "Business", IsActive: true})
	published := time.Now().Add(-24 * time.Hour)
	start := time.Now().Add(72 * time.Hour)
	o := models.Offering{
		ID:          1,
		CategoryID:  1,
		Type:        models.OfferingTypeEvent,
		Title:       "Pitch Night",
		Location:    "Harare",
		Amount:      15,
		Currency:    "USD",
		IsActive:    true,
		PublishedAt: &published,
		StartAt:     &start,
	}
	e.st.SeedOffering(o)
	return o
}

func (e *routerEnv) text(t *testing.T, body string) {
	t.Helper()
	err := e.router.HandleMessage(context.Background(), models.InboundMessage{
		From: testPhone,
		ID:   "wamid.in." + body,
		Type: models.MessageTypeText,
		Text: body,
	})
	if err != nil {
		t.Fatalf("HandleMessage(%q) failed: %v", body, err)
	}
}

func (e *routerEnv) tap(t *testing.T, replyID string) {
	t.Helper()
	err := e.router.HandleMessage(context.Background(), models.InboundMessage{
		From:        testPhone,
		ID:          "wamid.in." + replyID,
		Type:        models.MessageTypeInteractive,
		Interactive: &models.InteractiveReply{Kind: "button_reply", ID: replyID},
	})
	if err != nil {
		t.Fatalf("HandleMessage(tap %q) failed: %v", replyID, err)
	}
}

func (e *routerEnv) mustState(t *testing.T, want models.FlowState) {
	t.Helper()
	f, err := e.flows.Current(testPhone)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if want == models.StateIdle {
		if f != nil {
			t.Fatalf("expected idle (no flow), got state %s", f.CurrentState)
		}
		return
	}
	if f == nil {
		t.Fatalf("expected state %s, got no flow", want)
	}
	if f.CurrentState != want {
		t.Fatalf("expected state %s, got %s", want, f.CurrentState)
	}
}

func (e *routerEnv) mustLastContain(t *testing.T, substr string) {
	t.Helper()
	last := e.sender.LastSent()
	if last == nil || !strings.Contains(last.Body, substr) {
		t.Fatalf("expected last message to contain %q, got %+v", substr, last)
	}
}

// settle drives the queued settlement chain until no due jobs remain.
func (e *routerEnv) settle(t *testing.T) {
	t.Helper()
	for i := 0; i < 20; i++ {
		jobs, err := e.st.ClaimDueJobs(time.Now().Add(time.Hour), 10)
		if err != nil {
			t.Fatalf("ClaimDueJobs failed: %v", err)
		}
		if len(jobs) == 0 {
			return
		}
		for _, job := range jobs {
			if err := e.svc.HandleSettlementJob(context.Background(), job.PayloadJSON); err != nil {
				t.Fatalf("HandleSettlementJob failed: %v", err)
			}
			if err := e.st.CompleteJob(job.ID); err != nil {
				t.Fatalf("CompleteJob failed: %v", err)
			}
		}
	}
	t.Fatal("settlement chain did not drain")
}

// TestFullEnrollmentJourney walks a brand-new user from first greeting to a
// confirmed, reminder-scheduled enrollment.
func TestFullEnrollmentJourney(t *testing.T) {
	env := newRouterEnv(t)
	env.seedCatalog(t)

	// Greeting from an unknown number opens registration.
	env.text(t, "hi")
	env.mustState(t, models.StateRegistrationName)
	env.mustLastContain(t, "full name")

	env.text(t, "Jane Moyo")
	env.mustState(t, models.StateRegistrationEmail)
	env.mustLastContain(t, "email")

	env.text(t, "jane@example.com")
	env.mustState(t, models.StateMainMenu)
	env.mustLastContain(t, "What would you like to do")

	u, err := env.st.GetUserByPhone(testPhone)
	if err != nil || u == nil {
		t.Fatalf("expected registered user, got %v err %v", u, err)
	}
	if u.Name != "Jane Moyo" || u.Email != "jane@example.com" {
		t.Fatalf("unexpected user record: %+v", u)
	}

	// Menu option 1 browses event categories.
	env.text(t, "1")
	env.mustState(t, models.StateBrowsingCategories)
	if last := env.sender.LastSent(); last.Kind != "list" {
		t.Fatalf("expected a list message for categories, got %q", last.Kind)
	}

	// Numeric selection resolves against the stored id list.
	env.text(t, "1")
	env.mustState(t, models.StateBrowsingEvents)
	env.mustLastContain(t, "Pitch Night")

	env.text(t, "1")
	env.mustState(t, models.StateViewingEventDetails)
	last := env.sender.LastSent()
	if last.Kind != "buttons" || last.Buttons[0].ID != "enroll_event_1" {
		t.Fatalf("expected enroll button, got %+v", last)
	}

	env.tap(t, "enroll_event_1")
	env.mustState(t, models.StateSelectingPayment)
	env.mustLastContain(t, "How would you like to pay")

	env.tap(t, commerce.ButtonIDPaymentEcocash)
	env.mustState(t, models.StateAwaitingPaymentNumber)
	env.mustLastContain(t, "EcoCash number")

	env.text(t, "0771234567")
	env.mustState(t, models.StateAwaitingConfirmation)
	env.mustLastContain(t, "payment prompt")

	// Approve on the handset: the gateway reports paid, the chain settles.
	f, _ := env.flows.Current(testPhone)
	p, err := env.st.GetPayment(f.Ctx(models.CtxPaymentID, ""))
	if err != nil || p == nil {
		t.Fatalf("expected pending payment, got %v err %v", p, err)
	}
	env.gateway.SetStatus(p.PollURL, pesepay.StatusPaid, "SUCCESS", "")
	env.settle(t)

	settled, _ := env.st.GetPayment(p.ID)
	if settled.Status != models.PaymentStatusPaid {
		t.Fatalf("expected paid payment, got %s", settled.Status)
	}
	e, _ := env.st.GetEnrollmentByPayment(p.ID)
	if e == nil || e.Status != models.EnrollmentStatusConfirmed {
		t.Fatalf("expected confirmed enrollment, got %+v", e)
	}
	rs, _ := env.st.ListRemindersByEnrollment(e.ID)
	if len(rs) == 0 {
		t.Error("expected reminders scheduled for the enrollment")
	}
	env.mustLastContain(t, "now enrolled")
	env.mustState(t, models.StateIdle)

	// The journey's messages were all acknowledged to the channel.
	if len(env.sender.ReadMessageIDs()) == 0 {
		t.Error("expected inbound messages to be marked read")
	}
}

func TestGreetingFromKnownUserShowsMenu(t *testing.T) {
	env := newRouterEnv(t)
	if _, err := env.st.CreateUser(models.User{Name: "Jane Moyo", Email: "jane@example.com", PhoneNumber: testPhone}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	env.text(t, "Good morning")
	env.mustState(t, models.StateMainMenu)
	env.mustLastContain(t, "Welcome back, Jane")
}

func TestRegistrationCaptureShortCircuitsGreetings(t *testing.T) {
	env := newRouterEnv(t)
	env.text(t, "hello")
	env.mustState(t, models.StateRegistrationName)

	// "Hie Moyo" is a plausible name; it must be captured, not re-greeted.
	env.text(t, "Hie Moyo")
	env.mustState(t, models.StateRegistrationEmail)

	u, _ := env.st.GetUserByPhone(testPhone)
	if u != nil {
		t.Fatal("user must not exist before email capture")
	}
}

func TestRegistrationValidation(t *testing.T) {
	env := newRouterEnv(t)
	env.text(t, "hi")

	env.text(t, "Jane")
	env.mustState(t, models.StateRegistrationName)
	env.mustLastContain(t, "first name and surname")

	env.text(t, "Jane Moyo")
	env.text(t, "not-an-email")
	env.mustState(t, models.StateRegistrationEmail)
	env.mustLastContain(t, "valid email")
}

func TestRegistrationRejectsDuplicateEmail(t *testing.T) {
	env := newRouterEnv(t)
	if _, err := env.st.CreateUser(models.User{Name: "Other User", Email: "jane@example.com", PhoneNumber: "263779999999"}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	env.text(t, "hi")
	env.text(t, "Jane Moyo")
	env.text(t, "jane@example.com")
	env.mustState(t, models.StateRegistrationEmail)
	env.mustLastContain(t, "already registered")
}

func TestMenuCommandWorksInAnyState(t *testing.T) {
	env := newRouterEnv(t)
	env.seedCatalog(t)
	if _, err := env.st.CreateUser(models.User{Name: "Jane Moyo", Email: "jane@example.com", PhoneNumber: testPhone}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := env.flows.Transition(testPhone, models.StateBrowsingEvents, nil); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	env.text(t, "menu")
	env.mustState(t, models.StateMainMenu)
}

func TestOutOfRangeSelectionGetsGuidance(t *testing.T) {
	env := newRouterEnv(t)
	env.seedCatalog(t)
	if _, err := env.st.CreateUser(models.User{Name: "Jane Moyo", Email: "jane@example.com", PhoneNumber: testPhone}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	env.text(t, "menu")
	env.text(t, "1")
	env.mustState(t, models.StateBrowsingCategories)

	env.text(t, "7")
	env.mustState(t, models.StateBrowsingCategories)
	env.mustLastContain(t, "listed numbers")
}

func TestMainMenuTextShortcuts(t *testing.T) {
	env := newRouterEnv(t)
	env.seedCatalog(t)
	if _, err := env.st.CreateUser(models.User{Name: "Jane Moyo", Email: "jane@example.com", PhoneNumber: testPhone}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	env.text(t, "menu")
	env.text(t, "events please")
	env.mustState(t, models.StateBrowsingCategories)
	env.mustLastContain(t, "Business")

	env.text(t, "menu")
	env.text(t, "show me my bookings")
	env.mustLastContain(t, "no active enrollments")
}

func TestViewingDetailsTextEnrollStartsPayment(t *testing.T) {
	env := newRouterEnv(t)
	env.seedCatalog(t)
	if _, err := env.st.CreateUser(models.User{Name: "Jane Moyo", Email: "jane@example.com", PhoneNumber: testPhone}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	env.text(t, "menu")
	env.text(t, "1")
	env.text(t, "1")
	env.text(t, "1")
	env.mustState(t, models.StateViewingEventDetails)

	// Typing instead of tapping the button works too.
	env.text(t, "enroll")
	env.mustState(t, models.StateSelectingPayment)
	env.mustLastContain(t, "How would you like to pay")
}

func TestMainMenuUnrecognizedTextRerendersMenu(t *testing.T) {
	env := newRouterEnv(t)
	if _, err := env.st.CreateUser(models.User{Name: "Jane Moyo", Email: "jane@example.com", PhoneNumber: testPhone}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	env.text(t, "menu")
	env.text(t, "xyzzy")
	env.mustState(t, models.StateMainMenu)
	env.mustLastContain(t, "What would you like to do?")
}

func TestUnknownTextFallsBack(t *testing.T) {
	env := newRouterEnv(t)
	env.text(t, "what is the meaning of life")
	env.mustLastContain(t, "didn't quite get that")
}

func TestVerificationCodeIsNotMarkedRead(t *testing.T) {
	env := newRouterEnv(t)

	env.text(t, "123456")
	for _, id := range env.sender.ReadMessageIDs() {
		if id == "wamid.in.123456" {
			t.Error("6-digit codes must not be acknowledged as read")
		}
	}

	env.text(t, "1234567")
	found := false
	for _, id := range env.sender.ReadMessageIDs() {
		if id == "wamid.in.1234567" {
			found = true
		}
	}
	if !found {
		t.Error("ordinary numeric text should be acknowledged")
	}
}

func TestEmptySenderRejected(t *testing.T) {
	env := newRouterEnv(t)
	err := env.router.HandleMessage(context.Background(), models.InboundMessage{Type: models.MessageTypeText, Text: "hi"})
	if err != models.ErrEmptyRecipient {
		t.Fatalf("expected ErrEmptyRecipient, got %v", err)
	}
}

func TestHelpCommand(t *testing.T) {
	env := newRouterEnv(t)
	env.text(t, "?")
	env.mustState(t, models.StateViewingHelp)
	env.mustLastContain(t, "How this works")
}
