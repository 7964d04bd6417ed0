package commerce

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/models"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/pesepay"
)

// newPendingPayment initiates a gateway transaction and persists the
// matching pending payment, returning it ready for the poll chain.
func (e *testEnv) newPendingPayment(t *testing.T, offeringID int64) models.Payment {
	t.Helper()
	created, err := e.gateway.CreatePayment(context.Background(), pesepay.CreateRequest{
		Amount: 15, Currency: "USD", Method: models.PaymentMethodEcocash, PayerPhone: "0771234567",
	})
	if err != nil {
		t.Fatalf("gateway CreatePayment failed: %v", err)
	}
	p := models.Payment{
		ID:              "pay_test",
		OfferingID:      offeringID,
		PhoneNumber:     testPhone,
		PayerPhone:      "0771234567",
		Amount:          15,
		Currency:        "USD",
		Method:          models.PaymentMethodEcocash,
		ReferenceNumber: created.ReferenceNumber,
		PollURL:         created.PollURL,
		Status:          models.PaymentStatusPending,
	}
	if err := e.st.CreatePayment(p); err != nil {
		t.Fatalf("CreatePayment failed: %v", err)
	}
	return p
}

func pollJobPayload(t *testing.T, paymentID string, attempt int) string {
	t.Helper()
	b, err := json.Marshal(pollPayload{PaymentID: paymentID, Attempt: attempt})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return string(b)
}

func TestSettlementPendingMovesToProcessingAndChainsNextPoll(t *testing.T) {
	env := newTestEnv(t)
	env.seedEventOffering(1, 0)
	p := env.newPendingPayment(t, 1)

	if err := env.svc.HandleSettlementJob(context.Background(), pollJobPayload(t, p.ID, 0)); err != nil {
		t.Fatalf("HandleSettlementJob failed: %v", err)
	}

	updated, _ := env.st.GetPayment(p.ID)
	if updated.Status != models.PaymentStatusProcessing {
		t.Errorf("expected processing after first pending poll, got %s", updated.Status)
	}

	jobs, err := env.st.ClaimDueJobs(time.Now().Add(DefaultPollInterval+time.Second), 10)
	if err != nil {
		t.Fatalf("ClaimDueJobs failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Kind != JobKindPaymentPoll {
		t.Fatalf("expected the next poll link queued, got %+v", jobs)
	}
	var next pollPayload
	if err := json.Unmarshal([]byte(jobs[0].PayloadJSON), &next); err != nil {
		t.Fatalf("decode next payload: %v", err)
	}
	if next.Attempt != 1 {
		t.Errorf("expected attempt 1 in next link, got %d", next.Attempt)
	}
}

func TestSettlementPaidConfirmsEnrollment(t *testing.T) {
	env := newTestEnv(t)
	env.seedEventOffering(1, 0)
	p := env.newPendingPayment(t, 1)
	env.gateway.SetStatus(p.PollURL, pesepay.StatusPaid, "SUCCESS", "")

	if err := env.svc.HandleSettlementJob(context.Background(), pollJobPayload(t, p.ID, 0)); err != nil {
		t.Fatalf("HandleSettlementJob failed: %v", err)
	}

	updated, _ := env.st.GetPayment(p.ID)
	if updated.Status != models.PaymentStatusPaid {
		t.Fatalf("expected paid payment, got %s", updated.Status)
	}
	e, _ := env.st.GetEnrollmentByPayment(p.ID)
	if e == nil || e.Status != models.EnrollmentStatusConfirmed {
		t.Fatalf("expected confirmed enrollment, got %+v", e)
	}
	if last := env.sender.LastSent(); last == nil || !strings.Contains(last.Body, "now enrolled") {
		t.Errorf("expected confirmation message, got %+v", last)
	}

	// No further poll links after a terminal outcome.
	jobs, _ := env.st.ClaimDueJobs(time.Now().Add(time.Hour), 10)
	if len(jobs) != 0 {
		t.Errorf("expected no queued polls after settlement, got %d", len(jobs))
	}
}

func TestSettlementFailedNotifiesWithReason(t *testing.T) {
	env := newTestEnv(t)
	env.seedEventOffering(1, 0)
	p := env.newPendingPayment(t, 1)
	env.gateway.SetStatus(p.PollURL, pesepay.StatusFailed, "INSUFFICIENT_FUNDS", "insufficient funds")

	if err := env.svc.HandleSettlementJob(context.Background(), pollJobPayload(t, p.ID, 0)); err != nil {
		t.Fatalf("HandleSettlementJob failed: %v", err)
	}

	updated, _ := env.st.GetPayment(p.ID)
	if updated.Status != models.PaymentStatusFailed {
		t.Fatalf("expected failed payment, got %s", updated.Status)
	}
	if updated.FailedReason != "insufficient funds" {
		t.Errorf("expected recorded reason, got %q", updated.FailedReason)
	}
	if e, _ := env.st.GetEnrollmentByPayment(p.ID); e != nil {
		t.Error("failed payment must not create an enrollment")
	}
	if last := env.sender.LastSent(); last == nil || !strings.Contains(last.Body, "insufficient funds") {
		t.Errorf("expected failure message with reason, got %+v", last)
	}
}

func TestSettlementSoftTimeoutLeavesPaymentOpen(t *testing.T) {
	env := newTestEnv(t)
	env.seedEventOffering(1, 0)
	p := env.newPendingPayment(t, 1)

	// The final attempt of the budget with the gateway still pending.
	if err := env.svc.HandleSettlementJob(context.Background(), pollJobPayload(t, p.ID, DefaultPollAttempts-1)); err != nil {
		t.Fatalf("HandleSettlementJob failed: %v", err)
	}

	updated, _ := env.st.GetPayment(p.ID)
	if updated.Status.Terminal() {
		t.Fatalf("soft timeout must not fail the payment, got %s", updated.Status)
	}
	if !updated.TimeoutFlagged {
		t.Error("expected the payment flagged for reconciliation")
	}
	jobs, _ := env.st.ClaimDueJobs(time.Now().Add(time.Hour), 10)
	if len(jobs) != 0 {
		t.Errorf("auto-retry is off by default, expected no queued polls, got %d", len(jobs))
	}

	notices := 0
	for _, m := range env.sender.Sent() {
		if strings.Contains(m.Body, "still waiting") {
			notices++
		}
	}
	if notices != 1 {
		t.Fatalf("expected one still-waiting notice, got %d", notices)
	}

	// A repeated timeout pass must not re-notify.
	if err := env.svc.HandleSettlementJob(context.Background(), pollJobPayload(t, p.ID, DefaultPollAttempts-1)); err != nil {
		t.Fatalf("second HandleSettlementJob failed: %v", err)
	}
	notices = 0
	for _, m := range env.sender.Sent() {
		if strings.Contains(m.Body, "still waiting") {
			notices++
		}
	}
	if notices != 1 {
		t.Errorf("timeout notice must be sent once, got %d", notices)
	}
}

func TestSettlementSoftTimeoutAutoRetrySchedulesNewRound(t *testing.T) {
	env := newTestEnv(t, WithTimeoutAutoRetry(true, time.Minute))
	env.seedEventOffering(1, 0)
	p := env.newPendingPayment(t, 1)

	if err := env.svc.HandleSettlementJob(context.Background(), pollJobPayload(t, p.ID, DefaultPollAttempts-1)); err != nil {
		t.Fatalf("HandleSettlementJob failed: %v", err)
	}

	jobs, _ := env.st.ClaimDueJobs(time.Now().Add(2*time.Minute), 10)
	if len(jobs) != 1 {
		t.Fatalf("expected a retry round queued, got %d jobs", len(jobs))
	}
	var next pollPayload
	if err := json.Unmarshal([]byte(jobs[0].PayloadJSON), &next); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if next.Attempt != 0 {
		t.Errorf("expected a fresh attempt budget, got attempt %d", next.Attempt)
	}
}

func TestSettlementTerminalPaymentShortCircuits(t *testing.T) {
	env := newTestEnv(t)
	env.seedEventOffering(1, 0)
	p := env.newPendingPayment(t, 1)
	if _, err := env.st.MarkPaymentPaid(p.ID, time.Now()); err != nil {
		t.Fatalf("MarkPaymentPaid failed: %v", err)
	}
	before := env.gateway.CheckCalls()

	if err := env.svc.HandleSettlementJob(context.Background(), pollJobPayload(t, p.ID, 3)); err != nil {
		t.Fatalf("HandleSettlementJob failed: %v", err)
	}
	if env.gateway.CheckCalls() != before {
		t.Error("terminal payment must not hit the gateway")
	}
}

func TestCheckPaymentStatusAnswersTerminalWithoutPolling(t *testing.T) {
	env := newTestEnv(t)
	env.seedEventOffering(1, 0)
	p := env.newPendingPayment(t, 1)
	if _, err := env.st.MarkPaymentPaid(p.ID, time.Now()); err != nil {
		t.Fatalf("MarkPaymentPaid failed: %v", err)
	}
	if err := env.flows.Transition(testPhone, models.StateAwaitingConfirmation, map[string]string{
		models.CtxPaymentID: p.ID,
	}); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	before := env.gateway.CheckCalls()

	if err := env.svc.CheckPaymentStatus(context.Background(), testPhone); err != nil {
		t.Fatalf("CheckPaymentStatus failed: %v", err)
	}
	if env.gateway.CheckCalls() != before {
		t.Error("terminal status answer must not poll the gateway")
	}
	if last := env.sender.LastSent(); last == nil || !strings.Contains(last.Body, "confirmed") {
		t.Errorf("expected confirmed answer, got %+v", last)
	}
}

func TestCheckPaymentStatusPending(t *testing.T) {
	env := newTestEnv(t)
	env.seedEventOffering(1, 0)
	p := env.newPendingPayment(t, 1)
	if err := env.flows.Transition(testPhone, models.StateAwaitingConfirmation, map[string]string{
		models.CtxPaymentID: p.ID,
	}); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	if err := env.svc.CheckPaymentStatus(context.Background(), testPhone); err != nil {
		t.Fatalf("CheckPaymentStatus failed: %v", err)
	}
	if last := env.sender.LastSent(); last == nil || !strings.Contains(last.Body, "still being processed") {
		t.Errorf("expected pending answer, got %+v", last)
	}
}

func TestReconcileByReferenceAppliesWebhookOutcome(t *testing.T) {
	env := newTestEnv(t)
	env.seedEventOffering(1, 0)
	p := env.newPendingPayment(t, 1)
	env.gateway.SetStatus(p.PollURL, pesepay.StatusPaid, "SUCCESS", "")

	if err := env.svc.ReconcileByReference(context.Background(), p.ReferenceNumber, "SUCCESS"); err != nil {
		t.Fatalf("ReconcileByReference failed: %v", err)
	}

	updated, _ := env.st.GetPayment(p.ID)
	if updated.Status != models.PaymentStatusPaid {
		t.Errorf("expected paid payment, got %s", updated.Status)
	}
	if e, _ := env.st.GetEnrollmentByPayment(p.ID); e == nil {
		t.Error("expected enrollment confirmed via webhook reconciliation")
	}
}

func TestReconcileByReferenceReversedRefunds(t *testing.T) {
	env := newTestEnv(t)
	env.seedEventOffering(1, 0)
	p := env.newPendingPayment(t, 1)
	if _, err := env.st.MarkPaymentPaid(p.ID, time.Now()); err != nil {
		t.Fatalf("MarkPaymentPaid failed: %v", err)
	}

	if err := env.svc.ReconcileByReference(context.Background(), p.ReferenceNumber, "REVERSED"); err != nil {
		t.Fatalf("ReconcileByReference failed: %v", err)
	}
	updated, _ := env.st.GetPayment(p.ID)
	if updated.Status != models.PaymentStatusRefunded {
		t.Errorf("expected refunded payment, got %s", updated.Status)
	}
}

func TestRecordSettlementFailureWritesLastError(t *testing.T) {
	env := newTestEnv(t)
	env.seedEventOffering(1, 0)
	p := env.newPendingPayment(t, 1)

	env.svc.RecordSettlementFailure(context.Background(), pollJobPayload(t, p.ID, 2), "gateway check: connection refused")

	updated, _ := env.st.GetPayment(p.ID)
	if !strings.Contains(updated.LastError, "connection refused") {
		t.Errorf("expected recorded last error, got %q", updated.LastError)
	}
	if updated.Status.Terminal() {
		t.Errorf("a queue failure must not settle the payment, got %s", updated.Status)
	}
}
