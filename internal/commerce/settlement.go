package commerce

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/models"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/pesepay"
)

// JobKindPaymentPoll identifies settlement poll jobs in the durable queue.
const JobKindPaymentPoll = "payment.poll"

// Settlement pipeline defaults. The attempt budget here is the pipeline's
// own, carried in the job payload; the queue's redelivery budget is separate
// and only covers handler errors (gateway unreachable etc.).
const (
	DefaultPollAttempts      = 10
	DefaultPollInterval      = 3 * time.Second
	DefaultInitialPollDelay  = 5 * time.Second
	DefaultTimeoutRetryDelay = 15 * time.Minute
)

// PollResult is the outcome of one settlement poll.
type PollResult string

const (
	PollResultPaid    PollResult = "paid"
	PollResultFailed  PollResult = "failed"
	PollResultPending PollResult = "pending"
)

// pollPayload is the settlement job payload. Attempt counts polls already
// performed for this payment within the current round.
type pollPayload struct {
	PaymentID string `json:"payment_id"`
	Attempt   int    `json:"attempt"`
}

// EnqueueSettlement starts the poll chain for a payment with a short initial
// delay, giving the payer a moment to see the handset prompt. The dedupe key
// keeps overlapping submissions from starting two chains.
func (s *Service) EnqueueSettlement(paymentID string) error {
	payload, err := json.Marshal(pollPayload{PaymentID: paymentID, Attempt: 0})
	if err != nil {
		return fmt.Errorf("Service.EnqueueSettlement: encode payload: %w", err)
	}
	runAt := time.Now().Add(s.cfg.InitialPollDelay)
	jobID, err := s.jobs.EnqueueJob(JobKindPaymentPoll, runAt, string(payload), "poll:"+paymentID)
	if err != nil {
		return fmt.Errorf("Service.EnqueueSettlement: %w", err)
	}
	slog.Debug("Service.EnqueueSettlement", "paymentID", paymentID, "jobID", jobID, "runAt", runAt)
	return nil
}

// HandleSettlementJob is the durable-queue handler for payment.poll jobs.
// A returned error triggers the queue's own redelivery; all settlement
// decisions (retry, soft timeout) are made explicitly here by enqueuing the
// next link of the chain.
func (s *Service) HandleSettlementJob(ctx context.Context, payloadJSON string) error {
	var payload pollPayload
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return fmt.Errorf("Service.HandleSettlementJob: decode payload: %w", err)
	}

	result, err := s.pollOnce(ctx, payload.PaymentID)
	if err != nil {
		return err
	}
	if result != PollResultPending {
		return nil
	}

	attempt := payload.Attempt + 1
	if attempt < s.cfg.PollAttempts {
		return s.enqueueNextPoll(payload.PaymentID, attempt, s.cfg.PollInterval)
	}
	return s.softTimeout(ctx, payload.PaymentID)
}

// pollOnce performs one gateway status check and applies the outcome. The
// terminal-status write is a conditional fence and always precedes the user
// notification, so overlapping polls cannot double-fire side effects.
func (s *Service) pollOnce(ctx context.Context, paymentID string) (PollResult, error) {
	p, err := s.st.GetPayment(paymentID)
	if err != nil {
		return "", fmt.Errorf("Service.pollOnce: %w", err)
	}
	if p == nil {
		return "", fmt.Errorf("Service.pollOnce: %w: %s", models.ErrPaymentNotFound, paymentID)
	}
	if p.Status.Terminal() {
		slog.Debug("Service.pollOnce: payment already terminal", "paymentID", paymentID, "status", p.Status)
		return resultForStatus(p.Status), nil
	}

	status, err := s.gateway.CheckStatus(ctx, p.PollURL)
	if err != nil {
		return "", fmt.Errorf("Service.pollOnce: gateway check: %w", err)
	}

	switch status.Status {
	case pesepay.StatusPaid:
		won, err := s.st.MarkPaymentPaid(paymentID, time.Now())
		if err != nil {
			return "", fmt.Errorf("Service.pollOnce: mark paid: %w", err)
		}
		if won {
			p.Status = models.PaymentStatusPaid
			if err := s.CompleteEnrollment(ctx, *p); err != nil {
				slog.Error("Service.pollOnce: complete enrollment failed", "paymentID", paymentID, "error", err)
			}
		}
		return PollResultPaid, nil

	case pesepay.StatusFailed:
		reason := status.FailureReason
		if reason == "" {
			reason = status.RawStatus
		}
		won, err := s.st.MarkPaymentFailed(paymentID, reason)
		if err != nil {
			return "", fmt.Errorf("Service.pollOnce: mark failed: %w", err)
		}
		if won {
			p.Status = models.PaymentStatusFailed
			p.FailedReason = reason
			if err := s.HandleFailedPayment(ctx, *p); err != nil {
				slog.Error("Service.pollOnce: failed-payment handling error", "paymentID", paymentID, "error", err)
			}
		}
		return PollResultFailed, nil

	default:
		// Move pending to processing exactly once; later polls see
		// processing and the fence declines the write.
		if _, err := s.st.MarkPaymentProcessing(paymentID); err != nil {
			slog.Error("Service.pollOnce: mark processing failed", "paymentID", paymentID, "error", err)
		}
		return PollResultPending, nil
	}
}

func (s *Service) enqueueNextPoll(paymentID string, attempt int, delay time.Duration) error {
	payload, err := json.Marshal(pollPayload{PaymentID: paymentID, Attempt: attempt})
	if err != nil {
		return fmt.Errorf("Service.enqueueNextPoll: encode payload: %w", err)
	}
	_, err = s.jobs.EnqueueJob(JobKindPaymentPoll, time.Now().Add(delay), string(payload), "")
	if err != nil {
		return fmt.Errorf("Service.enqueueNextPoll: %w", err)
	}
	slog.Debug("Service.enqueueNextPoll", "paymentID", paymentID, "attempt", attempt, "delay", delay)
	return nil
}

// softTimeout handles a poll budget exhausted while the gateway still says
// pending. The payment stays open: an unconfirmed debit may clear
// out-of-band, so it is flagged for reconciliation rather than failed. The
// flag also gates the "still waiting" notice to a single send.
func (s *Service) softTimeout(ctx context.Context, paymentID string) error {
	p, err := s.st.GetPayment(paymentID)
	if err != nil {
		return fmt.Errorf("Service.softTimeout: %w", err)
	}
	if p == nil || p.Status.Terminal() {
		return nil
	}

	if !p.TimeoutFlagged {
		if err := s.st.FlagPaymentTimeout(paymentID); err != nil {
			return fmt.Errorf("Service.softTimeout: %w", err)
		}
		slog.Warn("Service.softTimeout: poll budget exhausted, payment left open", "paymentID", paymentID, "reference", p.ReferenceNumber)
		body := fmt.Sprintf("⏳ We're still waiting for your payment (reference %s) to be confirmed. We'll update you as soon as it clears — no need to pay again.", p.ReferenceNumber)
		if _, err := s.sender.SendText(ctx, p.PhoneNumber, body); err != nil {
			slog.Error("Service.softTimeout: send notice failed", "paymentID", paymentID, "error", err)
		}
	}

	if s.cfg.TimeoutAutoRetry {
		return s.enqueueNextPoll(paymentID, 0, s.cfg.TimeoutRetryDelay)
	}
	return nil
}

// RecordSettlementFailure is the permanent-failure hook for payment.poll
// jobs: when the queue gives up redelivering an erroring handler, the error
// is recorded on the payment so it is not silently stuck.
func (s *Service) RecordSettlementFailure(_ context.Context, payloadJSON string, lastErr string) {
	var payload pollPayload
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		slog.Error("Service.RecordSettlementFailure: decode payload", "error", err)
		return
	}
	slog.Error("Service.RecordSettlementFailure: settlement job permanently failed", "paymentID", payload.PaymentID, "lastError", lastErr)
	if err := s.st.RecordPaymentError(payload.PaymentID, lastErr); err != nil {
		slog.Error("Service.RecordSettlementFailure: record error failed", "paymentID", payload.PaymentID, "error", err)
	}
}

// CheckPaymentStatus services the user-initiated status button: one
// immediate poll with a chat answer, independent of the background chain.
func (s *Service) CheckPaymentStatus(ctx context.Context, phone string) error {
	f, err := s.flows.Current(phone)
	if err != nil {
		return err
	}
	paymentID := ""
	if f != nil {
		paymentID = f.Ctx(models.CtxPaymentID, "")
	}
	if paymentID == "" {
		return s.expireDialogue(ctx, phone)
	}

	p, err := s.st.GetPayment(paymentID)
	if err != nil {
		return fmt.Errorf("Service.CheckPaymentStatus: %w", err)
	}
	if p != nil && p.Status.Terminal() {
		var body string
		switch p.Status {
		case models.PaymentStatusPaid:
			body = "✅ Your payment has been confirmed. You're all set!"
		case models.PaymentStatusRefunded:
			body = "This payment was refunded. Type *menu* to browse again."
		default:
			body = fmt.Sprintf("❌ This payment failed: %s. Type *menu* to try again.", p.FailedReason)
		}
		_, err := s.sender.SendText(ctx, phone, body)
		return err
	}

	result, err := s.pollOnce(ctx, paymentID)
	if err != nil {
		slog.Error("Service.CheckPaymentStatus: poll failed", "paymentID", paymentID, "error", err)
		_, sendErr := s.sender.SendText(ctx, phone, "We couldn't reach the payment gateway just now. Please try again in a moment.")
		return sendErr
	}

	// Paid and failed outcomes already message the user via the fence
	// winners inside pollOnce; only the pending case needs an answer here.
	if result == PollResultPending {
		_, err := s.sender.SendText(ctx, phone, "Your payment is still being processed. Approve the prompt on your phone if you haven't yet — we'll confirm as soon as it clears.")
		return err
	}
	return nil
}

// ReconcileByReference applies a gateway result webhook. The gateway posts
// the reference number it assigned at initiation; the outcome is applied
// through the same fences as the poll chain.
func (s *Service) ReconcileByReference(ctx context.Context, reference, rawStatus string) error {
	p, err := s.st.GetPaymentByReference(reference)
	if err != nil {
		return fmt.Errorf("Service.ReconcileByReference: %w", err)
	}
	if p == nil {
		return fmt.Errorf("Service.ReconcileByReference: %w: reference %s", models.ErrPaymentNotFound, reference)
	}

	if rawStatus == "REVERSED" {
		_, err := s.HandleRefund(ctx, p.ID)
		return err
	}

	if _, err := s.pollOnce(ctx, p.ID); err != nil {
		return err
	}
	return nil
}

func resultForStatus(st models.PaymentStatus) PollResult {
	switch st {
	case models.PaymentStatusPaid:
		return PollResultPaid
	case models.PaymentStatusFailed, models.PaymentStatusRefunded:
		return PollResultFailed
	default:
		return PollResultPending
	}
}
