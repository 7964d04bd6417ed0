// Package pesepay integrates the Pesepay payment gateway for mobile money
// collections (EcoCash and OneMoney).
//
// A payment is initiated as a "seamless" transaction: the gateway pushes a
// debit prompt to the payer's handset and the service polls the returned
// poll URL until the transaction settles or the poll budget runs out.
package pesepay

import (
	"context"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/models"
)

// Gateway method codes assigned by Pesepay.
const (
	MethodCodeEcocash  = "PZW211"
	MethodCodeOnemoney = "PZW212"
)

// MethodCode maps a payment method to its Pesepay method code. Returns an
// empty string for unsupported methods.
func MethodCode(m models.PaymentMethod) string {
	switch m {
	case models.PaymentMethodEcocash:
		return MethodCodeEcocash
	case models.PaymentMethodOnemoney:
		return MethodCodeOnemoney
	default:
		return ""
	}
}

// Status is the settled view of a gateway transaction status. The gateway's
// many raw statuses collapse into three outcomes the service acts on.
type Status string

const (
	// StatusPaid means the transaction settled successfully.
	StatusPaid Status = "paid"
	// StatusFailed means the transaction terminally failed.
	StatusFailed Status = "failed"
	// StatusPending means the gateway has not reached a terminal state yet.
	StatusPending Status = "pending"
)

// CreateRequest describes a payment to initiate.
type CreateRequest struct {
	Amount        float64
	Currency      string
	Method        models.PaymentMethod
	PayerPhone    string
	Reason        string
	CustomerName  string
	CustomerEmail string
}

// CreateResponse is the gateway's answer to a successful initiation.
type CreateResponse struct {
	ReferenceNumber string
	PollURL         string
}

// StatusResponse is one poll of a transaction's settlement state.
type StatusResponse struct {
	ReferenceNumber string
	Status          Status
	RawStatus       string
	FailureReason   string
}

// Gateway initiates payments and reports their settlement state.
type Gateway interface {
	CreatePayment(ctx context.Context, req CreateRequest) (*CreateResponse, error)
	CheckStatus(ctx context.Context, pollURL string) (*StatusResponse, error)
}

// mapRawStatus folds a raw gateway status into a Status.
func mapRawStatus(raw string) Status {
	switch raw {
	case "SUCCESS":
		return StatusPaid
	case "FAILED", "CANCELLED", "DECLINED", "ERROR", "INSUFFICIENT_FUNDS",
		"AUTHORIZATION_FAILED", "TERMINATED", "REVERSED", "TIME_OUT":
		return StatusFailed
	default:
		return StatusPending
	}
}
