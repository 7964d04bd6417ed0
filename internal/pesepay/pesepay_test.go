package pesepay

import (
	"testing"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/models"
)

func TestMethodCode(t *testing.T) {
	tests := []struct {
		method models.PaymentMethod
		want   string
	}{
		{models.PaymentMethodEcocash, "PZW211"},
		{models.PaymentMethodOnemoney, "PZW212"},
		{models.PaymentMethod("visa"), ""},
	}
	for _, tc := range tests {
		if got := MethodCode(tc.method); got != tc.want {
			t.Errorf("MethodCode(%s) = %q, want %q", tc.method, got, tc.want)
		}
	}
}

func TestMapRawStatus(t *testing.T) {
	paid := []string{"SUCCESS"}
	failed := []string{"FAILED", "CANCELLED", "DECLINED", "ERROR", "INSUFFICIENT_FUNDS", "AUTHORIZATION_FAILED", "TERMINATED", "REVERSED", "TIME_OUT"}
	pending := []string{"PENDING", "INITIATED", "PROCESSING", "", "SOMETHING_NEW"}

	for _, raw := range paid {
		if got := mapRawStatus(raw); got != StatusPaid {
			t.Errorf("mapRawStatus(%q) = %s, want paid", raw, got)
		}
	}
	for _, raw := range failed {
		if got := mapRawStatus(raw); got != StatusFailed {
			t.Errorf("mapRawStatus(%q) = %s, want failed", raw, got)
		}
	}
	// Unknown statuses stay pending: never settle on a status we don't know.
	for _, raw := range pending {
		if got := mapRawStatus(raw); got != StatusPending {
			t.Errorf("mapRawStatus(%q) = %s, want pending", raw, got)
		}
	}
}
