package pesepay

import (
	"context"
	"fmt"
	"sync"
)

// MockGateway is an in-memory Gateway for tests. Transactions are created in
// the pending state; tests drive settlement with SetStatus.
type MockGateway struct {
	mu         sync.Mutex
	nextRef    int
	statuses   map[string]StatusResponse // keyed by poll URL
	created    []CreateRequest
	CreateErr  error // returned by CreatePayment when set
	CheckErr   error // returned by CheckStatus when set
	checkCalls int
}

// Compile-time check that MockGateway implements Gateway.
var _ Gateway = (*MockGateway)(nil)

// NewMockGateway creates an empty MockGateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{statuses: make(map[string]StatusResponse)}
}

func (m *MockGateway) CreatePayment(_ context.Context, req CreateRequest) (*CreateResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	m.nextRef++
	ref := fmt.Sprintf("PSP-MOCK-%04d", m.nextRef)
	pollURL := "mock://poll/" + ref
	m.statuses[pollURL] = StatusResponse{
		ReferenceNumber: ref,
		Status:          StatusPending,
		RawStatus:       "PENDING",
	}
	m.created = append(m.created, req)
	return &CreateResponse{ReferenceNumber: ref, PollURL: pollURL}, nil
}

func (m *MockGateway) CheckStatus(_ context.Context, pollURL string) (*StatusResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkCalls++
	if m.CheckErr != nil {
		return nil, m.CheckErr
	}
	st, ok := m.statuses[pollURL]
	if !ok {
		return nil, fmt.Errorf("pesepay mock: unknown poll URL %q", pollURL)
	}
	return &st, nil
}

// SetStatus sets the settlement state reported for a poll URL.
func (m *MockGateway) SetStatus(pollURL string, status Status, raw, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.statuses[pollURL]
	st.Status = status
	st.RawStatus = raw
	st.FailureReason = reason
	m.statuses[pollURL] = st
}

// Created returns a copy of all initiation requests seen.
func (m *MockGateway) Created() []CreateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CreateRequest, len(m.created))
	copy(out, m.created)
	return out
}

// CheckCalls reports how many times CheckStatus was invoked.
func (m *MockGateway) CheckCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkCalls
}
