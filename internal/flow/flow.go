// Package flow manages persisted dialogue state for WhatsApp conversations.
//
// Each phone number has at most one active flow: a current state, the state
// it came from, and a small string-keyed context. Every touch slides the
// expiry window forward; an expired flow is treated as absent, so the next
// inbound message starts the dialogue from scratch.
package flow

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/models"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/store"
)

// DefaultTTL is the sliding inactivity window for a dialogue.
const DefaultTTL = 30 * time.Minute

// Opts holds configuration options for the flow store.
type Opts struct {
	TTL time.Duration
}

// Option defines a configuration option for the flow store.
type Option func(*Opts)

// WithTTL overrides the sliding inactivity window.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) {
		if ttl > 0 {
			o.TTL = ttl
		}
	}
}

// FlowStore wraps a persistence backend with the dialogue lifecycle rules.
type FlowStore struct {
	st  store.Store
	ttl time.Duration
}

// NewFlowStore creates a flow store over the given backend.
func NewFlowStore(st store.Store, opts ...Option) *FlowStore {
	cfg := Opts{TTL: DefaultTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &FlowStore{st: st, ttl: cfg.TTL}
}

// Current returns the active flow for a phone number, or nil when none
// exists. A persisted flow whose window has lapsed is deleted and reported
// as absent.
func (fs *FlowStore) Current(phone string) (*models.Flow, error) {
	f, err := fs.st.GetFlow(phone)
	if err != nil {
		return nil, fmt.Errorf("FlowStore.Current: %w", err)
	}
	if f == nil {
		return nil, nil
	}
	if f.Expired(time.Now()) {
		slog.Debug("FlowStore.Current: flow expired", "phone", phone, "state", f.CurrentState)
		if err := fs.st.DeleteFlow(phone); err != nil {
			return nil, fmt.Errorf("FlowStore.Current: delete expired flow: %w", err)
		}
		return nil, nil
	}
	return f, nil
}

// Transition moves a phone number to a new state, merging ctxPatch into the
// stored context (patch values win on key collision). It records the prior
// state and slides the expiry window. A nil ctxPatch keeps the context as-is.
func (fs *FlowStore) Transition(phone string, state models.FlowState, ctxPatch map[string]string) error {
	now := time.Now()
	current, err := fs.Current(phone)
	if err != nil {
		return err
	}

	f := models.Flow{
		PhoneNumber:       phone,
		CurrentState:      state,
		LastInteractionAt: now,
		ExpiresAt:         now.Add(fs.ttl),
		Context:           make(map[string]string),
	}
	if current != nil {
		f.PreviousState = current.CurrentState
		for k, v := range current.Context {
			f.Context[k] = v
		}
	}
	for k, v := range ctxPatch {
		f.Context[k] = v
	}

	if err := fs.st.SaveFlow(f); err != nil {
		return fmt.Errorf("FlowStore.Transition: %w", err)
	}
	slog.Debug("FlowStore.Transition", "phone", phone, "from", f.PreviousState, "to", state)
	return nil
}

// Touch slides the expiry window without changing state or context. It is a
// no-op when no active flow exists.
func (fs *FlowStore) Touch(phone string) error {
	current, err := fs.Current(phone)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}
	now := time.Now()
	current.LastInteractionAt = now
	current.ExpiresAt = now.Add(fs.ttl)
	if err := fs.st.SaveFlow(*current); err != nil {
		return fmt.Errorf("FlowStore.Touch: %w", err)
	}
	return nil
}

// SetContext merges ctxPatch into the active flow's context without a state
// change, sliding the expiry window. It is a no-op when no active flow exists.
func (fs *FlowStore) SetContext(phone string, ctxPatch map[string]string) error {
	current, err := fs.Current(phone)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}
	if current.Context == nil {
		current.Context = make(map[string]string)
	}
	for k, v := range ctxPatch {
		current.Context[k] = v
	}
	now := time.Now()
	current.LastInteractionAt = now
	current.ExpiresAt = now.Add(fs.ttl)
	if err := fs.st.SaveFlow(*current); err != nil {
		return fmt.Errorf("FlowStore.SetContext: %w", err)
	}
	return nil
}

// Clear removes the flow for a phone number, returning the dialogue to the
// implicit idle state.
func (fs *FlowStore) Clear(phone string) error {
	if err := fs.st.DeleteFlow(phone); err != nil {
		return fmt.Errorf("FlowStore.Clear: %w", err)
	}
	slog.Debug("FlowStore.Clear", "phone", phone)
	return nil
}

// SweepExpired deletes all flows whose window has lapsed and returns the
// number removed. Run periodically; expiry is also enforced lazily on read.
func (fs *FlowStore) SweepExpired() (int, error) {
	n, err := fs.st.DeleteExpiredFlows(time.Now())
	if err != nil {
		return 0, fmt.Errorf("FlowStore.SweepExpired: %w", err)
	}
	if n > 0 {
		slog.Info("FlowStore.SweepExpired: removed expired flows", "count", n)
	}
	return n, nil
}
