package reminder

import (
	"context"
	"log/slog"
	"time"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/store"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/whatsapp"
)

// Dispatcher delivery defaults.
const (
	// DefaultPollInterval is how often the dispatcher scans for due reminders.
	DefaultPollInterval = time.Minute
	// MaxDeliveryAttempts bounds retries for a single reminder.
	MaxDeliveryAttempts = 3
	// DefaultClaimLimit caps reminders handled per poll.
	DefaultClaimLimit = 25
	// StaleSendingThreshold is how long a claimed reminder may sit in
	// sending before it is treated as orphaned and requeued.
	StaleSendingThreshold = 10 * time.Minute
)

// Dispatcher periodically claims due reminders and sends them over WhatsApp.
// ClaimDueReminders moves each reminder to sending before delivery, so two
// dispatchers over the same store cannot double-send; reminders orphaned in
// sending by a crashed dispatcher are requeued after StaleSendingThreshold.
type Dispatcher struct {
	st           store.Store
	sender       whatsapp.Sender
	pollInterval time.Duration
	claimLimit   int
}

// NewDispatcher creates a reminder dispatcher.
func NewDispatcher(st store.Store, sender whatsapp.Sender, pollInterval time.Duration) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Dispatcher{
		st:           st,
		sender:       sender,
		pollInterval: pollInterval,
		claimLimit:   DefaultClaimLimit,
	}
}

// Run starts the delivery loop. It blocks until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	slog.Info("reminder.Dispatcher.Run: starting", "pollInterval", d.pollInterval)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reminder.Dispatcher.Run: stopping")
			return
		case <-ticker.C:
			d.Poll(ctx)
		}
	}
}

// Poll delivers one batch of due reminders. Exposed so tests can drive the
// dispatcher without the ticker.
func (d *Dispatcher) Poll(ctx context.Context) {
	now := time.Now()
	if n, err := d.st.RequeueStaleSendingReminders(now.Add(-StaleSendingThreshold)); err != nil {
		slog.Error("reminder.Dispatcher.Poll: stale requeue failed", "error", err)
	} else if n > 0 {
		slog.Warn("reminder.Dispatcher.Poll: requeued stale reminders", "count", n)
	}

	due, err := d.st.ClaimDueReminders(now, d.claimLimit)
	if err != nil {
		slog.Error("reminder.Dispatcher.Poll: claim due failed", "error", err)
		return
	}

	for _, r := range due {
		msgID, err := d.sender.SendText(ctx, r.PhoneNumber, r.Message)
		if err != nil {
			retry := r.RetryCount + 1
			final := retry >= MaxDeliveryAttempts
			slog.Error("reminder.Dispatcher.Poll: send failed", "id", r.ID, "retry", retry, "final", final, "error", err)
			if recErr := d.st.RecordReminderFailure(r.ID, err.Error(), retry, final); recErr != nil {
				slog.Error("reminder.Dispatcher.Poll: record failure error", "id", r.ID, "error", recErr)
			}
			continue
		}
		sent, err := d.st.MarkReminderSent(r.ID, time.Now(), msgID)
		if err != nil {
			slog.Error("reminder.Dispatcher.Poll: mark sent error", "id", r.ID, "error", err)
			continue
		}
		if !sent {
			// Claim lost between delivery and the mark, e.g. a stale
			// requeue handed the reminder to another dispatcher.
			slog.Warn("reminder.Dispatcher.Poll: reminder no longer claimed", "id", r.ID)
			continue
		}
		slog.Debug("reminder.Dispatcher.Poll: reminder delivered", "id", r.ID, "type", r.Type, "to", r.PhoneNumber)
	}
}
