// Package api exposes the HTTP surface of the commerce bot: the WhatsApp
// webhook pair (verification handshake plus inbound message delivery), the
// Pesepay result webhook, and a health probe. Run wires every subsystem
// together and blocks until the process is signalled to stop.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/chatbot"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/commerce"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/flow"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/pesepay"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/reminder"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/scheduler"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/store"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/whatsapp"
)

const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = ":8080"

	// DefaultFlowSweepSchedule runs the expired-dialogue sweep nightly.
	DefaultFlowSweepSchedule = "0 2 * * *"

	shutdownTimeout = 10 * time.Second
)

// backend is the storage contract Run needs: the domain store plus the
// durable job queue. Both SQL stores satisfy it.
type backend interface {
	store.Store
	store.JobRepo
}

// Opts holds configuration for the API server.
type Opts struct {
	Addr              string
	VerifyToken       string
	FlowSweepSchedule string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithVerifyToken sets the token expected in the WhatsApp webhook
// verification handshake.
func WithVerifyToken(token string) Option {
	return func(o *Opts) { o.VerifyToken = token }
}

// WithFlowSweepSchedule overrides the cron expression for the nightly
// expired-dialogue sweep.
func WithFlowSweepSchedule(expr string) Option {
	return func(o *Opts) { o.FlowSweepSchedule = expr }
}

// Server bundles the handlers with the collaborators they dispatch into.
type Server struct {
	verifyToken string
	router      *chatbot.Router
	commerce    *commerce.Service
}

// NewServer creates a Server for the given router and commerce service.
func NewServer(router *chatbot.Router, svc *commerce.Service, verifyToken string) *Server {
	return &Server{verifyToken: verifyToken, router: router, commerce: svc}
}

// Handler returns the HTTP handler for all API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhooks/whatsapp", s.whatsappWebhookHandler)
	mux.HandleFunc("/webhooks/pesepay", s.pesepayWebhookHandler)
	mux.HandleFunc("/healthz", s.healthHandler)
	return mux
}

// Run builds the full application from the given options and serves HTTP
// until ctx is cancelled or SIGINT/SIGTERM arrives.
func Run(ctx context.Context, dsn string, waOpts []whatsapp.Option, ppOpts []pesepay.Option, flowOpts []flow.Option, svcOpts []commerce.Option, apiOpts []Option) error {
	slog.Debug("api.Run: starting", "dsn_type", store.DetectDSNType(dsn))

	opts := Opts{Addr: DefaultAddr, FlowSweepSchedule: DefaultFlowSweepSchedule}
	for _, opt := range apiOpts {
		opt(&opts)
	}

	var st backend
	var err error
	switch store.DetectDSNType(dsn) {
	case "postgres":
		st, err = store.NewPostgresStore(store.WithPostgresDSN(dsn))
	default:
		st, err = store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
	}
	if err != nil {
		return fmt.Errorf("api.Run: failed to open store: %w", err)
	}
	defer st.Close()

	sender, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return fmt.Errorf("api.Run: failed to create WhatsApp client: %w", err)
	}
	gateway, err := pesepay.NewClient(ppOpts...)
	if err != nil {
		return fmt.Errorf("api.Run: failed to create payment gateway client: %w", err)
	}
	flows := flow.NewFlowStore(st, flowOpts...)
	reminders := reminder.NewScheduler(st)
	svc := commerce.NewService(st, flows, sender, gateway, st, reminders, svcOpts...)
	router := chatbot.NewRouter(st, flows, sender, svc)

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runner := store.NewJobRunner(st, time.Second)
	runner.RegisterHandler(commerce.JobKindPaymentPoll, svc.HandleSettlementJob)
	runner.RegisterFailureHandler(commerce.JobKindPaymentPoll, svc.RecordSettlementFailure)
	// Requeue jobs left running by a previous instance before polling starts.
	if err := runner.RecoverStaleJobs(); err != nil {
		slog.Error("api.Run: stale job recovery failed", "error", err)
	}
	go runner.Run(runCtx)

	dispatcher := reminder.NewDispatcher(st, sender, reminder.DefaultPollInterval)
	go dispatcher.Run(runCtx)

	cron := scheduler.NewScheduler()
	if err := cron.AddJob(opts.FlowSweepSchedule, func() {
		n, err := flows.SweepExpired()
		if err != nil {
			slog.Error("api.Run: flow sweep failed", "error", err)
			return
		}
		slog.Debug("api.Run: swept expired dialogues", "count", n)
	}); err != nil {
		return fmt.Errorf("api.Run: failed to schedule flow sweep: %w", err)
	}
	if err := cron.AddJob(opts.FlowSweepSchedule, func() {
		if err := runner.RecoverStaleJobs(); err != nil {
			slog.Error("api.Run: stale job requeue failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("api.Run: failed to schedule job recovery: %w", err)
	}
	defer cron.Stop()

	server := &http.Server{
		Addr:    opts.Addr,
		Handler: NewServer(router, svc, opts.VerifyToken).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api.Run: listening", "addr", opts.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api.Run: server error: %w", err)
	case <-runCtx.Done():
	}

	slog.Info("api.Run: shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api.Run: shutdown failed: %w", err)
	}
	return nil
}
