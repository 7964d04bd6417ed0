// hustlebot is the WhatsApp commerce bot binary. It loads configuration from
// the environment (optionally a .env file) and command-line flags, then runs
// the API server with the webhook listener, settlement pipeline, and reminder
// dispatcher attached.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/api"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/commerce"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/flow"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/lockfile"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/pesepay"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/util"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/whatsapp"
)

const defaultStateDir = "/var/lib/hustlebot"

// Config holds environment-derived configuration values.
type Config struct {
	DatabaseURL        string
	StateDir           string
	APIAddr            string
	GraphAPIToken      string
	PhoneNumberID      string
	GraphAPIVersion    string
	WebhookVerifyToken string
	PesepayKey         string
	PesepayResultURL   string
	PesepayReturnURL   string
	FlowTTLMinutes     int
	PollAttempts       int
	PollIntervalSecs   int
	TimeoutAutoRetry   bool
	FlowSweepSchedule  string
}

// Flags holds command-line flag values that override environment config.
type Flags struct {
	DatabaseURL *string
	StateDir    *string
	APIAddr     *string
}

func main() {
	initializeLogger()

	cfg := loadEnvironmentConfig()
	flags := parseCommandLineFlags(cfg)
	applyFlagOverrides(&cfg, flags)

	dsn := cfg.DatabaseURL
	if dsn == "" {
		// SQLite does not tolerate two writers, so hold an exclusive lock
		// on the state directory for the lifetime of the process.
		lock, err := lockfile.Acquire(cfg.StateDir)
		if err != nil {
			slog.Error("main: failed to lock state directory", "error", err, "dir", cfg.StateDir)
			os.Exit(1)
		}
		defer lock.Release()
		dsn = filepath.Join(cfg.StateDir, "hustlebot.db")
	}

	err := api.Run(
		context.Background(),
		dsn,
		buildWhatsAppOptions(cfg),
		buildPesepayOptions(cfg),
		buildFlowOptions(cfg),
		buildCommerceOptions(cfg),
		buildAPIOptions(cfg),
	)
	if err != nil {
		slog.Error("main: server exited with error", "error", err)
		os.Exit(1)
	}
}

func initializeLogger() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(handler))
}

func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("main: no .env file loaded", "error", err)
	}

	return Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		StateDir:           getEnvOrDefault("STATE_DIR", defaultStateDir),
		APIAddr:            getEnvOrDefault("API_ADDR", api.DefaultAddr),
		GraphAPIToken:      os.Getenv("GRAPH_API_TOKEN"),
		PhoneNumberID:      os.Getenv("BUSINESS_PHONE_NUMBER_ID"),
		GraphAPIVersion:    os.Getenv("GRAPH_API_VERSION"),
		WebhookVerifyToken: os.Getenv("WEBHOOK_VERIFY_TOKEN"),
		PesepayKey:         os.Getenv("PESEPAY_INTEGRATION_KEY"),
		PesepayResultURL:   os.Getenv("PESEPAY_RESULT_URL"),
		PesepayReturnURL:   os.Getenv("PESEPAY_RETURN_URL"),
		FlowTTLMinutes:     util.ParseIntEnv("FLOW_TTL_MINUTES", 30),
		PollAttempts:       util.ParseIntEnv("PAYMENT_POLL_ATTEMPTS", commerce.DefaultPollAttempts),
		PollIntervalSecs:   util.ParseIntEnv("PAYMENT_POLL_INTERVAL_SECONDS", int(commerce.DefaultPollInterval/time.Second)),
		TimeoutAutoRetry:   util.ParseBoolEnv("PAYMENT_TIMEOUT_AUTORETRY", false),
		FlowSweepSchedule:  getEnvOrDefault("FLOW_SWEEP_SCHEDULE", api.DefaultFlowSweepSchedule),
	}
}

func parseCommandLineFlags(cfg Config) Flags {
	flags := Flags{
		DatabaseURL: flag.String("db", cfg.DatabaseURL, "Database connection string (Postgres DSN or SQLite path)"),
		StateDir:    flag.String("state-dir", cfg.StateDir, "Directory for the default SQLite database"),
		APIAddr:     flag.String("addr", cfg.APIAddr, "API server listen address"),
	}
	flag.Parse()
	return flags
}

func applyFlagOverrides(cfg *Config, flags Flags) {
	cfg.DatabaseURL = *flags.DatabaseURL
	cfg.StateDir = *flags.StateDir
	cfg.APIAddr = *flags.APIAddr
}

func buildWhatsAppOptions(cfg Config) []whatsapp.Option {
	opts := []whatsapp.Option{
		whatsapp.WithToken(cfg.GraphAPIToken),
		whatsapp.WithPhoneNumberID(cfg.PhoneNumberID),
	}
	if cfg.GraphAPIVersion != "" {
		opts = append(opts, whatsapp.WithAPIVersion(cfg.GraphAPIVersion))
	}
	return opts
}

func buildPesepayOptions(cfg Config) []pesepay.Option {
	opts := []pesepay.Option{pesepay.WithIntegrationKey(cfg.PesepayKey)}
	if cfg.PesepayResultURL != "" {
		opts = append(opts, pesepay.WithResultURL(cfg.PesepayResultURL))
	}
	if cfg.PesepayReturnURL != "" {
		opts = append(opts, pesepay.WithReturnURL(cfg.PesepayReturnURL))
	}
	return opts
}

func buildFlowOptions(cfg Config) []flow.Option {
	return []flow.Option{flow.WithTTL(time.Duration(cfg.FlowTTLMinutes) * time.Minute)}
}

func buildCommerceOptions(cfg Config) []commerce.Option {
	opts := []commerce.Option{
		commerce.WithPollAttempts(cfg.PollAttempts),
		commerce.WithPollInterval(time.Duration(cfg.PollIntervalSecs) * time.Second),
	}
	if cfg.TimeoutAutoRetry {
		opts = append(opts, commerce.WithTimeoutAutoRetry(true, commerce.DefaultTimeoutRetryDelay))
	}
	return opts
}

func buildAPIOptions(cfg Config) []api.Option {
	return []api.Option{
		api.WithAddr(cfg.APIAddr),
		api.WithVerifyToken(cfg.WebhookVerifyToken),
		api.WithFlowSweepSchedule(cfg.FlowSweepSchedule),
	}
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
