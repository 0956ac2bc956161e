package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dialogdesk/dialogdesk/internal/api"
	"github.com/dialogdesk/dialogdesk/internal/classifier"
	"github.com/dialogdesk/dialogdesk/internal/engine"
	"github.com/dialogdesk/dialogdesk/internal/gate"
	"github.com/dialogdesk/dialogdesk/internal/genai"
	"github.com/dialogdesk/dialogdesk/internal/messaging"
	"github.com/dialogdesk/dialogdesk/internal/session"
	"github.com/dialogdesk/dialogdesk/internal/store"
	"github.com/dialogdesk/dialogdesk/internal/sweeper"
	"github.com/dialogdesk/dialogdesk/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for DialogDesk state data
	DefaultStateDir = "/var/lib/dialogdesk"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "dialogdesk.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	st, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	sessions := session.NewManager(st, config.SessionTTL)

	// The classifier degrades to the deterministic fallback when no LLM is
	// configured, so a missing API key is not fatal.
	var llm genai.ClientInterface
	if client, err := genai.NewClient(buildGenAIOptions(flags)...); err != nil {
		slog.Warn("GenAI client unavailable, classifier will run fallback-only", "error", err)
	} else {
		llm = client
	}

	var sender messaging.Sender
	if tw, err := messaging.NewTwilioSender(); err != nil {
		slog.Warn("Twilio sender unavailable, lock notifications disabled", "error", err)
	} else {
		sender = tw
	}

	eng := engine.New(sessions, classifier.New(llm), gate.NewDefault(), sender)

	sw := sweeper.New(sessions)
	if err := sw.Start(*flags.sweepCron); err != nil {
		slog.Error("Failed to start sweeper", "error", err)
		os.Exit(1)
	}
	defer sw.Stop()

	server := api.NewServer(eng, buildAPIOptions(flags)...)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		slog.Info("Shutdown signal received")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown failed", "error", err)
		}
	}()

	slog.Info("Bootstrapping DialogDesk", "addr", *flags.apiAddr, "dsn_set", *flags.dbDSN != "", "ttl", config.SessionTTL)
	if err := server.Run(); err != nil {
		slog.Error("DialogDesk failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("DialogDesk exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	StateDir    string
	OpenAIKey   string
	OpenAIModel string
	APIAddr     string
	SweepCron   string
	SessionTTL  time.Duration
}

// Flags holds command line flag values
type Flags struct {
	stateDir  *string
	dbDSN     *string
	openaiKey *string
	apiAddr   *string
	sweepCron *string
}

// initializeLogger sets up structured logging with the level from
// DIALOGDESK_DEBUG.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("DIALOGDESK_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("DIALOGDESK_STATE_DIR"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIModel: os.Getenv("DIALOGDESK_OPENAI_MODEL"),
		APIAddr:     os.Getenv("API_ADDR"),
		SweepCron:   os.Getenv("SWEEP_SCHEDULE"),
		SessionTTL:  util.ParseDurationEnv("SESSION_TTL", session.DefaultTTL),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No DIALOGDESK_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"DIALOGDESK_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"SWEEP_SCHEDULE", config.SweepCron,
		"SESSION_TTL", config.SessionTTL)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for DialogDesk data (overrides $DIALOGDESK_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.DatabaseURL, "database DSN, PostgreSQL URL or SQLite path (overrides $DATABASE_URL)"),
		openaiKey: flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		sweepCron: flag.String("sweep-cron", config.SweepCron, "cron schedule for the expired-session sweep (overrides $SWEEP_SCHEDULE)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"sweepCron", *flags.sweepCron)

	// Follow an overridden state directory when the DSN was left at its
	// state-dir-derived default.
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// buildStore selects and initializes the durable backend from the DSN shape.
func buildStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
