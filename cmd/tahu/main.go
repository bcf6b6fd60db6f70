package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tfarhan00/tahu-program/pkg/config"
	"github.com/tfarhan00/tahu-program/pkg/governance"
	"github.com/tfarhan00/tahu-program/pkg/observability"
	"github.com/tfarhan00/tahu-program/pkg/store"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing. Exit codes: 0 success, 1 the check or
// lookup failed, 2 usage or runtime error.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "migrate":
		return withApp(stderr, func(rt *app) int { return runMigrateCmd(rt, stdout, stderr) })
	case "doctor":
		return runDoctorCmd(stdout, stderr)
	case "inspect":
		return withApp(stderr, func(rt *app) int { return runInspectCmd(rt, args[2:], stdout, stderr) })
	case "evaluate":
		return withApp(stderr, func(rt *app) int { return runEvaluateCmd(rt, args[2:], stdout, stderr) })
	case "verify":
		return withApp(stderr, func(rt *app) int { return runVerifyCmd(rt, args[2:], stdout, stderr) })
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "tahu: DAO governance state machine")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  tahu <command> [flags]")
	fmt.Fprintln(w, "")
	printCommand(w, "migrate", "Create the SQL schema for the configured store")
	printCommand(w, "doctor", "Check configuration and store connectivity")
	printCommand(w, "inspect", "Print a record: inspect dao <id> | inspect proposal <dao> <id>")
	printCommand(w, "evaluate", "Print the threshold decision: evaluate <dao> <id>")
	printCommand(w, "verify", "Verify the audit journal hash chain (--json)")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "ENVIRONMENT:")
	fmt.Fprintln(w, "  TAHU_STORE, TAHU_DATABASE_URL, TAHU_REDIS_ADDR, TAHU_REDIS_PASSWORD, TAHU_REDIS_DB,")
	fmt.Fprintln(w, "  TAHU_PROFILE, LOG_LEVEL, LOG_FORMAT, OTEL_ENABLED, OTEL_EXPORTER_OTLP_ENDPOINT")
	fmt.Fprintln(w, "")
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %-10s %s\n", name, desc)
}

// app is what every store-backed command needs.
type app struct {
	ctx       context.Context
	cfg       *config.Config
	profile   *config.Profile
	store     store.Store
	engine    *governance.Engine
	telemetry *observability.Provider
	logger    *slog.Logger
}

func withApp(stderr io.Writer, fn func(rt *app) int) int {
	ctx := context.Background()
	rt, err := newApp(ctx, config.Load(), stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer rt.close()
	return fn(rt)
}

func newApp(ctx context.Context, cfg *config.Config, stderr io.Writer) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg, stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		return nil, err
	}
	rule, err := profile.Rule()
	if err != nil {
		return nil, err
	}

	otelCfg := observability.DefaultConfig()
	otelCfg.Enabled = cfg.OTelEnabled
	otelCfg.OTLPEndpoint = cfg.OTelEndpoint
	otelCfg.Insecure = true
	telemetry, err := observability.New(ctx, otelCfg)
	if err != nil {
		return nil, err
	}

	s, err := openStore(ctx, cfg)
	if err != nil {
		_ = telemetry.Shutdown(ctx)
		return nil, err
	}

	engine := governance.NewEngine(s, profile.Policy()).
		WithLogger(logger).
		WithTelemetry(telemetry)
	if rule != nil {
		engine = engine.WithApprovalRule(rule)
	}

	return &app{
		ctx:       ctx,
		cfg:       cfg,
		profile:   profile,
		store:     s,
		engine:    engine,
		telemetry: telemetry,
		logger:    logger,
	}, nil
}

func (rt *app) close() {
	if err := rt.store.Close(); err != nil {
		rt.logger.Warn("failed to close store", "error", err)
	}
	if err := rt.telemetry.Shutdown(rt.ctx); err != nil {
		rt.logger.Warn("failed to shut down telemetry", "error", err)
	}
}

// openStore connects the backend named by cfg.Store.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return store.NewMemoryStore(), nil
	case config.StoreSQLite:
		return store.OpenSQL(ctx, store.DialectSQLite, cfg.DatabaseURL)
	case config.StorePostgres:
		return store.OpenSQL(ctx, store.DialectPostgres, cfg.DatabaseURL)
	case config.StoreRedis:
		return store.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
