// authgate is an interactive login client built on the authgate engine and
// controller. "authgate serve" exposes the reference directory over the
// authentication REST API instead.
//
// Configuration comes from AUTHGATE_* environment variables (optionally loaded
// from a .env file) and is overridden by flags.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/internal/observability"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

type options struct {
	envFile     string
	auditLog    string
	listen      string
	metricsAddr string
	sentryDSN   string
	environment string
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	mode := "login"
	if len(args) > 0 && (args[0] == "serve" || args[0] == "login") {
		mode, args = args[0], args[1:]
	}

	var opts options
	flagSet := pflag.NewFlagSet("authgate", pflag.ContinueOnError)
	flagSet.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading AUTHGATE_* variables")
	flagSet.StringVar(&opts.auditLog, "audit-log", "", "append JSON audit events to this file")
	flagSet.StringVar(&opts.listen, "listen", ":8080", "address for serve mode")
	flagSet.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flagSet.StringVar(&opts.sentryDSN, "sentry-dsn", os.Getenv("SENTRY_DSN"), "report backend failures to Sentry")
	flagSet.StringVar(&opts.environment, "environment", "development", "Sentry environment")
	sessionStore := flagSet.String("session-store", "", "session scope: memory or redis")
	durableStore := flagSet.String("durable-store", "", "durable scope: memory, file, sqlite or redis")
	redisAddr := flagSet.String("redis-addr", "", `redis address, or "mini" for an embedded miniredis`)
	backendKind := flagSet.String("backend", "", "credential backend: memory, http, sqlite or postgres")
	backendURL := flagSet.String("backend-url", "", "base URL for the http backend")
	backendDSN := flagSet.String("backend-dsn", "", "DSN for the sqlite or postgres backend")
	simulateLatency := flagSet.Bool("simulate-latency", false, "delay directory responses like a remote service")
	logFormat := flagSet.String("log-format", "", "text or json")
	logLevel := flagSet.String("log-level", "", "debug, info, warn or error")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		fmt.Fprintf(os.Stdout, "usage: authgate [login|serve] [flags]\n\n%s", flagSet.FlagUsages())
		return nil
	}

	if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", opts.envFile, err)
	}

	cfg, err := loadConfigWithOverrides(func(cfg *authgate.Config) {
		setIfChanged(flagSet, "session-store", &cfg.Store.Session, *sessionStore)
		setIfChanged(flagSet, "durable-store", &cfg.Store.Durable, *durableStore)
		setIfChanged(flagSet, "redis-addr", &cfg.Store.RedisAddr, *redisAddr)
		setIfChanged(flagSet, "backend", &cfg.Backend.Kind, *backendKind)
		setIfChanged(flagSet, "backend-url", &cfg.Backend.BaseURL, *backendURL)
		setIfChanged(flagSet, "backend-dsn", &cfg.Backend.DSN, *backendDSN)
		setIfChanged(flagSet, "log-format", &cfg.Log.Format, *logFormat)
		setIfChanged(flagSet, "log-level", &cfg.Log.Level, *logLevel)
		if flagSet.Changed("simulate-latency") {
			cfg.Backend.SimulateLatency = *simulateLatency
		}
		if opts.metricsAddr != "" {
			cfg.Metrics.Enabled = true
			cfg.Metrics.EnableLatencyHistograms = true
		}
		if opts.auditLog != "" {
			cfg.Audit.Enabled = true
		}
	})
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return err
	}

	if err := observability.InitSentry(opts.sentryDSN, opts.environment); err != nil {
		return fmt.Errorf("init sentry: %w", err)
	}
	defer observability.FlushSentry()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if mode == "serve" {
		return serve(ctx, cfg, opts, logger)
	}
	return login(ctx, cfg, opts, logger, os.Stdin, os.Stdout)
}

// loadConfigWithOverrides reads the environment, applies flag overrides and validates.
func loadConfigWithOverrides(override func(*authgate.Config)) (authgate.Config, error) {
	cfg, err := authgate.LoadConfigFromEnv()
	if err != nil {
		return authgate.Config{}, fmt.Errorf("load config: %w", err)
	}
	override(&cfg)
	if err := cfg.Validate(); err != nil {
		return authgate.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setIfChanged(flags *pflag.FlagSet, name string, dst *string, value string) {
	if flags.Changed(name) {
		*dst = value
	}
}

func openAuditLog(path string, cleanup *closers) (authgate.AuditSink, error) {
	if path == "" {
		return authgate.AuditSinkFunc(nil), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	cleanup.add(func() { _ = f.Close() })
	return authgate.NewAuditJournal(f), nil
}

// buildEngine wires stores, token verification, audit and error reporting into an engine.
func buildEngine(ctx context.Context, cfg authgate.Config, opts options, logger *slog.Logger, cleanup *closers) (*authgate.Engine, authgate.Backend, error) {
	session, durable, err := openScopes(ctx, cfg.Store, cleanup, logger)
	if err != nil {
		return nil, nil, err
	}
	tokens, err := newTokenManager(cfg.Token, logger)
	if err != nil {
		return nil, nil, err
	}
	backend, err := openBackend(ctx, cfg.Backend, tokens, cleanup, logger)
	if err != nil {
		return nil, nil, err
	}
	sink, err := openAuditLog(opts.auditLog, cleanup)
	if err != nil {
		return nil, nil, err
	}

	b := authgate.New().
		WithConfig(cfg).
		WithSessionStore(session).
		WithDurableStore(durable).
		WithLogger(logger).
		WithAuditSink(sink)
	if cfg.Token.VerifyOnRestore {
		b = b.WithTokenVerifier(tokens)
	}
	if opts.sentryDSN != "" {
		b = b.WithErrorReporter(observability.NewSentryReporter(nil))
	}
	engine, err := b.BuildContext(ctx)
	if err != nil {
		return nil, nil, err
	}
	cleanup.add(engine.Close)
	return engine, backend, nil
}
