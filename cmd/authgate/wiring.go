package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/backend/httpapi"
	"github.com/MrEthical07/authgate/directory"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/MrEthical07/authgate/password"
	"github.com/MrEthical07/authgate/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// closers runs cleanup in reverse order.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func newTokenManager(cfg authgate.TokenConfig, logger *slog.Logger) (*jwt.Manager, error) {
	key := []byte(cfg.Secret)
	if len(key) == 0 {
		if cfg.VerifyOnRestore {
			return nil, errors.New("token secret is required when verify-on-restore is enabled")
		}
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate token secret: %w", err)
		}
		logger.Warn("authgate: no token secret configured, using an ephemeral key")
	}
	return jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.TTL,
		SigningMethod: jwt.SigningMethod(cfg.SigningMethod),
		PrivateKey:    key,
		Issuer:        cfg.Issuer,
	})
}

func newRedisClient(addr string, cleanup *closers, logger *slog.Logger) (redis.UniversalClient, error) {
	if addr == "mini" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start miniredis: %w", err)
		}
		cleanup.add(mr.Close)
		addr = mr.Addr()
		logger.Info("using miniredis", "addr", addr)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	cleanup.add(func() { _ = client.Close() })
	return client, nil
}

// openScopes builds the session and durable stores named by cfg.
func openScopes(ctx context.Context, cfg authgate.StoreConfig, cleanup *closers, logger *slog.Logger) (session, durable store.Scope, err error) {
	var client redis.UniversalClient
	if cfg.Session == "redis" || cfg.Durable == "redis" {
		if client, err = newRedisClient(cfg.RedisAddr, cleanup, logger); err != nil {
			return nil, nil, err
		}
		r := store.NewRedis(client, cfg.RedisPrefix, 0)
		rtt, err := r.Ping(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		logger.Debug("redis reachable", "rtt", rtt)
	}

	switch cfg.Session {
	case "redis":
		session = store.NewRedis(client, cfg.RedisPrefix+":session", cfg.SessionTTL)
	default:
		session = store.NewMemory()
	}

	switch cfg.Durable {
	case "redis":
		durable = store.NewRedis(client, cfg.RedisPrefix+":durable", 0)
	case "sqlite":
		s, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		cleanup.add(func() { _ = s.Close() })
		durable = s
	case "file":
		f, err := store.OpenFile(cfg.FilePath)
		if err != nil {
			return nil, nil, err
		}
		durable = f
	default:
		durable = store.NewMemory()
	}
	return session, durable, nil
}

// openBackend returns the credential backend named by cfg.
func openBackend(ctx context.Context, cfg authgate.BackendConfig, tokens *jwt.Manager, cleanup *closers, logger *slog.Logger) (authgate.Backend, error) {
	if cfg.Kind == "http" {
		return httpapi.NewClient(cfg.BaseURL, nil, cfg.Timeout)
	}
	return openDirectory(ctx, cfg, tokens, cleanup, logger)
}

func openDirectory(ctx context.Context, cfg authgate.BackendConfig, tokens *jwt.Manager, cleanup *closers, logger *slog.Logger) (*directory.Service, error) {
	var repo directory.Repository
	switch cfg.Kind {
	case "sqlite":
		r, err := directory.OpenSQLite(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		cleanup.add(func() { _ = r.Close() })
		repo = r
	case "postgres":
		r, err := directory.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		cleanup.add(func() { _ = r.Close() })
		repo = r
	default:
		repo = directory.NewMemoryRepository()
	}

	hasher, err := password.NewArgon2(password.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := directory.SeedDefaults(ctx, repo, hasher); err != nil {
		return nil, err
	}

	// The reference directory has no mail transport; tokens go to the log.
	opts := []directory.Option{
		directory.WithResetTTL(cfg.ResetTTL),
		directory.WithResetNotifier(func(_ context.Context, username, token string) {
			logger.Info("password reset token issued", "username", username, "token", token)
		}),
	}
	if cfg.SimulateLatency {
		opts = append(opts, directory.WithLatency(directory.DemoLatency()))
	}
	return directory.NewService(repo, hasher, tokens, opts...)
}
