package authgate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrEthical07/authgate/store"
)

// Builder assembles an [Engine]. It is single-use.
type Builder struct {
	config Config

	session store.Scope
	durable store.Scope

	clock     Clock
	logger    *slog.Logger
	verifier  TokenVerifier
	reporter  ErrorReporter
	auditSink AuditSink

	built bool
}

// New returns a Builder holding [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithSessionStore sets the scope for the token and current user. It defaults to
// an in-process [store.Memory].
func (b *Builder) WithSessionStore(s store.Scope) *Builder {
	b.session = s
	return b
}

// WithDurableStore sets the scope for the failure tracking. It defaults to an
// in-process [store.Memory], which does not survive a restart.
func (b *Builder) WithDurableStore(s store.Scope) *Builder {
	b.durable = s
	return b
}

func (b *Builder) WithClock(c Clock) *Builder {
	b.clock = c
	return b
}

// WithLogger sets the logger for best-effort failures. The default discards.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithTokenVerifier makes Initialize discard stored tokens that fail verification.
func (b *Builder) WithTokenVerifier(v TokenVerifier) *Builder {
	b.verifier = v
	return b
}

func (b *Builder) WithErrorReporter(r ErrorReporter) *Builder {
	b.reporter = r
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, builds the engine and rehydrates it from the
// stores with [Engine.Initialize].
func (b *Builder) Build() (*Engine, error) {
	return b.BuildContext(context.Background())
}

func (b *Builder) BuildContext(ctx context.Context) (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	session := b.session
	if session == nil {
		session = store.NewMemory()
	}
	durable := b.durable
	if durable == nil {
		durable = store.NewMemory()
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	engine := &Engine{
		config:   cfg,
		session:  session,
		durable:  durable,
		clock:    b.clock,
		logger:   logger,
		verifier: b.verifier,
		reporter: b.reporter,
	}
	engine.audit = newAuditQueue(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	engine.Initialize(ctx)

	b.built = true

	return engine, nil
}
