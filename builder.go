package famauth

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/toolsfactory/TaschengeldManager-sub001/internal/rate"
	"github.com/toolsfactory/TaschengeldManager-sub001/internal/stores"
	"github.com/toolsfactory/TaschengeldManager-sub001/token"
)

// Builder assembles an [Engine]. Redis, the store set, and a hasher are
// required; everything else has defaults.
type Builder struct {
	config  *Config
	redis   redis.UniversalClient
	stores  *Stores
	hasher  Hasher
	logger  *zap.Logger
	sink    AuditSink
	nowFunc func() time.Time
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = &cfg
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithStores(s Stores) *Builder {
	b.stores = &s
	return b
}

func (b *Builder) WithHasher(h Hasher) *Builder {
	b.hasher = h
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithClock overrides the engine's time source. Tests use this to cross
// token and device expiries without sleeping.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.nowFunc = now
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	cfg := DefaultConfig()
	if b.config != nil {
		cfg = *b.config
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, fmt.Errorf("%w: redis client required", ErrEngineNotReady)
	}
	if b.stores == nil {
		return nil, fmt.Errorf("%w: stores required", ErrEngineNotReady)
	}
	if b.hasher == nil {
		return nil, fmt.Errorf("%w: hasher required", ErrEngineNotReady)
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tokens, err := token.NewManager(token.Config{
		AccessTTL:     cfg.Token.AccessTTL,
		MFAPendingTTL: cfg.Token.MFAPendingTTL,
		SetupTTL:      cfg.Token.SetupTTL,
		SigningMethod: cfg.Token.SigningMethod,
		PrivateKey:    cfg.Token.PrivateKey,
		PublicKey:     cfg.Token.PublicKey,
		Issuer:        cfg.Token.Issuer,
		Leeway:        cfg.Token.Leeway,
	})
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}

	sink := b.sink
	if sink == nil {
		if cfg.Audit.Enabled {
			sink = NewZapSink(logger)
		} else {
			sink = NoOpSink{}
		}
	}

	nowFunc := b.nowFunc
	if nowFunc == nil {
		nowFunc = time.Now
	}

	engine := &Engine{
		config: cfg,
		stores: *b.stores,
		hasher: b.hasher,
		tokens: tokens,
		totp:   newTOTPManager(cfg.TOTP),
		limiter: rate.New(b.redis, rate.Config{
			Prefix:              cfg.Session.RedisPrefix,
			Window:              cfg.Lockout.IdentifierWindow,
			MaxAttempts:         cfg.Lockout.IdentifierMaxAttempts,
			EnableIPThrottle:    cfg.Lockout.EnableIPThrottle,
			ApprovalWindow:      cfg.Approval.FloodWindow,
			MaxApprovalRequests: cfg.Approval.MaxOpenPerWindow,
		}),
		challenge: stores.NewChallengeGuard(b.redis, cfg.Session.RedisPrefix),
		replay:    stores.NewReplayGuard(b.redis, cfg.Session.RedisPrefix),
		audit:     newAuditDispatcher(cfg.Audit, sink),
		metrics:   NewMetrics(cfg.Metrics),
		logger:    logger,
		now:       nowFunc,
	}
	return engine, nil
}
