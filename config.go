package famauth

import (
	"errors"
	"time"
)

// Config carries every tunable of the engine. Configure once before
// [Builder.Build]; treat as immutable afterwards.
type Config struct {
	Token     TokenConfig
	Session   SessionConfig
	Lockout   LockoutConfig
	TOTP      TOTPConfig
	Backup    BackupCodeConfig
	Biometric BiometricConfig
	Approval  ApprovalConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Retention RetentionConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig configures the token codec.
type TokenConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	MFAPendingTTL time.Duration
	SetupTTL      time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig tunes session lifecycle handling.
type SessionConfig struct {
	// RedisPrefix namespaces the single-use guards and limiter counters.
	RedisPrefix string
	// MaxPerUser bounds concurrent active sessions; 0 means unbounded.
	MaxPerUser int
}

// LockoutConfig tunes the per-user lockout state machine and the
// identifier-level sliding window layered in front of it. Threshold and
// duration are deployment configuration, not constants.
type LockoutConfig struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration

	// IdentifierWindow throttles attempts per raw identifier string, so
	// unknown identifiers are covered even though they have no user row.
	IdentifierWindow      time.Duration
	IdentifierMaxAttempts int
	EnableIPThrottle      bool
}

// TOTPConfig tunes code verification.
type TOTPConfig struct {
	Issuer string
	Digits int
	Period int
	// Skew is the accepted clock-skew window in steps on each side.
	Skew int
	// SecretKey seals TOTP secrets at rest (32 bytes, AES-256-GCM).
	SecretKey []byte
	// MaxAttempts bounds failures per MFA challenge before it burns.
	MaxAttempts int
}

// BackupCodeConfig tunes recovery code batches.
type BackupCodeConfig struct {
	Count  int
	Length int
}

// BiometricConfig tunes device-bound credentials.
type BiometricConfig struct {
	// TokenTTL is the re-enrollment horizon, 14 days by default.
	TokenTTL time.Duration
	// EnrollmentWindow is how fresh the session's full MFA pass must be
	// for enrollment to count as "recent".
	EnrollmentWindow time.Duration
}

// ApprovalConfig tunes the parent approval channel.
type ApprovalConfig struct {
	// TTL is the decision window, 5 minutes by default.
	TTL time.Duration
	// MaxOpenPerWindow bounds open requests per child per FloodWindow.
	MaxOpenPerWindow int
	FloodWindow      time.Duration
}

// AuditConfig tunes the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig tunes the counter registry.
type MetricsConfig struct {
	Enabled bool
}

// RetentionConfig tunes the periodic sweep.
type RetentionConfig struct {
	// SessionGrace keeps revoked/expired sessions visible to forensics
	// before deletion.
	SessionGrace time.Duration
	// AttemptAge ages out login attempt rows.
	AttemptAge time.Duration
	// ApprovalAge ages out resolved approval requests.
	ApprovalAge time.Duration
	// SweepInterval drives [Engine.RunSweeper].
	SweepInterval time.Duration
}

// DefaultConfig returns the baseline production configuration. Key material
// (token signing keys, TOTP secret key) must still be supplied.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    30 * 24 * time.Hour,
			MFAPendingTTL: 5 * time.Minute,
			SetupTTL:      15 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "taschengeld",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix: "tg",
			MaxPerUser:  0,
		},
		Lockout: LockoutConfig{
			MaxFailedAttempts:     5,
			LockoutDuration:       15 * time.Minute,
			IdentifierWindow:      15 * time.Minute,
			IdentifierMaxAttempts: 20,
			EnableIPThrottle:      true,
		},
		TOTP: TOTPConfig{
			Issuer:      "Taschengeld",
			Digits:      6,
			Period:      30,
			Skew:        1,
			MaxAttempts: 5,
		},
		Backup: BackupCodeConfig{
			Count:  10,
			Length: 10,
		},
		Biometric: BiometricConfig{
			TokenTTL:         14 * 24 * time.Hour,
			EnrollmentWindow: 10 * time.Minute,
		},
		Approval: ApprovalConfig{
			TTL:              5 * time.Minute,
			MaxOpenPerWindow: 3,
			FloodWindow:      15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Retention: RetentionConfig{
			SessionGrace:  7 * 24 * time.Hour,
			AttemptAge:    90 * 24 * time.Hour,
			ApprovalAge:   30 * 24 * time.Hour,
			SweepInterval: time.Hour,
		},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.Token.MFAPendingTTL <= 0 || c.Token.MFAPendingTTL > time.Hour {
		return errors.New("mfa pending TTL must be positive and short-lived")
	}
	if c.Token.SetupTTL <= 0 {
		return errors.New("setup TTL must be positive")
	}
	switch c.Token.SigningMethod {
	case "ed25519", "hs256":
	default:
		return errors.New("unsupported signing method")
	}
	if c.Lockout.MaxFailedAttempts < 1 {
		return errors.New("lockout threshold must be at least 1")
	}
	if c.Lockout.LockoutDuration <= 0 {
		return errors.New("lockout duration must be positive")
	}
	if c.Lockout.IdentifierMaxAttempts < c.Lockout.MaxFailedAttempts {
		return errors.New("identifier window budget below lockout threshold")
	}
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
		return errors.New("totp digits must be 6..8")
	}
	if c.TOTP.Period < 15 || c.TOTP.Period > 120 {
		return errors.New("totp period must be 15..120 seconds")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("totp skew must be 0..2 steps")
	}
	if len(c.TOTP.SecretKey) != 32 {
		return errors.New("totp secret key must be 32 bytes")
	}
	if c.Backup.Count < 1 || c.Backup.Length < 8 {
		return errors.New("backup code batch too small")
	}
	if c.Biometric.TokenTTL <= 0 {
		return errors.New("biometric token TTL must be positive")
	}
	if c.Approval.TTL <= 0 || c.Approval.TTL > time.Hour {
		return errors.New("approval TTL must be positive and short-lived")
	}
	if c.Approval.MaxOpenPerWindow < 1 {
		return errors.New("approval flood budget must be at least 1")
	}
	return nil
}
