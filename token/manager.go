package token

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Signing method names accepted by [Config].
const (
	MethodEd25519 = "ed25519"
	MethodHS256   = "hs256"
)

// Purpose scopes a challenge token to exactly one flow. A setup token can
// never be presented where an MFA-pending token is expected.
type Purpose string

const (
	// PurposeMFAPending binds "credentials already checked" to a user,
	// awaiting second-factor completion.
	PurposeMFAPending Purpose = "mfa"
	// PurposeMFASetup authorizes initial MFA configuration right after
	// registration, before any session exists.
	PurposeMFASetup Purpose = "mfa_setup"
)

var (
	// ErrInvalid is returned for malformed, mis-signed, or mis-scoped tokens.
	ErrInvalid = errors.New("token invalid")
	// ErrExpired is returned for structurally valid but stale tokens.
	ErrExpired = errors.New("token expired")
)

// Config holds codec key material and TTLs. Configure once; immutable after
// [NewManager].
type Config struct {
	AccessTTL     time.Duration
	MFAPendingTTL time.Duration
	SetupTTL      time.Duration
	SigningMethod string
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// Manager creates and validates signed tokens.
type Manager struct {
	config  Config
	signKey any
	verify  any
	method  jwt.SigningMethod
}

// AccessClaims is the payload of an access token: user id and role for
// authorization, session id only for same-device correlation.
type AccessClaims struct {
	UID  string `json:"uid"`
	SID  string `json:"sid"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ChallengeClaims is the payload of an MFA-pending or setup token. The jti
// (RegisteredClaims.ID) keys single-use consumption in the engine.
type ChallengeClaims struct {
	UID     string `json:"uid"`
	Purpose string `json:"pur"`
	jwt.RegisteredClaims
}

// NewManager validates key material and returns a ready codec.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.MFAPendingTTL <= 0 || cfg.SetupTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	m := &Manager{config: cfg}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 requires a key of at least 32 bytes")
		}
		m.method = jwt.SigningMethodHS256
		m.signKey = cfg.PrivateKey
		m.verify = cfg.PrivateKey
	case MethodEd25519, "":
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		pub := priv.Public().(ed25519.PublicKey)
		if len(cfg.PublicKey) > 0 {
			parsed, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			pub = parsed
		}
		m.method = jwt.SigningMethodEdDSA
		m.signKey = priv
		m.verify = pub
	default:
		return nil, errors.New("unsupported signing method")
	}
	return m, nil
}

// CreateAccess mints an access token and returns it with its expiry.
func (m *Manager) CreateAccess(uid, sid, role string, now time.Time) (string, time.Time, error) {
	exp := now.Add(m.config.AccessTTL)
	claims := AccessClaims{
		UID:  uid,
		SID:  sid,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(m.method, claims).SignedString(m.signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// ParseAccess validates signature, issuer, and expiry of an access token.
func (m *Manager) ParseAccess(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(raw, claims); err != nil {
		return nil, err
	}
	if claims.UID == "" || claims.SID == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}

// CreateChallenge mints a single-purpose short-lived token for the user and
// returns it together with its jti.
func (m *Manager) CreateChallenge(uid string, purpose Purpose, now time.Time) (string, string, error) {
	ttl := m.config.MFAPendingTTL
	if purpose == PurposeMFASetup {
		ttl = m.config.SetupTTL
	}
	jti := uuid.NewString()
	claims := ChallengeClaims{
		UID:     uid,
		Purpose: string(purpose),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(m.method, claims).SignedString(m.signKey)
	if err != nil {
		return "", "", err
	}
	return signed, jti, nil
}

// ParseChallenge validates a challenge token and that it was minted for the
// given purpose.
func (m *Manager) ParseChallenge(raw string, purpose Purpose) (*ChallengeClaims, error) {
	claims := &ChallengeClaims{}
	if err := m.parse(raw, claims); err != nil {
		return nil, err
	}
	if claims.UID == "" || claims.ID == "" || claims.Purpose != string(purpose) {
		return nil, ErrInvalid
	}
	return claims, nil
}

func (m *Manager) parse(raw string, claims jwt.Claims) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithLeeway(m.config.Leeway),
		jwt.WithExpirationRequired(),
	}
	if m.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.config.Issuer))
	}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return m.verify, nil
	}, opts...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return ErrInvalid
	}
}

func parseEdPrivateKey(b []byte) (ed25519.PrivateKey, error) {
	switch len(b) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(b), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(b), nil
	default:
		return nil, errors.New("ed25519 private key must be a 32-byte seed or 64-byte key")
	}
}

func parseEdPublicKey(b []byte) (ed25519.PublicKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return nil, errors.New("ed25519 public key must be 32 bytes")
	}
	return ed25519.PublicKey(b), nil
}
