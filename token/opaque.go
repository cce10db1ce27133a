package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// RefreshSecretSize is the entropy of the per-rotation refresh secret.
	RefreshSecretSize = 32

	refreshTokenRawSize = 16 + RefreshSecretSize
)

// NewRefreshSecret draws a fresh refresh secret.
func NewRefreshSecret() ([RefreshSecretSize]byte, error) {
	var secret [RefreshSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashSecret is the digest under which a refresh secret is persisted.
func HashSecret(secret [RefreshSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// HashString digests an arbitrary bearer secret (biometric device tokens,
// backup codes) for hash-only storage.
func HashString(s string) [32]byte {
	return sha256.Sum256([]byte(s))
}

// EncodeRefresh packs session id and secret into the opaque wire form:
// base64url(sid[16] || secret[32]), no padding.
func EncodeRefresh(sessionID uuid.UUID, secret [RefreshSecretSize]byte) string {
	var raw [refreshTokenRawSize]byte
	copy(raw[:16], sessionID[:])
	copy(raw[16:], secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// DecodeRefresh unpacks the opaque wire form back into session id and
// secret. Size is checked before any store lookup happens.
func DecodeRefresh(tok string) (uuid.UUID, [RefreshSecretSize]byte, error) {
	var secret [RefreshSecretSize]byte
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return uuid.Nil, secret, ErrInvalid
	}
	if len(raw) != refreshTokenRawSize {
		return uuid.Nil, secret, ErrInvalid
	}
	var sid uuid.UUID
	copy(sid[:], raw[:16])
	copy(secret[:], raw[16:])
	return sid, secret, nil
}

// NewOpaque returns a URL-safe secure-random token of n bytes of entropy.
// General-purpose: biometric device secrets, invitation links.
func NewOpaque(n int) (string, error) {
	if n < 16 {
		return "", errors.New("opaque token entropy below 16 bytes")
	}
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// humanAlphabet avoids 0/O and 1/I confusion; used for codes people type.
const humanAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// NewHumanCode returns a code over an unambiguous uppercase alphabet, used
// for backup codes and family codes.
func NewHumanCode(length int) (string, error) {
	if length < 6 {
		return "", errors.New("human code length below 6")
	}
	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(humanAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(humanAlphabet[n.Int64()])
	}
	return b.String(), nil
}
