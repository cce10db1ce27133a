// Package password implements the pluggable one-way hash capability for
// passwords and PINs: Argon2id in PHC string format. Length and complexity
// policy is the engine's concern, not the hasher's — the same digest
// format covers a parent password and a child PIN.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

// Config carries Argon2id cost parameters. Memory is in KiB.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig is tuned for server-side interactive hashing.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2 satisfies the engine's Hasher capability.
type Argon2 struct {
	config Config
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
	keyLength   uint32
}

// NewArgon2 validates cost parameters and returns a ready hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &Argon2{config: cfg}, nil
}

// Hash derives a fresh-salted digest in PHC string format.
func (a *Argon2) Hash(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("empty secret")
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey(
		[]byte(secret),
		salt,
		a.config.Time,
		a.config.Memory,
		a.config.Parallelism,
		a.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		a.config.Memory,
		a.config.Time,
		a.config.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(hash),
	), nil
}

// Verify recomputes the digest under the stored parameters and compares in
// constant time.
func (a *Argon2) Verify(secret, digest string) (bool, error) {
	parsed, err := parsePHC(digest)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(secret),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		parsed.keyLength,
	)

	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

// NeedsUpgrade reports whether the digest was produced with weaker cost
// parameters than currently configured.
func (a *Argon2) NeedsUpgrade(digest string) (bool, error) {
	parsed, err := parsePHC(digest)
	if err != nil {
		return false, err
	}
	return parsed.memory < a.config.Memory ||
		parsed.time < a.config.Time ||
		parsed.keyLength < a.config.KeyLength, nil
}

// DummyVerify burns the same Argon2id work as a real verification without
// any credential involved. Login paths call it on unknown identifiers so
// that response timing does not reveal account existence.
func (a *Argon2) DummyVerify() {
	salt := make([]byte, a.config.SaltLength)
	_ = argon2.IDKey(
		[]byte("famauth-dummy-verify"),
		salt,
		a.config.Time,
		a.config.Memory,
		a.config.Parallelism,
		a.config.KeyLength,
	)
}

func validateConfig(cfg Config) error {
	if cfg.Memory < minMemoryKB {
		return errors.New("argon2 memory below 8 MiB")
	}
	if cfg.Time < minTimeCost {
		return errors.New("argon2 time cost below 1")
	}
	if cfg.Parallelism < minParallelism {
		return errors.New("argon2 parallelism below 1")
	}
	if cfg.SaltLength < minSaltLength {
		return errors.New("argon2 salt below 16 bytes")
	}
	if cfg.KeyLength < minKeyLength {
		return errors.New("argon2 key below 16 bytes")
	}
	return nil
}

func parsePHC(digest string) (*parsedPHC, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return nil, errors.New("malformed phc digest")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, errors.New("malformed phc version")
	}
	if version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	parsed := &parsedPHC{}
	for _, kv := range strings.Split(parts[3], ",") {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, errors.New("malformed phc parameters")
		}
		n, err := strconv.ParseUint(val, 10, 32)
		if err != nil {
			return nil, errors.New("malformed phc parameters")
		}
		switch key {
		case "m":
			parsed.memory = uint32(n)
		case "t":
			parsed.time = uint32(n)
		case "p":
			if n > 255 {
				return nil, errors.New("malformed phc parameters")
			}
			parsed.parallelism = uint8(n)
		default:
			return nil, errors.New("malformed phc parameters")
		}
	}
	if parsed.memory == 0 || parsed.time == 0 || parsed.parallelism == 0 {
		return nil, errors.New("malformed phc parameters")
	}

	salt, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, errors.New("malformed phc salt")
	}
	hash, err := base64.StdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, errors.New("malformed phc hash")
	}
	parsed.salt = salt
	parsed.hash = hash
	parsed.keyLength = uint32(len(hash))

	return parsed, nil
}
