package password

import (
	"strings"
	"testing"
)

// fastConfig keeps test hashing cheap while staying above the validation
// floors.
func fastConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
}

func TestHashVerifyRoundTrip(t *testing.T) {
	h, err := NewArgon2(fastConfig())
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}

	digest, err := h.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(digest, "$argon2id$") {
		t.Fatalf("digest %q not in PHC form", digest)
	}

	ok, err := h.Verify("correct horse battery", digest)
	if err != nil || !ok {
		t.Fatalf("Verify = %v, %v; want true, nil", ok, err)
	}
	ok, err = h.Verify("wrong password", digest)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Fatal("wrong password verified")
	}
}

func TestHashSaltsEveryDigest(t *testing.T) {
	h, err := NewArgon2(fastConfig())
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	a, err := h.Hash("same secret here")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	b, err := h.Hash("same secret here")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if a == b {
		t.Fatal("two digests of the same secret are identical")
	}
}

func TestVerifyMalformedDigest(t *testing.T) {
	h, err := NewArgon2(fastConfig())
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	for _, digest := range []string{"", "plain", "$bcrypt$whatever", "$argon2id$v=19$m=bad$x$y"} {
		if _, err := h.Verify("secret", digest); err == nil {
			t.Fatalf("malformed digest %q accepted", digest)
		}
	}
}

func TestNeedsUpgrade(t *testing.T) {
	weak, err := NewArgon2(fastConfig())
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	digest, err := weak.Hash("some old secret")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	strong, err := NewArgon2(DefaultConfig())
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	up, err := strong.NeedsUpgrade(digest)
	if err != nil {
		t.Fatalf("NeedsUpgrade failed: %v", err)
	}
	if !up {
		t.Fatal("weak digest not flagged for upgrade")
	}

	fresh, err := strong.Hash("some new secret")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	up, err = strong.NeedsUpgrade(fresh)
	if err != nil {
		t.Fatalf("NeedsUpgrade failed: %v", err)
	}
	if up {
		t.Fatal("current digest flagged for upgrade")
	}
}

func TestNewArgon2RejectsWeakParameters(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Memory = 1024 },
		func(c *Config) { c.Time = 0 },
		func(c *Config) { c.Parallelism = 0 },
		func(c *Config) { c.SaltLength = 8 },
		func(c *Config) { c.KeyLength = 8 },
	}
	for i, mutate := range cases {
		cfg := fastConfig()
		mutate(&cfg)
		if _, err := NewArgon2(cfg); err == nil {
			t.Fatalf("case %d: weak config accepted", i)
		}
	}
}
