package password

import (
	"strings"
	"testing"
)

func testHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	})
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := testHasher(t)

	encoded, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("encoded hash %q lacks PHC prefix", encoded)
	}

	ok, err := h.Verify("correct horse", encoded)
	if err != nil || !ok {
		t.Fatalf("Verify = (%v, %v), want match", ok, err)
	}

	ok, err = h.Verify("wrong password", encoded)
	if err != nil {
		t.Fatalf("Verify errored on mismatch: %v", err)
	}
	if ok {
		t.Fatal("wrong password verified")
	}
}

func TestHashSaltsDiffer(t *testing.T) {
	h := testHasher(t)

	a, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	b, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if a == b {
		t.Fatal("two hashes of the same password are identical")
	}
}

func TestVerifyHonorsEmbeddedParameters(t *testing.T) {
	// A hash produced under one cost configuration must still verify after
	// the hasher's costs change.
	old := testHasher(t)
	encoded, err := old.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	upgraded, err := NewHasher(Config{
		Memory:      16 * 1024,
		Time:        2,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}

	ok, err := upgraded.Verify("correct horse", encoded)
	if err != nil || !ok {
		t.Fatalf("Verify under new costs = (%v, %v), want match", ok, err)
	}
}

func TestVerifyRejectsMalformed(t *testing.T) {
	h := testHasher(t)

	cases := []string{
		"",
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!$aGFzaA",
	}
	for _, encoded := range cases {
		if _, err := h.Verify("password", encoded); err == nil {
			t.Fatalf("Verify accepted malformed hash %q", encoded)
		}
	}
}

func TestNewHasherEnforcesMinimums(t *testing.T) {
	base := Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16}

	weaken := []func(Config) Config{
		func(c Config) Config { c.Memory = 1024; return c },
		func(c Config) Config { c.Time = 0; return c },
		func(c Config) Config { c.Parallelism = 0; return c },
		func(c Config) Config { c.SaltLength = 8; return c },
		func(c Config) Config { c.KeyLength = 8; return c },
	}
	for i, fn := range weaken {
		if _, err := NewHasher(fn(base)); err == nil {
			t.Fatalf("case %d: weak config accepted", i)
		}
	}
}

func TestHashRejectsEmptyPassword(t *testing.T) {
	h := testHasher(t)
	if _, err := h.Hash(""); err == nil {
		t.Fatal("empty password hashed")
	}
}
