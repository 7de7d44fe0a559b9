package password

import (
	"errors"
	"strings"
	"testing"
)

func testParams() Params {
	// Small costs keep the suite fast; still above the validation floor.
	return Params{
		MemoryKB:    8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
}

func TestHashAndVerifyRoundTrip(t *testing.T) {
	h, err := NewHasher(testParams())
	if err != nil {
		t.Fatalf("hasher failed: %v", err)
	}

	encoded, err := h.Hash("correct-horse")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("expected PHC format, got %q", encoded)
	}

	ok, err := h.Verify("correct-horse", encoded)
	if err != nil || !ok {
		t.Fatalf("expected match, got %v %v", ok, err)
	}
	ok, err = h.Verify("wrong-horse", encoded)
	if err != nil || ok {
		t.Fatalf("expected mismatch, got %v %v", ok, err)
	}
}

func TestHashSaltsAreUnique(t *testing.T) {
	h, _ := NewHasher(testParams())
	a, err := h.Hash("correct-horse")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	b, err := h.Hash("correct-horse")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if a == b {
		t.Fatal("two hashes of the same password must differ by salt")
	}
}

func TestHashRejectsShortPasswords(t *testing.T) {
	h, _ := NewHasher(testParams())
	if _, err := h.Hash("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
}

func TestVerifyRejectsMalformedEncodings(t *testing.T) {
	h, _ := NewHasher(testParams())
	for _, encoded := range []string{
		"",
		"not-a-hash",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!$aGFzaA",
	} {
		if _, err := h.Verify("whatever-password", encoded); err == nil {
			t.Fatalf("expected error for %q", encoded)
		}
	}
}

func TestVerifyUsesEncodedParams(t *testing.T) {
	weak, _ := NewHasher(testParams())
	encoded, err := weak.Hash("correct-horse")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}

	// A hasher with different current params still verifies old hashes.
	strong, _ := NewHasher(DefaultParams())
	ok, err := strong.Verify("correct-horse", encoded)
	if err != nil || !ok {
		t.Fatalf("expected cross-param verification, got %v %v", ok, err)
	}
}

func TestNeedsRehash(t *testing.T) {
	weak, _ := NewHasher(testParams())
	encoded, err := weak.Hash("correct-horse")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}

	if upgrade, err := weak.NeedsRehash(encoded); err != nil || upgrade {
		t.Fatalf("same params must not need rehash, got %v %v", upgrade, err)
	}

	strong, _ := NewHasher(DefaultParams())
	if upgrade, err := strong.NeedsRehash(encoded); err != nil || !upgrade {
		t.Fatalf("stronger params must need rehash, got %v %v", upgrade, err)
	}
}

func TestNewHasherValidation(t *testing.T) {
	bad := []Params{
		{MemoryKB: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16},
		{MemoryKB: 8192, Iterations: 0, Parallelism: 1, SaltLength: 16, KeyLength: 16},
		{MemoryKB: 8192, Iterations: 1, Parallelism: 0, SaltLength: 16, KeyLength: 16},
		{MemoryKB: 8192, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16},
		{MemoryKB: 8192, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 8},
	}
	for i, p := range bad {
		if _, err := NewHasher(p); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}
