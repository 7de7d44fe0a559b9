package stepauth

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestGenerateRecoveryCodesBatch(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	batch, err := te.engine.GenerateRecoveryCodes(ctx, "u1")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(batch) != defaultRecoveryCount {
		t.Fatalf("expected %d codes, got %d", defaultRecoveryCount, len(batch))
	}

	seen := make(map[string]bool)
	for _, code := range batch {
		if len(code) != 11 || code[5] != '-' {
			t.Fatalf("expected XXXXX-XXXXX format, got %q", code)
		}
		if seen[code] {
			t.Fatalf("duplicate code %q in batch", code)
		}
		seen[code] = true
	}

	remaining, err := te.engine.RemainingRecoveryCodes(ctx, "u1")
	if err != nil || remaining != defaultRecoveryCount {
		t.Fatalf("expected %d unused, got %d (%v)", defaultRecoveryCount, remaining, err)
	}
}

func TestGenerateRecoveryCodesInvalidatesPriorBatch(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	first, err := te.engine.GenerateRecoveryCodes(ctx, "u1")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if _, err := te.engine.GenerateRecoveryCodes(ctx, "u1"); err != nil {
		t.Fatalf("regenerate failed: %v", err)
	}

	if err := te.engine.VerifyRecoveryCode(ctx, "u1", first[0]); !errors.Is(err, ErrRecoveryCodeInvalid) {
		t.Fatalf("codes from the replaced batch must be dead, got %v", err)
	}
}

func TestVerifyRecoveryCodeSingleUse(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	batch, err := te.engine.GenerateRecoveryCodes(ctx, "u1")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if err := te.engine.VerifyRecoveryCode(ctx, "u1", batch[0]); err != nil {
		t.Fatalf("first use must pass: %v", err)
	}
	if err := te.engine.VerifyRecoveryCode(ctx, "u1", batch[0]); !errors.Is(err, ErrRecoveryCodeInvalid) {
		t.Fatalf("replay must fail, got %v", err)
	}

	remaining, err := te.engine.RemainingRecoveryCodes(ctx, "u1")
	if err != nil || remaining != defaultRecoveryCount-1 {
		t.Fatalf("expected %d unused, got %d (%v)", defaultRecoveryCount-1, remaining, err)
	}
}

func TestVerifyRecoveryCodeNormalizesInput(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	batch, err := te.engine.GenerateRecoveryCodes(ctx, "u1")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	// Lowercase without the dash, with stray spaces, must still match.
	mangled := "  " + strings.ToLower(strings.ReplaceAll(batch[1], "-", "")) + " "
	if err := te.engine.VerifyRecoveryCode(ctx, "u1", mangled); err != nil {
		t.Fatalf("normalized input must verify: %v", err)
	}
}

func TestVerifyRecoveryCodeUniformRejection(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	if _, err := te.engine.GenerateRecoveryCodes(ctx, "u1"); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	// Unknown code, unknown subject, and garbage all answer the same
	// sentinel.
	for _, tc := range []struct{ userID, code string }{
		{"u1", "AAAAA-AAAAA"},
		{"nobody", "AAAAA-AAAAA"},
		{"u1", "not a code"},
	} {
		if err := te.engine.VerifyRecoveryCode(ctx, tc.userID, tc.code); !errors.Is(err, ErrRecoveryCodeInvalid) {
			t.Fatalf("(%s, %q): expected ErrRecoveryCodeInvalid, got %v", tc.userID, tc.code, err)
		}
	}
}

func TestRecoveryStoreNeverSeesPlaintext(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	batch, err := te.engine.GenerateRecoveryCodes(ctx, "u1")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	te.recovery.mu.Lock()
	defer te.recovery.mu.Unlock()
	for hash := range te.recovery.hashes["u1"] {
		if len(hash) != 64 {
			t.Fatalf("expected 64-char hex hash, got %q", hash)
		}
		for _, code := range batch {
			if hash == code || strings.Contains(hash, strings.ReplaceAll(code, "-", "")) {
				t.Fatal("plaintext leaked into the store")
			}
		}
	}
}
