package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestDeriveKey(t *testing.T) {
	secret := []byte("audit-seal-secret")
	key, err := DeriveKey(secret, "clipguard-audit-v1")
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("expected 32 bytes, got %d", len(key))
	}
	// Same inputs → same key (deterministic)
	key2, _ := DeriveKey(secret, "clipguard-audit-v1")
	if !bytes.Equal(key, key2) {
		t.Error("key derivation should be deterministic")
	}
	// Different context → different key
	key3, _ := DeriveKey(secret, "clipguard-audit-v2")
	if bytes.Equal(key, key3) {
		t.Error("different contexts should yield different keys")
	}
}

func TestSignAndVerifyHMAC(t *testing.T) {
	key := []byte("shared-secret")
	msg := []byte(`1700000000.{"jobId":"j1","status":"done"}`)

	sig := SignHMAC(key, msg)
	if len(sig) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(sig))
	}
	if !VerifyHMAC(key, msg, sig) {
		t.Error("valid signature rejected")
	}
	if !VerifyHMAC(key, msg, strings.ToUpper(sig)) {
		t.Error("hex case should not matter")
	}

	tampered := append([]byte(nil), msg...)
	tampered[len(tampered)-2] = 'X'
	if VerifyHMAC(key, tampered, sig) {
		t.Error("signature accepted for altered message")
	}
	if VerifyHMAC([]byte("other-secret"), msg, sig) {
		t.Error("signature accepted under wrong key")
	}
	if VerifyHMAC(key, msg, "not-hex") {
		t.Error("garbage signature accepted")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !ConstantTimeEqual([]byte("abc"), []byte("abc")) {
		t.Error("equal inputs reported unequal")
	}
	if ConstantTimeEqual([]byte("abc"), []byte("abd")) {
		t.Error("different inputs reported equal")
	}
	if ConstantTimeEqual([]byte("abc"), []byte("abcd")) {
		t.Error("different lengths reported equal")
	}
}

func TestHashTokenAndRandomToken(t *testing.T) {
	tok, err := RandomToken(32)
	if err != nil {
		t.Fatalf("RandomToken failed: %v", err)
	}
	tok2, _ := RandomToken(32)
	if tok == tok2 {
		t.Error("two random tokens should differ")
	}
	if HashToken(tok) != HashToken(tok) {
		t.Error("hash should be deterministic")
	}
	if HashToken(tok) == HashToken(tok2) {
		t.Error("different tokens should hash differently")
	}
}
