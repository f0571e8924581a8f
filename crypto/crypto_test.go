package crypto

import (
	"bytes"
	"testing"
)

func TestSignAndVerify(t *testing.T) {
	signer := NewEd25519Signer()
	message := []byte("commit asset state")

	sig, err := signer.Sign(message)
	if err != nil {
		t.Fatalf("Failed to sign message: %v", err)
	}

	if !Verify(signer.PublicKey(), message, sig) {
		t.Error("Expected signature to verify against the signing key")
	}
	if Verify(signer.PublicKey(), []byte("tampered"), sig) {
		t.Error("Expected signature to fail for a different message")
	}

	other := NewEd25519Signer()
	if Verify(other.PublicKey(), message, sig) {
		t.Error("Expected signature to fail against a different key")
	}
}

func TestSignerFromKeyRoundtrip(t *testing.T) {
	signer := NewEd25519Signer()
	restored, err := NewEd25519SignerFromKey(signer.PrivateKeyBytes())
	if err != nil {
		t.Fatalf("Failed to restore signer from key bytes: %v", err)
	}
	if !bytes.Equal(restored.PublicKey(), signer.PublicKey()) {
		t.Error("Expected restored signer to carry the same public key")
	}

	if _, err := NewEd25519SignerFromKey([]byte("short")); err == nil {
		t.Error("Expected error for a truncated private key")
	}
}

func TestVerifyHex(t *testing.T) {
	signer := NewEd25519Signer()
	message := []byte("endorsement")
	sig, err := signer.Sign(message)
	if err != nil {
		t.Fatalf("Failed to sign message: %v", err)
	}

	ok, err := VerifyHex(signer.PublicKeyHex(), message, sig)
	if err != nil {
		t.Fatalf("Failed to verify hex key: %v", err)
	}
	if !ok {
		t.Error("Expected hex-keyed verification to succeed")
	}

	if _, err := VerifyHex("not hex", message, sig); err == nil {
		t.Error("Expected error for malformed hex public key")
	}

	ok, err = VerifyHex("deadbeef", message, sig)
	if err != nil {
		t.Fatalf("Unexpected error for wrong-length key: %v", err)
	}
	if ok {
		t.Error("Expected verification to fail for a wrong-length key")
	}
}

func TestHashHex(t *testing.T) {
	a := HashHex([]byte("payload"))
	b := HashHex([]byte("payload"))
	if a != b {
		t.Errorf("Expected identical hashes for identical input, got %s and %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("Expected 64 hex characters, got %d", len(a))
	}
	if HashHex([]byte("other")) == a {
		t.Error("Expected different inputs to hash differently")
	}
}

func TestRandomBytes(t *testing.T) {
	a, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("Failed to generate random bytes: %v", err)
	}
	b, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("Failed to generate random bytes: %v", err)
	}
	if len(a) != 32 {
		t.Errorf("Expected 32 bytes, got %d", len(a))
	}
	if bytes.Equal(a, b) {
		t.Error("Expected two random draws to differ")
	}
}
