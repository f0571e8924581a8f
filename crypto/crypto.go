// Package crypto provides signing and hashing for the asset validator node.
// All node and wallet keys are ed25519; content hashes use tmhash (SHA256).
package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/cometbft/cometbft/crypto/ed25519"
	"github.com/cometbft/cometbft/crypto/tmhash"
)

// Signer signs messages on behalf of a node identity.
type Signer interface {
	Sign(message []byte) ([]byte, error)
	PublicKey() []byte
	Address() string
}

// Ed25519Signer implements Signer over a cometbft ed25519 private key.
type Ed25519Signer struct {
	priv ed25519.PrivKey
}

// NewEd25519Signer creates a signer with a freshly generated key.
func NewEd25519Signer() *Ed25519Signer {
	return &Ed25519Signer{priv: ed25519.GenPrivKey()}
}

// NewEd25519SignerFromKey creates a signer from raw private key bytes.
func NewEd25519SignerFromKey(key []byte) (*Ed25519Signer, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("invalid ed25519 private key length: expected 64, got %d", len(key))
	}
	return &Ed25519Signer{priv: ed25519.PrivKey(key)}, nil
}

// Sign signs a message.
func (s *Ed25519Signer) Sign(message []byte) ([]byte, error) {
	sig, err := s.priv.Sign(message)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	return sig, nil
}

// PublicKey returns the raw public key bytes.
func (s *Ed25519Signer) PublicKey() []byte {
	return s.priv.PubKey().Bytes()
}

// PublicKeyHex returns the public key as a hex string, the form stored in
// asset signer lists and token owner fields.
func (s *Ed25519Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.PublicKey())
}

// Address returns the signer's node address, derived from the public key.
func (s *Ed25519Signer) Address() string {
	return s.priv.PubKey().Address().String()
}

// PrivateKeyBytes returns the raw private key for persistence.
func (s *Ed25519Signer) PrivateKeyBytes() []byte {
	return s.priv.Bytes()
}

// Verify checks an ed25519 signature against a message and raw public key.
func Verify(publicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PubKeySize {
		return false
	}
	return ed25519.PubKey(publicKey).VerifySignature(message, signature)
}

// VerifyHex checks a signature against a hex-encoded public key.
func VerifyHex(publicKeyHex string, message, signature []byte) (bool, error) {
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return false, fmt.Errorf("invalid public key hex: %w", err)
	}
	return Verify(pub, message, signature), nil
}

// Hash computes the content hash of data.
func Hash(data []byte) []byte {
	return tmhash.Sum(data)
}

// HashHex computes the content hash and returns it hex-encoded.
func HashHex(data []byte) string {
	return hex.EncodeToString(Hash(data))
}

// RandomBytes generates cryptographically random bytes.
func RandomBytes(length int) ([]byte, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return bytes, nil
}
