// Package agreement derives the symmetric transport key that seals ballots.
//
// The service generates an ephemeral X25519 key pair once at start-up and runs a
// single Diffie-Hellman exchange against the tallying authority's long-lived
// public key. The resulting shared secret keys the ballot cipher; the ephemeral
// public key is published so the authority can re-derive the same secret with
// its own private key.
package agreement

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"

	"golang.org/x/crypto/curve25519"
)

const (
	// PublicKeySize is the length of an X25519 public point.
	PublicKeySize = curve25519.PointSize
	// PrivateKeySize is the length of an X25519 scalar.
	PrivateKeySize = curve25519.ScalarSize
	// SharedSecretSize is the length of the raw agreement output.
	SharedSecretSize = 32
)

var (
	// ErrKeyConsumed is returned when an ephemeral private key is used for a second agreement.
	ErrKeyConsumed = errors.New("ephemeral private key already consumed")
	// ErrInvalidPeerKey is returned for peer public keys of the wrong size or low order.
	ErrInvalidPeerKey = errors.New("invalid peer public key")
)

// PublicKey is an X25519 public point.
type PublicKey []byte

// Ephemeral is the outcome of one key agreement: the caller's public point for
// publication and the shared secret for the transport cipher.
type Ephemeral struct {
	PublicOutKey PublicKey
	SharedSecret []byte
}

// PrivateKey is an ephemeral X25519 scalar. It can take part in exactly one
// agreement; DeriveSharedSecret wipes it afterwards.
type PrivateKey struct {
	mu       sync.Mutex
	scalar   []byte
	consumed bool
}

// GenerateKeyPair creates a fresh ephemeral key pair from r, or crypto/rand when r is nil.
// An error means the process cannot provide confidentiality and must not continue.
func GenerateKeyPair(r io.Reader) (*PrivateKey, PublicKey, error) {
	if r == nil {
		r = rand.Reader
	}

	scalar := make([]byte, PrivateKeySize)
	if _, err := io.ReadFull(r, scalar); err != nil {
		return nil, nil, fmt.Errorf("failed to read private scalar: %w", err)
	}

	public, err := curve25519.X25519(scalar, curve25519.Basepoint)
	if err != nil {
		zeroize(scalar)
		return nil, nil, fmt.Errorf("failed to compute public key: %w", err)
	}

	return &PrivateKey{scalar: scalar}, public, nil
}

// NewPrivateKey wraps an existing scalar, e.g. the authority key loaded from a keyring.
// The scalar is copied.
func NewPrivateKey(scalar []byte) (*PrivateKey, error) {
	if len(scalar) != PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", PrivateKeySize, len(scalar))
	}
	return &PrivateKey{scalar: append([]byte(nil), scalar...)}, nil
}

// PublicKey recomputes the public point. It fails once the key has been consumed.
func (k *PrivateKey) PublicKey() (PublicKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.consumed {
		return nil, ErrKeyConsumed
	}
	public, err := curve25519.X25519(k.scalar, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to compute public key: %w", err)
	}
	return public, nil
}

// take hands the scalar to exactly one caller and marks the key consumed.
func (k *PrivateKey) take() ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.consumed {
		return nil, ErrKeyConsumed
	}
	k.consumed = true
	scalar := k.scalar
	k.scalar = nil
	return scalar, nil
}

// DeriveSharedSecret performs the ephemeral exchange between own and peer.
// own is consumed whether or not the exchange succeeds.
func DeriveSharedSecret(own *PrivateKey, peer []byte) (Ephemeral, error) {
	if own == nil {
		return Ephemeral{}, errors.New("private key cannot be nil")
	}

	scalar, err := own.take()
	if err != nil {
		return Ephemeral{}, err
	}
	defer zeroize(scalar)

	if len(peer) != PublicKeySize {
		return Ephemeral{}, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidPeerKey, PublicKeySize, len(peer))
	}

	public, err := curve25519.X25519(scalar, curve25519.Basepoint)
	if err != nil {
		return Ephemeral{}, fmt.Errorf("failed to compute public key: %w", err)
	}

	// X25519 rejects low-order points with an all-zero output.
	secret, err := curve25519.X25519(scalar, peer)
	if err != nil {
		return Ephemeral{}, fmt.Errorf("%w: %v", ErrInvalidPeerKey, err)
	}

	return Ephemeral{PublicOutKey: public, SharedSecret: secret}, nil
}

// zeroize overwrites secret material once it is no longer needed.
func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
