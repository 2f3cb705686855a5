package agreement

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	// ErrNotInitialized is returned by Read before Initialize has succeeded.
	ErrNotInitialized = errors.New("transport key state is not initialized")
	// ErrAlreadyInitialized is returned by a second Initialize call.
	ErrAlreadyInitialized = errors.New("transport key state is already initialized")
)

// KeyState holds the service's transport key for the lifetime of the process.
// It is written once at start-up and read by every seal and open call.
type KeyState struct {
	mu          sync.RWMutex
	rand        io.Reader
	initialized bool
	keys        Ephemeral
}

// NewKeyState returns an empty key state. A nil rand uses crypto/rand.
func NewKeyState(rand io.Reader) *KeyState {
	return &KeyState{rand: rand}
}

// Initialize generates an ephemeral key pair and agrees with the authority's public key.
func (s *KeyState) Initialize(authorityPublic []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return ErrAlreadyInitialized
	}

	private, _, err := GenerateKeyPair(s.rand)
	if err != nil {
		return fmt.Errorf("failed to generate ephemeral key pair: %w", err)
	}

	keys, err := DeriveSharedSecret(private, authorityPublic)
	if err != nil {
		return fmt.Errorf("failed to agree with authority key: %w", err)
	}

	s.keys = keys
	s.initialized = true
	return nil
}

// Read returns a copy of the published public key and the shared secret.
func (s *KeyState) Read() (Ephemeral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return Ephemeral{}, ErrNotInitialized
	}

	return Ephemeral{
		PublicOutKey: append(PublicKey(nil), s.keys.PublicOutKey...),
		SharedSecret: append([]byte(nil), s.keys.SharedSecret...),
	}, nil
}

// PublicOutKey returns only the public half, for endpoints that publish it.
func (s *KeyState) PublicOutKey() (PublicKey, error) {
	keys, err := s.Read()
	if err != nil {
		return nil, err
	}
	zeroize(keys.SharedSecret)
	return keys.PublicOutKey, nil
}

// TransportKey returns a copy of the shared secret that keys the ballot cipher.
func (s *KeyState) TransportKey() ([]byte, error) {
	keys, err := s.Read()
	if err != nil {
		return nil, err
	}
	return keys.SharedSecret, nil
}
