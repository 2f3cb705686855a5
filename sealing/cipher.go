// Package sealing wraps ChaCha20-Poly1305 for ballot sealing.
//
// The nonce is four zero bytes followed by the little-endian sequence number.
// Every ballot is sealed with sequence number 0 under the same transport key,
// which keeps the ciphertext format stable for existing tally readers.
//
// The nonce therefore never changes for a given key. All ballots of one
// process share a keystream: XORing two sealed ballots yields the XOR of their
// plaintexts, and the Poly1305 key repeats, so tags no longer prevent forgery
// by anyone holding two ciphertexts. Since voter identities are public, a
// reader of the sealed tallies can recover choices from that XOR. Callers
// sealing anything else must use a fresh sequence number per message.
package sealing

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeySize   = chacha20poly1305.KeySize
	NonceSize = chacha20poly1305.NonceSize
	TagSize   = chacha20poly1305.Overhead
)

// ErrAuthentication is returned when a ciphertext fails its tag check.
var ErrAuthentication = errors.New("sealed message failed authentication")

// Cipher seals and opens messages under one key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher keys a cipher. key must be KeySize bytes.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cipher key must be %d bytes, got %d", KeySize, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

func nonce(seq uint64) []byte {
	n := make([]byte, NonceSize)
	binary.LittleEndian.PutUint64(n[4:], seq)
	return n
}

// Seal returns plaintext || tag.
func (c *Cipher) Seal(seq uint64, ad, plaintext []byte) []byte {
	return c.aead.Seal(make([]byte, 0, len(plaintext)+TagSize), nonce(seq), plaintext, ad)
}

// Open verifies and decrypts. On failure no plaintext bytes are returned.
func (c *Cipher) Open(seq uint64, ad, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < TagSize {
		return nil, ErrAuthentication
	}
	plaintext, err := c.aead.Open(nil, nonce(seq), ciphertext, ad)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// Seal is a one-shot helper around NewCipher and Cipher.Seal.
func Seal(key []byte, seq uint64, ad, plaintext []byte) ([]byte, error) {
	c, err := NewCipher(key)
	if err != nil {
		return nil, err
	}
	return c.Seal(seq, ad, plaintext), nil
}

// Open is a one-shot helper around NewCipher and Cipher.Open.
func Open(key []byte, seq uint64, ad, ciphertext []byte) ([]byte, error) {
	c, err := NewCipher(key)
	if err != nil {
		return nil, err
	}
	return c.Open(seq, ad, ciphertext)
}
