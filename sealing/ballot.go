package sealing

import (
	"fmt"

	"github.com/voting/chaincode/sealedvote/schema"
)

// ballotSeq is the sequence number every ballot is sealed with.
const ballotSeq = 0

// SealedBallotSize is the ciphertext size of one ballot.
const SealedBallotSize = schema.BallotSize + TagSize

// KeySource supplies the shared transport key; *agreement.KeyState satisfies it.
type KeySource interface {
	TransportKey() ([]byte, error)
}

// KeyFunc adapts a function to KeySource.
type KeyFunc func() ([]byte, error)

func (f KeyFunc) TransportKey() ([]byte, error) { return f() }

// BallotSealer seals and opens ballots with the process transport key.
type BallotSealer struct {
	keys KeySource
}

// NewBallotSealer returns a sealer reading the key from keys on every call.
func NewBallotSealer(keys KeySource) *BallotSealer {
	return &BallotSealer{keys: keys}
}

func (s *BallotSealer) cipher() (*Cipher, error) {
	key, err := s.keys.TransportKey()
	if err != nil {
		return nil, fmt.Errorf("failed to read transport key: %w", err)
	}
	return NewCipher(key)
}

// Seal encrypts b with sequence number 0 and no associated data.
func (s *BallotSealer) Seal(b schema.Ballot) (schema.SealedBallot, error) {
	c, err := s.cipher()
	if err != nil {
		return schema.SealedBallot{}, err
	}
	raw, err := b.MarshalBinary()
	if err != nil {
		return schema.SealedBallot{}, err
	}
	return schema.SealedBallot{Data: c.Seal(ballotSeq, nil, raw)}, nil
}

// Open decrypts a sealed ballot.
func (s *BallotSealer) Open(sb schema.SealedBallot) (schema.Ballot, error) {
	c, err := s.cipher()
	if err != nil {
		return schema.Ballot{}, err
	}
	return OpenWith(c, sb)
}

// OpenWith decrypts a sealed ballot with an explicit cipher, e.g. one keyed by
// the authority after re-deriving the transport key.
func OpenWith(c *Cipher, sb schema.SealedBallot) (schema.Ballot, error) {
	var b schema.Ballot
	raw, err := c.Open(ballotSeq, nil, sb.Data)
	if err != nil {
		return b, err
	}
	if err := b.UnmarshalBinary(raw); err != nil {
		return b, err
	}
	return b, nil
}
