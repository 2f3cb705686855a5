package transactions

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/voting/chaincode/sealedvote/schema"
)

// Signed is an operation together with its signer's Ed25519 signature.
type Signed struct {
	Op        Operation
	Signature []byte
}

// Sign signs op with key. key must belong to op.Signer() for Verify to pass.
func Sign(op Operation, key ed25519.PrivateKey) *Signed {
	return &Signed{Op: op, Signature: ed25519.Sign(key, Message(op))}
}

// Hash is the operation's content hash: SHA-256 over message || signature.
func (s *Signed) Hash() schema.Hash {
	h := sha256.New()
	h.Write(Message(s.Op))
	h.Write(s.Signature)
	var out schema.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Verify checks the signature against the operation's signer.
func (s *Signed) Verify() error {
	if s.Op == nil {
		return errors.New("operation cannot be nil")
	}
	signer := s.Op.Signer()
	if len(s.Signature) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(signer[:]), Message(s.Op), s.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

type envelope struct {
	Kind      string          `json:"kind"`
	Body      json.RawMessage `json:"body"`
	Signature hexutil.Bytes   `json:"signature"`
}

func (s *Signed) MarshalJSON() ([]byte, error) {
	if s.Op == nil {
		return nil, errors.New("operation cannot be nil")
	}
	body, err := json.Marshal(s.Op)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Kind: s.Op.Kind().String(), Body: body, Signature: s.Signature})
}

func (s *Signed) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	kind, err := ParseKind(env.Kind)
	if err != nil {
		return err
	}

	var op Operation
	switch kind {
	case KindRegisterCandidate:
		var v RegisterCandidate
		err = json.Unmarshal(env.Body, &v)
		op = v
	case KindRegisterVoter:
		var v RegisterVoter
		err = json.Unmarshal(env.Body, &v)
		op = v
	case KindCastVote:
		var v CastVote
		err = json.Unmarshal(env.Body, &v)
		op = v
	}
	if err != nil {
		return fmt.Errorf("invalid %s body: %w", kind, err)
	}

	s.Op = op
	s.Signature = env.Signature
	return nil
}

// Decode parses a JSON envelope.
func Decode(data []byte) (*Signed, error) {
	var s Signed
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode operation: %w", err)
	}
	return &s, nil
}
