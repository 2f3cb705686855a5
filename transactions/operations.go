// Package transactions implements the vote service's operations: register a
// candidate, register a voter and cast a vote. Each operation is signed by the
// identity it concerns, verified before it touches state, and executed against
// a ledger fork as one atomic unit.
package transactions

import (
	"encoding/binary"
	"fmt"

	"github.com/voting/chaincode/sealedvote/schema"
)

// Kind tags an operation variant.
type Kind uint8

const (
	KindRegisterCandidate Kind = 1
	KindRegisterVoter     Kind = 2
	KindCastVote          Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindRegisterCandidate:
		return "register_candidate"
	case KindRegisterVoter:
		return "register_voter"
	case KindCastVote:
		return "cast_vote"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "register_candidate":
		return KindRegisterCandidate, nil
	case "register_voter":
		return KindRegisterVoter, nil
	case "cast_vote":
		return KindCastVote, nil
	default:
		return 0, fmt.Errorf("unknown operation kind %q", s)
	}
}

// Operation is one of RegisterCandidate, RegisterVoter or CastVote.
type Operation interface {
	Kind() Kind
	// Signer is the identity whose key must sign the operation.
	Signer() schema.Identity
	appendBinary(b []byte) []byte
}

// RegisterCandidate creates a candidate and its empty tally.
type RegisterCandidate struct {
	PubKey schema.Identity `json:"pub_key"`
	Name   string          `json:"name"`
	Info   string          `json:"info"`
}

func (RegisterCandidate) Kind() Kind                { return KindRegisterCandidate }
func (op RegisterCandidate) Signer() schema.Identity { return op.PubKey }

func (op RegisterCandidate) appendBinary(b []byte) []byte {
	b = append(b, op.PubKey[:]...)
	b = appendString(b, op.Name)
	return appendString(b, op.Info)
}

// RegisterVoter creates a voter.
type RegisterVoter struct {
	PubKey schema.Identity `json:"pub_key"`
	Name   string          `json:"name"`
}

func (RegisterVoter) Kind() Kind                { return KindRegisterVoter }
func (op RegisterVoter) Signer() schema.Identity { return op.PubKey }

func (op RegisterVoter) appendBinary(b []byte) []byte {
	b = append(b, op.PubKey[:]...)
	return appendString(b, op.Name)
}

// CastVote records a sealed ballot from Voter for Candidate.
type CastVote struct {
	Voter     schema.Identity `json:"voter_id"`
	Candidate schema.Identity `json:"candidate_id"`
}

func (CastVote) Kind() Kind                { return KindCastVote }
func (op CastVote) Signer() schema.Identity { return op.Voter }

func (op CastVote) appendBinary(b []byte) []byte {
	b = append(b, op.Voter[:]...)
	return append(b, op.Candidate[:]...)
}

func appendString(b []byte, s string) []byte {
	b = binary.AppendUvarint(b, uint64(len(s)))
	return append(b, s...)
}

// messagePrefix separates vote-service signatures from any other use of the same key.
const messagePrefix = "sealedvote/v1"

// Message is the canonical byte string an operation's signature covers.
func Message(op Operation) []byte {
	b := make([]byte, 0, len(messagePrefix)+1+2*schema.IdentitySize+16)
	b = append(b, messagePrefix...)
	b = append(b, byte(op.Kind()))
	return op.appendBinary(b)
}
