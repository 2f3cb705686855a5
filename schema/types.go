// Package schema holds the vote service's entities and typed accessors over
// the ledger's ordered maps: candidates, voters, ballots and tallies.
package schema

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// IdentitySize is the size of an Ed25519 public key.
const IdentitySize = 32

// BallotSize is the binary size of a plain ballot.
const BallotSize = 2 * IdentitySize

// Identity names a candidate or voter. It is the Ed25519 verification key of
// whoever signs their operations.
type Identity [IdentitySize]byte

// ParseIdentity decodes a hex identity with or without the 0x prefix.
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	b, err := decodeHex(s)
	if err != nil {
		return id, fmt.Errorf("invalid identity: %w", err)
	}
	if len(b) != IdentitySize {
		return id, fmt.Errorf("invalid identity: want %d bytes, got %d", IdentitySize, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// IdentityFromBytes copies b into an Identity.
func IdentityFromBytes(b []byte) (Identity, error) {
	var id Identity
	if len(b) != IdentitySize {
		return id, fmt.Errorf("invalid identity: want %d bytes, got %d", IdentitySize, len(b))
	}
	copy(id[:], b)
	return id, nil
}

func (id Identity) Bytes() []byte { return append([]byte(nil), id[:]...) }

// Hex is the unprefixed lowercase form used in store keys.
func (id Identity) Hex() string { return hex.EncodeToString(id[:]) }

func (id Identity) String() string { return hexutil.Encode(id[:]) }

// Hash is the content hash of the identity; it keys the voter's ballot slot.
func (id Identity) Hash() Hash { return sha256.Sum256(id[:]) }

func (id Identity) MarshalText() ([]byte, error) {
	return []byte(hexutil.Encode(id[:])), nil
}

func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Hash is a SHA-256 digest.
type Hash [sha256.Size]byte

// ParseHash decodes a hex digest with or without the 0x prefix.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := decodeHex(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("invalid hash: want %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

func (h Hash) Hex() string    { return hex.EncodeToString(h[:]) }
func (h Hash) String() string { return hexutil.Encode(h[:]) }

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(hexutil.Encode(h[:])), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

// Candidate is a registered candidate.
type Candidate struct {
	PubKey Identity `json:"pub_key"`
	Name   string   `json:"name"`
	Info   string   `json:"info"`
}

// Voter is a registered voter.
type Voter struct {
	PubKey Identity `json:"pub_key"`
	Name   string   `json:"name"`
}

// Ballot is a plain vote. It only exists while being sealed or after disclosure.
type Ballot struct {
	From Identity `json:"from"`
	To   Identity `json:"to"`
}

// MarshalBinary encodes the ballot as from || to.
func (b Ballot) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, BallotSize)
	out = append(out, b.From[:]...)
	out = append(out, b.To[:]...)
	return out, nil
}

func (b *Ballot) UnmarshalBinary(data []byte) error {
	if len(data) != BallotSize {
		return fmt.Errorf("invalid ballot: want %d bytes, got %d", BallotSize, len(data))
	}
	copy(b.From[:], data[:IdentitySize])
	copy(b.To[:], data[IdentitySize:])
	return nil
}

// SealedBallot is an authenticated-encryption ciphertext of a Ballot.
type SealedBallot struct {
	Data hexutil.Bytes `json:"data"`
}

// Hash identifies the ciphertext, e.g. in vote receipts.
func (s SealedBallot) Hash() Hash { return sha256.Sum256(s.Data) }

func (s SealedBallot) Equal(o SealedBallot) bool { return bytes.Equal(s.Data, o.Data) }

// CandidateTally aggregates the sealed ballots cast for one candidate.
// Count always equals len(Ballots).
type CandidateTally struct {
	Candidate Identity       `json:"candidate"`
	Ballots   []SealedBallot `json:"votes"`
	Count     uint64         `json:"vote_num"`
}

// NewCandidateTally returns the empty tally created alongside a candidate.
func NewCandidateTally(candidate Identity) CandidateTally {
	return CandidateTally{Candidate: candidate, Ballots: []SealedBallot{}, Count: 0}
}

// Append adds a ballot and keeps Count in step.
func (t *CandidateTally) Append(b SealedBallot) {
	t.Ballots = append(t.Ballots, b)
	t.Count = uint64(len(t.Ballots))
}

// VoteReceipt records where a voter's ballot was committed on a ledger that
// cannot report block heights to the contract itself.
type VoteReceipt struct {
	Voter      Identity `json:"voter"`
	BallotHash Hash     `json:"ballot_hash"`
	TxID       string   `json:"tx_id"`
	Timestamp  int64    `json:"timestamp"`
}
