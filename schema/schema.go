package schema

import (
	"encoding/json"
	"fmt"

	"github.com/voting/chaincode/sealedvote/ledger"
)

// Map prefixes. Identities and hashes are appended in unprefixed lowercase hex,
// so key order matches byte order.
const (
	CandidatesMap = "voteservice.candidates:"
	VotersMap     = "voteservice.voters:"
	BallotsMap    = "voteservice.votes:"
	TalliesMap    = "voteservice.results:"
	ReceiptsMap   = "voteservice.receipts:"
)

func candidateKey(id Identity) string { return CandidatesMap + id.Hex() }
func voterKey(id Identity) string     { return VotersMap + id.Hex() }
func ballotKey(slot Hash) string      { return BallotsMap + slot.Hex() }
func tallyKey(id Identity) string     { return TalliesMap + id.Hex() }
func receiptKey(slot Hash) string     { return ReceiptsMap + slot.Hex() }

// Schema reads entities from a snapshot or a fork.
type Schema struct {
	view ledger.Snapshot
}

// New wraps a read view.
func New(view ledger.Snapshot) *Schema {
	return &Schema{view: view}
}

func get[T any](view ledger.Snapshot, key string) (*T, error) {
	raw, err := view.Get(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if raw == nil {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return &v, nil
}

func list[T any](view ledger.Snapshot, prefix string) ([]T, error) {
	out := make([]T, 0)
	err := view.Iterate(prefix, func(key string, raw []byte) error {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("failed to decode %s: %w", key, err)
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Candidate returns nil when id is not registered.
func (s *Schema) Candidate(id Identity) (*Candidate, error) {
	return get[Candidate](s.view, candidateKey(id))
}

// Candidates lists registered candidates in identity order.
func (s *Schema) Candidates() ([]Candidate, error) {
	return list[Candidate](s.view, CandidatesMap)
}

func (s *Schema) Voter(id Identity) (*Voter, error) {
	return get[Voter](s.view, voterKey(id))
}

func (s *Schema) Voters() ([]Voter, error) {
	return list[Voter](s.view, VotersMap)
}

// Ballot returns the sealed ballot in a voter's slot, or nil if the slot is empty.
func (s *Schema) Ballot(slot Hash) (*SealedBallot, error) {
	return get[SealedBallot](s.view, ballotKey(slot))
}

// Ballots lists sealed ballots in slot order.
func (s *Schema) Ballots() ([]SealedBallot, error) {
	return list[SealedBallot](s.view, BallotsMap)
}

func (s *Schema) Tally(candidate Identity) (*CandidateTally, error) {
	return get[CandidateTally](s.view, tallyKey(candidate))
}

func (s *Schema) Tallies() ([]CandidateTally, error) {
	return list[CandidateTally](s.view, TalliesMap)
}

func (s *Schema) Receipt(voter Identity) (*VoteReceipt, error) {
	return get[VoteReceipt](s.view, receiptKey(voter.Hash()))
}

// MutableSchema adds writes on top of a fork.
type MutableSchema struct {
	*Schema
	fork ledger.Fork
}

// NewMutable wraps a fork.
func NewMutable(fork ledger.Fork) *MutableSchema {
	return &MutableSchema{Schema: New(fork), fork: fork}
}

func put(fork ledger.Fork, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := fork.Put(key, raw); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (m *MutableSchema) PutCandidate(c Candidate) error {
	return put(m.fork, candidateKey(c.PubKey), c)
}

func (m *MutableSchema) PutVoter(v Voter) error {
	return put(m.fork, voterKey(v.PubKey), v)
}

func (m *MutableSchema) PutBallot(slot Hash, b SealedBallot) error {
	return put(m.fork, ballotKey(slot), b)
}

func (m *MutableSchema) PutTally(t CandidateTally) error {
	return put(m.fork, tallyKey(t.Candidate), t)
}

func (m *MutableSchema) PutReceipt(r VoteReceipt) error {
	return put(m.fork, receiptKey(r.Voter.Hash()), r)
}
