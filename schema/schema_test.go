package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voting/chaincode/sealedvote/ledger"
)

func identity(b byte) Identity {
	var id Identity
	for i := range id {
		id[i] = b
	}
	return id
}

func TestIdentityText(t *testing.T) {
	id := identity(0xab)
	text, err := id.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "0x"+id.Hex(), string(text))

	parsed, err := ParseIdentity(id.Hex())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseIdentity("0x1234")
	assert.Error(t, err)
	_, err = ParseIdentity("zz")
	assert.Error(t, err)
}

func TestBallotBinary(t *testing.T) {
	b := Ballot{From: identity(1), To: identity(2)}
	raw, err := b.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, raw, BallotSize)

	var decoded Ballot
	require.NoError(t, decoded.UnmarshalBinary(raw))
	assert.Equal(t, b, decoded)
	assert.Error(t, decoded.UnmarshalBinary(raw[:10]))
}

func TestTallyAppendKeepsCount(t *testing.T) {
	tally := NewCandidateTally(identity(3))
	tally.Append(SealedBallot{Data: []byte{1}})
	tally.Append(SealedBallot{Data: []byte{2}})
	assert.Equal(t, uint64(2), tally.Count)
	assert.Len(t, tally.Ballots, 2)

	raw, err := json.Marshal(NewCandidateTally(identity(4)))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"votes":[]`)
}

func TestSchemaReadWrite(t *testing.T) {
	store := ledger.NewStore()
	fork := store.Fork()
	m := NewMutable(fork)

	alice := Candidate{PubKey: identity(2), Name: "Alice", Info: "x"}
	carol := Candidate{PubKey: identity(1), Name: "Carol"}
	bob := Voter{PubKey: identity(9), Name: "Bob"}

	require.NoError(t, m.PutCandidate(alice))
	require.NoError(t, m.PutCandidate(carol))
	require.NoError(t, m.PutVoter(bob))
	require.NoError(t, m.PutTally(NewCandidateTally(alice.PubKey)))
	require.NoError(t, m.PutBallot(bob.PubKey.Hash(), SealedBallot{Data: []byte{0xde, 0xad}}))
	store.Commit(fork)

	s := New(store.Snapshot())

	got, err := s.Candidate(alice.PubKey)
	require.NoError(t, err)
	assert.Equal(t, &alice, got)

	missing, err := s.Candidate(identity(7))
	require.NoError(t, err)
	assert.Nil(t, missing)

	candidates, err := s.Candidates()
	require.NoError(t, err)
	assert.Equal(t, []Candidate{carol, alice}, candidates)

	voter, err := s.Voter(bob.PubKey)
	require.NoError(t, err)
	assert.Equal(t, "Bob", voter.Name)

	ballot, err := s.Ballot(bob.PubKey.Hash())
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad}, []byte(ballot.Data))

	empty, err := s.Ballot(alice.PubKey.Hash())
	require.NoError(t, err)
	assert.Nil(t, empty)

	tallies, err := s.Tallies()
	require.NoError(t, err)
	require.Len(t, tallies, 1)
	assert.Equal(t, alice.PubKey, tallies[0].Candidate)

	voters, err := s.Voters()
	require.NoError(t, err)
	assert.Len(t, voters, 1)
}

func TestSchemaListsEmptyMaps(t *testing.T) {
	s := New(ledger.NewStore().Snapshot())
	ballots, err := s.Ballots()
	require.NoError(t, err)
	assert.NotNil(t, ballots)
	assert.Empty(t, ballots)
}
