package node

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voting/chaincode/sealedvote/agreement"
	"github.com/voting/chaincode/sealedvote/schema"
	"github.com/voting/chaincode/sealedvote/sealing"
	"github.com/voting/chaincode/sealedvote/transactions"
)

type party struct {
	id   schema.Identity
	priv ed25519.PrivateKey
}

func newParty(t *testing.T, seed byte) party {
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
	id, err := schema.IdentityFromBytes(priv.Public().(ed25519.PublicKey))
	require.NoError(t, err)
	return party{id: id, priv: priv}
}

func (p party) candidate(name, info string) *transactions.Signed {
	return transactions.Sign(transactions.RegisterCandidate{PubKey: p.id, Name: name, Info: info}, p.priv)
}

func (p party) voter(name string) *transactions.Signed {
	return transactions.Sign(transactions.RegisterVoter{PubKey: p.id, Name: name}, p.priv)
}

func (p party) vote(candidate schema.Identity) *transactions.Signed {
	return transactions.Sign(transactions.CastVote{Voter: p.id, Candidate: candidate}, p.priv)
}

type testNode struct {
	*Node
	authority *agreement.PrivateKey
}

func newTestNode(t *testing.T) *testNode {
	authority, authorityPublic, err := agreement.GenerateKeyPair(nil)
	require.NoError(t, err)
	keys := agreement.NewKeyState(nil)
	require.NoError(t, keys.Initialize(authorityPublic))
	return &testNode{Node: New(keys, nil), authority: authority}
}

// commit submits txs and creates one block holding them.
func (n *testNode) commit(t *testing.T, txs ...*transactions.Signed) []schema.Hash {
	hashes := make([]schema.Hash, 0, len(txs))
	for _, tx := range txs {
		h, err := n.Submit(tx)
		require.NoError(t, err)
		hashes = append(hashes, h)
	}
	_, err := n.CreateBlock()
	require.NoError(t, err)
	return hashes
}

func (n *testNode) rejection(t *testing.T, hash schema.Hash) transactions.Code {
	st, err := n.TxStatus(hash)
	require.NoError(t, err)
	require.Equal(t, StateRejected, st.State)
	require.NotNil(t, st.Error.Code)
	return *st.Error.Code
}

func TestScenarioSingleVoteDisclosed(t *testing.T) {
	n := newTestNode(t)
	alice := newParty(t, 1)
	bob := newParty(t, 2)

	n.commit(t, alice.candidate("Alice", "x"), bob.voter("Bob"), bob.vote(alice.id))

	disclosed, err := n.Disclose()
	require.NoError(t, err)
	require.Len(t, disclosed, 1)
	assert.Equal(t, alice.id, disclosed[0].Candidate)
	assert.Equal(t, uint64(1), disclosed[0].Count)
	require.Len(t, disclosed[0].Ballots, 1)
	require.NotNil(t, disclosed[0].Ballots[0].Ballot)
	assert.Equal(t, schema.Ballot{From: bob.id, To: alice.id}, *disclosed[0].Ballots[0].Ballot)

	c, err := n.Reader().Candidate(alice.id)
	require.NoError(t, err)
	assert.Equal(t, "Alice", c.Name)
	assert.Equal(t, "x", c.Info)
}

func TestScenarioUnknownCandidate(t *testing.T) {
	n := newTestNode(t)
	alice := newParty(t, 1)
	bob := newParty(t, 2)

	hashes := n.commit(t, bob.voter("Bob"), bob.vote(alice.id))
	assert.Equal(t, transactions.CodeCandidateNotFound, n.rejection(t, hashes[1]))

	ballots, err := n.Reader().ListSealedBallots()
	require.NoError(t, err)
	assert.Empty(t, ballots)
	tallies, err := n.Tallies()
	require.NoError(t, err)
	assert.Empty(t, tallies.Tallies)
}

func TestScenarioUnknownVoter(t *testing.T) {
	n := newTestNode(t)
	alice := newParty(t, 1)
	bob := newParty(t, 2)

	hashes := n.commit(t, alice.candidate("Alice", "x"), bob.vote(alice.id))
	assert.Equal(t, transactions.CodeVoterNotFound, n.rejection(t, hashes[1]))

	ballots, err := n.Reader().ListSealedBallots()
	require.NoError(t, err)
	assert.Empty(t, ballots)
	tally, err := n.Reader().CandidateTally(alice.id)
	require.NoError(t, err)
	assert.Zero(t, tally.Count)
}

func TestScenarioTwoVotersOneCandidate(t *testing.T) {
	n := newTestNode(t)
	alice := newParty(t, 1)
	b1 := newParty(t, 2)
	b2 := newParty(t, 3)

	n.commit(t, alice.candidate("Alice", "x"), b1.voter("B1"), b2.voter("B2"))
	n.commit(t, b1.vote(alice.id), b2.vote(alice.id))

	tally, err := n.Reader().CandidateTally(alice.id)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), tally.Count)
	require.Len(t, tally.Ballots, 2)
	assert.False(t, tally.Ballots[0].Equal(tally.Ballots[1]))

	// The authority opens the ballots from the published service key alone.
	report, err := n.Tallies()
	require.NoError(t, err)
	derived, err := agreement.DeriveSharedSecret(n.authority, report.ServicePublicKey)
	require.NoError(t, err)
	c, err := sealing.NewCipher(derived.SharedSecret)
	require.NoError(t, err)

	var opened []schema.Ballot
	for _, sb := range tally.Ballots {
		b, err := sealing.OpenWith(c, sb)
		require.NoError(t, err)
		opened = append(opened, b)
	}
	assert.ElementsMatch(t, []schema.Ballot{
		{From: b1.id, To: alice.id},
		{From: b2.id, To: alice.id},
	}, opened)
}

func TestDuplicateRegistrationLeavesStateUnchanged(t *testing.T) {
	n := newTestNode(t)
	alice := newParty(t, 1)
	bob := newParty(t, 2)

	n.commit(t, alice.candidate("Alice", "x"), bob.voter("Bob"))
	candidatesBefore, err := n.Reader().ListCandidates()
	require.NoError(t, err)
	votersBefore, err := n.Reader().ListVoters()
	require.NoError(t, err)
	talliesBefore, err := n.Tallies()
	require.NoError(t, err)

	hashes := n.commit(t, alice.candidate("Alice 2", "y"), bob.voter("Bob 2"))
	assert.Equal(t, transactions.CodeCandidateAlreadyExists, n.rejection(t, hashes[0]))
	assert.Equal(t, transactions.CodeVoterAlreadyExists, n.rejection(t, hashes[1]))

	candidatesAfter, err := n.Reader().ListCandidates()
	require.NoError(t, err)
	votersAfter, err := n.Reader().ListVoters()
	require.NoError(t, err)
	talliesAfter, err := n.Tallies()
	require.NoError(t, err)
	assert.Equal(t, candidatesBefore, candidatesAfter)
	assert.Equal(t, votersBefore, votersAfter)
	assert.Equal(t, talliesBefore, talliesAfter)
}

func TestSecondVoteRejected(t *testing.T) {
	n := newTestNode(t)
	alice := newParty(t, 1)
	carol := newParty(t, 3)
	bob := newParty(t, 2)

	n.commit(t, alice.candidate("Alice", "x"), carol.candidate("Carol", "y"), bob.voter("Bob"))
	n.commit(t, bob.vote(alice.id))
	before, err := n.Tallies()
	require.NoError(t, err)

	hashes := n.commit(t, bob.vote(carol.id))
	assert.Equal(t, transactions.CodeVoteAlreadyExists, n.rejection(t, hashes[0]))

	after, err := n.Tallies()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// Replaying the accepted vote is stopped before it reaches the ledger.
	_, err = n.Submit(bob.vote(alice.id))
	assert.Error(t, err)
}

func TestVoteCountMatchesBallots(t *testing.T) {
	n := newTestNode(t)
	alice := newParty(t, 1)

	var voters []party
	for i := 0; i < 5; i++ {
		v := newParty(t, byte(10+i))
		voters = append(voters, v)
		n.commit(t, v.voter("v"))
	}
	n.commit(t, alice.candidate("Alice", "x"))
	for _, v := range voters {
		n.commit(t, v.vote(alice.id))
	}

	tally, err := n.Reader().CandidateTally(alice.id)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(voters)), tally.Count)
	assert.Len(t, tally.Ballots, len(voters))
}

func TestVoteHeightAndTxStatus(t *testing.T) {
	n := newTestNode(t)
	alice := newParty(t, 1)
	bob := newParty(t, 2)

	n.commit(t, alice.candidate("Alice", "x"), bob.voter("Bob"))
	_, err := n.VoteHeight(bob.id)
	assert.ErrorIs(t, err, ErrNotFound)

	vote := bob.vote(alice.id)
	hash, err := n.Submit(vote)
	require.NoError(t, err)
	st, err := n.TxStatus(hash)
	require.NoError(t, err)
	assert.Equal(t, StatePending, st.State)

	_, err = n.CreateBlock()
	require.NoError(t, err)
	height, err := n.VoteHeight(bob.id)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), height)
	assert.Equal(t, uint64(2), n.Height())

	st, err = n.TxStatus(hash)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, st.State)
	assert.Equal(t, uint64(2), st.Location.Height)
	assert.Nil(t, st.Error)

	_, err = n.TxStatus(schema.Hash{1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRun(t *testing.T) {
	n := newTestNode(t)
	alice := newParty(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx, 10*time.Millisecond) }()

	_, err := n.Submit(alice.candidate("Alice", "x"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		c, err := n.Reader().Candidate(alice.id)
		return err == nil && c != nil
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestDiscloseBeforeKeyInitialization(t *testing.T) {
	n := New(agreement.NewKeyState(nil), nil)
	_, err := n.Disclose()
	assert.ErrorIs(t, err, agreement.ErrNotInitialized)
}
