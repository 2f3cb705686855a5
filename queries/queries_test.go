package queries

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voting/chaincode/sealedvote/agreement"
	"github.com/voting/chaincode/sealedvote/ledger"
	"github.com/voting/chaincode/sealedvote/schema"
	"github.com/voting/chaincode/sealedvote/sealing"
)

func identity(b byte) schema.Identity {
	var id schema.Identity
	for i := range id {
		id[i] = b
	}
	return id
}

type fixture struct {
	store  *ledger.Store
	sealer *sealing.BallotSealer
	keys   *agreement.KeyState
}

func newFixture(t *testing.T) *fixture {
	_, authorityPublic, err := agreement.GenerateKeyPair(nil)
	require.NoError(t, err)
	keys := agreement.NewKeyState(nil)
	require.NoError(t, keys.Initialize(authorityPublic))
	return &fixture{store: ledger.NewStore(), sealer: sealing.NewBallotSealer(keys), keys: keys}
}

// seed writes candidates with the given votes directly through the schema.
func (f *fixture) seed(t *testing.T, votes map[byte][]byte) {
	fork := f.store.Fork()
	m := schema.NewMutable(fork)
	for candidate, voters := range votes {
		cid := identity(candidate)
		require.NoError(t, m.PutCandidate(schema.Candidate{PubKey: cid, Name: "c"}))
		tally := schema.NewCandidateTally(cid)
		for _, v := range voters {
			vid := identity(v)
			require.NoError(t, m.PutVoter(schema.Voter{PubKey: vid, Name: "v"}))
			sb, err := f.sealer.Seal(schema.Ballot{From: vid, To: cid})
			require.NoError(t, err)
			require.NoError(t, m.PutBallot(vid.Hash(), sb))
			tally.Append(sb)
		}
		require.NoError(t, m.PutTally(tally))
	}
	f.store.Commit(fork)
}

func TestListings(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[byte][]byte{0x10: {1, 2}, 0x20: {3}})
	r := NewReader(f.store.Snapshot())

	candidates, err := r.ListCandidates()
	require.NoError(t, err)
	assert.Len(t, candidates, 2)

	voters, err := r.ListVoters()
	require.NoError(t, err)
	assert.Len(t, voters, 3)

	ballots, err := r.ListSealedBallots()
	require.NoError(t, err)
	assert.Len(t, ballots, 3)

	tally, err := r.CandidateTally(identity(0x10))
	require.NoError(t, err)
	require.NotNil(t, tally)
	assert.Equal(t, uint64(2), tally.Count)

	missing, err := r.CandidateTally(identity(0x99))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAllTallies(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[byte][]byte{0x10: {1}})

	report, err := NewReader(f.store.Snapshot()).AllTallies(f.keys)
	require.NoError(t, err)
	public, err := f.keys.PublicOutKey()
	require.NoError(t, err)
	assert.Equal(t, []byte(public), []byte(report.ServicePublicKey))
	require.Len(t, report.Tallies, 1)

	_, err = NewReader(f.store.Snapshot()).AllTallies(agreement.NewKeyState(nil))
	assert.ErrorIs(t, err, agreement.ErrNotInitialized)
}

func TestDisclose(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[byte][]byte{0x10: {1, 2}, 0x20: {3}})

	disclosed, err := NewReader(f.store.Snapshot()).Disclose(f.keys)
	require.NoError(t, err)
	require.Len(t, disclosed, 2)

	byCandidate := map[schema.Identity]DisclosedTally{}
	for _, d := range disclosed {
		byCandidate[d.Candidate] = d
	}
	first := byCandidate[identity(0x10)]
	assert.Equal(t, uint64(2), first.Count)
	for _, b := range first.Ballots {
		require.NotNil(t, b.Ballot)
		assert.Empty(t, b.Error)
		assert.Equal(t, identity(0x10), b.Ballot.To)
	}
	assert.Equal(t, identity(3), byCandidate[identity(0x20)].Ballots[0].Ballot.From)
}

func TestDiscloseFailsWithoutTransportKey(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[byte][]byte{0x10: {1, 2}})

	disclosed, err := NewReader(f.store.Snapshot()).Disclose(agreement.NewKeyState(nil))
	assert.ErrorIs(t, err, agreement.ErrNotInitialized)
	assert.Nil(t, disclosed)
}

func TestDiscloseReportsTamperedBallots(t *testing.T) {
	f := newFixture(t)
	good, err := f.sealer.Seal(schema.Ballot{From: identity(1), To: identity(9)})
	require.NoError(t, err)
	bad := schema.SealedBallot{Data: bytes.Clone(good.Data)}
	bad.Data[0] ^= 0xff

	tally := schema.NewCandidateTally(identity(9))
	tally.Append(bad)
	tally.Append(good)

	out := DiscloseTallies([]schema.CandidateTally{tally}, f.sealer)
	require.Len(t, out, 1)
	require.Len(t, out[0].Ballots, 2)
	assert.Equal(t, uint64(2), out[0].Count)
	assert.Nil(t, out[0].Ballots[0].Ballot)
	assert.Equal(t, sealing.ErrAuthentication.Error(), out[0].Ballots[0].Error)
	require.NotNil(t, out[0].Ballots[1].Ballot)
	assert.Equal(t, identity(1), out[0].Ballots[1].Ballot.From)
}

func TestDiscloseWithAuthorityKey(t *testing.T) {
	authority, authorityPublic, err := agreement.GenerateKeyPair(nil)
	require.NoError(t, err)
	keys := agreement.NewKeyState(nil)
	require.NoError(t, keys.Initialize(authorityPublic))
	f := &fixture{store: ledger.NewStore(), sealer: sealing.NewBallotSealer(keys), keys: keys}
	f.seed(t, map[byte][]byte{0x10: {1}})

	report, err := NewReader(f.store.Snapshot()).AllTallies(keys)
	require.NoError(t, err)
	derived, err := agreement.DeriveSharedSecret(authority, report.ServicePublicKey)
	require.NoError(t, err)
	c, err := sealing.NewCipher(derived.SharedSecret)
	require.NoError(t, err)

	out := DiscloseTallies(report.Tallies, OpenerFunc(func(sb schema.SealedBallot) (schema.Ballot, error) {
		return sealing.OpenWith(c, sb)
	}))
	require.Len(t, out, 1)
	require.NotNil(t, out[0].Ballots[0].Ballot)
	assert.Equal(t, schema.Ballot{From: identity(1), To: identity(0x10)}, *out[0].Ballots[0].Ballot)
}
