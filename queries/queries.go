// Package queries answers read requests over committed vote state: entity
// listings, sealed tallies and, for an authorized caller, disclosed tallies.
package queries

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/voting/chaincode/sealedvote/agreement"
	"github.com/voting/chaincode/sealedvote/ledger"
	"github.com/voting/chaincode/sealedvote/metrics"
	"github.com/voting/chaincode/sealedvote/schema"
	"github.com/voting/chaincode/sealedvote/sealing"
)

// PublicKeySource publishes the service's ephemeral public key.
type PublicKeySource interface {
	PublicOutKey() (agreement.PublicKey, error)
}

// Opener decrypts sealed ballots.
type Opener interface {
	Open(sb schema.SealedBallot) (schema.Ballot, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(sb schema.SealedBallot) (schema.Ballot, error)

func (f OpenerFunc) Open(sb schema.SealedBallot) (schema.Ballot, error) { return f(sb) }

// TallyReport lists every sealed tally with the public key an authority
// needs to re-derive the transport key.
type TallyReport struct {
	ServicePublicKey hexutil.Bytes           `json:"service_public_key"`
	Tallies          []schema.CandidateTally `json:"results"`
}

// DisclosedBallot is one opened ballot, or the reason it could not be opened.
type DisclosedBallot struct {
	Ballot *schema.Ballot `json:"ballot,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// DisclosedTally is a candidate's tally in plaintext. Count is the number of
// entries in Ballots, including entries that failed to open.
type DisclosedTally struct {
	Candidate schema.Identity   `json:"candidate"`
	Ballots   []DisclosedBallot `json:"votes"`
	Count     uint64            `json:"vote_num"`
}

// Reader runs queries against one snapshot.
type Reader struct {
	schema *schema.Schema
}

// NewReader returns a reader over view.
func NewReader(view ledger.Snapshot) *Reader {
	return &Reader{schema: schema.New(view)}
}

func (r *Reader) Candidate(id schema.Identity) (*schema.Candidate, error) {
	return r.schema.Candidate(id)
}

func (r *Reader) ListCandidates() ([]schema.Candidate, error) {
	return r.schema.Candidates()
}

func (r *Reader) Voter(id schema.Identity) (*schema.Voter, error) {
	return r.schema.Voter(id)
}

func (r *Reader) ListVoters() ([]schema.Voter, error) {
	return r.schema.Voters()
}

// ListSealedBallots returns every stored ballot, ordered by slot.
func (r *Reader) ListSealedBallots() ([]schema.SealedBallot, error) {
	return r.schema.Ballots()
}

// CandidateTally returns nil, nil for an unknown candidate.
func (r *Reader) CandidateTally(id schema.Identity) (*schema.CandidateTally, error) {
	return r.schema.Tally(id)
}

// VoteReceipt returns nil, nil if no receipt was recorded for the voter.
func (r *Reader) VoteReceipt(voter schema.Identity) (*schema.VoteReceipt, error) {
	return r.schema.Receipt(voter)
}

// AllTallies returns every sealed tally and the service public key.
func (r *Reader) AllTallies(keys PublicKeySource) (*TallyReport, error) {
	public, err := keys.PublicOutKey()
	if err != nil {
		return nil, fmt.Errorf("failed to read service public key: %w", err)
	}
	tallies, err := r.schema.Tallies()
	if err != nil {
		return nil, err
	}
	return &TallyReport{ServicePublicKey: hexutil.Bytes(public), Tallies: tallies}, nil
}

// Disclose opens every tally with the transport key from keys. A missing key
// fails the whole query. Callers gate access; the query itself does not.
func (r *Reader) Disclose(keys sealing.KeySource) ([]DisclosedTally, error) {
	key, err := keys.TransportKey()
	if err != nil {
		return nil, fmt.Errorf("failed to read transport key: %w", err)
	}
	c, err := sealing.NewCipher(key)
	if err != nil {
		return nil, err
	}

	tallies, err := r.schema.Tallies()
	if err != nil {
		return nil, err
	}
	return DiscloseTallies(tallies, OpenerFunc(func(sb schema.SealedBallot) (schema.Ballot, error) {
		return sealing.OpenWith(c, sb)
	})), nil
}

// DiscloseTallies opens the given tallies. A ballot that fails to open is
// reported in place and the rest are still opened.
func DiscloseTallies(tallies []schema.CandidateTally, opener Opener) []DisclosedTally {
	metrics.Disclosures.Inc()

	out := make([]DisclosedTally, 0, len(tallies))
	for _, t := range tallies {
		dt := DisclosedTally{Candidate: t.Candidate, Ballots: make([]DisclosedBallot, 0, len(t.Ballots))}
		for _, sb := range t.Ballots {
			b, err := opener.Open(sb)
			if err != nil {
				metrics.UnsealFailures.Inc()
				dt.Ballots = append(dt.Ballots, DisclosedBallot{Error: err.Error()})
				continue
			}
			dt.Ballots = append(dt.Ballots, DisclosedBallot{Ballot: &b})
		}
		dt.Count = uint64(len(dt.Ballots))
		out = append(out, dt)
	}
	return out
}
