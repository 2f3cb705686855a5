package transactions

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/voting/chaincode/sealedvote/ledger"
	"github.com/voting/chaincode/sealedvote/metrics"
	"github.com/voting/chaincode/sealedvote/schema"
	"github.com/voting/chaincode/sealedvote/sealing"
)

// Result describes the writes of an applied operation.
type Result struct {
	Hash schema.Hash
	Kind Kind
	// Slot and Ballot are set for a cast vote.
	Slot   schema.Hash
	Ballot *schema.SealedBallot
}

// Service executes verified operations against a fork.
type Service struct {
	sealer *sealing.BallotSealer
	logger *zap.Logger
}

// NewService creates a service sealing ballots with sealer.
func NewService(sealer *sealing.BallotSealer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{sealer: sealer, logger: logger}
}

// Execute applies tx to fork. The signature must already have been verified.
// On error the caller discards everything written to fork.
func (s *Service) Execute(fork ledger.Fork, tx *Signed) (*Result, error) {
	res := &Result{Hash: tx.Hash(), Kind: tx.Op.Kind()}

	var err error
	switch op := tx.Op.(type) {
	case RegisterCandidate:
		err = s.registerCandidate(fork, op)
	case RegisterVoter:
		err = s.registerVoter(fork, op)
	case CastVote:
		res.Slot, res.Ballot, err = s.castVote(fork, op)
	default:
		err = fmt.Errorf("unsupported operation %T", tx.Op)
	}

	metrics.Operations.WithLabelValues(res.Kind.String(), resultLabel(err)).Inc()
	if err != nil {
		fields := []zap.Field{
			zap.String("tx_hash", res.Hash.String()),
			zap.Stringer("kind", res.Kind),
			zap.Error(err),
		}
		if IsInvariantViolation(err) {
			s.logger.Error("tally invariant violated", fields...)
		} else {
			s.logger.Debug("operation rejected", fields...)
		}
		return nil, err
	}
	s.logger.Debug("operation applied", zap.String("tx_hash", res.Hash.String()), zap.Stringer("kind", res.Kind))
	return res, nil
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if e, ok := AsExecutionError(err); ok {
		return strconv.Itoa(int(e.Code))
	}
	return "error"
}

func (s *Service) registerCandidate(fork ledger.Fork, op RegisterCandidate) error {
	store := schema.NewMutable(fork)

	existing, err := store.Candidate(op.PubKey)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrCandidateAlreadyExists
	}

	if err := store.PutCandidate(schema.Candidate{PubKey: op.PubKey, Name: op.Name, Info: op.Info}); err != nil {
		return err
	}
	return store.PutTally(schema.NewCandidateTally(op.PubKey))
}

func (s *Service) registerVoter(fork ledger.Fork, op RegisterVoter) error {
	store := schema.NewMutable(fork)

	existing, err := store.Voter(op.PubKey)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrVoterAlreadyExists
	}
	return store.PutVoter(schema.Voter{PubKey: op.PubKey, Name: op.Name})
}

// castVote never reads back what it wrote: some ledgers hide a transaction's
// own pending writes from its reads.
func (s *Service) castVote(fork ledger.Fork, op CastVote) (schema.Hash, *schema.SealedBallot, error) {
	store := schema.NewMutable(fork)
	slot := op.Voter.Hash()

	candidate, err := store.Candidate(op.Candidate)
	if err != nil {
		return slot, nil, err
	}
	if candidate == nil {
		return slot, nil, ErrCandidateNotFound
	}

	voter, err := store.Voter(op.Voter)
	if err != nil {
		return slot, nil, err
	}
	if voter == nil {
		return slot, nil, ErrVoterNotFound
	}

	prior, err := store.Ballot(slot)
	if err != nil {
		return slot, nil, err
	}
	if prior != nil {
		return slot, nil, ErrVoteAlreadyExists
	}

	sealed, err := s.sealer.Seal(schema.Ballot{From: op.Voter, To: op.Candidate})
	if err != nil {
		return slot, nil, invalidEphemeral(err)
	}
	if err := store.PutBallot(slot, sealed); err != nil {
		return slot, nil, err
	}

	tally, err := store.Tally(op.Candidate)
	if err != nil {
		return slot, nil, err
	}
	if tally == nil {
		return slot, nil, ErrCandidateResultNotFound
	}
	tally.Append(sealed)
	if err := store.PutTally(*tally); err != nil {
		return slot, nil, err
	}
	return slot, &sealed, nil
}

// Bind pairs a signed operation with the service so a ledger can order and
// replay it.
func (s *Service) Bind(tx *Signed) ledger.Transaction {
	return &bound{service: s, tx: tx}
}

type bound struct {
	service *Service
	tx      *Signed
}

func (b *bound) Hash() [32]byte { return b.tx.Hash() }
func (b *bound) Verify() error  { return b.tx.Verify() }

func (b *bound) Execute(fork ledger.Fork) error {
	_, err := b.service.Execute(fork, b.tx)
	return err
}

// Unbind returns the signed operation carried by a transaction made with Bind.
func Unbind(tx ledger.Transaction) (*Signed, bool) {
	b, ok := tx.(*bound)
	if !ok {
		return nil, false
	}
	return b.tx, true
}
