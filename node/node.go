// Package node runs the vote service on the in-memory ordered ledger: it pools
// signed operations, commits them in blocks and answers queries over the
// committed state.
package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/voting/chaincode/sealedvote/agreement"
	"github.com/voting/chaincode/sealedvote/ledger"
	"github.com/voting/chaincode/sealedvote/queries"
	"github.com/voting/chaincode/sealedvote/schema"
	"github.com/voting/chaincode/sealedvote/sealing"
	"github.com/voting/chaincode/sealedvote/transactions"
)

// ErrNotFound is returned by lookups with no result.
var ErrNotFound = errors.New("not found")

// Transaction states reported by TxStatus.
const (
	StatePending   = "pending"
	StateCommitted = "committed"
	StateRejected  = "rejected"
)

// TxError explains a rejected operation. Code is absent for failures that
// are not execution errors.
type TxError struct {
	Code        *transactions.Code `json:"code,omitempty"`
	Description string             `json:"description"`
}

// TxStatus is the state of a submitted operation.
type TxStatus struct {
	State    string           `json:"type"`
	Location *ledger.Location `json:"location,omitempty"`
	Error    *TxError         `json:"error,omitempty"`
}

// Node wires the ledger, the transaction service and the key state.
type Node struct {
	keys    *agreement.KeyState
	service *transactions.Service
	chain   *ledger.Chain
	logger  *zap.Logger
}

// New creates a node. keys must be initialized before votes can be cast.
func New(keys *agreement.KeyState, logger *zap.Logger) *Node {
	if logger == nil {
		logger = zap.NewNop()
	}
	sealer := sealing.NewBallotSealer(keys)
	return &Node{
		keys:    keys,
		service: transactions.NewService(sealer, logger.Named("transactions")),
		chain:   ledger.NewChain(logger.Named("ledger")),
		logger:  logger,
	}
}

// Submit verifies tx and queues it for the next block.
func (n *Node) Submit(tx *transactions.Signed) (schema.Hash, error) {
	if err := n.chain.Submit(n.service.Bind(tx)); err != nil {
		return schema.Hash{}, err
	}
	return tx.Hash(), nil
}

// CreateBlock commits every queued operation.
func (n *Node) CreateBlock() (*ledger.Block, error) {
	return n.chain.CreateBlock()
}

// Height is the latest committed block height.
func (n *Node) Height() uint64 {
	return n.chain.Height()
}

// Run commits a block every interval until ctx is done or the ledger halts.
func (n *Node) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n.chain.PoolSize() == 0 {
				continue
			}
			block, err := n.chain.CreateBlock()
			if err != nil {
				n.logger.Error("block production stopped", zap.Error(err))
				return err
			}
			n.logger.Info("block committed",
				zap.Uint64("height", block.Height),
				zap.Int("transactions", len(block.TxHashes)))
		}
	}
}

// Reader queries the latest committed state.
func (n *Node) Reader() *queries.Reader {
	return queries.NewReader(n.chain.Snapshot())
}

// Tallies returns every sealed tally with the service public key.
func (n *Node) Tallies() (*queries.TallyReport, error) {
	return n.Reader().AllTallies(n.keys)
}

// Disclose opens every committed tally with the node's transport key.
func (n *Node) Disclose() ([]queries.DisclosedTally, error) {
	return n.Reader().Disclose(n.keys)
}

// VoteHeight returns the height of the block holding the voter's applied vote.
func (n *Node) VoteHeight(voter schema.Identity) (uint64, error) {
	var (
		height uint64
		found  bool
	)
	n.chain.Transactions(func(tx ledger.Transaction, st ledger.Status) bool {
		signed, ok := transactions.Unbind(tx)
		if !ok || st.Err != nil {
			return true
		}
		vote, ok := signed.Op.(transactions.CastVote)
		if !ok || vote.Voter != voter {
			return true
		}
		height, found = st.Height, true
		return false
	})
	if !found {
		return 0, fmt.Errorf("vote of %s: %w", voter, ErrNotFound)
	}
	return height, nil
}

// TxStatus reports whether hash is queued, applied or rejected.
func (n *Node) TxStatus(hash schema.Hash) (*TxStatus, error) {
	if n.chain.Pending(hash) {
		return &TxStatus{State: StatePending}, nil
	}
	st, ok := n.chain.Status(hash)
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", hash, ErrNotFound)
	}

	loc := st.Location
	out := &TxStatus{State: StateCommitted, Location: &loc}
	if st.Err != nil {
		out.State = StateRejected
		out.Error = &TxError{Description: st.Err.Error()}
		if e, ok := transactions.AsExecutionError(st.Err); ok {
			code := e.Code
			out.Error.Code = &code
		}
	}
	return out, nil
}
