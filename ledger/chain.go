package ledger

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voting/chaincode/sealedvote/metrics"
)

var (
	// ErrDuplicateTransaction is returned when a transaction is already pooled or committed.
	ErrDuplicateTransaction = errors.New("transaction already submitted")
	// ErrHalted is returned once a fatal execution error has stopped block production.
	ErrHalted = errors.New("ledger halted after fatal execution error")
)

// Location is where a committed transaction lives.
type Location struct {
	Height uint64 `json:"block_height"`
	Index  uint32 `json:"position_in_block"`
}

// Status is the recorded outcome of a committed transaction.
type Status struct {
	Location
	// Err is nil for an applied transaction.
	Err error `json:"-"`
}

// Block is a committed batch of transactions.
type Block struct {
	Height    uint64
	Timestamp time.Time
	TxHashes  [][32]byte
}

// Chain is a single-node ordered ledger. Transactions are pooled by Submit and
// executed one at a time, in submission order, when a block is created.
type Chain struct {
	mu     sync.Mutex
	logger *zap.Logger
	now    func() time.Time

	store    *Store
	pool     []Transaction
	pooled   map[[32]byte]bool
	blocks   []Block
	order    []Transaction
	statuses map[[32]byte]Status
	halted   error
}

// NewChain creates a chain holding only the genesis block at height 0.
func NewChain(logger *zap.Logger) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Chain{
		logger:   logger,
		now:      time.Now,
		store:    NewStore(),
		pooled:   make(map[[32]byte]bool),
		statuses: make(map[[32]byte]Status),
	}
	c.blocks = append(c.blocks, Block{Height: 0, Timestamp: c.now()})
	return c
}

// Submit verifies tx and adds it to the pool. A halted chain accepts nothing.
func (c *Chain) Submit(tx Transaction) error {
	if err := tx.Verify(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.halted != nil {
		return fmt.Errorf("%w: %v", ErrHalted, c.halted)
	}
	hash := tx.Hash()
	if c.pooled[hash] {
		return ErrDuplicateTransaction
	}
	if _, ok := c.statuses[hash]; ok {
		return ErrDuplicateTransaction
	}
	c.pool = append(c.pool, tx)
	c.pooled[hash] = true
	return nil
}

// PoolSize reports how many transactions wait for the next block.
func (c *Chain) PoolSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pool)
}

// CreateBlock executes every pooled transaction and commits the block.
// An empty pool still produces a block.
func (c *Chain) CreateBlock() (*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.halted != nil {
		return nil, fmt.Errorf("%w: %v", ErrHalted, c.halted)
	}

	height := uint64(len(c.blocks))
	block := Block{Height: height, Timestamp: c.now()}
	blockFork := c.store.Fork()
	statuses := make(map[[32]byte]Status, len(c.pool))

	for i, tx := range c.pool {
		hash := tx.Hash()
		txFork := NewFork(blockFork)
		err := tx.Execute(txFork)
		if err != nil && IsFatal(err) {
			c.halted = err
			c.logger.Error("fatal transaction execution error",
				zap.String("tx_hash", hex.EncodeToString(hash[:])),
				zap.Uint64("height", height),
				zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrHalted, err)
		}
		if err == nil {
			txFork.MergeInto(blockFork)
		}
		statuses[hash] = Status{Location: Location{Height: height, Index: uint32(i)}, Err: err}
		block.TxHashes = append(block.TxHashes, hash)
	}

	c.store.Commit(blockFork)
	for hash, st := range statuses {
		c.statuses[hash] = st
	}
	c.order = append(c.order, c.pool...)
	c.blocks = append(c.blocks, block)
	c.pool = nil
	c.pooled = make(map[[32]byte]bool)
	metrics.Blocks.Inc()

	c.logger.Debug("block committed", zap.Uint64("height", height), zap.Int("transactions", len(block.TxHashes)))
	return &block, nil
}

// CreateBlockWithTransactions submits txs and commits them in one block.
func (c *Chain) CreateBlockWithTransactions(txs ...Transaction) (*Block, error) {
	for _, tx := range txs {
		if err := c.Submit(tx); err != nil {
			return nil, err
		}
	}
	return c.CreateBlock()
}

// Snapshot returns a read-only view of committed state.
func (c *Chain) Snapshot() Snapshot {
	return c.store.Snapshot()
}

// Height is the height of the latest committed block.
func (c *Chain) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.blocks) - 1)
}

// Block returns the committed block at height.
func (c *Chain) Block(height uint64) (Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if height >= uint64(len(c.blocks)) {
		return Block{}, false
	}
	return c.blocks[height], true
}

// Status returns the outcome of a committed transaction.
func (c *Chain) Status(hash [32]byte) (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.statuses[hash]
	return st, ok
}

// Pending reports whether hash waits in the pool.
func (c *Chain) Pending(hash [32]byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pooled[hash]
}

// Transactions visits committed transactions in ledger order until fn returns false.
func (c *Chain) Transactions(fn func(tx Transaction, st Status) bool) {
	c.mu.Lock()
	order := append([]Transaction(nil), c.order...)
	c.mu.Unlock()

	for _, tx := range order {
		st, _ := c.Status(tx.Hash())
		if !fn(tx, st) {
			return
		}
	}
}
