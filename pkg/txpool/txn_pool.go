package txpool

import (
	"sync"

	"github.com/helinwang/qbft/pkg/consensus"
	"github.com/pkg/errors"
)

var (
	// ErrPoolFull is returned when the pool is at capacity.
	ErrPoolFull = errors.New("transaction pool is full")
	// ErrKnownTxn is returned when the transaction is already in the
	// pool.
	ErrKnownTxn = errors.New("known transaction")
	errEmptyTxn = errors.New("empty transaction")
)

// TxnPool holds the raw transactions that are not yet included in a
// block, in arrival order.
type TxnPool struct {
	mu    sync.Mutex
	limit int
	order []consensus.Hash
	txns  map[consensus.Hash][]byte
}

// NewTxnPool creates a pool holding at most limit transactions.
func NewTxnPool(limit int) *TxnPool {
	return &TxnPool{
		limit: limit,
		txns:  make(map[consensus.Hash][]byte),
	}
}

// Add adds the transaction to the pool.
func (t *TxnPool) Add(b []byte) error {
	if len(b) == 0 {
		return errEmptyTxn
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	hash := consensus.SHA3(b)
	if _, ok := t.txns[hash]; ok {
		return ErrKnownTxn
	}

	if len(t.txns) >= t.limit {
		return ErrPoolFull
	}

	t.txns[hash] = append([]byte(nil), b...)
	t.order = append(t.order, hash)
	return nil
}

// NotSeen returns true if the transaction is not in the pool.
func (t *TxnPool) NotSeen(h consensus.Hash) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.txns[h]
	return !ok
}

// Get returns the transaction of the hash, nil if not found.
func (t *TxnPool) Get(h consensus.Hash) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.txns[h]
}

// Pending returns up to n transactions in arrival order. n <= 0
// returns all of them.
func (t *TxnPool) Pending(n int) [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n <= 0 || n > len(t.order) {
		n = len(t.order)
	}

	r := make([][]byte, n)
	for i, h := range t.order[:n] {
		r[i] = t.txns[h]
	}
	return r
}

// Remove removes the transactions of the hashes.
func (t *TxnPool) Remove(hashes ...consensus.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := false
	for _, h := range hashes {
		if _, ok := t.txns[h]; ok {
			delete(t.txns, h)
			removed = true
		}
	}

	if !removed {
		return
	}

	order := t.order[:0]
	for _, h := range t.order {
		if _, ok := t.txns[h]; ok {
			order = append(order, h)
		}
	}
	t.order = order
}

// RemoveIncluded removes the transactions included in the block.
func (t *TxnPool) RemoveIncluded(b *consensus.Block) {
	hashes := make([]consensus.Hash, len(b.Txns))
	for i, txn := range b.Txns {
		hashes[i] = consensus.SHA3(txn)
	}
	t.Remove(hashes...)
}

// Size returns the number of transactions in the pool.
func (t *TxnPool) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.txns)
}
