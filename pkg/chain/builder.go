package chain

import (
	"context"
	"time"

	"github.com/helinwang/qbft/pkg/consensus"
	"github.com/pkg/errors"
)

// TxnSource provides the transactions of a candidate block.
type TxnSource interface {
	Pending(n int) [][]byte
}

// Builder builds the candidate blocks of the local proposer from the
// pending transactions.
type Builder struct {
	addr    consensus.Addr
	txns    TxnSource
	maxTxns int
	// Period is the minimum time between the parent timestamp and
	// the building of its child.
	Period time.Duration
	now    func() time.Time
}

// NewBuilder creates a builder for the proposer addr. At most maxTxns
// transactions go into a block.
func NewBuilder(addr consensus.Addr, txns TxnSource, maxTxns int) *Builder {
	return &Builder{
		addr:    addr,
		txns:    txns,
		maxTxns: maxTxns,
		now:     time.Now,
	}
}

// BuildCandidateBlock builds a block extending parent. The validator
// set is carried over from the parent.
func (b *Builder) BuildCandidateBlock(ctx context.Context, parent *consensus.Header, round uint32) (*consensus.Block, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	if b.Period > 0 && round == 0 {
		wait := time.Unix(0, int64(parent.Time)*int64(time.Millisecond)).Add(b.Period).Sub(b.now())
		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
	}

	pe, err := consensus.DecodeExtra(parent.Extra)
	if err != nil {
		return nil, errors.Wrap(err, "parent extra data")
	}

	txns := b.txns.Pending(b.maxTxns)
	if txns == nil {
		txns = [][]byte{}
	}

	t := uint64(b.now().UnixMilli())
	if t <= parent.Time {
		t = parent.Time + 1
	}

	extra := consensus.ExtraData{Validators: pe.Validators}
	h := &consensus.Header{
		ParentHash: parent.Hash(),
		Number:     parent.Number + 1,
		Time:       t,
		Proposer:   b.addr,
		TxRoot:     consensus.TxRoot(txns),
		Extra:      extra.Encode(),
	}

	err = ctx.Err()
	if err != nil {
		return nil, err
	}

	return &consensus.Block{Header: h, Txns: txns}, nil
}
