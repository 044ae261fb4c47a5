package chain

import (
	"context"
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/helinwang/qbft/pkg/consensus"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testValidators struct {
	keys  []*ecdsa.PrivateKey
	addrs []consensus.Addr
	vs    *consensus.ValidatorSet
}

func newTestValidators(t *testing.T, n int) *testValidators {
	v := &testValidators{}
	for i := 0; i < n; i++ {
		key, err := crypto.GenerateKey()
		require.Nil(t, err)
		v.keys = append(v.keys, key)
		v.addrs = append(v.addrs, consensus.PubkeyToAddr(&key.PublicKey))
	}

	var err error
	v.vs, err = consensus.NewValidatorSet(v.addrs)
	require.Nil(t, err)
	return v
}

// seal finalizes b with the commit seals of the first n validators.
func (v *testValidators) seal(t *testing.T, b *consensus.Block, n int) *consensus.Block {
	var seals []consensus.CommitSeal
	for _, key := range v.keys[:n] {
		signer := consensus.NewSigner(key)
		s, err := signer.Sign(consensus.SealDigest(b.Hash(), 0))
		require.Nil(t, err)
		seals = append(seals, consensus.CommitSeal{Signer: signer.Addr(), Seal: s})
	}

	r, err := consensus.Finalize(b, 0, seals, v.vs)
	require.Nil(t, err)
	return r
}

type txns [][]byte

func (t txns) Pending(n int) [][]byte {
	if n > len(t) {
		n = len(t)
	}
	return t[:n]
}

func (v *testValidators) next(t *testing.T, parent *consensus.Header, pending ...[]byte) *consensus.Block {
	b, err := NewBuilder(v.addrs[0], txns(pending), 10).BuildCandidateBlock(context.Background(), parent, 0)
	require.Nil(t, err)
	return b
}

func TestNewChainStoresGenesis(t *testing.T) {
	v := newTestValidators(t, 4)
	genesis, err := NewGenesis(v.addrs, 100)
	require.Nil(t, err)

	c, err := NewChain(memorydb.New(), genesis)
	require.Nil(t, err)
	assert.Equal(t, uint64(0), c.ChainHeadBlockNumber())
	assert.Equal(t, genesis.Hash(), c.ChainHeadHeader().Hash())

	h, ok := c.HeaderByNumber(0)
	require.True(t, ok)
	assert.Equal(t, genesis.Hash(), h.Hash())

	_, ok = c.HeaderByNumber(1)
	assert.False(t, ok)

	vs, err := consensus.NewHeaderValidators(c).ValidatorsAt(1)
	require.Nil(t, err)
	assert.Equal(t, v.addrs, vs.List())
}

func TestImportFinalizedBlock(t *testing.T) {
	v := newTestValidators(t, 4)
	genesis, err := NewGenesis(v.addrs, 100)
	require.Nil(t, err)

	c, err := NewChain(memorydb.New(), genesis)
	require.Nil(t, err)

	var got []uint64
	c.Subscribe(func(b *consensus.Block) {
		got = append(got, b.Number())
	})

	b1 := v.seal(t, v.next(t, genesis.Header, []byte("a")), 3)
	require.Nil(t, c.ImportFinalizedBlock(b1))
	b2 := v.seal(t, v.next(t, b1.Header), 4)
	require.Nil(t, c.ImportFinalizedBlock(b2))

	assert.Equal(t, uint64(2), c.ChainHeadBlockNumber())
	assert.Equal(t, []uint64{1, 2}, got)

	b, ok := c.BlockByNumber(1)
	require.True(t, ok)
	assert.Equal(t, b1.Encode(), b.Encode())
	assert.Equal(t, [][]byte{[]byte("a")}, b.Txns)
}

func TestImportRejectsInvalidBlock(t *testing.T) {
	v := newTestValidators(t, 4)
	genesis, err := NewGenesis(v.addrs, 100)
	require.Nil(t, err)

	c, err := NewChain(memorydb.New(), genesis)
	require.Nil(t, err)

	b1 := v.next(t, genesis.Header)

	// below quorum
	var seals []consensus.CommitSeal
	for _, key := range v.keys[:2] {
		signer := consensus.NewSigner(key)
		s, err := signer.Sign(consensus.SealDigest(b1.Hash(), 0))
		require.Nil(t, err)
		seals = append(seals, consensus.CommitSeal{Signer: signer.Addr(), Seal: s})
	}
	_, err = consensus.Finalize(b1, 0, seals, v.vs)
	require.NotNil(t, err)
	err = c.ImportFinalizedBlock(b1)
	assert.True(t, errors.Is(err, ErrInvalidBlock), "%v", err)

	// sealed by another validator set
	other := newTestValidators(t, 4)
	err = c.ImportFinalizedBlock(other.seal(t, b1, 3))
	assert.True(t, errors.Is(err, ErrInvalidBlock), "%v", err)

	// gap
	b2 := v.seal(t, v.next(t, b1.Header), 3)
	err = c.ImportFinalizedBlock(b2)
	assert.True(t, errors.Is(err, ErrInvalidBlock), "%v", err)

	// tampered transactions
	sealed := v.seal(t, b1, 3)
	sealed.Txns = [][]byte{[]byte("x")}
	err = c.ImportFinalizedBlock(sealed)
	assert.True(t, errors.Is(err, ErrInvalidBlock), "%v", err)

	// a quorum sealed a block that replaces the validator set
	grab := v.next(t, genesis.Header)
	grab.Header.Extra = (&consensus.ExtraData{Validators: v.addrs[:1]}).Encode()
	err = c.ImportFinalizedBlock(v.seal(t, grab, 3))
	assert.True(t, errors.Is(err, ErrInvalidBlock), "%v", err)

	assert.Equal(t, uint64(0), c.ChainHeadBlockNumber())
}

func TestChainReopen(t *testing.T) {
	v := newTestValidators(t, 4)
	genesis, err := NewGenesis(v.addrs, 100)
	require.Nil(t, err)

	db := memorydb.New()
	c, err := NewChain(db, genesis)
	require.Nil(t, err)
	b1 := v.seal(t, v.next(t, genesis.Header), 3)
	require.Nil(t, c.ImportFinalizedBlock(b1))

	c, err = NewChain(db, genesis)
	require.Nil(t, err)
	assert.Equal(t, uint64(1), c.ChainHeadBlockNumber())
	assert.Equal(t, b1.Hash(), c.ChainHeadHeader().Hash())

	other, err := NewGenesis(v.addrs, 101)
	require.Nil(t, err)
	_, err = NewChain(db, other)
	assert.NotNil(t, err)
}

func TestWaitUntil(t *testing.T) {
	v := newTestValidators(t, 1)
	genesis, err := NewGenesis(v.addrs, 100)
	require.Nil(t, err)

	c, err := NewChain(memorydb.New(), genesis)
	require.Nil(t, err)
	c.WaitUntil(0)

	done := make(chan struct{})
	go func() {
		c.WaitUntil(1)
		close(done)
	}()

	require.Nil(t, c.ImportFinalizedBlock(v.seal(t, v.next(t, genesis.Header), 1)))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitUntil did not return")
	}
}

func TestImportHeadAgain(t *testing.T) {
	v := newTestValidators(t, 4)
	genesis, err := NewGenesis(v.addrs, 100)
	require.Nil(t, err)

	c, err := NewChain(memorydb.New(), genesis)
	require.Nil(t, err)

	calls := 0
	c.Subscribe(func(*consensus.Block) {
		calls++
	})

	b1 := v.seal(t, v.next(t, genesis.Header), 3)
	require.Nil(t, c.ImportFinalizedBlock(b1))
	require.Nil(t, c.ImportFinalizedBlock(b1))
	assert.Equal(t, 1, calls)
}
