package chain

import (
	"encoding/binary"
	"sync"

	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/helinwang/qbft/pkg/consensus"
	log "github.com/inconshreveable/log15"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidBlock is returned when an imported block does not
	// extend the chain head with a valid quorum of commit seals.
	ErrInvalidBlock  = errors.New("invalid block")
	errGenesisChange = errors.New("genesis does not match the stored chain")
)

var (
	headKey     = []byte("head")
	blockPrefix = []byte("b")
)

func blockKey(n uint64) []byte {
	k := make([]byte, len(blockPrefix)+8)
	copy(k, blockPrefix)
	binary.BigEndian.PutUint64(k[len(blockPrefix):], n)
	return k
}

func encodeNumber(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

// Chain is the canonical chain of finalized blocks. Only blocks
// carrying a quorum of commit seals of the parent's validator set are
// imported, so there is never a reorg.
type Chain struct {
	db ethdb.KeyValueStore

	mu     sync.RWMutex
	head   *consensus.Block
	subs   []func(*consensus.Block)
	waitCh map[uint64]chan struct{}
}

// NewChain opens the chain stored in db. The genesis block is stored
// if the db is empty, otherwise it must match the stored genesis.
func NewChain(db ethdb.KeyValueStore, genesis *consensus.Block) (*Chain, error) {
	if genesis.Number() != 0 {
		return nil, errors.Errorf("genesis block number %d", genesis.Number())
	}

	_, err := consensus.ValidatorsFromHeader(genesis.Header)
	if err != nil {
		return nil, errors.Wrap(err, "genesis validators")
	}

	c := &Chain{
		db:     db,
		waitCh: make(map[uint64]chan struct{}),
	}

	ok, err := db.Has(headKey)
	if err != nil {
		return nil, errors.Wrap(err, "read chain head")
	}

	if !ok {
		err = c.write(genesis)
		if err != nil {
			return nil, err
		}

		c.head = genesis
		log.Info("chain initialized", "genesis", genesis.Hash())
		return c, nil
	}

	stored, err := c.read(0)
	if err != nil {
		return nil, err
	}

	if stored.Hash() != genesis.Hash() {
		return nil, errors.Wrapf(errGenesisChange, "stored %v, given %v", stored.Hash(), genesis.Hash())
	}

	d, err := db.Get(headKey)
	if err != nil {
		return nil, errors.Wrap(err, "read chain head")
	}

	if len(d) != 8 {
		return nil, errors.Errorf("malformed chain head %x", d)
	}

	c.head, err = c.read(binary.BigEndian.Uint64(d))
	if err != nil {
		return nil, err
	}

	log.Info("chain loaded", "genesis", genesis.Hash(), "head", c.head.Number())
	return c, nil
}

func (c *Chain) write(b *consensus.Block) error {
	batch := c.db.NewBatch()
	err := batch.Put(blockKey(b.Number()), b.Encode())
	if err != nil {
		return errors.Wrap(err, "write block")
	}

	err = batch.Put(headKey, encodeNumber(b.Number()))
	if err != nil {
		return errors.Wrap(err, "write chain head")
	}

	err = batch.Write()
	if err != nil {
		return errors.Wrapf(err, "write block %d", b.Number())
	}

	return nil
}

func (c *Chain) read(n uint64) (*consensus.Block, error) {
	d, err := c.db.Get(blockKey(n))
	if err != nil {
		return nil, errors.Wrapf(err, "read block %d", n)
	}

	return consensus.DecodeBlock(d)
}

// ChainHeadHeader returns the header of the chain head.
func (c *Chain) ChainHeadHeader() *consensus.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.head.Header.Copy()
}

// ChainHeadBlockNumber returns the height of the chain head.
func (c *Chain) ChainHeadBlockNumber() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.head.Number()
}

// BlockByNumber returns the finalized block of the height.
func (c *Chain) BlockByNumber(n uint64) (*consensus.Block, bool) {
	c.mu.RLock()
	head := c.head.Number()
	c.mu.RUnlock()

	if n > head {
		return nil, false
	}

	b, err := c.read(n)
	if err != nil {
		log.Error("read finalized block failed", "height", n, "err", err)
		return nil, false
	}

	return b, true
}

// HeaderByNumber returns the header of the finalized block of the
// height.
func (c *Chain) HeaderByNumber(n uint64) (*consensus.Header, bool) {
	b, ok := c.BlockByNumber(n)
	if !ok {
		return nil, false
	}

	return b.Header, true
}

// ImportFinalizedBlock appends the block to the chain. The block must
// pass consensus.VerifyBlock against the head and carry a quorum of
// commit seals from the validator set named by the head. Importing
// the head again is a no-op.
func (c *Chain) ImportFinalizedBlock(b *consensus.Block) error {
	c.mu.Lock()
	head := c.head
	if b.Number() == head.Number() && b.Hash() == head.Hash() {
		// already imported
		c.mu.Unlock()
		return nil
	}

	err := consensus.VerifyBlock(b, head.Header)
	if err != nil {
		c.mu.Unlock()
		return errors.Wrap(ErrInvalidBlock, err.Error())
	}

	vs, err := consensus.ValidatorsFromHeader(head.Header)
	if err != nil {
		c.mu.Unlock()
		return errors.Wrap(ErrInvalidBlock, err.Error())
	}

	err = consensus.VerifySeals(b.Header, vs)
	if err != nil {
		c.mu.Unlock()
		return errors.Wrap(ErrInvalidBlock, err.Error())
	}

	err = c.write(b)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	c.head = b
	if ch, ok := c.waitCh[b.Number()]; ok {
		close(ch)
		delete(c.waitCh, b.Number())
	}
	subs := make([]func(*consensus.Block), len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	log.Info("block imported", "height", b.Number(), "block", b.Hash(), "txns", len(b.Txns))
	for _, f := range subs {
		f(b)
	}
	return nil
}

// Subscribe registers f to be called with every imported block, in
// import order.
func (c *Chain) Subscribe(f func(*consensus.Block)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, f)
}

// WaitUntil blocks until the block of the height is imported.
func (c *Chain) WaitUntil(height uint64) {
	c.mu.Lock()
	if height <= c.head.Number() {
		c.mu.Unlock()
		return
	}

	ch, ok := c.waitCh[height]
	if !ok {
		ch = make(chan struct{})
		c.waitCh[height] = ch
	}
	c.mu.Unlock()

	<-ch
}
