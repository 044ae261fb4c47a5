package consensus

import (
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

// Header is the block header. The consensus specific fields (the
// validator list of the next height, the round and the commit seals)
// live in Extra. Time is the Unix time in milliseconds.
type Header struct {
	ParentHash Hash
	Number     uint64
	Time       uint64
	Proposer   Addr
	TxRoot     Hash
	Extra      []byte
}

// Encode encodes the header.
func (h *Header) Encode() []byte {
	b, err := rlp.EncodeToBytes(h)
	if err != nil {
		panic(err)
	}

	return b
}

// Hash returns the hash of the header.
//
// The round and the commit seals are excluded, so the hash of a
// block does not change when it gets sealed, nor when the same block
// is proposed again in a later round.
func (h *Header) Hash() Hash {
	c := *h
	extra, err := DecodeExtra(h.Extra)
	if err == nil {
		extra.Round = 0
		extra.Seals = nil
		c.Extra = extra.Encode()
	}

	return hash(c.Encode())
}

// Copy returns a deep copy of the header.
func (h *Header) Copy() *Header {
	c := *h
	c.Extra = append([]byte(nil), h.Extra...)
	return &c
}

// Block is a header and its transactions.
type Block struct {
	Header *Header
	Txns   [][]byte
}

// Number returns the height of the block.
func (b *Block) Number() uint64 {
	return b.Header.Number
}

// Hash returns the hash of the block header.
func (b *Block) Hash() Hash {
	return b.Header.Hash()
}

// Encode encodes the block.
func (b *Block) Encode() []byte {
	d, err := rlp.EncodeToBytes(b)
	if err != nil {
		panic(err)
	}

	return d
}

// DecodeBlock decodes a block produced by Block.Encode.
func DecodeBlock(d []byte) (*Block, error) {
	var b Block
	err := rlp.DecodeBytes(d, &b)
	if err != nil {
		return nil, errors.Wrap(err, "decode block")
	}

	if b.Header == nil {
		return nil, errors.New("decode block: missing header")
	}

	return &b, nil
}

// TxRoot returns the commitment to the transaction list.
func TxRoot(txns [][]byte) Hash {
	b, err := rlp.EncodeToBytes(txns)
	if err != nil {
		panic(err)
	}

	return hash(b)
}
