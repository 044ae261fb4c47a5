package consensus

import (
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

// ExtraData is the consensus section of Header.Extra.
//
// Validators is the validator set for the next height. Round and
// Seals are filled in by Finalize once the block gathered a quorum of
// commit seals.
type ExtraData struct {
	Vanity     [32]byte
	Validators []Addr
	Round      uint32
	Seals      []Sig
}

// Encode encodes the extra data.
func (e *ExtraData) Encode() []byte {
	b, err := rlp.EncodeToBytes(e)
	if err != nil {
		panic(err)
	}

	return b
}

// DecodeExtra decodes the header extra data.
func DecodeExtra(b []byte) (*ExtraData, error) {
	var e ExtraData
	err := rlp.DecodeBytes(b, &e)
	if err != nil {
		return nil, errors.Wrap(err, "decode extra data")
	}

	return &e, nil
}

// SealDigest is the digest a validator signs to commit the block at
// the given round.
func SealDigest(blockHash Hash, round uint32) Hash {
	b, err := rlp.EncodeToBytes([]interface{}{blockHash, round})
	if err != nil {
		panic(err)
	}

	return hash(b)
}
