package chain

import (
	"io/ioutil"

	"github.com/helinwang/qbft/pkg/consensus"
	"github.com/pkg/errors"
)

// NewGenesis creates the genesis block naming the validators of
// height 1.
func NewGenesis(validators []consensus.Addr, time uint64) (*consensus.Block, error) {
	_, err := consensus.NewValidatorSet(validators)
	if err != nil {
		return nil, err
	}

	extra := consensus.ExtraData{Validators: validators}
	txns := [][]byte{}
	return &consensus.Block{
		Header: &consensus.Header{
			Time:   time,
			TxRoot: consensus.TxRoot(txns),
			Extra:  extra.Encode(),
		},
		Txns: txns,
	}, nil
}

// LoadGenesis reads the RLP encoded genesis block from the file.
func LoadGenesis(path string) (*consensus.Block, error) {
	d, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read genesis file")
	}

	b, err := consensus.DecodeBlock(d)
	if err != nil {
		return nil, err
	}

	if b.Number() != 0 {
		return nil, errors.Errorf("genesis block number %d", b.Number())
	}

	return b, nil
}
