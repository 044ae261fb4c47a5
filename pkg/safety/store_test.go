package safety

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/helinwang/qbft/pkg/consensus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCertificate(t *testing.T, height uint64, round uint32) *consensus.PreparedCertificate {
	key, err := crypto.GenerateKey()
	require.Nil(t, err)

	b := &consensus.Block{
		Header: &consensus.Header{Number: height, Time: 100},
		Txns:   [][]byte{[]byte("txn")},
	}

	m := &consensus.Message{
		Type:    consensus.MsgPrepare,
		Height:  height,
		Round:   round,
		Payload: []byte{0xc0},
	}
	require.Nil(t, m.Sign(consensus.NewSigner(key)))

	return &consensus.PreparedCertificate{
		Round:    round,
		Block:    b,
		Prepares: []*consensus.Message{m},
	}
}

func TestSaveLoadPrepared(t *testing.T) {
	s, err := NewMemStore()
	require.Nil(t, err)
	defer s.Close()

	c, err := s.LoadPrepared(5)
	require.Nil(t, err)
	assert.Nil(t, c)

	want := testCertificate(t, 5, 2)
	require.Nil(t, s.SavePrepared(5, want))

	got, err := s.LoadPrepared(5)
	require.Nil(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Encode(), got.Encode())
	assert.Equal(t, want.Block.Hash(), got.Block.Hash())

	// a later round replaces the certificate
	want = testCertificate(t, 5, 3)
	require.Nil(t, s.SavePrepared(5, want))
	got, err = s.LoadPrepared(5)
	require.Nil(t, err)
	assert.Equal(t, uint32(3), got.Round)
}

func TestPrunePrepared(t *testing.T) {
	s, err := NewMemStore()
	require.Nil(t, err)
	defer s.Close()

	for h := uint64(1); h <= 5; h++ {
		require.Nil(t, s.SavePrepared(h, testCertificate(t, h, 0)))
	}

	require.Nil(t, s.Prune(4))
	for h := uint64(1); h <= 5; h++ {
		c, err := s.LoadPrepared(h)
		require.Nil(t, err)
		if h < 4 {
			assert.Nil(t, c, "height %d", h)
		} else {
			assert.NotNil(t, c, "height %d", h)
		}
	}

	require.Nil(t, s.Prune(1))
}

func TestBadgerStoreReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBadgerStore(dir)
	require.Nil(t, err)

	want := testCertificate(t, 7, 1)
	require.Nil(t, s.SavePrepared(7, want))
	require.Nil(t, s.Close())

	s, err = NewBadgerStore(dir)
	require.Nil(t, err)
	defer s.Close()

	got, err := s.LoadPrepared(7)
	require.Nil(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Encode(), got.Encode())
}

func TestStoreImplementsPreparedStore(t *testing.T) {
	var _ consensus.PreparedStore = (*BadgerStore)(nil)
}
