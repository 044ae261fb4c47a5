package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockEncodeDecode(t *testing.T) {
	addrs := testAddrs(4)
	b := testBlock(&Header{Number: 3}, addrs, "hello")
	b.Header.Proposer = addrs[1]

	d, err := DecodeBlock(b.Encode())
	require.Nil(t, err)
	assert.Equal(t, b.Hash(), d.Hash())
	assert.Equal(t, b.Txns, d.Txns)
	assert.Equal(t, uint64(4), d.Number())

	_, err = DecodeBlock([]byte{0xc2, 0xc0, 0xc0})
	assert.NotNil(t, err)
}

func TestHashExcludesSeals(t *testing.T) {
	addrs := testAddrs(4)
	b := testBlock(&Header{Number: 3}, addrs, "hello")
	h := b.Hash()

	extra, err := DecodeExtra(b.Header.Extra)
	require.Nil(t, err)
	extra.Round = 7
	extra.Seals = []Sig{{1, 2, 3}}
	sealed := b.Header.Copy()
	sealed.Extra = extra.Encode()
	assert.Equal(t, h, sealed.Hash())
	assert.NotEqual(t, b.Header.Extra, sealed.Extra)

	// the validator list is covered
	extra.Validators = addrs[:3]
	changed := b.Header.Copy()
	changed.Extra = extra.Encode()
	assert.NotEqual(t, h, changed.Hash())

	changed = b.Header.Copy()
	changed.Time++
	assert.NotEqual(t, h, changed.Hash())
}

func TestHeaderCopy(t *testing.T) {
	h := &Header{Number: 1, Extra: []byte{1, 2}}
	c := h.Copy()
	c.Extra[0] = 9
	c.Number = 2
	assert.Equal(t, []byte{1, 2}, h.Extra)
	assert.Equal(t, uint64(1), h.Number)
}

func TestTxRoot(t *testing.T) {
	a := TxRoot([][]byte{[]byte("a"), []byte("b")})
	b := TxRoot([][]byte{[]byte("b"), []byte("a")})
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, TxRoot([][]byte{[]byte("a"), []byte("b")}))
}
