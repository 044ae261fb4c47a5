package consensus

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAddrs(n int) []Addr {
	addrs := make([]Addr, n)
	for i := range addrs {
		addrs[i] = SHA3([]byte{byte(i)}).Addr()
	}
	return addrs
}

func TestQuorumSize(t *testing.T) {
	cases := []struct {
		n      int
		quorum int
		f      int
	}{
		{1, 1, 0},
		{3, 3, 0},
		{4, 3, 1},
		{5, 4, 1},
		{6, 5, 1},
		{7, 5, 2},
		{10, 7, 3},
	}

	for _, c := range cases {
		vs, err := NewValidatorSet(testAddrs(c.n))
		require.Nil(t, err)
		assert.Equal(t, c.quorum, vs.QuorumSize(), "n=%d", c.n)
		assert.Equal(t, c.f, vs.F(), "n=%d", c.n)
	}
}

func TestProposer(t *testing.T) {
	cases := []struct {
		n      int
		height uint64
		round  uint32
		index  int
	}{
		{4, 0, 0, 0},
		{4, 10, 0, 2},
		{4, 10, 1, 3},
		{4, 10, 2, 0},
		{4, 7, 5, 0},
		{7, 10, 0, 3},
		{7, 10, 4, 0},
		{7, 100, 3, 5},
		{7, 1<<63 + 1, 1<<32 - 1, int((1<<63%7 + 1 + (1<<32-1)%7) % 7)},
	}

	for _, c := range cases {
		addrs := testAddrs(c.n)
		vs, err := NewValidatorSet(addrs)
		require.Nil(t, err)
		assert.Equal(t, addrs[c.index], vs.Proposer(c.height, c.round), "n=%d h=%d r=%d", c.n, c.height, c.round)
		for i, a := range addrs {
			assert.Equal(t, i == c.index, vs.IsProposer(c.height, c.round, a))
		}
	}
}

func TestNewValidatorSet(t *testing.T) {
	_, err := NewValidatorSet(nil)
	assert.NotNil(t, err)

	addrs := testAddrs(3)
	_, err = NewValidatorSet(append(addrs, addrs[1]))
	assert.Equal(t, errDuplicateValidator, errors.Cause(err))

	vs, err := NewValidatorSet(addrs)
	require.Nil(t, err)
	assert.Equal(t, 3, vs.Size())
	idx, ok := vs.Index(addrs[2])
	assert.True(t, ok)
	assert.Equal(t, 2, idx)
	assert.False(t, vs.Contains(SHA3([]byte("x")).Addr()))

	l := vs.List()
	l[0] = Addr{}
	assert.Equal(t, addrs[0], vs.List()[0])
}

type headerMap map[uint64]*Header

func (m headerMap) HeaderByNumber(n uint64) (*Header, bool) {
	h, ok := m[n]
	return h, ok
}

func TestHeaderValidators(t *testing.T) {
	addrs := testAddrs(4)
	headers := headerMap{
		9: &Header{Number: 9, Extra: (&ExtraData{Validators: addrs}).Encode()},
		10: &Header{Number: 10, Extra: (&ExtraData{Validators: addrs[:3]}).Encode()},
		11: &Header{Number: 11, Extra: []byte{1, 2, 3}},
	}
	p := NewHeaderValidators(headers)

	vs, err := p.ValidatorsAt(10)
	require.Nil(t, err)
	assert.Equal(t, addrs, vs.List())

	// the set of height 11 comes from header 10
	vs, err = p.ValidatorsAt(11)
	require.Nil(t, err)
	assert.Equal(t, addrs[:3], vs.List())

	_, err = p.ValidatorsAt(12)
	assert.True(t, errors.Is(err, ErrUnknownValidatorSet))

	_, err = p.ValidatorsAt(13)
	assert.True(t, errors.Is(err, ErrUnknownValidatorSet))

	_, err = p.ValidatorsAt(0)
	assert.True(t, errors.Is(err, ErrUnknownValidatorSet))

	// snapshots are cached
	delete(headers, 9)
	vs, err = p.ValidatorsAt(10)
	require.Nil(t, err)
	assert.Equal(t, addrs, vs.List())
}

func TestStaticValidators(t *testing.T) {
	vs, err := NewValidatorSet(testAddrs(4))
	require.Nil(t, err)
	p := NewStaticValidators(vs)
	for _, h := range []uint64{0, 1, 1000} {
		r, err := p.ValidatorsAt(h)
		require.Nil(t, err)
		assert.Equal(t, vs, r)
	}
}
