package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundStatePrepared(t *testing.T) {
	keys, vs := testKeys(t, 4)
	v := View{Height: 1}
	s := newRoundState(v, vs)
	b := testBlock(&Header{}, vs.List(), "x")

	// prepares are recorded before the proposal arrives
	for _, k := range keys[:2] {
		assert.True(t, s.addPrepare(signed(t, k, newPrepare(v, b.Hash())), b.Hash()))
	}
	other := Hash{1}
	assert.True(t, s.addPrepare(signed(t, keys[2], newPrepare(v, other)), other))
	assert.False(t, s.prepared())

	assert.True(t, s.setProposal(signed(t, keys[1], newProposal(v, b, nil)), b))
	assert.False(t, s.prepared())
	assert.Equal(t, 2, len(s.matchingPrepares()))

	// a later prepare from the same sender does not replace the first
	assert.False(t, s.addPrepare(signed(t, keys[2], newPrepare(v, b.Hash())), b.Hash()))
	assert.False(t, s.prepared())

	assert.True(t, s.addPrepare(signed(t, keys[3], newPrepare(v, b.Hash())), b.Hash()))
	assert.True(t, s.prepared())

	c := s.preparedCertificate()
	assert.Equal(t, uint32(0), c.Round)
	assert.Equal(t, 3, len(c.Prepares))
	assert.Nil(t, verifyPreparedCertificate(c, 1, 1, vs))
}

func TestRoundStateFirstProposalWins(t *testing.T) {
	keys, vs := testKeys(t, 4)
	v := View{Height: 1}
	s := newRoundState(v, vs)
	x := testBlock(&Header{}, vs.List(), "x")
	y := testBlock(&Header{}, vs.List(), "y")

	assert.True(t, s.setProposal(signed(t, keys[1], newProposal(v, x, nil)), x))
	assert.False(t, s.setProposal(signed(t, keys[1], newProposal(v, y, nil)), y))
	assert.Equal(t, x.Hash(), s.digest)
}

func TestRoundStateCommitIdempotent(t *testing.T) {
	keys, vs := testKeys(t, 4)
	v := View{Height: 1}
	s := newRoundState(v, vs)
	b := testBlock(&Header{}, vs.List(), "x")
	s.setProposal(signed(t, keys[1], newProposal(v, b, nil)), b)

	commit := func(i int) *Message {
		seal, err := NewSigner(keys[i]).Sign(SealDigest(b.Hash(), 0))
		require.Nil(t, err)
		return signed(t, keys[i], newCommit(v, b.Hash(), seal))
	}

	m := commit(0)
	assert.True(t, s.addCommit(m, b.Hash(), Sig{}))
	assert.False(t, s.addCommit(m, b.Hash(), Sig{}))
	assert.Equal(t, 1, len(s.commits))
	assert.Equal(t, 1, len(s.matchingCommits()))

	assert.True(t, s.addCommit(commit(2), b.Hash(), Sig{}))
	assert.False(t, s.finalizable())
	assert.True(t, s.addCommit(commit(3), b.Hash(), Sig{}))
	assert.True(t, s.finalizable())

	// seals come out in validator order
	seals := s.commitSeals()
	require.Equal(t, 3, len(seals))
	assert.Equal(t, vs.List()[0], seals[0].Signer)
	assert.Equal(t, vs.List()[2], seals[1].Signer)
	assert.Equal(t, vs.List()[3], seals[2].Signer)
}

func TestRoundChanges(t *testing.T) {
	keys, vs := testKeys(t, 4)
	r := newRoundChanges(vs)
	b := testBlock(&Header{}, vs.List(), "x")

	rc := func(i int, round uint32) *Message {
		return signed(t, keys[i], newRoundChange(View{Height: 1, Round: round}, nil))
	}

	assert.True(t, r.add(rc(0, 2), nil))
	assert.False(t, r.add(rc(0, 2), nil))
	assert.True(t, r.add(rc(1, 2), &PreparedCertificate{Round: 0, Block: b}))
	assert.Nil(t, r.certificate(2))
	_, ok := r.catchUpRound(2)
	assert.False(t, ok)

	high := &PreparedCertificate{Round: 1, Block: b}
	assert.True(t, r.add(rc(3, 2), high))
	assert.Equal(t, 3, r.count(2))
	cert := r.certificate(2)
	require.Equal(t, 3, len(cert))
	assert.Equal(t, vs.List()[0], cert[0].From())
	assert.Equal(t, vs.List()[3], cert[2].From())
	assert.Equal(t, high, r.highestPrepared(2))

	round, ok := r.catchUpRound(0)
	assert.True(t, ok)
	assert.Equal(t, uint32(2), round)

	assert.True(t, r.add(rc(2, 7), nil))
	assert.True(t, r.add(rc(1, 5), nil))
	// senders above round 2 asked for 7 and 5
	round, ok = r.catchUpRound(2)
	assert.True(t, ok)
	assert.Equal(t, uint32(5), round)

	r.prune(5)
	assert.Equal(t, 0, r.count(2))
	assert.Equal(t, 1, r.count(5))
}
