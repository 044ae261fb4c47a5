package consensus

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inject queues a message signed by node i for node to.
func (h *testHub) inject(i, to int, m *Message) {
	h.sign(i, m)
	h.pending = append(h.pending, envelope{from: i, to: to, data: m.Encode(true)})
}

// runSafetySimulation runs one height with an equivocating proposer,
// random delivery order, duplicated messages and random timeouts. It
// returns the number of honest nodes that finalized the height.
func runSafetySimulation(t *testing.T, seed int64) int {
	r := rand.New(rand.NewSource(seed))
	h := newTestHub(t, 4, 0)
	byzantine := 10 % 4
	var honest []int
	for i := range h.nodes {
		if i != byzantine {
			h.start(i)
			honest = append(honest, i)
		}
	}

	v := View{Height: 10}
	x := testBlock(h.genesis, h.addrs, "x")
	y := testBlock(h.genesis, h.addrs, "y")
	signer := NewSigner(h.nodes[byzantine].key)
	for _, i := range honest {
		b := y
		if i == honest[0] {
			b = x
		}
		h.inject(byzantine, i, newProposal(v, b, nil))

		for _, b := range []*Block{x, y} {
			seal, err := signer.Sign(SealDigest(b.Hash(), 0))
			require.Nil(t, err)
			h.inject(byzantine, i, newPrepare(v, b.Hash()))
			h.inject(byzantine, i, newCommit(v, b.Hash(), seal))
		}
	}

	for step := 0; step < 3000; step++ {
		if r.Intn(30) == 0 || len(h.pending) == 0 {
			e := h.nodes[honest[r.Intn(len(honest))]].e
			e.handle(timeoutEvent{view: e.view})
			drain(e)
			continue
		}

		k := r.Intn(len(h.pending))
		env := h.pending[k]
		if r.Intn(10) != 0 {
			h.pending = append(h.pending[:k], h.pending[k+1:]...)
		}
		h.deliver(env)

		n := h.nodes[env.to]
		if n.e != nil && r.Intn(10) == 0 {
			// the same message again, past the network dedupe
			m, err := DecodeMessage(env.data)
			require.Nil(t, err)
			require.Nil(t, recoverSender(m))
			n.e.handle(msgEvent{m: m})
			drain(n.e)
		}
	}

	var finalized *Hash
	count := 0
	for _, i := range honest {
		for _, b := range h.nodes[i].chain.imported {
			if b.Number() != 10 {
				continue
			}

			hash := b.Hash()
			if finalized == nil {
				finalized = &hash
			}
			assert.Equal(t, *finalized, hash, "seed %d node %d", seed, i)
			assert.Nil(t, VerifySeals(b.Header, h.vs))
			count++
		}
	}
	return count
}

func TestRandomizedSafety(t *testing.T) {
	total := 0
	for seed := int64(1); seed <= 20; seed++ {
		total += runSafetySimulation(t, seed)
	}
	assert.True(t, total > 0)
}
