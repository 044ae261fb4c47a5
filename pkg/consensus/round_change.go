package consensus

import (
	"sort"
)

type roundChangeEntry struct {
	msg      *Message
	prepared *PreparedCertificate
}

// roundChanges collects the round change messages of one height,
// one per sender and round.
type roundChanges struct {
	vs     *ValidatorSet
	rounds map[uint32]map[Addr]roundChangeEntry
}

func newRoundChanges(vs *ValidatorSet) *roundChanges {
	return &roundChanges{
		vs:     vs,
		rounds: make(map[uint32]map[Addr]roundChangeEntry),
	}
}

// add records the round change, it returns false if the sender
// already sent one for the round.
func (r *roundChanges) add(m *Message, prepared *PreparedCertificate) bool {
	senders := r.rounds[m.Round]
	if senders == nil {
		senders = make(map[Addr]roundChangeEntry)
		r.rounds[m.Round] = senders
	}

	if _, ok := senders[m.from]; ok {
		return false
	}

	senders[m.from] = roundChangeEntry{msg: m, prepared: prepared}
	return true
}

// count returns the number of distinct senders of the round.
func (r *roundChanges) count(round uint32) int {
	return len(r.rounds[round])
}

// certificate returns the round change messages of the round in
// validator order, or nil if they do not reach a quorum.
func (r *roundChanges) certificate(round uint32) []*Message {
	senders := r.rounds[round]
	if len(senders) < r.vs.QuorumSize() {
		return nil
	}

	msgs := make([]*Message, 0, len(senders))
	for _, addr := range r.vs.list {
		if e, ok := senders[addr]; ok {
			msgs = append(msgs, e.msg)
		}
	}
	return msgs
}

// highestPrepared returns the prepared certificate with the highest
// round carried by the round changes of the round.
func (r *roundChanges) highestPrepared(round uint32) *PreparedCertificate {
	var highest *PreparedCertificate
	for _, addr := range r.vs.list {
		e, ok := r.rounds[round][addr]
		if !ok || e.prepared == nil {
			continue
		}

		if highest == nil || e.prepared.Round > highest.Round {
			highest = e.prepared
		}
	}
	return highest
}

// catchUpRound returns the round to move to when at least F+1
// validators asked for rounds above cur: the (F+1)-th highest of the
// rounds they asked for, so at least one honest validator is there.
func (r *roundChanges) catchUpRound(cur uint32) (uint32, bool) {
	highest := make(map[Addr]uint32)
	for round, senders := range r.rounds {
		if round <= cur {
			continue
		}

		for addr := range senders {
			if round > highest[addr] {
				highest[addr] = round
			}
		}
	}

	f := r.vs.F()
	if len(highest) < f+1 {
		return 0, false
	}

	rounds := make([]uint32, 0, len(highest))
	for _, round := range highest {
		rounds = append(rounds, round)
	}
	sort.Slice(rounds, func(i, j int) bool {
		return rounds[i] > rounds[j]
	})
	return rounds[f], true
}

// prune removes the round changes of rounds below round.
func (r *roundChanges) prune(round uint32) {
	for k := range r.rounds {
		if k < round {
			delete(r.rounds, k)
		}
	}
}
