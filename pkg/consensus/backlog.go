package consensus

import (
	"sort"
)

// backlog buffers messages that arrive ahead of the local view:
// future heights within a window and future rounds of the current
// height. The number of buffered messages is bounded per sender and
// in total.
type backlog struct {
	window    uint64
	perSender int
	limit     int

	msgs  map[View][]*Message
	count map[Addr]int
	total int
}

func newBacklog(window uint64, perSender, limit int) *backlog {
	return &backlog{
		window:    window,
		perSender: perSender,
		limit:     limit,
		msgs:      make(map[View][]*Message),
		count:     make(map[Addr]int),
	}
}

// add buffers the message, it returns false if the message is
// dropped.
func (b *backlog) add(m *Message, cur View) bool {
	if m.Height < cur.Height || m.Height > cur.Height+b.window {
		return false
	}

	if b.count[m.from] >= b.perSender || b.total >= b.limit {
		return false
	}

	v := m.View()
	b.msgs[v] = append(b.msgs[v], m)
	b.count[m.from]++
	b.total++
	return true
}

// take removes and returns the buffered messages of the view height
// in round order. Messages of lower heights are dropped.
func (b *backlog) take(v View) []*Message {
	var r []*Message
	var views []View
	for k := range b.msgs {
		if k.Height < v.Height {
			b.remove(k)
			continue
		}

		if k.Height == v.Height {
			views = append(views, k)
		}
	}

	sort.Slice(views, func(i, j int) bool {
		return views[i].Round < views[j].Round
	})
	for _, k := range views {
		r = append(r, b.msgs[k]...)
		b.remove(k)
	}
	return r
}

func (b *backlog) remove(v View) {
	for _, m := range b.msgs[v] {
		b.count[m.from]--
		if b.count[m.from] <= 0 {
			delete(b.count, m.from)
		}
	}
	b.total -= len(b.msgs[v])
	delete(b.msgs, v)
}

// size returns the number of buffered messages.
func (b *backlog) size() int {
	return b.total
}

