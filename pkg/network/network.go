package network

import (
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/helinwang/qbft/pkg/consensus"
	log "github.com/inconshreveable/log15"
	"github.com/pkg/errors"
)

const (
	dialTimeout     = 5 * time.Second
	minRedialDelay  = 200 * time.Millisecond
	maxRedialDelay  = 10 * time.Second
	defaultSeenSize = 8192
)

// Network is the TCP transport between the nodes of the static peer
// list. It implements consensus.Network.
//
// Consensus messages and transactions are flooded: a payload seen for
// the first time is handed to the handler and relayed to every other
// peer, so the nodes do not need a full mesh.
type Network struct {
	handler Handler
	seen    *lru.Cache

	mu    sync.Mutex
	peers map[*Peer]bool
	ln    net.Listener

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a network forwarding the incoming packets to handler.
// seenSize bounds the dedupe cache of relayed payloads.
func New(handler Handler, seenSize int) *Network {
	if seenSize <= 0 {
		seenSize = defaultSeenSize
	}

	seen, err := lru.New(seenSize)
	if err != nil {
		panic(err)
	}

	return &Network{
		handler: handler,
		seen:    seen,
		peers:   make(map[*Peer]bool),
		quit:    make(chan struct{}),
	}
}

// Start listens for incoming connections on the address.
func (n *Network) Start(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}

	n.mu.Lock()
	n.ln = l
	n.mu.Unlock()

	log.Info("network listening", "addr", l.Addr())
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			conn, err := l.Accept()
			if err != nil {
				select {
				case <-n.quit:
				default:
					log.Error("accept connection failed", "err", err)
				}
				return
			}

			n.addPeer(conn)
		}
	}()

	return nil
}

// Addr returns the listening address, nil before Start.
func (n *Network) Addr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.ln == nil {
		return nil
	}

	return n.ln.Addr()
}

// Connect keeps a connection to each of the addresses, redialing with
// backoff when it fails or drops.
func (n *Network) Connect(addrs ...string) {
	for _, addr := range addrs {
		n.wg.Add(1)
		go n.keepConnected(addr)
	}
}

func (n *Network) keepConnected(addr string) {
	defer n.wg.Done()

	delay := minRedialDelay
	for {
		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err == nil {
			delay = minRedialDelay
			log.Debug("connected to peer", "addr", addr)
			p := n.addPeer(conn)
			select {
			case <-p.Done():
			case <-n.quit:
				return
			}
		} else {
			log.Debug("dial peer failed", "addr", addr, "err", err, "retry", delay)
		}

		select {
		case <-time.After(delay):
		case <-n.quit:
			return
		}

		delay *= 2
		if delay > maxRedialDelay {
			delay = maxRedialDelay
		}
	}
}

func (n *Network) addPeer(conn net.Conn) *Peer {
	p := newPeer(conn)
	n.mu.Lock()
	select {
	case <-n.quit:
		n.mu.Unlock()
		p.start(&inbound{n: n, src: p})
		p.Close()
		return p
	default:
	}

	n.peers[p] = true
	n.mu.Unlock()

	p.start(&inbound{n: n, src: p})
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		<-p.Done()
		n.mu.Lock()
		delete(n.peers, p)
		n.mu.Unlock()
	}()
	return p
}

// PeerCount returns the number of connected peers.
func (n *Network) PeerCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.peers)
}

func (n *Network) peerList(except *Peer) []*Peer {
	n.mu.Lock()
	defer n.mu.Unlock()

	r := make([]*Peer, 0, len(n.peers))
	for p := range n.peers {
		if p != except {
			r = append(r, p)
		}
	}
	return r
}

// markSeen returns true if the payload was not seen before.
func (n *Network) markSeen(t packetType, payload []byte) bool {
	h := consensus.SHA3([]byte{byte(t)}, payload)
	ok, _ := n.seen.ContainsOrAdd(h, struct{}{})
	return !ok
}

func (n *Network) relay(except *Peer, pac packet) {
	for _, p := range n.peerList(except) {
		err := p.send(pac)
		if err != nil {
			log.Debug("send packet failed", "remote", p.RemoteAddr(), "type", pac.T, "err", err)
		}
	}
}

// Broadcast sends the encoded consensus message to all peers.
func (n *Network) Broadcast(payload []byte) error {
	n.markSeen(consensusArg, payload)
	n.relay(nil, packet{T: consensusArg, Data: payload})
	return nil
}

// BroadcastTxn sends the transaction to all peers.
func (n *Network) BroadcastTxn(txn []byte) {
	n.markSeen(txnArg, txn)
	n.relay(nil, packet{T: txnArg, Data: txn})
}

// Sync requests the finalized blocks starting from the height from
// all peers.
func (n *Network) Sync(from uint64) {
	for _, p := range n.peerList(nil) {
		err := p.Sync(from)
		if err != nil {
			log.Debug("send sync request failed", "remote", p.RemoteAddr(), "err", err)
		}
	}
}

// Stop closes the listener and all connections.
func (n *Network) Stop() {
	n.stopOnce.Do(func() {
		n.mu.Lock()
		close(n.quit)
		if n.ln != nil {
			err := n.ln.Close()
			if err != nil {
				log.Error("close listener error", "err", err)
			}
		}
		peers := make([]*Peer, 0, len(n.peers))
		for p := range n.peers {
			peers = append(peers, p)
		}
		n.mu.Unlock()

		for _, p := range peers {
			p.Close()
		}
		n.wg.Wait()
	})
}

// inbound handles the packets of one peer.
type inbound struct {
	n   *Network
	src *Peer
}

func (i *inbound) Consensus(payload []byte) {
	if !i.n.markSeen(consensusArg, payload) {
		return
	}

	i.n.handler.Consensus(payload)
	i.n.relay(i.src, packet{T: consensusArg, Data: payload})
}

func (i *inbound) Txn(txn []byte) {
	if !i.n.markSeen(txnArg, txn) {
		return
	}

	i.n.handler.Txn(txn)
	i.n.relay(i.src, packet{T: txnArg, Data: txn})
}

func (i *inbound) Sync(from uint64) [][]byte {
	return i.n.handler.Sync(from)
}

func (i *inbound) Blocks(blocks [][]byte) {
	i.n.handler.Blocks(blocks)
}
