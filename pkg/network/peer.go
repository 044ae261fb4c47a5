package network

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/inconshreveable/log15"
	"github.com/pkg/errors"
)

type packetType int

const (
	consensusArg packetType = iota
	txnArg
	syncArg
	syncRet
)

const (
	sendQueueSize = 1024
	writeTimeout  = 10 * time.Second
)

var (
	errSendQueueFull = errors.New("send queue full")
	errPeerClosed    = errors.New("peer closed")
)

type packet struct {
	T    packetType
	Data []byte
}

// Handler receives the packets relayed by a peer.
type Handler interface {
	// Consensus receives an encoded consensus message.
	Consensus(payload []byte)
	// Txn receives a raw transaction.
	Txn(txn []byte)
	// Sync returns the encoded finalized blocks starting from the
	// height, it serves the sync requests of the peer.
	Sync(from uint64) [][]byte
	// Blocks receives the encoded blocks replied to a sync request.
	Blocks(blocks [][]byte)
}

// Peer is a gob framed TCP connection to a remote node.
//
// Outbound packets are queued and written by a dedicated goroutine,
// so a slow peer never blocks the sender. Packets are dropped when
// the queue is full. Incoming packets are forwarded to Peer.myself.
type Peer struct {
	conn   net.Conn
	myself Handler
	out    chan packet
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// NewPeer creates a peer forwarding the incoming packets of conn to
// myself.
func NewPeer(conn net.Conn, myself Handler) *Peer {
	p := newPeer(conn)
	p.start(myself)
	return p
}

func newPeer(conn net.Conn) *Peer {
	return &Peer{
		conn: conn,
		out:  make(chan packet, sendQueueSize),
		done: make(chan struct{}),
	}
}

func (p *Peer) start(myself Handler) {
	p.myself = myself
	go p.read()
	go p.writeLoop()
}

// RemoteAddr returns the address of the remote node.
func (p *Peer) RemoteAddr() string {
	return p.conn.RemoteAddr().String()
}

// Done is closed when the connection is closed.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Err returns the error that closed the connection.
func (p *Peer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close closes the connection.
func (p *Peer) Close() {
	p.onErr(errPeerClosed)
}

func (p *Peer) onErr(err error) {
	p.closeOnce.Do(func() {
		if err != errPeerClosed {
			log.Info("Peer error, closing connection", "remote", p.RemoteAddr(), "err", err)
		}

		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)

		err = p.conn.Close()
		if err != nil {
			log.Error("close TCP conn error", "err", err)
		}
	})
}

func (p *Peer) read() {
	dec := gob.NewDecoder(p.conn)
	for {
		var pac packet
		err := dec.Decode(&pac)
		if err != nil {
			p.onErr(err)
			return
		}

		switch pac.T {
		case consensusArg:
			p.myself.Consensus(pac.Data)
		case txnArg:
			p.myself.Txn(pac.Data)
		case syncArg:
			var from uint64
			err := gobDecode(pac.Data, &from)
			if err != nil {
				p.onErr(err)
				return
			}

			blocks := p.myself.Sync(from)
			if len(blocks) == 0 {
				continue
			}

			d, err := gobEncode(blocks)
			if err != nil {
				p.onErr(err)
				return
			}

			err = p.send(packet{T: syncRet, Data: d})
			if err != nil {
				log.Warn("reply sync request failed", "remote", p.RemoteAddr(), "err", err)
			}
		case syncRet:
			var blocks [][]byte
			err := gobDecode(pac.Data, &blocks)
			if err != nil {
				p.onErr(err)
				return
			}

			p.myself.Blocks(blocks)
		default:
			p.onErr(fmt.Errorf("unrecognized package type: %d", pac.T))
			return
		}
	}
}

func (p *Peer) writeLoop() {
	// must use the same encoder instance, rather than create a
	// new encoder each time. Otherwise decode would get eror
	// "extra data in buffer".
	enc := gob.NewEncoder(p.conn)
	for {
		select {
		case <-p.done:
			return
		case pac := <-p.out:
			err := p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err != nil {
				p.onErr(err)
				return
			}

			err = enc.Encode(pac)
			if err != nil {
				p.onErr(err)
				return
			}
		}
	}
}

func (p *Peer) send(pac packet) error {
	select {
	case <-p.done:
		return p.Err()
	default:
	}

	select {
	case p.out <- pac:
		return nil
	default:
		return errSendQueueFull
	}
}

// Consensus sends an encoded consensus message.
func (p *Peer) Consensus(payload []byte) error {
	return p.send(packet{T: consensusArg, Data: payload})
}

// Txn sends a raw transaction.
func (p *Peer) Txn(txn []byte) error {
	return p.send(packet{T: txnArg, Data: txn})
}

// Sync requests the finalized blocks starting from the height. The
// reply is delivered to Handler.Blocks.
func (p *Peer) Sync(from uint64) error {
	d, err := gobEncode(from)
	if err != nil {
		return err
	}

	return p.send(packet{T: syncArg, Data: d})
}

func gobEncode(vs ...interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	for _, v := range vs {
		err := enc.Encode(v)
		if err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func gobDecode(d []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(d)).Decode(v)
}
