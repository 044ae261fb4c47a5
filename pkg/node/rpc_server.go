package node

import (
	"net"
	"net/http"
	"net/rpc"

	"github.com/helinwang/qbft/pkg/consensus"
	log "github.com/inconshreveable/log15"
	"github.com/pkg/errors"
)

// ChainStatus is the node status served over RPC.
type ChainStatus struct {
	Addr        consensus.Addr
	Head        uint64
	HeadHash    consensus.Hash
	Consensus   consensus.Status
	TxnPoolSize int
	Peers       int
}

// BlockInfo is a finalized block served over RPC.
type BlockInfo struct {
	Number     uint64
	Hash       consensus.Hash
	ParentHash consensus.Hash
	Time       uint64
	Proposer   consensus.Addr
	Round      uint32
	Seals      int
	Txns       [][]byte
}

// RPCServer serves the node status and accepts transactions over
// Go RPC.
type RPCServer struct {
	n  *Node
	l  net.Listener
	rs *rpc.Server
}

// NewRPCServer creates the RPC server of the node.
func NewRPCServer(n *Node) (*RPCServer, error) {
	r := &RPCServer{n: n, rs: rpc.NewServer()}
	err := r.rs.Register(&NodeService{s: r})
	if err != nil {
		return nil, err
	}

	return r, nil
}

// Start serves on the address.
func (r *RPCServer) Start(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen RPC on %s", addr)
	}

	r.l = l
	log.Info("RPC server listening", "addr", l.Addr())
	go func() {
		err := http.Serve(l, r.rs)
		if err != nil {
			log.Debug("RPC server stopped", "err", err)
		}
	}()
	return nil
}

// Addr returns the listening address.
func (r *RPCServer) Addr() string {
	return r.l.Addr().String()
}

// Stop closes the listener.
func (r *RPCServer) Stop() {
	if r.l == nil {
		return
	}

	err := r.l.Close()
	if err != nil {
		log.Error("close RPC listener error", "err", err)
	}
}

func (r *RPCServer) chainStatus(s *ChainStatus) error {
	head := r.n.chain.ChainHeadHeader()
	*s = ChainStatus{
		Addr:        r.n.addr,
		Head:        head.Number,
		HeadHash:    head.Hash(),
		Consensus:   r.n.engine.Status(),
		TxnPoolSize: r.n.pool.Size(),
		Peers:       r.n.net.PeerCount(),
	}
	return nil
}

func (r *RPCServer) block(height uint64, info *BlockInfo) error {
	b, ok := r.n.chain.BlockByNumber(height)
	if !ok {
		return errors.Errorf("block %d not found", height)
	}

	extra, err := consensus.DecodeExtra(b.Header.Extra)
	if err != nil {
		return err
	}

	*info = BlockInfo{
		Number:     b.Number(),
		Hash:       b.Hash(),
		ParentHash: b.Header.ParentHash,
		Time:       b.Header.Time,
		Proposer:   b.Header.Proposer,
		Round:      extra.Round,
		Seals:      len(extra.Seals),
		Txns:       b.Txns,
	}
	return nil
}

func (r *RPCServer) sendTxn(t []byte) error {
	return r.n.SubmitTxn(t)
}

// NodeService is the RPC service of the node.
type NodeService struct {
	s *RPCServer
}

func (s *NodeService) ChainStatus(_ int, state *ChainStatus) error {
	return s.s.chainStatus(state)
}

func (s *NodeService) Block(height uint64, info *BlockInfo) error {
	return s.s.block(height, info)
}

func (s *NodeService) SendTxn(t []byte, _ *int) error {
	return s.s.sendTxn(t)
}
