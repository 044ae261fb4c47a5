package node

import (
	"crypto/ecdsa"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/helinwang/qbft/pkg/chain"
	"github.com/helinwang/qbft/pkg/consensus"
	"github.com/helinwang/qbft/pkg/metrics"
	"github.com/helinwang/qbft/pkg/network"
	"github.com/helinwang/qbft/pkg/safety"
	"github.com/helinwang/qbft/pkg/txpool"
	log "github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	maxSyncBlocks = 128
	dbCache       = 16
	dbHandles     = 16
)

// Node is a validator, or an observer when its key is not in the
// validator set. It wires the consensus engine to the chain store,
// the transaction pool and the TCP network.
type Node struct {
	cfg      Config
	key      *ecdsa.PrivateKey
	addr     consensus.Addr
	db       ethdb.KeyValueStore
	chain    *chain.Chain
	pool     *txpool.TxnPool
	store    *safety.BadgerStore
	registry *prometheus.Registry
	net      *network.Network
	engine   *consensus.Engine
	rpc      *RPCServer

	quit      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates the node, opening the stores under the data dir.
func New(cfg Config) (*Node, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	key, err := crypto.LoadECDSA(cfg.KeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "load key file")
	}

	genesis, err := chain.LoadGenesis(cfg.GenesisFile)
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:      cfg,
		key:      key,
		addr:     consensus.PubkeyToAddr(&key.PublicKey),
		pool:     txpool.NewTxnPool(cfg.TxnPoolSize),
		registry: prometheus.NewRegistry(),
		quit:     make(chan struct{}),
	}

	err = n.openStores()
	if err != nil {
		return nil, err
	}

	n.chain, err = chain.NewChain(n.db, genesis)
	if err != nil {
		n.closeStores()
		return nil, err
	}

	m, err := metrics.New(n.registry)
	if err != nil {
		n.closeStores()
		return nil, err
	}

	builder := chain.NewBuilder(n.addr, n.pool, cfg.MaxBlockTxns)
	builder.Period = cfg.BlockPeriod
	n.net = network.New(n, cfg.Consensus.MessageCacheSize)
	n.engine, err = consensus.NewEngine(cfg.Consensus, key, consensus.Backend{
		Chain:      n.chain,
		Validators: consensus.NewHeaderValidators(n.chain),
		Network:    n.net,
		Builder:    builder,
		Importer:   n.chain,
		Store:      n.store,
		Metrics:    m,
	})
	if err != nil {
		n.closeStores()
		return nil, err
	}

	n.rpc, err = NewRPCServer(n)
	if err != nil {
		n.closeStores()
		return nil, err
	}

	n.chain.Subscribe(func(b *consensus.Block) {
		n.pool.RemoveIncluded(b)
		n.engine.NewChainHead()
	})
	return n, nil
}

func (n *Node) openStores() error {
	if n.cfg.DataDir == "" {
		n.db = memorydb.New()
		s, err := safety.NewMemStore()
		if err != nil {
			return err
		}

		n.store = s
		return nil
	}

	db, err := leveldb.New(filepath.Join(n.cfg.DataDir, "chain"), dbCache, dbHandles, "qbft/chain/", false)
	if err != nil {
		return errors.Wrap(err, "open chain db")
	}

	s, err := safety.NewBadgerStore(filepath.Join(n.cfg.DataDir, "safety"))
	if err != nil {
		db.Close()
		return err
	}

	n.db = db
	n.store = s
	return nil
}

func (n *Node) closeStores() {
	err := n.store.Close()
	if err != nil {
		log.Error("close prepared store error", "err", err)
	}

	err = n.db.Close()
	if err != nil {
		log.Error("close chain db error", "err", err)
	}
}

// Start starts the network and the consensus engine.
func (n *Node) Start() error {
	err := errors.New("node already started")
	n.startOnce.Do(func() {
		err = n.net.Start(n.cfg.Listen)
		if err != nil {
			return
		}

		n.net.Connect(n.cfg.Peers...)
		if n.cfg.RPCAddr != "" {
			err = n.rpc.Start(n.cfg.RPCAddr)
			if err != nil {
				n.net.Stop()
				return
			}
		}

		err = n.engine.Start()
		if err != nil {
			n.rpc.Stop()
			n.net.Stop()
			return
		}

		log.Info("node started", "addr", n.addr, "head", n.chain.ChainHeadBlockNumber())
		n.wg.Add(2)
		go n.logErrors()
		go n.syncLoop()
	})
	return err
}

// Stop stops the node and closes the stores.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.quit)
		n.engine.Stop()
		n.net.Stop()
		n.rpc.Stop()
		n.wg.Wait()
		n.closeStores()
	})
}

func (n *Node) logErrors() {
	defer n.wg.Done()
	for {
		select {
		case <-n.quit:
			return
		case err := <-n.engine.Errors():
			var ie *consensus.ImportError
			if errors.As(err, &ie) {
				log.Warn("finalized block not imported, requesting sync", "height", ie.Height, "err", ie.Err)
				n.net.Sync(n.chain.ChainHeadBlockNumber() + 1)
				continue
			}

			log.Error("consensus error", "err", err)
		}
	}
}

func (n *Node) syncLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.quit:
			return
		case <-ticker.C:
			n.net.Sync(n.chain.ChainHeadBlockNumber() + 1)
		}
	}
}

// Addr returns the address of the node key.
func (n *Node) Addr() consensus.Addr {
	return n.addr
}

// Chain returns the chain of the node.
func (n *Node) Chain() *chain.Chain {
	return n.chain
}

// Status returns the consensus status.
func (n *Node) Status() consensus.Status {
	return n.engine.Status()
}

// RPCAddr returns the address the RPC server listens on, empty if
// it is not started.
func (n *Node) RPCAddr() string {
	if n.rpc.l == nil {
		return ""
	}
	return n.rpc.Addr()
}

// Gatherer returns the metrics of the node.
func (n *Node) Gatherer() prometheus.Gatherer {
	return n.registry
}

// ListenAddr returns the address the network listens on, empty
// before Start.
func (n *Node) ListenAddr() string {
	a := n.net.Addr()
	if a == nil {
		return ""
	}
	return a.String()
}

// Connect connects to the peers in addition to the configured ones.
func (n *Node) Connect(addrs ...string) {
	n.net.Connect(addrs...)
}

// SubmitTxn adds the transaction to the pool and relays it to the
// peers.
func (n *Node) SubmitTxn(txn []byte) error {
	err := n.pool.Add(txn)
	if err != nil {
		return err
	}

	n.net.BroadcastTxn(txn)
	return nil
}

// Consensus implements network.Handler.
func (n *Node) Consensus(payload []byte) {
	n.engine.HandleMessage(payload)
}

// Txn implements network.Handler.
func (n *Node) Txn(txn []byte) {
	err := n.pool.Add(txn)
	if err != nil {
		log.Debug("drop transaction", "hash", consensus.SHA3(txn), "err", err)
	}
}

// Sync implements network.Handler.
func (n *Node) Sync(from uint64) [][]byte {
	var r [][]byte
	for h := from; h < from+maxSyncBlocks; h++ {
		b, ok := n.chain.BlockByNumber(h)
		if !ok {
			break
		}

		r = append(r, b.Encode())
	}
	return r
}

// Blocks implements network.Handler. The blocks are imported in
// order, each one is checked against the commit seals of the
// validator set of its parent.
func (n *Node) Blocks(blocks [][]byte) {
	for _, d := range blocks {
		b, err := consensus.DecodeBlock(d)
		if err != nil {
			log.Warn("drop synced block", "err", err)
			return
		}

		if b.Number() <= n.chain.ChainHeadBlockNumber() {
			continue
		}

		err = n.chain.ImportFinalizedBlock(b)
		if err != nil {
			log.Warn("import synced block failed", "height", b.Number(), "err", err)
			return
		}
	}
}
