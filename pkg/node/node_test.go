package node

import (
	"crypto/ecdsa"
	"fmt"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/helinwang/qbft/pkg/chain"
	"github.com/helinwang/qbft/pkg/consensus"
	log "github.com/inconshreveable/log15"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Root().SetHandler(log.LvlFilterHandler(log.LvlWarn, log.StderrHandler))
	os.Exit(m.Run())
}

// testConfigs writes n keys and the genesis naming them, and returns
// the configurations of the nodes.
func testConfigs(t *testing.T, n int, persist bool) []Config {
	dir := t.TempDir()
	var keys []*ecdsa.PrivateKey
	var addrs []consensus.Addr
	for i := 0; i < n; i++ {
		key, err := crypto.GenerateKey()
		require.Nil(t, err)
		keys = append(keys, key)
		addrs = append(addrs, consensus.PubkeyToAddr(&key.PublicKey))
	}

	genesis, err := chain.NewGenesis(addrs, uint64(time.Now().UnixMilli()))
	require.Nil(t, err)
	genesisPath := filepath.Join(dir, "genesis.rlp")
	require.Nil(t, ioutil.WriteFile(genesisPath, genesis.Encode(), 0600))

	var cfgs []Config
	for i, key := range keys {
		keyPath := filepath.Join(dir, fmt.Sprintf("node-%d.key", i))
		require.Nil(t, crypto.SaveECDSA(keyPath, key))

		cfg := DefaultConfig()
		cfg.KeyFile = keyPath
		cfg.GenesisFile = genesisPath
		cfg.Listen = "127.0.0.1:0"
		cfg.BlockPeriod = 50 * time.Millisecond
		cfg.SyncInterval = 200 * time.Millisecond
		cfg.Consensus.RequestTimeout = 500 * time.Millisecond
		cfg.Consensus.MaxRoundTimeout = 2 * time.Second
		if persist {
			cfg.DataDir = filepath.Join(dir, fmt.Sprintf("data-%d", i))
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs
}

func startNodes(t *testing.T, cfgs []Config) []*Node {
	var nodes []*Node
	for _, cfg := range cfgs {
		n, err := New(cfg)
		require.Nil(t, err)
		require.Nil(t, n.Start())
		nodes = append(nodes, n)
	}

	for i, n := range nodes {
		for _, peer := range nodes[i+1:] {
			n.Connect(peer.ListenAddr())
		}
	}
	return nodes
}

func waitHeight(t *testing.T, nodes []*Node, height uint64) {
	for _, n := range nodes {
		n := n
		require.Eventually(t, func() bool {
			return n.Chain().ChainHeadBlockNumber() >= height
		}, 30*time.Second, 20*time.Millisecond)
	}
}

func TestNodesFinalizeOverTCP(t *testing.T) {
	nodes := startNodes(t, testConfigs(t, 4, false))
	defer func() {
		for _, n := range nodes {
			n.Stop()
		}
	}()

	require.Nil(t, nodes[0].SubmitTxn([]byte("hello")))
	waitHeight(t, nodes, 3)

	included := func() bool {
		c := nodes[0].Chain()
		for h := uint64(1); h <= c.ChainHeadBlockNumber(); h++ {
			b, ok := c.BlockByNumber(h)
			require.True(t, ok)
			for _, txn := range b.Txns {
				if string(txn) == "hello" {
					return true
				}
			}
		}
		return false
	}
	require.Eventually(t, included, 10*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		return nodes[0].pool.Size() == 0
	}, 5*time.Second, 20*time.Millisecond)

	for h := uint64(1); h <= 3; h++ {
		want, _ := nodes[0].Chain().BlockByNumber(h)
		for _, n := range nodes[1:] {
			b, ok := n.Chain().BlockByNumber(h)
			require.True(t, ok)
			assert.Equal(t, want.Hash(), b.Hash())
		}
	}
}

func TestNodeRestartKeepsChain(t *testing.T) {
	cfgs := testConfigs(t, 1, true)
	nodes := startNodes(t, cfgs)
	waitHeight(t, nodes, 2)
	nodes[0].Stop()
	height := nodes[0].Chain().ChainHeadBlockNumber()

	n, err := New(cfgs[0])
	require.Nil(t, err)
	assert.Equal(t, height, n.Chain().ChainHeadBlockNumber())

	require.Nil(t, n.Start())
	defer n.Stop()
	waitHeight(t, []*Node{n}, height+1)
}

func TestLaggingNodeSyncs(t *testing.T) {
	cfgs := testConfigs(t, 4, false)
	nodes := startNodes(t, cfgs[:3])
	defer func() {
		for _, n := range nodes {
			n.Stop()
		}
	}()
	waitHeight(t, nodes, 3)

	late, err := New(cfgs[3])
	require.Nil(t, err)
	require.Nil(t, late.Start())
	defer late.Stop()
	late.Connect(nodes[0].ListenAddr())

	waitHeight(t, []*Node{late}, 3)
	want, _ := nodes[0].Chain().BlockByNumber(3)
	got, ok := late.Chain().BlockByNumber(3)
	require.True(t, ok)
	assert.Equal(t, want.Hash(), got.Hash())
}

func TestSyncServesBlocks(t *testing.T) {
	cfgs := testConfigs(t, 1, false)
	n, err := New(cfgs[0])
	require.Nil(t, err)
	defer n.Stop()

	assert.Len(t, n.Sync(0), 1)
	assert.Empty(t, n.Sync(1))
}

func TestStartFailureStopsNetwork(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	defer busy.Close()

	cfg := testConfigs(t, 1, false)[0]
	cfg.RPCAddr = busy.Addr().String()
	n, err := New(cfg)
	require.Nil(t, err)
	defer n.Stop()

	require.NotNil(t, n.Start())
	addr := n.ListenAddr()
	require.NotEqual(t, "", addr)
	_, err = net.DialTimeout("tcp", addr, time.Second)
	assert.NotNil(t, err)
}
