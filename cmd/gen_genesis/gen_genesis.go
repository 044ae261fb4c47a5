package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/helinwang/qbft/pkg/chain"
	"github.com/helinwang/qbft/pkg/consensus"
)

func credentialAddrs(dir string) ([]consensus.Addr, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "node-*"))
	if err != nil {
		return nil, err
	}

	sort.Strings(paths)
	var addrs []consensus.Addr
	for _, p := range paths {
		key, err := crypto.LoadECDSA(p)
		if err != nil {
			return nil, fmt.Errorf("load %s: %v", p, err)
		}

		addrs = append(addrs, consensus.PubkeyToAddr(&key.PublicKey))
	}
	return addrs, nil
}

func parseAddrs(list string) ([]consensus.Addr, error) {
	var addrs []consensus.Addr
	for _, s := range strings.Split(list, ",") {
		s = strings.TrimSpace(s)
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid validator address: %q", s)
		}

		addrs = append(addrs, consensus.Addr(common.HexToAddress(s)))
	}
	return addrs, nil
}

func main() {
	var credentials string
	var validators string
	var out string

	flag.StringVar(&credentials, "credentials", "", "directory of the validator key files generated by gen_credentials")
	flag.StringVar(&validators, "validators", "", "comma separated validator addresses, used when -credentials is not set")
	flag.StringVar(&out, "o", "./genesis.rlp", "output genesis file")
	flag.Parse()

	var addrs []consensus.Addr
	var err error
	if credentials != "" {
		addrs, err = credentialAddrs(credentials)
	} else {
		addrs, err = parseAddrs(validators)
	}
	if err != nil {
		panic(err)
	}

	genesis, err := chain.NewGenesis(addrs, uint64(time.Now().UnixMilli()))
	if err != nil {
		panic(err)
	}

	err = ioutil.WriteFile(out, genesis.Encode(), 0644)
	if err != nil {
		panic(err)
	}

	fmt.Printf("genesis %v with %d validators written to %s\n", genesis.Hash().Hex(), len(addrs), out)
}
