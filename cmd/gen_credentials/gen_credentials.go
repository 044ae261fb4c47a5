package main

import (
	"crypto/ecdsa"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/helinwang/qbft/pkg/consensus"
)

// deriveKey returns the key derived from rand and the randomness
// for the next key.
func deriveKey(rand consensus.Hash) (*ecdsa.PrivateKey, consensus.Hash) {
	for {
		key, err := crypto.ToECDSA(rand[:])
		rand = consensus.SHA3(rand[:])
		if err == nil {
			return key, rand
		}
	}
}

func main() {
	num := flag.Int("N", 4, "number of credentials to generate")
	seed := flag.String("seed", "qbft-credentials", "random seed")
	dir := flag.String("dir", "./credentials", "output directory name")
	flag.Parse()

	err := os.MkdirAll(*dir, os.ModePerm)
	if err != nil {
		panic(err)
	}

	rand := consensus.SHA3([]byte(*seed))
	for i := 0; i < *num; i++ {
		var key *ecdsa.PrivateKey
		key, rand = deriveKey(rand)

		path := filepath.Join(*dir, fmt.Sprintf("node-%d", i))
		err = crypto.SaveECDSA(path, key)
		if err != nil {
			panic(err)
		}

		fmt.Printf("%s %s\n", path, consensus.PubkeyToAddr(&key.PublicKey).Hex())
	}
}
