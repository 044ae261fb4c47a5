package main

import (
	"encoding/hex"
	"flag"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/helinwang/qbft/pkg/consensus"
)

func main() {
	c := flag.String("c", "", "path to the node key file")
	flag.Parse()

	key, err := crypto.LoadECDSA(*c)
	if err != nil {
		panic(err)
	}

	fmt.Println("credential info (bytes encoded using hex):")
	fmt.Printf("PK: %s\n", hex.EncodeToString(crypto.FromECDSAPub(&key.PublicKey)))
	fmt.Printf("Addr: %s\n", consensus.PubkeyToAddr(&key.PublicKey).Hex())
}
