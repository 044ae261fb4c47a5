package main

import (
	"flag"
	"fmt"
	"math/rand"
)

func main() {
	seed := flag.Int64("seed", 0, "the seed used for the random transaction generation process")
	count := flag.Int("count", 100000, "transaction count")
	size := flag.Int("size", 128, "maximum transaction size in bytes")
	flag.Parse()

	r := rand.New(rand.NewSource(*seed))
	for i := 0; i < *count; i++ {
		txn := make([]byte, r.Intn(*size)+1)
		r.Read(txn)
		fmt.Printf("%x\n", txn)
	}
}
