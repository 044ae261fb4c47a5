package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"net/rpc"
	"os"
	"time"

	"github.com/helinwang/qbft/pkg/node"
)

func txnPoolSize(client *rpc.Client) (int, error) {
	var s node.ChainStatus
	err := client.Call("NodeService.ChainStatus", 0, &s)
	if err != nil {
		return 0, err
	}

	return s.TxnPoolSize, nil
}

func main() {
	txnPath := flag.String("txn", "", "path to the transaction file to replay, one hex encoded transaction per line")
	addr := flag.String("addr", ":12001", "node's RPC endpoint")
	maxPending := flag.Int("max-pending", 5000, "pause while the node has more pending transactions")
	flag.Parse()

	client, err := rpc.DialHTTP("tcp", *addr)
	if err != nil {
		panic(err)
	}
	defer client.Close()

	f, err := os.Open(*txnPath)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	sent := 0
	s := bufio.NewScanner(f)
	for s.Scan() {
		for {
			poolSize, err := txnPoolSize(client)
			if err != nil {
				panic(err)
			}

			if poolSize <= *maxPending {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}

		txn, err := hex.DecodeString(s.Text())
		if err != nil {
			panic(err)
		}

		var d int
		err = client.Call("NodeService.SendTxn", txn, &d)
		if err != nil {
			fmt.Printf("send transaction failed: %v\n", err)
			continue
		}
		sent++
	}

	if s.Err() != nil {
		panic(s.Err())
	}

	fmt.Printf("%d transactions sent\n", sent)
}
