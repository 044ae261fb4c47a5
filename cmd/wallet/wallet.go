package main

import (
	"encoding/hex"
	"fmt"
	"net/rpc"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/helinwang/qbft/pkg/node"
	"github.com/urfave/cli"
)

var rpcAddr string

func dial() (*rpc.Client, error) {
	return rpc.DialHTTP("tcp", rpcAddr)
}

func printStatus(c *cli.Context) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()

	var s node.ChainStatus
	err = client.Call("NodeService.ChainStatus", 0, &s)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', 0)
	fmt.Fprintf(w, "Addr\t%s\n", s.Addr.Hex())
	fmt.Fprintf(w, "Head\t%d (%s)\n", s.Head, s.HeadHash.Hex())
	fmt.Fprintf(w, "View\t%v\n", s.Consensus.View)
	fmt.Fprintf(w, "Phase\t%v\n", s.Consensus.Phase)
	fmt.Fprintf(w, "Validator\t%v\n", s.Consensus.Validator)
	fmt.Fprintf(w, "Proposer\t%s\n", s.Consensus.Proposer.Hex())
	fmt.Fprintf(w, "Pending txns\t%d\n", s.TxnPoolSize)
	fmt.Fprintf(w, "Peers\t%d\n", s.Peers)
	return w.Flush()
}

func printBlock(c *cli.Context) error {
	height, err := strconv.ParseUint(c.Args().First(), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid height %q: %v", c.Args().First(), err)
	}

	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()

	var b node.BlockInfo
	err = client.Call("NodeService.Block", height, &b)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', 0)
	fmt.Fprintf(w, "Number\t%d\n", b.Number)
	fmt.Fprintf(w, "Hash\t%s\n", b.Hash.Hex())
	fmt.Fprintf(w, "Parent\t%s\n", b.ParentHash.Hex())
	fmt.Fprintf(w, "Time\t%d\n", b.Time)
	fmt.Fprintf(w, "Proposer\t%s\n", b.Proposer.Hex())
	fmt.Fprintf(w, "Round\t%d\n", b.Round)
	fmt.Fprintf(w, "Seals\t%d\n", b.Seals)
	fmt.Fprintf(w, "Txns\t%d\n", len(b.Txns))
	for _, txn := range b.Txns {
		fmt.Fprintf(w, "\t%x\n", txn)
	}
	return w.Flush()
}

func sendTxn(c *cli.Context) error {
	txn, err := hex.DecodeString(c.Args().First())
	if err != nil {
		return fmt.Errorf("transaction must be hex encoded: %v", err)
	}

	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()

	var d int
	err = client.Call("NodeService.SendTxn", txn, &d)
	if err != nil {
		return err
	}

	fmt.Println("transaction sent")
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "QBFT wallet"
	app.Usage = ""

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:        "addr",
			Value:       ":12001",
			Usage:       "node's RPC endpoint",
			Destination: &rpcAddr,
		},
	}

	app.Commands = []cli.Command{
		{
			Name:   "status",
			Usage:  "Print the node status: ./wallet status",
			Action: printStatus,
		},
		{
			Name:   "block",
			Usage:  "Print a finalized block: ./wallet block HEIGHT",
			Action: printBlock,
		},
		{
			Name:   "send",
			Usage:  "Send a raw transaction: ./wallet send HEX_ENCODED_TXN",
			Action: sendTxn,
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Printf("command failed with error: %v\n", err)
	}
}
