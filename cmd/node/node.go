package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/helinwang/qbft/pkg/node"
	log "github.com/inconshreveable/log15"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"
)

func loadConfig(c *cli.Context) (node.Config, error) {
	cfg := node.DefaultConfig()
	if path := c.String("config"); path != "" {
		var err error
		cfg, err = node.LoadConfig(path)
		if err != nil {
			return cfg, err
		}
	}

	if c.IsSet("key") {
		cfg.KeyFile = c.String("key")
	}
	if c.IsSet("genesis") {
		cfg.GenesisFile = c.String("genesis")
	}
	if c.IsSet("datadir") {
		cfg.DataDir = c.String("datadir")
	}
	if c.IsSet("listen") {
		cfg.Listen = c.String("listen")
	}
	if c.IsSet("peer") {
		cfg.Peers = c.StringSlice("peer")
	}
	if c.IsSet("metrics") {
		cfg.MetricsAddr = c.String("metrics")
	}
	if c.IsSet("rpc") {
		cfg.RPCAddr = c.String("rpc")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	return cfg, nil
}

func serveMetrics(addr string, n *node.Node) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(n.Gatherer(), promhttp.HandlerOpts{}))
	go func() {
		err := http.ListenAndServe(addr, mux)
		if err != nil {
			log.Error("error serving metrics", "err", err)
		}
	}()
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	lvl, err := log.LvlFromString(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(os.Stderr, log.TerminalFormat())))

	n, err := node.New(cfg)
	if err != nil {
		return err
	}

	err = n.Start()
	if err != nil {
		n.Stop()
		return err
	}

	if cfg.MetricsAddr != "" {
		serveMetrics(cfg.MetricsAddr, n)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig)
	n.Stop()
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "node"
	app.Usage = "QBFT validator node"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Usage: "path to the YAML config file",
		},
		cli.StringFlag{
			Name:  "key",
			Usage: "path to the node key file",
		},
		cli.StringFlag{
			Name:  "genesis",
			Usage: "path to the genesis block file",
		},
		cli.StringFlag{
			Name:  "datadir",
			Usage: "data directory, everything is kept in memory if empty",
		},
		cli.StringFlag{
			Name:  "listen",
			Value: ":8008",
			Usage: "address to listen for peer connections on",
		},
		cli.StringSliceFlag{
			Name:  "peer",
			Usage: "static peer address, can be repeated",
		},
		cli.StringFlag{
			Name:  "metrics",
			Usage: "address to serve prometheus metrics on",
		},
		cli.StringFlag{
			Name:  "rpc",
			Usage: "address to serve the node RPC on",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "log level: debug, info, warn, error or crit",
		},
	}
	app.Action = run

	err := app.Run(os.Args)
	if err != nil {
		fmt.Printf("command failed with error: %v\n", err)
		os.Exit(1)
	}
}
