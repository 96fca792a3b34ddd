// Command kadnode runs a standalone Kademlia/Mainline DHT node: a UDP KRPC
// endpoint plus a text control socket, the Go rewrite of the original
// dhtd daemon.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"kadnode"
	"kadnode/logger"
)

func main() {
	cfg := kadnode.NewConfig()
	verbose := flag.Bool("verbose", false, "log every query and control command to stderr")
	kadnode.RegisterFlags(flag.CommandLine, &cfg)
	flag.Parse()

	var lg logger.DebugLogger = &logger.NullLogger{}
	if *verbose {
		lg = &logger.StdLogger{}
	}

	n, err := kadnode.New(cfg, lg)
	if err != nil {
		log.Fatalf("kadnode: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if err := n.Run(ctx); err != nil {
		log.Fatalf("kadnode: %v", err)
	}
}
