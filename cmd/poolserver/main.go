// Command poolserver runs a standalone resource pool as an HTTP/1.0
// RPC service, so that worker subprocesses on other hosts (or in other
// processes on the same host) can share one pool through
// internal/resourcepool/client rather than each owning a private one.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"testexec/internal/resourcepool"
	"testexec/internal/resourcepool/server"
)

func main() {
	var specFile, addr string
	flag.StringVar(&specFile, "resource-pool-file", "", "resource pool spec file (YAML/JSON)")
	flag.StringVar(&addr, "addr", "uds:/tmp/testexec-pool.sock", "listen address: uds:PATH or tcp:HOST:PORT")
	flag.Parse()

	var pool *resourcepool.Pool
	var err error
	if specFile != "" {
		pool, err = resourcepool.LoadSpecFile(specFile)
	} else {
		pool = resourcepool.New()
	}
	if err != nil {
		log.Fatalf("poolserver: load spec: %v", err)
	}

	parsed, err := resourcepool.ParseAddr(addr)
	if err != nil {
		log.Fatalf("poolserver: %v", err)
	}
	if parsed.Network == "unix" {
		_ = os.Remove(parsed.Address)
	}

	srv := server.New(pool)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		if parsed.Network == "unix" {
			_ = os.Remove(parsed.Address)
		}
		os.Exit(0)
	}()

	log.Printf("resource pool server listening on %s", addr)
	if err := srv.ListenAndServe(parsed.Network, parsed.Address); err != nil {
		log.Fatalf("poolserver: listen failed: %v", err)
	}
}
