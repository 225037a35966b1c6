package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/docshard/docshard/internal/command"
	"github.com/docshard/docshard/internal/configstore"
	"github.com/docshard/docshard/internal/coordinator"
	"github.com/docshard/docshard/internal/distlock"
	"github.com/docshard/docshard/internal/donor"
	"github.com/docshard/docshard/internal/localstore"
	"github.com/docshard/docshard/internal/metrics"
	"github.com/docshard/docshard/internal/recipient"
	"github.com/docshard/docshard/internal/wire"
)

var (
	addr        = flag.String("addr", ":7379", "RESP command listen address")
	metricsAddr = flag.String("metrics-addr", ":7380", "Prometheus /metrics listen address")
	dataDir     = flag.String("data-dir", "./data", "BadgerDB directory; ignored with -store=memory")
	storeKind   = flag.String("store", "badger", "config store backend: badger or memory")
	nodeID      = flag.String("node-id", "", "process ID for lock/ping identity (auto-generated if empty)")
)

func main() {
	flag.Parse()

	processID := *nodeID
	if processID == "" {
		id, err := distlock.NewProcessID()
		if err != nil {
			log.Fatalf("generate process id: %v", err)
		}
		processID = id
	}
	log.Printf("shardd: process id %s", processID)

	store, closeStore := openConfigStore(*storeKind, *dataDir)
	defer closeStore()

	local := localstore.New()
	capture := donor.New(local)
	migration := recipient.New(local)

	pinger := distlock.NewPinger(store, processID, 0)
	defer pinger.Stop()

	coord := coordinator.New(store, local, capture, wire.NewRecipientDialer(), processID, pinger)

	daemon := &wire.Daemon{
		Local:       local,
		Capture:     capture,
		Migration:   migration,
		Coordinator: coord,
	}
	registry := command.New()
	daemon.Register(registry)

	server := wire.NewServer(*addr, registry)
	exporter := metrics.NewExporter(*metricsAddr)

	go func() {
		if err := exporter.Start(); err != nil {
			log.Printf("metrics exporter stopped: %v", err)
		}
	}()

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("wire server stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shardd: shutting down")

	if err := server.Stop(); err != nil {
		log.Printf("error stopping wire server: %v", err)
	}
	if err := exporter.Stop(); err != nil {
		log.Printf("error stopping metrics exporter: %v", err)
	}
}

// openConfigStore returns the configured ConfigStore backend and a close
// function; memory is for local testing, badger is the durable default.
func openConfigStore(kind, dataDir string) (configstore.ConfigStore, func()) {
	switch kind {
	case "memory":
		return configstore.NewMemStore(), func() {}
	case "badger":
		bs, err := configstore.OpenBadgerStore(dataDir)
		if err != nil {
			log.Fatalf("open config store at %s: %v", dataDir, err)
		}
		return bs, func() {
			if err := bs.Close(); err != nil {
				log.Printf("error closing config store: %v", err)
			}
		}
	default:
		log.Fatalf("unknown -store %q, want badger or memory", kind)
		return nil, nil
	}
}
