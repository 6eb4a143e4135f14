// Command lsmkv-server wires EngineConfig, Storage and WalStorage, starts
// the Engine (which spawns the Dispatcher and Compactor) and the TCP
// Server, and blocks until SIGINT/SIGTERM. Grounded on the teacher's
// main.go: a thin binary entry point deferring all real logic to packages.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau/lsmkv/internal/config"
	"github.com/bureau/lsmkv/internal/engine"
	"github.com/bureau/lsmkv/internal/server"
	"github.com/bureau/lsmkv/internal/storage"
	"github.com/bureau/lsmkv/internal/wal"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "lsmkv-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		dataDir        = flag.String("data-dir", envOr("LSMKV_DATA_DIR", "data"), "directory for SSTs and WAL generations")
		listenAddr     = flag.String("listen", envOr("LSMKV_LISTEN", config.DefaultListenAddr), "TCP listen address")
		maxConnections = flag.Int("max-connections", config.DefaultMaxConnections, "maximum concurrent client connections")
		memTableSize   = flag.Int("memtable-max-size", config.DefaultMemTableMaxSize, "MemTable byte budget before flush")
		cacheCapacity  = flag.Int("cache-capacity", config.DefaultCacheCapacity, "lookup cache entry capacity")
		sstBufSize     = flag.Int("sst-buf-size", config.DefaultSSTBufSize, "max concurrent in-flight SST persists")
		compactEvery   = flag.Duration("compaction-interval", config.DefaultCompactionInterval, "interval between compaction passes")
		compactAt      = flag.Int("compaction-threshold", config.DefaultCompactionThreshold, "minimum SST count before compaction runs")
		drainTimeout   = flag.Duration("drain-timeout", config.DefaultDrainTimeout, "time in-flight connections get to finish on shutdown")
	)
	flag.Parse()

	cfg := config.New(
		config.WithDataDir(*dataDir),
		config.WithListenAddr(*listenAddr),
		config.WithMaxConnections(*maxConnections),
		config.WithMemTableMaxSize(*memTableSize),
		config.WithCacheCapacity(*cacheCapacity),
		config.WithSSTBufSize(*sstBufSize),
		config.WithCompactionInterval(*compactEvery),
		config.WithCompactionThreshold(*compactAt),
		config.WithDrainTimeout(*drainTimeout),
	)

	st := storage.NewDisk(cfg.DataDir + "/sst")
	ws, err := wal.NewDiskWalStorage(cfg.DataDir + "/wal")
	if err != nil {
		return fmt.Errorf("open wal storage: %w", err)
	}

	e, err := engine.New(cfg, st, ws)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	srv, err := server.New(e, cfg.ListenAddr, cfg.MaxConnections, cfg.DrainTimeout)
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	fmt.Fprintf(os.Stderr, "lsmkv-server: listening on %s (data dir %s)\n", srv.Addr(), cfg.DataDir)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-sig:
		fmt.Fprintln(os.Stderr, "lsmkv-server: shutting down")
	}

	if err := srv.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "lsmkv-server: server shutdown: %v\n", err)
	}
	if err := e.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "lsmkv-server: engine shutdown: %v\n", err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
