package server_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau/lsmkv/client"
	"github.com/bureau/lsmkv/internal/config"
	"github.com/bureau/lsmkv/internal/engine"
	"github.com/bureau/lsmkv/internal/server"
	"github.com/bureau/lsmkv/internal/storage"
	"github.com/bureau/lsmkv/internal/wal"
)

func startTestServer(t *testing.T) (addr string, shutdown func()) {
	t.Helper()
	dir := t.TempDir()

	st := storage.NewDisk(filepath.Join(dir, "sst"))
	ws, err := wal.NewDiskWalStorage(filepath.Join(dir, "wal"))
	if err != nil {
		t.Fatalf("new wal storage failed: %v", err)
	}
	cfg := config.New(
		config.WithDataDir(dir),
		config.WithListenAddr("127.0.0.1:0"),
		config.WithMaxConnections(4),
		config.WithDrainTimeout(time.Second),
		config.WithCompactionInterval(time.Hour),
	)

	e, err := engine.New(cfg, st, ws)
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}

	s, err := server.New(e, cfg.ListenAddr, cfg.MaxConnections, cfg.DrainTimeout)
	if err != nil {
		t.Fatalf("new server failed: %v", err)
	}

	go s.Serve()

	return s.Addr().String(), func() {
		s.Shutdown()
		e.Shutdown()
	}
}

func TestServerGetSetRoundTrip(t *testing.T) {
	addr, shutdown := startTestServer(t)
	defer shutdown()

	c, err := client.Dial(addr, time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer c.Close()

	if err := c.Set([]byte("foo"), []byte("bar")); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	value, found, err := c.Get([]byte("foo"))
	if err != nil {
		t.Fatalf("get errored: %v", err)
	}
	if !found || string(value) != "bar" {
		t.Fatalf("expected found bar, got %v %q", found, value)
	}

	_, found, err = c.Get([]byte("missing"))
	if err != nil {
		t.Fatalf("get errored: %v", err)
	}
	if found {
		t.Fatal("expected miss for absent key")
	}
}

func TestServerRejectsOversizeKey(t *testing.T) {
	addr, shutdown := startTestServer(t)
	defer shutdown()

	c, err := client.Dial(addr, time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer c.Close()

	big := make([]byte, 513)
	for i := range big {
		big[i] = 'k'
	}
	if err := c.Set(big, []byte("v")); err == nil {
		t.Fatal("expected error for oversize key")
	}
}

func TestServerEnforcesConnectionCap(t *testing.T) {
	addr, shutdown := startTestServer(t)
	defer shutdown()

	var clients []*client.Client
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()

	// Open more connections than the cap and confirm at least one gets
	// dropped: a Set on it should fail since the server closed the socket.
	rejected := false
	for i := 0; i < 8; i++ {
		c, err := client.Dial(addr, time.Second)
		if err != nil {
			t.Fatalf("dial %d failed: %v", i, err)
		}
		clients = append(clients, c)
		if err := c.Set([]byte("k"), []byte("v")); err != nil {
			rejected = true
		}
	}
	if !rejected {
		t.Fatal("expected at least one connection to be rejected past the cap")
	}
}
