package main

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nozo-moto/quorumlock"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newMemoryManager(t *testing.T) *quorumlock.Manager {
	t.Helper()
	nodes := []quorumlock.Node{
		{Host: "m1", Port: 1},
		{Host: "m2", Port: 1},
		{Host: "m3", Port: 1},
	}
	m, err := quorumlock.New(nodes, quorumlock.MemoryDialer(), quorumlock.WithRetryCount(1))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestWorker(t *testing.T) {
	worker := NewWorker(newMemoryManager(t))
	before := count.count

	done, err := worker.run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("expected the worker to take the lock")
	}
	if count.count != before+1 {
		t.Fatalf("count = %d, want %d", count.count, before+1)
	}
}

func TestWorker_LockHeldElsewhere(t *testing.T) {
	m := newMemoryManager(t)
	h, ok, err := m.Acquire(context.Background(), "counter", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	defer m.Release(context.Background(), h)

	done, err := NewWorker(m).run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Fatal("worker must skip while another holder has the lock")
	}
}

func TestWorker_MySQL(t *testing.T) {
	if os.Getenv("QUORUMLOCK_ADDRS") == "" {
		t.Skip("QUORUMLOCK_ADDRS not set")
	}
	cfg, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	m, err := quorumlock.NewFromConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if _, err := NewWorker(m).run(context.Background()); err != nil {
		t.Fatal(err)
	}
}
