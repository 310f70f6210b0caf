package main

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	_ "net/http/pprof"

	"github.com/nozo-moto/flushprint"
	"github.com/nozo-moto/quorumlock"
	"golang.org/x/sync/errgroup"
)

func main() {
	go func() {
		log.Println(http.ListenAndServe("localhost:6060", nil))
	}()

	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}
	manager, err := quorumlock.NewFromConfig(cfg)
	if err != nil {
		panic(err)
	}
	defer manager.Close()

	eg, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 3; i++ {
		eg.Go(func() error {
			return NewWorker(manager).Run(i, ctx)
		})
	}

	if err := eg.Wait(); err != nil {
		panic(err)
	}
}

// loadConfig reads the nodes from the environment, for example
// QUORUMLOCK_ADDRS=localhost:3306,localhost:3307,localhost:3308, and fills in
// the credentials of the docker setup.
func loadConfig() (*quorumlock.Config, error) {
	cfg, err := quorumlock.LoadConfig("", "")
	if err != nil {
		return nil, err
	}
	cfg.Backend = quorumlock.BackendMySQL
	for i := range cfg.Nodes {
		if cfg.Nodes[i].Username == "" {
			cfg.Nodes[i].Username = "root"
			cfg.Nodes[i].Password = "pass"
			cfg.Nodes[i].Database = "test"
			cfg.Nodes[i].Timeout = time.Second
		}
	}
	return cfg, nil
}

type Locker interface {
	Acquire(ctx context.Context, resource string, ttl time.Duration) (*quorumlock.Handle, bool, error)
	Release(ctx context.Context, h *quorumlock.Handle) error
}

type Count struct {
	count int
	mux   sync.Mutex
}

var count Count

type Worker struct {
	locker Locker
	ttl    time.Duration
	id     int
	count  *Count
}

func NewWorker(locker Locker) *Worker {
	return &Worker{
		locker: locker,
		ttl:    time.Second * 2,
		count:  &count,
	}
}

func (w *Worker) Run(id int, ctx context.Context) error {
	w.id = id
	t := time.NewTicker(time.Duration(1) * time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if _, err := w.run(ctx); err != nil {
				return err
			}
		}
	}
}

// run increments the shared counter if the lock could be taken and reports
// whether it did.
func (w *Worker) run(ctx context.Context) (bool, error) {
	h, ok, err := w.locker.Acquire(ctx, "counter", w.ttl)
	if err != nil || !ok {
		return false, err
	}
	defer func() {
		_ = w.locker.Release(context.Background(), h)
	}()

	w.increment()
	return true, nil
}

func (w *Worker) increment() {
	// the quorum lock is what serializes this; the mutex only keeps the
	// race detector quiet when workers share a process
	w.count.mux.Lock()
	defer w.count.mux.Unlock()
	time.Sleep(time.Millisecond * 3)
	w.count.count++
	flushprint.Print("count ", w.count.count, " id ", w.id)
}
