package main

import (
	"context"
	"log"
	"net/http"
	"runtime"
	"sync/atomic"
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
	go func() {
		t := time.NewTicker(time.Duration(1) * time.Second)
		for range t.C {
			flushprint.Print("goroutine count ", runtime.NumGoroutine())
		}
	}()

	nodes := []quorumlock.Node{
		{Host: "127.0.0.1", Port: 11211},
		{Host: "127.0.0.1", Port: 11212},
		{Host: "127.0.0.1", Port: 11213},
	}
	var failures atomic.Int64
	manager, err := quorumlock.New(nodes, quorumlock.MemcacheDialer(),
		quorumlock.WithRetryCount(1),
		quorumlock.WithNodeErrorHandler(func(e *quorumlock.NodeError) {
			if failures.Add(1)%100 == 1 {
				flushprint.Print("node error ", e.Error())
			}
		}),
	)
	if err != nil {
		panic(err)
	}
	defer manager.Close()

	eg, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 10; i++ {
		eg.Go(func() error {
			return NewWorker(manager).Run(i, ctx)
		})
	}

	if err := eg.Wait(); err != nil {
		panic(err)
	}
}

var count int

type Worker struct {
	manager *quorumlock.Manager
	ttl     time.Duration
	id      int
}

func NewWorker(manager *quorumlock.Manager) *Worker {
	return &Worker{
		manager: manager,
		// memcache expirations are whole seconds
		ttl: time.Second * 2,
	}
}

func (w *Worker) Run(id int, ctx context.Context) error {
	w.id = id
	t := time.NewTicker(time.Duration(10) * time.Millisecond)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := w.do(ctx); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) do(ctx context.Context) error {
	h, ok, err := w.manager.Acquire(ctx, "counter", w.ttl)
	if err != nil || !ok {
		return err
	}
	defer func() {
		_ = w.manager.Release(context.Background(), h)
	}()

	time.Sleep(time.Millisecond * 3)
	count++
	flushprint.Print("count ", count, " id ", w.id)
	return nil
}
