package main

import (
	"context"
	"log"
	"net/http"
	"runtime"
	"time"

	_ "net/http/pprof"

	"github.com/nozo-moto/flushprint"
	"github.com/nozo-moto/quorumlock"
	"go.uber.org/zap"
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

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// docker run -d -p 6379:6379 redis; repeat for 6380 and 6381
	nodes := []quorumlock.Node{
		{Host: "localhost", Port: 6379},
		{Host: "localhost", Port: 6380},
		{Host: "localhost", Port: 6381},
	}
	manager, err := quorumlock.New(nodes, quorumlock.RedisDialer("example"),
		quorumlock.WithLogger(logger),
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

// count is only touched while the lock is held.
var count int

type Worker struct {
	manager *quorumlock.Manager
	ttl     time.Duration
	id      int
}

func NewWorker(manager *quorumlock.Manager) *Worker {
	return &Worker{
		manager: manager,
		ttl:     time.Second * 2,
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
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	defer func() {
		_ = w.manager.Release(context.Background(), h)
	}()

	time.Sleep(time.Millisecond * 3)
	count++
	flushprint.Print("count ", count, " id ", w.id, " validity ", h.Remaining(time.Now()))
	return nil
}
