// swarm 压测工具：启动 N 个模拟客户端随机游走并持续同步其他客户端
package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/remeh/sizedwaitgroup"

	"presencesync/client"
	"presencesync/protocol"
	"presencesync/server"
)

type totals struct {
	connected int64
	applied   int64
	created   int64
	destroyed int64
	bytesIn   int64
	sent      int64
}

func main() {
	var (
		url         string
		n           int
		concurrency int
		duration    time.Duration
		hz          int
		level       string
	)
	flag.StringVar(&url, "url", "ws://localhost:8080/ws", "server websocket url")
	flag.IntVar(&n, "n", 50, "number of simulated clients")
	flag.IntVar(&concurrency, "concurrency", 8, "max parallel dials")
	flag.DurationVar(&duration, "duration", 10*time.Second, "how long each client stays connected")
	flag.IntVar(&hz, "hz", client.TicksPerSecond, "position reports per second per client")
	flag.StringVar(&level, "level", "info", "log level")
	flag.Parse()

	if err := server.InitLogger("", level); err != nil {
		panic(err)
	}
	defer server.SyncLogger()
	client.Log = server.Log

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var t totals
	var running sync.WaitGroup
	dials := sizedwaitgroup.New(concurrency)
	for i := 0; i < n; i++ {
		dials.Add()
		go func(i int) {
			defer dials.Done()
			conn, err := client.Dial(ctx, url)
			if err != nil {
				server.Log.Warnf("bot %d: %v", i, err)
				return
			}
			atomic.AddInt64(&t.connected, 1)
			running.Add(1)
			go func() {
				defer running.Done()
				runBot(ctx, conn, hz, &t)
			}()
		}(i)
	}
	dials.Wait()
	running.Wait()

	server.Log.Infof("swarm done: bots=%d/%d snapshots=%d creates=%d destroys=%d reports=%d received=%s",
		t.connected, n, t.applied, t.created, t.destroyed, t.sent, humanize.Bytes(uint64(t.bytesIn)))
	if t.connected == 0 {
		os.Exit(1)
	}
}

// runBot 单个模拟客户端：上报协程 + 60fps 的“渲染帧”轮询
func runBot(ctx context.Context, conn *client.Conn, hz int, t *totals) {
	defer conn.Close()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var mu sync.Mutex
	pos := protocol.Position{X: rng.Float64()*1000 - 500, Y: rng.Float64()*1000 - 500}
	walk := func() protocol.Position {
		mu.Lock()
		defer mu.Unlock()
		pos.X += rng.Float64()*10 - 5
		pos.Y += rng.Float64()*10 - 5
		return pos
	}

	reporter := client.NewReporter(conn, walk, hz)
	botCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := reporter.Run(botCtx); err != nil {
			server.Log.Debugf("reporter stopped: %v", err)
		}
		cancel()
	}()

	rec := client.NewReconciler(nil)
	frame := time.NewTicker(time.Second / 60)
	defer frame.Stop()
	for {
		select {
		case <-frame.C:
			if diff, ok := rec.Poll(conn); ok {
				atomic.AddInt64(&t.applied, 1)
				atomic.AddInt64(&t.created, int64(len(diff.Created)))
				atomic.AddInt64(&t.destroyed, int64(len(diff.Destroyed)))
			}
		case <-conn.Done():
			cancel()
			<-botCtx.Done()
			atomic.AddInt64(&t.bytesIn, conn.BytesIn())
			atomic.AddInt64(&t.sent, reporter.Sent())
			return
		case <-botCtx.Done():
			atomic.AddInt64(&t.bytesIn, conn.BytesIn())
			atomic.AddInt64(&t.sent, reporter.Sent())
			return
		}
	}
}
