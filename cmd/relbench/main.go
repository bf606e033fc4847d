package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/socialfeed/config"
	"github.com/d60-Lab/socialfeed/internal/notify"
	"github.com/d60-Lab/socialfeed/internal/service"
	"github.com/d60-Lab/socialfeed/pkg/database"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	rdb := must(database.InitRedis(ctx, cfg))
	defer rdb.Close()

	N := envInt("N", 10000)
	CONC := envInt("CONC", 1)
	PAGE := envInt("PAGE", 50)
	cfg.Dispatch.QueueSize = N

	engine := service.NewEngine(cfg, db, rdb, notify.LogNotifier{}, nil)
	stop := engine.Start()

	// seed users: celeb is followed by everyone else
	suffix := uuid.NewString()[:6]
	celeb := must(engine.Users.Create(ctx, service.CreateUserInput{
		Username: "celeb_" + suffix, Email: "celeb_" + suffix + "@example.com", Active: true,
	}))
	users := make([]string, N)
	for i := 0; i < N; i++ {
		id := uuid.NewString()[:8]
		u := must(engine.Users.Create(ctx, service.CreateUserInput{Username: "u" + id, Email: id + "@example.com", Active: true}))
		users[i] = u.ID
	}

	// alert delivery landing
	deliveries := make([]time.Duration, 0, N)
	doneRep := make(chan struct{})
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		timeout := time.NewTimer(5 * time.Minute)
		defer timeout.Stop()
		for {
			select {
			case d := <-engine.Dispatcher.Metrics():
				deliveries = append(deliveries, d)
			case <-doneRep:
				return
			case <-timeout.C:
				return
			}
		}
	}()

	maxQ := 0
	quitSample := make(chan struct{})
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if q := engine.Dispatcher.QueueLen(); q > maxQ {
					maxQ = q
				}
			case <-quitSample:
				return
			}
		}
	}()

	workers := CONC
	if workers > N {
		workers = N
	}
	feed := make(chan int, N)
	for i := 0; i < N; i++ {
		feed <- i
	}
	close(feed)

	lat := make(chan time.Duration, N)
	errCh := make(chan error, workers)
	t0 := time.Now()
	for w := 0; w < workers; w++ {
		go func() {
			for i := range feed {
				st := time.Now()
				if _, err := engine.Follow(ctx, users[i], celeb.ID); err != nil {
					errCh <- err
					return
				}
				lat <- time.Since(st)
			}
			errCh <- nil
		}()
	}
	for w := 0; w < workers; w++ {
		if err := <-errCh; err != nil {
			panic(err)
		}
	}
	followDur := time.Since(t0)
	close(quitSample)
	close(lat)
	followRecs := make([]time.Duration, 0, N)
	for d := range lat {
		followRecs = append(followRecs, d)
	}

	// queries
	q0 := time.Now()
	fans := must(engine.Graph.ListFans(ctx, celeb.ID, 1, PAGE))
	fansDur := time.Since(q0)

	q1 := time.Now()
	_ = must(engine.Graph.ListFollowing(ctx, users[0], 1, PAGE))
	follDur := time.Since(q1)

	// 停止时等待告警队列排空
	drainStart := time.Now()
	_ = stop(context.Background())
	drainDur := time.Since(drainStart)
	close(doneRep)
	<-collected

	fmt.Printf("N=%d, CONC=%d, PAGE=%d\n", N, CONC, PAGE)
	fmt.Printf("Follow latency total: %v, per op: %v, p50: %v, p95: %v, p99: %v\n",
		followDur, followDur/time.Duration(N), pct(followRecs, 0.50), pct(followRecs, 0.95), pct(followRecs, 0.99))
	fmt.Printf("Query fans(%d) latency: %v, total fans: %d\n", PAGE, fansDur, fans.Total)
	fmt.Printf("Query following(%d) latency: %v\n", PAGE, follDur)
	if len(deliveries) > 0 {
		fmt.Printf("Alert delivery: samples=%d, p50=%v, p95=%v, p99=%v, maxQueue=%d, drain=%v\n",
			len(deliveries), pct(deliveries, 0.50), pct(deliveries, 0.95), pct(deliveries, 0.99), maxQ, drainDur)
	}
}
