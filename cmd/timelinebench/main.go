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
	"github.com/d60-Lab/socialfeed/internal/model"
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

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range vs {
		sum += d
	}
	return sum / time.Duration(len(vs))
}

func main() {
	ctx := context.Background()
	cfg := must(config.Load())

	// params
	N := envInt("N", 20000)       // number of fans for the author
	POSTS := envInt("POSTS", 100) // posts to publish
	cfg.Feed.Workers = envInt("WORKERS", 8)
	cfg.Feed.BatchSize = envInt("BATCH", 1000)
	cfg.Feed.ClaimLimit = envInt("CLAIM", 64)
	cfg.Feed.PollInterval = 20 * time.Millisecond

	db := must(database.InitDB(cfg))
	rdb := must(database.InitRedis(ctx, cfg))
	defer rdb.Close()

	// clean state for a reproducible run (ok for local bench)
	if cfg.Database.Driver == "postgres" {
		_ = db.Exec("TRUNCATE TABLE outbox, posts, users").Error
	}
	_ = rdb.FlushDB(ctx).Err()

	engine := service.NewEngine(cfg, db, rdb, notify.LogNotifier{}, nil)

	author := must(engine.Users.Create(ctx, service.CreateUserInput{Username: "author0", Email: "author0@example.com", Active: true}))
	fans := make([]string, N)
	for i := 0; i < N; i++ {
		id := uuid.NewString()[:8]
		u := must(engine.Users.Create(ctx, service.CreateUserInput{Username: "u" + id, Email: id + "@example.com", Active: true}))
		fans[i] = u.ID
		_ = must(engine.Graph.Follow(ctx, u.ID, author.ID))
	}

	stop := engine.Start()
	defer func() { _ = stop(context.Background()) }()

	pubDurations := make([]time.Duration, 0, POSTS)
	for i := 0; i < POSTS; i++ {
		st := time.Now()
		if _, err := engine.CreatePost(ctx, author.ID, fmt.Sprintf("hello %d", i), model.PermissionPublic); err != nil {
			panic(err)
		}
		pubDurations = append(pubDurations, time.Since(st))
	}

	// collect landing metrics
	land := make([]time.Duration, 0, POSTS)
	timeout := time.After(2 * time.Minute)
collect:
	for len(land) < POSTS {
		select {
		case d := <-engine.Worker.Metrics():
			land = append(land, d)
		case <-timeout:
			fmt.Printf("timeout while waiting for fanout metrics: got=%d want=%d\n", len(land), POSTS)
			break collect
		}
	}

	fmt.Printf("N=%d POSTS=%d WORKERS=%d BATCH=%d CLAIM=%d FEED_MAX=%d\n",
		N, POSTS, cfg.Feed.Workers, cfg.Feed.BatchSize, cfg.Feed.ClaimLimit, cfg.Feed.MaxLength)
	fmt.Printf("Publish latency (post + outbox + own feed): avg=%v p95=%v p99=%v\n",
		avg(pubDurations), pct(pubDurations, 0.95), pct(pubDurations, 0.99))
	fmt.Printf("Fanout landing (outbox->done): samples=%d avg=%v p95=%v p99=%v\n",
		len(land), avg(land), pct(land, 0.95), pct(land, 0.99))

	// 读取若干粉丝的首页
	if len(fans) > 0 {
		reads := make([]time.Duration, 0, 100)
		for i := 0; i < 100; i++ {
			st := time.Now()
			page, err := engine.GetFeed(ctx, fans[i%len(fans)], 1, 50)
			if err != nil {
				panic(err)
			}
			reads = append(reads, time.Since(st))
			if i == 0 {
				fmt.Printf("Feed first page: items=%d total=%d\n", len(page.Items), page.Total)
			}
		}
		c := engine.UserCache.Counters()
		fmt.Printf("Feed read (limit=50): avg=%v p95=%v, user cache hits=%d misses=%d\n",
			avg(reads), pct(reads, 0.95), c.Hits, c.Misses)
	}
}
