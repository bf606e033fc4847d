package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/socialfeed/config"
	"github.com/d60-Lab/socialfeed/internal/cache"
	"github.com/d60-Lab/socialfeed/internal/notify"
	"github.com/d60-Lab/socialfeed/internal/service"
	"github.com/d60-Lab/socialfeed/pkg/database"
)

type request struct {
	userID string
	page   int
	size   int
}

func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	client := must(database.InitRedis(ctx, cfg))
	defer client.Close()

	userCount := envInt("USERS", 6000)
	reqCount := envInt("REQS", 3000)
	mustDo(client.FlushDB(ctx).Err())

	engine := service.NewEngine(cfg, db, client, notify.LogNotifier{}, nil)

	fmt.Println("Setting up test data...")
	suffix := uuid.NewString()[:6]
	celebs := make([]string, 3)
	for i := range celebs {
		name := fmt.Sprintf("celeb%d_%s", i, suffix)
		u := must(engine.Users.Create(ctx, service.CreateUserInput{Username: name, Email: name + "@example.com", Active: true}))
		celebs[i] = u.ID
	}

	// three overlapping follower sets, each half of the population
	ids := make([]string, userCount)
	for i := 0; i < userCount; i++ {
		name := fmt.Sprintf("f%d_%s", i, suffix)
		u := must(engine.Users.Create(ctx, service.CreateUserInput{Username: name, Email: name + "@example.com", Active: true}))
		ids[i] = u.ID
	}
	half := userCount / 2
	offsets := []int{0, userCount / 4, userCount * 3 / 8}
	for c, celeb := range celebs {
		for i := 0; i < half; i++ {
			_ = must(engine.Follow(ctx, ids[(i+offsets[c])%userCount], celeb))
		}
	}
	fmt.Println("Test data ready: 3 users with overlapping followers")

	reqs := makeRequests(celebs, reqCount)

	cold := runScenario(ctx, engine, client, append(ids, celebs...), reqs, false)
	warm := runScenario(ctx, engine, client, append(ids, celebs...), reqs, true)

	fmt.Printf("\nFollower list latency (%d req across 3 users, %d users)\n", len(reqs), userCount)
	for _, r := range []struct {
		name string
		res  scenarioResult
	}{{"Cold snapshots", cold}, {"Warm snapshots", warm}} {
		fmt.Printf("%-16s avg=%v p95=%v p99=%v hits=%d misses=%d bulk_loads=%d keys=%d mem=%s\n",
			r.name, avg(r.res.durations), pct(r.res.durations, 0.95), pct(r.res.durations, 0.99),
			r.res.counters.Hits, r.res.counters.Misses, r.res.counters.BulkLoads,
			r.res.keys, formatBytes(r.res.memoryBytes))
	}
}

type scenarioResult struct {
	durations   []time.Duration
	counters    cache.Counters
	keys        int64
	memoryBytes int64
}

func runScenario(ctx context.Context, engine *service.Engine, client *redis.Client, userIDs []string, reqs []request, warm bool) scenarioResult {
	mustDo(engine.UserCache.Invalidate(ctx, userIDs...))

	call := func(r request) {
		if _, err := engine.Graph.ListFans(ctx, r.userID, r.page, r.size); err != nil {
			panic(err)
		}
	}
	if warm {
		fmt.Print("  Warming cache...")
		for _, r := range reqs {
			call(r)
		}
		fmt.Println(" done")
	}
	engine.UserCache.ResetCounters()

	fmt.Print("  Running benchmark...")
	out := make([]time.Duration, 0, len(reqs))
	for _, r := range reqs {
		start := time.Now()
		call(r)
		out = append(out, time.Since(start))
	}
	fmt.Println(" done")

	var memBytes int64
	if info, err := client.Info(ctx, "memory").Result(); err == nil {
		memBytes = parseRedisMemory(info)
	}
	return scenarioResult{
		durations:   out,
		counters:    engine.UserCache.Counters(),
		keys:        client.DBSize(ctx).Val(),
		memoryBytes: memBytes,
	}
}

// parseRedisMemory extracts used_memory from Redis INFO
func parseRedisMemory(info string) int64 {
	for _, line := range strings.Split(info, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "used_memory:"); ok {
			n, _ := strconv.ParseInt(v, 10, 64)
			return n
		}
	}
	return 0
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func makeRequests(userIDs []string, n int) []request {
	sizes := []int{20, 40, 60}
	out := make([]request, n)
	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < n; i++ {
		page := 1
		if rnd.Float64() > 0.72 {
			// deep pagination
			page = 2 + rnd.Intn(40)
		}
		out[i] = request{
			userID: userIDs[i%len(userIDs)],
			page:   page,
			size:   sizes[rnd.Intn(len(sizes))],
		}
	}
	return out
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
	for _, v := range vs {
		sum += v
	}
	return sum / time.Duration(len(vs))
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), vs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func mustDo(err error) {
	if err != nil {
		panic(err)
	}
}
