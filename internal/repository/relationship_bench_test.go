package repository

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"
)

func BenchmarkFollowWrite_MirroredEdges(b *testing.B) {
	rdb, _ := setupRedis(b)
	followRepo := NewFollowRepository(rdb)
	ctx := context.Background()

	// 预生成部分用户
	users := make([]string, 1000)
	for i := range users {
		users[i] = fmt.Sprintf("u%04d", i)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	now := time.Now()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		from := users[rng.Intn(len(users))]
		to := users[rng.Intn(len(users))]
		if from == to {
			continue
		}
		_, _ = followRepo.Follow(ctx, from, to, now)
	}
}

func BenchmarkQueryFansAndFollowing(b *testing.B) {
	rdb, _ := setupRedis(b)
	followRepo := NewFollowRepository(rdb)
	fanRepo := NewFanRepository(rdb)
	ctx := context.Background()

	// 构造：u0 有 N 个粉丝，同时 u0 也关注 N 个用户
	const N = 5000
	now := time.Now()
	for i := 1; i <= N; i++ {
		uid := fmt.Sprintf("u%v", i)
		_, _ = followRepo.Follow(ctx, uid, "u0", now)
		_, _ = followRepo.Follow(ctx, "u0", uid, now)
	}

	b.ResetTimer()
	b.Run("ListFans", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = fanRepo.ListFans(ctx, "u0", 0, 50)
		}
	})

	b.Run("ListFollowing", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = followRepo.ListFollowings(ctx, "u0", 0, 50)
		}
	})
}

func BenchmarkFeedPushBatch(b *testing.B) {
	rdb, _ := setupRedis(b)
	feed := NewFeedRepository(rdb, 1000)
	ctx := context.Background()

	fans := make([]string, 500)
	for i := range fans {
		fans[i] = fmt.Sprintf("f%d", i)
	}
	now := time.Now()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = feed.Push(ctx, fmt.Sprintf("p%d", i), now.Add(time.Duration(i)), fans...)
	}
}
