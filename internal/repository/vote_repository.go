package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// VoteResult 一次投票后的状态
type VoteResult struct {
	Sign        int   // 投票后的记录：+1 / -1 / 0（已撤销）
	Delta       int64 // 本次对分数的净变化
	PostScore   int64
	AuthorScore int64
}

// VoteRepository 投票记录与聚合分数；记录与分数在同一脚本中修改
type VoteRepository interface {
	Cast(ctx context.Context, voterID, postID, authorID string, amount int, at time.Time, window time.Duration) (*VoteResult, error)
	// Get 返回 voter 对帖子的当前投票；ok=false 表示没有记录
	Get(ctx context.Context, voterID, postID string) (sign int, castAt time.Time, ok bool, err error)
	PostScores(ctx context.Context, postIDs ...string) (map[string]int64, error)
	UserScore(ctx context.Context, userID string) (int64, bool, error)
	DeletePost(ctx context.Context, postID string) error
	DeleteUser(ctx context.Context, userID string) error
}

type voteRepository struct{ rdb *redis.Client }

func NewVoteRepository(rdb *redis.Client) VoteRepository { return &voteRepository{rdb: rdb} }

func (r *voteRepository) Cast(ctx context.Context, voterID, postID, authorID string, amount int, at time.Time, window time.Duration) (*VoteResult, error) {
	if amount != 1 && amount != -1 {
		return nil, fmt.Errorf("vote amount must be +1 or -1, got %d", amount)
	}
	vals, err := voteScript.Run(ctx, r.rdb,
		[]string{VotesKey(postID), PostScoresKey, UserScoresKey},
		voterID, amount, at.UnixMilli(), window.Milliseconds(), postID, authorID).Int64Slice()
	if err != nil {
		return nil, err
	}
	if len(vals) != 4 {
		return nil, fmt.Errorf("vote script: unexpected reply %v", vals)
	}
	if vals[0] == -2 {
		return nil, ErrVoteWindowClosed
	}
	return &VoteResult{Sign: int(vals[0]), Delta: vals[1], PostScore: vals[2], AuthorScore: vals[3]}, nil
}

func (r *voteRepository) Get(ctx context.Context, voterID, postID string) (int, time.Time, bool, error) {
	score, err := r.rdb.ZScore(ctx, VotesKey(postID), voterID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, time.Time{}, false, nil
	}
	if err != nil {
		return 0, time.Time{}, false, err
	}
	sign := 1
	if score < 0 {
		sign = -1
	}
	return sign, time.UnixMilli(int64(math.Abs(score))), true, nil
}

func (r *voteRepository) PostScores(ctx context.Context, postIDs ...string) (map[string]int64, error) {
	out := make(map[string]int64, len(postIDs))
	if len(postIDs) == 0 {
		return out, nil
	}
	vals, err := r.rdb.HMGet(ctx, PostScoresKey, postIDs...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			out[postIDs[i]] = n
		}
	}
	return out, nil
}

func (r *voteRepository) UserScore(ctx context.Context, userID string) (int64, bool, error) {
	n, err := r.rdb.HGet(ctx, UserScoresKey, userID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	return n, err == nil, err
}

func (r *voteRepository) DeletePost(ctx context.Context, postID string) error {
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, VotesKey(postID))
		p.HDel(ctx, PostScoresKey, postID)
		return nil
	})
	return err
}

func (r *voteRepository) DeleteUser(ctx context.Context, userID string) error {
	return r.rdb.HDel(ctx, UserScoresKey, userID).Err()
}
