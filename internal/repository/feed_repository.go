package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/socialfeed/internal/pagination"
)

// FeedEntry feed 中的一条帖子引用
type FeedEntry struct {
	PostID   string
	PostedAt time.Time
}

// FeedRepository 用户时间线（有界 zset）与个人帖子列表
type FeedRepository interface {
	// PublishOwn 原子写入作者自己的 feed 与帖子列表
	PublishOwn(ctx context.Context, authorID, postID string, at time.Time) error
	// Push 将帖子写入多个 feed，每个 feed 写入后立即截断
	Push(ctx context.Context, postID string, at time.Time, userIDs ...string) (int64, error)
	// Merge 向单个 feed 批量写入（回填）
	Merge(ctx context.Context, userID string, entries []FeedEntry) (int64, error)
	Remove(ctx context.Context, userID, postID string) error
	Contains(ctx context.Context, userID, postID string) (bool, error)
	Len(ctx context.Context, userID string) (int64, error)
	FeedSource(userID string) pagination.Source
	RemoveUserPost(ctx context.Context, userID, postID string) error
	UserPostsSource(userID string) pagination.Source
	// DeleteUser 删除用户的 feed 与帖子列表
	DeleteUser(ctx context.Context, userID string) error
	Bound() int
}

type feedRepository struct {
	rdb   *redis.Client
	bound int
}

func NewFeedRepository(rdb *redis.Client, bound int) FeedRepository {
	if bound <= 0 {
		bound = 1000
	}
	return &feedRepository{rdb: rdb, bound: bound}
}

func (r *feedRepository) Bound() int { return r.bound }

func (r *feedRepository) PublishOwn(ctx context.Context, authorID, postID string, at time.Time) error {
	return authorPublishScript.Run(ctx, r.rdb,
		[]string{FeedKey(authorID), UserPostsKey(authorID)},
		postID, at.UnixMilli(), r.bound).Err()
}

func (r *feedRepository) Push(ctx context.Context, postID string, at time.Time, userIDs ...string) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	keys := make([]string, len(userIDs))
	for i, uid := range userIDs {
		keys[i] = FeedKey(uid)
	}
	return feedPushScript.Run(ctx, r.rdb, keys, postID, at.UnixMilli(), r.bound).Int64()
}

func (r *feedRepository) Merge(ctx context.Context, userID string, entries []FeedEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	args := make([]interface{}, 0, 1+2*len(entries))
	args = append(args, r.bound)
	for _, e := range entries {
		args = append(args, e.PostedAt.UnixMilli(), e.PostID)
	}
	return feedMergeScript.Run(ctx, r.rdb, []string{FeedKey(userID)}, args...).Int64()
}

func (r *feedRepository) Remove(ctx context.Context, userID, postID string) error {
	return r.rdb.ZRem(ctx, FeedKey(userID), postID).Err()
}

func (r *feedRepository) Contains(ctx context.Context, userID, postID string) (bool, error) {
	return zmember(ctx, r.rdb, FeedKey(userID), postID)
}

func (r *feedRepository) Len(ctx context.Context, userID string) (int64, error) {
	return r.rdb.ZCard(ctx, FeedKey(userID)).Result()
}

func (r *feedRepository) FeedSource(userID string) pagination.Source {
	return pagination.SortedSetSource{Client: r.rdb, Key: FeedKey(userID), Desc: true}
}

func (r *feedRepository) RemoveUserPost(ctx context.Context, userID, postID string) error {
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, UserPostsKey(userID), 0, postID)
		p.ZRem(ctx, FeedKey(userID), postID)
		return nil
	})
	return err
}

func (r *feedRepository) UserPostsSource(userID string) pagination.Source {
	return pagination.ListSource{Client: r.rdb, Key: UserPostsKey(userID)}
}

func (r *feedRepository) DeleteUser(ctx context.Context, userID string) error {
	return r.rdb.Del(ctx, FeedKey(userID), UserPostsKey(userID)).Err()
}
