package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/socialfeed/internal/pagination"
)

// FollowRepository 关注边与信任边的写入及关注列表（索引存储）
type FollowRepository interface {
	// Follow 原子写入镜像的 following/followers；已存在时返回 false
	Follow(ctx context.Context, followerID, followeeID string, at time.Time) (bool, error)
	// Unfollow 删除镜像边并撤销信任；不存在时返回 false
	Unfollow(ctx context.Context, followerID, followeeID string) (bool, error)
	IsFollowing(ctx context.Context, followerID, followeeID string) (bool, error)
	// Trust uid 信任其关注者 followerID；followerID 未关注 uid 时返回 false
	Trust(ctx context.Context, uid, followerID string, at time.Time) (bool, error)
	Untrust(ctx context.Context, uid, followerID string) (bool, error)
	IsTrusted(ctx context.Context, uid, followerID string) (bool, error)
	ListFollowings(ctx context.Context, followerID string, offset, limit int) ([]string, error)
	CountFollowings(ctx context.Context, followerID string) (int64, error)
	FollowingSource(followerID string) pagination.Source
	// RemoveUser 从所有相关用户的集合中移除 uid 并删除其自身集合（尽力而为）
	RemoveUser(ctx context.Context, uid string) error
}

type followRepository struct {
	rdb *redis.Client
}

func NewFollowRepository(rdb *redis.Client) FollowRepository { return &followRepository{rdb: rdb} }

func (r *followRepository) Follow(ctx context.Context, followerID, followeeID string, at time.Time) (bool, error) {
	n, err := followScript.Run(ctx, r.rdb,
		[]string{FollowingKey(followerID), FollowersKey(followeeID)},
		followeeID, followerID, at.UnixMilli()).Int()
	return n == 1, err
}

func (r *followRepository) Unfollow(ctx context.Context, followerID, followeeID string) (bool, error) {
	n, err := unfollowScript.Run(ctx, r.rdb,
		[]string{FollowingKey(followerID), FollowersKey(followeeID), TrustedKey(followeeID)},
		followeeID, followerID).Int()
	return n == 1, err
}

func (r *followRepository) IsFollowing(ctx context.Context, followerID, followeeID string) (bool, error) {
	return zmember(ctx, r.rdb, FollowingKey(followerID), followeeID)
}

func (r *followRepository) Trust(ctx context.Context, uid, followerID string, at time.Time) (bool, error) {
	n, err := trustScript.Run(ctx, r.rdb,
		[]string{FollowersKey(uid), TrustedKey(uid)},
		followerID, at.UnixMilli()).Int()
	return n == 1, err
}

func (r *followRepository) Untrust(ctx context.Context, uid, followerID string) (bool, error) {
	n, err := r.rdb.ZRem(ctx, TrustedKey(uid), followerID).Result()
	return n == 1, err
}

func (r *followRepository) IsTrusted(ctx context.Context, uid, followerID string) (bool, error) {
	return zmember(ctx, r.rdb, TrustedKey(uid), followerID)
}

func (r *followRepository) ListFollowings(ctx context.Context, followerID string, offset, limit int) ([]string, error) {
	return r.rdb.ZRevRange(ctx, FollowingKey(followerID), int64(offset), int64(offset+limit-1)).Result()
}

func (r *followRepository) CountFollowings(ctx context.Context, followerID string) (int64, error) {
	return r.rdb.ZCard(ctx, FollowingKey(followerID)).Result()
}

func (r *followRepository) FollowingSource(followerID string) pagination.Source {
	return pagination.SortedSetSource{Client: r.rdb, Key: FollowingKey(followerID), Desc: true}
}

func (r *followRepository) RemoveUser(ctx context.Context, uid string) error {
	following, err := r.rdb.ZRange(ctx, FollowingKey(uid), 0, -1).Result()
	if err != nil {
		return err
	}
	followers, err := r.rdb.ZRange(ctx, FollowersKey(uid), 0, -1).Result()
	if err != nil {
		return err
	}
	_, err = r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, f := range following {
			p.ZRem(ctx, FollowersKey(f), uid)
			p.ZRem(ctx, TrustedKey(f), uid)
		}
		for _, f := range followers {
			p.ZRem(ctx, FollowingKey(f), uid)
		}
		p.Del(ctx, FollowingKey(uid), FollowersKey(uid), TrustedKey(uid))
		return nil
	})
	return err
}

func zmember(ctx context.Context, rdb redis.Cmdable, key, member string) (bool, error) {
	err := rdb.ZScore(ctx, key, member).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return err == nil, err
}
