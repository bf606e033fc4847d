package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/socialfeed/internal/pagination"
)

// ReplyRepository 帖子下的评论索引（按创建时间排序）
type ReplyRepository interface {
	Add(ctx context.Context, parentID, replyID string, at time.Time) error
	Remove(ctx context.Context, parentID, replyID string) error
	Delete(ctx context.Context, parentID string) error
	Source(parentID string, newestFirst bool) pagination.Source
}

type replyRepository struct{ rdb *redis.Client }

func NewReplyRepository(rdb *redis.Client) ReplyRepository { return &replyRepository{rdb: rdb} }

const (
	replySeqSpan    = 1000 // 同一毫秒内最多区分 1000 条评论
	replyAddRetries = 5
)

// Add 分数为 创建毫秒*1000+序号，同一毫秒内按写入顺序递增
func (r *replyRepository) Add(ctx context.Context, parentID, replyID string, at time.Time) error {
	seqKey := ReplySeqKey(parentID)
	txf := func(tx *redis.Tx) error {
		last, err := tx.Get(ctx, seqKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		score := at.UnixMilli() * replySeqSpan
		if last >= score && last < score+replySeqSpan-1 {
			score = last + 1
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if score > last {
				p.Set(ctx, seqKey, score, 0)
			}
			p.ZAdd(ctx, RepliesKey(parentID), redis.Z{Score: float64(score), Member: replyID})
			return nil
		})
		return err
	}
	for i := 0; i < replyAddRetries; i++ {
		err := r.rdb.Watch(ctx, txf, seqKey)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("add reply %s: too much contention", replyID)
}

func (r *replyRepository) Remove(ctx context.Context, parentID, replyID string) error {
	return r.rdb.ZRem(ctx, RepliesKey(parentID), replyID).Err()
}

func (r *replyRepository) Delete(ctx context.Context, parentID string) error {
	return r.rdb.Del(ctx, RepliesKey(parentID), ReplySeqKey(parentID)).Err()
}

func (r *replyRepository) Source(parentID string, newestFirst bool) pagination.Source {
	return pagination.SortedSetSource{Client: r.rdb, Key: RepliesKey(parentID), Desc: newestFirst}
}
