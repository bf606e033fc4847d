package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/socialfeed/internal/model"
)

type OutboxRepository interface {
	// Claim 领取一批 pending 事件并标记为 processing
	Claim(ctx context.Context, limit int, now time.Time) ([]*model.Outbox, error)
	Complete(ctx context.Context, id string, fanoutCount int64, now time.Time) error
	// Release 处理失败：未超过重试次数则放回 pending，否则标记 failed
	Release(ctx context.Context, id string, lastErr string, terminal bool) error
	// RequeueStale 将超时未完成的 processing 事件放回 pending（worker 崩溃恢复）
	RequeueStale(ctx context.Context, claimedBefore time.Time) (int64, error)
	CountByStatus(ctx context.Context, status string) (int64, error)
}

type outboxRepository struct{ db *gorm.DB }

func NewOutboxRepository(db *gorm.DB) OutboxRepository { return &outboxRepository{db: db} }

func (r *outboxRepository) Claim(ctx context.Context, limit int, now time.Time) ([]*model.Outbox, error) {
	if r.db.Dialector.Name() == "postgres" {
		return r.claimSkipLocked(ctx, limit, now)
	}
	return r.claimConditional(ctx, limit, now)
}

// claimSkipLocked: SELECT ... FOR UPDATE SKIP LOCKED，多 worker 不互相阻塞
func (r *outboxRepository) claimSkipLocked(ctx context.Context, limit int, now time.Time) ([]*model.Outbox, error) {
	var batch []*model.Outbox
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Raw(`
			SELECT *
			FROM outbox
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		`, limit).Scan(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		ids := make([]string, len(batch))
		for i, b := range batch {
			ids[i] = b.ID
		}
		return tx.Model(&model.Outbox{}).Where("id IN ?", ids).Updates(map[string]any{
			"status":     model.OutboxProcessing,
			"claimed_at": now,
			"attempts":   gorm.Expr("attempts + 1"),
		}).Error
	})
	if err != nil {
		return nil, err
	}
	for _, b := range batch {
		b.Status = model.OutboxProcessing
		b.Attempts++
	}
	return batch, nil
}

// claimConditional 用条件更新抢占，适用于不支持行锁的 sqlite
func (r *outboxRepository) claimConditional(ctx context.Context, limit int, now time.Time) ([]*model.Outbox, error) {
	var candidates []*model.Outbox
	if err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxPending).
		Order("created_at").
		Limit(limit).
		Find(&candidates).Error; err != nil {
		return nil, err
	}
	claimed := make([]*model.Outbox, 0, len(candidates))
	for _, c := range candidates {
		res := r.db.WithContext(ctx).Model(&model.Outbox{}).
			Where("id = ? AND status = ?", c.ID, model.OutboxPending).
			Updates(map[string]any{
				"status":     model.OutboxProcessing,
				"claimed_at": now,
				"attempts":   gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return claimed, res.Error
		}
		if res.RowsAffected == 1 {
			c.Status = model.OutboxProcessing
			c.Attempts++
			claimed = append(claimed, c)
		}
	}
	return claimed, nil
}

func (r *outboxRepository) Complete(ctx context.Context, id string, fanoutCount int64, now time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Outbox{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": model.OutboxDone, "processed_at": now, "fanout_count": fanoutCount, "last_error": ""}).Error
}

func (r *outboxRepository) Release(ctx context.Context, id string, lastErr string, terminal bool) error {
	status := model.OutboxPending
	if terminal {
		status = model.OutboxFailed
	}
	return r.db.WithContext(ctx).Model(&model.Outbox{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "last_error": lastErr, "claimed_at": nil}).Error
}

func (r *outboxRepository) RequeueStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Outbox{}).
		Where("status = ? AND claimed_at < ?", model.OutboxProcessing, claimedBefore).
		Updates(map[string]any{"status": model.OutboxPending, "claimed_at": nil})
	return res.RowsAffected, res.Error
}

func (r *outboxRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.Outbox{}).Where("status = ?", status).Count(&cnt).Error
	return cnt, err
}
