package service

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d60-Lab/socialfeed/internal/model"
)

// Publisher 负责事务内写 posts + outbox
type Publisher struct{ db *gorm.DB }

func NewPublisher(db *gorm.DB) *Publisher { return &Publisher{db: db} }

// Publish 在一个事务内落地 Post 与 Outbox 事件，扇出由 FanoutWorker 异步完成
func (p *Publisher) Publish(ctx context.Context, post *model.Post) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(post).Error; err != nil {
			return err
		}
		out := &model.Outbox{
			ID:         uuid.NewString(),
			PostID:     post.ID,
			AuthorID:   post.AuthorID,
			Permission: post.Permission,
			PostedAt:   post.CreatedAt,
			CreatedAt:  post.CreatedAt,
			Status:     model.OutboxPending,
		}
		return tx.Create(out).Error
	})
}
