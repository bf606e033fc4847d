package model

import "time"

const (
	OutboxPending    = "pending"
	OutboxProcessing = "processing"
	OutboxDone       = "done"
	OutboxFailed     = "failed"
)

// Outbox 扇出事件，与帖子在同一事务内写入
type Outbox struct {
	ID          string     `gorm:"primaryKey;type:varchar(36)"`
	PostID      string     `gorm:"type:varchar(36);uniqueIndex"`
	AuthorID    string     `gorm:"type:varchar(36);index:idx_outbox_author"`
	Permission  Permission `gorm:"default:0"`
	PostedAt    time.Time  // 帖子创建时间，作为 feed 排序分值
	CreatedAt   time.Time  `gorm:"index"`
	Status      string     `gorm:"type:varchar(16);index"` // pending, processing, done, failed
	Attempts    int
	LastError   string `gorm:"type:text"`
	ClaimedAt   *time.Time
	ProcessedAt *time.Time
	FanoutCount int64
}

func (Outbox) TableName() string { return "outbox" }
