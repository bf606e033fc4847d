package model

import "time"

// ReplySort 评论排序偏好
type ReplySort int

const (
	ReplySortNewest ReplySort = -1
	ReplySortOldest ReplySort = 1
)

// User 用户文档
type User struct {
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	Username    string `gorm:"type:varchar(32)"`
	UsernameKey string `gorm:"type:varchar(32);uniqueIndex"` // lower(username)
	Email       string `gorm:"type:varchar(254)"`
	EmailKey    string `gorm:"type:varchar(254);uniqueIndex"` // lower(email)
	Active      bool
	Banned      bool
	Muted       bool
	Operator    bool
	Score       int64
	ReplySort   ReplySort `gorm:"default:-1"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	// 未激活账号的清理期限，激活后置空
	ActivationDeadline *time.Time `gorm:"index"`
}

func (User) TableName() string { return "users" }
