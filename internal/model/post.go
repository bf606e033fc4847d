package model

import "time"

// Permission 帖子可见级别
type Permission int

const (
	PermissionPublic     Permission = 0
	PermissionRegistered Permission = 1
	PermissionTrusted    Permission = 2
)

// Post 帖子，ReplyTo 非空时为评论
type Post struct {
	ID         string     `gorm:"primaryKey;type:varchar(36)"`
	AuthorID   string     `gorm:"type:varchar(36);index:idx_post_author"`
	Body       string     `gorm:"type:text"`
	Score      int64
	Permission Permission `gorm:"default:0"`
	Upload     string     `gorm:"type:varchar(255)"`
	ReplyTo    *string    `gorm:"type:varchar(36);index:idx_post_reply_to"`
	ReplyCount int64
	CreatedAt  time.Time `gorm:"index"`
	UpdatedAt  time.Time

	AuthorName string `gorm:"-"`
}

func (Post) TableName() string { return "posts" }

func (p *Post) IsReply() bool { return p.ReplyTo != nil && *p.ReplyTo != "" }

// Visible 判断 viewer 能否看到该帖子；trusted 表示作者信任 viewer
func (p *Post) Visible(viewerID string, trusted bool) bool {
	if viewerID == p.AuthorID {
		return true
	}
	switch p.Permission {
	case PermissionPublic:
		return true
	case PermissionRegistered:
		return viewerID != ""
	case PermissionTrusted:
		return trusted
	}
	return false
}
