package model

import "time"

const (
	NoticeTypeTask    = "task"
	NoticeTypeCompose = "compose"
	NoticeTypeSystem  = "system"
	NoticeTypeBilling = "billing"
)

// Notice 站内信
type Notice struct {
	ID         string
	OwnerID    string
	Title      string
	Content    string
	NoticeType string
	RefID      string
	IsRead     bool
	CreatedAt  time.Time
}
