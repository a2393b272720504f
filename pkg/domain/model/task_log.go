package model

import "time"

const (
	TaskLogStatusOK   = 1
	TaskLogStatusFail = 2
)

// TranscriptLimit 执行日志正文的最大字符数
const TranscriptLimit = 12000

// TaskLog 每次任务触发写入一条
type TaskLog struct {
	ID          string
	OwnerID     string
	TaskID      string
	FeedIDs     IDList
	UpdateCount int
	Status      int
	Transcript  string
	CreatedAt   time.Time
}
