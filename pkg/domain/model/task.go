/*
 * @Description: 定时任务及其投递策略
 * @Author: 安知鱼
 * @Date: 2026-02-11 11:02:44
 * @LastEditTime: 2026-03-04 20:16:37
 * @LastEditors: 安知鱼
 */
package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

const (
	TaskTypeCrawl   = "crawl"
	TaskTypePublish = "publish"
)

const (
	TaskStatusActive   = "active"
	TaskStatusDisabled = "disabled"
)

const (
	WechatModeDraftOnly       = "draft_only"
	WechatModeDraftAndPublish = "draft_and_publish"
)

// 发布任务可选的目标平台
const (
	PlatformWechatMP = "wechat_mp"
	PlatformCSDN     = "csdn"
)

// WechatPolicy 公众号草稿投递策略
type WechatPolicy struct {
	Enabled      bool   `json:"enabled"`
	Instruction  string `json:"instruction"`
	TopK         int    `json:"topk"`
	Mode         string `json:"mode"`
	PublishedIDs IDList `json:"published_ids"`
}

// CSDNPolicy CSDN 推送策略
type CSDNPolicy struct {
	Enabled      bool   `json:"enabled"`
	TopK         int    `json:"topk"`
	PublishedIDs IDList `json:"published_ids"`
}

// TaskPolicy 以 JSON 形式保存在任务行上
type TaskPolicy struct {
	Wechat           WechatPolicy `json:"wechat"`
	CSDN             CSDNPolicy   `json:"csdn"`
	PublishPlatforms []string     `json:"publish_platforms"`
}

// Normalize 补齐默认值：topk 至少为 1，CSDN 默认 3
func (p *TaskPolicy) Normalize() {
	if p.Wechat.TopK < 1 {
		p.Wechat.TopK = 1
	}
	if p.CSDN.TopK < 1 {
		p.CSDN.TopK = 3
	}
	if p.Wechat.Mode != WechatModeDraftAndPublish {
		p.Wechat.Mode = WechatModeDraftOnly
	}
	if p.Wechat.PublishedIDs == nil {
		p.Wechat.PublishedIDs = IDList{}
	}
	if p.CSDN.PublishedIDs == nil {
		p.CSDN.PublishedIDs = IDList{}
	}
}

func (p TaskPolicy) hasPlatform(name string) bool {
	for _, item := range p.PublishPlatforms {
		if item == name {
			return true
		}
	}
	return false
}

func (p TaskPolicy) Value() (driver.Value, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *TaskPolicy) Scan(value interface{}) error {
	raw, err := scanBytes(value)
	if err != nil {
		return err
	}
	out := TaskPolicy{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			out = TaskPolicy{}
		}
	}
	out.Normalize()
	*p = out
	return nil
}

// Task 定时任务
type Task struct {
	ID              string
	OwnerID         string
	Name            string
	CronExpr        string
	TaskType        string
	FeedIDs         IDList
	Status          string
	MessageTemplate string
	WebHookURL      string
	LastArticleID   string // 旧版字段，视为已投递
	Policy          TaskPolicy
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (t *Task) IsPublish() bool {
	return t.TaskType == TaskTypePublish
}

// WechatEnabled 发布任务还需要在目标平台中勾选公众号
func (t *Task) WechatEnabled() bool {
	if t.IsPublish() {
		return t.Policy.hasPlatform(PlatformWechatMP)
	}
	return t.Policy.Wechat.Enabled
}

func (t *Task) CSDNEnabled() bool {
	if t.IsPublish() {
		return t.Policy.hasPlatform(PlatformCSDN)
	}
	return t.Policy.CSDN.Enabled
}

// WechatSkipIDs 公众号候选需要排除的文章，包含旧版 last_article_id
func (t *Task) WechatSkipIDs() IDList {
	out := make(IDList, 0, len(t.Policy.Wechat.PublishedIDs)+1)
	out = append(out, t.Policy.Wechat.PublishedIDs...)
	return out.Add(t.LastArticleID)
}
