package repository

import (
	"context"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
)

// FeedRepository 订阅源仓储
type FeedRepository interface {
	// Create 同一用户重复订阅同一来源时返回 constant.ErrConflict
	Create(ctx context.Context, feed *model.Feed) error
	FindByID(ctx context.Context, ownerID, id string) (*model.Feed, error)
	ListActive(ctx context.Context, ownerID string) ([]*model.Feed, error)
	ListActiveByIDs(ctx context.Context, ownerID string, ids []string) ([]*model.Feed, error)
	UpdateLastUpdate(ctx context.Context, ownerID, id string, ts int64) error
	// SoftDelete 标记删除并级联删除其文章
	SoftDelete(ctx context.Context, ownerID, id string) error
}

// ArticleRepository 源文章仓储
type ArticleRepository interface {
	// Upsert 先按 (owner, url) 再按 (owner, id) 去重，返回是否新建
	Upsert(ctx context.Context, article *model.Article) (bool, error)
	FindByID(ctx context.Context, ownerID, id string) (*model.Article, error)
	// TopK 按 (publish_ts desc, created_at desc) 返回指定订阅源下的前 k 篇未删除文章
	TopK(ctx context.Context, ownerID string, feedIDs []string, k int) ([]*model.Article, error)
	ListMissingContent(ctx context.Context, limit int) ([]*model.Article, error)
	UpdateContent(ctx context.Context, ownerID, id, content string) error
	MarkDeleted(ctx context.Context, ownerID, id string) error
}
