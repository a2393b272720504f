package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"

	"github.com/google/uuid"
)

type articleRepo struct{ base }

const articleColumns = `id, owner_id, feed_id, title, url, description, cover, publish_ts, content, status, created_at`

func scanArticle(row interface{ Scan(...interface{}) error }) (*model.Article, error) {
	var a model.Article
	var description, content sql.NullString
	var createdAt int64
	if err := row.Scan(&a.ID, &a.OwnerID, &a.FeedID, &a.Title, &a.URL, &description, &a.Cover,
		&a.PublishTS, &content, &a.Status, &createdAt); err != nil {
		return nil, err
	}
	a.Description = description.String
	a.Content = content.String
	a.CreatedAt = fromMillis(createdAt)
	return &a, nil
}

// Upsert 已存在的文章只补全空字段，不覆盖已抓到的正文
func (r *articleRepo) Upsert(ctx context.Context, a *model.Article) (bool, error) {
	var existingID string
	var err error
	if strings.TrimSpace(a.URL) != "" {
		err = r.queryRow(ctx, `SELECT id FROM articles WHERE owner_id = ? AND url = ?`, a.OwnerID, a.URL).Scan(&existingID)
	} else {
		err = sql.ErrNoRows
	}
	if errors.Is(err, sql.ErrNoRows) && a.ID != "" {
		err = r.queryRow(ctx, `SELECT id FROM articles WHERE owner_id = ? AND id = ?`, a.OwnerID, a.ID).Scan(&existingID)
	}
	switch {
	case err == nil:
		a.ID = existingID
		_, err = r.exec(ctx, `UPDATE articles SET
				title = CASE WHEN title = '' THEN ? ELSE title END,
				cover = CASE WHEN cover = '' THEN ? ELSE cover END,
				description = CASE WHEN description IS NULL OR description = '' THEN ? ELSE description END,
				content = CASE WHEN content IS NULL OR content = '' THEN ? ELSE content END,
				publish_ts = CASE WHEN publish_ts = 0 THEN ? ELSE publish_ts END
			WHERE owner_id = ? AND id = ?`,
			a.Title, a.Cover, a.Description, a.Content, a.PublishTS, a.OwnerID, existingID)
		if err != nil {
			return false, fmt.Errorf("更新文章失败: %w", err)
		}
		return false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return false, err
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = model.ArticleStatusActive
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err = r.exec(ctx, `INSERT INTO articles (`+articleColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.OwnerID, a.FeedID, a.Title, a.URL, a.Description, a.Cover, a.PublishTS, a.Content, a.Status, toMillis(a.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("写入文章失败: %w", err)
	}
	return true, nil
}

func (r *articleRepo) FindByID(ctx context.Context, ownerID, id string) (*model.Article, error) {
	a, err := scanArticle(r.queryRow(ctx, `SELECT `+articleColumns+` FROM articles WHERE owner_id = ? AND id = ?`, ownerID, id))
	if err != nil {
		return nil, notFound(err, "文章不存在")
	}
	return a, nil
}

func (r *articleRepo) list(ctx context.Context, query string, args ...interface{}) ([]*model.Article, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *articleRepo) TopK(ctx context.Context, ownerID string, feedIDs []string, k int) ([]*model.Article, error) {
	if len(feedIDs) == 0 {
		return nil, nil
	}
	if k < 1 {
		k = 1
	}
	args := append([]interface{}{ownerID, model.ArticleStatusDeleted}, stringArgs(feedIDs)...)
	args = append(args, k)
	return r.list(ctx, `SELECT `+articleColumns+` FROM articles
		WHERE owner_id = ? AND status <> ? AND feed_id IN (`+placeholders(len(feedIDs))+`)
		ORDER BY publish_ts DESC, created_at DESC LIMIT ?`, args...)
}

func (r *articleRepo) ListMissingContent(ctx context.Context, limit int) ([]*model.Article, error) {
	if limit <= 0 {
		limit = 10
	}
	return r.list(ctx, `SELECT `+articleColumns+` FROM articles
		WHERE status <> ? AND (content IS NULL OR content = '') AND url <> ''
		ORDER BY publish_ts DESC LIMIT ?`, model.ArticleStatusDeleted, limit)
}

func (r *articleRepo) UpdateContent(ctx context.Context, ownerID, id, content string) error {
	_, err := r.exec(ctx, `UPDATE articles SET content = ? WHERE owner_id = ? AND id = ?`, content, ownerID, id)
	return err
}

func (r *articleRepo) MarkDeleted(ctx context.Context, ownerID, id string) error {
	_, err := r.exec(ctx, `UPDATE articles SET status = ? WHERE owner_id = ? AND id = ?`, model.ArticleStatusDeleted, ownerID, id)
	return err
}
