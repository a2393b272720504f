package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/constant"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"

	"github.com/google/uuid"
)

type feedRepo struct{ base }

const feedColumns = `id, owner_id, source_id, display_name, avatar, status, last_update_ts, created_at`

func scanFeed(row interface{ Scan(...interface{}) error }) (*model.Feed, error) {
	var f model.Feed
	var createdAt int64
	if err := row.Scan(&f.ID, &f.OwnerID, &f.SourceID, &f.DisplayName, &f.Avatar, &f.Status, &f.LastUpdateTS, &createdAt); err != nil {
		return nil, err
	}
	f.CreatedAt = fromMillis(createdAt)
	return &f, nil
}

func (r *feedRepo) Create(ctx context.Context, f *model.Feed) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Status == "" {
		f.Status = model.FeedStatusActive
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	_, err := r.exec(ctx, `INSERT INTO feeds (`+feedColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		f.ID, f.OwnerID, f.SourceID, f.DisplayName, f.Avatar, f.Status, f.LastUpdateTS, toMillis(f.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("订阅源 %s 已存在: %w", f.SourceID, constant.ErrConflict)
	}
	return err
}

func (r *feedRepo) FindByID(ctx context.Context, ownerID, id string) (*model.Feed, error) {
	f, err := scanFeed(r.queryRow(ctx, `SELECT `+feedColumns+` FROM feeds WHERE owner_id = ? AND id = ?`, ownerID, id))
	if err != nil {
		return nil, notFound(err, "订阅源不存在")
	}
	return f, nil
}

func (r *feedRepo) list(ctx context.Context, query string, args ...interface{}) ([]*model.Feed, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *feedRepo) ListActive(ctx context.Context, ownerID string) ([]*model.Feed, error) {
	return r.list(ctx, `SELECT `+feedColumns+` FROM feeds WHERE owner_id = ? AND status = ? ORDER BY created_at ASC`,
		ownerID, model.FeedStatusActive)
}

func (r *feedRepo) ListActiveByIDs(ctx context.Context, ownerID string, ids []string) ([]*model.Feed, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := append([]interface{}{ownerID, model.FeedStatusActive}, stringArgs(ids)...)
	return r.list(ctx, `SELECT `+feedColumns+` FROM feeds WHERE owner_id = ? AND status = ? AND id IN (`+placeholders(len(ids))+`)
		ORDER BY created_at ASC`, args...)
}

func (r *feedRepo) UpdateLastUpdate(ctx context.Context, ownerID, id string, ts int64) error {
	_, err := r.exec(ctx, `UPDATE feeds SET last_update_ts = ? WHERE owner_id = ? AND id = ?`, ts, ownerID, id)
	return err
}

func (r *feedRepo) SoftDelete(ctx context.Context, ownerID, id string) error {
	n, err := r.exec(ctx, `UPDATE feeds SET status = ? WHERE owner_id = ? AND id = ?`, model.FeedStatusDeleted, ownerID, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("订阅源不存在: %w", constant.ErrNotFound)
	}
	_, err = r.exec(ctx, `UPDATE articles SET status = ? WHERE owner_id = ? AND feed_id = ?`,
		model.ArticleStatusDeleted, ownerID, id)
	return err
}
