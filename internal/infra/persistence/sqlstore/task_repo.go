package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"

	"github.com/google/uuid"
)

type taskRepo struct{ base }

const taskColumns = `id, owner_id, name, cron_expr, task_type, feed_ids, status, message_template, web_hook_url,
	last_article_id, policy, created_at, updated_at`

func scanTask(row interface{ Scan(...interface{}) error }) (*model.Task, error) {
	var t model.Task
	var template sql.NullString
	var createdAt, updatedAt int64
	if err := row.Scan(&t.ID, &t.OwnerID, &t.Name, &t.CronExpr, &t.TaskType, &t.FeedIDs, &t.Status,
		&template, &t.WebHookURL, &t.LastArticleID, &t.Policy, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.MessageTemplate = template.String
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return &t, nil
}

func (r *taskRepo) Create(ctx context.Context, t *model.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.TaskType == "" {
		t.TaskType = model.TaskTypeCrawl
	}
	if t.Status == "" {
		t.Status = model.TaskStatusActive
	}
	t.Policy.Normalize()
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	_, err := r.exec(ctx, `INSERT INTO message_tasks (`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.OwnerID, t.Name, t.CronExpr, t.TaskType, t.FeedIDs, t.Status, t.MessageTemplate, t.WebHookURL,
		t.LastArticleID, t.Policy, toMillis(t.CreatedAt), toMillis(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("创建任务失败: %w", err)
	}
	return nil
}

func (r *taskRepo) FindByID(ctx context.Context, id string) (*model.Task, error) {
	t, err := scanTask(r.queryRow(ctx, `SELECT `+taskColumns+` FROM message_tasks WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "任务不存在")
	}
	return t, nil
}

func (r *taskRepo) ListActive(ctx context.Context, ownerID string) ([]*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM message_tasks WHERE status = ?`
	args := []interface{}{model.TaskStatusActive}
	if ownerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, ownerID)
	}
	rows, err := r.query(ctx, query+` ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *taskRepo) ListIDsByOwner(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := r.query(ctx, `SELECT id FROM message_tasks WHERE owner_id = ?`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *taskRepo) UpdatePolicy(ctx context.Context, ownerID, id string, policy model.TaskPolicy) error {
	value, err := policy.Value()
	if err != nil {
		return fmt.Errorf("序列化任务策略失败: %w", err)
	}
	_, err = r.exec(ctx, `UPDATE message_tasks SET policy = ?, updated_at = ? WHERE owner_id = ? AND id = ?`,
		value, toMillis(time.Now()), ownerID, id)
	return err
}

type taskLogRepo struct{ base }

func (r *taskLogRepo) Create(ctx context.Context, l *model.TaskLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	if l.UpdateCount < 0 {
		l.UpdateCount = 0
	}
	transcript := []rune(l.Transcript)
	if len(transcript) > model.TranscriptLimit {
		l.Transcript = string(transcript[:model.TranscriptLimit])
	}
	_, err := r.exec(ctx, `INSERT INTO message_task_logs (id, owner_id, task_id, feed_ids, update_count, status, transcript, created_at)
		VALUES (?,?,?,?,?,?,?,?)`, l.ID, l.OwnerID, l.TaskID, l.FeedIDs, l.UpdateCount, l.Status, l.Transcript, toMillis(l.CreatedAt))
	return err
}

func (r *taskLogRepo) ListByTask(ctx context.Context, ownerID, taskID string, limit int) ([]*model.TaskLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.query(ctx, `SELECT id, owner_id, task_id, feed_ids, update_count, status, transcript, created_at
		FROM message_task_logs WHERE owner_id = ? AND task_id = ? ORDER BY created_at DESC LIMIT ?`, ownerID, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.TaskLog
	for rows.Next() {
		var l model.TaskLog
		var transcript sql.NullString
		var createdAt int64
		if err := rows.Scan(&l.ID, &l.OwnerID, &l.TaskID, &l.FeedIDs, &l.UpdateCount, &l.Status, &transcript, &createdAt); err != nil {
			return nil, err
		}
		l.Transcript = transcript.String
		l.CreatedAt = fromMillis(createdAt)
		out = append(out, &l)
	}
	return out, rows.Err()
}
