package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"

	"github.com/google/uuid"
)

type publishRecordRepo struct{ base }

const publishRecordColumns = `id, owner_id, article_id, draft_id, payload, status, retries, max_retries, next_attempt_at,
	last_error, last_response, created_at, updated_at`

func scanPublishRecord(row interface{ Scan(...interface{}) error }) (*model.PublishRecord, error) {
	var p model.PublishRecord
	var payload, lastError, lastResponse sql.NullString
	var next sql.NullInt64
	var createdAt, updatedAt int64
	if err := row.Scan(&p.ID, &p.OwnerID, &p.ArticleID, &p.DraftID, &payload, &p.Status, &p.Retries, &p.MaxRetries,
		&next, &lastError, &lastResponse, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &p.Payload); err != nil {
			return nil, fmt.Errorf("解析投递内容失败: %w", err)
		}
	}
	p.NextAttemptAt = ptrFromNull(next)
	p.LastError = lastError.String
	p.LastResponse = lastResponse.String
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}

func (r *publishRecordRepo) Create(ctx context.Context, p *model.PublishRecord) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return err
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err = r.exec(ctx, `INSERT INTO ai_publish_records (`+publishRecordColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.OwnerID, p.ArticleID, p.DraftID, string(payload), p.Status, p.Retries, p.MaxRetries,
		nullMillis(p.NextAttemptAt), p.LastError, p.LastResponse, toMillis(p.CreatedAt), toMillis(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("写入投递重试记录失败: %w", err)
	}
	return nil
}

func (r *publishRecordRepo) Get(ctx context.Context, ownerID, id string) (*model.PublishRecord, error) {
	p, err := scanPublishRecord(r.queryRow(ctx, `SELECT `+publishRecordColumns+` FROM ai_publish_records WHERE owner_id = ? AND id = ?`, ownerID, id))
	if err != nil {
		return nil, notFound(err, "投递记录不存在")
	}
	return p, nil
}

func (r *publishRecordRepo) ListDue(ctx context.Context, ownerID string, now time.Time, limit int) ([]*model.PublishRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + publishRecordColumns + ` FROM ai_publish_records
		WHERE status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)`
	args := []interface{}{model.JobStatusPending, toMillis(now)}
	if ownerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, ownerID)
	}
	args = append(args, limit)
	rows, err := r.query(ctx, query+` ORDER BY created_at ASC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.PublishRecord
	for rows.Next() {
		p, err := scanPublishRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *publishRecordRepo) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	n, err := r.exec(ctx, `UPDATE ai_publish_records SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		model.JobStatusProcessing, toMillis(now), id, model.JobStatusPending)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *publishRecordRepo) Settle(ctx context.Context, id, status string, retries int, next *time.Time, lastError, lastResponse string, now time.Time) error {
	_, err := r.exec(ctx, `UPDATE ai_publish_records SET status = ?, retries = ?, next_attempt_at = ?,
		last_error = ?, last_response = ?, updated_at = ? WHERE id = ? AND status = ?`,
		status, retries, nullMillis(next), lastError, lastResponse, toMillis(now), id, model.JobStatusProcessing)
	return err
}
