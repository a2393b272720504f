/*
 * @Description: AI 创作队列仓储，所有状态迁移都带当前状态谓词
 * @Author: 安知鱼
 * @Date: 2026-02-16 14:10:27
 * @LastEditTime: 2026-03-02 21:52:06
 * @LastEditors: 安知鱼
 */
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"

	"github.com/google/uuid"
)

type composeJobRepo struct{ base }

const composeJobColumns = `id, owner_id, article_id, mode, request, status, status_msg, error_msg, result,
	created_at, updated_at, started_at, finished_at`

func scanComposeJob(row interface{ Scan(...interface{}) error }) (*model.ComposeJob, error) {
	var j model.ComposeJob
	var errorMsg sql.NullString
	var createdAt, updatedAt int64
	var startedAt, finishedAt sql.NullInt64
	if err := row.Scan(&j.ID, &j.OwnerID, &j.ArticleID, &j.Mode, &j.Request, &j.Status, &j.StatusMsg, &errorMsg,
		&j.Result, &createdAt, &updatedAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	j.ErrorMsg = errorMsg.String
	j.CreatedAt = fromMillis(createdAt)
	j.UpdatedAt = fromMillis(updatedAt)
	j.StartedAt = ptrFromNull(startedAt)
	j.FinishedAt = ptrFromNull(finishedAt)
	return &j, nil
}

func (r *composeJobRepo) Create(ctx context.Context, j *model.ComposeJob) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = model.JobStatusPending
	}
	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	_, err := r.exec(ctx, `INSERT INTO ai_compose_jobs (`+composeJobColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.OwnerID, j.ArticleID, j.Mode, j.Request, j.Status, j.StatusMsg, j.ErrorMsg, j.Result,
		toMillis(j.CreatedAt), toMillis(j.UpdatedAt), nullMillis(j.StartedAt), nullMillis(j.FinishedAt))
	if err != nil {
		return fmt.Errorf("创建 AI 创作任务失败: %w", err)
	}
	return nil
}

func (r *composeJobRepo) Get(ctx context.Context, ownerID, id string) (*model.ComposeJob, error) {
	j, err := scanComposeJob(r.queryRow(ctx, `SELECT `+composeJobColumns+` FROM ai_compose_jobs WHERE owner_id = ? AND id = ?`, ownerID, id))
	if err != nil {
		return nil, notFound(err, "AI 创作任务不存在")
	}
	return j, nil
}

func (r *composeJobRepo) list(ctx context.Context, query string, args ...interface{}) ([]*model.ComposeJob, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.ComposeJob
	for rows.Next() {
		j, err := scanComposeJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *composeJobRepo) ListPending(ctx context.Context, limit int) ([]*model.ComposeJob, error) {
	if limit <= 0 {
		limit = 1
	}
	return r.list(ctx, `SELECT `+composeJobColumns+` FROM ai_compose_jobs WHERE status = ?
		ORDER BY created_at ASC LIMIT ?`, model.JobStatusPending, limit)
}

func (r *composeJobRepo) Claim(ctx context.Context, id, statusMsg string, now time.Time) (bool, error) {
	n, err := r.exec(ctx, `UPDATE ai_compose_jobs SET status = ?, status_msg = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		model.JobStatusProcessing, statusMsg, toMillis(now), toMillis(now), id, model.JobStatusPending)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *composeJobRepo) UpdateProgress(ctx context.Context, id, statusMsg string) error {
	_, err := r.exec(ctx, `UPDATE ai_compose_jobs SET status_msg = ?, updated_at = ? WHERE id = ? AND status = ?`,
		statusMsg, toMillis(time.Now()), id, model.JobStatusProcessing)
	return err
}

func (r *composeJobRepo) Finish(ctx context.Context, id, status, statusMsg, errorMsg string, result model.JSONMap, now time.Time) (bool, error) {
	if !model.IsTerminalJobStatus(status) {
		return false, fmt.Errorf("非终态状态: %s", status)
	}
	n, err := r.exec(ctx, `UPDATE ai_compose_jobs SET status = ?, status_msg = ?, error_msg = ?, result = ?,
		finished_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		status, statusMsg, errorMsg, result, toMillis(now), toMillis(now), id, model.JobStatusProcessing)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *composeJobRepo) Requeue(ctx context.Context, id, statusMsg string) (bool, error) {
	n, err := r.exec(ctx, `UPDATE ai_compose_jobs SET status = ?, status_msg = ?, started_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?`,
		model.JobStatusPending, statusMsg, toMillis(time.Now()), id, model.JobStatusProcessing)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *composeJobRepo) RequeueStale(ctx context.Context, statusMsg string, startedBefore time.Time) (int, error) {
	n, err := r.exec(ctx, `UPDATE ai_compose_jobs SET status = ?, status_msg = ?, started_at = NULL, updated_at = ?
		WHERE status = ? AND (started_at IS NULL OR started_at < ?)`,
		model.JobStatusPending, statusMsg, toMillis(time.Now()), model.JobStatusProcessing, toMillis(startedBefore))
	if err != nil {
		return 0, fmt.Errorf("恢复中断的 AI 创作任务失败: %w", err)
	}
	return int(n), nil
}

func (r *composeJobRepo) filter(ownerID string, statuses []string) (string, []interface{}) {
	where := `owner_id = ?`
	args := []interface{}{ownerID}
	if len(statuses) > 0 {
		where += ` AND status IN (` + placeholders(len(statuses)) + `)`
		args = append(args, stringArgs(statuses)...)
	}
	return where, args
}

func (r *composeJobRepo) List(ctx context.Context, ownerID string, statuses []string, limit int) ([]*model.ComposeJob, error) {
	if limit <= 0 {
		limit = 20
	}
	where, args := r.filter(ownerID, statuses)
	args = append(args, limit)
	return r.list(ctx, `SELECT `+composeJobColumns+` FROM ai_compose_jobs WHERE `+where+` ORDER BY created_at DESC LIMIT ?`, args...)
}

func (r *composeJobRepo) Count(ctx context.Context, ownerID string, statuses []string) (int, error) {
	where, args := r.filter(ownerID, statuses)
	var n int
	err := r.queryRow(ctx, `SELECT COUNT(*) FROM ai_compose_jobs WHERE `+where, args...).Scan(&n)
	return n, err
}
