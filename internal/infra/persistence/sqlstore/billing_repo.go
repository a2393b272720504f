package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"

	"github.com/google/uuid"
)

type dailyUsageRepo struct{ base }

func usageID(ownerID, date string) string {
	return ownerID + ":" + date
}

func (r *dailyUsageRepo) Get(ctx context.Context, ownerID, date string) (int, error) {
	var n int
	err := r.queryRow(ctx, `SELECT used_count FROM ai_daily_usages WHERE id = ?`, usageID(ownerID, date)).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

func (r *dailyUsageRepo) Increment(ctx context.Context, ownerID, date string, delta int) error {
	id := usageID(ownerID, date)
	now := toMillis(time.Now())
	for attempt := 0; attempt < 2; attempt++ {
		n, err := r.exec(ctx, `UPDATE ai_daily_usages SET used_count = used_count + ?, updated_at = ? WHERE id = ?`, delta, now, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		_, err = r.exec(ctx, `INSERT INTO ai_daily_usages (id, owner_id, usage_date, used_count, updated_at) VALUES (?,?,?,?,?)`,
			id, ownerID, date, delta, now)
		if err == nil {
			return nil
		}
		// 并发插入冲突时回到 UPDATE
		if !isUniqueViolation(err) {
			return err
		}
	}
	return fmt.Errorf("更新每日用量失败: %s", id)
}

type billingOrderRepo struct{ base }

const billingOrderColumns = `order_no, owner_id, tier, months, amount_cents, currency, channel, status, paid_at, canceled_at, created_at, updated_at`

func scanBillingOrder(row interface{ Scan(...interface{}) error }) (*model.BillingOrder, error) {
	var o model.BillingOrder
	var paidAt, canceledAt sql.NullInt64
	var createdAt, updatedAt int64
	if err := row.Scan(&o.OrderNo, &o.OwnerID, &o.Tier, &o.Months, &o.AmountCents, &o.Currency, &o.Channel, &o.Status,
		&paidAt, &canceledAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	o.PaidAt = ptrFromNull(paidAt)
	o.CanceledAt = ptrFromNull(canceledAt)
	o.CreatedAt = fromMillis(createdAt)
	o.UpdatedAt = fromMillis(updatedAt)
	return &o, nil
}

func (r *billingOrderRepo) Create(ctx context.Context, o *model.BillingOrder) error {
	now := time.Now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	_, err := r.exec(ctx, `INSERT INTO billing_orders (`+billingOrderColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.OrderNo, o.OwnerID, o.Tier, o.Months, o.AmountCents, o.Currency, o.Channel, o.Status,
		nullMillis(o.PaidAt), nullMillis(o.CanceledAt), toMillis(o.CreatedAt), toMillis(o.UpdatedAt))
	return err
}

func (r *billingOrderRepo) FindByNo(ctx context.Context, ownerID, orderNo string) (*model.BillingOrder, error) {
	query := `SELECT ` + billingOrderColumns + ` FROM billing_orders WHERE order_no = ?`
	args := []interface{}{orderNo}
	if ownerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, ownerID)
	}
	o, err := scanBillingOrder(r.queryRow(ctx, query, args...))
	if err != nil {
		return nil, notFound(err, "订单不存在")
	}
	return o, nil
}

func (r *billingOrderRepo) Transition(ctx context.Context, orderNo, from, to string, at time.Time) (bool, error) {
	column := "updated_at"
	switch to {
	case model.OrderStatusPaid:
		column = "paid_at"
	case model.OrderStatusCanceled:
		column = "canceled_at"
	}
	n, err := r.exec(ctx, `UPDATE billing_orders SET status = ?, `+column+` = ?, updated_at = ? WHERE order_no = ? AND status = ?`,
		to, toMillis(at), toMillis(at), orderNo, from)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *billingOrderRepo) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.BillingOrder, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.query(ctx, `SELECT `+billingOrderColumns+` FROM billing_orders WHERE owner_id = ? ORDER BY created_at DESC LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.BillingOrder
	for rows.Next() {
		o, err := scanBillingOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type noticeRepo struct{ base }

func (r *noticeRepo) Create(ctx context.Context, n *model.Notice) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	isRead := 0
	if n.IsRead {
		isRead = 1
	}
	_, err := r.exec(ctx, `INSERT INTO user_notices (id, owner_id, title, content, notice_type, ref_id, is_read, created_at)
		VALUES (?,?,?,?,?,?,?,?)`, n.ID, n.OwnerID, n.Title, n.Content, n.NoticeType, n.RefID, isRead, toMillis(n.CreatedAt))
	return err
}

func (r *noticeRepo) ListByOwner(ctx context.Context, ownerID string, unreadOnly bool, limit int) ([]*model.Notice, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, owner_id, title, content, notice_type, ref_id, is_read, created_at FROM user_notices WHERE owner_id = ?`
	args := []interface{}{ownerID}
	if unreadOnly {
		query += ` AND is_read = 0`
	}
	args = append(args, limit)
	rows, err := r.query(ctx, query+` ORDER BY created_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Notice
	for rows.Next() {
		var n model.Notice
		var content sql.NullString
		var isRead int
		var createdAt int64
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.Title, &content, &n.NoticeType, &n.RefID, &isRead, &createdAt); err != nil {
			return nil, err
		}
		n.Content = content.String
		n.IsRead = isRead == 1
		n.CreatedAt = fromMillis(createdAt)
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (r *noticeRepo) MarkRead(ctx context.Context, ownerID, id string) error {
	_, err := r.exec(ctx, `UPDATE user_notices SET is_read = 1 WHERE owner_id = ? AND id = ?`, ownerID, id)
	return err
}

func (r *noticeRepo) CountUnread(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := r.queryRow(ctx, `SELECT COUNT(*) FROM user_notices WHERE owner_id = ? AND is_read = 0`, ownerID).Scan(&n)
	return n, err
}
