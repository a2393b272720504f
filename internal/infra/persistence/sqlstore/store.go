/*
 * @Description: database/sql 仓储的公共部分：占位符改写、时间列与可空列
 * @Author: 安知鱼
 * @Date: 2026-02-16 11:05:12
 * @LastEditTime: 2026-03-02 21:40:58
 * @LastEditors: 安知鱼
 */
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/constant"
)

// querier 由 *sql.DB 与 *sql.Tx 共同实现，仓储在事务内外可复用
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type base struct {
	q      querier
	dbType string
}

// rebind 把 ? 占位符改写为 PostgreSQL 的 $n
func (b base) rebind(query string) string {
	if b.dbType != "postgres" {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (b base) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := b.q.ExecContext(ctx, b.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (b base) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return b.q.QueryContext(ctx, b.rebind(query), args...)
}

func (b base) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return b.q.QueryRowContext(ctx, b.rebind(query), args...)
}

// placeholders 生成 IN 子句使用的 ?,?,?
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []interface{} {
	out := make([]interface{}, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, constant.ErrNotFound)
	}
	return err
}

// isUniqueViolation 三种驱动的唯一约束冲突文案不同
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

// 时间列统一保存为毫秒时间戳

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func ptrFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid || v.Int64 <= 0 {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
