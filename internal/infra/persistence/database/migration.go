/*
 * @Description: 数据库迁移服务（建表、补列、建索引）
 * @Author: 安知鱼
 * @Date: 2025-12-08
 * @LastEditTime: 2026-02-16 10:41:33
 * @LastEditors: 安知鱼
 */
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
)

// MigrationService 数据库迁移服务
type MigrationService struct {
	db     *sql.DB
	dbType string
}

// NewMigrationService 创建迁移服务
func NewMigrationService(db *sql.DB, dbType string) *MigrationService {
	return &MigrationService{
		db:     db,
		dbType: NormalizeType(dbType),
	}
}

type tableDef struct {
	name    string
	columns string
	indexes []indexDef
}

type indexDef struct {
	name    string
	columns string
	unique  bool
}

// 时间统一以毫秒时间戳保存，三种方言的类型只有长文本不同
func (m *MigrationService) tables() []tableDef {
	long := "TEXT"
	if m.dbType == "mysql" {
		long = "LONGTEXT"
	}
	return []tableDef{
		{
			name: "users",
			columns: `owner_id VARCHAR(64) NOT NULL PRIMARY KEY,
				role VARCHAR(16) NOT NULL DEFAULT 'user',
				tier VARCHAR(16) NOT NULL DEFAULT 'free',
				monthly_ai_quota INTEGER NOT NULL DEFAULT 0,
				monthly_ai_used INTEGER NOT NULL DEFAULT 0,
				monthly_image_quota INTEGER NOT NULL DEFAULT 0,
				monthly_image_used INTEGER NOT NULL DEFAULT 0,
				quota_reset_at BIGINT NULL,
				plan_expires_at BIGINT NULL,
				wechat_app_id VARCHAR(128) NOT NULL DEFAULT '',
				wechat_app_secret VARCHAR(256) NOT NULL DEFAULT '',
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL`,
			indexes: []indexDef{{name: "idx_users_plan_expires", columns: "tier, plan_expires_at"}},
		},
		{
			name: "ai_profiles",
			columns: `owner_id VARCHAR(64) NOT NULL PRIMARY KEY,
				base_url VARCHAR(512) NOT NULL DEFAULT '',
				api_key VARCHAR(512) NOT NULL DEFAULT '',
				model_name VARCHAR(128) NOT NULL DEFAULT '',
				temperature INTEGER NOT NULL DEFAULT 70,
				updated_at BIGINT NOT NULL`,
		},
		{
			name: "feeds",
			columns: `id VARCHAR(64) NOT NULL PRIMARY KEY,
				owner_id VARCHAR(64) NOT NULL,
				source_id VARCHAR(512) NOT NULL,
				display_name VARCHAR(255) NOT NULL DEFAULT '',
				avatar VARCHAR(1024) NOT NULL DEFAULT '',
				status VARCHAR(16) NOT NULL DEFAULT 'active',
				last_update_ts BIGINT NOT NULL DEFAULT 0,
				created_at BIGINT NOT NULL`,
			indexes: []indexDef{{name: "uk_feeds_owner_source", columns: "owner_id, source_id", unique: true}},
		},
		{
			name: "articles",
			columns: `id VARCHAR(64) NOT NULL,
				owner_id VARCHAR(64) NOT NULL,
				feed_id VARCHAR(64) NOT NULL,
				title VARCHAR(512) NOT NULL DEFAULT '',
				url VARCHAR(700) NOT NULL DEFAULT '',
				description TEXT,
				cover VARCHAR(1024) NOT NULL DEFAULT '',
				publish_ts BIGINT NOT NULL DEFAULT 0,
				content ` + long + `,
				status VARCHAR(16) NOT NULL DEFAULT 'active',
				created_at BIGINT NOT NULL,
				PRIMARY KEY (owner_id, id)`,
			indexes: []indexDef{
				{name: "idx_articles_owner_url", columns: "owner_id, url"},
				{name: "idx_articles_feed_publish", columns: "owner_id, feed_id, publish_ts"},
			},
		},
		{
			name: "message_tasks",
			columns: `id VARCHAR(64) NOT NULL PRIMARY KEY,
				owner_id VARCHAR(64) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				cron_expr VARCHAR(64) NOT NULL DEFAULT '',
				task_type VARCHAR(16) NOT NULL DEFAULT 'crawl',
				feed_ids TEXT,
				status VARCHAR(16) NOT NULL DEFAULT 'active',
				policy ` + long + `,
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL`,
			indexes: []indexDef{{name: "idx_message_tasks_owner", columns: "owner_id, status"}},
		},
		{
			name: "message_task_logs",
			columns: `id VARCHAR(64) NOT NULL PRIMARY KEY,
				owner_id VARCHAR(64) NOT NULL,
				task_id VARCHAR(64) NOT NULL,
				feed_ids TEXT,
				update_count INTEGER NOT NULL DEFAULT 0,
				status INTEGER NOT NULL DEFAULT 1,
				transcript TEXT,
				created_at BIGINT NOT NULL`,
			indexes: []indexDef{{name: "idx_message_task_logs_task", columns: "owner_id, task_id, created_at"}},
		},
		{
			name: "ai_compose_jobs",
			columns: `id VARCHAR(64) NOT NULL PRIMARY KEY,
				owner_id VARCHAR(64) NOT NULL,
				article_id VARCHAR(64) NOT NULL DEFAULT '',
				mode VARCHAR(16) NOT NULL,
				request ` + long + `,
				status VARCHAR(16) NOT NULL DEFAULT 'pending',
				status_msg VARCHAR(512) NOT NULL DEFAULT '',
				error_msg TEXT,
				result ` + long + `,
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL,
				started_at BIGINT NULL,
				finished_at BIGINT NULL`,
			indexes: []indexDef{
				{name: "idx_ai_compose_jobs_status", columns: "status, created_at"},
				{name: "idx_ai_compose_jobs_owner", columns: "owner_id, created_at"},
			},
		},
		{
			name: "ai_publish_records",
			columns: `id VARCHAR(64) NOT NULL PRIMARY KEY,
				owner_id VARCHAR(64) NOT NULL,
				article_id VARCHAR(64) NOT NULL DEFAULT '',
				draft_id VARCHAR(64) NOT NULL DEFAULT '',
				payload ` + long + `,
				status VARCHAR(16) NOT NULL DEFAULT 'pending',
				retries INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 3,
				next_attempt_at BIGINT NULL,
				last_error TEXT,
				last_response TEXT,
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL`,
			indexes: []indexDef{{name: "idx_ai_publish_records_due", columns: "status, next_attempt_at"}},
		},
		{
			name: "wechat_auths",
			columns: `owner_id VARCHAR(64) NOT NULL PRIMARY KEY,
				token VARCHAR(128) NOT NULL DEFAULT '',
				cookie TEXT,
				fingerprint VARCHAR(255) NOT NULL DEFAULT '',
				app_name VARCHAR(255) NOT NULL DEFAULT '',
				user_name VARCHAR(255) NOT NULL DEFAULT '',
				expires_at BIGINT NULL,
				raw_json TEXT,
				updated_at BIGINT NOT NULL`,
		},
		{
			name: "csdn_auths",
			columns: `owner_id VARCHAR(64) NOT NULL PRIMARY KEY,
				storage_state ` + long + `,
				status VARCHAR(16) NOT NULL DEFAULT 'valid',
				username VARCHAR(255) NOT NULL DEFAULT '',
				updated_at BIGINT NOT NULL`,
		},
		{
			name: "ai_daily_usages",
			columns: `id VARCHAR(96) NOT NULL PRIMARY KEY,
				owner_id VARCHAR(64) NOT NULL,
				usage_date VARCHAR(10) NOT NULL,
				used_count INTEGER NOT NULL DEFAULT 0,
				updated_at BIGINT NOT NULL`,
		},
		{
			name: "billing_orders",
			columns: `order_no VARCHAR(64) NOT NULL PRIMARY KEY,
				owner_id VARCHAR(64) NOT NULL,
				tier VARCHAR(16) NOT NULL,
				months INTEGER NOT NULL DEFAULT 1,
				amount_cents INTEGER NOT NULL DEFAULT 0,
				currency VARCHAR(8) NOT NULL DEFAULT 'CNY',
				channel VARCHAR(32) NOT NULL DEFAULT '',
				status VARCHAR(16) NOT NULL DEFAULT 'pending',
				paid_at BIGINT NULL,
				canceled_at BIGINT NULL,
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL`,
			indexes: []indexDef{{name: "idx_billing_orders_owner", columns: "owner_id, created_at"}},
		},
		{
			name: "user_notices",
			columns: `id VARCHAR(64) NOT NULL PRIMARY KEY,
				owner_id VARCHAR(64) NOT NULL,
				title VARCHAR(300) NOT NULL DEFAULT '',
				content TEXT,
				notice_type VARCHAR(32) NOT NULL DEFAULT 'system',
				ref_id VARCHAR(64) NOT NULL DEFAULT '',
				is_read INTEGER NOT NULL DEFAULT 0,
				created_at BIGINT NOT NULL`,
			indexes: []indexDef{{name: "idx_user_notices_owner", columns: "owner_id, is_read, created_at"}},
		},
	}
}

// RunMigrations 执行所有迁移
func (m *MigrationService) RunMigrations(ctx context.Context) error {
	log.Println("📋 开始执行数据库迁移...")

	for _, t := range m.tables() {
		stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", t.name, t.columns)
		if m.dbType == "mysql" {
			stmt += " DEFAULT CHARSET=utf8mb4"
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("创建表 %s 失败: %w", t.name, err)
		}
		for _, idx := range t.indexes {
			if err := m.createIndex(ctx, t.name, idx); err != nil {
				return err
			}
		}
	}
	log.Println("  ✓ 表结构已就绪")

	if err := m.migrateTaskColumns(ctx); err != nil {
		return fmt.Errorf("任务表字段迁移失败: %w", err)
	}

	log.Println("✅ 数据库迁移完成")
	return nil
}

// migrateTaskColumns 为旧版任务表补齐 webhook 与 last_article_id 字段
func (m *MigrationService) migrateTaskColumns(ctx context.Context) error {
	columns := []struct {
		name string
		ddl  string
	}{
		{"message_template", "TEXT"},
		{"web_hook_url", "VARCHAR(1024) NOT NULL DEFAULT ''"},
		{"last_article_id", "VARCHAR(64) NOT NULL DEFAULT ''"},
	}
	for _, col := range columns {
		exists, err := m.columnExists(ctx, "message_tasks", col.name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		log.Printf("  → 添加 message_tasks.%s 字段...", col.name)
		if _, err := m.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE message_tasks ADD COLUMN %s %s", col.name, col.ddl)); err != nil {
			return fmt.Errorf("添加 %s 字段失败: %w", col.name, err)
		}
	}
	return nil
}

func (m *MigrationService) createIndex(ctx context.Context, table string, idx indexDef) error {
	kind := "INDEX"
	if idx.unique {
		kind = "UNIQUE INDEX"
	}
	var stmt string
	if m.dbType == "mysql" {
		// MySQL 不支持 IF NOT EXISTS，重复创建时忽略报错
		stmt = fmt.Sprintf("CREATE %s %s ON %s (%s)", kind, idx.name, table, idx.columns)
	} else {
		stmt = fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)", kind, idx.name, table, idx.columns)
	}
	_, err := m.db.ExecContext(ctx, stmt)
	if err != nil && !strings.Contains(err.Error(), "Duplicate key name") {
		return fmt.Errorf("创建索引 %s 失败: %w", idx.name, err)
	}
	return nil
}

func (m *MigrationService) columnExists(ctx context.Context, tableName, columnName string) (bool, error) {
	var query string
	var args []interface{}

	switch m.dbType {
	case "mysql":
		query = `
			SELECT COUNT(*) 
			FROM INFORMATION_SCHEMA.COLUMNS 
			WHERE TABLE_SCHEMA = DATABASE() 
			AND TABLE_NAME = ? 
			AND COLUMN_NAME = ?
		`
		args = []interface{}{tableName, columnName}

	case "postgres":
		query = `
			SELECT COUNT(*) 
			FROM information_schema.columns 
			WHERE table_name = $1 
			AND column_name = $2
		`
		args = []interface{}{tableName, columnName}

	case "sqlite":
		query = `
			SELECT COUNT(*) 
			FROM pragma_table_info(?)
			WHERE name = ?
		`
		args = []interface{}{tableName, columnName}

	default:
		return false, fmt.Errorf("不支持的数据库类型: %s", m.dbType)
	}

	var count int
	err := m.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}
