/*
 * @Description:
 * @Author: 安知鱼
 * @Date: 2025-07-13 23:40:12
 * @LastEditTime: 2026-02-16 11:32:40
 * @LastEditors: 安知鱼
 */
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/repository"
)

// sqlTransactionManager 基于 database/sql 的事务管理器
type sqlTransactionManager struct {
	db     *sql.DB
	dbType string
}

// NewTransactionManager 是 sqlTransactionManager 的构造函数。
func NewTransactionManager(db *sql.DB, dbType string) repository.TransactionManager {
	return &sqlTransactionManager{db: db, dbType: dbType}
}

// NewRepositories 返回直接使用连接池的仓储集合
func NewRepositories(db *sql.DB, dbType string) repository.Repositories {
	return buildRepositories(db, dbType)
}

func buildRepositories(q querier, dbType string) repository.Repositories {
	b := base{q: q, dbType: dbType}
	return repository.Repositories{
		User:          &userRepo{b},
		Profile:       &profileRepo{b},
		Feed:          &feedRepo{b},
		Article:       &articleRepo{b},
		Task:          &taskRepo{b},
		TaskLog:       &taskLogRepo{b},
		ComposeJob:    &composeJobRepo{b},
		PublishRecord: &publishRecordRepo{b},
		WechatAuth:    &wechatAuthRepo{b},
		CSDNAuth:      &csdnAuthRepo{b},
		DailyUsage:    &dailyUsageRepo{b},
		BillingOrder:  &billingOrderRepo{b},
		Notice:        &noticeRepo{b},
	}
}

// Do 实现了 TransactionManager 接口。
// 所有仓储都绑定在同一个 *sql.Tx 上，任何退出路径都会回滚未提交的事务。
func (tm *sqlTransactionManager) Do(ctx context.Context, fn func(repos repository.Repositories) error) error {
	tx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	if err := fn(buildRepositories(tx, tm.dbType)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}
