/*
 * @Description:
 * @Author: 安知鱼
 * @Date: 2025-07-02 00:43:46
 * @LastEditTime: 2026-02-16 11:20:05
 * @LastEditors: 安知鱼
 */
// pkg/domain/repository/transaction.go
package repository

import "context"

// Repositories 结构体聚合了所有在单个事务中可能用到的仓储接口。
type Repositories struct {
	User          UserRepository
	Profile       AIProfileRepository
	Feed          FeedRepository
	Article       ArticleRepository
	Task          TaskRepository
	TaskLog       TaskLogRepository
	ComposeJob    ComposeJobRepository
	PublishRecord PublishRecordRepository
	WechatAuth    WechatAuthRepository
	CSDNAuth      CSDNAuthRepository
	DailyUsage    DailyUsageRepository
	BillingOrder  BillingOrderRepository
	Notice        NoticeRepository
}

// TransactionManager 定义了事务管理器的接口。
// 它的职责是执行一个业务逻辑单元，并确保其中的所有数据库操作都在单个事务中完成。
type TransactionManager interface {
	// Do 方法接收一个函数，该函数会在一个事务中被调用。
	// 如果函数返回错误，事务将回滚；否则，事务将提交。
	Do(ctx context.Context, fn func(repos Repositories) error) error
}
