package repository

import (
	"context"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
)

type WechatAuthRepository interface {
	FindByOwner(ctx context.Context, ownerID string) (*model.WechatAuth, error)
	Save(ctx context.Context, auth *model.WechatAuth) error
	// ClearCredentials 清空 token 与 cookie，用户回到未授权状态
	ClearCredentials(ctx context.Context, ownerID string) error
}

type CSDNAuthRepository interface {
	FindByOwner(ctx context.Context, ownerID string) (*model.CSDNAuth, error)
	Save(ctx context.Context, auth *model.CSDNAuth) error
	MarkExpired(ctx context.Context, ownerID string) error
}
