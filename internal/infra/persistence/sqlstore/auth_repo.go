package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
)

type wechatAuthRepo struct{ base }

func (r *wechatAuthRepo) FindByOwner(ctx context.Context, ownerID string) (*model.WechatAuth, error) {
	var a model.WechatAuth
	var cookie, raw sql.NullString
	var expires sql.NullInt64
	var updatedAt int64
	err := r.queryRow(ctx, `SELECT owner_id, token, cookie, fingerprint, app_name, user_name, expires_at, raw_json, updated_at
		FROM wechat_auths WHERE owner_id = ?`, ownerID).
		Scan(&a.OwnerID, &a.Token, &cookie, &a.Fingerprint, &a.AppName, &a.UserName, &expires, &raw, &updatedAt)
	if err != nil {
		return nil, notFound(err, "公众号授权不存在")
	}
	a.Cookie = cookie.String
	a.RawJSON = raw.String
	a.ExpiresAt = ptrFromNull(expires)
	a.UpdatedAt = fromMillis(updatedAt)
	return &a, nil
}

// Save 每个用户最多一条，存在则覆盖
func (r *wechatAuthRepo) Save(ctx context.Context, a *model.WechatAuth) error {
	if len(a.RawJSON) > model.WechatRawLimit {
		a.RawJSON = a.RawJSON[:model.WechatRawLimit]
	}
	a.UpdatedAt = time.Now()
	n, err := r.exec(ctx, `UPDATE wechat_auths SET token = ?, cookie = ?, fingerprint = ?, app_name = ?, user_name = ?,
		expires_at = ?, raw_json = ?, updated_at = ? WHERE owner_id = ?`,
		a.Token, a.Cookie, a.Fingerprint, a.AppName, a.UserName, nullMillis(a.ExpiresAt), a.RawJSON, toMillis(a.UpdatedAt), a.OwnerID)
	if err != nil || n > 0 {
		return err
	}
	_, err = r.exec(ctx, `INSERT INTO wechat_auths (owner_id, token, cookie, fingerprint, app_name, user_name, expires_at, raw_json, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		a.OwnerID, a.Token, a.Cookie, a.Fingerprint, a.AppName, a.UserName, nullMillis(a.ExpiresAt), a.RawJSON, toMillis(a.UpdatedAt))
	return err
}

func (r *wechatAuthRepo) ClearCredentials(ctx context.Context, ownerID string) error {
	_, err := r.exec(ctx, `UPDATE wechat_auths SET token = '', cookie = '', expires_at = NULL, updated_at = ? WHERE owner_id = ?`,
		toMillis(time.Now()), ownerID)
	return err
}

type csdnAuthRepo struct{ base }

func (r *csdnAuthRepo) FindByOwner(ctx context.Context, ownerID string) (*model.CSDNAuth, error) {
	var a model.CSDNAuth
	var state sql.NullString
	var updatedAt int64
	err := r.queryRow(ctx, `SELECT owner_id, storage_state, status, username, updated_at FROM csdn_auths WHERE owner_id = ?`, ownerID).
		Scan(&a.OwnerID, &state, &a.Status, &a.Username, &updatedAt)
	if err != nil {
		return nil, notFound(err, "CSDN 授权不存在")
	}
	a.StorageState = state.String
	a.UpdatedAt = fromMillis(updatedAt)
	return &a, nil
}

func (r *csdnAuthRepo) Save(ctx context.Context, a *model.CSDNAuth) error {
	if a.Status == "" {
		a.Status = model.CSDNStatusValid
	}
	a.UpdatedAt = time.Now()
	n, err := r.exec(ctx, `UPDATE csdn_auths SET storage_state = ?, status = ?, username = ?, updated_at = ? WHERE owner_id = ?`,
		a.StorageState, a.Status, a.Username, toMillis(a.UpdatedAt), a.OwnerID)
	if err != nil || n > 0 {
		return err
	}
	_, err = r.exec(ctx, `INSERT INTO csdn_auths (owner_id, storage_state, status, username, updated_at) VALUES (?,?,?,?,?)`,
		a.OwnerID, a.StorageState, a.Status, a.Username, toMillis(a.UpdatedAt))
	return err
}

func (r *csdnAuthRepo) MarkExpired(ctx context.Context, ownerID string) error {
	_, err := r.exec(ctx, `UPDATE csdn_auths SET status = ?, updated_at = ? WHERE owner_id = ?`,
		model.CSDNStatusExpired, toMillis(time.Now()), ownerID)
	return err
}
