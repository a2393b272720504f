package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/infra/persistence/database"
	"github.com/anzhiyu-c/anheyu-mpflow/internal/infra/persistence/sqlstore"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/constant"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/repository"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/wechat"
)

const csdnState = `{"cookies":[{"name":"UserName","value":"fish","domain":".csdn.net","path":"/","expires":-1}],"origins":[]}`

func newRepos(t *testing.T) repository.Repositories {
	t.Helper()
	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.NewMigrationService(db, "sqlite").RunMigrations(context.Background()))
	return sqlstore.NewRepositories(db, "sqlite")
}

func newService(t *testing.T, repos repository.Repositories, probeBody string) AuthService {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(probeBody))
	}))
	t.Cleanup(srv.Close)
	return NewAuthService(repos.User, repos.WechatAuth, repos.CSDNAuth, wechat.NewProber(srv.URL, srv.Client(), "ua"), "ua")
}

func TestWechatSession(t *testing.T) {
	repos := newRepos(t)
	svc := newService(t, repos, `{}`)
	ctx := context.Background()

	_, err := svc.WechatSession(ctx, "u1")
	assert.True(t, errors.Is(err, constant.ErrAuthMissing), "没有授权记录")

	past := time.Now().Add(-time.Hour)
	require.NoError(t, svc.SaveWechatSession(ctx, &model.WechatAuth{OwnerID: "u1", Token: "1", Cookie: "c", ExpiresAt: &past}))
	_, err = svc.WechatSession(ctx, "u1")
	assert.True(t, errors.Is(err, constant.ErrAuthMissing), "授权已过期")

	require.NoError(t, svc.SaveWechatSession(ctx, &model.WechatAuth{OwnerID: "u1", Token: " 123 ", Cookie: "slave_sid=x"}))
	creds, err := svc.WechatSession(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "123", creds.Token)
	assert.Equal(t, "ua", creds.UserAgent)
	assert.True(t, creds.Valid())
}

func TestProbeWechat(t *testing.T) {
	testCases := []struct {
		name        string
		body        string
		wantStatus  string
		wantCleared bool
	}{
		{"有效", `{"base_resp":{"ret":0}}`, model.ProbeValid, false},
		{"会话失效清空凭证", `{"base_resp":{"ret":200003,"err_msg":"invalid session"}}`, model.ProbeInvalidCleared, true},
		{"其他错误", `{"base_resp":{"ret":200040,"err_msg":"freq"}}`, model.ProbeInvalid, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			repos := newRepos(t)
			svc := newService(t, repos, tc.body)
			ctx := context.Background()
			require.NoError(t, svc.SaveWechatSession(ctx, &model.WechatAuth{OwnerID: "u1", Token: "1", Cookie: "c"}))

			res, err := svc.ProbeWechat(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, res.Status)

			_, err = svc.WechatSession(ctx, "u1")
			assert.Equal(t, tc.wantCleared, errors.Is(err, constant.ErrAuthMissing))
		})
	}
}

func TestProbeWechat_NoAuth(t *testing.T) {
	svc := newService(t, newRepos(t), `{}`)
	res, err := svc.ProbeWechat(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, model.ProbeInvalid, res.Status)
}

func TestOpenAPICredentials(t *testing.T) {
	repos := newRepos(t)
	svc := newService(t, repos, `{}`)
	ctx := context.Background()

	_, err := svc.OpenAPICredentials(ctx, "u1")
	assert.True(t, errors.Is(err, constant.ErrOpenAPICredentialsMissing))

	require.NoError(t, repos.User.Create(ctx, &model.User{OwnerID: "u1", Role: model.RoleUser}))
	_, err = svc.OpenAPICredentials(ctx, "u1")
	assert.True(t, errors.Is(err, constant.ErrOpenAPICredentialsMissing))

	assert.True(t, errors.Is(svc.SaveOpenAPICredentials(ctx, "u1", "wx1", ""), constant.ErrBadRequest))
	require.NoError(t, svc.SaveOpenAPICredentials(ctx, "u1", " wx1 ", "sec"))
	creds, err := svc.OpenAPICredentials(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, wechat.Credentials{AppID: "wx1", AppSecret: "sec"}, creds)
}

func TestCSDNSession(t *testing.T) {
	repos := newRepos(t)
	svc := newService(t, repos, `{}`)
	ctx := context.Background()

	_, err := svc.CSDNSession(ctx, "u1")
	assert.True(t, errors.Is(err, constant.ErrCSDNNeedsReauth))

	assert.True(t, errors.Is(svc.SaveCSDNSession(ctx, "u1", `{"cookies":[]}`, ""), constant.ErrBadRequest))
	require.NoError(t, svc.SaveCSDNSession(ctx, "u1", csdnState, "fish"))

	state, err := svc.CSDNSession(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, csdnState, state)

	require.NoError(t, svc.ExpireCSDNSession(ctx, "u1"))
	_, err = svc.CSDNSession(ctx, "u1")
	assert.True(t, errors.Is(err, constant.ErrCSDNNeedsReauth))

	require.NoError(t, svc.ExpireCSDNSession(ctx, "nobody"))
}
