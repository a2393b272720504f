package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMigrations_Idempotent(t *testing.T) {
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	svc := NewMigrationService(db, "sqlite3")
	require.NoError(t, svc.RunMigrations(ctx))
	require.NoError(t, svc.RunMigrations(ctx), "重复执行迁移不应报错")

	for _, col := range []string{"message_template", "web_hook_url", "last_article_id", "policy"} {
		exists, err := svc.columnExists(ctx, "message_tasks", col)
		require.NoError(t, err)
		assert.True(t, exists, "缺少字段 %s", col)
	}
}

func TestNormalizeType(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"mariadb", "mysql"},
		{"MySQL", "mysql"},
		{"postgresql", "postgres"},
		{"sqlite3", "sqlite"},
		{"", "sqlite"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, NormalizeType(tc.in), tc.in)
	}
}
