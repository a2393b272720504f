package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/infra/persistence/database"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/config"
)

func TestInitialize(t *testing.T) {
	root := t.TempDir()
	cfg := config.NewFromMap(map[string]interface{}{
		config.KeyAIDraftDir:          filepath.Join(root, "drafts"),
		config.KeyAICSDNScreenshotDir: filepath.Join(root, "shots"),
		config.KeyAILocalRulesFile:    filepath.Join(root, "rules", "ai_local_rules.yaml"),
	})
	db, err := database.NewSQLiteDB(filepath.Join(root, "boot.db"))
	require.NoError(t, err)
	defer db.Close()

	b := NewBootstrapper(db, "sqlite", cfg)
	require.NoError(t, b.Initialize(context.Background()))
	// 重复执行不报错
	require.NoError(t, b.Initialize(context.Background()))

	for _, dir := range []string{"drafts", "shots", "rules"} {
		info, err := os.Stat(filepath.Join(root, dir))
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM message_tasks`).Scan(&n))
	assert.Zero(t, n)
}

func TestDirs_Dedupe(t *testing.T) {
	cfg := config.NewFromMap(map[string]interface{}{
		config.KeyAIDraftDir:          "./data",
		config.KeyAICSDNScreenshotDir: "./data",
		config.KeyAILocalRulesFile:    "./data/rules.yaml",
	})
	assert.Equal(t, []string{"data"}, NewBootstrapper(nil, "sqlite", cfg).Dirs())
}
