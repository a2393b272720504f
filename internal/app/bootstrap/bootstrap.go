// internal/app/bootstrap/bootstrap.go
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/infra/persistence/database"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/config"
)

type Bootstrapper struct {
	db     *sql.DB
	dbType string
	cfg    *config.Config
}

func NewBootstrapper(db *sql.DB, dbType string, cfg *config.Config) *Bootstrapper {
	return &Bootstrapper{
		db:     db,
		dbType: dbType,
		cfg:    cfg,
	}
}

// Initialize 建表并准备运行目录。目录创建失败直接返回错误，其余检查只打印警告
func (b *Bootstrapper) Initialize(ctx context.Context) error {
	log.Println("--- 开始执行初始化引导程序 ---")

	if err := database.NewMigrationService(b.db, b.dbType).RunMigrations(ctx); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}

	if err := b.prepareDirs(); err != nil {
		return err
	}
	b.checkAIProvider()
	b.checkDefaultCover()

	log.Println("--- 初始化引导程序执行完成 ---")
	return nil
}

// Dirs 运行期需要写入的目录
func (b *Bootstrapper) Dirs() []string {
	dirs := []string{
		b.cfg.GetString(config.KeyAIDraftDir),
		b.cfg.GetString(config.KeyAICSDNScreenshotDir),
	}
	if rules := b.cfg.GetString(config.KeyAILocalRulesFile); rules != "" {
		dirs = append(dirs, filepath.Dir(rules))
	}
	out := make([]string, 0, len(dirs))
	seen := map[string]bool{}
	for _, d := range dirs {
		if strings.TrimSpace(d) == "" {
			continue
		}
		d = filepath.Clean(d)
		if d == "." || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

func (b *Bootstrapper) prepareDirs() error {
	for _, dir := range b.Dirs() {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建目录 %s 失败: %w", dir, err)
		}
	}
	return nil
}

func (b *Bootstrapper) checkAIProvider() {
	key := strings.TrimSpace(b.cfg.GetString(config.KeyAIAPIKey))
	switch {
	case key == "":
		log.Println("⚠️  未配置 AI.APIKey，只有配置了个人模型的用户可以自动创作")
	case strings.EqualFold(key, "mock"):
		log.Println("⚠️  AI.APIKey = mock，创作结果为本地模拟内容")
	}
}

// checkDefaultCover 公众号草稿必须带封面，正文没有图片时使用默认封面
func (b *Bootstrapper) checkDefaultCover() {
	cover := b.cfg.GetString(config.KeyAIWechatDefaultCoverPath)
	if cover == "" {
		return
	}
	if _, err := os.Stat(cover); err != nil {
		log.Printf("⚠️  默认封面 %s 不存在，无图草稿投递公众号会失败", cover)
	}
}
