/*
 * @Description: 统一配置管理 (手动加载 ini + 环境变量覆盖)
 * @Author: 安知鱼
 * @Date: 2025-06-28 00:21:55
 * @LastEditTime: 2026-03-02 10:12:40
 * @LastEditors: 安知鱼
 */
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-ini/ini"
	"github.com/spf13/viper"
)

// 环境变量前缀，例如 MPFLOW_DATABASE_HOST
const envPrefix = "MPFLOW"

// DefaultFilePath 默认配置文件路径
const DefaultFilePath = "data/conf.ini"

type Config struct {
	vp *viper.Viper
}

// NewConfig 手动加载配置，确保可靠性
func NewConfig() (*Config, error) {
	return NewConfigFromFile(DefaultFilePath)
}

// NewConfigFromFile 从指定的 ini 文件加载配置，文件不存在时自动创建默认配置
func NewConfigFromFile(filePath string) (*Config, error) {
	vp := viper.New()
	applyDefaults(vp)

	// --- 步骤 1: 使用 go-ini 从文件加载配置 ---
	iniCfg, err := ini.Load(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("提示: 未找到 %s，将创建默认配置文件。", filePath)
			if err := createDefaultConfigFile(filePath); err != nil {
				log.Printf("警告: 创建默认配置文件失败: %v，将仅依赖环境变量或内部默认值。", err)
			} else {
				log.Printf("✅ 已创建默认配置文件: %s", filePath)
				iniCfg, err = ini.Load(filePath)
				if err != nil {
					log.Printf("警告: 重新加载配置文件失败: %v", err)
				}
			}
		} else {
			return nil, fmt.Errorf("错误: 解析配置文件 '%s' 失败: %w", filePath, err)
		}
	}

	if iniCfg != nil {
		for _, section := range iniCfg.Sections() {
			for _, key := range section.Keys() {
				viperKey := fmt.Sprintf("%s.%s", section.Name(), key.Name())
				if section.Name() == ini.DefaultSection {
					viperKey = key.Name()
				}
				vp.Set(viperKey, key.Value())
			}
		}
		log.Printf("从 %s 文件加载了配置。", filePath)
	}

	// --- 步骤 2: 手动检查并覆盖环境变量 ---
	envReplacer := strings.NewReplacer(".", "_")
	for _, key := range allKeys {
		envVarName := fmt.Sprintf("%s_%s", envPrefix, envReplacer.Replace(strings.ToUpper(key)))
		if value, found := os.LookupEnv(envVarName); found {
			vp.Set(key, value)
			log.Printf("发现环境变量: %s, 已覆盖配置 '%s'。", envVarName, key)
		}
	}

	log.Println("✅ 配置加载器初始化完成。")
	return &Config{vp: vp}, nil
}

// NewFromMap 直接从键值对构造配置，主要用于测试
func NewFromMap(values map[string]interface{}) *Config {
	vp := viper.New()
	applyDefaults(vp)
	for k, v := range values {
		vp.Set(k, v)
	}
	return &Config{vp: vp}
}

func (c *Config) GetString(key string) string {
	return c.vp.GetString(key)
}

func (c *Config) GetInt(key string) int {
	return c.vp.GetInt(key)
}

func (c *Config) GetBool(key string) bool {
	return c.vp.GetBool(key)
}

func (c *Config) GetFloat(key string) float64 {
	return c.vp.GetFloat64(key)
}

// GetSeconds 把以秒为单位的浮点配置转换为 time.Duration
func (c *Config) GetSeconds(key string) time.Duration {
	return time.Duration(c.vp.GetFloat64(key) * float64(time.Second))
}

// GetIntClamped 读取整型配置并限制在 [min, max] 区间
func (c *Config) GetIntClamped(key string, min, max int) int {
	v := c.vp.GetInt(key)
	if v < min {
		return min
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

// createDefaultConfigFile 创建默认的配置文件
func createDefaultConfigFile(filePath string) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	// 默认配置内容（使用 SQLite 作为默认数据库，AI 默认走 mock 通道）
	defaultConfig := `[System]
Port = 8092
Debug = false
OpsToken =
CorsOrigins =

[Database]
Type = sqlite
Name = mpflow.db
Debug = false

# Redis 配置（可选）
# 留空 Addr 时自动使用内存缓存
[Redis]
Addr =
Password =
DB = 10

[AI]
BaseURL = https://api.moonshot.cn/v1
APIKey =
Model = kimi-k2-0711-preview
DailyLimit = 60
RefineEnabled = true
DraftDir = ./data/ai_drafts
LocalRulesFile = ./data/ai_local_rules.yaml
WechatDefaultCoverPath = ./data/default_cover.jpg
JimengChannel = local

[Task]
Workers = 1
Interval = 10

[Gather]
ContentAutoCheck = false
ContentAutoInterval = 10

# 生成图片转存（可选）: qiniu / s3 / oss / cos，留空不转存
[Storage]
Provider =
`

	if err := os.WriteFile(filePath, []byte(defaultConfig), 0644); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	return nil
}
