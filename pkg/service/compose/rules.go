/*
 * @Description: 本地创作规则：内置默认值 + yaml 覆盖文件，按 mtime 失效
 * @Author: 安知鱼
 * @Date: 2026-02-17 10:12:44
 * @LastEditTime: 2026-03-03 16:40:18
 * @LastEditors: 安知鱼
 */
package compose

import (
	"embed"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*
var templateFS embed.FS

type PlatformTemplate struct {
	Label       string   `yaml:"label"`
	Style       string   `yaml:"style"`
	Structure   string   `yaml:"structure"`
	Constraints []string `yaml:"constraints"`
}

type StyleGuard struct {
	BannedPhrases []string `yaml:"banned_phrases"`
}

// Rules 合并后的规则快照，只读
type Rules struct {
	TagRules          map[string][]string         `yaml:"tag_rules"`
	Stopwords         []string                    `yaml:"stopwords"`
	PlatformTemplates map[string]PlatformTemplate `yaml:"platform_templates"`
	StyleTemplates    map[string]string           `yaml:"style_templates"`
	LengthTemplates   map[string]string           `yaml:"length_templates"`
	StyleGuard        StyleGuard                  `yaml:"ai_style_guard"`
}

// Platform 未知平台回退到公众号模板
func (r *Rules) Platform(key string) PlatformTemplate {
	if tpl, ok := r.PlatformTemplates[key]; ok {
		return tpl
	}
	return r.PlatformTemplates[PlatformWechat]
}

func (r *Rules) StyleDesc(style string) string {
	if desc, ok := r.StyleTemplates[style]; ok {
		return desc
	}
	return style
}

func (r *Rules) LengthDesc(length string) string {
	if desc, ok := r.LengthTemplates[length]; ok {
		return desc
	}
	return length
}

type rulesSnapshot struct {
	exists bool
	mtime  time.Time
	rules  *Rules
}

// RulesLoader 按文件绝对路径缓存规则快照，文件 mtime 变化后重新合并
type RulesLoader struct {
	path  string
	cache *lru.Cache[string, rulesSnapshot]
}

func NewRulesLoader(path string) *RulesLoader {
	cache, _ := lru.New[string, rulesSnapshot](8)
	return &RulesLoader{path: path, cache: cache}
}

// Load 读取失败时静默回退到内置规则
func (l *RulesLoader) Load() *Rules {
	absPath, err := filepath.Abs(l.path)
	if err != nil {
		absPath = l.path
	}

	exists := false
	var mtime time.Time
	if info, statErr := os.Stat(absPath); statErr == nil && !info.IsDir() {
		exists = true
		mtime = info.ModTime()
	}

	if snap, ok := l.cache.Get(absPath); ok && snap.exists == exists && snap.mtime.Equal(mtime) {
		return snap.rules
	}

	rules, err := buildRules(absPath, exists)
	if err != nil {
		log.Printf("⚠️ 加载本地创作规则 %s 失败，使用内置规则: %v", absPath, err)
		rules, _ = buildRules("", false)
	}
	l.cache.Add(absPath, rulesSnapshot{exists: exists, mtime: mtime, rules: rules})
	return rules
}

func buildRules(path string, withOverlay bool) (*Rules, error) {
	raw, err := templateFS.ReadFile("templates/default_rules.yaml")
	if err != nil {
		return nil, err
	}
	base := map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &base); err != nil {
		return nil, fmt.Errorf("解析内置规则失败: %w", err)
	}

	if withOverlay {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		overlay := map[string]interface{}{}
		if err := yaml.Unmarshal(data, &overlay); err != nil {
			return nil, fmt.Errorf("解析规则文件失败: %w", err)
		}
		deepMerge(base, overlay)
	}

	merged, err := yaml.Marshal(base)
	if err != nil {
		return nil, err
	}
	rules := &Rules{}
	if err := yaml.Unmarshal(merged, rules); err != nil {
		return nil, fmt.Errorf("规则结构不合法: %w", err)
	}
	return rules, nil
}

// deepMerge 两侧同为 map 时递归合并，其他情况以 ext 为准
func deepMerge(base, ext map[string]interface{}) {
	for k, v := range ext {
		bm, okBase := base[k].(map[string]interface{})
		em, okExt := v.(map[string]interface{})
		if okBase && okExt {
			deepMerge(bm, em)
			continue
		}
		base[k] = v
	}
}

func mustTemplate(name string) string {
	data, err := templateFS.ReadFile("templates/" + name)
	if err != nil {
		panic(fmt.Sprintf("缺少内置模板 %s: %v", name, err))
	}
	return string(data)
}
