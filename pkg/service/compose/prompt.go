package compose

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/parser"
	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/strutil"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
)

const (
	PlatformWechat = "wechat"
	PlatformCSDN   = "csdn"

	DefaultStyle  = "专业深度"
	DefaultLength = "medium"

	sourceTextLimit = 6000
)

var (
	createFramework  = mustTemplate("create_framework.md")
	rewriteFramework = mustTemplate("rewrite_framework.md")
)

// Options 创作参数
type Options struct {
	Platform   string `json:"platform"`
	Style      string `json:"style"`
	Length     string `json:"length"`
	ImageCount int    `json:"image_count"`
	Audience   string `json:"audience"`
	Tone       string `json:"tone"`
}

// Normalize 填充默认值
func (o Options) Normalize() Options {
	o.Platform = strings.ToLower(strings.TrimSpace(o.Platform))
	if o.Platform == "" {
		o.Platform = PlatformWechat
	}
	o.Style = strings.TrimSpace(o.Style)
	if o.Style == "" {
		o.Style = DefaultStyle
	}
	o.Length = strings.ToLower(strings.TrimSpace(o.Length))
	if o.Length == "" {
		o.Length = DefaultLength
	}
	if o.ImageCount < 0 {
		o.ImageCount = 0
	}
	if o.ImageCount > MaxImagePrompts {
		o.ImageCount = MaxImagePrompts
	}
	o.Audience = strings.TrimSpace(o.Audience)
	o.Tone = strings.TrimSpace(o.Tone)
	return o
}

func (o Options) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"platform":    o.Platform,
		"style":       o.Style,
		"length":      o.Length,
		"image_count": o.ImageCount,
		"audience":    o.Audience,
		"tone":        o.Tone,
	}
}

const antiAIRules = "文风与结构约束：\n" +
	"1. 正文以自然段叙述为主，不要堆砌小标题。\n" +
	"2. 全文最多使用 2 个二级标题，禁止三级及以下标题。\n" +
	"3. 非必要不使用有序列表；若必须列步骤，仅允许 1 处且最多 3 条。\n" +
	"4. 避免“首先/其次/最后/总之”等模板词，降低 AI 腔。\n" +
	"5. 每段必须有新信息，多写具体场景、动作细节、数字或对比。\n" +
	"6. 句式长短交替，避免整篇同一节奏。\n"

// BuildPrompt 按模式生成 system / user 两段提示词
func BuildPrompt(rules *Rules, mode, title, content, instruction string, opts Options) (string, string) {
	opts = opts.Normalize()
	platformTpl := rules.Platform(opts.Platform)
	styleDesc := rules.StyleDesc(opts.Style)
	instruction = strings.TrimSpace(instruction)

	source := parser.PlainText(content)
	if utf8.RuneCountInString(source) > sourceTextLimit {
		source = strutil.Clip(source, sourceTextLimit) + " ..."
	}

	base := fmt.Sprintf("素材标题：%s\n素材正文（摘要）：\n%s\n\n", title, source)
	ext := ""
	if instruction != "" {
		ext = fmt.Sprintf("用户补充要求：%s\n", instruction)
	}

	switch mode {
	case model.ComposeModeAnalyze:
		system := "你是资深内容策略编辑，擅长从传播、结构、受众、转化角度拆解内容。"
		var b strings.Builder
		b.WriteString(base)
		b.WriteString(ext)
		b.WriteString("分析目标：提炼爆款点与关键信息，不做全文重写。\n\n")
		b.WriteString("**输出格式（严格遵守）**：直接输出以下 Markdown 结构，不要加任何前言或解释。\n\n")
		b.WriteString("## 1) 核心主题\n用 1-2 句话点明内容核心。\n\n")
		b.WriteString("## 2) 爆款点拆解\n至少 5 条，每条格式：`- **爆点**：描述 | **证据**：原文依据 | **复用写法**：示例`\n\n")
		b.WriteString("## 3) 重点信息凝练\n| 信息点 | 原文依据 | 受众价值 | 写作建议 |\n| --- | --- | --- | --- |\n（至少 4 行数据，不留空行）\n\n")
		b.WriteString("## 4) 风险与短板\n至少 3 条，每条说明具体风险及影响。\n\n")
		b.WriteString("## 5) 可执行写作清单\n3-5 条可立即执行的写作动作建议。\n\n")
		b.WriteString("**质量要求**：每条分析必须有具体证据，禁止空泛评价；禁用【首先/其次/最后/总之】等套话。\n")
		return system, b.String()

	case model.ComposeModeRewrite:
		topic := instruction
		if topic == "" {
			topic = strings.TrimSpace(title)
		}
		if topic == "" {
			topic = "未命名主题"
		}
		system := "你是一名科技内容风格仿写编辑，擅长高保真结构迁移与语气复刻。"
		var b strings.Builder
		b.WriteString(rewriteFramework)
		fmt.Fprintf(&b, "\n目标媒体/参考文章：%s\n写作主题：%s\n\n", title, topic)
		b.WriteString("【补充上下文】\n")
		b.WriteString(base)
		b.WriteString(ext)
		fmt.Fprintf(&b, "仿写基调偏好：%s\n", styleDesc)
		b.WriteString(antiAIRules)
		b.WriteString("**输出格式要求**：完整 Markdown 格式，以 `# 标题` 开头，按【风格诊断报告→仿写文章→差异说明】三部分输出。直接给出结果，不要反问。\n")
		return system, b.String()
	}

	system := "你是科技叙事架构师与热点解读者。"
	var b strings.Builder
	b.WriteString(createFramework)
	fmt.Fprintf(&b, "\n\n我的主题是：\n%s\n\n", title)
	b.WriteString("【素材与约束】\n")
	b.WriteString(base)
	b.WriteString(ext)
	label := platformTpl.Label
	if label == "" {
		label = opts.Platform
	}
	fmt.Fprintf(&b, "发布平台：%s\n", label)
	fmt.Fprintf(&b, "平台风格：%s\n", platformTpl.Style)
	fmt.Fprintf(&b, "推荐结构：%s\n", platformTpl.Structure)
	fmt.Fprintf(&b, "写作风格：%s\n", styleDesc)
	fmt.Fprintf(&b, "目标长度：%s\n", rules.LengthDesc(opts.Length))
	if opts.Audience != "" {
		fmt.Fprintf(&b, "目标受众：%s\n", opts.Audience)
	}
	if opts.Tone != "" {
		fmt.Fprintf(&b, "语气偏好：%s\n", opts.Tone)
	}
	if opts.ImageCount > 0 {
		fmt.Fprintf(&b, "配图数量：%d，第一张作为封面并插在首段后，第二张放在中段。\n", opts.ImageCount)
	}
	b.WriteString("平台约束：\n")
	if len(platformTpl.Constraints) == 0 {
		b.WriteString("- 无")
	} else {
		for i, c := range platformTpl.Constraints {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString("- " + c)
		}
	}
	b.WriteString("\n\n**写作硬性要求（每条均须满足，否则输出不合格）**：\n")
	b.WriteString("1. 前 200 字必须植入来自素材的 1 个具体细节（数字、引用或事件）\n")
	b.WriteString("2. 全文必须有一个明确核心论断，在正文中至少强化 2 次\n")
	b.WriteString("3. 全文至少 3 处具体数字或引语，禁止用【很多/大量/显著/大幅】等模糊量词替代\n")
	b.WriteString("4. 每段必须推进核心论点，删掉仅作铺垫却无新信息的段落\n\n")
	b.WriteString(antiAIRules)
	b.WriteString("\n**输出格式要求**：必须使用 Markdown 格式，以 `# 标题` 开头，严格遵循上方结构模板。直接输出完整文章，不要解释思考过程。\n")
	return system, b.String()
}
