package compose

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
)

const refineSystemPrompt = "你是中文内容总编，负责把草稿打磨成自然、可信、可发布版本。"

// Refine 二次润色。结果过短或调用失败时保留原稿
func (s *Service) Refine(ctx context.Context, cfg ProviderConfig, mode, draft, title, instruction string, opts Options) string {
	text := strings.TrimSpace(draft)
	if text == "" || !s.refineEnabled {
		return text
	}
	opts = opts.Normalize()
	rules := s.rules.Load()

	banned := strings.Join(rules.StyleGuard.BannedPhrases, "、")
	if banned == "" {
		banned = "无"
	}

	var structureRules string
	switch mode {
	case model.ComposeModeAnalyze:
		structureRules = "4. 保留完整 Markdown 结构（标题层级、列表、表格），不得压缩或删减条目。\n" +
			"5. 每条分析须有具体证据支撑，删除空泛表述并补充实质内容。\n"
	case model.ComposeModeRewrite:
		structureRules = "4. 保留完整 Markdown 格式，包括一级标题、段落结构和加粗标记。\n" +
			"5. 保持仿写风格的核心特征（语气、句式、节奏），不得抹平文风差异。\n"
	default:
		structureRules = "4. 正文以段落为主，最多 2 个二级标题，不得出现三级标题。\n" +
			"5. 非必要不使用有序列表；若必须使用，仅允许 1 处且最多 3 条。\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "任务类型：%s\n素材标题：%s\n平台：%s\n风格：%s\n篇幅：%s\n", mode, title, opts.Platform, opts.Style, opts.Length)
	if extra := strings.TrimSpace(instruction); extra != "" {
		fmt.Fprintf(&b, "补充要求：%s\n", extra)
	}
	b.WriteString("请在不改事实、不改核心观点的前提下润色下面草稿：\n\n")
	b.WriteString(text)
	b.WriteString("\n\n润色要求：\n")
	b.WriteString("1. 删除模板腔和官话，保留真实表达。\n")
	b.WriteString("2. 每段必须有有效信息，不要重复同义句。\n")
	b.WriteString("3. 优先具体动作、细节、案例和数字。\n")
	b.WriteString(structureRules)
	b.WriteString("6. 禁用词：" + banned + "\n")
	b.WriteString("7. 直接输出润色后的最终 Markdown 稿，不解释。\n")

	refined, err := s.chat.Complete(ctx, cfg, refineSystemPrompt, b.String())
	if err != nil {
		s.logger.Warn("润色失败，保留原稿", "error", err)
		return text
	}
	refined = strings.TrimSpace(refined)
	if acceptRefined(text, refined) {
		return refined
	}
	return text
}

// acceptRefined 润色稿长度不低于 max(80, 原稿 60%) 才采用
func acceptRefined(original, refined string) bool {
	minLen := utf8.RuneCountInString(original) * 6 / 10
	if minLen < 80 {
		minLen = 80
	}
	return utf8.RuneCountInString(refined) >= minLen
}
