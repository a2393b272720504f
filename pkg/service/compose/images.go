/*
 * @Description: 配图提示词与配图合并
 * @Author: 安知鱼
 * @Date: 2026-02-18 09:51:26
 * @LastEditTime: 2026-03-03 11:27:40
 * @LastEditors: 安知鱼
 */
package compose

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/strutil"
)

const MaxImagePrompts = 9

var platformHints = map[string]string{
	"wechat":      "professional editorial visual for a trustworthy long-form article",
	"xiaohongshu": "lifestyle social visual with authentic daily-life atmosphere",
	"zhihu":       "knowledge-oriented visual with rational and structured mood",
	"twitter":     "fast-scrolling social visual with bold focal point and high contrast",
	"csdn":        "technical blog visual with clean diagrams mood and engineering workspace",
}

var styleHints = map[string]string{
	"专业深度": "insightful, clean, expert-level visual language",
	"故事共鸣": "human-centered storytelling mood with emotional details",
	"实操清单": "practical, step-by-step, instructional scene composition",
	"犀利观点": "sharp perspective, strong contrast, decisive composition",
}

var sceneVariants = []string{
	"hero scene with a single clear subject",
	"close-up detail shot with contextual background",
	"workspace scene with depth and layered foreground",
	"people-in-action scene with natural gesture and interaction",
	"before-and-after comparison mood in one frame",
	"minimal still-life composition with symbolic objects",
	"city or office environment with cinematic depth",
	"productivity desk setup with editorial styling",
	"macro detail combined with soft environmental light",
}

const imageQualitySuffix = "Use realistic lighting, clear focal subject, layered composition, natural color harmony, high detail, 4k quality. " +
	"English visual semantics only. " +
	"No text, no letters, no Chinese characters, no watermark, no logo, no UI."

var (
	codeFenceRe     = regexp.MustCompile("(?s)```.*?```")
	blankLineRe     = regexp.MustCompile(`\n\s*\n`)
	mdImageBlockRe  = regexp.MustCompile(`(?i)^!\[[^\]]*\]\((https?://[^)\s]+)[^)]*\)\s*$`)
	htmlImgStartRe  = regexp.MustCompile(`(?i)^<img\b`)
	htmlImgBlockRe  = regexp.MustCompile(`(?i)^<img\b[^>]*>\s*$`)
	headingPrefixRe = regexp.MustCompile(`^#{1,6}\s+`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
	mdMarkupRe      = regexp.MustCompile("[\\[\\]()`*_>#|!-]")
	asciiKeywordRe  = regexp.MustCompile(`[A-Za-z0-9][A-Za-z0-9 +#&/_-]{1,40}`)
	mdImageURLRe    = regexp.MustCompile(`(?i)!\[[^\]]*\]\((https?://[^)\s]+)[^)]*\)`)
	htmlImageURLRe  = regexp.MustCompile(`(?i)<img[^>]+src=["'](https?://[^"']+)["']`)
	httpPrefixRe    = regexp.MustCompile(`(?i)^https?://`)
)

func compactForScene(text string, maxLen int) string {
	s := whitespaceRe.ReplaceAllString(strings.TrimSpace(text), " ")
	if s == "" {
		return ""
	}
	if len([]rune(s)) <= maxLen {
		return s
	}
	return strings.TrimRight(strutil.Clip(s, maxLen), " ") + "..."
}

// ExtractTextBlocks 取正文中的文字段落（去掉代码块、图片和标题前缀），每段最多 220 字
func ExtractTextBlocks(content string) []string {
	text := strings.TrimSpace(content)
	if text == "" {
		return nil
	}
	text = codeFenceRe.ReplaceAllString(text, " ")
	var blocks []string
	for _, chunk := range blankLineRe.Split(text, -1) {
		raw := strings.TrimSpace(chunk)
		if raw == "" || mdImageBlockRe.MatchString(raw) || htmlImgStartRe.MatchString(raw) {
			continue
		}
		raw = headingPrefixRe.ReplaceAllString(raw, "")
		raw = strings.ReplaceAll(raw, "|", " ")
		raw = strings.TrimSpace(whitespaceRe.ReplaceAllString(raw, " "))
		if len([]rune(raw)) < 8 {
			continue
		}
		blocks = append(blocks, strutil.Clip(raw, 220))
	}
	return blocks
}

func topicHint(title string) string {
	keywords := asciiKeywordRe.FindAllString(strings.TrimSpace(title), -1)
	if len(keywords) == 0 {
		return "the core article topic"
	}
	if len(keywords) > 3 {
		keywords = keywords[:3]
	}
	return strings.Trim(strings.Join(keywords, ", "), " ,")
}

func hintFor(hints map[string]string, key, fallback string) string {
	if v, ok := hints[key]; ok {
		return v
	}
	return fallback
}

// BuildImagePrompts 第 1 张为封面，锚定首段；其余按段落均匀取材
func BuildImagePrompts(title, platform, style string, count int, content string) []string {
	if count > MaxImagePrompts {
		count = MaxImagePrompts
	}
	if count <= 0 {
		return nil
	}

	topic := topicHint(title)
	blocks := ExtractTextBlocks(content)
	coverScene := topic
	var sections []string
	if len(blocks) > 0 {
		coverScene = compactForScene(blocks[0], 180)
		sections = blocks[1:]
	}

	platformHint := hintFor(platformHints, strings.ToLower(strings.TrimSpace(platform)), "editorial social content visual")
	styleHint := hintFor(styleHints, strings.TrimSpace(style), "clean modern editorial style")

	prompts := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		scene := sceneVariants[(i-1)%len(sceneVariants)]
		var focus string
		switch {
		case i == 1:
			focus = "cover scene for opening section: " + coverScene
		case len(sections) > 0:
			denom := count - 1
			if denom < 1 {
				denom = 1
			}
			idx := (i - 2) * len(sections) / denom
			if idx > len(sections)-1 {
				idx = len(sections) - 1
			}
			focus = "section illustration focus: " + compactForScene(sections[idx], 180)
		default:
			focus = "section illustration focus around topic: " + topic
		}
		prompts = append(prompts, fmt.Sprintf(
			"Create a high-quality editorial illustration. Topic: %s. Platform intent: %s. Style intent: %s. Scene variation %d: %s. Content focus: %s. %s",
			topic, platformHint, styleHint, i, scene, focus, imageQualitySuffix,
		))
	}
	return prompts
}

// BuildInlineImagePrompt 为选中的单个段落生成配图提示词
func BuildInlineImagePrompt(title, selected, platform, style, context string) string {
	platformHint := hintFor(platformHints, strings.ToLower(strings.TrimSpace(platform)), "editorial social content visual")
	styleHint := hintFor(styleHints, strings.TrimSpace(style), "clean modern editorial style")

	topic := compactForScene(title, 100)
	if topic == "" {
		topic = "article topic"
	}
	focus := compactForScene(selected, 180)
	if focus == "" {
		focus = "core selected paragraph"
	}
	ctxHint := compactForScene(context, 140)
	if ctxHint == "" {
		ctxHint = "article context"
	}
	return fmt.Sprintf(
		"Create a high-quality editorial illustration for one paragraph in a long-form article. Topic: %s. Platform intent: %s. Style intent: %s. Paragraph focus: %s. Context: %s. %s",
		topic, platformHint, styleHint, focus, ctxHint, imageQualitySuffix,
	)
}

func isImageBlock(block string) bool {
	block = strings.TrimSpace(block)
	return block != "" && (mdImageBlockRe.MatchString(block) || htmlImgBlockRe.MatchString(block))
}

func isPlainTextBlock(block string) bool {
	block = strings.TrimSpace(block)
	if block == "" || isImageBlock(block) || headingPrefixRe.MatchString(block) {
		return false
	}
	cleaned := mdMarkupRe.ReplaceAllString(block, " ")
	cleaned = strings.TrimSpace(whitespaceRe.ReplaceAllString(cleaned, " "))
	return len([]rune(cleaned)) >= 8
}

// pickAnchors 在候选锚点中均匀挑选，结果单调不减
func pickAnchors(candidates []int, count int) []int {
	if count <= 0 || len(candidates) == 0 {
		return nil
	}
	if count == 1 {
		return []int{candidates[len(candidates)/2]}
	}
	picked := make([]int, 0, count)
	if len(candidates) == 1 {
		for i := 0; i < count; i++ {
			picked = append(picked, candidates[0])
		}
		return picked
	}
	maxIdx := len(candidates) - 1
	prev := -1
	for i := 0; i < count; i++ {
		raw := int(math.RoundToEven(float64((i+1)*maxIdx) / float64(count+1)))
		if raw > maxIdx {
			raw = maxIdx
		}
		if raw < prev {
			raw = prev
		}
		picked = append(picked, candidates[raw])
		prev = raw
	}
	return picked
}

// ExistingImageURLs 正文中已有的图片地址
func ExistingImageURLs(content string) map[string]bool {
	out := map[string]bool{}
	for _, m := range mdImageURLRe.FindAllStringSubmatch(content, -1) {
		out[strings.TrimSpace(m[1])] = true
	}
	for _, m := range htmlImageURLRe.FindAllStringSubmatch(content, -1) {
		out[strings.TrimSpace(m[1])] = true
	}
	return out
}

// MergeImageURLs 封面插在首个正文段之后，其余图片均匀分布到后续段落
func MergeImageURLs(content string, urls []string) string {
	base := strings.TrimSpace(content)
	existing := ExistingImageURLs(base)

	var pending []string
	seen := map[string]bool{}
	for _, raw := range urls {
		u := strings.TrimSpace(raw)
		if u == "" || !httpPrefixRe.MatchString(u) || seen[u] {
			continue
		}
		seen[u] = true
		if !existing[u] {
			pending = append(pending, u)
		}
	}
	if len(pending) == 0 {
		return base
	}

	var blocks []string
	for _, chunk := range blankLineRe.Split(base, -1) {
		if b := strings.TrimSpace(chunk); b != "" {
			blocks = append(blocks, b)
		}
	}
	if len(blocks) == 0 {
		parts := make([]string, 0, len(pending))
		for i, u := range pending {
			parts = append(parts, fmt.Sprintf("![配图%d](%s)", i+1, u))
		}
		return strings.Join(parts, "\n\n")
	}

	var textIdx []int
	for i, b := range blocks {
		if isPlainTextBlock(b) {
			textIdx = append(textIdx, i)
		}
	}

	insertions := map[int][]string{}
	coverAnchor := -1
	if len(textIdx) > 0 {
		coverAnchor = textIdx[0]
	}
	insertions[coverAnchor] = append(insertions[coverAnchor], fmt.Sprintf("![封面图](%s)", pending[0]))

	if rest := pending[1:]; len(rest) > 0 {
		var candidates []int
		for _, idx := range textIdx {
			if idx > coverAnchor {
				candidates = append(candidates, idx)
			}
		}
		if len(candidates) == 0 {
			candidates = []int{len(blocks) - 1}
		}
		anchors := pickAnchors(candidates, len(rest))
		for i, u := range rest {
			a := anchors[len(anchors)-1]
			if i < len(anchors) {
				a = anchors[i]
			}
			insertions[a] = append(insertions[a], fmt.Sprintf("![内容配图%d](%s)", i+1, u))
		}
	}

	merged := make([]string, 0, len(blocks)+len(pending))
	merged = append(merged, insertions[-1]...)
	for i, b := range blocks {
		merged = append(merged, b)
		merged = append(merged, insertions[i]...)
	}
	return strings.Join(merged, "\n\n")
}

// ExtractFirstImageURL 先找 Markdown 图片，再找 HTML img
func ExtractFirstImageURL(text string) string {
	if m := mdImageURLRe.FindStringSubmatch(text); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	if m := htmlImageURLRe.FindStringSubmatch(text); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return ""
}
