package compose

import (
	"regexp"
	"strings"
)

var (
	mdStructureRe = regexp.MustCompile(`(?m)^(#{1,6}\s|[-*+]\s|\d+[.)]\s|>\s|\|)`)
	mdTitleLineRe = regexp.MustCompile(`^#\s+`)
)

// EnsureMarkdown 模型返回纯文本时补一级标题，并把每行拆成独立段落
func EnsureMarkdown(title, text string) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return ""
	}
	if mdStructureRe.MatchString(text) || len(ExistingImageURLs(text)) > 0 {
		return text
	}

	lines := strings.Split(text, "\n")
	var paragraphs []string
	for _, line := range lines {
		if l := strings.TrimSpace(line); l != "" {
			paragraphs = append(paragraphs, l)
		}
	}

	heading := strings.TrimSpace(title)
	if len(paragraphs) > 1 && len([]rune(paragraphs[0])) <= 64 {
		// 首行较短时视为模型给出的标题
		heading = paragraphs[0]
		paragraphs = paragraphs[1:]
	}
	if heading == "" {
		heading = "未命名草稿"
	}
	heading = mdTitleLineRe.ReplaceAllString(heading, "")
	return "# " + heading + "\n\n" + strings.Join(paragraphs, "\n\n")
}

// MarkdownTitle 取首个一级标题，没有时返回 fallback
func MarkdownTitle(content, fallback string) string {
	for _, line := range strings.Split(content, "\n") {
		l := strings.TrimSpace(line)
		if mdTitleLineRe.MatchString(l) {
			if t := strings.TrimSpace(mdTitleLineRe.ReplaceAllString(l, "")); t != "" {
				return t
			}
		}
	}
	return strings.TrimSpace(fallback)
}
