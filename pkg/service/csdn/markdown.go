package csdn

import (
	"regexp"
	"strings"
)

var markdownImage = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)

// StripExternalImages CSDN 无法转存外部图床，把 Markdown 图片替换为文字标注，无描述的图片直接去掉
func StripExternalImages(md string) string {
	return markdownImage.ReplaceAllStringFunc(md, func(m string) string {
		alt := strings.TrimSpace(markdownImage.FindStringSubmatch(m)[1])
		if alt == "" {
			return ""
		}
		return "【图：" + alt + "】"
	})
}
