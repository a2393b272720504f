/*
 * @Description:
 * @Author: 安知鱼
 * @Date: 2025-08-08 16:10:36
 * @LastEditTime: 2026-03-06 11:21:10
 * @LastEditors: 安知鱼
 */
package parser

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var stripTagsPolicy *bluemonday.Policy

var spaceRe = regexp.MustCompile(`\s+`)

func init() {
	// StripTagsPolicy 会移除所有的HTML标签
	stripTagsPolicy = bluemonday.StripTagsPolicy()
}

// StripHTML 接受一个HTML字符串，返回一个去除了所有标签的纯文本字符串。
func StripHTML(htmlContent string) string {
	return stripTagsPolicy.Sanitize(htmlContent)
}

// PlainText 去标签、反转义实体并把连续空白压成一个空格，用于摘要与提示词素材
func PlainText(htmlContent string) string {
	if htmlContent == "" {
		return ""
	}
	text := html.UnescapeString(StripHTML(htmlContent))
	return strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
}
