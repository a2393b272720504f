/*
 * @Description: Markdown 转公众号正文 HTML
 * @Author: 安知鱼
 * @Date: 2025-08-08 15:57:23
 * @LastEditTime: 2026-03-06 11:20:42
 * @LastEditors: 安知鱼
 */
// internal/pkg/parser/markdown.go
package parser

import (
	"bytes"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var mdParser goldmark.Markdown
var policy *bluemonday.Policy

func init() {
	// 公众号编辑器会丢弃 id 与脚注锚点，这里只保留它能正常展示的扩展
	mdParser = goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,           // GitHub Flavored Markdown
			extension.Table,         // 表格
			extension.Strikethrough, // 删除线
			extension.Linkify,       // 自动识别链接
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(), // 硬换行
			html.WithXHTML(),     // 渲染为 XHTML
			html.WithUnsafe(),    // 模型可能直接输出 HTML 片段，后续由 bluemonday 清理
		),
	)

	policy = bluemonday.UGCPolicy()
	policy.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "span", "pre")
	policy.AllowElements("table", "thead", "tbody", "tr", "th", "td", "section")
	// 公众号图片常把真实地址放在懒加载属性里
	policy.AllowAttrs("src", "data-src", "data-original", "data-url", "alt").OnElements("img")
	policy.AllowAttrs("style").OnElements("p", "span", "section", "img")
}

// MarkdownToHTML 将 Markdown 字符串转换为可投递到公众号草稿箱的安全 HTML
func MarkdownToHTML(mdContent string) (string, error) {
	var buf bytes.Buffer
	if err := mdParser.Convert([]byte(mdContent), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(policy.Sanitize(buf.String())), nil
}

// LooksLikeHTML 粗略判断文本是否已经是 HTML 正文
func LooksLikeHTML(text string) bool {
	t := strings.TrimSpace(strings.ToLower(text))
	if t == "" {
		return false
	}
	for _, prefix := range []string{"<p", "<section", "<div", "<h1", "<h2", "<img", "<article"} {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return false
}
