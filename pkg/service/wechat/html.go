package wechat

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/parser"
	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/strutil"
)

const (
	titleMaxBytes = 50
	digestLimit   = 120
	untitledDraft = "未命名草稿"
)

var lazySrcAttrs = []string{"data-src", "data-original", "data-url"}

// SafeTitle 去控制字符、压缩空白后按 50 字节截断，避免 errcode=45003
func SafeTitle(raw string) string {
	title := strings.TrimSpace(strutil.TruncateBytes(strutil.CleanTitle(raw), titleMaxBytes))
	if title == "" {
		return untitledDraft
	}
	return title
}

// BuildDigest 优先使用给定摘要，否则取正文纯文本前 120 字
func BuildDigest(digest, bodyHTML string) string {
	if d := strings.TrimSpace(digest); d != "" {
		return strutil.Clip(d, digestLimit)
	}
	return strutil.Clip(parser.PlainText(bodyHTML), digestLimit)
}

// renderBody Markdown 转 HTML，已是 HTML 的正文原样使用
func renderBody(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" || parser.LooksLikeHTML(content) {
		return content, nil
	}
	return parser.MarkdownToHTML(content)
}

// body 包装 goquery 文档，只操作 <body> 内的片段
type body struct {
	doc *goquery.Document
}

func parseBody(html string) (*body, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	return &body{doc: doc}, nil
}

func (b *body) HTML() string {
	out, err := b.doc.Find("body").Html()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

func (b *body) images() *goquery.Selection {
	return b.doc.Find("img")
}

func (b *body) HasImage() bool {
	return b.images().Length() > 0
}

// liftLazySrc 没有 src 的图片用懒加载属性补齐
func (b *body) liftLazySrc() {
	b.images().Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok && strings.TrimSpace(src) != "" {
			return
		}
		for _, attr := range lazySrcAttrs {
			if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" {
				img.SetAttr("src", strings.TrimSpace(v))
				return
			}
		}
	})
}

func imgSource(img *goquery.Selection) string {
	if src, ok := img.Attr("src"); ok && strings.TrimSpace(src) != "" {
		return strings.TrimSpace(src)
	}
	for _, attr := range lazySrcAttrs {
		if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// ImageURLs 正文图片地址，按出现顺序去重
func (b *body) ImageURLs() []string {
	var out []string
	seen := map[string]bool{}
	b.images().Each(func(_ int, img *goquery.Selection) {
		src := imgSource(img)
		if src == "" || seen[src] {
			return
		}
		seen[src] = true
		out = append(out, src)
	})
	return out
}

// InjectCover 正文无图时把封面插到最前面
func (b *body) InjectCover(coverURL string) bool {
	if b.HasImage() || !isHTTPURL(coverURL) {
		return false
	}
	b.doc.Find("body").PrependHtml(`<p><img src="` + escapeAttr(coverURL) + `" alt="cover" /></p>`)
	return true
}

func escapeAttr(s string) string {
	return strings.NewReplacer(`&`, "&amp;", `"`, "&quot;", `<`, "&lt;", `>`, "&gt;").Replace(s)
}

func isHTTPURL(raw string) bool {
	lower := strings.ToLower(strings.TrimSpace(raw))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func firstHTTPURL(urls []string) string {
	for _, u := range urls {
		if isHTTPURL(u) {
			return strings.TrimSpace(u)
		}
	}
	return ""
}

// IsWechatCDN 已在微信图床上的图片无需再上传
func IsWechatCDN(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return strings.HasSuffix(host, "mmbiz.qpic.cn") || strings.HasSuffix(host, "mmbiz.qlogo.cn")
}
