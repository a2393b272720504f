package crawler

// contentSelectors 正文节点选择器，按优先级排列。
// 前两条对应公众号文章页，其余覆盖常见博客主题。
var contentSelectors = []string{
	"#js_content",
	".rich_media_content",
	"#article-container",
	".post-content",
	".entry-content",
	".markdown-body",
	"article",
}

// deletedMarkers 文章页出现这些提示说明原文已不可用
var deletedMarkers = []string{
	"该内容已被发布者删除",
	"此内容因违规无法查看",
	"该公众号已迁移",
}
