package crawler

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/strutil"
)

// feedSuffixes 站点地址不是 feed 时依次尝试的常见路径
var feedSuffixes = []string{
	"atom.xml",
	"feed/atom",
	"rss.xml",
	"rss2.xml",
	"feed",
	"index.xml",
}

// FetchFeed 解析 RSS/Atom，返回最新一页条目。RSS 全文输出时直接带上正文
func (c *Crawler) FetchFeed(ctx context.Context, feedURL string) ([]Entry, error) {
	body, err := c.get(ctx, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("请求订阅源失败: %w", err)
	}
	feed, err := c.feeds.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("解析订阅源失败: %w", err)
	}

	entries := make([]Entry, 0, PageSize)
	for _, item := range feed.Items {
		if len(entries) >= PageSize {
			break
		}
		link := strings.TrimSpace(item.Link)
		if link == "" {
			link = strings.TrimSpace(item.GUID)
		}
		title := strings.TrimSpace(item.Title)
		if title == "" || link == "" {
			continue
		}
		entries = append(entries, Entry{
			ID:          stableID(feedURL, firstNonEmpty(item.GUID, link)),
			Title:       title,
			URL:         link,
			Description: strutil.Clip(strings.TrimSpace(item.Description), 500),
			Cover:       itemCover(item),
			PublishTS:   itemTime(item),
			Content:     strings.TrimSpace(item.Content),
		})
	}
	return entries, nil
}

// DiscoverFeed 对站点首页依次尝试常见 feed 路径，返回第一个可解析的地址
func (c *Crawler) DiscoverFeed(ctx context.Context, siteURL string) (string, error) {
	if _, err := c.FetchFeed(ctx, siteURL); err == nil {
		return siteURL, nil
	}
	for _, suffix := range feedSuffixes {
		candidate := fmt.Sprintf("%s/%s", strings.TrimRight(siteURL, "/"), suffix)
		if entries, err := c.FetchFeed(ctx, candidate); err == nil && len(entries) > 0 {
			return candidate, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("所有feed后缀都无法解析")
}

func itemTime(item *gofeed.Item) int64 {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.Unix()
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.Unix()
	}
	if ts := parseTime(item.Published); ts > 0 {
		return ts
	}
	return parseTime(item.Updated)
}

func itemCover(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
