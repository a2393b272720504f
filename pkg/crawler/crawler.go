package crawler

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
)

const (
	defaultMPBase = "https://mp.weixin.qq.com"
	// PageSize 每次只抓最新一页
	PageSize = 5

	maxBodyBytes = 8 << 20
)

var (
	// ErrArticleDeleted 文章已被发布者删除
	ErrArticleDeleted = errors.New("文章内容已被发布者删除")
	// ErrContentNotFound 页面中找不到正文节点
	ErrContentNotFound = errors.New("未找到文章正文")
)

// Credentials 抓取公众号所需的登录态
type Credentials struct {
	Token     string
	Cookie    string
	UserAgent string
}

// Valid token 与 cookie 缺一不可
func (c Credentials) Valid() bool {
	return strings.TrimSpace(c.Token) != "" && strings.TrimSpace(c.Cookie) != ""
}

// Entry 表示抓取到的一篇文章
type Entry struct {
	ID          string
	Title       string
	URL         string
	Description string
	Cover       string
	PublishTS   int64
	Content     string
}

// ToArticle 转换为待入库的文章
func (e Entry) ToArticle(ownerID, feedID string) *model.Article {
	return &model.Article{
		ID:          e.ID,
		OwnerID:     ownerID,
		FeedID:      feedID,
		Title:       e.Title,
		URL:         e.URL,
		Description: e.Description,
		Cover:       e.Cover,
		PublishTS:   e.PublishTS,
		Content:     e.Content,
		Status:      model.ArticleStatusActive,
	}
}

// Crawler 公众号与 RSS 抓取器。所有请求共享一个限速器，避免触发公众号频率限制
type Crawler struct {
	Client    *http.Client
	UserAgent string
	mpBase    string
	limiter   *rate.Limiter
	feeds     *gofeed.Parser
}

// NewCrawler interval 为相邻两次请求的最小间隔，<= 0 表示不限速
func NewCrawler(userAgent string, interval time.Duration) (*Crawler, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("创建 cookie jar 失败: %w", err)
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Crawler{
		Client: &http.Client{
			Timeout: 15 * time.Second,
			Jar:     jar,
		},
		UserAgent: userAgent,
		mpBase:    defaultMPBase,
		limiter:   rate.NewLimiter(limit, 1),
		feeds:     gofeed.NewParser(),
	}, nil
}

// Crawl 按订阅源类型分派：http(s) 地址走 RSS，其余视为公众号 fakeid
func (c *Crawler) Crawl(ctx context.Context, creds Credentials, feed *model.Feed) ([]Entry, error) {
	if feed.IsRSS() {
		return c.FetchFeed(ctx, feed.SourceID)
	}
	return c.FetchWechatList(ctx, creds, feed.SourceID)
}

// get 发起限速后的 GET 请求并读取响应体
func (c *Crawler) get(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

// stableID 为没有平台 ID 的条目生成稳定 ID
func stableID(parts ...string) string {
	h := sha1.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:20]
}

// parseTime 尝试常见日期格式，失败返回 0
func parseTime(dateStr string) int64 {
	dateStr = strings.TrimSpace(dateStr)
	if dateStr == "" {
		return 0
	}
	formats := []string{
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 MST",
		"Mon, 2 Jan 2006 15:04:05 -0700",
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
		"2006/01/02 15:04:05",
		"2006/01/02",
		"Jan 2, 2006",
		"January 2, 2006",
		"02 Jan 2006",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, dateStr); err == nil {
			return t.Unix()
		}
	}
	return 0
}
