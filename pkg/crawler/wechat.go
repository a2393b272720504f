package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/constant"
)

type appMsgListResp struct {
	BaseResp struct {
		Ret    int    `json:"ret"`
		ErrMsg string `json:"err_msg"`
	} `json:"base_resp"`
	AppMsgList []struct {
		AID        string `json:"aid"`
		AppMsgID   int64  `json:"appmsgid"`
		Title      string `json:"title"`
		Link       string `json:"link"`
		Digest     string `json:"digest"`
		Cover      string `json:"cover"`
		CreateTime int64  `json:"create_time"`
		UpdateTime int64  `json:"update_time"`
	} `json:"app_msg_list"`
}

// FetchWechatList 通过后台 appmsg list_ex 接口抓取公众号最新一页文章，不含正文
func (c *Crawler) FetchWechatList(ctx context.Context, creds Credentials, fakeID string) ([]Entry, error) {
	if !creds.Valid() {
		return nil, constant.ErrAuthMissing
	}
	q := url.Values{}
	q.Set("action", "list_ex")
	q.Set("fakeid", fakeID)
	q.Set("begin", "0")
	q.Set("count", strconv.Itoa(PageSize))
	q.Set("type", "9")
	q.Set("query", "")
	q.Set("token", creds.Token)
	q.Set("lang", "zh_CN")
	q.Set("f", "json")
	q.Set("ajax", "1")

	headers := map[string]string{
		"Cookie":     creds.Cookie,
		"User-Agent": creds.UserAgent,
		"Referer":    c.mpBase + "/",
	}
	body, err := c.get(ctx, c.mpBase+"/cgi-bin/appmsg?"+q.Encode(), headers)
	if err != nil {
		return nil, fmt.Errorf("请求公众号文章列表失败: %w", err)
	}

	var resp appMsgListResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("解析公众号文章列表失败: %w", err)
	}
	switch resp.BaseResp.Ret {
	case 0:
	case 200003, 200040:
		return nil, fmt.Errorf("%w: %s", constant.ErrAuthMissing, resp.BaseResp.ErrMsg)
	case 200013:
		return nil, fmt.Errorf("公众号接口频率受限(ret=200013)，请稍后再试")
	default:
		return nil, fmt.Errorf("公众号文章列表返回异常(ret=%d): %s", resp.BaseResp.Ret, resp.BaseResp.ErrMsg)
	}

	entries := make([]Entry, 0, len(resp.AppMsgList))
	for _, item := range resp.AppMsgList {
		id := item.AID
		if id == "" {
			id = stableID(fakeID, item.Link)
		}
		ts := item.UpdateTime
		if ts == 0 {
			ts = item.CreateTime
		}
		entries = append(entries, Entry{
			ID:          id,
			Title:       strings.TrimSpace(item.Title),
			URL:         strings.TrimSpace(item.Link),
			Description: strings.TrimSpace(item.Digest),
			Cover:       strings.TrimSpace(item.Cover),
			PublishTS:   ts,
		})
	}
	return entries, nil
}

// FetchArticleContent 抓取文章页并提取正文 HTML
func (c *Crawler) FetchArticleContent(ctx context.Context, articleURL string) (string, error) {
	body, err := c.get(ctx, articleURL, nil)
	if err != nil {
		return "", fmt.Errorf("请求文章页面失败: %w", err)
	}
	return ExtractContent(body)
}

// ExtractContent 依次尝试正文选择器，找不到正文时识别删除提示页
func ExtractContent(page []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", err
	}
	for _, selector := range contentSelectors {
		node := doc.Find(selector).First()
		if node.Length() == 0 {
			continue
		}
		node.Find("script, style").Remove()
		// 公众号正文默认隐藏，靠脚本显示
		node.RemoveAttr("style")
		html, err := node.Html()
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(html) != "" {
			return strings.TrimSpace(html), nil
		}
	}
	// 找不到正文时再看是否是删除提示页
	text := doc.Find("body").Text()
	for _, marker := range deletedMarkers {
		if strings.Contains(text, marker) {
			return "", ErrArticleDeleted
		}
	}
	return "", ErrContentNotFound
}
