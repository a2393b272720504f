package wechat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/strutil"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/constant"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
)

const (
	retMissingCover = 64513
	maxCoverTries   = 6
	maxWarnings     = 20
)

// 会话失效类返回码，需要用户重新授权
var authFailureCodes = map[int]bool{200003: true, 200013: true}

// token 失效类返回码，清缓存后交给重试队列
var tokenExpiredCodes = map[int]bool{40001: true, 40014: true, 42001: true}

type draftArticle struct {
	Title              string `json:"title"`
	Author             string `json:"author"`
	Digest             string `json:"digest"`
	Content            string `json:"content"`
	ContentSourceURL   string `json:"content_source_url"`
	ThumbMediaID       string `json:"thumb_media_id"`
	NeedOpenComment    int    `json:"need_open_comment"`
	OnlyFansCanComment int    `json:"only_fans_can_comment"`
}

// prepared 渲染完成、等待上传图片的单篇草稿
type prepared struct {
	src  model.DeliveryArticle
	body *body
}

// prepare 只做本地渲染与正文配图检查，不发起任何网络请求
func prepare(articles []model.DeliveryArticle) ([]prepared, []string, error) {
	var out []prepared
	var missing []string
	for _, a := range articles {
		if strings.TrimSpace(a.Content) == "" {
			continue
		}
		html, err := renderBody(a.Content)
		if err != nil {
			return nil, nil, fmt.Errorf("正文渲染失败: %w", err)
		}
		b, err := parseBody(html)
		if err != nil {
			return nil, nil, fmt.Errorf("正文解析失败: %w", err)
		}
		b.liftLazySrc()
		if !b.HasImage() && !isHTTPURL(a.CoverURL) {
			missing = append(missing, SafeTitle(a.Title))
			continue
		}
		out = append(out, prepared{src: a, body: b})
	}
	return out, missing, nil
}

// rewriteImages 把正文外链图片替换为微信图床地址，失败的保留原地址并记录告警
func (c *Client) rewriteImages(ctx context.Context, appID, token string, b *body) []string {
	var warnings []string
	b.images().Each(func(_ int, img *goquery.Selection) {
		src := imgSource(img)
		if !isHTTPURL(src) || IsWechatCDN(src) {
			return
		}
		target, err := c.UploadBodyImage(ctx, appID, token, src)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s -> %v", strutil.Clip(src, 80), err))
			return
		}
		img.SetAttr("src", target)
		img.SetAttr("data-src", target)
		if _, ok := img.Attr("data-original"); ok {
			img.SetAttr("data-original", target)
		}
	})
	return warnings
}

// pickCover 依次尝试正文图片与调用方封面，全部失败时使用默认封面
func (c *Client) pickCover(ctx context.Context, token string, candidates []string) (string, []string) {
	var errs []string
	tries := 0
	for _, u := range candidates {
		if tries >= maxCoverTries {
			break
		}
		tries++
		mediaID, err := c.UploadCoverFromURL(ctx, token, u)
		if err == nil {
			return mediaID, nil
		}
		errs = append(errs, fmt.Sprintf("%s -> %v", strutil.Clip(u, 80), err))
	}

	mediaID, err := c.UploadDefaultCover(ctx, token)
	if err == nil {
		return mediaID, []string{"封面链接不可用，已自动回退默认封面"}
	}
	if len(errs) == 0 {
		errs = append(errs, "缺少可用封面图链接")
	}
	errs = append(errs, fmt.Sprintf("默认封面回退失败: %v", err))
	if len(errs) > 3 {
		errs = errs[:3]
	}
	return "", []string{"封面处理失败，无封面投递：" + strings.Join(errs, "；")}
}

func coverCandidates(bodyURLs []string, cover string) []string {
	var out []string
	seen := map[string]bool{}
	for _, u := range append(append([]string(nil), bodyURLs...), cover) {
		u = strings.TrimSpace(u)
		if !isHTTPURL(u) || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

func (c *Client) build(ctx context.Context, appID, token string, p prepared) (draftArticle, []string) {
	var warnings []string
	title := SafeTitle(p.src.Title)
	warn := func(items []string) {
		for _, w := range items {
			warnings = append(warnings, title+": "+w)
		}
	}

	warn(c.rewriteImages(ctx, appID, token, p.body))
	if p.body.InjectCover(firstHTTPURL(append(p.body.ImageURLs(), p.src.CoverURL))) {
		warn(c.rewriteImages(ctx, appID, token, p.body))
	}

	thumb, coverWarnings := c.pickCover(ctx, token, coverCandidates(p.body.ImageURLs(), p.src.CoverURL))
	warn(coverWarnings)

	html := p.body.HTML()
	return draftArticle{
		Title:            title,
		Author:           strings.TrimSpace(p.src.Author),
		Digest:           BuildDigest(p.src.Digest, html),
		Content:          html,
		ContentSourceURL: strings.TrimSpace(p.src.ContentSourceURL),
		ThumbMediaID:     thumb,
		NeedOpenComment:  1,
	}, warnings
}

// Deliver 批量投递到草稿箱，一次 draft/add 请求包含全部文章
func (c *Client) Deliver(ctx context.Context, creds Credentials, articles []model.DeliveryArticle) *model.DeliveryOutcome {
	items, missing, err := prepare(articles)
	if err != nil {
		return &model.DeliveryOutcome{Kind: model.OutcomeTransient, Message: err.Error(), Err: err}
	}
	if len(missing) > 0 {
		if len(missing) > 5 {
			missing = missing[:5]
		}
		err := fmt.Errorf("%w: %s", constant.ErrWechatBodyNeedsImage, strings.Join(missing, "；"))
		return &model.DeliveryOutcome{Kind: model.OutcomeBodyNeedsImage, Message: err.Error(), Err: err}
	}
	if len(items) == 0 {
		return &model.DeliveryOutcome{Kind: model.OutcomeNoContent, Message: constant.ErrWechatNoArticles.Error(), Err: constant.ErrWechatNoArticles}
	}

	token, err := c.tokens.Token(ctx, creds.AppID, creds.AppSecret)
	if err != nil {
		return &model.DeliveryOutcome{Kind: model.OutcomeTransient, Message: "微信公众号接口不可用：" + err.Error(), Err: err}
	}

	var drafts []draftArticle
	var warnings []string
	for _, p := range items {
		d, w := c.build(ctx, creds.AppID, token, p)
		drafts = append(drafts, d)
		warnings = append(warnings, w...)
	}
	if len(warnings) > maxWarnings {
		warnings = warnings[:maxWarnings]
	}
	for _, w := range warnings {
		c.logger.Warn("草稿素材降级", "app_id", creds.AppID, "detail", w)
	}

	out := c.submit(ctx, token, drafts)
	if out.OK() && len(warnings) > 0 {
		out.Message += fmt.Sprintf("（素材降级 %d 项）", len(warnings))
	}
	out.Warnings = append(warnings, out.Warnings...)
	if out.Kind == model.OutcomeTransient && out.Err != nil && errors.Is(out.Err, errTokenExpired) {
		c.tokens.Invalidate(ctx, creds.AppID, creds.AppSecret)
	}
	return out
}

var errTokenExpired = errors.New("access_token 已失效")

func (c *Client) submit(ctx context.Context, token string, drafts []draftArticle) *model.DeliveryOutcome {
	endpoint := c.endpoint("/cgi-bin/draft/add", token, nil)
	res, err := c.postJSON(ctx, endpoint, map[string]interface{}{"articles": drafts})
	if err != nil {
		return &model.DeliveryOutcome{Kind: model.OutcomeTransient, Message: "微信草稿箱请求异常: " + err.Error(), Err: err}
	}
	if res.MediaID != "" {
		return &model.DeliveryOutcome{Kind: model.OutcomeSuccess, Message: "已按官方接口投递到公众号草稿箱", MediaID: res.MediaID, Response: res.raw}
	}

	var stripped []string
	if res.code() == retMissingCover {
		c.logger.Warn("草稿因封面校验被拒，去掉封面重试", "ret", retMissingCover)
		noCover := make([]draftArticle, len(drafts))
		for i, d := range drafts {
			d.ThumbMediaID = ""
			noCover[i] = d
		}
		retry, err := c.postJSON(ctx, endpoint, map[string]interface{}{"articles": noCover})
		if err != nil {
			return &model.DeliveryOutcome{Kind: model.OutcomeTransient, Message: "微信草稿箱请求异常: " + err.Error(), Err: err}
		}
		if retry.MediaID != "" || retry.code() == 0 {
			return &model.DeliveryOutcome{
				Kind:     model.OutcomeSuccess,
				Message:  "已投递到公众号草稿箱（封面与正文校验失败，已自动移除封面重试成功）",
				MediaID:  retry.MediaID,
				Response: retry.raw,
				Warnings: []string{"cover_stripped"},
			}
		}
		res = retry
		stripped = []string{"cover_stripped"}
	}
	return classifyFailure(res, stripped)
}

func classifyFailure(res *apiResult, warnings []string) *model.DeliveryOutcome {
	code, msg := res.code(), res.message()
	if IsSessionInvalid(code, msg) {
		return &model.DeliveryOutcome{
			Kind:     model.OutcomeAuthFailure,
			Message:  fmt.Sprintf("微信授权已失效，请重新扫码授权（ret=%d, err=%s）", code, msg),
			Response: res.raw,
			Warnings: warnings,
			Err:      constant.ErrWechatAuthFailure,
		}
	}
	var err error = fmt.Errorf("ret=%d, err=%s", code, msg)
	if tokenExpiredCodes[code] {
		err = fmt.Errorf("%w: %v", errTokenExpired, err)
	}
	return &model.DeliveryOutcome{
		Kind:     model.OutcomeTransient,
		Message:  fmt.Sprintf("微信草稿箱投递失败: ret=%d, err=%s", code, msg),
		Response: res.raw,
		Warnings: warnings,
		Err:      err,
	}
}
