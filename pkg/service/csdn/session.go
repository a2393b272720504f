/*
 * @Description: CSDN 网页编辑器发布，每次调用独占一个无头浏览器
 * @Author: 安知鱼
 * @Date: 2026-02-24 16:05:51
 * @LastEditTime: 2026-03-08 09:12:30
 * @LastEditors: 安知鱼
 */
package csdn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/constant"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
)

const (
	EditorURL      = "https://editor.csdn.net/md/?not_checkout=1"
	editorSelector = `pre.editor__inner.markdown-highlighting[contenteditable="true"]`

	gotoTimeout       = 60 * time.Second
	editorTimeout     = 20 * time.Second
	publishTimeout    = 15 * time.Second
	confirmTimeout    = 5 * time.Second
	successTimeout    = 15 * time.Second
	screenshotTimeout = 10 * time.Second
	pollInterval      = 300 * time.Millisecond

	titleMaxRunes = 100
)

var (
	titleSelectors = []string{
		`input[placeholder*="标题"]`,
		`input[placeholder*="文章标题"]`,
		`input.title`,
		`input#title`,
		`input[name="title"]`,
	}
	bodySelectors = []string{
		editorSelector,
		`pre.editor__inner[contenteditable="true"]`,
		`div[contenteditable="true"]`,
	}
	publishSelectors = []string{
		`button.btn.btn-publish`,
		`button.btn-publish`,
		`button[role="button"][data-report-click]`,
	}
	modalContainers = []string{".modal__inner-2", ".modal__content", ".modal__button-bar", ".el-dialog__wrapper"}

	DefaultTags = []string{"人工智能", "大模型", "AI"}
)

type Options struct {
	ScreenshotDir string
	// ExecPath 为空时由 chromedp 自行查找本机 Chrome
	ExecPath  string
	UserAgent string
	Tags      []string
	FansOnly  bool
}

// Result 一次发布的结果，Kind 取值见 model.Outcome*
type Result struct {
	Success        bool
	Message        string
	NeedsReauth    bool
	URL            string
	ScreenshotPath string
	Kind           string
}

func (r Result) Outcome() *model.DeliveryOutcome {
	out := &model.DeliveryOutcome{Kind: r.Kind, Message: r.Message, URL: r.URL, Screenshot: r.ScreenshotPath}
	switch {
	case r.Success:
		out.Kind = model.OutcomeSuccess
	case r.NeedsReauth:
		out.Kind = model.OutcomeNeedsReauth
		out.Err = constant.ErrCSDNNeedsReauth
	case r.Kind == model.OutcomeContentMismatch:
		out.Err = constant.ErrCSDNContentMismatch
	case r.Kind == model.OutcomeSelectorDrift:
		out.Err = constant.ErrCSDNSelectorDrift
	default:
		out.Kind = model.OutcomeTransient
		out.Err = fmt.Errorf("%s", r.Message)
	}
	return out
}

type Publisher struct {
	opts   Options
	logger *slog.Logger
}

func NewPublisher(opts Options) *Publisher {
	if len(opts.Tags) == 0 {
		opts.Tags = DefaultTags
	}
	return &Publisher{
		opts:   opts,
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With("system", "csdn"),
	}
}

// Publish 恢复登录态后在编辑器中填写标题与 Markdown 正文并发布
func (p *Publisher) Publish(ctx context.Context, storageState, title, content string) Result {
	st, err := ParseStorageState(storageState)
	if err != nil {
		return Result{
			NeedsReauth: true,
			Kind:        model.OutcomeNeedsReauth,
			Message:     "CSDN 登录态为空或格式错误，请先扫码登录 CSDN（" + err.Error() + "）",
		}
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.NoSandbox,
		chromedp.WindowSize(1440, 900),
	)
	if p.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(p.opts.ExecPath))
	}
	if p.opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(p.opts.UserAgent))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()
	tab, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	s := &session{p: p, tab: tab, started: time.Now()}
	p.logger.Info("开始推送 CSDN", "title", clipRunes(title, 60), "content_len", utf8.RuneCountInString(content))
	res := s.run(st, title, content)
	if res.Success {
		p.logger.Info("CSDN 推送完成", "elapsed", s.elapsed(), "url", res.URL)
	} else {
		p.logger.Warn("CSDN 推送失败", "elapsed", s.elapsed(), "kind", res.Kind, "reason", clipRunes(res.Message, 200))
	}
	return res
}

type session struct {
	p       *Publisher
	tab     context.Context
	started time.Time
}

func (s *session) elapsed() string {
	return fmt.Sprintf("%.1fs", time.Since(s.started).Seconds())
}

func (s *session) within(d time.Duration, actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(s.tab, d)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

func (s *session) eval(d time.Duration, expr string, out interface{}) error {
	return s.within(d, chromedp.Evaluate(expr, out))
}

func (s *session) location() string {
	var loc string
	_ = s.within(5*time.Second, chromedp.Location(&loc))
	return loc
}

func (s *session) fail(tag, kind, msg string) Result {
	shot := s.screenshot(tag)
	if shot != "" && kind == model.OutcomeTransient {
		msg += "  截图: " + shot
	}
	return Result{Kind: kind, Message: msg, NeedsReauth: kind == model.OutcomeNeedsReauth, ScreenshotPath: shot}
}

func (s *session) run(st *StorageState, title, content string) Result {
	if err := s.restore(st); err != nil {
		return Result{Kind: model.OutcomeTransient, Message: "启动浏览器失败: " + err.Error()}
	}

	if err := s.within(gotoTimeout, chromedp.Navigate(EditorURL)); err != nil {
		return s.fail("csdn_goto_fail", model.OutcomeTransient, "打开编辑页面失败: "+err.Error())
	}
	if loc := s.location(); isLoginURL(loc) {
		return s.fail("csdn_login_redirect", model.OutcomeNeedsReauth, "CSDN 登录态已失效（被重定向到登录页），请重新扫码登录")
	}

	if err := s.within(editorTimeout, chromedp.WaitVisible(editorSelector, chromedp.ByQuery)); err != nil {
		loc := s.location()
		if isLoginURL(loc) {
			return s.fail("csdn_editor_timeout", model.OutcomeNeedsReauth, "CSDN 登录态已失效（等待编辑器时被重定向），请重新扫码登录")
		}
		return s.fail("csdn_editor_timeout", model.OutcomeTransient, "编辑器加载超时（20s），当前 URL: "+loc)
	}

	var titleHit string
	if err := s.eval(10*time.Second, jsCall(fillTitleJS, titleSelectors, clipRunes(title, titleMaxRunes)), &titleHit); err != nil || titleHit == "" {
		return s.fail("csdn_fill_fail", model.OutcomeSelectorDrift, fmt.Sprintf("%v: 标题输入框，尝试了 %s", constant.ErrCSDNSelectorDrift, strings.Join(titleSelectors, " | ")))
	}

	var method string
	if err := s.eval(20*time.Second, jsCall(fillBodyJS, bodySelectors, content), &method); err != nil || method == "" {
		return s.fail("csdn_fill_fail", model.OutcomeSelectorDrift, "正文填充失败，未找到可用编辑器选择器")
	}
	s.p.logger.Info("正文已填充", "elapsed", s.elapsed(), "method", method)

	var actual int
	if err := s.eval(10*time.Second, readBodyLengthJS, &actual); err != nil {
		actual = -1
	}
	expected := utf8.RuneCountInString(content)
	if actual < minContentLength(expected) {
		return s.fail("csdn_content_mismatch", model.OutcomeContentMismatch, fmt.Sprintf(
			"正文写入验证失败：期望 %d 字符，编辑器实际读回 %d 字符。CSDN 编辑器可能已更新，请排查选择器兼容性。", expected, actual))
	}
	_ = s.within(5*time.Second, chromedp.Sleep(2*time.Second))

	detail, err := s.clickPublish()
	if err != nil {
		return s.fail("csdn_publish_fail", model.OutcomeTransient, "发布流程未完成: "+err.Error())
	}
	s.p.logger.Info("已点击发布", "elapsed", s.elapsed(), "detail", detail)

	url, ok := s.waitSuccess()
	if !ok {
		// 确认按钮已点击时页面有时不跳转，仍按成功处理
		s.p.logger.Warn("未检测到明确的发布成功跳转", "url", url)
	}
	if shot := s.screenshot("csdn_after_publish"); shot != "" {
		s.p.logger.Info("发布后截图已保存", "path", shot)
	}

	display := url
	if id := articleIDFromURL(url); id != "" {
		display = fmt.Sprintf("%s  （文章ID: %s，审核通过后可在 CSDN 主页查看）", url, id)
	}
	return Result{
		Success: true,
		Kind:    model.OutcomeSuccess,
		URL:     url,
		Message: fmt.Sprintf("CSDN 推送成功（%s）：%s", s.elapsed(), display),
	}
}

// restore 写入 cookies，并注册在每个新文档加载前回填 localStorage 的脚本
func (s *session) restore(st *StorageState) error {
	cookies := st.CookieParams(time.Now())
	script := st.LocalStorageScript()
	return s.within(gotoTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.SetCookies(cookies).Do(ctx); err != nil {
			return fmt.Errorf("写入 cookies 失败: %w", err)
		}
		if script == "" {
			return nil
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
			return fmt.Errorf("写入 localStorage 失败: %w", err)
		}
		return nil
	}))
}

func (s *session) clickPublish() (string, error) {
	deadline := time.Now().Add(publishTimeout)
	used := ""
	for _, sel := range publishSelectors {
		remain := time.Until(deadline)
		if remain <= 0 {
			break
		}
		if remain > 5*time.Second {
			remain = 5 * time.Second
		}
		err := s.within(remain,
			chromedp.WaitVisible(sel, chromedp.ByQuery),
			chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible),
		)
		if err == nil {
			used = sel
			break
		}
	}
	if used == "" {
		return "", fmt.Errorf("未找到发布按钮，尝试了: %s", strings.Join(publishSelectors, " | "))
	}

	_ = s.within(5*time.Second, chromedp.Sleep(1500*time.Millisecond))
	var prep struct {
		Tags int  `json:"tags"`
		Fans bool `json:"fans"`
	}
	if err := s.eval(5*time.Second, jsCall(prepareModalJS, modalContainers, s.p.opts.Tags, s.p.opts.FansOnly), &prep); err != nil {
		s.p.logger.Warn("发布弹窗标签与可见范围设置失败", "error", err)
	}

	if container := s.pollString(confirmTimeout, jsCall(clickConfirmJS, modalContainers)); container != "" {
		return fmt.Sprintf("主按钮=%q，确认弹窗=%q", used, container), nil
	}
	if s.pollString(confirmTimeout, jsCall(clickByTextJS, "发布文章")) != "" {
		return fmt.Sprintf("主按钮=%q，确认=文本匹配'发布文章'", used), nil
	}
	return "", fmt.Errorf("未找到确认发布按钮")
}

// pollString 反复执行脚本直到返回非空字符串或超时
func (s *session) pollString(d time.Duration, expr string) string {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		var got string
		if err := s.eval(2*time.Second, expr, &got); err == nil && got != "" {
			return got
		}
		if s.within(time.Second, chromedp.Sleep(pollInterval)) != nil && s.tab.Err() != nil {
			return ""
		}
	}
	return ""
}

func (s *session) waitSuccess() (string, bool) {
	deadline := time.Now().Add(successTimeout)
	var loc, title string
	for time.Now().Before(deadline) {
		_ = s.within(3*time.Second, chromedp.Location(&loc), chromedp.Title(&title))
		if isSuccessPage(loc, title) {
			return loc, true
		}
		if s.within(time.Second, chromedp.Sleep(500*time.Millisecond)) != nil && s.tab.Err() != nil {
			break
		}
	}
	return loc, false
}

func (s *session) screenshot(tag string) string {
	dir := s.p.opts.ScreenshotDir
	if dir == "" {
		return ""
	}
	var buf []byte
	if err := s.within(screenshotTimeout, chromedp.CaptureScreenshot(&buf)); err != nil || len(buf) == 0 {
		return ""
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ""
	}
	path := screenshotPath(dir, tag, time.Now())
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return ""
	}
	return path
}

func screenshotPath(dir, tag string, at time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%d.png", tag, at.Unix()))
}

func isLoginURL(u string) bool {
	return strings.Contains(u, "login") || strings.Contains(u, "passport")
}

func isSuccessPage(u, title string) bool {
	return strings.Contains(u, "article/details") || strings.Contains(u, "creation/success") || strings.Contains(title, "发布成功")
}

// minContentLength 编辑器读回长度的下限
func minContentLength(expected int) int {
	if n := expected / 10; n > 10 {
		return n
	}
	return 10
}

func articleIDFromURL(u string) string {
	if !strings.Contains(u, "creation/success/") {
		return ""
	}
	trimmed := strings.TrimRight(u, "/")
	return trimmed[strings.LastIndex(trimmed, "/")+1:]
}

func clipRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// jsCall 把参数按 JSON 编码后拼成立即调用的表达式
func jsCall(fn string, args ...interface{}) string {
	parts := make([]string, len(args))
	for i, a := range args {
		b, _ := json.Marshal(a)
		parts[i] = string(b)
	}
	return "(" + fn + ")(" + strings.Join(parts, ", ") + ")"
}

const fillTitleJS = `(sels, v) => {
	for (const sel of sels) {
		const el = document.querySelector(sel);
		if (!el) continue;
		el.focus();
		const setter = Object.getOwnPropertyDescriptor(HTMLInputElement.prototype, 'value').set;
		setter.call(el, v);
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return sel;
	}
	return '';
}`

const fillBodyJS = `(sels, text) => {
	try {
		const cm = document.querySelector('.CodeMirror');
		if (cm && cm.CodeMirror) { cm.CodeMirror.setValue(text); return 'CodeMirror'; }
	} catch (e) {}
	for (const sel of sels) {
		const el = document.querySelector(sel);
		if (!el) continue;
		el.focus();
		try { el.textContent = text; } catch (e) {}
		el.dispatchEvent(new Event('input', { bubbles: true }));
		return 'contenteditable ' + sel;
	}
	return '';
}`

const readBodyLengthJS = `(() => {
	const cm = document.querySelector('.CodeMirror');
	if (cm && cm.CodeMirror) return cm.CodeMirror.getValue().length;
	const ce = document.querySelector('pre.editor__inner[contenteditable="true"], div[contenteditable="true"]');
	if (ce) return (ce.textContent || '').length;
	return -1;
})()`

const prepareModalJS = `(containers, tags, fansOnly) => {
	let root = document;
	for (const c of containers) {
		const el = document.querySelector(c);
		if (el) { root = el; break; }
	}
	let added = 0;
	if (tags.length && !root.querySelector('.mark_selection_box .el-tag')) {
		const trig = root.querySelector('.mark_selection_box, .mark_selection .tag__btn-tag, .mark-mask-box-div');
		if (trig) trig.click();
		const input = root.querySelector('.mark_selection_box input.el-input__inner') || root.querySelector('input.el-input__inner');
		if (input) {
			for (const t of tags) {
				input.value = t;
				input.dispatchEvent(new Event('input', { bubbles: true }));
				input.dispatchEvent(new KeyboardEvent('keydown', { key: 'Enter', keyCode: 13, bubbles: true }));
				input.dispatchEvent(new KeyboardEvent('keyup', { key: 'Enter', keyCode: 13, bubbles: true }));
				added++;
			}
		}
	}
	let fans = false;
	if (fansOnly) {
		const box = document.querySelector('input#needfans');
		if (box) {
			if (!box.checked) {
				const label = document.querySelector('label[for="needfans"]');
				(label || box).click();
			}
			fans = true;
		}
	}
	return { tags: added, fans: fans };
}`

const clickConfirmJS = `(containers) => {
	for (const c of containers) {
		for (const root of document.querySelectorAll(c)) {
			const btn = root.querySelector('button.btn-b-red');
			if (btn && btn.offsetParent !== null) {
				btn.scrollIntoView({ block: 'center' });
				btn.click();
				return c;
			}
		}
	}
	return '';
}`

const clickByTextJS = `(text) => {
	for (const b of document.querySelectorAll('button')) {
		if ((b.innerText || '').trim() === text && b.offsetParent !== null) {
			b.click();
			return text;
		}
	}
	return '';
}`
