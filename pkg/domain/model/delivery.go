package model

// 投递结果分类
const (
	OutcomeSuccess         = "success"
	OutcomeTransient       = "transient"
	OutcomeAuthFailure     = "auth_failure_user_action_required"
	OutcomeBodyNeedsImage  = "body_needs_image"
	OutcomeCoverFailed     = "cover_failed"
	OutcomeNoContent       = "no_content"
	OutcomeNeedsReauth     = "needs_reauth"
	OutcomeContentMismatch = "content_mismatch"
	OutcomeSelectorDrift   = "selector_drift"
)

// DeliveryArticle 投递到平台前的统一草稿形态，Content 为 Markdown 或 HTML
type DeliveryArticle struct {
	Title            string `json:"title"`
	Content          string `json:"content"`
	Digest           string `json:"digest"`
	Author           string `json:"author"`
	CoverURL         string `json:"cover_url"`
	ContentSourceURL string `json:"content_source_url"`
}

// DeliveryOutcome 一次投递的结果
type DeliveryOutcome struct {
	Kind     string
	Message  string
	MediaID  string
	URL      string
	Warnings []string
	// Response 平台原始响应，落库前截断
	Response string
	// Screenshot CSDN 失败时的截图路径
	Screenshot string
	// Err 可用 errors.Is 判断的哨兵错误，成功时为 nil
	Err error
}

func (o *DeliveryOutcome) OK() bool {
	return o != nil && o.Kind == OutcomeSuccess
}

// Retryable 仅瞬时失败会进入重试队列
func (o *DeliveryOutcome) Retryable() bool {
	return o != nil && o.Kind == OutcomeTransient
}
