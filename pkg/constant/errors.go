/*
 * @Description:
 * @Author: 安知鱼
 * @Date: 2025-06-27 12:08:15
 * @LastEditTime: 2026-03-04 21:40:11
 * @LastEditors: 安知鱼
 */
package constant

import "errors"

// 定义业务逻辑相关的标准错误
var (
	// ErrNotFound 表示资源未找到
	ErrNotFound = errors.New("资源未找到")

	// ErrConflict 表示资源冲突，例如重复订阅同一个公众号
	ErrConflict = errors.New("资源冲突")

	// ErrBadRequest 表示参数错误
	ErrBadRequest = errors.New("错误的请求")

	// ErrInvalidOperation 表示不允许的操作
	ErrInvalidOperation = errors.New("不允许的操作")
)

// 授权相关
var (
	// ErrAuthMissing 公众号平台 cookie/token 缺失
	ErrAuthMissing = errors.New("授权无效，请重新扫码授权")

	// ErrAuthInvalidCleared 探测发现会话失效，已清空本地凭证
	ErrAuthInvalidCleared = errors.New("公众号登录态已失效，已清除本地授权，请重新扫码授权")

	// ErrOpenAPICredentialsMissing 未配置公众号 AppID / AppSecret
	ErrOpenAPICredentialsMissing = errors.New("未配置公众号 AppID/AppSecret，请在个人中心完成配置")
)

// 额度相关
var (
	ErrQuotaMonthlyExhausted = errors.New("本月额度不足")
	ErrQuotaDailyExhausted   = errors.New("今日 AI 调用次数已达上限")
	ErrPlanForbidden         = errors.New("当前套餐不支持该操作")
)

// AI 创作相关
var (
	ErrAIProviderNotConfigured = errors.New("平台 AI 服务未配置，请联系管理员")
	ErrAIProvider              = errors.New("模型调用失败")
	ErrAIEmptyResponse         = errors.New("模型返回为空")

	// ErrTaskStateChanged 抢占 pending 任务失败，说明已被其他 worker 处理
	ErrTaskStateChanged = errors.New("任务状态已变更")
)

// 投递相关
var (
	ErrWechatBodyNeedsImage = errors.New("微信草稿箱投递失败: 以下草稿正文缺少插图")
	ErrWechatNoArticles     = errors.New("没有有效内容可推送")
	ErrWechatAuthFailure    = errors.New("公众号接口鉴权失败，需要用户重新授权")

	ErrCSDNNeedsReauth     = errors.New("CSDN 登录态已失效")
	ErrCSDNContentMismatch = errors.New("CSDN 正文填充校验失败")
	ErrCSDNSelectorDrift   = errors.New("CSDN 页面元素未找到")
)

// 订单相关
var (
	ErrFreePlanOrder      = errors.New("免费套餐不支持创建付费订单")
	ErrOrderNotPayable    = errors.New("订单状态不可支付")
	ErrOrderNotCancelable = errors.New("已支付订单不可取消")
)
