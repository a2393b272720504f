package notice

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/utils"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
)

// DefaultMessageTemplate 任务未配置模板时使用
const DefaultMessageTemplate = `### {{.FeedName}} 更新了 {{.Count}} 篇文章
{{range .Articles}}- [{{.Title}}]({{.URL}}) {{.PublishTime}}
{{end}}`

// MessageArticle 模板中的单篇文章
type MessageArticle struct {
	ID          string
	Title       string
	URL         string
	Description string
	Cover       string
	PublishTime string
}

// MessageData 任务 webhook 模板的渲染数据
type MessageData struct {
	TaskName string
	FeedName string
	Count    int
	Now      string
	Articles []MessageArticle
}

func NewMessageData(task *model.Task, feed *model.Feed, articles []*model.Article) MessageData {
	data := MessageData{Now: utils.NowInChina().Format("2006-01-02 15:04:05")}
	if task != nil {
		data.TaskName = task.Name
	}
	if feed != nil {
		data.FeedName = feed.DisplayName
		if data.FeedName == "" {
			data.FeedName = feed.SourceID
		}
	}
	for _, a := range articles {
		if a == nil {
			continue
		}
		item := MessageArticle{ID: a.ID, Title: a.Title, URL: a.URL, Description: a.Description, Cover: a.Cover}
		if a.PublishTS > 0 {
			item.PublishTime = utils.ToChina(time.Unix(a.PublishTS, 0)).Format("2006-01-02 15:04")
		}
		data.Articles = append(data.Articles, item)
	}
	data.Count = len(data.Articles)
	return data
}

// RenderMessage 模板为空时使用默认模板
func RenderMessage(tpl string, data MessageData) (string, error) {
	if strings.TrimSpace(tpl) == "" {
		tpl = DefaultMessageTemplate
	}
	t, err := template.New("message").Option("missingkey=zero").Parse(tpl)
	if err != nil {
		return "", fmt.Errorf("解析消息模板失败: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("渲染消息模板失败: %w", err)
	}
	return buf.String(), nil
}

// SendTaskMessage 渲染任务模板并推送到任务配置的 webhook，没有新文章或未配置地址时跳过
func (s *Sender) SendTaskMessage(ctx context.Context, task *model.Task, data MessageData) (bool, error) {
	if task == nil || strings.TrimSpace(task.WebHookURL) == "" || data.Count == 0 {
		return false, nil
	}
	text, err := RenderMessage(task.MessageTemplate, data)
	if err != nil {
		return false, err
	}
	title := fmt.Sprintf("%s 有新文章", data.FeedName)
	if err := s.Post(ctx, strings.TrimSpace(task.WebHookURL), webhookKind(task.WebHookURL), title, text); err != nil {
		return false, err
	}
	return true, nil
}

// webhookKind 按地址推断渠道，识别不了的一律按钉钉格式
func webhookKind(raw string) string {
	u := strings.ToLower(raw)
	switch {
	case strings.Contains(u, "feishu.cn") || strings.Contains(u, "larksuite.com"):
		return KindFeishu
	case strings.Contains(u, "qyapi.weixin.qq.com"):
		return KindWechat
	case strings.Contains(u, "dingtalk.com"):
		return KindDingding
	}
	return KindCustom
}
