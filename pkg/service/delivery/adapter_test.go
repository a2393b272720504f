package delivery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/constant"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/csdn"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/image"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/utility"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/wechat"
)

func sampleDraft() *model.Draft {
	return &model.Draft{
		ID:      "d1",
		Title:   "备用标题",
		Content: "# 大模型周报\n\n前言\n\n![架构图](https://img.example.com/a.png)\n\n正文段落",
		Metadata: map[string]interface{}{
			"author":     "安知鱼",
			"source_url": "https://example.com/origin",
		},
	}
}

func TestWechatAdapter_NormalizeDraft(t *testing.T) {
	a := NewWechatAdapter(wechat.NewClient(wechat.Options{}, utility.NewMemoryCacheService(), image.NewService(nil, "", 0)))
	art := a.NormalizeDraft(sampleDraft())

	assert.Equal(t, model.PlatformWechatMP, a.Platform())
	assert.Equal(t, "大模型周报", art.Title)
	assert.Equal(t, "安知鱼", art.Author)
	assert.Equal(t, "https://example.com/origin", art.ContentSourceURL)
	assert.Equal(t, "https://img.example.com/a.png", art.CoverURL)
	assert.Contains(t, art.Content, "![架构图]")
}

func TestCSDNAdapter_NormalizeDraft(t *testing.T) {
	a := NewCSDNAdapter(csdn.NewPublisher(csdn.Options{}))
	art := a.NormalizeDraft(sampleDraft())

	assert.Equal(t, model.PlatformCSDN, a.Platform())
	assert.Equal(t, "大模型周报", art.Title)
	assert.Contains(t, art.Content, "【图：架构图】")
	assert.NotContains(t, art.Content, "img.example.com")
}

func TestCSDNAdapter_SubmitWithoutSession(t *testing.T) {
	a := NewCSDNAdapter(csdn.NewPublisher(csdn.Options{}))

	out := a.Submit(context.Background(), Target{OwnerID: "u1"}, []model.DeliveryArticle{{Title: "t", Content: "c"}})
	assert.Equal(t, model.OutcomeNeedsReauth, out.Kind)
	assert.True(t, errors.Is(out.Err, constant.ErrCSDNNeedsReauth))

	out = a.Submit(context.Background(), Target{}, nil)
	assert.Equal(t, model.OutcomeNoContent, out.Kind)
}

func TestPayloadRoundTrip(t *testing.T) {
	art := model.DeliveryArticle{Title: "t", Content: "c", Digest: "d", Author: "a", CoverURL: "u", ContentSourceURL: "s"}
	assert.Equal(t, art, ArticleFromPayload(PayloadFromArticle(art)))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewCSDNAdapter(csdn.NewPublisher(csdn.Options{})))
	a, ok := r.Get(model.PlatformCSDN)
	require.True(t, ok)
	assert.Equal(t, model.PlatformCSDN, a.Platform())

	_, ok = r.Get(model.PlatformWechatMP)
	assert.False(t, ok)
}
