package listener

import (
	"context"
	"log"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/event"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
)

// SystemForwarder 推送到管理员 webhook
type SystemForwarder interface {
	System(ctx context.Context, title, text, tag string)
}

// SystemNoticeListener 把系统类站内信（登录态失效、套餐到期）同步给管理员
type SystemNoticeListener struct {
	forwarder SystemForwarder
}

func NewSystemNoticeListener(eventBus *event.EventBus, forwarder SystemForwarder) *SystemNoticeListener {
	listener := &SystemNoticeListener{forwarder: forwarder}
	eventBus.Subscribe(event.NoticeCreated, listener.handleNoticeCreated)
	return listener
}

func (l *SystemNoticeListener) handleNoticeCreated(payload interface{}) {
	n, ok := payload.(*model.Notice)
	if !ok || n == nil {
		log.Printf("[SystemNoticeListener] 错误：收到的 NoticeCreated 事件负载类型不正确")
		return
	}
	var tag string
	switch n.NoticeType {
	case model.NoticeTypeSystem:
		tag = "系统通知"
	case model.NoticeTypeBilling:
		tag = "套餐通知"
	default:
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	l.forwarder.System(ctx, n.Title, "用户: "+n.OwnerID+"\n"+n.Content, tag)
}
