package notify

import (
	"context"

	xerrors "CalPilot/internal/errors"
	"CalPilot/pkg/channel"
)

// ChannelSender 把通知转交给渠道管理器，按通知上的 Channel 字段路由。
type ChannelSender struct {
	manager *channel.Manager
}

// NewChannelSender 构造基于渠道管理器的投递器。
func NewChannelSender(manager *channel.Manager) *ChannelSender {
	return &ChannelSender{manager: manager}
}

// Deliver 实现 Sender。
func (s *ChannelSender) Deliver(ctx context.Context, n *Notification) error {
	if s == nil || s.manager == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "渠道管理器未初始化")
	}
	if err := s.manager.Dispatch(ctx, channel.Message{
		ID:      n.ID,
		UserID:  n.UserID,
		Kind:    string(n.Kind),
		Title:   n.Title,
		Body:    n.Body,
		EventID: n.EventID,
		Channel: n.Channel,
	}); err != nil {
		return xerrors.Wrap(CodeNotifyDelivery, err, "渠道投递失败")
	}
	return nil
}
