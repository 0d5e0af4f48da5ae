package bot

import (
	"context"

	"drillbot/internal/training"
	kit "drillbot/internal/transport"
)

// Gateway delivers rendered scenario items to participants' private chats.
type Gateway struct {
	sender kit.Sender
}

var _ training.Gateway = (*Gateway)(nil)

func NewGateway(sender kit.Sender) *Gateway {
	return &Gateway{sender: sender}
}

// Send treats the participant id as the chat id; private chats share it.
func (g *Gateway) Send(ctx context.Context, participantID int64, text string) error {
	_, err := g.sender.SendText(ctx, kit.ChatTarget{ChatID: participantID}, text, &kit.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
	})
	return err
}
