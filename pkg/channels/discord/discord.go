// Package discord publishes relayed signals into a Discord text channel.
// Replies reference the parent message so Discord renders them threaded.
package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/liker0704/telegram-signals-parisng/pkg/channels"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain/signal"
)

type messageSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Publisher posts to one Discord channel.
type Publisher struct {
	session   messageSender
	channelID string
}

// NewPublisher creates a publisher from a bot token. The REST API is used
// directly; no gateway connection is opened.
func NewPublisher(token, channelID string) (*Publisher, error) {
	if token == "" {
		return nil, errors.New("discord: bot token is required")
	}
	if channelID == "" {
		return nil, errors.New("discord: channel id is required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &Publisher{session: session, channelID: channelID}, nil
}

// Publish implements signal.Publisher. replyTo is the parent message id.
func (p *Publisher) Publish(ctx context.Context, content, replyTo string) (signal.Destination, error) {
	data := &discordgo.MessageSend{Content: content}
	if replyTo != "" {
		failIfMissing := true
		data.Reference = &discordgo.MessageReference{
			MessageID:       replyTo,
			ChannelID:       p.channelID,
			FailIfNotExists: &failIfMissing,
		}
	}

	msg, err := p.session.ChannelMessageSendComplex(p.channelID, data, discordgo.WithContext(ctx))
	if err != nil {
		return signal.Destination{}, channels.PublishFailure("discord", err)
	}
	return signal.Destination{ChatID: msg.ChannelID, MessageID: msg.ID}, nil
}

// Verify interface compliance at compile time.
var _ signal.Publisher = (*Publisher)(nil)
