// Package slack publishes relayed signals into a Slack channel. Replies are
// posted into the parent's thread using its message timestamp.
package slack

import (
	"context"
	"errors"

	"github.com/slack-go/slack"

	"github.com/liker0704/telegram-signals-parisng/pkg/channels"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain/signal"
)

type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Publisher posts to one Slack channel.
type Publisher struct {
	api       poster
	channelID string
}

// Option configures the Slack client.
type Option = slack.Option

// NewPublisher creates a publisher using a bot token. Options are passed to
// the Slack client (for example slack.OptionAPIURL in tests).
func NewPublisher(token, channelID string, opts ...Option) (*Publisher, error) {
	if token == "" {
		return nil, errors.New("slack: bot token is required")
	}
	if channelID == "" {
		return nil, errors.New("slack: channel id is required")
	}
	return &Publisher{api: slack.New(token, opts...), channelID: channelID}, nil
}

// Publish implements signal.Publisher. replyTo is the parent's "ts".
func (p *Publisher) Publish(ctx context.Context, content, replyTo string) (signal.Destination, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(content, false)}
	if replyTo != "" {
		opts = append(opts, slack.MsgOptionTS(replyTo))
	}

	channel, ts, err := p.api.PostMessageContext(ctx, p.channelID, opts...)
	if err != nil {
		return signal.Destination{}, channels.PublishFailure("slack", err)
	}
	return signal.Destination{ChatID: channel, MessageID: ts}, nil
}

// Verify interface compliance at compile time.
var _ signal.Publisher = (*Publisher)(nil)
