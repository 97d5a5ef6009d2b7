// Package telegram connects the relay to Telegram through telego: a
// long-polling source for the watched chats and a publisher for the
// destination chat.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/liker0704/telegram-signals-parisng/pkg/bus"
	"github.com/liker0704/telegram-signals-parisng/pkg/channels"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain/signal"
	"github.com/liker0704/telegram-signals-parisng/pkg/logger"
)

// DefaultPollTimeout is the getUpdates long-poll timeout in seconds.
const DefaultPollTimeout = 30

// Bot is the telego client shared by the source and the publisher.
type Bot = telego.Bot

// NewBot creates a telego bot that logs through the relay logger.
// apiServer may be empty to use the public Bot API.
func NewBot(token, apiServer string) (*telego.Bot, error) {
	opts := []telego.BotOption{telego.WithLogger(botLogger{})}
	if apiServer != "" {
		opts = append(opts, telego.WithAPIServer(apiServer))
	}
	bot, err := telego.NewBot(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return bot, nil
}

type botLogger struct{}

func (botLogger) Debugf(format string, args ...any) {
	logger.DebugCF("telegram", fmt.Sprintf(format, args...), nil)
}

func (botLogger) Errorf(format string, args ...any) {
	logger.ErrorCF("telegram", fmt.Sprintf(format, args...), nil)
}

// ---------------------------------------------------------------------------
// Source
// ---------------------------------------------------------------------------

type poller interface {
	UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, options ...telego.LongPollingOption) (<-chan telego.Update, error)
}

// Source reads messages and channel posts via long polling and hands them
// to the intake bus.
type Source struct {
	name        string
	bot         poller
	in          channels.Inbound
	rep         channels.Reporter
	pollTimeout int
}

// NewSource creates a long-polling source. rep may be nil.
func NewSource(name string, bot *telego.Bot, in channels.Inbound, rep channels.Reporter) *Source {
	return newSource(name, bot, in, rep)
}

func newSource(name string, bot poller, in channels.Inbound, rep channels.Reporter) *Source {
	if rep == nil {
		rep = channels.NopReporter{}
	}
	return &Source{name: name, bot: bot, in: in, rep: rep, pollTimeout: DefaultPollTimeout}
}

// Name implements channels.Source.
func (s *Source) Name() string { return s.name }

// Start polls until ctx is cancelled. Cancellation is a clean stop.
func (s *Source) Start(ctx context.Context) error {
	updates, err := s.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        s.pollTimeout,
		AllowedUpdates: []string{"message", "channel_post"},
	})
	if err != nil {
		_ = s.rep.MarkError(s.name, err)
		return fmt.Errorf("start long polling: %w", err)
	}
	_ = s.rep.MarkConnected(s.name)
	defer func() { _ = s.rep.MarkDisconnected(s.name) }()

	logger.InfoCF("telegram", "Long polling started", map[string]interface{}{"channel": s.name})

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			ev, ok := ToInboundEvent(u)
			if !ok {
				continue
			}
			if err := channels.Deliver(ctx, s.in, s.rep, s.name, ev); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("deliver update %d: %w", u.UpdateID, err)
			}
		}
	}
}

// ToInboundEvent converts a Telegram update into an intake event. Updates
// without a message or channel post are skipped. Media captions count as
// content.
func ToInboundEvent(u telego.Update) (bus.InboundEvent, bool) {
	msg := u.Message
	if msg == nil {
		msg = u.ChannelPost
	}
	if msg == nil {
		return bus.InboundEvent{}, false
	}

	content := msg.Text
	if content == "" {
		content = msg.Caption
	}

	ev := bus.InboundEvent{
		Channel:   domain.ChannelTelegram,
		ChatID:    msg.Chat.ID,
		MessageID: int64(msg.MessageID),
		Content:   content,
		Timestamp: time.Unix(msg.Date, 0).UTC(),
		Metadata: domain.Metadata{
			"chat_type": msg.Chat.Type,
		},
	}
	switch {
	case msg.From != nil:
		ev.SenderID = bus.Int64(msg.From.ID)
	case msg.SenderChat != nil:
		ev.SenderID = bus.Int64(msg.SenderChat.ID)
	}
	if msg.ReplyToMessage != nil {
		ev.ReplyTo = bus.Int64(int64(msg.ReplyToMessage.MessageID))
	}
	if msg.Chat.Title != "" {
		ev.Metadata.Set("chat_title", msg.Chat.Title)
	}
	return ev, true
}

// ---------------------------------------------------------------------------
// Publisher
// ---------------------------------------------------------------------------

type sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Publisher posts to a single destination chat. Replies are threaded with
// reply parameters; a deleted parent makes the send fail instead of
// silently posting a detached message.
type Publisher struct {
	bot    sender
	chatID int64
}

// NewPublisher creates a publisher for chatID.
func NewPublisher(bot *telego.Bot, chatID int64) *Publisher {
	return &Publisher{bot: bot, chatID: chatID}
}

// Publish implements signal.Publisher.
func (p *Publisher) Publish(ctx context.Context, content, replyTo string) (signal.Destination, error) {
	params := tu.Message(tu.ID(p.chatID), content)
	if replyTo != "" {
		id, err := strconv.Atoi(replyTo)
		if err != nil {
			return signal.Destination{}, channels.PublishFailure("telegram", fmt.Errorf("invalid reply id %q: %w", replyTo, err))
		}
		params.ReplyParameters = &telego.ReplyParameters{MessageID: id}
	}

	msg, err := p.bot.SendMessage(ctx, params)
	if err != nil {
		return signal.Destination{}, channels.PublishFailure("telegram", err)
	}
	return signal.Destination{
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		MessageID: strconv.Itoa(msg.MessageID),
	}, nil
}

// Verify interface compliance at compile time.
var (
	_ signal.Publisher = (*Publisher)(nil)
	_ channels.Source  = (*Source)(nil)
)
