// Package console provides an interactive source for local runs and a
// publisher that writes to the terminal instead of a real destination.
//
// Input lines use a small prefix syntax:
//
//	#signal BTC long 64000          new message from the default sender
//	@99 #signal ETH short           message from sender 99
//	[reply:1] TP1 hit               reply to source message 1
//	@99 [reply:1] closing           reply from sender 99
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"

	"github.com/liker0704/telegram-signals-parisng/pkg/bus"
	"github.com/liker0704/telegram-signals-parisng/pkg/channels"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain/signal"
	"github.com/liker0704/telegram-signals-parisng/pkg/logger"
)

// Prompt is shown before every input line.
const Prompt = "relay> "

var (
	senderPrefix = regexp.MustCompile(`^@(-?\d+)\s+`)
	replyPrefix  = regexp.MustCompile(`^\[reply:(\d+)\]\s*`)
)

// Line is a parsed console input line.
type Line struct {
	SenderID *int64
	ReplyTo  *int64
	Content  string
}

// ParseLine reads the optional sender and reply prefixes. Prefixes may
// appear in either order.
func ParseLine(raw string) Line {
	var l Line
	rest := strings.TrimSpace(raw)
	for {
		if m := senderPrefix.FindStringSubmatch(rest); m != nil {
			if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				l.SenderID = &id
			}
			rest = rest[len(m[0]):]
			continue
		}
		if m := replyPrefix.FindStringSubmatch(rest); m != nil {
			if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				l.ReplyTo = &id
			}
			rest = rest[len(m[0]):]
			continue
		}
		break
	}
	l.Content = rest
	return l
}

// Config configures a console source.
type Config struct {
	ChatID        int64
	DefaultSender int64
	HistoryFile   string
	Stdin         io.ReadCloser
	Stdout        io.Writer
}

// Source feeds typed lines to the intake bus. Each line gets the next
// message id, starting at 1, and the id is echoed so replies can refer to it.
type Source struct {
	cfg    Config
	in     channels.Inbound
	rep    channels.Reporter
	nextID atomic.Int64
}

// NewSource creates a console source. rep may be nil.
func NewSource(cfg Config, in channels.Inbound, rep channels.Reporter) *Source {
	if rep == nil {
		rep = channels.NopReporter{}
	}
	return &Source{cfg: cfg, in: in, rep: rep}
}

// Name implements channels.Source.
func (s *Source) Name() string { return string(domain.ChannelConsole) }

// Start reads lines until EOF, interrupt, or ctx cancellation.
func (s *Source) Start(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          Prompt,
		HistoryFile:     s.cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           s.cfg.Stdin,
		Stdout:          s.cfg.Stdout,
	})
	if err != nil {
		_ = s.rep.MarkError(s.Name(), err)
		return fmt.Errorf("open console: %w", err)
	}

	_ = s.rep.MarkConnected(s.Name())
	defer func() { _ = s.rep.MarkDisconnected(s.Name()) }()

	stop := context.AfterFunc(ctx, func() { _ = rl.Close() })
	defer stop()
	defer rl.Close()

	for {
		text, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read console: %w", err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		ev := s.Event(text)
		if err := channels.Deliver(ctx, s.in, s.rep, s.Name(), ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("deliver console line: %w", err)
		}
		fmt.Fprintf(rl.Stdout(), "  queued as message %d\n", ev.MessageID)
	}
}

// Event converts one input line into an intake event.
func (s *Source) Event(text string) bus.InboundEvent {
	line := ParseLine(text)
	sender := line.SenderID
	if sender == nil {
		sender = bus.Int64(s.cfg.DefaultSender)
	}
	return bus.InboundEvent{
		Channel:   domain.ChannelConsole,
		ChatID:    s.cfg.ChatID,
		MessageID: s.nextID.Add(1),
		SenderID:  sender,
		Content:   line.Content,
		ReplyTo:   line.ReplyTo,
		Timestamp: time.Now().UTC(),
	}
}

// ---------------------------------------------------------------------------
// Publisher
// ---------------------------------------------------------------------------

// LogPublisher "publishes" by writing to out and logging. Destination ids
// are sequential, so threading can be followed in the output.
type LogPublisher struct {
	mu     sync.Mutex
	out    io.Writer
	chatID string
	next   int64
}

// NewLogPublisher creates a publisher writing to out. out may be nil.
func NewLogPublisher(out io.Writer, chatID string) *LogPublisher {
	return &LogPublisher{out: out, chatID: chatID}
}

// Publish implements signal.Publisher.
func (p *LogPublisher) Publish(ctx context.Context, content, replyTo string) (signal.Destination, error) {
	if err := ctx.Err(); err != nil {
		return signal.Destination{}, channels.PublishFailure("console", err)
	}

	p.mu.Lock()
	p.next++
	id := strconv.FormatInt(p.next, 10)
	if p.out != nil {
		if replyTo == "" {
			fmt.Fprintf(p.out, "[%s] %s\n", id, content)
		} else {
			fmt.Fprintf(p.out, "[%s ↳ %s] %s\n", id, replyTo, content)
		}
	}
	p.mu.Unlock()

	logger.InfoCF("console", "Published", map[string]interface{}{
		"dest_message_id": id,
		"reply_to":        replyTo,
	})
	return signal.Destination{ChatID: p.chatID, MessageID: id}, nil
}

// Verify interface compliance at compile time.
var (
	_ signal.Publisher = (*LogPublisher)(nil)
	_ channels.Source  = (*Source)(nil)
)
