// Package app provides application services that orchestrate domain operations.
// These services sit between the transports and the domain layer,
// coordinating the relay use cases.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/liker0704/telegram-signals-parisng/pkg/bus"
	"github.com/liker0704/telegram-signals-parisng/pkg/channels"
	"github.com/liker0704/telegram-signals-parisng/pkg/channels/console"
	"github.com/liker0704/telegram-signals-parisng/pkg/channels/discord"
	"github.com/liker0704/telegram-signals-parisng/pkg/channels/slack"
	"github.com/liker0704/telegram-signals-parisng/pkg/channels/telegram"
	"github.com/liker0704/telegram-signals-parisng/pkg/channels/templates"
	"github.com/liker0704/telegram-signals-parisng/pkg/config"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
	channeldomain "github.com/liker0704/telegram-signals-parisng/pkg/domain/channel"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain/signal"
	"github.com/liker0704/telegram-signals-parisng/pkg/events"
	"github.com/liker0704/telegram-signals-parisng/pkg/idempotency"
	"github.com/liker0704/telegram-signals-parisng/pkg/infrastructure/cache"
	"github.com/liker0704/telegram-signals-parisng/pkg/infrastructure/eventbus"
	"github.com/liker0704/telegram-signals-parisng/pkg/infrastructure/persistence"
	"github.com/liker0704/telegram-signals-parisng/pkg/logger"
	"github.com/liker0704/telegram-signals-parisng/pkg/ownership"
	"github.com/liker0704/telegram-signals-parisng/pkg/router"
	"github.com/liker0704/telegram-signals-parisng/pkg/supervisor"
	"github.com/liker0704/telegram-signals-parisng/pkg/threading"
	"github.com/liker0704/telegram-signals-parisng/pkg/translate"
)

// ---------------------------------------------------------------------------
// Application container (composition root)
// ---------------------------------------------------------------------------

// Container holds all application services and their dependencies.
// It acts as a composition root for dependency injection.
type Container struct {
	Config *config.Config

	// Buses
	Bus      *bus.MessageBus
	EventBus *eventbus.InProcessEventBus

	// Infrastructure
	Store signal.Store
	Seen  *cache.RedisSeenCache // nil unless redis.url is set

	// Domain services
	Tracker    *ownership.Tracker
	Janitor    *ownership.Janitor
	Supervisor *supervisor.Supervisor
	Templates  *templates.Registry

	// Application services
	Channels *ChannelService
	Service  *RelayService
	Relay    *Relay

	sources   []channels.Source
	bot       telegramBot
	startedAt time.Time
}

// telegramBot is created lazily and shared by the Telegram source and publisher.
type telegramBot struct {
	once sync.Once
	bot  *telegram.Bot
	err  error
}

// Option customizes container construction.
type Option func(*options)

type options struct {
	store       signal.Store
	publisher   signal.Publisher
	destination domain.ChannelType
	destName    string
}

// WithStore uses store instead of opening the configured one.
func WithStore(store signal.Store) Option {
	return func(o *options) { o.store = store }
}

// WithPublisher uses pub as the destination instead of publisher.type.
func WithPublisher(name string, channelType domain.ChannelType, pub signal.Publisher) Option {
	return func(o *options) {
		o.publisher = pub
		o.destination = channelType
		o.destName = name
	}
}

// NewContainer builds every service from cfg. The returned container owns
// the store and caches; call Shutdown to release them.
func NewContainer(ctx context.Context, cfg *config.Config, opts ...Option) (*Container, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Container{
		Config:    cfg,
		Bus:       bus.NewMessageBus(cfg.Intake.QueueSize),
		EventBus:  eventbus.New(),
		startedAt: time.Now(),
	}
	events.Forward(c.EventBus, c.Bus)
	c.Channels = NewChannelService(c.EventBus)

	store := o.store
	if store == nil {
		var err error
		store, err = persistence.Open(ctx, persistence.Config{
			Driver: cfg.Store.Driver,
			Path:   cfg.Store.Path,
			URL:    cfg.Store.URL,
		})
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}
	c.Store = store

	var seen idempotency.SeenCache
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisSeenCache(ctx, cfg.Redis.URL, cfg.Redis.SeenTTL)
		if err != nil {
			c.closeInfra()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		c.Seen = rc
		seen = rc
	}

	c.Tracker = ownership.New(ownership.StoreSource(store), ownership.Config{
		TTL:           cfg.Ownership.TTL,
		MaxEntries:    cfg.Ownership.MaxEntries,
		SweepEvery:    cfg.Ownership.SweepEvery,
		EvictFraction: cfg.Ownership.EvictFraction,
		FailClosed:    !cfg.Ownership.FailOpen,
	})
	janitor, err := ownership.NewJanitor(c.Tracker, cfg.Ownership.SweepInterval, cfg.Ownership.SweepSchedule)
	if err != nil {
		c.closeInfra()
		return nil, err
	}
	c.Janitor = janitor

	c.Supervisor = supervisor.New(
		supervisor.WithGracePeriod(cfg.Supervisor.GracePeriod),
		supervisor.WithEventBus(c.EventBus),
	)

	c.Templates = templates.NewRegistry()
	n, warns := c.Templates.LoadDefaults(cfg.Publisher.TemplateDir)
	logger.InfoCF("app", "Post templates loaded", map[string]interface{}{
		"count": n,
	})
	for _, w := range warns {
		logger.WarnCF("app", "Template load warning", map[string]interface{}{"warn": w})
	}
	var tmpl *templates.PostTemplate
	if cfg.Publisher.Template != "" {
		t, ok := c.Templates.Get(cfg.Publisher.Template)
		if !ok {
			c.closeInfra()
			return nil, fmt.Errorf("unknown post template %q", cfg.Publisher.Template)
		}
		tmpl = t
	}

	translator, err := translate.New(translate.Config{
		Provider:       cfg.Translator.Provider,
		APIKey:         cfg.Translator.APIKey,
		APIBase:        cfg.Translator.APIBase,
		Model:          cfg.Translator.Model,
		TargetLanguage: cfg.Translator.TargetLanguage,
	})
	if err != nil {
		c.closeInfra()
		return nil, fmt.Errorf("create translator: %w", err)
	}

	if o.publisher == nil {
		o.destName, o.destination, o.publisher, err = c.newPublisher()
		if err != nil {
			c.closeInfra()
			return nil, err
		}
	}
	if _, err := c.Channels.RegisterChannel(o.destName, o.destination, channeldomain.RoleDestination, nil); err != nil {
		c.closeInfra()
		return nil, err
	}

	c.Service, err = NewRelayService(RelayDeps{
		Store:      store,
		Guard:      idempotency.New(store, seen),
		Resolver:   threading.New(store),
		Owners:     c.Tracker,
		Translator: translator,
		Publisher:  channels.Reported(o.destName, o.publisher, c.Channels),
		EventBus:   c.EventBus,
		Taps:       c.Bus,
		Template:   tmpl,
	}, RelayConfig{
		Destination:      o.destination,
		TranslateTimeout: cfg.Translator.Timeout,
	})
	if err != nil {
		c.closeInfra()
		return nil, err
	}

	c.Relay = NewRelay(c.Bus, router.New(cfg.Router.Markers...), c.Service, c.Supervisor, c.Channels)

	if cfg.TelegramSourceEnabled() {
		bot, err := c.telegramBot()
		if err != nil {
			c.closeInfra()
			return nil, err
		}
		if err := c.AddSource(telegram.NewSource("telegram", bot, c.Bus, c.Channels), domain.ChannelTelegram, cfg.Telegram.SourceChats); err != nil {
			c.closeInfra()
			return nil, err
		}
	}

	return c, nil
}

func (c *Container) newPublisher() (string, domain.ChannelType, signal.Publisher, error) {
	cfg := c.Config
	switch strings.ToLower(cfg.Publisher.Type) {
	case "telegram":
		bot, err := c.telegramBot()
		if err != nil {
			return "", "", nil, err
		}
		return "telegram-out", domain.ChannelTelegram, telegram.NewPublisher(bot, cfg.Telegram.DestChatID), nil
	case "slack":
		pub, err := slack.NewPublisher(cfg.Slack.Token, cfg.Slack.ChannelID)
		if err != nil {
			return "", "", nil, fmt.Errorf("create slack publisher: %w", err)
		}
		return "slack-out", domain.ChannelSlack, pub, nil
	case "discord":
		pub, err := discord.NewPublisher(cfg.Discord.Token, cfg.Discord.ChannelID)
		if err != nil {
			return "", "", nil, fmt.Errorf("create discord publisher: %w", err)
		}
		return "discord-out", domain.ChannelDiscord, pub, nil
	default:
		return "console-out", domain.ChannelConsole, console.NewLogPublisher(os.Stdout, "console"), nil
	}
}

func (c *Container) telegramBot() (*telegram.Bot, error) {
	c.bot.once.Do(func() {
		c.bot.bot, c.bot.err = telegram.NewBot(c.Config.Telegram.Token, c.Config.Telegram.APIServer)
	})
	if c.bot.err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", c.bot.err)
	}
	return c.bot.bot, nil
}

// AddSource registers src as a source channel. Sources start with Run.
func (c *Container) AddSource(src channels.Source, channelType domain.ChannelType, allowList []int64) error {
	if _, err := c.Channels.RegisterChannel(src.Name(), channelType, channeldomain.RoleSource, allowList); err != nil {
		return err
	}
	c.sources = append(c.sources, src)
	return nil
}

// Run recovers interrupted records, then runs the sources, the ownership
// janitor and the intake loop until ctx is cancelled. Call Shutdown afterwards.
func (c *Container) Run(ctx context.Context) error {
	if _, err := c.Service.Recover(ctx, c.Config.Intake.RecoverAfter); err != nil {
		return err
	}

	c.Bus.PublishSystem(bus.SystemEvent{
		Type:   events.SystemStarted,
		Source: "app",
		Data:   events.SystemEventData{Message: "relay started"},
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Janitor.Run(ctx)
	}()

	for _, src := range c.sources {
		wg.Add(1)
		go func(src channels.Source) {
			defer wg.Done()
			c.runSource(ctx, src)
		}(src)
	}

	err := c.Relay.Run(ctx)
	wg.Wait()
	return err
}

func (c *Container) runSource(ctx context.Context, src channels.Source) {
	logger.InfoCF("app", "Starting source", map[string]interface{}{"channel": src.Name()})
	err := src.Start(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.InfoCF("app", "Source stopped", map[string]interface{}{"channel": src.Name()})
	default:
		logger.ErrorCF("app", "Source failed", map[string]interface{}{
			"channel": src.Name(),
			"error":   err.Error(),
		})
		if merr := c.Channels.MarkError(src.Name(), err); merr != nil {
			logger.DebugCF("app", "Could not record source failure", map[string]interface{}{
				"channel": src.Name(),
				"error":   merr.Error(),
			})
		}
	}
}

// Drain blocks until the intake queue is empty and no pipeline is running,
// or ctx is done. The intake loop must still be running. Two consecutive
// idle polls are required so an event between dequeue and dispatch is not
// missed.
func (c *Container) Drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	idle := 0
	for {
		if c.Bus.Pending() == 0 && c.Supervisor.Live() == 0 {
			idle++
			if idle >= 2 {
				return nil
			}
		} else {
			idle = 0
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

const drainPoll = 20 * time.Millisecond

// Shutdown waits for in-flight pipelines within the grace period, then
// releases the store and caches.
func (c *Container) Shutdown(ctx context.Context) error {
	c.Bus.PublishSystem(bus.SystemEvent{
		Type:   events.SystemStopping,
		Source: "app",
		Data:   events.SystemEventData{LiveTasks: c.Supervisor.Live(), Pending: c.Bus.Pending()},
	})

	err := c.Supervisor.Shutdown(ctx)
	if errors.Is(err, supervisor.ErrClosed) {
		err = nil
	}
	c.closeInfra()
	return err
}

func (c *Container) closeInfra() {
	if c.Tracker != nil {
		c.Tracker.Close()
	}
	if c.Seen != nil {
		if err := c.Seen.Close(); err != nil {
			logger.WarnCF("app", "Closing redis failed", map[string]interface{}{"error": err.Error()})
		}
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			logger.WarnCF("app", "Closing store failed", map[string]interface{}{"error": err.Error()})
		}
	}
	c.Bus.Close()
	c.EventBus.Close()
}

// Status reports the live state of every service.
func (c *Container) Status(ctx context.Context) map[string]interface{} {
	store := "ok"
	if err := c.Store.Ping(ctx); err != nil {
		store = err.Error()
	}
	status := map[string]interface{}{
		"uptime_seconds":  int64(time.Since(c.startedAt).Seconds()),
		"live_tasks":      c.Supervisor.Live(),
		"tasks":           c.Supervisor.Snapshot(),
		"pending_inbound": c.Bus.Pending(),
		"ownership":       c.Tracker.Status(),
		"channels":        c.Channels.Status(),
		"store":           store,
	}
	if c.Seen != nil {
		redis := "ok"
		if err := c.Seen.Ping(ctx); err != nil {
			redis = err.Error()
		}
		status["redis"] = redis
	}
	return status
}
