// Package bot is the optional Telegram admin console of the knowledge base.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"legal_kb/internal/config"
	"legal_kb/internal/contextcache"
	"legal_kb/internal/scheduler"
	"legal_kb/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// ContextProvider serves cached prompt context.
type ContextProvider interface {
	GetContext(ctx context.Context, req contextcache.Request) contextcache.Result
	Stats() contextcache.Stats
	Clear() int
}

// Refresher runs manual source refreshes.
type Refresher interface {
	TriggerAsync(ctx context.Context, names []string, done func(scheduler.Report)) error
	Running() bool
	Sources() []string
}

// Bot answers admin commands over Telegram.
type Bot struct {
	api       telegramAPI
	store     storage.Storage
	cache     ContextProvider
	refresher Refresher
	cfg       *config.Config
	log       *slog.Logger
	now       func() time.Time
}

// New creates a Bot with the given Telegram token.
func New(token string, store storage.Storage, cache ContextProvider, refresher Refresher, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:       api,
		store:     store,
		cache:     cache,
		refresher: refresher,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				if update.CallbackQuery.From == nil || !b.cfg.IsUserAllowed(update.CallbackQuery.From.ID) {
					continue
				}
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.From == nil || !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Access denied.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, truncateMessage(text)))
}

func (b *Bot) send(msg tgbotapi.MessageConfig) {
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", msg.ChatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "stats":
		b.handleStats(ctx, chatID)
	case "cache":
		b.handleCache(chatID)
	case "clearcache":
		b.handleClearCache(chatID)
	case cmdSources:
		b.handleSources(ctx, chatID)
	case cmdRefresh:
		b.handleRefresh(ctx, chatID, args)
	case "ask":
		b.handleAsk(ctx, chatID, args)
	case "faq":
		b.handleFAQ(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
