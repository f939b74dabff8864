package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"legal_kb/internal/contextcache"
	"legal_kb/internal/model"
	"legal_kb/internal/scheduler"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to the Legal Knowledge Base console!

Watch ingestion, inspect the context cache and try queries.

Quick start:
1. /sources — source freshness and refresh buttons
2. /ask <question> — preview the context sent to the assistant
3. /stats — item counts and recent runs

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Knowledge base:
/stats — item counts by source and category, recent runs
/faq <category> [limit] — newest items of a category
/ask [-c category] <question> — preview prompt context

Sources:
/sources — last run of every source
/refresh [source...] — refresh now (all sources when none given)

Cache:
/cache — cache statistics
/clearcache — drop every cached entry

Categories: `+categoryList())
}

func (b *Bot) handleStats(ctx context.Context, chatID int64) {
	st, err := b.store.Stats(ctx)
	if err != nil {
		b.log.Error("stats", "error", err)
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatStats(st, b.now()))
}

func (b *Bot) handleCache(chatID int64) {
	b.reply(chatID, FormatCacheStats(b.cache.Stats()))
}

func (b *Bot) handleClearCache(chatID int64) {
	n := b.cache.Clear()
	b.log.Info("cache cleared", "count", n)
	b.reply(chatID, fmt.Sprintf("Cache cleared: %d entries dropped.", n))
}

func (b *Bot) handleSources(ctx context.Context, chatID int64) {
	metas, err := b.store.ListSourceMetadata(ctx)
	if err != nil {
		b.log.Error("list source metadata", "error", err)
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	ids := b.refresher.Sources()
	msg := tgbotapi.NewMessage(chatID, FormatSources(ids, metas, b.refresher.Running(), b.now()))
	if len(ids) > 0 {
		var rows [][]tgbotapi.InlineKeyboardButton
		for _, id := range ids {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Refresh "+id, cmdRefresh+":"+id),
			))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	b.send(msg)
}

func (b *Bot) handleRefresh(ctx context.Context, chatID int64, args string) {
	names := ParseSourceArgs(args)
	err := b.refresher.TriggerAsync(ctx, names, func(r scheduler.Report) {
		b.reply(chatID, FormatReport(r))
	})
	switch {
	case errors.Is(err, scheduler.ErrRunInProgress):
		b.reply(chatID, "A refresh is already running, try again later.")
		return
	case errors.Is(err, scheduler.ErrUnknownSource):
		b.reply(chatID, fmt.Sprintf("%v. Use /sources to list sources.", err))
		return
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	if len(names) == 0 {
		b.reply(chatID, "Refreshing all sources...")
		return
	}
	b.reply(chatID, fmt.Sprintf("Refreshing %s...", joinNames(names)))
}

func (b *Bot) handleAsk(ctx context.Context, chatID int64, args string) {
	cat, query, err := ParseAskArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	res := b.cache.GetContext(ctx, contextcache.Request{Query: query, Category: cat})
	b.reply(chatID, FormatAnswer(res))
}

func (b *Bot) handleFAQ(ctx context.Context, chatID int64, args string) {
	cat, limit, err := ParseFAQArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	items, err := b.store.ByCategory(ctx, cat, model.DefaultLanguage, limit)
	if err != nil {
		b.log.Error("faq by category", "category", cat, "error", err)
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatFAQ(cat, items, b.now()))
}
