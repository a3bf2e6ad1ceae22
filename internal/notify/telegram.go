// Package notify delivers admissions, settlements and cycle errors to a
// Telegram chat.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/atmx/weather-edge/internal/engine"
	"github.com/atmx/weather-edge/internal/model"
)

// sender is the part of tgbotapi.BotAPI the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends MarkdownV2 notifications with linear-backoff retry.
type Telegram struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewTelegram creates a Telegram notifier.
func NewTelegram(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}
	return newTelegram(bot, id, maxRetries, retryDelayBase), nil
}

func newTelegram(bot sender, chatID int64, maxRetries int, retryDelayBase time.Duration) *Telegram {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Telegram{bot: bot, chatID: chatID, maxRetries: maxRetries, retryDelayBase: retryDelayBase}
}

// OnEvent forwards engine events. Completed cycles are only reported when
// they halted.
func (t *Telegram) OnEvent(ctx context.Context, ev engine.Event) error {
	switch ev.Type {
	case engine.EventAdmitted:
		if ev.Position != nil {
			return t.SendAdmission(ctx, *ev.Position)
		}
	case engine.EventSettled:
		if ev.Position != nil {
			return t.SendSettlement(ctx, *ev.Position)
		}
	case engine.EventError:
		return t.SendError(ctx, ev.Message)
	case engine.EventCycle:
		if ev.Report != nil && ev.Report.Halted != "" {
			return t.sendMarkdownV2(ctx, formatHalt(*ev.Report))
		}
	}
	return nil
}

// SendAdmission reports a newly opened position.
func (t *Telegram) SendAdmission(ctx context.Context, p model.Position) error {
	return t.sendMarkdownV2(ctx, formatAdmission(p))
}

// SendSettlement reports a closed position.
func (t *Telegram) SendSettlement(ctx context.Context, p model.Position) error {
	return t.sendMarkdownV2(ctx, formatSettlement(p))
}

// SendError reports a cycle failure.
func (t *Telegram) SendError(ctx context.Context, message string) error {
	text := fmt.Sprintf("⚠️ *Cycle error*\n`%s`", escapeMarkdownV2(message))
	return t.sendMarkdownV2(ctx, text)
}

func (t *Telegram) sendMarkdownV2(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < t.maxRetries; i++ {
		_, err := t.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == t.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", t.maxRetries, lastErr)
}

func formatAdmission(p model.Position) string {
	var b strings.Builder
	b.WriteString("🌡️ *Position opened*\n\n")
	if p.Question != "" {
		fmt.Fprintf(&b, "🎯 %s\n", escapeMarkdownV2(p.Question))
	}
	fmt.Fprintf(&b, "%s *%s* @ %s\n",
		sideEmoji(p.Side),
		escapeMarkdownV2(string(p.Side)),
		escapeMarkdownV2(fmt.Sprintf("%.2f", p.EntryPrice)),
	)
	fmt.Fprintf(&b, "Stake: %s\n", escapeMarkdownV2(p.Stake.StringFixed(2)))
	fmt.Fprintf(&b, "Fair: %s  Edge: %s\n",
		escapeMarkdownV2(fmt.Sprintf("%.1f%%", p.FairProbability*100)),
		escapeMarkdownV2(fmt.Sprintf("%+.1f%%", p.Edge*100)),
	)
	fmt.Fprintf(&b, "Condition: %s", escapeMarkdownV2(p.Condition.String()))
	return b.String()
}

func formatSettlement(p model.Position) string {
	var b strings.Builder
	if p.Status == model.StatusWon {
		b.WriteString("✅ *Position won*\n\n")
	} else {
		b.WriteString("❌ *Position lost*\n\n")
	}
	if p.Question != "" {
		fmt.Fprintf(&b, "🎯 %s\n", escapeMarkdownV2(p.Question))
	}
	fmt.Fprintf(&b, "%s stake %s, payout %s\n",
		escapeMarkdownV2(string(p.Side)),
		escapeMarkdownV2(p.Stake.StringFixed(2)),
		escapeMarkdownV2(p.Payout.StringFixed(2)),
	)
	source := p.Resolution
	if p.RealizedTemp != nil {
		source = fmt.Sprintf("%s, realized %.1f°C", source, *p.RealizedTemp)
	}
	fmt.Fprintf(&b, "Resolved by %s", escapeMarkdownV2(source))
	return b.String()
}

func formatHalt(r engine.CycleReport) string {
	return fmt.Sprintf("⏸️ *Trading halted*: %s\nBankroll %s, open exposure %s",
		escapeMarkdownV2(r.Halted),
		escapeMarkdownV2(r.BankrollEnd.StringFixed(2)),
		escapeMarkdownV2(r.OpenExposure.StringFixed(2)),
	)
}

func sideEmoji(s model.Side) string {
	if s == model.Yes {
		return "📈"
	}
	return "📉"
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// Nop discards every event.
type Nop struct{}

func (Nop) OnEvent(context.Context, engine.Event) error { return nil }
