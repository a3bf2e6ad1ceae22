package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/weather-edge/internal/engine"
	"github.com/atmx/weather-edge/internal/model"
)

type fakeBot struct {
	fail int
	sent []tgbotapi.MessageConfig
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.fail > 0 {
		f.fail--
		return tgbotapi.Message{}, errors.New("telegram: 502")
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain text", "plain text"},
		{"28.5°C", `28\.5°C`},
		{"NYC > 90°F (Jul 18)!", `NYC \> 90°F \(Jul 18\)\!`},
		{"a_b*c", `a\_b\*c`},
		{`back\slash`, `back\\slash`},
	}
	for _, tt := range tests {
		if got := escapeMarkdownV2(tt.in); got != tt.want {
			t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func position() model.Position {
	return model.Position{
		MarketID:        "m1",
		Question:        "Will London exceed 28°C on July 18?",
		Side:            model.Yes,
		EntryPrice:      0.6,
		Stake:           decimal.NewFromFloat(2.5),
		FairProbability: 0.9382,
		Edge:            0.3382,
		Condition: model.MarketCondition{
			City:       "London",
			Operator:   model.GreaterThan,
			Threshold:  28,
			TargetDate: time.Date(2026, 7, 18, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestOnEvent_Admission(t *testing.T) {
	bot := &fakeBot{}
	n := newTelegram(bot, 42, 3, time.Millisecond)

	p := position()
	if err := n.OnEvent(context.Background(), engine.Event{Type: engine.EventAdmitted, Position: &p}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("sent %d messages", len(bot.sent))
	}
	msg := bot.sent[0]
	if msg.ChatID != 42 || msg.ParseMode != "MarkdownV2" {
		t.Errorf("unexpected message config %+v", msg)
	}
	for _, want := range []string{"Position opened", `Will London exceed 28°C on July 18?`, `2\.50`, `93\.8%`, `\+33\.8%`} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("message missing %q:\n%s", want, msg.Text)
		}
	}
}

func TestOnEvent_Settlement(t *testing.T) {
	bot := &fakeBot{}
	n := newTelegram(bot, 42, 3, time.Millisecond)

	p := position()
	p.Status = model.StatusWon
	p.Payout = decimal.NewFromFloat(4.08)
	p.Resolution = model.ResolvedByWeather
	temp := 29.4
	p.RealizedTemp = &temp

	if err := n.OnEvent(context.Background(), engine.Event{Type: engine.EventSettled, Position: &p}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := bot.sent[0].Text
	for _, want := range []string{"Position won", `4\.08`, `weather, realized 29\.4°C`} {
		if !strings.Contains(text, want) {
			t.Errorf("message missing %q:\n%s", want, text)
		}
	}
}

func TestOnEvent_QuietCycle(t *testing.T) {
	bot := &fakeBot{}
	n := newTelegram(bot, 42, 3, time.Millisecond)

	_ = n.OnEvent(context.Background(), engine.Event{Type: engine.EventCycle, Report: &engine.CycleReport{}})
	if len(bot.sent) != 0 {
		t.Errorf("a normal cycle should not notify")
	}
	_ = n.OnEvent(context.Background(), engine.Event{Type: engine.EventCycle, Report: &engine.CycleReport{Halted: engine.HaltKillSwitch}})
	if len(bot.sent) != 1 || !strings.Contains(bot.sent[0].Text, `kill\_switch`) {
		t.Errorf("halted cycle should notify, got %+v", bot.sent)
	}
}

func TestSend_Retries(t *testing.T) {
	bot := &fakeBot{fail: 2}
	n := newTelegram(bot, 42, 3, time.Millisecond)
	if err := n.SendError(context.Background(), "persist failed"); err != nil {
		t.Fatalf("expected success on third attempt: %v", err)
	}

	bot = &fakeBot{fail: 5}
	n = newTelegram(bot, 42, 3, time.Millisecond)
	if err := n.SendError(context.Background(), "persist failed"); err == nil {
		t.Error("expected failure after retries")
	}
}
