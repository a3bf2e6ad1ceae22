package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/weather-edge/internal/correlation"
	"github.com/atmx/weather-edge/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var t0 = time.Date(2026, 7, 17, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return t0 }

func position(id, cluster string, stake, price float64) model.Position {
	return model.Position{
		ID:         "pos-" + id,
		MarketID:   id,
		City:       "New York",
		ClusterID:  cluster,
		Side:       model.Yes,
		EntryPrice: price,
		Stake:      d(stake),
		Condition: model.MarketCondition{
			City:       "New York",
			Operator:   model.GreaterThan,
			Threshold:  28,
			TargetDate: time.Date(2026, 7, 18, 0, 0, 0, 0, time.UTC),
		},
		OpenedAt:  t0,
		ExpiresAt: time.Date(2026, 7, 19, 0, 0, 0, 0, time.UTC),
	}
}

func TestAdmit_DebitsCash(t *testing.T) {
	l := New(d(100), WithClock(fixedClock))

	if err := l.Admit(position("m1", "northeast", 10, 0.2), nil); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if !l.Cash().Equal(d(90)) {
		t.Errorf("cash = %s, want 90", l.Cash())
	}
	p, ok := l.Position("m1")
	if !ok || p.Status != model.StatusOpen {
		t.Fatalf("expected open position, got %+v", p)
	}
	if l.TradesToday() != 1 {
		t.Errorf("trades today = %d, want 1", l.TradesToday())
	}
	if h := l.History(); len(h) != 1 || !h[0].OpenExposure.Equal(d(10)) {
		t.Errorf("unexpected history %+v", h)
	}
}

// Settlement conservation: 10 @ 0.2 with 2% commission credits 49.0 on top of
// the post-admission bankroll; the stake is not debited again.
func TestSettle_WinCreditsNetPayout(t *testing.T) {
	l := New(d(100), WithClock(fixedClock))
	if err := l.Admit(position("m1", "northeast", 10, 0.2), nil); err != nil {
		t.Fatalf("admit: %v", err)
	}
	before := l.Cash()

	settled, err := l.Settle("m1", true, d(0.02), Settlement{Resolution: model.ResolvedByMarket})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !settled.Payout.Equal(d(49)) {
		t.Errorf("payout = %s, want 49", settled.Payout)
	}
	if !l.Cash().Equal(before.Add(d(49))) {
		t.Errorf("cash = %s, want %s", l.Cash(), before.Add(d(49)))
	}
	if settled.Status != model.StatusWon || settled.SettledAt == nil {
		t.Errorf("unexpected settled record %+v", settled)
	}
	if l.Has("m1") {
		t.Error("settled position should leave the open set")
	}
	if s := l.Stats(); s.Wins != 1 || s.Losses != 0 || !s.OpenExposure.IsZero() {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestSettle_LossCreditsNothing(t *testing.T) {
	l := New(d(100), WithClock(fixedClock))
	if err := l.Admit(position("m1", "northeast", 10, 0.2), nil); err != nil {
		t.Fatalf("admit: %v", err)
	}

	settled, err := l.Settle("m1", false, d(0.02), Settlement{})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !l.Cash().Equal(d(90)) {
		t.Errorf("cash = %s, want 90", l.Cash())
	}
	if settled.Status != model.StatusLost || !settled.Payout.IsZero() {
		t.Errorf("unexpected settled record %+v", settled)
	}
}

func TestSettle_OnlyOnce(t *testing.T) {
	l := New(d(100))
	if err := l.Admit(position("m1", "northeast", 10, 0.2), nil); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if _, err := l.Settle("m1", true, d(0), Settlement{}); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if _, err := l.Settle("m1", true, d(0), Settlement{}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("second settle: expected ErrNotOpen, got %v", err)
	}
	if _, err := l.Settle("unknown", false, d(0), Settlement{}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("unknown market: expected ErrNotOpen, got %v", err)
	}
}

func TestAdmit_Rejections(t *testing.T) {
	l := New(d(20))
	if err := l.Admit(position("m1", "northeast", 10, 0.5), nil); err != nil {
		t.Fatalf("admit: %v", err)
	}

	tests := []struct {
		name string
		pos  model.Position
		want error
	}{
		{"duplicate market", position("m1", "northeast", 1, 0.5), ErrDuplicateMarket},
		{"insufficient funds", position("m2", "south", 11, 0.5), ErrInsufficientFunds},
		{"zero stake", position("m3", "south", 0, 0.5), ErrNegativeStake},
		{"negative stake", position("m4", "south", -1, 0.5), ErrNegativeStake},
		{"price out of range", position("m5", "south", 1, 1), ErrInvalidPosition},
		{"missing market id", position("", "south", 1, 0.5), ErrInvalidPosition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := l.Admit(tt.pos, nil); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if !l.Cash().Equal(d(10)) {
		t.Errorf("rejections must not move cash, got %s", l.Cash())
	}
}

// At every prefix of a sequence of admissions, cluster and total exposure
// stay within the caps derived from the cycle bankroll.
func TestAdmit_ExposureCapAtEveryPrefix(t *testing.T) {
	strategy := model.Strategy{MaxEventExposure: 0.1, MaxClusterExposure: 0.25, MaxTotalExposure: 0.4}
	l := New(d(100))
	limits := correlation.ForBankroll(strategy, l.Cash())

	attempts := []model.Position{
		position("nyc-1", "northeast", 10, 0.4),
		position("bos-1", "northeast", 10, 0.4),
		position("phl-1", "northeast", 10, 0.4), // 30 > 25
		position("phl-2", "northeast", 5, 0.4),
		position("mia-1", "south", 10, 0.4),
		position("atl-1", "south", 10, 0.4), // total 45 > 40
		position("atl-2", "south", 11, 0.4), // over the event cap
		position("dal-1", "south", 5, 0.4),
	}
	var admitted int
	for _, p := range attempts {
		if err := l.Admit(p, limits); err == nil {
			admitted++
		}
		for _, cluster := range []string{"northeast", "south"} {
			_, open, clustered := l.Exposure(cluster)
			if clustered.GreaterThan(d(25)) {
				t.Fatalf("cluster %s exposure %s over cap after %s", cluster, clustered, p.MarketID)
			}
			if open.GreaterThan(d(40)) {
				t.Fatalf("total exposure %s over cap after %s", open, p.MarketID)
			}
		}
	}
	if admitted != 5 {
		t.Errorf("admitted %d positions, want 5", admitted)
	}

	err := l.Admit(position("x", "northeast", 1, 0.4), limits)
	if !errors.Is(err, correlation.ErrCorrelatedLimitExceeded) {
		t.Errorf("expected correlated limit error, got %v", err)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	l := New(d(1000), WithHistoryLimit(3))
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		if err := l.Admit(position(id, "c", 1, 0.5), nil); err != nil {
			t.Fatalf("admit %s: %v", id, err)
		}
	}
	h := l.History()
	if len(h) != 3 {
		t.Fatalf("history length = %d, want 3", len(h))
	}
	if h[2].Reason != "admit e" || h[0].Reason != "admit c" {
		t.Errorf("history should keep the newest snapshots, got %q..%q", h[0].Reason, h[2].Reason)
	}
}

func TestRollDay(t *testing.T) {
	l := New(d(100))
	if err := l.Admit(position("m1", "c", 1, 0.5), nil); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if l.RollDay(t0.Add(time.Hour)) {
		t.Error("same UTC day should not reset")
	}
	if !l.RollDay(t0.Add(24 * time.Hour)) {
		t.Error("next UTC day should reset")
	}
	if l.TradesToday() != 0 {
		t.Errorf("trades today = %d after reset", l.TradesToday())
	}
	if l.Stats().TotalTrades != 1 {
		t.Error("total trades survive the daily reset")
	}
}

func TestRestore_KeepsOnlyOpenPositions(t *testing.T) {
	st := model.NewState(d(50))
	st.Positions["open"] = position("open", "c", 5, 0.5)
	legacy := position("", "c", 3, 0.5)
	legacy.Status = ""
	st.Positions["legacy"] = legacy
	won := position("won", "c", 5, 0.5)
	won.Status = model.StatusWon
	st.Positions["won"] = won

	l := Restore(st)
	if !l.Has("open") || !l.Has("legacy") || l.Has("won") {
		t.Errorf("unexpected open set %+v", l.OpenPositions())
	}
	if p, _ := l.Position("legacy"); p.MarketID != "legacy" || p.Status != model.StatusOpen {
		t.Errorf("legacy position should be keyed and open, got %+v", p)
	}
}

func TestState_IsACopy(t *testing.T) {
	l := New(d(100))
	if err := l.Admit(position("m1", "c", 5, 0.5), nil); err != nil {
		t.Fatalf("admit: %v", err)
	}
	st := l.State()
	delete(st.Positions, "m1")
	st.History = nil
	if !l.Has("m1") || len(l.History()) != 1 {
		t.Error("mutating the exported state must not touch the ledger")
	}
}

func TestDue(t *testing.T) {
	l := New(d(100))
	early := position("early", "c", 1, 0.5)
	early.ExpiresAt = t0
	late := position("late", "c", 1, 0.5)
	late.ExpiresAt = t0.Add(48 * time.Hour)
	for _, p := range []model.Position{early, late} {
		if err := l.Admit(p, nil); err != nil {
			t.Fatalf("admit: %v", err)
		}
	}
	due := l.Due(t0)
	if len(due) != 1 || due[0].MarketID != "early" {
		t.Errorf("unexpected due set %+v", due)
	}
}
