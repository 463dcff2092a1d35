// Package quota enforces the per-actor daily currency-intake limit.
//
// Only *received* currency is metered: an actor sending 10M coins consumes
// none of their own quota, while the receiver's counter grows by 10M. The
// counter resets lazily at the UTC calendar-day boundary, on first access
// of the new day. The single-trade ceiling (model.MaxPerTrade) is a
// separate constant checked by the settlement engine, not here.
package quota

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/questforge/trade-engine/internal/model"
)

// Tier maps a progression level threshold to a daily intake limit.
type Tier struct {
	MinLevel int
	Limit    decimal.Decimal
}

// DefaultTiers is the standard three-tier step table. Levels and ceilings
// are configuration, not protocol; any monotonic table works.
func DefaultTiers() []Tier {
	return []Tier{
		{MinLevel: 0, Limit: decimal.NewFromInt(50_000_000)},
		{MinLevel: 50, Limit: decimal.NewFromInt(100_000_000)},
		{MinLevel: 100, Limit: decimal.NewFromInt(250_000_000)},
	}
}

// LevelFunc resolves an actor's progression level. Injected by the host.
type LevelFunc func(model.ActorID) int

// Limiter tracks daily intake against tiered limits.
type Limiter struct {
	store Store
	tiers []Tier // sorted ascending by MinLevel
	level LevelFunc
	now   func() time.Time
}

// New creates a Limiter. nil tiers uses DefaultTiers; nil level treats
// every actor as level 0.
func New(store Store, tiers []Tier, level LevelFunc) *Limiter {
	if tiers == nil {
		tiers = DefaultTiers()
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinLevel < tiers[j].MinLevel })
	if level == nil {
		level = func(model.ActorID) int { return 0 }
	}
	return &Limiter{
		store: store,
		tiers: tiers,
		level: level,
		now:   time.Now,
	}
}

// SetClock overrides the time source. Test helper.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

func (l *Limiter) epochDay() int64 {
	return l.now().UTC().Unix() / 86400
}

// DailyLimit returns the intake ceiling for the actor's current level.
func (l *Limiter) DailyLimit(actor model.ActorID) decimal.Decimal {
	lvl := l.level(actor)
	limit := decimal.Zero
	for _, t := range l.tiers {
		if lvl >= t.MinLevel {
			limit = t.Limit
		}
	}
	return limit
}

// current loads the actor's record, applying the lazy day-boundary reset.
// The reset is persisted so a crash cannot resurrect yesterday's counter.
func (l *Limiter) current(ctx context.Context, actor model.ActorID) (Record, error) {
	rec, ok, err := l.store.Load(ctx, actor)
	if err != nil {
		return Record{}, err
	}
	today := l.epochDay()
	if !ok {
		return Record{LastResetEpochDay: today, AmountTradedToday: decimal.Zero}, nil
	}
	if rec.LastResetEpochDay < today {
		rec = Record{LastResetEpochDay: today, AmountTradedToday: decimal.Zero}
		if err := l.store.Save(ctx, actor, rec); err != nil {
			return Record{}, err
		}
	}
	return rec, nil
}

// Remaining returns how much more currency the actor may receive today.
func (l *Limiter) Remaining(ctx context.Context, actor model.ActorID) (decimal.Decimal, error) {
	rec, err := l.current(ctx, actor)
	if err != nil {
		return decimal.Zero, err
	}
	rem := l.DailyLimit(actor).Sub(rec.AmountTradedToday)
	if rem.IsNegative() {
		rem = decimal.Zero
	}
	return rem, nil
}

// CanAccept reports whether the actor may receive the given amount today.
func (l *Limiter) CanAccept(ctx context.Context, actor model.ActorID, incoming decimal.Decimal) (bool, error) {
	if incoming.LessThanOrEqual(decimal.Zero) {
		return true, nil
	}
	rem, err := l.Remaining(ctx, actor)
	if err != nil {
		return false, err
	}
	return incoming.LessThanOrEqual(rem), nil
}

// RecordIntake adds received currency to the actor's daily counter. Call
// only after a settlement is irrevocably committed, never speculatively.
func (l *Limiter) RecordIntake(ctx context.Context, actor model.ActorID, incoming decimal.Decimal) error {
	if incoming.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	rec, err := l.current(ctx, actor)
	if err != nil {
		return err
	}
	rec.AmountTradedToday = rec.AmountTradedToday.Add(incoming)
	return l.store.Save(ctx, actor, rec)
}
