package quota

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/questforge/trade-engine/internal/model"
)

// Record is the persisted per-actor quota state, keyed by actor id in the
// host's storage layer.
type Record struct {
	LastResetEpochDay int64           `json:"last_reset_epoch_day"`
	AmountTradedToday decimal.Decimal `json:"amount_traded_today"`
}

// Store persists quota records. Implementations include Redis, PostgreSQL,
// and in-memory (for testing).
type Store interface {
	// Load returns the actor's record; ok is false when none exists yet.
	Load(ctx context.Context, actor model.ActorID) (rec Record, ok bool, err error)

	// Save upserts the actor's record.
	Save(ctx context.Context, actor model.ActorID, rec Record) error
}
