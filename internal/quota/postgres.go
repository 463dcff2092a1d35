package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/questforge/trade-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Amounts are stored as NUMERIC for exact decimal precision.
//
// Schema:
//
//	CREATE TABLE trade_quotas (
//	    actor_id             TEXT PRIMARY KEY,
//	    last_reset_epoch_day BIGINT NOT NULL,
//	    amount_traded_today  NUMERIC NOT NULL
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed quota store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Load(ctx context.Context, actor model.ActorID) (Record, bool, error) {
	var rec Record
	var amount string

	err := s.pool.QueryRow(ctx,
		`SELECT last_reset_epoch_day, amount_traded_today::TEXT
		 FROM trade_quotas WHERE actor_id = $1`, string(actor)).
		Scan(&rec.LastResetEpochDay, &amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("load quota %s: %w", actor, err)
	}

	rec.AmountTradedToday, err = decimal.NewFromString(amount)
	if err != nil {
		return Record{}, false, fmt.Errorf("decode quota %s: %w", actor, err)
	}
	return rec, true, nil
}

func (s *PostgresStore) Save(ctx context.Context, actor model.ActorID, rec Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trade_quotas (actor_id, last_reset_epoch_day, amount_traded_today)
		 VALUES ($1, $2, $3::NUMERIC)
		 ON CONFLICT (actor_id) DO UPDATE
		 SET last_reset_epoch_day = EXCLUDED.last_reset_epoch_day,
		     amount_traded_today  = EXCLUDED.amount_traded_today`,
		string(actor), rec.LastResetEpochDay, rec.AmountTradedToday.String(),
	)
	if err != nil {
		return fmt.Errorf("save quota %s: %w", actor, err)
	}
	return nil
}
