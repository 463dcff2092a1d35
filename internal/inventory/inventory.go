// Package inventory defines the boundary between the trade engine and the
// host's item/currency storage. Settlement moves items and coins through
// this interface only; the host injects its own implementation.
package inventory

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/questforge/trade-engine/internal/model"
)

// Inventory is the host-side storage for one actor's items and wallet.
//
// Withdraw and Debit fail if the actor does not hold what is asked for.
// Deposit must always succeed: it is used to return escrowed items on
// rollback and on offer replacement, and an implementation that can drop
// returned items would violate the no-item-loss guarantee. CanDeposit is
// the advisory capacity check settlement runs before moving anything.
type Inventory interface {
	// Withdraw removes the given stacks from the actor's inventory.
	Withdraw(ctx context.Context, actor model.ActorID, stacks []model.Stack) error

	// CanDeposit reports whether the actor's inventory has capacity for
	// all of the given stacks.
	CanDeposit(ctx context.Context, actor model.ActorID, stacks []model.Stack) error

	// Deposit adds the given stacks to the actor's inventory.
	Deposit(ctx context.Context, actor model.ActorID, stacks []model.Stack) error

	// Balance returns the actor's spendable currency.
	Balance(ctx context.Context, actor model.ActorID) (decimal.Decimal, error)

	// Debit removes currency from the actor's wallet; fails on insufficient
	// balance.
	Debit(ctx context.Context, actor model.ActorID, amount decimal.Decimal) error

	// Credit adds currency to the actor's wallet.
	Credit(ctx context.Context, actor model.ActorID, amount decimal.Decimal) error
}
