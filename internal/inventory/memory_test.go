package inventory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/questforge/trade-engine/internal/inventory"
	"github.com/questforge/trade-engine/internal/model"
)

func TestWithdraw_AllOrNothing(t *testing.T) {
	inv := inventory.NewMemory(0)
	ctx := context.Background()

	inv.Grant("alice", []model.Stack{{ItemID: "emerald", Count: 10}}, decimal.Zero)

	err := inv.Withdraw(ctx, "alice", []model.Stack{
		{ItemID: "emerald", Count: 5},
		{ItemID: "ruby", Count: 1}, // not held
	})
	if !errors.Is(err, model.ErrInvalidOffer) {
		t.Fatalf("err = %v, want ErrInvalidOffer", err)
	}

	// The emeralds were not partially withdrawn.
	if got := inv.Items("alice")["emerald"]; got != 10 {
		t.Errorf("emeralds = %d, want 10", got)
	}
}

func TestWithdraw_AggregatesAcrossStacks(t *testing.T) {
	inv := inventory.NewMemory(0)
	ctx := context.Background()

	inv.Grant("alice", []model.Stack{{ItemID: "emerald", Count: 10}}, decimal.Zero)

	// Two stacks of the same item in one withdrawal.
	err := inv.Withdraw(ctx, "alice", []model.Stack{
		{ItemID: "emerald", Count: 4},
		{ItemID: "emerald", Count: 6},
	})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := inv.Items("alice")["emerald"]; got != 0 {
		t.Errorf("emeralds = %d, want 0", got)
	}
}

func TestCanDeposit_Capacity(t *testing.T) {
	inv := inventory.NewMemory(2)
	ctx := context.Background()

	inv.Grant("bob", []model.Stack{{ItemID: "dirt", Count: 1}}, decimal.Zero)

	// One free slot: a new item kind fits, two don't.
	if err := inv.CanDeposit(ctx, "bob", []model.Stack{{ItemID: "stone", Count: 1}}); err != nil {
		t.Errorf("one new kind should fit: %v", err)
	}
	err := inv.CanDeposit(ctx, "bob", []model.Stack{
		{ItemID: "stone", Count: 1},
		{ItemID: "oak_log", Count: 1},
	})
	if !errors.Is(err, model.ErrSettlementFailed) {
		t.Errorf("err = %v, want ErrSettlementFailed", err)
	}

	// An already-held kind never needs a new slot.
	if err := inv.CanDeposit(ctx, "bob", []model.Stack{{ItemID: "dirt", Count: 64}}); err != nil {
		t.Errorf("existing kind should always fit: %v", err)
	}
}

func TestDeposit_AlwaysLands(t *testing.T) {
	// Returned escrow must never be dropped, even past capacity.
	inv := inventory.NewMemory(1)
	ctx := context.Background()

	inv.Grant("bob", []model.Stack{{ItemID: "dirt", Count: 1}}, decimal.Zero)

	if err := inv.Deposit(ctx, "bob", []model.Stack{{ItemID: "stone", Count: 1}}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := inv.Items("bob")["stone"]; got != 1 {
		t.Errorf("stone = %d, want 1", got)
	}
}

func TestWallet(t *testing.T) {
	inv := inventory.NewMemory(0)
	ctx := context.Background()

	inv.Grant("alice", nil, decimal.NewFromInt(100))

	if err := inv.Debit(ctx, "alice", decimal.NewFromInt(150)); !errors.Is(err, model.ErrLimitExceeded) {
		t.Errorf("overdraft err = %v, want ErrLimitExceeded", err)
	}
	if err := inv.Debit(ctx, "alice", decimal.NewFromInt(40)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if err := inv.Credit(ctx, "bob", decimal.NewFromInt(40)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	balA, _ := inv.Balance(ctx, "alice")
	balB, _ := inv.Balance(ctx, "bob")
	if !balA.Equal(decimal.NewFromInt(60)) {
		t.Errorf("alice = %s, want 60", balA)
	}
	if !balB.Equal(decimal.NewFromInt(40)) {
		t.Errorf("bob = %s, want 40", balB)
	}
}
