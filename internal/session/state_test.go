package session

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/questforge/trade-engine/internal/model"
)

func sword() model.Offer {
	return model.Offer{0: {ItemID: "aspect_of_the_end", Count: 1}}
}

func TestNewState_Empty(t *testing.T) {
	st := NewState()

	if st.Status != model.StatusNegotiating {
		t.Errorf("status = %s, want NEGOTIATING", st.Status)
	}
	if len(st.OfferA) != 0 || len(st.OfferB) != 0 {
		t.Error("offers should start empty")
	}
	if !st.CurrencyA.IsZero() || !st.CurrencyB.IsZero() {
		t.Error("currency should start at zero")
	}
	if st.ConfirmedA || st.ConfirmedB {
		t.Error("confirmations should start false")
	}
}

func TestWithOffer_ClearsConfirmations(t *testing.T) {
	st := NewState().
		WithConfirm(SideA, true).
		WithConfirm(SideB, true).
		WithStatus(model.StatusBothConfirmed)

	next := st.WithOffer(SideA, sword())

	if next.ConfirmedA || next.ConfirmedB {
		t.Error("offer edit must clear both confirmation flags")
	}
	if next.Status != model.StatusNegotiating {
		t.Errorf("status = %s, want NEGOTIATING after edit", next.Status)
	}
}

func TestWithCurrency_ClearsConfirmations(t *testing.T) {
	st := NewState().
		WithConfirm(SideA, true).
		WithConfirm(SideB, true).
		WithStatus(model.StatusBothConfirmed)

	next := st.WithCurrency(SideB, decimal.NewFromInt(500))

	if next.ConfirmedA || next.ConfirmedB {
		t.Error("currency edit must clear both confirmation flags")
	}
	if next.Status != model.StatusNegotiating {
		t.Errorf("status = %s, want NEGOTIATING after edit", next.Status)
	}
	if !next.CurrencyB.Equal(decimal.NewFromInt(500)) {
		t.Errorf("currency_b = %s, want 500", next.CurrencyB)
	}
}

func TestWithConfirm_DoesNotTouchStatus(t *testing.T) {
	st := NewState().WithConfirm(SideA, true)

	if st.Status != model.StatusNegotiating {
		t.Errorf("status = %s, want NEGOTIATING", st.Status)
	}
	if !st.ConfirmedA || st.ConfirmedB {
		t.Error("only side A should be confirmed")
	}
	if st.BothConfirmed() {
		t.Error("one flag is not both")
	}
}

func TestWithers_DoNotMutateOriginal(t *testing.T) {
	st := NewState()
	st2 := st.WithOffer(SideA, sword()).WithCurrency(SideA, decimal.NewFromInt(10))

	if len(st.OfferA) != 0 {
		t.Error("original offer mutated")
	}
	if !st.CurrencyA.IsZero() {
		t.Error("original currency mutated")
	}
	if len(st2.OfferA) != 1 {
		t.Error("derived state missing offer")
	}

	// The installed offer is a copy; editing the caller's map after the
	// fact must not leak into the state.
	offer := sword()
	st3 := st.WithOffer(SideB, offer)
	offer[5] = model.Stack{ItemID: "dirt", Count: 64}
	if len(st3.OfferB) != 1 {
		t.Error("state offer aliased caller's map")
	}
}

func TestOfferSlots_KeptDistinct(t *testing.T) {
	offer := model.Offer{
		0: {ItemID: "enchanted_book", Count: 1},
		1: {ItemID: "enchanted_book", Count: 1},
	}
	st := NewState().WithOffer(SideA, offer)

	if len(st.OfferA) != 2 {
		t.Errorf("slots = %d, want 2 (duplicates by slot, never merged)", len(st.OfferA))
	}
}

func TestSideOther(t *testing.T) {
	if SideA.Other() != SideB || SideB.Other() != SideA {
		t.Error("Other is not an involution")
	}
}

func TestStatusTerminal(t *testing.T) {
	for st, want := range map[model.Status]bool{
		model.StatusNegotiating:   false,
		model.StatusBothConfirmed: false,
		model.StatusSettled:       true,
		model.StatusRolledBack:    true,
	} {
		if st.Terminal() != want {
			t.Errorf("%s.Terminal() = %v, want %v", st, !want, want)
		}
	}
}
