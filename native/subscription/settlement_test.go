package subscription

import (
	"errors"
	"math/big"
	"testing"

	"subledger/core/events"
	"subledger/native/registry"
)

func withFees(d *Deployment) { d.FeeBps = 1_000 }

func TestWithdrawCarvesFeeAndRewardFromGross(t *testing.T) {
	h := newHarness(t, withFees)
	h.buy(alice, units("1000000"))
	if _, err := h.engine.Withdraw(Call{From: alice}, [20]byte{}, nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	net, err := h.engine.Withdraw(Call{From: owner}, [20]byte{}, nil)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if net.Cmp(big.NewInt(850_000)) != 0 {
		t.Fatalf("expected net 850000, got %s", net)
	}
	g := h.globals()
	if g.FeeBalance.Cmp(big.NewInt(100_000)) != 0 || g.RewardPoolBalance.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("unexpected fee %s / pool %s", g.FeeBalance, g.RewardPoolBalance)
	}
	if h.balance(owner).Cmp(net) != 0 {
		t.Fatalf("owner received %s", h.balance(owner))
	}
	if _, err := h.engine.Withdraw(Call{From: owner}, [20]byte{}, nil); !errors.Is(err, ErrNothingOwed) {
		t.Fatalf("expected nothing owed, got %v", err)
	}
	for _, typ := range []string{events.TypeFeeAllocated, events.TypeRewardPoolAllocated, events.TypeWithdraw} {
		if h.events.count(typ) != 1 {
			t.Fatalf("expected one %s event", typ)
		}
	}
	h.checkBooks()
}

func TestPartialWithdrawToAnotherAccount(t *testing.T) {
	h := newHarness(t, nil)
	h.buy(alice, units("1000000"))
	if _, err := h.engine.Withdraw(Call{From: owner}, carol, units("2000000")); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	net, err := h.engine.Withdraw(Call{From: owner}, carol, big.NewInt(400_000))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if net.Cmp(big.NewInt(380_000)) != 0 || h.balance(carol).Cmp(net) != 0 {
		t.Fatalf("carol received %s", h.balance(carol))
	}
	if h.globals().CreatorBalance().Cmp(big.NewInt(600_000)) != 0 {
		t.Fatalf("unexpected creator balance %s", h.globals().CreatorBalance())
	}
	h.checkBooks()
}

func TestWithdrawWithoutPointsSkipsPool(t *testing.T) {
	h := newHarness(t, nil)
	h.now = genesis + 30*86_400
	h.buy(alice, units("1000000"))
	if h.globals().TotalPoints.Sign() != 0 {
		t.Fatalf("expected no points after the schedule ended")
	}
	net, err := h.engine.Withdraw(Call{From: owner}, [20]byte{}, nil)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if net.Cmp(units("1000000")) != 0 || h.globals().RewardPoolBalance.Sign() != 0 {
		t.Fatalf("value must not enter an unclaimable pool")
	}
}

func TestTransferAllBalances(t *testing.T) {
	h := newHarness(t, nil)
	h.buy(alice, units("1000000"))
	if _, err := h.engine.TransferAllBalances(Call{From: bob}); !errors.Is(err, ErrTransferRecipientNotSet) {
		t.Fatalf("expected recipient not set, got %v", err)
	}
	if err := h.engine.SetTransferRecipient(Call{From: bob}, carol); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := h.engine.SetTransferRecipient(Call{From: owner}, carol); err != nil {
		t.Fatalf("set recipient: %v", err)
	}
	if _, err := h.engine.TransferAllBalances(Call{From: bob}); err != nil {
		t.Fatalf("transfer all: %v", err)
	}
	if h.balance(carol).Cmp(big.NewInt(950_000)) != 0 {
		t.Fatalf("recipient received %s", h.balance(carol))
	}
	if h.events.count(events.TypeTransferRecipientChanged) != 1 {
		t.Fatalf("expected transfer recipient event")
	}
	h.checkBooks()
}

func TestTransferFeesAndRenounce(t *testing.T) {
	h := newHarness(t, withFees)
	if _, err := h.engine.TransferFees(Call{From: bob}); !errors.Is(err, ErrNothingOwed) {
		t.Fatalf("expected nothing owed, got %v", err)
	}
	h.buy(alice, units("1000000"))
	if _, err := h.engine.Withdraw(Call{From: owner}, [20]byte{}, big.NewInt(500_000)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	paid, err := h.engine.TransferFees(Call{From: bob})
	if err != nil {
		t.Fatalf("transfer fees: %v", err)
	}
	if paid.Cmp(big.NewInt(50_000)) != 0 || h.balance(feeRecipient).Cmp(paid) != 0 {
		t.Fatalf("fee recipient received %s", h.balance(feeRecipient))
	}

	if _, err := h.engine.Withdraw(Call{From: owner}, [20]byte{}, big.NewInt(100_000)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if err := h.engine.RenounceFees(Call{From: owner}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("only the fee recipient may renounce, got %v", err)
	}
	creatorBefore := h.globals().CreatorBalance()
	if err := h.engine.RenounceFees(Call{From: feeRecipient}); err != nil {
		t.Fatalf("renounce: %v", err)
	}
	g := h.globals()
	if g.FeeBps != 0 || g.FeeBalance.Sign() != 0 {
		t.Fatalf("renounce must zero fee rate and balance")
	}
	if g.CreatorBalance().Cmp(new(big.Int).Add(creatorBefore, big.NewInt(10_000))) != 0 {
		t.Fatalf("forfeited fees should return to the creator")
	}
	if _, err := h.engine.TransferFees(Call{From: bob}); !errors.Is(err, ErrFeesDisabled) {
		t.Fatalf("expected fees disabled, got %v", err)
	}
	if err := h.engine.UpdateFeeRecipient(Call{From: feeRecipient}, bob); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("renounced fees cannot be reclaimed, got %v", err)
	}
	h.checkBooks()
}

func TestFeeRecipientReassignsItself(t *testing.T) {
	h := newHarness(t, withFees)
	if err := h.engine.UpdateFeeRecipient(Call{From: feeRecipient}, carol); err != nil {
		t.Fatalf("update: %v", err)
	}
	g := h.globals()
	if g.FeeRecipient != carol || g.FeeBps != 1_000 {
		t.Fatalf("unexpected fee config %x/%d", g.FeeRecipient, g.FeeBps)
	}
	if err := h.engine.UpdateFeeRecipient(Call{From: feeRecipient}, bob); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("previous recipient must lose the role, got %v", err)
	}
}

func TestOwnershipTransfer(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.engine.TransferOwnership(Call{From: owner}, [20]byte{}); !errors.Is(err, ErrZeroAccount) {
		t.Fatalf("expected zero account, got %v", err)
	}
	if err := h.engine.TransferOwnership(Call{From: owner}, bob); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}
	if err := h.engine.SetMetadata(Call{From: owner}, "ipfs://c", "ipfs://t"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old owner must lose the role, got %v", err)
	}
	if err := h.engine.SetMetadata(Call{From: bob}, "ipfs://c", "ipfs://t"); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if g := h.globals(); g.ContractURI != "ipfs://c" || g.TokenURI != "ipfs://t" {
		t.Fatalf("metadata not stored verbatim")
	}
}

func TestTransferRecordMovesSubscription(t *testing.T) {
	h := newHarness(t, nil)
	h.buy(alice, units("1000000000000000000"))
	h.advance(1_000)
	before, _ := h.engine.RemainingBalance(alice)

	if err := h.engine.TransferRecord(Call{From: alice}, carol); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	after, _ := h.engine.RemainingBalance(carol)
	if after.Cmp(before) != 0 {
		t.Fatalf("carol should inherit %s, got %s", before, after)
	}
	view, _ := h.engine.Subscription(alice)
	if view.Subscription != nil || view.Remaining.Sign() != 0 {
		t.Fatalf("alice must be cleared")
	}
	holder, _, _ := h.registry.OwnerOf(1)
	if holder != carol {
		t.Fatalf("registry not updated")
	}
	balance, _ := h.registry.BalanceOf(carol)
	if balance.Cmp(before) != 0 {
		t.Fatalf("registry balance should be remaining seconds, got %s", balance)
	}
	if h.events.count(events.TypeRecordTransferred) != 1 {
		t.Fatalf("expected transfer event")
	}
	h.checkBooks()
}

func TestTransferRecordRejectsHolder(t *testing.T) {
	h := newHarness(t, nil)
	h.buy(alice, units("1000000"))
	h.buy(bob, units("1000000"))
	if err := h.engine.TransferRecord(Call{From: alice}, bob); !errors.Is(err, ErrRecipientHasSubscription) {
		t.Fatalf("expected recipient has subscription, got %v", err)
	}
	if err := h.engine.TransferRecord(Call{From: alice}, alice); !errors.Is(err, ErrSelfTransfer) {
		t.Fatalf("expected self transfer, got %v", err)
	}
	if err := h.engine.TransferRecord(Call{From: carol}, alice); !errors.Is(err, ErrNoSubscription) {
		t.Fatalf("expected no subscription, got %v", err)
	}
	if err := h.registry.Transfer(carol, alice, carol, 1); !errors.Is(err, registry.ErrNotApproved) {
		t.Fatalf("expected registry to reject a stranger, got %v", err)
	}
	holder, _, _ := h.registry.OwnerOf(1)
	view, _ := h.engine.Subscription(alice)
	if holder != alice || view.Subscription == nil {
		t.Fatalf("rejected transfers must leave the record in place")
	}
	h.checkBooks()
}

func TestRegistryInitiatedTransferRunsHook(t *testing.T) {
	h := newHarness(t, nil)
	h.buy(alice, units("1000000"))
	if err := h.registry.Transfer(alice, alice, carol, 1); err != nil {
		t.Fatalf("registry transfer: %v", err)
	}
	view, _ := h.engine.Subscription(carol)
	if view.Subscription == nil || view.Subscription.RecordID != 1 {
		t.Fatalf("hook must move the subscription")
	}
	h.checkBooks()
}

func TestConservationAcrossMixedOperations(t *testing.T) {
	h := newHarness(t, withFees)
	if err := h.engine.CreateReferralCode(Call{From: owner}, 1, 250); err != nil {
		t.Fatalf("code: %v", err)
	}
	buyers := [][20]byte{alice, bob, carol}
	for round := 0; round < 6; round++ {
		for i, buyer := range buyers {
			amount := big.NewInt(int64(200_000 * (i + 1) * (round + 1)))
			h.fund(buyer, amount)
			ref := &Referral{Code: 1, Referrer: buyers[(i+1)%len(buyers)]}
			if _, err := h.engine.Purchase(Call{From: buyer, Value: amount}, [20]byte{}, amount, ref); err != nil {
				t.Fatalf("round %d purchase: %v", round, err)
			}
			h.checkBooks()
		}
		if _, err := h.engine.Withdraw(Call{From: owner}, [20]byte{}, big.NewInt(300_000)); err != nil {
			t.Fatalf("round %d withdraw: %v", round, err)
		}
		h.checkBooks()
		for _, holder := range buyers {
			if _, err := h.engine.WithdrawRewards(Call{From: holder}); err != nil && !errors.Is(err, ErrNothingOwed) && !errors.Is(err, ErrSubscriptionInactive) {
				t.Fatalf("round %d reward withdrawal: %v", round, err)
			}
			h.checkBooks()
		}
		if round%2 == 1 {
			if _, err := h.engine.TransferFees(Call{From: alice}); err != nil {
				t.Fatalf("round %d fees: %v", round, err)
			}
			if _, err := h.engine.Refund(Call{From: owner}, nil, [][20]byte{carol}); err != nil && !errors.Is(err, ErrInsufficientBalance) {
				t.Fatalf("round %d refund: %v", round, err)
			}
			h.checkBooks()
		}
		h.advance(86_400)
	}
	h.advance(50_000_000)
	if err := h.engine.GrantTime(Call{From: owner}, [][20]byte{alice}, big.NewInt(1_000)); err != nil {
		t.Fatalf("grant: %v", err)
	}
	for _, target := range []([20]byte){bob, carol} {
		if _, err := h.engine.SlashRewards(Call{From: alice}, target); err != nil && !errors.Is(err, ErrNothingToSlash) {
			t.Fatalf("slash: %v", err)
		}
		h.checkBooks()
	}
	if _, err := h.engine.WithdrawRewards(Call{From: alice}); err != nil && !errors.Is(err, ErrNothingOwed) {
		t.Fatalf("final reward withdrawal: %v", err)
	}
	h.checkBooks()
}
