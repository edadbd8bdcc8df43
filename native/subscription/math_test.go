package subscription

import (
	"math/big"
	"testing"
)

func TestRemainingClampsAtZero(t *testing.T) {
	if got := remaining(100, big.NewInt(50), 200); got.Sign() != 0 {
		t.Fatalf("expected zero, got %s", got)
	}
	if got := remaining(100, big.NewInt(50), 120); got.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("expected 30, got %s", got)
	}
}

func TestExtendResetsOffsetAfterLapse(t *testing.T) {
	offset, acc := extend(100, big.NewInt(50), big.NewInt(10), 120)
	if offset != 100 || acc.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("active time must stack: offset=%d acc=%s", offset, acc)
	}
	offset, acc = extend(100, big.NewInt(50), big.NewInt(10), 1_000)
	if offset != 950 || acc.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("lapsed time must restart from now: offset=%d acc=%s", offset, acc)
	}
	if got := remaining(offset, acc, 1_000); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected 10 remaining, got %s", got)
	}
}

func TestSlashBps(t *testing.T) {
	cases := []struct {
		elapsed, purchased, want int64
	}{
		{0, 100, 0},
		{25, 100, 2_500},
		{100, 100, 10_000},
		{500, 100, 10_000},
		{5, 0, 10_000},
	}
	for _, tc := range cases {
		got := slashBps(big.NewInt(tc.elapsed), big.NewInt(tc.purchased))
		if got.Cmp(big.NewInt(tc.want)) != 0 {
			t.Fatalf("slashBps(%d, %d) = %s, want %d", tc.elapsed, tc.purchased, got, tc.want)
		}
	}
}

func TestMintPointsWithoutPoolCarriesNoDebt(t *testing.T) {
	g := ensureGlobals(nil)
	sub := newSubscription(1)
	mintPoints(sub, g, big.NewInt(1_000))
	if sub.RewardsWithdrawn.Sign() != 0 || g.TotalPoints.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("unexpected mint result: withdrawn=%s total=%s", sub.RewardsWithdrawn, g.TotalPoints)
	}
}

func TestMintPointsKeepsExistingEntitlement(t *testing.T) {
	g := ensureGlobals(nil)
	early := newSubscription(1)
	mintPoints(early, g, big.NewInt(3))
	g.RewardPoolTotal = big.NewInt(10)
	g.RewardPoolBalance = big.NewInt(10)

	late := newSubscription(2)
	mintPoints(late, g, big.NewInt(4))
	if got := entitlement(g, early.RewardPoints); got.Cmp(big.NewInt(10)) < 0 {
		t.Fatalf("early holder diluted to %s", got)
	}
	if got := rewardBalance(g, late); got.Sign() != 0 {
		t.Fatalf("late holder claims %s of earlier value", got)
	}
	if late.RewardsWithdrawn.Cmp(entitlement(g, late.RewardPoints)) > 0 {
		t.Fatalf("debt exceeds entitlement")
	}
}
