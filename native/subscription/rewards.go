package subscription

import (
	"math/big"

	"subledger/core/events"
)

// entitlement is the account's share of the pool's attribution base.
func entitlement(g *Globals, points *big.Int) *big.Int {
	return mulDiv(g.RewardPoolTotal, points, g.TotalPoints)
}

func rewardBalance(g *Globals, sub *Subscription) *big.Int {
	owed := entitlement(g, sub.RewardPoints)
	owed.Sub(owed, sub.RewardsWithdrawn)
	if owed.Sign() < 0 {
		return big.NewInt(0)
	}
	return owed
}

// mintPoints credits points to the subscription. When the pool already holds
// attributed value the attribution base grows with the point total, rounded
// up, so no existing holder loses entitlement; the minter's entitlement gain
// is booked as already withdrawn, so new points only earn from later
// allocations.
func mintPoints(sub *Subscription, g *Globals, points *big.Int) {
	if points == nil || points.Sign() == 0 {
		return
	}
	if g.TotalPoints.Sign() > 0 && g.RewardPoolTotal.Sign() > 0 {
		before := entitlement(g, sub.RewardPoints)
		grown := new(big.Int).Add(g.TotalPoints, points)
		total := new(big.Int).Mul(g.RewardPoolTotal, grown)
		total.Add(total, new(big.Int).Sub(g.TotalPoints, big.NewInt(1)))
		total.Quo(total, g.TotalPoints)
		after := mulDiv(total, new(big.Int).Add(sub.RewardPoints, points), grown)
		sub.RewardsWithdrawn.Add(sub.RewardsWithdrawn, after.Sub(after, before))
		g.RewardPoolTotal = total
	}
	sub.RewardPoints.Add(sub.RewardPoints, points)
	g.TotalPoints.Add(g.TotalPoints, points)
}

// RewardMultiplier returns the points minted per unit of value right now.
func (e *Engine) RewardMultiplier() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	params, _, err := e.load()
	if err != nil {
		return nil, err
	}
	return rewardMultiplier(params.DeployTime, e.peekNow(), params.MinPurchaseSeconds, params.RewardHalvings), nil
}

// RewardBalance returns the pool value the account can currently claim.
func (e *Engine) RewardBalance(account [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	_, globals, err := e.load()
	if err != nil {
		return nil, err
	}
	sub, ok, err := e.loadSubscription(account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return rewardBalance(globals, sub), nil
}

// WithdrawRewards pays the caller's claimable pool share. The caller's
// subscription must be active.
func (e *Engine) WithdrawRewards(call Call) (*big.Int, error) {
	var paid *big.Int
	err := e.execute(func(now uint64) error {
		_, globals, err := e.load()
		if err != nil {
			return err
		}
		sub, ok, err := e.loadSubscription(call.From)
		if err != nil {
			return err
		}
		if !ok || !isActive(sub, now) {
			return ErrSubscriptionInactive
		}
		payout := minBig(rewardBalance(globals, sub), globals.RewardPoolBalance)
		if payout.Sign() == 0 {
			return ErrNothingOwed
		}
		sub.RewardsWithdrawn.Add(sub.RewardsWithdrawn, payout)
		globals.RewardPoolBalance.Sub(globals.RewardPoolBalance, payout)
		globals.TotalOut.Add(globals.TotalOut, payout)
		if err := e.state.SubscriptionPut(call.From, sub); err != nil {
			return err
		}
		if err := e.state.SubscriptionGlobalsPut(globals); err != nil {
			return err
		}
		e.emit(events.RewardWithdrawn{
			Account:          call.From,
			Amount:           newBigInt(payout),
			RewardsWithdrawn: newBigInt(sub.RewardsWithdrawn),
			PoolBalance:      newBigInt(globals.RewardPoolBalance),
		})
		if err := e.pushOut(call.From, payout); err != nil {
			return err
		}
		paid = payout
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// lapsedAt is the moment both the purchased and the granted time ran out.
func lapsedAt(sub *Subscription) *big.Int {
	purchased := expiry(sub.PurchaseOffset, sub.SecondsPurchased)
	granted := expiry(sub.GrantOffset, sub.SecondsGranted)
	if granted.Cmp(purchased) > 0 {
		return granted
	}
	return purchased
}

// SlashRewards burns part of a lapsed account's points. The share grows
// linearly with time spent lapsed, relative to the seconds the account
// bought, and is capped at all of its points. The withdrawn counter and the
// pool's attribution base shrink pro rata, which raises every other holder's
// share of the unchanged pool balance. When no points remain the pool
// balance returns to the creator.
func (e *Engine) SlashRewards(call Call, target [20]byte) (*big.Int, error) {
	var burned *big.Int
	err := e.execute(func(now uint64) error {
		_, globals, err := e.load()
		if err != nil {
			return err
		}
		slasher, ok, err := e.loadSubscription(call.From)
		if err != nil {
			return err
		}
		if !ok || !isActive(slasher, now) {
			return ErrSubscriptionInactive
		}
		sub, ok, err := e.loadSubscription(target)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoSubscription
		}
		if sub.RewardPoints.Sign() == 0 {
			return ErrNothingToSlash
		}
		lapse := lapsedAt(sub)
		if lapse.Cmp(bigUint(now)) >= 0 {
			return ErrNotLapsed
		}
		if lapse.Cmp(bigUint(sub.LastSlashAt)) <= 0 {
			return ErrAlreadySlashed
		}
		elapsed := new(big.Int).Sub(bigUint(now), lapse)
		bps := slashBps(elapsed, sub.SecondsPurchased)
		slashed := minBig(sub.RewardPoints, mulDiv(sub.RewardPoints, bps, big.NewInt(bpsDenominator)))
		if slashed.Sign() == 0 {
			return ErrNothingToSlash
		}

		cut := mulDiv(sub.RewardsWithdrawn, slashed, sub.RewardPoints)
		sub.RewardsWithdrawn.Sub(sub.RewardsWithdrawn, cut)
		globals.RewardPoolTotal.Sub(globals.RewardPoolTotal, cut)
		sub.RewardPoints.Sub(sub.RewardPoints, slashed)
		globals.TotalPoints.Sub(globals.TotalPoints, slashed)
		sub.LastSlashAt = now

		released := big.NewInt(0)
		if globals.TotalPoints.Sign() == 0 {
			released = globals.RewardPoolBalance
			globals.RewardPoolBalance = big.NewInt(0)
			globals.RewardPoolTotal = big.NewInt(0)
			sub.RewardsWithdrawn = big.NewInt(0)
		} else if owed := entitlement(globals, sub.RewardPoints); sub.RewardsWithdrawn.Cmp(owed) > 0 {
			// Floor division can leave the counter one unit above the
			// shrunken entitlement.
			sub.RewardsWithdrawn = owed
		}

		if err := e.state.SubscriptionPut(target, sub); err != nil {
			return err
		}
		if err := e.state.SubscriptionGlobalsPut(globals); err != nil {
			return err
		}
		e.emit(events.RewardPointsSlashed{
			Slasher:         call.From,
			Account:         target,
			Points:          newBigInt(slashed),
			RemainingPoints: newBigInt(sub.RewardPoints),
			TotalPoints:     newBigInt(globals.TotalPoints),
			SlashedAt:       now,
		})
		if released.Sign() > 0 {
			e.emit(events.RewardPoolReleased{Amount: newBigInt(released)})
		}
		burned = slashed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return burned, nil
}
