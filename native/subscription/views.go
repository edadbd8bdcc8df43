package subscription

import (
	"fmt"
	"math/big"
)

func (e *Engine) readable() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nil
}

// Subscription returns the account's record with derived values. Accounts
// without a record yield a view with a nil Subscription.
func (e *Engine) Subscription(account [20]byte) (*View, error) {
	if err := e.readable(); err != nil {
		return nil, err
	}
	_, globals, err := e.load()
	if err != nil {
		return nil, err
	}
	view := &View{
		Account:       account,
		Remaining:     big.NewInt(0),
		ExpiresAt:     big.NewInt(0),
		RewardBalance: big.NewInt(0),
	}
	sub, ok, err := e.loadSubscription(account)
	if err != nil || !ok {
		return view, err
	}
	now := e.peekNow()
	view.Subscription = sub.Clone()
	view.Remaining = remainingTotal(sub, now)
	view.ExpiresAt = lapsedAt(sub)
	view.RewardBalance = rewardBalance(globals, sub)
	view.Active = view.Remaining.Sign() > 0
	return view, nil
}

// Globals returns a copy of the ledger-wide counters.
func (e *Engine) Globals() (*Globals, error) {
	if err := e.readable(); err != nil {
		return nil, err
	}
	_, globals, err := e.load()
	if err != nil {
		return nil, err
	}
	return globals.Clone(), nil
}

// Params returns a copy of the deployment parameters.
func (e *Engine) Params() (*Params, error) {
	if err := e.readable(); err != nil {
		return nil, err
	}
	params, _, err := e.load()
	if err != nil {
		return nil, err
	}
	return params.Clone(), nil
}

// CreatorBalance returns the value the owner can withdraw.
func (e *Engine) CreatorBalance() (*big.Int, error) {
	globals, err := e.Globals()
	if err != nil {
		return nil, err
	}
	return globals.CreatorBalance(), nil
}

// MinimumPurchase returns the smallest accepted purchase amount.
func (e *Engine) MinimumPurchase() (*big.Int, error) {
	params, err := e.Params()
	if err != nil {
		return nil, err
	}
	return params.MinimumPurchase(), nil
}

// CheckInvariants walks every issued record and verifies the ledger's
// accounting identities. It reports the first violation found.
func (e *Engine) CheckInvariants() error {
	if err := e.readable(); err != nil {
		return err
	}
	if e.registry == nil {
		return errNilRegistry
	}
	_, globals, err := e.load()
	if err != nil {
		return err
	}
	if globals.TotalIn.Cmp(globals.TotalOut) < 0 {
		return fmt.Errorf("%w: value out %s exceeds value in %s", ErrInvariantViolation, globals.TotalOut, globals.TotalIn)
	}
	if globals.CreatorBalance().Sign() < 0 {
		return fmt.Errorf("%w: negative creator balance %s", ErrInvariantViolation, globals.CreatorBalance())
	}
	points := big.NewInt(0)
	holders := make(map[[20]byte]uint64)
	for id := uint64(1); id <= globals.IssuedRecords; id++ {
		owner, ok, err := e.registry.OwnerOf(id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: record %d has no owner", ErrInvariantViolation, id)
		}
		if prev, dup := holders[owner]; dup {
			return fmt.Errorf("%w: records %d and %d share holder %x", ErrInvariantViolation, prev, id, owner)
		}
		holders[owner] = id
		sub, ok, err := e.loadSubscription(owner)
		if err != nil {
			return err
		}
		if !ok || sub.RecordID != id {
			return fmt.Errorf("%w: record %d not held by %x", ErrInvariantViolation, id, owner)
		}
		if sub.RewardsWithdrawn.Cmp(entitlement(globals, sub.RewardPoints)) > 0 {
			return fmt.Errorf("%w: record %d withdrew beyond its share", ErrInvariantViolation, id)
		}
		points.Add(points, sub.RewardPoints)
	}
	if points.Cmp(globals.TotalPoints) != 0 {
		return fmt.Errorf("%w: points sum %s differs from total %s", ErrInvariantViolation, points, globals.TotalPoints)
	}
	return nil
}
