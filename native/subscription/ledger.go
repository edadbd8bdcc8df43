package subscription

import (
	"math/big"

	"subledger/core/events"
)

// Purchase converts value paid by the caller into access time for account.
// A zero account buys for the caller. The optional referral pays its
// referrer a share of the received amount.
func (e *Engine) Purchase(call Call, account [20]byte, amount *big.Int, referral *Referral) (*Subscription, error) {
	var result *Subscription
	err := e.execute(func(now uint64) error {
		params, globals, err := e.load()
		if err != nil {
			return err
		}
		if err := e.purchasesOpen(); err != nil {
			return err
		}
		if isZeroAddress(call.From) {
			return ErrZeroAccount
		}
		if isZeroAddress(account) {
			account = call.From
		}
		if amount == nil || amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		if !fitsWord(amount) {
			return ErrAmountOverflow
		}
		minimum := params.MinimumPurchase()
		if amount.Cmp(minimum) < 0 {
			return ErrPurchaseBelowMinimum
		}

		var referralBps uint32
		if referral != nil && referral.Code != 0 {
			referralBps, err = e.state.SubscriptionReferralGet(referral.Code)
			if err != nil {
				return err
			}
			if referralBps > 0 {
				if isZeroAddress(referral.Referrer) || referral.Referrer == account || referral.Referrer == call.From {
					return ErrInvalidReferrer
				}
			}
		}

		received, err := e.pullIn(call.From, amount, call.Value)
		if err != nil {
			return err
		}
		if received.Cmp(minimum) < 0 {
			return ErrPurchaseBelowMinimum
		}
		globals.TotalIn.Add(globals.TotalIn, received)

		sub, err := e.openRecord(account, globals)
		if err != nil {
			return err
		}
		seconds := new(big.Int).Quo(received, params.RatePerSecond)
		sub.PurchaseOffset, sub.SecondsPurchased = extend(sub.PurchaseOffset, sub.SecondsPurchased, seconds, now)

		multiplier := rewardMultiplier(params.DeployTime, now, params.MinPurchaseSeconds, params.RewardHalvings)
		points := new(big.Int).Mul(received, multiplier)
		mintPoints(sub, globals, points)

		payout := big.NewInt(0)
		if referralBps > 0 {
			payout = mulDiv(received, big.NewInt(int64(referralBps)), big.NewInt(bpsDenominator))
			globals.TotalOut.Add(globals.TotalOut, payout)
		}

		if err := e.state.SubscriptionPut(account, sub); err != nil {
			return err
		}
		if err := e.state.SubscriptionGlobalsPut(globals); err != nil {
			return err
		}
		e.emit(events.Purchase{
			Payer:        call.From,
			Account:      account,
			RecordID:     sub.RecordID,
			Amount:       newBigInt(received),
			Seconds:      seconds,
			RewardPoints: newBigInt(points),
			ExpiresAt:    expiry(sub.PurchaseOffset, sub.SecondsPurchased),
		})
		if payout.Sign() > 0 {
			e.emit(events.ReferralPayout{Account: account, Referrer: referral.Referrer, Code: referral.Code, Amount: newBigInt(payout)})
			if err := e.pushOut(referral.Referrer, payout); err != nil {
				return err
			}
		}
		result = sub.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GrantTime gifts access time to each account. Grants never fund the ledger.
func (e *Engine) GrantTime(call Call, accounts [][20]byte, seconds *big.Int) error {
	return e.execute(func(now uint64) error {
		_, globals, err := e.load()
		if err != nil {
			return err
		}
		if err := e.requireOwner(call, globals); err != nil {
			return err
		}
		if len(accounts) == 0 {
			return ErrEmptyBatch
		}
		if seconds == nil || seconds.Sign() <= 0 {
			return ErrInvalidSeconds
		}
		if !fitsWord(seconds) {
			return ErrAmountOverflow
		}
		for _, account := range accounts {
			if isZeroAddress(account) {
				return ErrZeroAccount
			}
			sub, err := e.openRecord(account, globals)
			if err != nil {
				return err
			}
			sub.GrantOffset, sub.SecondsGranted = extend(sub.GrantOffset, sub.SecondsGranted, seconds, now)
			if err := e.state.SubscriptionPut(account, sub); err != nil {
				return err
			}
			e.emit(events.Grant{
				Account:   account,
				RecordID:  sub.RecordID,
				Seconds:   newBigInt(seconds),
				ExpiresAt: expiry(sub.GrantOffset, sub.SecondsGranted),
			})
		}
		return e.state.SubscriptionGlobalsPut(globals)
	})
}

// RemainingBalance returns the purchased plus granted seconds left for the
// account.
func (e *Engine) RemainingBalance(account [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	sub, ok, err := e.loadSubscription(account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return remainingTotal(sub, e.peekNow()), nil
}

func remainingTotal(sub *Subscription, now uint64) *big.Int {
	total := remaining(sub.PurchaseOffset, sub.SecondsPurchased, now)
	return total.Add(total, remaining(sub.GrantOffset, sub.SecondsGranted, now))
}

func isActive(sub *Subscription, now uint64) bool {
	return sub != nil && remainingTotal(sub, now).Sign() > 0
}

// Refund returns the unused purchased time of each account at the purchase
// rate. Granted time is cleared and reward points are kept. topUp, when
// positive, is pulled from the caller first so the batch can be covered.
func (e *Engine) Refund(call Call, topUp *big.Int, accounts [][20]byte) (*big.Int, error) {
	total := big.NewInt(0)
	err := e.execute(func(now uint64) error {
		params, globals, err := e.load()
		if err != nil {
			return err
		}
		if err := e.requireOwner(call, globals); err != nil {
			return err
		}
		if len(accounts) == 0 {
			return ErrEmptyBatch
		}
		if topUp != nil && topUp.Sign() > 0 {
			if !fitsWord(topUp) {
				return ErrAmountOverflow
			}
			received, err := e.pullIn(call.From, topUp, call.Value)
			if err != nil {
				return err
			}
			globals.TotalIn.Add(globals.TotalIn, received)
		}

		type payment struct {
			to     [20]byte
			amount *big.Int
		}
		payments := make([]payment, 0, len(accounts))
		for _, account := range accounts {
			if isZeroAddress(account) {
				return ErrZeroAccount
			}
			sub, ok, err := e.loadSubscription(account)
			if err != nil {
				return err
			}
			if !ok {
				return ErrNoSubscription
			}
			sub.SecondsGranted = big.NewInt(0)
			sub.GrantOffset = now
			refundable := remaining(sub.PurchaseOffset, sub.SecondsPurchased, now)
			value := new(big.Int).Mul(refundable, params.RatePerSecond)
			sub.SecondsPurchased.Sub(sub.SecondsPurchased, refundable)
			if err := e.state.SubscriptionPut(account, sub); err != nil {
				return err
			}
			total.Add(total, value)
			payments = append(payments, payment{to: account, amount: value})
			e.emit(events.Refund{
				Account:   account,
				Amount:    newBigInt(value),
				Seconds:   refundable,
				ExpiresAt: expiry(sub.PurchaseOffset, sub.SecondsPurchased),
			})
		}
		if total.Cmp(globals.CreatorBalance()) > 0 {
			return ErrInsufficientBalance
		}
		globals.TotalOut.Add(globals.TotalOut, total)
		if err := e.state.SubscriptionGlobalsPut(globals); err != nil {
			return err
		}
		for _, p := range payments {
			if err := e.pushOut(p.to, p.amount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return total, nil
}
