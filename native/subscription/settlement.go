package subscription

import (
	"math/big"

	"subledger/core/events"
	"subledger/native/fees"
)

// Withdraw sends creator balance to the given account, or to the caller when
// to is zero. A nil or zero amount withdraws everything available. The fee
// share and the reward pool share are both carved from the gross amount.
func (e *Engine) Withdraw(call Call, to [20]byte, amount *big.Int) (*big.Int, error) {
	var net *big.Int
	err := e.execute(func(now uint64) error {
		params, globals, err := e.load()
		if err != nil {
			return err
		}
		if err := e.requireOwner(call, globals); err != nil {
			return err
		}
		if isZeroAddress(to) {
			to = call.From
		}
		net, err = e.settle(params, globals, to, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return net, nil
}

// TransferAllBalances withdraws the full creator balance to the sponsored
// transfer recipient. Anyone may call it once the owner has set a recipient.
func (e *Engine) TransferAllBalances(call Call) (*big.Int, error) {
	var net *big.Int
	err := e.execute(func(now uint64) error {
		params, globals, err := e.load()
		if err != nil {
			return err
		}
		if isZeroAddress(globals.TransferRecipient) {
			return ErrTransferRecipientNotSet
		}
		net, err = e.settle(params, globals, globals.TransferRecipient, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return net, nil
}

func (e *Engine) settle(params *Params, globals *Globals, to [20]byte, amount *big.Int) (*big.Int, error) {
	available := globals.CreatorBalance()
	gross := newBigInt(amount)
	if gross.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if gross.Sign() == 0 {
		gross = available
	}
	if gross.Cmp(available) > 0 {
		return nil, ErrInsufficientBalance
	}
	if gross.Sign() <= 0 {
		return nil, ErrNothingOwed
	}

	feeBps := globals.FeeBps
	if isZeroAddress(globals.FeeRecipient) {
		feeBps = 0
	}
	rewardBps := params.RewardBps
	// Without outstanding points an allocation could never be claimed.
	if globals.TotalPoints.Sign() == 0 {
		rewardBps = 0
	}
	shares, net := fees.Split(gross, feeBps, rewardBps)
	fee, reward := shares[0], shares[1]

	globals.FeeBalance.Add(globals.FeeBalance, fee)
	globals.RewardPoolBalance.Add(globals.RewardPoolBalance, reward)
	globals.RewardPoolTotal.Add(globals.RewardPoolTotal, reward)
	globals.RewardPoolLifetime.Add(globals.RewardPoolLifetime, reward)
	globals.TotalOut.Add(globals.TotalOut, net)
	if err := e.state.SubscriptionGlobalsPut(globals); err != nil {
		return nil, err
	}
	if fee.Sign() > 0 {
		e.emit(events.FeeAllocated{Amount: newBigInt(fee), FeeBalance: newBigInt(globals.FeeBalance)})
	}
	if reward.Sign() > 0 {
		e.emit(events.RewardPoolAllocated{
			Amount:      newBigInt(reward),
			PoolBalance: newBigInt(globals.RewardPoolBalance),
			PoolTotal:   newBigInt(globals.RewardPoolTotal),
			Lifetime:    newBigInt(globals.RewardPoolLifetime),
		})
	}
	e.emit(events.Withdraw{To: to, Gross: newBigInt(gross), Net: newBigInt(net)})
	if err := e.pushOut(to, net); err != nil {
		return nil, err
	}
	return net, nil
}

// TransferFees pays the accrued fee balance to the fee recipient. Anyone may
// call it.
func (e *Engine) TransferFees(call Call) (*big.Int, error) {
	var paid *big.Int
	err := e.execute(func(now uint64) error {
		_, globals, err := e.load()
		if err != nil {
			return err
		}
		if isZeroAddress(globals.FeeRecipient) {
			return ErrFeesDisabled
		}
		if globals.FeeBalance.Sign() == 0 {
			return ErrNothingOwed
		}
		paid = globals.FeeBalance
		globals.FeeBalance = big.NewInt(0)
		globals.TotalOut.Add(globals.TotalOut, paid)
		if err := e.state.SubscriptionGlobalsPut(globals); err != nil {
			return err
		}
		e.emit(events.FeeTransferred{Recipient: globals.FeeRecipient, Amount: newBigInt(paid)})
		return e.pushOut(globals.FeeRecipient, paid)
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}
