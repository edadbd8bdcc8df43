package subscription

import "subledger/core/events"

// CreateReferralCode registers a code paying bps of each purchase that
// names it.
func (e *Engine) CreateReferralCode(call Call, code uint64, bps uint32) error {
	return e.execute(func(now uint64) error {
		_, globals, err := e.load()
		if err != nil {
			return err
		}
		if err := e.requireOwner(call, globals); err != nil {
			return err
		}
		if code == 0 {
			return ErrInvalidReferralCode
		}
		if bps == 0 || bps > bpsDenominator {
			return ErrInvalidReferralBps
		}
		existing, err := e.state.SubscriptionReferralGet(code)
		if err != nil {
			return err
		}
		if existing != 0 {
			return ErrReferralCodeExists
		}
		if err := e.state.SubscriptionReferralPut(code, bps); err != nil {
			return err
		}
		e.emit(events.ReferralCode{Code: code, Bps: bps})
		return nil
	})
}

// DestroyReferralCode removes a code. Purchases naming it pay no referral
// afterwards.
func (e *Engine) DestroyReferralCode(call Call, code uint64) error {
	return e.execute(func(now uint64) error {
		_, globals, err := e.load()
		if err != nil {
			return err
		}
		if err := e.requireOwner(call, globals); err != nil {
			return err
		}
		existing, err := e.state.SubscriptionReferralGet(code)
		if err != nil {
			return err
		}
		if existing == 0 {
			return ErrReferralCodeNotFound
		}
		if err := e.state.SubscriptionReferralPut(code, 0); err != nil {
			return err
		}
		e.emit(events.ReferralCode{Code: code, Bps: existing, Destroyed: true})
		return nil
	})
}

// ReferralBps returns the payout rate of a code, zero when absent.
func (e *Engine) ReferralBps(code uint64) (uint32, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.SubscriptionReferralGet(code)
}
