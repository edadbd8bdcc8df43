package subscription

import "subledger/core/events"

// TransferRecord moves the caller's subscription record to another account
// through the registry. The registry calls BeforeRecordTransfer before its
// owner index changes; both steps commit or revert together.
func (e *Engine) TransferRecord(call Call, to [20]byte) error {
	return e.execute(func(now uint64) error {
		if _, _, err := e.load(); err != nil {
			return err
		}
		if e.registry == nil {
			return errNilRegistry
		}
		sub, ok, err := e.loadSubscription(call.From)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoSubscription
		}
		e.transferring = true
		defer func() { e.transferring = false }()
		return e.registry.Transfer(call.From, call.From, to, sub.RecordID)
	})
}

// BeforeRecordTransfer is the registry hook run before record id moves from
// one account to another. The whole subscription moves with the record and
// the source account is cleared. It fails when the destination already
// holds a subscription.
func (e *Engine) BeforeRecordTransfer(from, to [20]byte, id uint64) error {
	if e != nil && e.entered && e.transferring {
		e.transferring = false
		return e.moveRecord(from, to, id)
	}
	return e.execute(func(now uint64) error {
		if _, _, err := e.load(); err != nil {
			return err
		}
		return e.moveRecord(from, to, id)
	})
}

func (e *Engine) moveRecord(from, to [20]byte, id uint64) error {
	if isZeroAddress(to) {
		return ErrZeroAccount
	}
	if from == to {
		return ErrSelfTransfer
	}
	sub, ok, err := e.loadSubscription(from)
	if err != nil {
		return err
	}
	if !ok || sub.RecordID != id {
		return ErrNoSubscription
	}
	if _, exists, err := e.loadSubscription(to); err != nil {
		return err
	} else if exists {
		return ErrRecipientHasSubscription
	}
	if err := e.state.SubscriptionPut(to, sub); err != nil {
		return err
	}
	if err := e.state.SubscriptionDelete(from); err != nil {
		return err
	}
	e.emit(events.RecordTransferred{From: from, To: to, RecordID: id})
	return nil
}
