package subscription

import (
	"math/big"

	"subledger/core/events"
)

const (
	// RoleOwner administers the ledger and receives creator withdrawals.
	RoleOwner = "owner"
	// RoleFeeRecipient collects the protocol fee.
	RoleFeeRecipient = "fee_recipient"
)

func (e *Engine) ownerUpdate(call Call, apply func(g *Globals) error) error {
	return e.execute(func(now uint64) error {
		_, globals, err := e.load()
		if err != nil {
			return err
		}
		if err := e.requireOwner(call, globals); err != nil {
			return err
		}
		if err := apply(globals); err != nil {
			return err
		}
		return e.state.SubscriptionGlobalsPut(globals)
	})
}

// Pause stops new purchases.
func (e *Engine) Pause(call Call) error { return e.setPaused(call, true) }

// Unpause resumes purchases.
func (e *Engine) Unpause(call Call) error { return e.setPaused(call, false) }

func (e *Engine) setPaused(call Call, paused bool) error {
	return e.ownerUpdate(call, func(*Globals) error {
		if err := e.state.SetPaused(ModuleName, paused); err != nil {
			return err
		}
		e.emit(events.PauseChanged{Paused: paused})
		return nil
	})
}

// Paused reports whether purchases are stopped.
func (e *Engine) Paused() bool {
	if e == nil || e.state == nil {
		return false
	}
	return e.state.IsPaused(ModuleName)
}

// SetSupplyCap bounds the number of records. Zero removes the bound.
func (e *Engine) SetSupplyCap(call Call, limit uint64) error {
	return e.ownerUpdate(call, func(g *Globals) error {
		if limit != 0 && limit < g.IssuedRecords {
			return ErrSupplyCapBelowIssued
		}
		g.SupplyCap = limit
		e.emit(events.SupplyCapChanged{Cap: limit})
		return nil
	})
}

// SetTransferRecipient sponsors an account that anyone may sweep the creator
// balance to. The zero account clears it.
func (e *Engine) SetTransferRecipient(call Call, recipient [20]byte) error {
	return e.ownerUpdate(call, func(g *Globals) error {
		g.TransferRecipient = recipient
		e.emit(events.TransferRecipientChanged{Recipient: recipient})
		return nil
	})
}

// SetMetadata stores the metadata pointers verbatim.
func (e *Engine) SetMetadata(call Call, contractURI, tokenURI string) error {
	return e.ownerUpdate(call, func(g *Globals) error {
		g.ContractURI = contractURI
		g.TokenURI = tokenURI
		e.emit(events.MetadataUpdated{ContractURI: contractURI, TokenURI: tokenURI})
		return nil
	})
}

// TransferOwnership hands the owner role to another account.
func (e *Engine) TransferOwnership(call Call, owner [20]byte) error {
	return e.ownerUpdate(call, func(g *Globals) error {
		if isZeroAddress(owner) {
			return ErrZeroAccount
		}
		g.Owner = owner
		e.emit(events.RoleChanged{Role: RoleOwner, Holder: owner, FeeBps: g.FeeBps})
		return nil
	})
}

// UpdateFeeRecipient lets the fee recipient hand its role to another
// account. Handing it to the zero account disables fees for good and
// forfeits the accrued fee balance to the creator.
func (e *Engine) UpdateFeeRecipient(call Call, recipient [20]byte) error {
	return e.execute(func(now uint64) error {
		_, globals, err := e.load()
		if err != nil {
			return err
		}
		if isZeroAddress(call.From) || call.From != globals.FeeRecipient {
			return ErrUnauthorized
		}
		globals.FeeRecipient = recipient
		if isZeroAddress(recipient) {
			globals.FeeBps = 0
			globals.FeeBalance = big.NewInt(0)
		}
		if err := e.state.SubscriptionGlobalsPut(globals); err != nil {
			return err
		}
		e.emit(events.RoleChanged{Role: RoleFeeRecipient, Holder: recipient, FeeBps: globals.FeeBps})
		return nil
	})
}

// RenounceFees disables fees permanently.
func (e *Engine) RenounceFees(call Call) error {
	return e.UpdateFeeRecipient(call, [20]byte{})
}
