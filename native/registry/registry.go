package registry

import (
	"errors"
	"math/big"
)

var (
	ErrNilState       = errors.New("registry: state not configured")
	ErrInvalidID      = errors.New("registry: record id must be non-zero")
	ErrZeroAccount    = errors.New("registry: account required")
	ErrAlreadyMinted  = errors.New("registry: record already minted")
	ErrRecordNotFound = errors.New("registry: record not found")
	ErrNotHolder      = errors.New("registry: account does not hold record")
	ErrNotApproved    = errors.New("registry: caller may not move record")
)

type registryState interface {
	RegistryOwnerGet(id uint64) ([20]byte, bool, error)
	RegistryOwnerPut(id uint64, owner [20]byte) error
}

// TransferHook runs before a record changes hands. Returning an error
// vetoes the transfer.
type TransferHook func(from, to [20]byte, id uint64) error

// BalanceSource reports the value an account's balance is redefined as.
type BalanceSource interface {
	RemainingBalance(account [20]byte) (*big.Int, error)
}

// Registry is the ownership index of subscription records.
type Registry struct {
	state    registryState
	hook     TransferHook
	balances BalanceSource
}

// New constructs a registry over the supplied state.
func New(state registryState) *Registry {
	return &Registry{state: state}
}

// SetTransferHook installs the hook run before every transfer. Mints do not
// invoke it.
func (r *Registry) SetTransferHook(hook TransferHook) { r.hook = hook }

// SetBalanceSource configures where BalanceOf reads from.
func (r *Registry) SetBalanceSource(source BalanceSource) { r.balances = source }

// Mint assigns a fresh record to the account.
func (r *Registry) Mint(to [20]byte, id uint64) error {
	if r == nil || r.state == nil {
		return ErrNilState
	}
	if id == 0 {
		return ErrInvalidID
	}
	if to == ([20]byte{}) {
		return ErrZeroAccount
	}
	if _, exists, err := r.state.RegistryOwnerGet(id); err != nil {
		return err
	} else if exists {
		return ErrAlreadyMinted
	}
	return r.state.RegistryOwnerPut(id, to)
}

// Transfer moves record id from one holder to another. Only the holder may
// move its record.
func (r *Registry) Transfer(caller, from, to [20]byte, id uint64) error {
	if r == nil || r.state == nil {
		return ErrNilState
	}
	if to == ([20]byte{}) {
		return ErrZeroAccount
	}
	owner, ok, err := r.state.RegistryOwnerGet(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRecordNotFound
	}
	if owner != from {
		return ErrNotHolder
	}
	if caller != from {
		return ErrNotApproved
	}
	if r.hook != nil {
		if err := r.hook(from, to, id); err != nil {
			return err
		}
	}
	return r.state.RegistryOwnerPut(id, to)
}

// OwnerOf returns the holder of a record.
func (r *Registry) OwnerOf(id uint64) ([20]byte, bool, error) {
	if r == nil || r.state == nil {
		return [20]byte{}, false, ErrNilState
	}
	return r.state.RegistryOwnerGet(id)
}

// BalanceOf reports the account's remaining subscription seconds rather
// than a record count.
func (r *Registry) BalanceOf(account [20]byte) (*big.Int, error) {
	if r == nil || r.balances == nil {
		return big.NewInt(0), nil
	}
	return r.balances.RemainingBalance(account)
}
