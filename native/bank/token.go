package bank

import (
	"fmt"
	"math/big"
)

type allowanceState interface {
	Allowance(owner, spender [20]byte, asset string) (*big.Int, error)
	SetAllowance(owner, spender [20]byte, asset string, amount *big.Int) error
}

type tokenState interface {
	balanceState
	allowanceState
}

// LedgerToken is a fungible token whose balances and allowances live in the
// ledger's own state. A non-zero transfer fee is withheld from every transfer
// and credited to the fee sink, which models assets that deduct their own fee.
type LedgerToken struct {
	state    tokenState
	symbol   string
	feeBps   uint32
	feeSink  [20]byte
	receiver Receiver
}

// NewLedgerToken constructs a token bound to the supplied state.
func NewLedgerToken(state tokenState, symbol string) *LedgerToken {
	return &LedgerToken{state: state, symbol: normalizeAsset(symbol)}
}

// SetTransferFee configures the fee withheld on each transfer.
func (t *LedgerToken) SetTransferFee(bps uint32, sink [20]byte) error {
	if bps > 10_000 {
		return fmt.Errorf("bank: transfer fee bps %d exceeds 10000", bps)
	}
	if bps > 0 && isZeroAddress(sink) {
		return fmt.Errorf("bank: transfer fee sink required")
	}
	t.feeBps = bps
	t.feeSink = sink
	return nil
}

// SetReceiver installs the hook invoked after tokens land in an account.
func (t *LedgerToken) SetReceiver(r Receiver) { t.receiver = r }

// Symbol returns the token symbol.
func (t *LedgerToken) Symbol() string { return t.symbol }

func (t *LedgerToken) ready() error {
	if t == nil || t.state == nil {
		return ErrNilState
	}
	return nil
}

// Mint credits new tokens to the account.
func (t *LedgerToken) Mint(to [20]byte, amount *big.Int) error {
	if err := t.ready(); err != nil {
		return err
	}
	if !positive(amount) {
		return ErrInvalidAmount
	}
	bal, err := t.state.Balance(to, t.symbol)
	if err != nil {
		return err
	}
	return t.state.SetBalance(to, t.symbol, new(big.Int).Add(bal, amount))
}

// BalanceOf implements Token.
func (t *LedgerToken) BalanceOf(addr [20]byte) (*big.Int, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	return t.state.Balance(addr, t.symbol)
}

// Approve sets the spender's allowance over the owner's tokens.
func (t *LedgerToken) Approve(owner, spender [20]byte, amount *big.Int) error {
	if err := t.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return t.state.SetAllowance(owner, spender, t.symbol, amount)
}

// Allowance reports how much spender may move on behalf of owner.
func (t *LedgerToken) Allowance(owner, spender [20]byte) (*big.Int, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	return t.state.Allowance(owner, spender, t.symbol)
}

// TransferFrom implements Token.
func (t *LedgerToken) TransferFrom(spender, owner, recipient [20]byte, amount *big.Int) error {
	if err := t.ready(); err != nil {
		return err
	}
	if !positive(amount) {
		return ErrInvalidAmount
	}
	allowance, err := t.state.Allowance(owner, spender, t.symbol)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := t.transfer(owner, recipient, amount); err != nil {
		return err
	}
	return t.state.SetAllowance(owner, spender, t.symbol, new(big.Int).Sub(allowance, amount))
}

// Transfer implements Token.
func (t *LedgerToken) Transfer(from, to [20]byte, amount *big.Int) error {
	if err := t.ready(); err != nil {
		return err
	}
	if !positive(amount) {
		return ErrInvalidAmount
	}
	return t.transfer(from, to, amount)
}

func (t *LedgerToken) transfer(from, to [20]byte, amount *big.Int) error {
	fee := big.NewInt(0)
	if t.feeBps > 0 {
		fee = new(big.Int).Mul(amount, big.NewInt(int64(t.feeBps)))
		fee.Quo(fee, big.NewInt(10_000))
	}
	delivered := new(big.Int).Sub(amount, fee)
	bal, err := t.state.Balance(from, t.symbol)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	if err := move(t.state, t.symbol, from, to, delivered); err != nil {
		return err
	}
	if fee.Sign() > 0 {
		if err := move(t.state, t.symbol, from, t.feeSink, fee); err != nil {
			return err
		}
	}
	if t.receiver != nil && delivered.Sign() > 0 {
		if err := t.receiver(to, new(big.Int).Set(delivered)); err != nil {
			return fmt.Errorf("%w: %v", ErrRecipientRejected, err)
		}
	}
	return nil
}
