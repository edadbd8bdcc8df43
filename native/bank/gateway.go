package bank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	ErrNilState               = errors.New("bank: state not configured")
	ErrInvalidAmount          = errors.New("bank: amount must be positive")
	ErrValueMismatch          = errors.New("bank: attached value must equal amount")
	ErrUnexpectedValue        = errors.New("bank: value attached to token transfer")
	ErrInsufficientFunds      = errors.New("bank: insufficient balance")
	ErrInsufficientAllowance  = errors.New("bank: insufficient allowance")
	ErrNothingReceived        = errors.New("bank: transfer delivered nothing")
	ErrReentrantTransfer      = errors.New("bank: reentrant transfer")
	ErrBalanceOverflow        = errors.New("bank: balance overflow")
	ErrRecipientRejected      = errors.New("bank: recipient rejected transfer")
	errCustodyNotConfigured   = errors.New("bank: custody account not configured")
	errTokenNotConfigured     = errors.New("bank: token not configured")
	errRecipientNotConfigured = errors.New("bank: recipient required")
)

// NativeAsset is the balance key used for the chain's native value unit.
const NativeAsset = "NATIVE"

// Gateway moves value in and out of the ledger's custody.
type Gateway interface {
	// PullIn moves amount from the account into custody and returns what
	// custody actually received. attached is the value sent along with the
	// call, which native transfers require to match amount exactly.
	PullIn(from [20]byte, amount, attached *big.Int) (*big.Int, error)
	// PushOut moves amount from custody to the account.
	PushOut(to [20]byte, amount *big.Int) error
}

// Receiver runs after value lands in an account, standing in for code the
// recipient controls. Returning an error rejects the transfer.
type Receiver func(to [20]byte, amount *big.Int) error

type balanceState interface {
	Balance(addr [20]byte, asset string) (*big.Int, error)
	SetBalance(addr [20]byte, asset string, amount *big.Int) error
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

func isZeroAddress(addr [20]byte) bool {
	var zero [20]byte
	return addr == zero
}

func positive(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}

// move debits from and credits to inside the balance store.
func move(state balanceState, asset string, from, to [20]byte, amount *big.Int) error {
	fromBal, err := state.Balance(from, asset)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	if err := state.SetBalance(from, asset, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	toBal, err := state.Balance(to, asset)
	if err != nil {
		return err
	}
	if err := state.SetBalance(to, asset, new(big.Int).Add(toBal, amount)); err != nil {
		return err
	}
	return nil
}

// NativeGateway settles the native value unit against balances held in state.
type NativeGateway struct {
	state    balanceState
	custody  [20]byte
	asset    string
	receiver Receiver
	busy     bool
}

// NewNativeGateway constructs a gateway holding custody under the supplied
// account.
func NewNativeGateway(state balanceState, custody [20]byte) *NativeGateway {
	return &NativeGateway{state: state, custody: custody, asset: NativeAsset}
}

// SetReceiver installs the hook invoked after outbound transfers.
func (g *NativeGateway) SetReceiver(r Receiver) { g.receiver = r }

// Custody returns the account holding ledger funds.
func (g *NativeGateway) Custody() [20]byte { return g.custody }

func (g *NativeGateway) enter() error {
	if g == nil || g.state == nil {
		return ErrNilState
	}
	if isZeroAddress(g.custody) {
		return errCustodyNotConfigured
	}
	if g.busy {
		return ErrReentrantTransfer
	}
	g.busy = true
	return nil
}

func (g *NativeGateway) exit() { g.busy = false }

// PullIn implements Gateway.
func (g *NativeGateway) PullIn(from [20]byte, amount, attached *big.Int) (*big.Int, error) {
	if err := g.enter(); err != nil {
		return nil, err
	}
	defer g.exit()
	if !positive(amount) {
		return nil, ErrInvalidAmount
	}
	if attached == nil || attached.Cmp(amount) != 0 {
		return nil, ErrValueMismatch
	}
	if err := move(g.state, g.asset, from, g.custody, amount); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amount), nil
}

// PushOut implements Gateway.
func (g *NativeGateway) PushOut(to [20]byte, amount *big.Int) error {
	if err := g.enter(); err != nil {
		return err
	}
	defer g.exit()
	if !positive(amount) {
		return ErrInvalidAmount
	}
	if isZeroAddress(to) {
		return errRecipientNotConfigured
	}
	if err := move(g.state, g.asset, g.custody, to, amount); err != nil {
		return err
	}
	if g.receiver != nil {
		if err := g.receiver(to, new(big.Int).Set(amount)); err != nil {
			if undo := move(g.state, g.asset, to, g.custody, amount); undo != nil {
				return fmt.Errorf("%w: %v (undo failed: %v)", ErrRecipientRejected, err, undo)
			}
			return fmt.Errorf("%w: %v", ErrRecipientRejected, err)
		}
	}
	return nil
}

// Token is a fungible asset contract the ledger can hold in custody.
type Token interface {
	BalanceOf(addr [20]byte) (*big.Int, error)
	// TransferFrom moves amount from owner to recipient using spender's
	// allowance.
	TransferFrom(spender, owner, recipient [20]byte, amount *big.Int) error
	Transfer(from, to [20]byte, amount *big.Int) error
}

// TokenGateway settles an external fungible token. Inbound amounts are
// measured from the custody balance so tokens that deduct a fee on transfer
// are credited with what actually arrived.
type TokenGateway struct {
	token   Token
	custody [20]byte
	busy    bool
}

// NewTokenGateway constructs a gateway for the token held under custody.
func NewTokenGateway(token Token, custody [20]byte) *TokenGateway {
	return &TokenGateway{token: token, custody: custody}
}

// Custody returns the account holding ledger funds.
func (g *TokenGateway) Custody() [20]byte { return g.custody }

func (g *TokenGateway) enter() error {
	if g == nil || g.token == nil {
		return errTokenNotConfigured
	}
	if isZeroAddress(g.custody) {
		return errCustodyNotConfigured
	}
	if g.busy {
		return ErrReentrantTransfer
	}
	g.busy = true
	return nil
}

func (g *TokenGateway) exit() { g.busy = false }

// PullIn implements Gateway.
func (g *TokenGateway) PullIn(from [20]byte, amount, attached *big.Int) (*big.Int, error) {
	if err := g.enter(); err != nil {
		return nil, err
	}
	defer g.exit()
	if !positive(amount) {
		return nil, ErrInvalidAmount
	}
	if attached != nil && attached.Sign() != 0 {
		return nil, ErrUnexpectedValue
	}
	before, err := g.token.BalanceOf(g.custody)
	if err != nil {
		return nil, err
	}
	if err := g.token.TransferFrom(g.custody, from, g.custody, amount); err != nil {
		return nil, err
	}
	after, err := g.token.BalanceOf(g.custody)
	if err != nil {
		return nil, err
	}
	received := new(big.Int).Sub(after, before)
	if received.Sign() <= 0 {
		return nil, ErrNothingReceived
	}
	return received, nil
}

// PushOut implements Gateway.
func (g *TokenGateway) PushOut(to [20]byte, amount *big.Int) error {
	if err := g.enter(); err != nil {
		return err
	}
	defer g.exit()
	if !positive(amount) {
		return ErrInvalidAmount
	}
	if isZeroAddress(to) {
		return errRecipientNotConfigured
	}
	return g.token.Transfer(g.custody, to, amount)
}
