package bank

import (
	"errors"
	"math/big"
	"testing"
)

type memState struct {
	balances   map[string]*big.Int
	allowances map[string]*big.Int
}

func newMemState() *memState {
	return &memState{balances: map[string]*big.Int{}, allowances: map[string]*big.Int{}}
}

func (m *memState) Balance(addr [20]byte, asset string) (*big.Int, error) {
	if bal, ok := m.balances[asset+string(addr[:])]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (m *memState) SetBalance(addr [20]byte, asset string, amount *big.Int) error {
	m.balances[asset+string(addr[:])] = new(big.Int).Set(amount)
	return nil
}

func (m *memState) Allowance(owner, spender [20]byte, asset string) (*big.Int, error) {
	if v, ok := m.allowances[asset+string(owner[:])+string(spender[:])]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (m *memState) SetAllowance(owner, spender [20]byte, asset string, amount *big.Int) error {
	m.allowances[asset+string(owner[:])+string(spender[:])] = new(big.Int).Set(amount)
	return nil
}

func addr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

func TestNativeGatewayRequiresExactValue(t *testing.T) {
	state := newMemState()
	custody, alice := addr(0xC0), addr(1)
	_ = state.SetBalance(alice, NativeAsset, big.NewInt(1_000))
	gw := NewNativeGateway(state, custody)

	if _, err := gw.PullIn(alice, big.NewInt(100), big.NewInt(99)); !errors.Is(err, ErrValueMismatch) {
		t.Fatalf("expected value mismatch, got %v", err)
	}
	got, err := gw.PullIn(alice, big.NewInt(100), big.NewInt(100))
	if err != nil {
		t.Fatalf("pull in: %v", err)
	}
	if got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected received amount %s", got)
	}
	bal, _ := state.Balance(custody, NativeAsset)
	if bal.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("custody balance %s", bal)
	}
	if _, err := gw.PullIn(alice, big.NewInt(5_000), big.NewInt(5_000)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if _, err := gw.PullIn(alice, big.NewInt(0), big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestNativeGatewayPushOutRejectedByRecipient(t *testing.T) {
	state := newMemState()
	custody, bob := addr(0xC0), addr(2)
	_ = state.SetBalance(custody, NativeAsset, big.NewInt(500))
	gw := NewNativeGateway(state, custody)
	gw.SetReceiver(func([20]byte, *big.Int) error { return errors.New("no thanks") })

	if err := gw.PushOut(bob, big.NewInt(200)); !errors.Is(err, ErrRecipientRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	custodyBal, _ := state.Balance(custody, NativeAsset)
	bobBal, _ := state.Balance(bob, NativeAsset)
	if custodyBal.Cmp(big.NewInt(500)) != 0 || bobBal.Sign() != 0 {
		t.Fatalf("rejected push must leave balances untouched: custody=%s bob=%s", custodyBal, bobBal)
	}
}

func TestNativeGatewayRejectsReentry(t *testing.T) {
	state := newMemState()
	custody, bob := addr(0xC0), addr(2)
	_ = state.SetBalance(custody, NativeAsset, big.NewInt(500))
	gw := NewNativeGateway(state, custody)
	var inner error
	gw.SetReceiver(func(to [20]byte, amount *big.Int) error {
		inner = gw.PushOut(to, amount)
		return nil
	})
	if err := gw.PushOut(bob, big.NewInt(100)); err != nil {
		t.Fatalf("push out: %v", err)
	}
	if !errors.Is(inner, ErrReentrantTransfer) {
		t.Fatalf("expected nested transfer to be rejected, got %v", inner)
	}
	bobBal, _ := state.Balance(bob, NativeAsset)
	if bobBal.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("bob balance %s", bobBal)
	}
}

func TestTokenGatewayMeasuresFeeOnTransfer(t *testing.T) {
	state := newMemState()
	custody, alice, sink := addr(0xC0), addr(1), addr(0xFE)
	token := NewLedgerToken(state, "usdx")
	if err := token.SetTransferFee(100, sink); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	if err := token.Mint(alice, big.NewInt(10_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	gw := NewTokenGateway(token, custody)

	if _, err := gw.PullIn(alice, big.NewInt(1_000), nil); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected allowance failure, got %v", err)
	}
	if err := token.Approve(alice, custody, big.NewInt(1_000)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := gw.PullIn(alice, big.NewInt(1_000), big.NewInt(1)); !errors.Is(err, ErrUnexpectedValue) {
		t.Fatalf("expected attached value rejection, got %v", err)
	}
	received, err := gw.PullIn(alice, big.NewInt(1_000), nil)
	if err != nil {
		t.Fatalf("pull in: %v", err)
	}
	if received.Cmp(big.NewInt(990)) != 0 {
		t.Fatalf("expected 990 after 1%% transfer fee, got %s", received)
	}
	left, _ := token.Allowance(alice, custody)
	if left.Sign() != 0 {
		t.Fatalf("allowance not consumed: %s", left)
	}
	sinkBal, _ := token.BalanceOf(sink)
	if sinkBal.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("fee sink balance %s", sinkBal)
	}
}

func TestTokenGatewayPushOut(t *testing.T) {
	state := newMemState()
	custody, bob := addr(0xC0), addr(2)
	token := NewLedgerToken(state, "USDX")
	_ = token.Mint(custody, big.NewInt(50))
	gw := NewTokenGateway(token, custody)
	if err := gw.PushOut(bob, big.NewInt(60)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if err := gw.PushOut(bob, big.NewInt(50)); err != nil {
		t.Fatalf("push out: %v", err)
	}
	bal, _ := token.BalanceOf(bob)
	if bal.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("bob balance %s", bal)
	}
}
