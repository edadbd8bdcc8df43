package registry

import (
	"errors"
	"math/big"
	"testing"
)

type memOwners map[uint64][20]byte

func (m memOwners) RegistryOwnerGet(id uint64) ([20]byte, bool, error) {
	owner, ok := m[id]
	return owner, ok, nil
}

func (m memOwners) RegistryOwnerPut(id uint64, owner [20]byte) error {
	m[id] = owner
	return nil
}

type fixedBalance struct{ value *big.Int }

func (f fixedBalance) RemainingBalance([20]byte) (*big.Int, error) { return f.value, nil }

func acct(b byte) [20]byte {
	var a [20]byte
	a[0] = b
	return a
}

func TestMintAndTransfer(t *testing.T) {
	reg := New(memOwners{})
	alice, bob := acct(1), acct(2)

	if err := reg.Mint(alice, 0); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected invalid id, got %v", err)
	}
	if err := reg.Mint(alice, 1); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := reg.Mint(bob, 1); !errors.Is(err, ErrAlreadyMinted) {
		t.Fatalf("expected duplicate mint rejection, got %v", err)
	}

	var hooked []uint64
	reg.SetTransferHook(func(from, to [20]byte, id uint64) error {
		hooked = append(hooked, id)
		return nil
	})
	if err := reg.Transfer(bob, alice, bob, 1); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("expected not approved, got %v", err)
	}
	if err := reg.Transfer(bob, bob, alice, 1); !errors.Is(err, ErrNotHolder) {
		t.Fatalf("expected not holder, got %v", err)
	}
	if err := reg.Transfer(alice, alice, bob, 2); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := reg.Transfer(alice, alice, bob, 1); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	owner, ok, _ := reg.OwnerOf(1)
	if !ok || owner != bob {
		t.Fatalf("record not moved")
	}
	if len(hooked) != 1 {
		t.Fatalf("hook should run exactly once, ran %d", len(hooked))
	}
}

func TestHookVetoesTransfer(t *testing.T) {
	reg := New(memOwners{})
	alice, bob := acct(1), acct(2)
	_ = reg.Mint(alice, 1)
	veto := errors.New("occupied")
	reg.SetTransferHook(func([20]byte, [20]byte, uint64) error { return veto })
	if err := reg.Transfer(alice, alice, bob, 1); !errors.Is(err, veto) {
		t.Fatalf("expected veto, got %v", err)
	}
	owner, _, _ := reg.OwnerOf(1)
	if owner != alice {
		t.Fatalf("vetoed transfer moved the record")
	}
}

func TestBalanceOfReportsRemainingSeconds(t *testing.T) {
	reg := New(memOwners{})
	if bal, _ := reg.BalanceOf(acct(1)); bal.Sign() != 0 {
		t.Fatalf("expected zero without a source")
	}
	reg.SetBalanceSource(fixedBalance{value: big.NewInt(3_600)})
	if bal, _ := reg.BalanceOf(acct(1)); bal.Cmp(big.NewInt(3_600)) != 0 {
		t.Fatalf("unexpected balance %s", bal)
	}
}
