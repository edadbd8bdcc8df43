package state

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"subledger/storage"
)

// Manager is a write-back overlay over a key/value database. Writes collect
// in a dirty set until Commit; every write is journalled so a failed
// operation can be unwound to an earlier snapshot.
type Manager struct {
	db      storage.Database
	dirty   map[string][]byte
	journal []journalEntry
}

type journalEntry struct {
	key     string
	prev    []byte
	existed bool
}

// NewManager constructs a manager over the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[string][]byte)}
}

var (
	balancePrefix   = []byte("balance/")
	allowancePrefix = []byte("allowance/")
	pausePrefix     = []byte("pause/")
)

func balanceKey(addr [20]byte, symbol string) []byte {
	buf := make([]byte, 0, len(balancePrefix)+len(symbol)+1+len(addr))
	buf = append(buf, balancePrefix...)
	buf = append(buf, symbol...)
	buf = append(buf, '/')
	return append(buf, addr[:]...)
}

func allowanceKey(owner, spender [20]byte, symbol string) []byte {
	buf := make([]byte, 0, len(allowancePrefix)+len(symbol)+1+2*len(owner))
	buf = append(buf, allowancePrefix...)
	buf = append(buf, symbol...)
	buf = append(buf, '/')
	buf = append(buf, owner[:]...)
	return append(buf, spender[:]...)
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (m *Manager) get(hashed []byte) ([]byte, error) {
	if value, ok := m.dirty[string(hashed)]; ok {
		return value, nil
	}
	if m.db == nil {
		return nil, nil
	}
	value, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

func (m *Manager) set(hashed []byte, value []byte) {
	key := string(hashed)
	prev, existed := m.dirty[key]
	m.journal = append(m.journal, journalEntry{key: key, prev: prev, existed: existed})
	m.dirty[key] = value
}

// Snapshot returns an identifier for the current write position.
func (m *Manager) Snapshot() int {
	return len(m.journal)
}

// RevertToSnapshot undoes every write made after the snapshot was taken.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 {
		id = 0
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		entry := m.journal[i]
		if entry.existed {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	if id < len(m.journal) {
		m.journal = m.journal[:id]
	}
}

// Pending reports how many keys carry uncommitted writes.
func (m *Manager) Pending() int {
	return len(m.dirty)
}

// Commit flushes the dirty set to the database in one batch.
func (m *Manager) Commit() error {
	if len(m.dirty) == 0 {
		m.journal = m.journal[:0]
		return nil
	}
	if m.db == nil {
		return fmt.Errorf("state: database not configured")
	}
	if err := m.db.Write(m.dirty); err != nil {
		return err
	}
	m.Discard()
	return nil
}

// Discard drops all uncommitted writes.
func (m *Manager) Discard() {
	m.dirty = make(map[string][]byte)
	m.journal = m.journal[:0]
}

// KVPut stores an RLP-encoded value under the hashed key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.set(kvKey(key), encoded)
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.set(kvKey(key), nil)
	return nil
}

// SetBalance stores an account balance for the provided asset.
func (m *Manager) SetBalance(addr [20]byte, symbol string, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return fmt.Errorf("balance overflows 256 bits")
	}
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return fmt.Errorf("asset symbol must not be empty")
	}
	return m.KVPut(balanceKey(addr, normalized), amount)
}

// Balance retrieves an account balance for the provided asset.
func (m *Manager) Balance(addr [20]byte, symbol string) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(balanceKey(addr, normalizeSymbol(symbol)), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// SetAllowance records how much spender may move from owner's balance.
func (m *Manager) SetAllowance(owner, spender [20]byte, symbol string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return m.KVDelete(allowanceKey(owner, spender, normalizeSymbol(symbol)))
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative allowance not allowed")
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return fmt.Errorf("allowance overflows 256 bits")
	}
	return m.KVPut(allowanceKey(owner, spender, normalizeSymbol(symbol)), amount)
}

// Allowance returns the approved amount, zero when none.
func (m *Manager) Allowance(owner, spender [20]byte, symbol string) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(allowanceKey(owner, spender, normalizeSymbol(symbol)), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func pauseKey(module string) []byte {
	return append(append([]byte(nil), pausePrefix...), strings.ToLower(strings.TrimSpace(module))...)
}

// SetPaused toggles the pause flag of a module.
func (m *Manager) SetPaused(module string, paused bool) error {
	if strings.TrimSpace(module) == "" {
		return fmt.Errorf("pause: module must not be empty")
	}
	if !paused {
		return m.KVDelete(pauseKey(module))
	}
	return m.KVPut(pauseKey(module), true)
}

// IsPaused implements common.PauseView. Read failures report paused.
func (m *Manager) IsPaused(module string) bool {
	var paused bool
	ok, err := m.KVGet(pauseKey(module), &paused)
	if err != nil {
		return true
	}
	return ok && paused
}
