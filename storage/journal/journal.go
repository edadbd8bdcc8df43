// Package journal persists ledger notifications as an append-only,
// hash-chained log.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"subledger/core/types"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	maxListLimit = 1000
)

var (
	ErrUnknownDriver = errors.New("journal: unknown driver")
	ErrNilEvent      = errors.New("journal: nil event")
	// ErrChainBroken reports an entry whose hash or link does not match its
	// predecessor.
	ErrChainBroken = errors.New("journal: hash chain broken")
)

// Entry is one persisted notification.
type Entry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Sequence   uint64    `gorm:"uniqueIndex;not null" json:"sequence"`
	Type       string    `gorm:"size:96;index" json:"type"`
	Attributes string    `gorm:"type:text" json:"attributes"`
	PrevHash   string    `gorm:"size:64" json:"prevHash"`
	Hash       string    `gorm:"size:64;uniqueIndex" json:"hash"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TableName pins the table name independent of the struct name.
func (Entry) TableName() string { return "ledger_journal" }

// Event decodes the entry back into its notification form.
func (e Entry) Event() (*types.Event, error) {
	attrs := map[string]string{}
	if e.Attributes != "" {
		if err := json.Unmarshal([]byte(e.Attributes), &attrs); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
	}
	return &types.Event{Type: e.Type, Attributes: attrs}, nil
}

// Journal appends notifications and verifies the chain linking them.
type Journal struct {
	db    *gorm.DB
	mu    sync.Mutex
	seq   uint64
	head  string
	nowFn func() time.Time
}

// Open connects to the configured backend. For sqlite the DSN may be a plain
// file path or ":memory:".
func Open(driver, dsn string) (*Journal, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		resolved, err := sqliteDSN(dsn)
		if err != nil {
			return nil, err
		}
		dialector = sqlite.Open(resolved)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return New(db)
}

func sqliteDSN(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	switch {
	case trimmed == "" || trimmed == ":memory:":
		return fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()), nil
	case strings.HasPrefix(trimmed, "file:"):
		return trimmed, nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve journal path: %w", err)
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", abs), nil
}

// New migrates the schema on an existing connection and loads the chain head.
func New(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal: nil database")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	j := &Journal{db: db, nowFn: time.Now}
	var last Entry
	err := db.Order("sequence desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("load journal head: %w", err)
	}
	if last.Sequence > 0 {
		j.seq = last.Sequence
		j.head = last.Hash
	}
	return j, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Head returns the latest sequence number and hash.
func (j *Journal) Head() (uint64, string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq, j.head
}

// Append persists the notification as the next link of the chain.
func (j *Journal) Append(ctx context.Context, evt *types.Event) (*Entry, error) {
	if evt == nil || strings.TrimSpace(evt.Type) == "" {
		return nil, ErrNilEvent
	}
	attrs := evt.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	// encoding/json sorts map keys, which keeps the hash input canonical.
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	entry := Entry{
		ID:         uuid.New(),
		Sequence:   j.seq + 1,
		Type:       evt.Type,
		Attributes: string(encoded),
		PrevHash:   j.head,
		CreatedAt:  j.nowFn().UTC(),
	}
	entry.Hash = hashEntry(entry)
	if err := j.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("append journal: %w", err)
	}
	j.seq = entry.Sequence
	j.head = entry.Hash
	return &entry, nil
}

// List returns up to limit entries with a sequence greater than after.
func (j *Journal) List(ctx context.Context, after uint64, limit int) ([]Entry, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	var entries []Entry
	err := j.db.WithContext(ctx).
		Where("sequence > ?", after).
		Order("sequence asc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	return entries, nil
}

// Verify walks the whole chain and reports the first broken link.
func (j *Journal) Verify(ctx context.Context) error {
	var (
		after uint64
		prev  string
	)
	for {
		batch, err := j.List(ctx, after, maxListLimit)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, entry := range batch {
			if entry.Sequence != after+1 {
				return fmt.Errorf("%w: expected sequence %d, found %d", ErrChainBroken, after+1, entry.Sequence)
			}
			if entry.PrevHash != prev {
				return fmt.Errorf("%w: sequence %d links to %q, want %q", ErrChainBroken, entry.Sequence, entry.PrevHash, prev)
			}
			if got := hashEntry(entry); got != entry.Hash {
				return fmt.Errorf("%w: sequence %d hash mismatch", ErrChainBroken, entry.Sequence)
			}
			after = entry.Sequence
			prev = entry.Hash
		}
	}
}

func hashEntry(e Entry) string {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], e.Sequence)
	h := blake3.New(32, nil)
	_, _ = h.Write([]byte(e.PrevHash))
	_, _ = h.Write(seq[:])
	writeDelimited(h, []byte(e.Type))
	writeDelimited(h, []byte(e.Attributes))
	return hex.EncodeToString(h.Sum(nil))
}

func writeDelimited(h *blake3.Hasher, data []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	_, _ = h.Write(length[:])
	_, _ = h.Write(data)
}
