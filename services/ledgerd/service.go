package ledgerd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"subledger/config"
	"subledger/core/events"
	"subledger/core/state"
	"subledger/crypto"
	"subledger/native/bank"
	"subledger/native/registry"
	"subledger/native/subscription"
	"subledger/observability"
	"subledger/storage"
)

// ErrTokenAssetRequired is returned by token-only calls on a native ledger.
var ErrTokenAssetRequired = errors.New("ledgerd: operation requires the token asset")

// Options configures a Service.
type Options struct {
	DB     storage.Database
	Ledger *config.Config
	// Sink receives notifications after the operation that produced them
	// has been committed.
	Sink   events.Emitter
	Logger *slog.Logger
	Now    func() int64
}

// Service owns the ledger engine and serialises every call against it.
// Each successful mutation is committed to the database before its
// notifications are released.
type Service struct {
	mu       sync.Mutex
	manager  *state.Manager
	engine   *subscription.Engine
	registry *registry.Registry
	token    *bank.LedgerToken
	custody  [20]byte
	asset    string
	pending  *events.Buffer
	sink     events.Emitter
	logger   *slog.Logger
}

// New wires the state manager, gateway, registry and engine, initialising the
// ledger from the deployment config when the database is empty.
func New(opts Options) (*Service, error) {
	if opts.DB == nil {
		return nil, errors.New("ledgerd: database required")
	}
	if opts.Ledger == nil {
		return nil, errors.New("ledgerd: ledger config required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := opts.Sink
	if sink == nil {
		sink = events.NoopEmitter{}
	}
	custody, err := opts.Ledger.CustodyAccount()
	if err != nil {
		return nil, fmt.Errorf("custody: %w", err)
	}

	s := &Service{
		manager: state.NewManager(opts.DB),
		custody: custody,
		asset:   opts.Ledger.Asset,
		pending: &events.Buffer{},
		sink:    sink,
		logger:  logger,
	}
	s.registry = registry.New(s.manager)
	s.engine = subscription.NewEngine()
	s.engine.SetState(s.manager)
	s.engine.SetRegistry(s.registry)
	s.engine.SetEmitter(s.pending)
	if opts.Now != nil {
		s.engine.SetNowFunc(opts.Now)
	}
	s.registry.SetTransferHook(s.engine.BeforeRecordTransfer)
	s.registry.SetBalanceSource(s.engine)

	switch s.asset {
	case config.AssetToken:
		s.token = bank.NewLedgerToken(s.manager, opts.Ledger.AssetSymbol)
		if opts.Ledger.TokenFeeBps > 0 {
			sinkAddr, err := crypto.ParseAddress(opts.Ledger.TokenFeeSink)
			if err != nil {
				return nil, fmt.Errorf("token fee sink: %w", err)
			}
			if err := s.token.SetTransferFee(opts.Ledger.TokenFeeBps, sinkAddr); err != nil {
				return nil, err
			}
		}
		s.engine.SetGateway(bank.NewTokenGateway(s.token, custody))
	default:
		s.asset = config.AssetNative
		s.engine.SetGateway(bank.NewNativeGateway(s.manager, custody))
	}

	if err := s.bootstrap(opts.Ledger); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) bootstrap(cfg *config.Config) error {
	if _, err := s.engine.Params(); err == nil {
		return nil
	} else if !errors.Is(err, subscription.ErrNotInitialized) {
		return fmt.Errorf("load params: %w", err)
	}
	deployment, err := cfg.Deployment()
	if err != nil {
		return err
	}
	allocations, err := cfg.ParsedAllocations()
	if err != nil {
		return err
	}
	return s.apply(context.Background(), "initialize", func() error {
		if err := s.engine.Initialize(deployment); err != nil {
			return err
		}
		for _, alloc := range allocations {
			if err := s.credit(alloc.Account, alloc.Amount); err != nil {
				return fmt.Errorf("allocate %s: %w", alloc.Account, err)
			}
		}
		return nil
	})
}

func (s *Service) credit(account [20]byte, amount *big.Int) error {
	if s.token != nil {
		return s.token.Mint(account, amount)
	}
	current, err := s.manager.Balance(account, bank.NativeAsset)
	if err != nil {
		return err
	}
	return s.manager.SetBalance(account, bank.NativeAsset, new(big.Int).Add(current, amount))
}

// apply runs fn under the service lock, commits on success and releases the
// buffered notifications. Any failure discards both.
func (s *Service) apply(ctx context.Context, op string, fn func() error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(subscription.ClassOf(err))
		}
		observability.Ledger().ObserveOperation(op, outcome, time.Since(start))
	}()

	if err = fn(); err == nil {
		err = s.manager.Commit()
	}
	if err != nil {
		s.manager.Discard()
		s.pending.Discard()
		s.logger.Warn("ledger operation failed", "op", op, "class", string(subscription.ClassOf(err)), "error", err)
		return err
	}
	s.pending.Flush(s.sink)
	s.recordBalances()
	return nil
}

func (s *Service) recordBalances() {
	g, err := s.engine.Globals()
	if err != nil {
		return
	}
	observability.Ledger().RecordBalances(observability.LedgerSnapshot{
		Custody:       new(big.Int).Sub(g.TotalIn, g.TotalOut),
		FeeBalance:    g.FeeBalance,
		RewardPool:    g.RewardPoolBalance,
		TotalPoints:   g.TotalPoints,
		IssuedRecords: g.IssuedRecords,
		Paused:        s.engine.Paused(),
	})
}

// Do runs a mutating ledger call atomically. fn may issue several engine
// calls; they commit together or not at all.
func (s *Service) Do(ctx context.Context, op string, fn func(*subscription.Engine) error) error {
	return s.apply(ctx, op, func() error { return fn(s.engine) })
}

// View runs read-only engine calls under the service lock.
func (s *Service) View(fn func(*subscription.Engine) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.manager.Discard()
	return fn(s.engine)
}

// Attach builds the call context for caller, attaching amount as value when
// the ledger settles in the native unit.
func (s *Service) Attach(caller [20]byte, amount *big.Int) subscription.Call {
	call := subscription.Call{From: caller}
	if s.asset == config.AssetNative && amount != nil {
		call.Value = new(big.Int).Set(amount)
	}
	return call
}

// Asset reports "native" or "token".
func (s *Service) Asset() string { return s.asset }

// Custody returns the account holding ledger funds.
func (s *Service) Custody() [20]byte { return s.custody }

// WalletBalance reports the spendable balance of account in the ledger asset.
func (s *Service) WalletBalance(account [20]byte) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != nil {
		return s.token.BalanceOf(account)
	}
	return s.manager.Balance(account, bank.NativeAsset)
}

// Approve lets the ledger custody pull up to amount of the token from owner.
func (s *Service) Approve(ctx context.Context, owner [20]byte, amount *big.Int) error {
	if s.token == nil {
		return ErrTokenAssetRequired
	}
	return s.apply(ctx, "approve", func() error {
		return s.token.Approve(owner, s.custody, amount)
	})
}

// RecordOwner resolves the holder of a subscription record.
func (s *Service) RecordOwner(id uint64) ([20]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.OwnerOf(id)
}
