package subscription

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"subledger/core/events"
	"subledger/native/bank"
	"subledger/native/common"
)

type engineState interface {
	SubscriptionGet(addr [20]byte) (*Subscription, bool, error)
	SubscriptionPut(addr [20]byte, sub *Subscription) error
	SubscriptionDelete(addr [20]byte) error
	SubscriptionParamsGet() (*Params, bool, error)
	SubscriptionParamsPut(params *Params) error
	SubscriptionGlobalsGet() (*Globals, bool, error)
	SubscriptionGlobalsPut(globals *Globals) error
	SubscriptionReferralGet(code uint64) (uint32, error)
	SubscriptionReferralPut(code uint64, bps uint32) error
	IsPaused(module string) bool
	SetPaused(module string, paused bool) error
	Snapshot() int
	RevertToSnapshot(id int)
}

// Registry records which account holds each subscription record.
type Registry interface {
	Mint(to [20]byte, id uint64) error
	// Transfer moves a record, invoking the ledger's transfer hook before the
	// owner index changes.
	Transfer(caller, from, to [20]byte, id uint64) error
	OwnerOf(id uint64) ([20]byte, bool, error)
}

// Engine runs the subscription ledger. Calls are not safe for concurrent use;
// callers serialize them.
type Engine struct {
	state    engineState
	gateway  bank.Gateway
	registry Registry
	emitter  events.Emitter
	nowFn    func() int64

	lastNow      uint64
	entered      bool
	transferring bool
	pending      *events.Buffer
}

// NewEngine constructs a subscription engine with default dependencies.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn: func() int64 {
			return time.Now().Unix()
		},
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetGateway configures the value transfer boundary.
func (e *Engine) SetGateway(gateway bank.Gateway) { e.gateway = gateway }

// SetRegistry configures the ownership record registry.
func (e *Engine) SetRegistry(registry Registry) { e.registry = registry }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// peekNow reads the clock without advancing the observed high-water mark.
func (e *Engine) peekNow() uint64 {
	var raw int64
	if e.nowFn != nil {
		raw = e.nowFn()
	} else {
		raw = time.Now().Unix()
	}
	if raw < 0 {
		raw = 0
	}
	now := uint64(raw)
	if now < e.lastNow {
		return e.lastNow
	}
	return now
}

func (e *Engine) tick() uint64 {
	now := e.peekNow()
	e.lastNow = now
	return now
}

func (e *Engine) emit(evt events.Event) {
	if e.pending != nil {
		e.pending.Emit(evt)
		return
	}
	if e.emitter != nil {
		e.emitter.Emit(evt)
	}
}

// execute runs fn as one atomic ledger operation: nested entry is rejected,
// state written by fn is reverted on failure and events are only released
// once fn succeeds.
func (e *Engine) execute(fn func(now uint64) error) (err error) {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.entered {
		return ErrReentrantCall
	}
	e.entered = true
	now := e.tick()
	snapshot := e.state.Snapshot()
	buf := &events.Buffer{}
	e.pending = buf
	defer func() {
		e.pending = nil
		e.entered = false
		if r := recover(); r != nil {
			e.state.RevertToSnapshot(snapshot)
			buf.Discard()
			panic(r)
		}
		if err != nil {
			e.state.RevertToSnapshot(snapshot)
			buf.Discard()
			return
		}
		buf.Flush(e.emitter)
	}()
	return fn(now)
}

func (e *Engine) load() (*Params, *Globals, error) {
	params, ok, err := e.state.SubscriptionParamsGet()
	if err != nil {
		return nil, nil, err
	}
	if !ok || params == nil {
		return nil, nil, ErrNotInitialized
	}
	globals, ok, err := e.state.SubscriptionGlobalsGet()
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrNotInitialized
	}
	return params, ensureGlobals(globals), nil
}

func (e *Engine) loadSubscription(addr [20]byte) (*Subscription, bool, error) {
	sub, ok, err := e.state.SubscriptionGet(addr)
	if err != nil || !ok {
		return nil, false, err
	}
	return ensureSubscription(sub), true, nil
}

func (e *Engine) requireOwner(call Call, g *Globals) error {
	if isZeroAddress(call.From) || call.From != g.Owner {
		return ErrUnauthorized
	}
	return nil
}

// pullIn moves value into custody through the gateway.
func (e *Engine) pullIn(from [20]byte, amount, attached *big.Int) (*big.Int, error) {
	if e.gateway == nil {
		return nil, errNilGateway
	}
	received, err := e.gateway.PullIn(from, amount, attached)
	if err != nil {
		return nil, wrapTransferError(err)
	}
	if received == nil || received.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, bank.ErrNothingReceived)
	}
	return received, nil
}

// pushOut sends value out of custody. All ledger state must already be
// written when it is called.
func (e *Engine) pushOut(to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if e.gateway == nil {
		return errNilGateway
	}
	if err := e.gateway.PushOut(to, new(big.Int).Set(amount)); err != nil {
		return wrapTransferError(err)
	}
	return nil
}

func wrapTransferError(err error) error {
	if errors.Is(err, bank.ErrInsufficientFunds) || errors.Is(err, bank.ErrInsufficientAllowance) {
		return fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
	}
	return fmt.Errorf("%w: %w", ErrTransferFailed, err)
}

// Initialize stores the deployment configuration. It can only run once.
func (e *Engine) Initialize(d Deployment) error {
	return e.execute(func(now uint64) error {
		if _, ok, err := e.state.SubscriptionParamsGet(); err != nil {
			return err
		} else if ok {
			return ErrAlreadyInitialized
		}
		if err := d.Validate(); err != nil {
			return err
		}
		deployTime := d.DeployTime
		if deployTime == 0 {
			deployTime = now
		}
		params := &Params{
			RatePerSecond:      newBigInt(d.RatePerSecond),
			MinPurchaseSeconds: d.MinPurchaseSeconds,
			RewardBps:          d.RewardBps,
			RewardHalvings:     d.RewardHalvings,
			DeployTime:         deployTime,
		}
		globals := ensureGlobals(&Globals{
			SupplyCap:    d.SupplyCap,
			FeeBps:       d.FeeBps,
			Owner:        d.Owner,
			FeeRecipient: d.FeeRecipient,
			ContractURI:  d.ContractURI,
			TokenURI:     d.TokenURI,
		})
		if err := e.state.SubscriptionParamsPut(params); err != nil {
			return err
		}
		return e.state.SubscriptionGlobalsPut(globals)
	})
}

// Validate rejects malformed deployment configuration.
func (d Deployment) Validate() error {
	switch {
	case isZeroAddress(d.Owner):
		return fmt.Errorf("%w: owner required", ErrInvalidConfig)
	case d.RatePerSecond == nil || d.RatePerSecond.Sign() <= 0:
		return fmt.Errorf("%w: rate per second must be positive", ErrInvalidConfig)
	case !fitsWord(d.RatePerSecond):
		return fmt.Errorf("%w: rate per second exceeds 256 bits", ErrInvalidConfig)
	case d.MinPurchaseSeconds == 0:
		return fmt.Errorf("%w: minimum purchase seconds must be positive", ErrInvalidConfig)
	case d.FeeBps > maxFeeBps:
		return fmt.Errorf("%w: fee bps %d exceeds %d", ErrInvalidConfig, d.FeeBps, maxFeeBps)
	case d.RewardBps > bpsDenominator:
		return fmt.Errorf("%w: reward bps %d exceeds %d", ErrInvalidConfig, d.RewardBps, bpsDenominator)
	case d.FeeBps+d.RewardBps > bpsDenominator:
		return fmt.Errorf("%w: fee and reward bps exceed %d", ErrInvalidConfig, bpsDenominator)
	case d.RewardHalvings > maxRewardHalvings:
		return fmt.Errorf("%w: reward halvings %d exceeds %d", ErrInvalidConfig, d.RewardHalvings, maxRewardHalvings)
	case d.FeeBps > 0 && isZeroAddress(d.FeeRecipient):
		return fmt.Errorf("%w: fee recipient required when fees are enabled", ErrInvalidConfig)
	}
	return nil
}

// purchasesOpen reports ErrPaused when the module pause flag is set.
func (e *Engine) purchasesOpen() error {
	if err := common.Guard(e.state, ModuleName); err != nil {
		return fmt.Errorf("%w: %w", ErrPaused, err)
	}
	return nil
}

// openRecord returns the account's subscription, minting a new record when
// the account has none.
func (e *Engine) openRecord(account [20]byte, g *Globals) (*Subscription, error) {
	sub, ok, err := e.loadSubscription(account)
	if err != nil {
		return nil, err
	}
	if ok {
		return sub, nil
	}
	if e.registry == nil {
		return nil, errNilRegistry
	}
	if g.SupplyCap > 0 && g.IssuedRecords >= g.SupplyCap {
		return nil, ErrSupplyCapReached
	}
	g.IssuedRecords++
	sub = newSubscription(g.IssuedRecords)
	if err := e.registry.Mint(account, sub.RecordID); err != nil {
		return nil, err
	}
	return sub, nil
}
