package ledgerd

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"subledger/config"
	"subledger/core/events"
	"subledger/crypto"
	"subledger/native/subscription"
	"subledger/storage"
)

const genesis = int64(1_700_000_000)

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSink) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt.EventType())
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func testAccount(b byte) crypto.Address {
	var a crypto.Address
	a[0] = 0x77
	a[19] = b
	return a
}

var (
	owner = testAccount(1)
	buyer = testAccount(2)
	sink  = testAccount(9)
)

func ledgerConfig(asset string) *config.Config {
	cfg := &config.Config{
		Owner:              owner.String(),
		FeeRecipient:       owner.String(),
		RatePerSecond:      "1",
		MinPurchaseSeconds: 100,
		RewardBps:          500,
		RewardHalvings:     6,
		Asset:              asset,
		AssetSymbol:        config.DefaultAssetSymbol,
		DeployTime:         uint64(genesis),
		Allocations:        []config.Allocation{{Account: buyer.String(), Amount: "10000"}},
	}
	return cfg
}

func newService(t *testing.T, db storage.Database, cfg *config.Config, out events.Emitter) *Service {
	t.Helper()
	svc, err := New(Options{DB: db, Ledger: cfg, Sink: out, Now: func() int64 { return genesis }})
	require.NoError(t, err)
	return svc
}

func TestBootstrapSeedsAllocations(t *testing.T) {
	svc := newService(t, storage.NewMemDB(), ledgerConfig(config.AssetNative), nil)

	bal, err := svc.WalletBalance(buyer)
	require.NoError(t, err)
	require.Equal(t, "10000", bal.String())

	err = svc.View(func(e *subscription.Engine) error {
		params, err := e.Params()
		require.NoError(t, err)
		require.Equal(t, uint64(genesis), params.DeployTime)
		g, err := e.Globals()
		require.NoError(t, err)
		require.Equal(t, [20]byte(owner), g.Owner)
		return nil
	})
	require.NoError(t, err)
}

func TestCommittedStateSurvivesRestart(t *testing.T) {
	db := storage.NewMemDB()
	cfg := ledgerConfig(config.AssetNative)
	out := &recordingSink{}
	svc := newService(t, db, cfg, out)

	amount := big.NewInt(500)
	call := svc.Attach(buyer, amount)
	require.NoError(t, svc.Do(context.Background(), "purchase", func(e *subscription.Engine) error {
		_, err := e.Purchase(call, [20]byte{}, amount, nil)
		return err
	}))
	require.Contains(t, out.types(), events.TypePurchase)

	restarted := newService(t, db, cfg, nil)
	bal, err := restarted.WalletBalance(buyer)
	require.NoError(t, err)
	require.Equal(t, "9500", bal.String(), "allocations must not be replayed")

	require.NoError(t, restarted.View(func(e *subscription.Engine) error {
		view, err := e.Subscription(buyer)
		require.NoError(t, err)
		require.NotNil(t, view.Subscription)
		require.True(t, view.Active)
		return nil
	}))

	holder, ok, err := restarted.RecordOwner(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, [20]byte(buyer), holder)
}

func TestFailedOperationReleasesNothing(t *testing.T) {
	out := &recordingSink{}
	svc := newService(t, storage.NewMemDB(), ledgerConfig(config.AssetNative), out)

	boom := errors.New("boom")
	amount := big.NewInt(500)
	call := svc.Attach(buyer, amount)
	err := svc.Do(context.Background(), "purchase", func(e *subscription.Engine) error {
		if _, err := e.Purchase(call, [20]byte{}, amount, nil); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Empty(t, out.types())

	bal, err := svc.WalletBalance(buyer)
	require.NoError(t, err)
	require.Equal(t, "10000", bal.String())
	_, ok, err := svc.RecordOwner(1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCancelledContextIsRejected(t *testing.T) {
	svc := newService(t, storage.NewMemDB(), ledgerConfig(config.AssetNative), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := svc.Do(ctx, "pause", func(e *subscription.Engine) error {
		return e.Pause(svc.Attach(owner, nil))
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestTokenAssetPurchase(t *testing.T) {
	cfg := ledgerConfig(config.AssetToken)
	cfg.TokenFeeBps = 100
	cfg.TokenFeeSink = sink.String()
	svc := newService(t, storage.NewMemDB(), cfg, nil)
	require.Equal(t, config.AssetToken, svc.Asset())

	amount := big.NewInt(1000)
	call := svc.Attach(buyer, amount)
	require.Nil(t, call.Value)

	purchase := func(e *subscription.Engine) error {
		_, err := e.Purchase(call, [20]byte{}, amount, nil)
		return err
	}
	err := svc.Do(context.Background(), "purchase", purchase)
	require.Error(t, err)
	require.Equal(t, subscription.ClassInsufficient, subscription.ClassOf(err))

	require.NoError(t, svc.Approve(context.Background(), buyer, amount))
	require.NoError(t, svc.Do(context.Background(), "purchase", purchase))

	custody, err := svc.WalletBalance(svc.Custody())
	require.NoError(t, err)
	require.Equal(t, "990", custody.String())
	fee, err := svc.WalletBalance(sink)
	require.NoError(t, err)
	require.Equal(t, "10", fee.String())
	remaining, err := svc.WalletBalance(buyer)
	require.NoError(t, err)
	require.Equal(t, "9000", remaining.String())
}

func TestApproveRequiresTokenAsset(t *testing.T) {
	svc := newService(t, storage.NewMemDB(), ledgerConfig(config.AssetNative), nil)
	err := svc.Approve(context.Background(), buyer, big.NewInt(1))
	require.ErrorIs(t, err, ErrTokenAssetRequired)
}
