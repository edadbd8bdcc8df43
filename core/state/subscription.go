package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"subledger/native/subscription"
)

var (
	subscriptionAccountPrefix  = []byte("subscription/account/")
	subscriptionReferralPrefix = []byte("subscription/referral/")
	subscriptionParamsKey      = []byte("subscription/params")
	subscriptionGlobalsKey     = []byte("subscription/globals")
	registryOwnerPrefix        = []byte("registry/owner/")
)

type storedSubscription struct {
	RecordID         uint64
	SecondsPurchased *big.Int
	SecondsGranted   *big.Int
	PurchaseOffset   uint64
	GrantOffset      uint64
	RewardPoints     *big.Int
	RewardsWithdrawn *big.Int
	LastSlashAt      uint64
}

type storedParams struct {
	RatePerSecond      *big.Int
	MinPurchaseSeconds uint64
	RewardBps          uint32
	RewardHalvings     uint32
	DeployTime         uint64
}

type storedGlobals struct {
	TotalIn            *big.Int
	TotalOut           *big.Int
	FeeBalance         *big.Int
	RewardPoolBalance  *big.Int
	RewardPoolTotal    *big.Int
	TotalPoints        *big.Int
	IssuedRecords      uint64
	SupplyCap          uint64
	FeeBps             uint32
	Owner              [20]byte
	FeeRecipient       [20]byte
	TransferRecipient  [20]byte
	ContractURI        string
	TokenURI           string
	// Appended after the first release; older records decode with it unset.
	RewardPoolLifetime *big.Int `rlp:"optional"`
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func subscriptionKey(addr [20]byte) []byte {
	return append(append([]byte(nil), subscriptionAccountPrefix...), addr[:]...)
}

func referralKey(code uint64) []byte {
	buf := append([]byte(nil), subscriptionReferralPrefix...)
	return binary.BigEndian.AppendUint64(buf, code)
}

func registryOwnerKey(id uint64) []byte {
	buf := append([]byte(nil), registryOwnerPrefix...)
	return binary.BigEndian.AppendUint64(buf, id)
}

// SubscriptionGet loads the record held by the account.
func (m *Manager) SubscriptionGet(addr [20]byte) (*subscription.Subscription, bool, error) {
	var stored storedSubscription
	ok, err := m.KVGet(subscriptionKey(addr), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &subscription.Subscription{
		RecordID:         stored.RecordID,
		SecondsPurchased: nonNil(stored.SecondsPurchased),
		SecondsGranted:   nonNil(stored.SecondsGranted),
		PurchaseOffset:   stored.PurchaseOffset,
		GrantOffset:      stored.GrantOffset,
		RewardPoints:     nonNil(stored.RewardPoints),
		RewardsWithdrawn: nonNil(stored.RewardsWithdrawn),
		LastSlashAt:      stored.LastSlashAt,
	}, true, nil
}

// SubscriptionPut persists the account's record.
func (m *Manager) SubscriptionPut(addr [20]byte, sub *subscription.Subscription) error {
	if sub == nil {
		return fmt.Errorf("subscription: record must not be nil")
	}
	if sub.RecordID == 0 {
		return fmt.Errorf("subscription: record id must be non-zero")
	}
	return m.KVPut(subscriptionKey(addr), &storedSubscription{
		RecordID:         sub.RecordID,
		SecondsPurchased: nonNil(sub.SecondsPurchased),
		SecondsGranted:   nonNil(sub.SecondsGranted),
		PurchaseOffset:   sub.PurchaseOffset,
		GrantOffset:      sub.GrantOffset,
		RewardPoints:     nonNil(sub.RewardPoints),
		RewardsWithdrawn: nonNil(sub.RewardsWithdrawn),
		LastSlashAt:      sub.LastSlashAt,
	})
}

// SubscriptionDelete clears the account's record.
func (m *Manager) SubscriptionDelete(addr [20]byte) error {
	return m.KVDelete(subscriptionKey(addr))
}

// SubscriptionParamsGet loads the deployment parameters.
func (m *Manager) SubscriptionParamsGet() (*subscription.Params, bool, error) {
	var stored storedParams
	ok, err := m.KVGet(subscriptionParamsKey, &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &subscription.Params{
		RatePerSecond:      nonNil(stored.RatePerSecond),
		MinPurchaseSeconds: stored.MinPurchaseSeconds,
		RewardBps:          stored.RewardBps,
		RewardHalvings:     stored.RewardHalvings,
		DeployTime:         stored.DeployTime,
	}, true, nil
}

// SubscriptionParamsPut persists the deployment parameters.
func (m *Manager) SubscriptionParamsPut(params *subscription.Params) error {
	if params == nil {
		return fmt.Errorf("subscription: params must not be nil")
	}
	return m.KVPut(subscriptionParamsKey, &storedParams{
		RatePerSecond:      nonNil(params.RatePerSecond),
		MinPurchaseSeconds: params.MinPurchaseSeconds,
		RewardBps:          params.RewardBps,
		RewardHalvings:     params.RewardHalvings,
		DeployTime:         params.DeployTime,
	})
}

// SubscriptionGlobalsGet loads the ledger-wide counters.
func (m *Manager) SubscriptionGlobalsGet() (*subscription.Globals, bool, error) {
	var stored storedGlobals
	ok, err := m.KVGet(subscriptionGlobalsKey, &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &subscription.Globals{
		TotalIn:            nonNil(stored.TotalIn),
		TotalOut:           nonNil(stored.TotalOut),
		FeeBalance:         nonNil(stored.FeeBalance),
		RewardPoolBalance:  nonNil(stored.RewardPoolBalance),
		RewardPoolTotal:    nonNil(stored.RewardPoolTotal),
		RewardPoolLifetime: nonNil(stored.RewardPoolLifetime),
		TotalPoints:        nonNil(stored.TotalPoints),
		IssuedRecords:      stored.IssuedRecords,
		SupplyCap:          stored.SupplyCap,
		FeeBps:             stored.FeeBps,
		Owner:              stored.Owner,
		FeeRecipient:       stored.FeeRecipient,
		TransferRecipient:  stored.TransferRecipient,
		ContractURI:        stored.ContractURI,
		TokenURI:           stored.TokenURI,
	}, true, nil
}

// SubscriptionGlobalsPut persists the ledger-wide counters.
func (m *Manager) SubscriptionGlobalsPut(g *subscription.Globals) error {
	if g == nil {
		return fmt.Errorf("subscription: globals must not be nil")
	}
	for _, v := range []*big.Int{g.TotalIn, g.TotalOut, g.FeeBalance, g.RewardPoolBalance, g.RewardPoolTotal, g.RewardPoolLifetime, g.TotalPoints} {
		if v != nil && v.Sign() < 0 {
			return fmt.Errorf("subscription: negative counter")
		}
	}
	return m.KVPut(subscriptionGlobalsKey, &storedGlobals{
		TotalIn:            nonNil(g.TotalIn),
		TotalOut:           nonNil(g.TotalOut),
		FeeBalance:         nonNil(g.FeeBalance),
		RewardPoolBalance:  nonNil(g.RewardPoolBalance),
		RewardPoolTotal:    nonNil(g.RewardPoolTotal),
		RewardPoolLifetime: nonNil(g.RewardPoolLifetime),
		TotalPoints:        nonNil(g.TotalPoints),
		IssuedRecords:      g.IssuedRecords,
		SupplyCap:          g.SupplyCap,
		FeeBps:             g.FeeBps,
		Owner:              g.Owner,
		FeeRecipient:       g.FeeRecipient,
		TransferRecipient:  g.TransferRecipient,
		ContractURI:        g.ContractURI,
		TokenURI:           g.TokenURI,
	})
}

// SubscriptionReferralGet returns the payout rate of a referral code, zero
// when the code does not exist.
func (m *Manager) SubscriptionReferralGet(code uint64) (uint32, error) {
	var bps uint32
	if _, err := m.KVGet(referralKey(code), &bps); err != nil {
		return 0, err
	}
	return bps, nil
}

// SubscriptionReferralPut stores the payout rate of a referral code. A zero
// rate removes the code.
func (m *Manager) SubscriptionReferralPut(code uint64, bps uint32) error {
	if bps == 0 {
		return m.KVDelete(referralKey(code))
	}
	return m.KVPut(referralKey(code), bps)
}

// RegistryOwnerGet returns the holder of an ownership record.
func (m *Manager) RegistryOwnerGet(id uint64) ([20]byte, bool, error) {
	var owner [20]byte
	ok, err := m.KVGet(registryOwnerKey(id), &owner)
	return owner, ok, err
}

// RegistryOwnerPut records the holder of an ownership record.
func (m *Manager) RegistryOwnerPut(id uint64, owner [20]byte) error {
	if id == 0 {
		return fmt.Errorf("registry: record id must be non-zero")
	}
	return m.KVPut(registryOwnerKey(id), owner)
}
