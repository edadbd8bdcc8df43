package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"subledger/core/types"
)

const (
	// TypePurchase marks time bought with value.
	TypePurchase = "subscription.purchase"
	// TypeGrant marks time gifted by the creator.
	TypeGrant = "subscription.grant"
	// TypeRefund marks purchased time returned as value.
	TypeRefund = "subscription.refund"
	// TypeWithdraw marks a creator balance payout.
	TypeWithdraw = "subscription.withdraw"
	// TypeFeeAllocated marks the protocol share carved from a withdrawal.
	TypeFeeAllocated = "subscription.fee.allocated"
	// TypeFeeTransferred marks the fee balance paid to the fee recipient.
	TypeFeeTransferred = "subscription.fee.transferred"
	// TypeRewardPoolAllocated marks the reward share carved from a withdrawal.
	TypeRewardPoolAllocated = "subscription.rewards.allocated"
	// TypeRewardWithdrawn marks a holder claiming from the reward pool.
	TypeRewardWithdrawn = "subscription.rewards.withdrawn"
	// TypeRewardPointsSlashed marks points burned from a lapsed holder.
	TypeRewardPointsSlashed = "subscription.rewards.slashed"
	// TypeRewardPoolReleased marks the pool falling back to the creator once no
	// points remain outstanding.
	TypeRewardPoolReleased = "subscription.rewards.released"
	// TypeReferralPayout marks an instant referral payment.
	TypeReferralPayout = "subscription.referral.payout"
	// TypeReferralCodeCreated marks a new referral code.
	TypeReferralCodeCreated = "subscription.referral.created"
	// TypeReferralCodeDestroyed marks a removed referral code.
	TypeReferralCodeDestroyed = "subscription.referral.destroyed"
	// TypeSupplyCapChanged marks a new account cap.
	TypeSupplyCapChanged = "subscription.supply_cap.changed"
	// TypeTransferRecipientChanged marks a new sponsored payout recipient.
	TypeTransferRecipientChanged = "subscription.transfer_recipient.changed"
	// TypeRecordTransferred marks an ownership record moving between accounts.
	TypeRecordTransferred = "subscription.record.transferred"
	// TypePauseChanged marks purchases being paused or resumed.
	TypePauseChanged = "subscription.pause.changed"
	// TypeRoleChanged marks an owner or fee recipient reassignment.
	TypeRoleChanged = "subscription.role.changed"
	// TypeMetadataUpdated marks new metadata pointers.
	TypeMetadataUpdated = "subscription.metadata.updated"
)

func addrHex(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func unixString(ts uint64) string {
	return strconv.FormatUint(ts, 10)
}

// Purchase is emitted when value is converted into access time.
type Purchase struct {
	Payer        [20]byte
	Account      [20]byte
	RecordID     uint64
	Amount       *big.Int
	Seconds      *big.Int
	RewardPoints *big.Int
	ExpiresAt    *big.Int
}

// EventType satisfies the events.Event interface.
func (Purchase) EventType() string { return TypePurchase }

// Event converts the structured payload into a broadcastable event.
func (e Purchase) Event() *types.Event {
	return &types.Event{Type: TypePurchase, Attributes: map[string]string{
		"payer":        addrHex(e.Payer),
		"account":      addrHex(e.Account),
		"recordId":     strconv.FormatUint(e.RecordID, 10),
		"amount":       amountString(e.Amount),
		"seconds":      amountString(e.Seconds),
		"rewardPoints": amountString(e.RewardPoints),
		"expiresAt":    amountString(e.ExpiresAt),
	}}
}

// Grant is emitted when the creator gifts time.
type Grant struct {
	Account   [20]byte
	RecordID  uint64
	Seconds   *big.Int
	ExpiresAt *big.Int
}

// EventType satisfies the events.Event interface.
func (Grant) EventType() string { return TypeGrant }

// Event converts the structured payload into a broadcastable event.
func (e Grant) Event() *types.Event {
	return &types.Event{Type: TypeGrant, Attributes: map[string]string{
		"account":   addrHex(e.Account),
		"recordId":  strconv.FormatUint(e.RecordID, 10),
		"seconds":   amountString(e.Seconds),
		"expiresAt": amountString(e.ExpiresAt),
	}}
}

// Refund is emitted for each refunded account.
type Refund struct {
	Account   [20]byte
	Amount    *big.Int
	Seconds   *big.Int
	ExpiresAt *big.Int
}

// EventType satisfies the events.Event interface.
func (Refund) EventType() string { return TypeRefund }

// Event converts the structured payload into a broadcastable event.
func (e Refund) Event() *types.Event {
	return &types.Event{Type: TypeRefund, Attributes: map[string]string{
		"account":   addrHex(e.Account),
		"amount":    amountString(e.Amount),
		"seconds":   amountString(e.Seconds),
		"expiresAt": amountString(e.ExpiresAt),
	}}
}

// Withdraw is emitted when creator balance leaves custody.
type Withdraw struct {
	To    [20]byte
	Gross *big.Int
	Net   *big.Int
}

// EventType satisfies the events.Event interface.
func (Withdraw) EventType() string { return TypeWithdraw }

// Event converts the structured payload into a broadcastable event.
func (e Withdraw) Event() *types.Event {
	return &types.Event{Type: TypeWithdraw, Attributes: map[string]string{
		"to":    addrHex(e.To),
		"gross": amountString(e.Gross),
		"net":   amountString(e.Net),
	}}
}

// FeeAllocated is emitted when the protocol share is carved.
type FeeAllocated struct {
	Amount     *big.Int
	FeeBalance *big.Int
}

// EventType satisfies the events.Event interface.
func (FeeAllocated) EventType() string { return TypeFeeAllocated }

// Event converts the structured payload into a broadcastable event.
func (e FeeAllocated) Event() *types.Event {
	return &types.Event{Type: TypeFeeAllocated, Attributes: map[string]string{
		"amount":     amountString(e.Amount),
		"feeBalance": amountString(e.FeeBalance),
	}}
}

// FeeTransferred is emitted when the fee balance is paid out.
type FeeTransferred struct {
	Recipient [20]byte
	Amount    *big.Int
}

// EventType satisfies the events.Event interface.
func (FeeTransferred) EventType() string { return TypeFeeTransferred }

// Event converts the structured payload into a broadcastable event.
func (e FeeTransferred) Event() *types.Event {
	return &types.Event{Type: TypeFeeTransferred, Attributes: map[string]string{
		"recipient": addrHex(e.Recipient),
		"amount":    amountString(e.Amount),
	}}
}

// RewardPoolAllocated is emitted when the reward share is carved.
type RewardPoolAllocated struct {
	Amount      *big.Int
	PoolBalance *big.Int
	PoolTotal   *big.Int
	Lifetime    *big.Int
}

// EventType satisfies the events.Event interface.
func (RewardPoolAllocated) EventType() string { return TypeRewardPoolAllocated }

// Event converts the structured payload into a broadcastable event.
func (e RewardPoolAllocated) Event() *types.Event {
	return &types.Event{Type: TypeRewardPoolAllocated, Attributes: map[string]string{
		"amount":      amountString(e.Amount),
		"poolBalance": amountString(e.PoolBalance),
		"poolTotal":   amountString(e.PoolTotal),
		"lifetime":    amountString(e.Lifetime),
	}}
}

// RewardWithdrawn is emitted when a holder claims rewards.
type RewardWithdrawn struct {
	Account          [20]byte
	Amount           *big.Int
	RewardsWithdrawn *big.Int
	PoolBalance      *big.Int
}

// EventType satisfies the events.Event interface.
func (RewardWithdrawn) EventType() string { return TypeRewardWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e RewardWithdrawn) Event() *types.Event {
	return &types.Event{Type: TypeRewardWithdrawn, Attributes: map[string]string{
		"account":          addrHex(e.Account),
		"amount":           amountString(e.Amount),
		"rewardsWithdrawn": amountString(e.RewardsWithdrawn),
		"poolBalance":      amountString(e.PoolBalance),
	}}
}

// RewardPointsSlashed is emitted when a lapsed holder loses points.
type RewardPointsSlashed struct {
	Slasher         [20]byte
	Account         [20]byte
	Points          *big.Int
	RemainingPoints *big.Int
	TotalPoints     *big.Int
	SlashedAt       uint64
}

// EventType satisfies the events.Event interface.
func (RewardPointsSlashed) EventType() string { return TypeRewardPointsSlashed }

// Event converts the structured payload into a broadcastable event.
func (e RewardPointsSlashed) Event() *types.Event {
	return &types.Event{Type: TypeRewardPointsSlashed, Attributes: map[string]string{
		"slasher":         addrHex(e.Slasher),
		"account":         addrHex(e.Account),
		"points":          amountString(e.Points),
		"remainingPoints": amountString(e.RemainingPoints),
		"totalPoints":     amountString(e.TotalPoints),
		"slashedAt":       unixString(e.SlashedAt),
	}}
}

// RewardPoolReleased is emitted when an unattributable pool returns to the
// creator balance.
type RewardPoolReleased struct {
	Amount *big.Int
}

// EventType satisfies the events.Event interface.
func (RewardPoolReleased) EventType() string { return TypeRewardPoolReleased }

// Event converts the structured payload into a broadcastable event.
func (e RewardPoolReleased) Event() *types.Event {
	return &types.Event{Type: TypeRewardPoolReleased, Attributes: map[string]string{
		"amount": amountString(e.Amount),
	}}
}

// ReferralPayout is emitted when a referrer is paid from a purchase.
type ReferralPayout struct {
	Account  [20]byte
	Referrer [20]byte
	Code     uint64
	Amount   *big.Int
}

// EventType satisfies the events.Event interface.
func (ReferralPayout) EventType() string { return TypeReferralPayout }

// Event converts the structured payload into a broadcastable event.
func (e ReferralPayout) Event() *types.Event {
	return &types.Event{Type: TypeReferralPayout, Attributes: map[string]string{
		"account":  addrHex(e.Account),
		"referrer": addrHex(e.Referrer),
		"code":     strconv.FormatUint(e.Code, 10),
		"amount":   amountString(e.Amount),
	}}
}

// ReferralCode is emitted when a code is created or destroyed.
type ReferralCode struct {
	Code      uint64
	Bps       uint32
	Destroyed bool
}

// EventType satisfies the events.Event interface.
func (e ReferralCode) EventType() string {
	if e.Destroyed {
		return TypeReferralCodeDestroyed
	}
	return TypeReferralCodeCreated
}

// Event converts the structured payload into a broadcastable event.
func (e ReferralCode) Event() *types.Event {
	return &types.Event{Type: e.EventType(), Attributes: map[string]string{
		"code": strconv.FormatUint(e.Code, 10),
		"bps":  strconv.FormatUint(uint64(e.Bps), 10),
	}}
}

// SupplyCapChanged is emitted when the account cap changes.
type SupplyCapChanged struct {
	Cap uint64
}

// EventType satisfies the events.Event interface.
func (SupplyCapChanged) EventType() string { return TypeSupplyCapChanged }

// Event converts the structured payload into a broadcastable event.
func (e SupplyCapChanged) Event() *types.Event {
	return &types.Event{Type: TypeSupplyCapChanged, Attributes: map[string]string{
		"supplyCap": strconv.FormatUint(e.Cap, 10),
	}}
}

// TransferRecipientChanged is emitted when the sponsored recipient changes.
type TransferRecipientChanged struct {
	Recipient [20]byte
}

// EventType satisfies the events.Event interface.
func (TransferRecipientChanged) EventType() string { return TypeTransferRecipientChanged }

// Event converts the structured payload into a broadcastable event.
func (e TransferRecipientChanged) Event() *types.Event {
	return &types.Event{Type: TypeTransferRecipientChanged, Attributes: map[string]string{
		"recipient": addrHex(e.Recipient),
	}}
}

// RecordTransferred is emitted when a subscription moves to a new holder.
type RecordTransferred struct {
	From     [20]byte
	To       [20]byte
	RecordID uint64
}

// EventType satisfies the events.Event interface.
func (RecordTransferred) EventType() string { return TypeRecordTransferred }

// Event converts the structured payload into a broadcastable event.
func (e RecordTransferred) Event() *types.Event {
	return &types.Event{Type: TypeRecordTransferred, Attributes: map[string]string{
		"from":     addrHex(e.From),
		"to":       addrHex(e.To),
		"recordId": strconv.FormatUint(e.RecordID, 10),
	}}
}

// PauseChanged is emitted when purchases are paused or resumed.
type PauseChanged struct {
	Paused bool
}

// EventType satisfies the events.Event interface.
func (PauseChanged) EventType() string { return TypePauseChanged }

// Event converts the structured payload into a broadcastable event.
func (e PauseChanged) Event() *types.Event {
	return &types.Event{Type: TypePauseChanged, Attributes: map[string]string{
		"paused": strconv.FormatBool(e.Paused),
	}}
}

// RoleChanged is emitted when an identity-gated role is reassigned.
type RoleChanged struct {
	Role   string
	Holder [20]byte
	FeeBps uint32
}

// EventType satisfies the events.Event interface.
func (RoleChanged) EventType() string { return TypeRoleChanged }

// Event converts the structured payload into a broadcastable event.
func (e RoleChanged) Event() *types.Event {
	return &types.Event{Type: TypeRoleChanged, Attributes: map[string]string{
		"role":   e.Role,
		"holder": addrHex(e.Holder),
		"feeBps": strconv.FormatUint(uint64(e.FeeBps), 10),
	}}
}

// MetadataUpdated is emitted when metadata pointers change.
type MetadataUpdated struct {
	ContractURI string
	TokenURI    string
}

// EventType satisfies the events.Event interface.
func (MetadataUpdated) EventType() string { return TypeMetadataUpdated }

// Event converts the structured payload into a broadcastable event.
func (e MetadataUpdated) Event() *types.Event {
	return &types.Event{Type: TypeMetadataUpdated, Attributes: map[string]string{
		"contractUri": e.ContractURI,
		"tokenUri":    e.TokenURI,
	}}
}
