package subscription

import "math/big"

// ModuleName identifies the ledger in pause views and metrics.
const ModuleName = "subscription"

// Subscription is the per-account record of access time and reward entitlement.
// Remaining time is derived lazily from the offsets: each offset equals the
// moment the corresponding accumulator would have started counting down had it
// been bought in one piece, so remaining = offset + accumulator - now.
type Subscription struct {
	RecordID         uint64   `json:"recordId"`
	SecondsPurchased *big.Int `json:"secondsPurchased"`
	SecondsGranted   *big.Int `json:"secondsGranted"`
	PurchaseOffset   uint64   `json:"purchaseOffset"`
	GrantOffset      uint64   `json:"grantOffset"`
	RewardPoints     *big.Int `json:"rewardPoints"`
	// RewardsWithdrawn counts pool value already paid out plus the debt
	// attached to points at mint time.
	RewardsWithdrawn *big.Int `json:"rewardsWithdrawn"`
	LastSlashAt      uint64   `json:"lastSlashAt"`
}

// Clone returns a deep copy of the subscription.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	clone := *s
	clone.SecondsPurchased = newBigInt(s.SecondsPurchased)
	clone.SecondsGranted = newBigInt(s.SecondsGranted)
	clone.RewardPoints = newBigInt(s.RewardPoints)
	clone.RewardsWithdrawn = newBigInt(s.RewardsWithdrawn)
	return &clone
}

func newSubscription(id uint64) *Subscription {
	return &Subscription{
		RecordID:         id,
		SecondsPurchased: big.NewInt(0),
		SecondsGranted:   big.NewInt(0),
		RewardPoints:     big.NewInt(0),
		RewardsWithdrawn: big.NewInt(0),
	}
}

func ensureSubscription(s *Subscription) *Subscription {
	if s == nil {
		return nil
	}
	if s.SecondsPurchased == nil {
		s.SecondsPurchased = big.NewInt(0)
	}
	if s.SecondsGranted == nil {
		s.SecondsGranted = big.NewInt(0)
	}
	if s.RewardPoints == nil {
		s.RewardPoints = big.NewInt(0)
	}
	if s.RewardsWithdrawn == nil {
		s.RewardsWithdrawn = big.NewInt(0)
	}
	return s
}

// Params are fixed at deployment.
type Params struct {
	RatePerSecond      *big.Int `json:"ratePerSecond"`
	MinPurchaseSeconds uint64   `json:"minPurchaseSeconds"`
	RewardBps          uint32   `json:"rewardBps"`
	RewardHalvings     uint32   `json:"rewardHalvings"`
	DeployTime         uint64   `json:"deployTime"`
}

// Clone returns a deep copy of the params.
func (p *Params) Clone() *Params {
	if p == nil {
		return nil
	}
	clone := *p
	clone.RatePerSecond = newBigInt(p.RatePerSecond)
	return &clone
}

// MinimumPurchase is the smallest amount that buys MinPurchaseSeconds.
func (p *Params) MinimumPurchase() *big.Int {
	if p == nil || p.RatePerSecond == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Mul(p.RatePerSecond, new(big.Int).SetUint64(p.MinPurchaseSeconds))
}

// Globals holds the ledger-wide counters and the mutable administrative
// configuration.
type Globals struct {
	TotalIn            *big.Int `json:"totalIn"`
	TotalOut           *big.Int `json:"totalOut"`
	FeeBalance         *big.Int `json:"feeBalance"`
	RewardPoolBalance  *big.Int `json:"rewardPoolBalance"`
	// RewardPoolTotal is the attribution base of the pool: every allocation
	// plus the debt carried by freshly minted points, less the withdrawn share
	// forfeited through slashing.
	RewardPoolTotal    *big.Int `json:"rewardPoolTotal"`
	// RewardPoolLifetime sums every allocation ever carved into the pool and
	// only grows.
	RewardPoolLifetime *big.Int `json:"rewardPoolLifetime"`
	TotalPoints        *big.Int `json:"totalPoints"`
	IssuedRecords      uint64   `json:"issuedRecords"`
	SupplyCap          uint64   `json:"supplyCap"`
	FeeBps             uint32   `json:"feeBps"`
	Owner              [20]byte `json:"owner"`
	FeeRecipient       [20]byte `json:"feeRecipient"`
	TransferRecipient  [20]byte `json:"transferRecipient"`
	ContractURI        string   `json:"contractUri"`
	TokenURI           string   `json:"tokenUri"`
}

// Clone returns a deep copy of the globals.
func (g *Globals) Clone() *Globals {
	if g == nil {
		return nil
	}
	clone := *g
	clone.TotalIn = newBigInt(g.TotalIn)
	clone.TotalOut = newBigInt(g.TotalOut)
	clone.FeeBalance = newBigInt(g.FeeBalance)
	clone.RewardPoolBalance = newBigInt(g.RewardPoolBalance)
	clone.RewardPoolTotal = newBigInt(g.RewardPoolTotal)
	clone.RewardPoolLifetime = newBigInt(g.RewardPoolLifetime)
	clone.TotalPoints = newBigInt(g.TotalPoints)
	return &clone
}

func ensureGlobals(g *Globals) *Globals {
	if g == nil {
		g = &Globals{}
	}
	for _, field := range []**big.Int{&g.TotalIn, &g.TotalOut, &g.FeeBalance, &g.RewardPoolBalance, &g.RewardPoolTotal, &g.RewardPoolLifetime, &g.TotalPoints} {
		if *field == nil {
			*field = big.NewInt(0)
		}
	}
	return g
}

// CreatorBalance is the custody not owed to the fee recipient or the pool.
func (g *Globals) CreatorBalance() *big.Int {
	if g == nil {
		return big.NewInt(0)
	}
	balance := new(big.Int).Sub(newBigInt(g.TotalIn), newBigInt(g.TotalOut))
	balance.Sub(balance, newBigInt(g.FeeBalance))
	balance.Sub(balance, newBigInt(g.RewardPoolBalance))
	return balance
}

// Deployment captures the one-time configuration used by Initialize.
type Deployment struct {
	Owner              [20]byte
	FeeRecipient       [20]byte
	RatePerSecond      *big.Int
	MinPurchaseSeconds uint64
	RewardBps          uint32
	FeeBps             uint32
	RewardHalvings     uint32
	SupplyCap          uint64
	ContractURI        string
	TokenURI           string
	// DeployTime anchors the reward halving schedule; zero means now.
	DeployTime uint64
}

// Referral identifies the code and recipient of an instant referral payout.
type Referral struct {
	Code     uint64
	Referrer [20]byte
}

// Call carries the caller identity and any value attached to the call.
type Call struct {
	From  [20]byte
	Value *big.Int
}

// View is a read-only snapshot of an account enriched with derived values.
type View struct {
	Account       [20]byte      `json:"account"`
	Subscription  *Subscription `json:"subscription"`
	Remaining     *big.Int      `json:"remaining"`
	ExpiresAt     *big.Int      `json:"expiresAt"`
	RewardBalance *big.Int      `json:"rewardBalance"`
	Active        bool          `json:"active"`
}
