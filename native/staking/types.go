package staking

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Pool captures the accounting state of a single staking campaign. Pools are
// addressed by a dense, append-only index and are never removed.
type Pool struct {
	// ID is the position of the pool in the registry.
	ID uint64 `json:"id"`
	// StakingAsset identifies the asset users deposit.
	StakingAsset string `json:"stakingAsset"`
	// RewardAsset identifies the asset paid out as reward. It may equal the
	// staking asset.
	RewardAsset string `json:"rewardAsset"`
	// StartTime and EndTime bound the accrual window in unix seconds.
	StartTime uint64 `json:"startTime"`
	EndTime   uint64 `json:"endTime"`
	// Precision scales AccRewardPerShare so small per-share fractions do not
	// truncate to zero.
	Precision *uint256.Int `json:"precision"`
	// TotalReward is the reward budget distributed linearly across the window.
	TotalReward *uint256.Int `json:"totalReward"`
	// TotalStaked is the sum of every position's Amount.
	TotalStaked *uint256.Int `json:"totalStaked"`
	// AccRewardPerShare is the cumulative reward per staked unit scaled by
	// Precision. It never decreases.
	AccRewardPerShare *uint256.Int `json:"accRewardPerShare"`
	// LastRewardTime is the instant up to which accrual has been folded.
	LastRewardTime uint64 `json:"lastRewardTime"`
	// Owner may top up, stop or cap the pool.
	Owner common.Address `json:"owner"`
	// Version is the registry version tag recorded at creation.
	Version uint64 `json:"version"`
	// StakeLimit caps TotalStaked. Zero means uncapped.
	StakeLimit *uint256.Int `json:"stakeLimit"`
}

// UserPosition tracks one user's stake in one pool.
type UserPosition struct {
	PoolID uint64         `json:"poolId"`
	User   common.Address `json:"user"`
	// Amount is the currently staked balance.
	Amount *uint256.Int `json:"amount"`
	// RewardDebt is Amount*AccRewardPerShare/Precision as of the last
	// resynchronisation.
	RewardDebt *uint256.Int `json:"rewardDebt"`
}

// PositionView is the read model returned to callers: the stored position
// plus the reward credit carried across position changes.
type PositionView struct {
	UserPosition
	Credit *uint256.Int `json:"credit"`
}

// Meta stores the registry-wide settings that live outside the accrual core.
type Meta struct {
	Admin         common.Address
	VersionTag    uint64
	Initialized   bool
	SchemaVersion uint64
}

// PoolParams describes a pool creation request.
type PoolParams struct {
	StakingAsset      string
	RewardAsset       string
	StartTime         uint64
	EndTime           uint64
	PrecisionExponent uint8
	TotalReward       *uint256.Int
}

// CreditEntry is a staged write of a carried-over reward credit.
type CreditEntry struct {
	PoolID uint64
	User   common.Address
	Amount *uint256.Int
}

// ChangeSet groups every write produced by one operation. Stores must apply
// it atomically: either every entry is persisted or none is.
type ChangeSet struct {
	// Pools are ordered by ID. A pool whose ID equals the current pool count
	// is appended to the registry.
	Pools     []*Pool
	Positions []*UserPosition
	Credits   []CreditEntry
	Meta      *Meta
	// Balances carries staged transfer writes for adapters sharing the store.
	Balances []BalanceEntry
}

// Empty reports whether the change set carries no writes.
func (c *ChangeSet) Empty() bool {
	if c == nil {
		return true
	}
	return len(c.Pools) == 0 && len(c.Positions) == 0 && len(c.Credits) == 0 && c.Meta == nil && len(c.Balances) == 0
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Precision = cloneAmount(p.Precision)
	clone.TotalReward = cloneAmount(p.TotalReward)
	clone.TotalStaked = cloneAmount(p.TotalStaked)
	clone.AccRewardPerShare = cloneAmount(p.AccRewardPerShare)
	clone.StakeLimit = cloneAmount(p.StakeLimit)
	return &clone
}

// Clone returns a deep copy of the position.
func (p *UserPosition) Clone() *UserPosition {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Amount = cloneAmount(p.Amount)
	clone.RewardDebt = cloneAmount(p.RewardDebt)
	return &clone
}

// Clone returns a copy of the meta record.
func (m *Meta) Clone() *Meta {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}

// EnsureDefaults replaces nil amounts with zero so encoding and arithmetic are safe.
func (p *Pool) EnsureDefaults() {
	if p == nil {
		return
	}
	p.Precision = zeroIfNil(p.Precision)
	p.TotalReward = zeroIfNil(p.TotalReward)
	p.TotalStaked = zeroIfNil(p.TotalStaked)
	p.AccRewardPerShare = zeroIfNil(p.AccRewardPerShare)
	p.StakeLimit = zeroIfNil(p.StakeLimit)
}

// EnsureDefaults replaces nil amounts with zero.
func (p *UserPosition) EnsureDefaults() {
	if p == nil {
		return
	}
	p.Amount = zeroIfNil(p.Amount)
	p.RewardDebt = zeroIfNil(p.RewardDebt)
}

// Ended reports whether the accrual window has closed at the supplied time.
func (p *Pool) Ended(now uint64) bool {
	return p.EndTime <= now
}
