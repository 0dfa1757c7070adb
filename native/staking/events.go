package staking

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakeledger/core/types"
)

const (
	// EventTypePoolCreated is emitted when a new pool is appended to the registry.
	EventTypePoolCreated = "staking.pool.created"
	// EventTypePoolToppedUp is emitted when the owner adds reward to a running pool.
	EventTypePoolToppedUp = "staking.pool.topped_up"
	// EventTypePoolStopped is emitted when the owner closes a pool early.
	EventTypePoolStopped = "staking.pool.stopped"
	// EventTypeStakeLimitSet is emitted when the owner changes a pool's cap.
	EventTypeStakeLimitSet = "staking.pool.stake_limit_set"
	// EventTypeDeposit is emitted when a user stakes into a pool.
	EventTypeDeposit = "staking.deposit"
	// EventTypeWithdraw is emitted when a user withdraws principal.
	EventTypeWithdraw = "staking.withdraw"
	// EventTypeClaim is emitted when a user claims reward without touching principal.
	EventTypeClaim = "staking.claim"
	// EventTypeEmergencyWithdraw is emitted when a user exits without reward.
	EventTypeEmergencyWithdraw = "staking.emergency_withdraw"
	// EventTypeVersionTagSet is emitted when the administrator changes the version tag.
	EventTypeVersionTagSet = "staking.version_tag_set"
	// EventTypeAssetSwept is emitted when the administrator recovers stranded assets.
	EventTypeAssetSwept = "staking.asset_swept"
)

// PoolCreated announces a new pool.
type PoolCreated struct {
	PoolID       uint64
	Owner        common.Address
	StakingAsset string
	RewardAsset  string
	StartTime    uint64
	EndTime      uint64
	TotalReward  *uint256.Int
	Version      uint64
}

// EventType satisfies the events.Event interface.
func (PoolCreated) EventType() string { return EventTypePoolCreated }

// Event converts the structured payload into a broadcastable event.
func (e PoolCreated) Event() *types.Event {
	return &types.Event{
		Type: EventTypePoolCreated,
		Attributes: map[string]string{
			"poolId":       formatID(e.PoolID),
			"owner":        e.Owner.Hex(),
			"stakingAsset": e.StakingAsset,
			"rewardAsset":  e.RewardAsset,
			"startTime":    formatID(e.StartTime),
			"endTime":      formatID(e.EndTime),
			"totalReward":  formatAmount(e.TotalReward),
			"version":      formatID(e.Version),
		},
	}
}

// PoolToppedUp announces additional reward for a pool.
type PoolToppedUp struct {
	PoolID      uint64
	Requested   *uint256.Int
	Pulled      *uint256.Int
	TotalReward *uint256.Int
}

// EventType satisfies the events.Event interface.
func (PoolToppedUp) EventType() string { return EventTypePoolToppedUp }

// Event converts the structured payload into a broadcastable event.
func (e PoolToppedUp) Event() *types.Event {
	return &types.Event{
		Type: EventTypePoolToppedUp,
		Attributes: map[string]string{
			"poolId":      formatID(e.PoolID),
			"requested":   formatAmount(e.Requested),
			"pulled":      formatAmount(e.Pulled),
			"totalReward": formatAmount(e.TotalReward),
		},
	}
}

// PoolStopped announces an early close.
type PoolStopped struct {
	PoolID  uint64
	EndTime uint64
	Refund  *uint256.Int
}

// EventType satisfies the events.Event interface.
func (PoolStopped) EventType() string { return EventTypePoolStopped }

// Event converts the structured payload into a broadcastable event.
func (e PoolStopped) Event() *types.Event {
	return &types.Event{
		Type: EventTypePoolStopped,
		Attributes: map[string]string{
			"poolId":  formatID(e.PoolID),
			"endTime": formatID(e.EndTime),
			"refund":  formatAmount(e.Refund),
		},
	}
}

// StakeLimitSet announces a new pool cap.
type StakeLimitSet struct {
	PoolID uint64
	Limit  *uint256.Int
}

// EventType satisfies the events.Event interface.
func (StakeLimitSet) EventType() string { return EventTypeStakeLimitSet }

// Event converts the structured payload into a broadcastable event.
func (e StakeLimitSet) Event() *types.Event {
	return &types.Event{
		Type: EventTypeStakeLimitSet,
		Attributes: map[string]string{
			"poolId": formatID(e.PoolID),
			"limit":  formatAmount(e.Limit),
		},
	}
}

// PositionChanged covers the user-facing flows; Kind selects the event type.
type PositionChanged struct {
	Kind   string
	PoolID uint64
	User   common.Address
	Amount *uint256.Int
	Reward *uint256.Int
}

// EventType satisfies the events.Event interface.
func (e PositionChanged) EventType() string { return e.Kind }

// Event converts the structured payload into a broadcastable event.
func (e PositionChanged) Event() *types.Event {
	attrs := map[string]string{
		"poolId": formatID(e.PoolID),
		"user":   e.User.Hex(),
	}
	if e.Amount != nil {
		attrs["amount"] = formatAmount(e.Amount)
	}
	if e.Reward != nil {
		attrs["reward"] = formatAmount(e.Reward)
	}
	return &types.Event{Type: e.Kind, Attributes: attrs}
}

// VersionTagSet announces a registry version change.
type VersionTagSet struct {
	Previous uint64
	Current  uint64
}

// EventType satisfies the events.Event interface.
func (VersionTagSet) EventType() string { return EventTypeVersionTagSet }

// Event converts the structured payload into a broadcastable event.
func (e VersionTagSet) Event() *types.Event {
	return &types.Event{
		Type: EventTypeVersionTagSet,
		Attributes: map[string]string{
			"previous": formatID(e.Previous),
			"current":  formatID(e.Current),
		},
	}
}

// AssetSwept announces an administrative recovery transfer.
type AssetSwept struct {
	Asset     string
	Recipient common.Address
	Amount    *uint256.Int
}

// EventType satisfies the events.Event interface.
func (AssetSwept) EventType() string { return EventTypeAssetSwept }

// Event converts the structured payload into a broadcastable event.
func (e AssetSwept) Event() *types.Event {
	return &types.Event{
		Type: EventTypeAssetSwept,
		Attributes: map[string]string{
			"asset":     e.Asset,
			"recipient": e.Recipient.Hex(),
			"amount":    formatAmount(e.Amount),
		},
	}
}

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func formatID(v uint64) string {
	return strconv.FormatUint(v, 10)
}
