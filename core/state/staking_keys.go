package state

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakeledger/native/staking"
)

var (
	stakingPoolCountKey   = []byte("staking/pools/count")
	stakingMetaKey        = []byte("staking/meta")
	stakingPoolPrefix     = []byte("staking/pool/")
	stakingPositionPrefix = []byte("staking/position/")
	stakingCreditPrefix   = []byte("staking/credit/")
)

// StakingPoolKey returns the key of the pool record with the given index.
func StakingPoolKey(id uint64) []byte {
	key := make([]byte, len(stakingPoolPrefix)+8)
	copy(key, stakingPoolPrefix)
	binary.BigEndian.PutUint64(key[len(stakingPoolPrefix):], id)
	return key
}

func positionScopedKey(prefix []byte, poolID uint64, user common.Address) []byte {
	key := make([]byte, len(prefix)+8+common.AddressLength)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], poolID)
	copy(key[len(prefix)+8:], user[:])
	return key
}

// StakingPositionKey returns the key of a user's position in a pool.
func StakingPositionKey(poolID uint64, user common.Address) []byte {
	return positionScopedKey(stakingPositionPrefix, poolID, user)
}

// StakingCreditKey returns the key of a user's carried reward credit.
func StakingCreditKey(poolID uint64, user common.Address) []byte {
	return positionScopedKey(stakingCreditPrefix, poolID, user)
}

// storedPool is the on-disk layout of a pool. Amounts are never nil once
// encoded so decoding always yields usable values.
type storedPool struct {
	ID                uint64
	StakingAsset      string
	RewardAsset       string
	StartTime         uint64
	EndTime           uint64
	Precision         *uint256.Int
	TotalReward       *uint256.Int
	TotalStaked       *uint256.Int
	AccRewardPerShare *uint256.Int
	LastRewardTime    uint64
	Owner             common.Address
	Version           uint64
	StakeLimit        *uint256.Int
}

func newStoredPool(pool *staking.Pool) *storedPool {
	clone := pool.Clone()
	clone.EnsureDefaults()
	return &storedPool{
		ID:                clone.ID,
		StakingAsset:      clone.StakingAsset,
		RewardAsset:       clone.RewardAsset,
		StartTime:         clone.StartTime,
		EndTime:           clone.EndTime,
		Precision:         clone.Precision,
		TotalReward:       clone.TotalReward,
		TotalStaked:       clone.TotalStaked,
		AccRewardPerShare: clone.AccRewardPerShare,
		LastRewardTime:    clone.LastRewardTime,
		Owner:             clone.Owner,
		Version:           clone.Version,
		StakeLimit:        clone.StakeLimit,
	}
}

func (s *storedPool) toPool() *staking.Pool {
	pool := &staking.Pool{
		ID:                s.ID,
		StakingAsset:      s.StakingAsset,
		RewardAsset:       s.RewardAsset,
		StartTime:         s.StartTime,
		EndTime:           s.EndTime,
		Precision:         s.Precision,
		TotalReward:       s.TotalReward,
		TotalStaked:       s.TotalStaked,
		AccRewardPerShare: s.AccRewardPerShare,
		LastRewardTime:    s.LastRewardTime,
		Owner:             s.Owner,
		Version:           s.Version,
		StakeLimit:        s.StakeLimit,
	}
	pool.EnsureDefaults()
	return pool
}

type storedPosition struct {
	Amount     *uint256.Int
	RewardDebt *uint256.Int
}

type storedMeta struct {
	Admin         common.Address
	VersionTag    uint64
	Initialized   bool
	SchemaVersion uint64
}
