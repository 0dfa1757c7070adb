package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakeledger/native/staking"
)

// StakingPoolCount returns the number of pools in the registry.
func (m *Manager) StakingPoolCount() (uint64, error) {
	var count uint64
	if _, err := m.KVGet(stakingPoolCountKey, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// StakingPool loads the pool stored at the given index.
func (m *Manager) StakingPool(id uint64) (*staking.Pool, bool, error) {
	stored := new(storedPool)
	ok, err := m.KVGet(StakingPoolKey(id), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toPool(), true, nil
}

// StakingPosition loads a user's position in a pool.
func (m *Manager) StakingPosition(poolID uint64, user common.Address) (*staking.UserPosition, bool, error) {
	stored := new(storedPosition)
	ok, err := m.KVGet(StakingPositionKey(poolID, user), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	pos := &staking.UserPosition{PoolID: poolID, User: user, Amount: stored.Amount, RewardDebt: stored.RewardDebt}
	pos.EnsureDefaults()
	return pos, true, nil
}

// StakingCredit loads a user's carried reward credit. A missing record reads
// as zero.
func (m *Manager) StakingCredit(poolID uint64, user common.Address) (*uint256.Int, error) {
	credit := new(uint256.Int)
	if _, err := m.KVGet(StakingCreditKey(poolID, user), credit); err != nil {
		return nil, err
	}
	return credit, nil
}

// StakingMeta loads the registry settings.
func (m *Manager) StakingMeta() (*staking.Meta, bool, error) {
	stored := new(storedMeta)
	ok, err := m.KVGet(stakingMetaKey, stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &staking.Meta{
		Admin:         stored.Admin,
		VersionTag:    stored.VersionTag,
		Initialized:   stored.Initialized,
		SchemaVersion: stored.SchemaVersion,
	}, true, nil
}

// StakingCommit writes the change set in a single batch. Pools whose index
// equals the current count are appended; any gap in the index is rejected.
func (m *Manager) StakingCommit(cs *staking.ChangeSet) error {
	if cs.Empty() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	count, err := m.StakingPoolCount()
	if err != nil {
		return err
	}
	next := count
	batch := m.db.NewBatch()
	for _, pool := range cs.Pools {
		if pool == nil {
			continue
		}
		switch {
		case pool.ID == next:
			next++
		case pool.ID > next:
			return fmt.Errorf("state: pool %d would leave a gap after %d", pool.ID, next)
		}
		if err := batchPut(batch, StakingPoolKey(pool.ID), newStoredPool(pool)); err != nil {
			return err
		}
	}
	if next != count {
		if err := batchPut(batch, stakingPoolCountKey, next); err != nil {
			return err
		}
	}
	for _, pos := range cs.Positions {
		if pos == nil {
			continue
		}
		clone := pos.Clone()
		clone.EnsureDefaults()
		stored := &storedPosition{Amount: clone.Amount, RewardDebt: clone.RewardDebt}
		if err := batchPut(batch, StakingPositionKey(pos.PoolID, pos.User), stored); err != nil {
			return err
		}
	}
	for _, entry := range cs.Credits {
		key := StakingCreditKey(entry.PoolID, entry.User)
		if entry.Amount == nil || entry.Amount.IsZero() {
			batch.Delete(key)
			continue
		}
		if err := batchPut(batch, key, entry.Amount); err != nil {
			return err
		}
	}
	if cs.Meta != nil {
		stored := &storedMeta{
			Admin:         cs.Meta.Admin,
			VersionTag:    cs.Meta.VersionTag,
			Initialized:   cs.Meta.Initialized,
			SchemaVersion: cs.Meta.SchemaVersion,
		}
		if err := batchPut(batch, stakingMetaKey, stored); err != nil {
			return err
		}
	}
	if err := putBalances(batch, cs.Balances); err != nil {
		return err
	}
	return batch.Write()
}
