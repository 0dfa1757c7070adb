package staking

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func (e *Engine) validatePoolParams(params PoolParams, now uint64) (PoolParams, error) {
	params.StakingAsset = NormalizeAsset(params.StakingAsset)
	params.RewardAsset = NormalizeAsset(params.RewardAsset)
	if isZero(params.TotalReward) {
		return params, ErrRewardAmountIsZero
	}
	if params.StartTime <= now || params.EndTime <= now {
		return params, ErrRewardsInPast
	}
	if params.PrecisionExponent < MinPrecisionExponent || params.PrecisionExponent > MaxPrecisionExponent {
		return params, ErrInvalidPrecision
	}
	if params.StartTime >= params.EndTime || params.EndTime-params.StartTime > MaxPoolDuration {
		return params, ErrInvalidStartAndEndDates
	}
	if params.StakingAsset == "" || params.RewardAsset == "" {
		return params, ErrInvalidAsset
	}
	return params, nil
}

// AddPool validates the request, pulls the reward budget from the caller and
// appends a new pool owned by the caller. The amount actually received becomes
// the pool's TotalReward.
func (e *Engine) AddPool(caller common.Address, params PoolParams) (id uint64, err error) {
	defer func() { e.observe("add_pool", err) }()
	release, err := e.enter(true)
	if err != nil {
		return 0, err
	}
	defer release()

	now := e.now()
	params, err = e.validatePoolParams(params, now)
	if err != nil {
		return 0, err
	}
	tx := e.begin()
	defer func() { err = tx.finish(err) }()
	meta, err := tx.loadMeta()
	if err != nil {
		return 0, err
	}
	received, err := e.pull(tx, params.RewardAsset, caller, params.TotalReward)
	if err != nil {
		return 0, err
	}
	if received.IsZero() {
		return 0, ErrRewardAmountIsZero
	}
	pool := &Pool{
		StakingAsset:      params.StakingAsset,
		RewardAsset:       params.RewardAsset,
		StartTime:         params.StartTime,
		EndTime:           params.EndTime,
		Precision:         precisionFromExponent(params.PrecisionExponent),
		TotalReward:       received,
		TotalStaked:       new(uint256.Int),
		AccRewardPerShare: new(uint256.Int),
		Owner:             caller,
		Version:           meta.VersionTag,
		StakeLimit:        new(uint256.Int),
	}
	id, err = tx.appendPool(pool)
	if err != nil {
		return 0, err
	}
	if err := e.commit(tx); err != nil {
		return 0, err
	}
	e.emit(PoolCreated{
		PoolID:       id,
		Owner:        caller,
		StakingAsset: pool.StakingAsset,
		RewardAsset:  pool.RewardAsset,
		StartTime:    pool.StartTime,
		EndTime:      pool.EndTime,
		TotalReward:  received,
		Version:      pool.Version,
	})
	return id, nil
}

// usableTopUp is the part of a top-up that linear accrual over the original
// window can still distribute: (end - max(now, start)) * amount / (end - start).
func usableTopUp(pool *Pool, now uint64, amount *uint256.Int) (*uint256.Int, error) {
	if pool.EndTime <= pool.StartTime {
		return nil, ErrAccountingInvariant
	}
	remaining := pool.EndTime - maxU64(now, pool.StartTime)
	return mulDiv(uint256.NewInt(remaining), amount, uint256.NewInt(pool.EndTime-pool.StartTime))
}

// ownedOpenPool loads a pool and checks the caller may run a lifecycle
// operation on it.
func ownedOpenPool(tx *stagedState, caller common.Address, poolID uint64, now uint64) (*Pool, error) {
	pool, err := tx.pool(poolID)
	if err != nil {
		return nil, err
	}
	if pool.Owner != caller {
		return nil, ErrNotPoolOwner
	}
	if pool.Ended(now) {
		return nil, ErrPoolEnded
	}
	return pool, nil
}

// AddPoolReward tops up a running pool. Only the share of amount that can
// still be distributed before EndTime is pulled; the full amount is added to
// TotalReward, which keeps the per-second rate of the remaining window equal
// to amount/(end-start) on top of the existing rate.
func (e *Engine) AddPoolReward(caller common.Address, poolID uint64, amount *uint256.Int) (err error) {
	defer func() { e.observe("add_pool_reward", err) }()
	release, err := e.enter(true)
	if err != nil {
		return err
	}
	defer release()

	now := e.now()
	tx := e.begin()
	defer func() { err = tx.finish(err) }()
	pool, err := ownedOpenPool(tx, caller, poolID, now)
	if err != nil {
		return err
	}
	if isZero(amount) {
		return ErrRewardAmountIsZero
	}
	if pool.EndTime-now < MinRewardWindow {
		return ErrInsufficientRemainingTime
	}
	if _, err := e.accrue(tx, pool, now, true); err != nil {
		return err
	}
	usable, err := usableTopUp(pool, now, amount)
	if err != nil {
		return err
	}
	total, err := checkedAdd(pool.TotalReward, amount)
	if err != nil {
		return err
	}
	pulled := new(uint256.Int)
	if !usable.IsZero() {
		pulled, err = e.pull(tx, pool.RewardAsset, caller, usable)
		if err != nil {
			return err
		}
		if !pulled.Eq(usable) {
			return &TransferShortfallError{Asset: pool.RewardAsset, Expected: usable, Received: pulled}
		}
	}
	pool.TotalReward = total
	tx.putPool(pool)
	if err := e.commit(tx); err != nil {
		return err
	}
	e.emit(PoolToppedUp{PoolID: poolID, Requested: amount.Clone(), Pulled: pulled, TotalReward: total.Clone()})
	return nil
}

// StopReward closes a pool at the current time and refunds the owner the
// reward share of the window that has not elapsed yet.
func (e *Engine) StopReward(caller common.Address, poolID uint64) (err error) {
	defer func() { e.observe("stop_reward", err) }()
	release, err := e.enter(true)
	if err != nil {
		return err
	}
	defer release()

	now := e.now()
	tx := e.begin()
	defer func() { err = tx.finish(err) }()
	pool, err := ownedOpenPool(tx, caller, poolID, now)
	if err != nil {
		return err
	}
	if now < pool.StartTime || now-pool.StartTime < MinRewardWindow {
		return ErrRewardWindowTooShort
	}
	if _, err := e.accrue(tx, pool, now, true); err != nil {
		return err
	}
	oldEnd := pool.EndTime
	refund, err := mulDiv(uint256.NewInt(oldEnd-now), pool.TotalReward, uint256.NewInt(oldEnd-pool.StartTime))
	if err != nil {
		return err
	}
	remaining, err := checkedSub(pool.TotalReward, refund, ErrAccountingInvariant)
	if err != nil {
		return err
	}
	pool.TotalReward = remaining
	pool.EndTime = now
	tx.putPool(pool)
	if err := e.push(tx, pool.RewardAsset, pool.Owner, refund, "refund"); err != nil {
		return err
	}
	if err := e.commit(tx); err != nil {
		return err
	}
	e.emit(PoolStopped{PoolID: poolID, EndTime: now, Refund: refund})
	return nil
}

// SetPoolStakeLimit caps the pool's TotalStaked. The new limit must exceed
// the stake already in the pool.
func (e *Engine) SetPoolStakeLimit(caller common.Address, poolID uint64, limit *uint256.Int) (err error) {
	defer func() { e.observe("set_stake_limit", err) }()
	release, err := e.enter(true)
	if err != nil {
		return err
	}
	defer release()

	now := e.now()
	tx := e.begin()
	pool, err := ownedOpenPool(tx, caller, poolID, now)
	if err != nil {
		return err
	}
	if limit == nil || limit.Cmp(pool.TotalStaked) <= 0 {
		return ErrInvalidStakeLimit
	}
	pool.StakeLimit = limit.Clone()
	tx.putPool(pool)
	if err := e.commit(tx); err != nil {
		return err
	}
	e.emit(StakeLimitSet{PoolID: poolID, Limit: limit.Clone()})
	return nil
}

// PoolCount returns the number of pools in the registry.
func (e *Engine) PoolCount() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.StakingPoolCount()
}

// GetPool returns a copy of the pool record.
func (e *Engine) GetPool(poolID uint64) (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.begin().pool(poolID)
}

// ListPools returns every pool in index order.
func (e *Engine) ListPools() ([]*Pool, error) {
	count, err := e.PoolCount()
	if err != nil {
		return nil, err
	}
	tx := e.begin()
	pools := make([]*Pool, 0, count)
	for id := uint64(0); id < count; id++ {
		pool, err := tx.pool(id)
		if err != nil {
			return nil, err
		}
		pools = append(pools, pool)
	}
	return pools, nil
}
