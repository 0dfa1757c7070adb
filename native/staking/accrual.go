package staking

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// foldAccrual projects a pool's accumulator forward to now without touching
// the pool. It returns the accumulator and watermark that an update at now
// would store. UpdateAccrual and PreviewPendingReward both go through it so
// the committed and projected values cannot drift apart.
func foldAccrual(pool *Pool, now uint64) (*uint256.Int, uint64, error) {
	acc := zeroIfNil(pool.AccRewardPerShare).Clone()
	last := pool.LastRewardTime
	if now <= last {
		return acc, last, nil
	}
	// Nothing to distribute yet; move the watermark so the next call starts here.
	if isZero(pool.TotalStaked) || now < pool.StartTime {
		return acc, now, nil
	}
	if last > pool.EndTime {
		return acc, last, nil
	}
	if pool.EndTime <= pool.StartTime {
		return nil, 0, ErrAccountingInvariant
	}

	delta := minU64(now, pool.EndTime) - maxU64(pool.StartTime, last)
	window := pool.EndTime - pool.StartTime
	rewardShare, err := mulDiv(uint256.NewInt(delta), pool.TotalReward, uint256.NewInt(window))
	if err != nil {
		return nil, 0, err
	}
	increment, err := mulDiv(rewardShare, pool.Precision, pool.TotalStaked)
	if err != nil {
		return nil, 0, err
	}
	acc, err = checkedAdd(acc, increment)
	if err != nil {
		return nil, 0, err
	}
	return acc, now, nil
}

// accrue folds accrual into the pool when persist is set, staging the pool
// write, and returns the resulting accumulator either way.
func (e *Engine) accrue(tx *stagedState, pool *Pool, now uint64, persist bool) (*uint256.Int, error) {
	acc, last, err := foldAccrual(pool, now)
	if err != nil {
		return nil, err
	}
	if persist && (last != pool.LastRewardTime || !acc.Eq(pool.AccRewardPerShare)) {
		pool.AccRewardPerShare = acc
		pool.LastRewardTime = last
		tx.putPool(pool)
	}
	return acc, nil
}

// accruedSince returns amount*acc/precision - rewardDebt. A debt above the
// accrued value can only come from an accounting bug and is reported as such.
func accruedSince(pos *UserPosition, acc, precision *uint256.Int) (*uint256.Int, error) {
	if isZero(pos.Amount) {
		if !isZero(pos.RewardDebt) {
			return nil, ErrAccountingInvariant
		}
		return new(uint256.Int), nil
	}
	accrued, err := mulDiv(pos.Amount, acc, precision)
	if err != nil {
		return nil, err
	}
	return checkedSub(accrued, pos.RewardDebt, ErrAccountingInvariant)
}

// rewardDebtFor is the debt a position with the given amount carries at acc.
func rewardDebtFor(amount, acc, precision *uint256.Int) (*uint256.Int, error) {
	if isZero(amount) {
		return new(uint256.Int), nil
	}
	return mulDiv(amount, acc, precision)
}

// UpdateAccrual folds the reward earned since the last update into the pool's
// accumulator. It is idempotent and safe to call at any time.
func (e *Engine) UpdateAccrual(poolID uint64) (err error) {
	defer func() { e.observe("update_accrual", err) }()
	release, err := e.enter(true)
	if err != nil {
		return err
	}
	defer release()

	tx := e.begin()
	pool, err := tx.pool(poolID)
	if err != nil {
		return err
	}
	if _, err := e.accrue(tx, pool, e.now(), true); err != nil {
		return err
	}
	return e.commit(tx)
}

// PreviewPendingReward reports the reward the user could claim right now. It
// never mutates state and does not take the reentrancy guard.
func (e *Engine) PreviewPendingReward(user common.Address, poolID uint64) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	tx := e.begin()
	pool, err := tx.pool(poolID)
	if err != nil {
		return nil, err
	}
	acc, err := e.accrue(nil, pool, e.now(), false)
	if err != nil {
		return nil, err
	}
	pos, err := tx.position(poolID, user)
	if err != nil {
		return nil, err
	}
	credit, err := tx.credit(poolID, user)
	if err != nil {
		return nil, err
	}
	fresh, err := accruedSince(pos, acc, pool.Precision)
	if err != nil {
		return nil, err
	}
	return checkedAdd(fresh, credit)
}
