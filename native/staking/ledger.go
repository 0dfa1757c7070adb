package staking

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// settle folds the reward accrued since the position's last sync into its
// credit and returns the resulting credit. The caller must resync the debt.
func settle(tx *stagedState, pool *Pool, pos *UserPosition, acc *uint256.Int) (*uint256.Int, error) {
	credit, err := tx.credit(pool.ID, pos.User)
	if err != nil {
		return nil, err
	}
	fresh, err := accruedSince(pos, acc, pool.Precision)
	if err != nil {
		return nil, err
	}
	return checkedAdd(credit, fresh)
}

func resync(pos *UserPosition, pool *Pool, acc *uint256.Int) error {
	debt, err := rewardDebtFor(pos.Amount, acc, pool.Precision)
	if err != nil {
		return err
	}
	pos.RewardDebt = debt
	return nil
}

// Deposit stakes amount of the pool's staking asset on behalf of caller and
// returns the amount actually received from the transfer adapter.
func (e *Engine) Deposit(caller common.Address, amount *uint256.Int, poolID uint64) (received *uint256.Int, err error) {
	defer func() { e.observe("deposit", err) }()
	release, err := e.enter(true)
	if err != nil {
		return nil, err
	}
	defer release()

	if isZero(amount) {
		return nil, ErrAmountIsZero
	}
	tx := e.begin()
	defer func() { err = tx.finish(err) }()
	pool, err := tx.pool(poolID)
	if err != nil {
		return nil, err
	}
	if !isZero(pool.StakeLimit) {
		attempted, err := checkedAdd(pool.TotalStaked, amount)
		if err != nil {
			return nil, err
		}
		if attempted.Cmp(pool.StakeLimit) > 0 {
			return nil, &StakeLimitError{PoolID: poolID, Attempted: attempted, Limit: pool.StakeLimit.Clone()}
		}
	}
	acc, err := e.accrue(tx, pool, e.now(), true)
	if err != nil {
		return nil, err
	}
	pos, err := tx.position(poolID, caller)
	if err != nil {
		return nil, err
	}
	if !pos.Amount.IsZero() {
		credit, err := settle(tx, pool, pos, acc)
		if err != nil {
			return nil, err
		}
		tx.putCredit(poolID, caller, credit)
	}

	received, err = e.pull(tx, pool.StakingAsset, caller, amount)
	if err != nil {
		return nil, err
	}
	if received.IsZero() {
		return nil, ErrAmountIsZero
	}
	if pos.Amount, err = checkedAdd(pos.Amount, received); err != nil {
		return nil, err
	}
	if pool.TotalStaked, err = checkedAdd(pool.TotalStaked, received); err != nil {
		return nil, err
	}
	if err := resync(pos, pool, acc); err != nil {
		return nil, err
	}
	tx.putPosition(pos)
	tx.putPool(pool)
	if err := e.commit(tx); err != nil {
		return nil, err
	}
	e.emit(PositionChanged{Kind: EventTypeDeposit, PoolID: poolID, User: caller, Amount: received.Clone()})
	return received, nil
}

// Withdraw returns amount of principal to caller together with every reward
// accrued so far. It returns the reward paid.
func (e *Engine) Withdraw(caller common.Address, amount *uint256.Int, poolID uint64) (reward *uint256.Int, err error) {
	defer func() { e.observe("withdraw", err) }()
	release, err := e.enter(true)
	if err != nil {
		return nil, err
	}
	defer release()

	if isZero(amount) {
		return nil, ErrAmountIsZero
	}
	tx := e.begin()
	defer func() { err = tx.finish(err) }()
	pool, err := tx.pool(poolID)
	if err != nil {
		return nil, err
	}
	pos, err := tx.position(poolID, caller)
	if err != nil {
		return nil, err
	}
	if amount.Cmp(pos.Amount) > 0 {
		return nil, &InsufficientBalanceError{PoolID: poolID, Requested: amount.Clone(), Available: pos.Amount.Clone()}
	}
	acc, err := e.accrue(tx, pool, e.now(), true)
	if err != nil {
		return nil, err
	}
	reward, err = settle(tx, pool, pos, acc)
	if err != nil {
		return nil, err
	}
	tx.putCredit(poolID, caller, nil)

	if pos.Amount, err = checkedSub(pos.Amount, amount, ErrInsufficientBalance); err != nil {
		return nil, err
	}
	if pool.TotalStaked, err = checkedSub(pool.TotalStaked, amount, ErrAccountingInvariant); err != nil {
		return nil, err
	}
	if err := resync(pos, pool, acc); err != nil {
		return nil, err
	}
	tx.putPosition(pos)
	tx.putPool(pool)

	if pool.StakingAsset == pool.RewardAsset {
		combined, err := checkedAdd(amount, reward)
		if err != nil {
			return nil, err
		}
		if err := e.push(tx, pool.StakingAsset, caller, combined, "withdraw"); err != nil {
			return nil, err
		}
	} else {
		if err := e.push(tx, pool.StakingAsset, caller, amount, "principal"); err != nil {
			return nil, err
		}
		if err := e.push(tx, pool.RewardAsset, caller, reward, "reward"); err != nil {
			return nil, err
		}
	}
	if err := e.commit(tx); err != nil {
		return nil, err
	}
	e.emit(PositionChanged{Kind: EventTypeWithdraw, PoolID: poolID, User: caller, Amount: amount.Clone(), Reward: reward.Clone()})
	return reward, nil
}

// ClaimReward pays out the caller's accrued reward without touching the stake.
func (e *Engine) ClaimReward(caller common.Address, poolID uint64) (reward *uint256.Int, err error) {
	defer func() { e.observe("claim", err) }()
	release, err := e.enter(true)
	if err != nil {
		return nil, err
	}
	defer release()

	tx := e.begin()
	defer func() { err = tx.finish(err) }()
	pool, err := tx.pool(poolID)
	if err != nil {
		return nil, err
	}
	acc, err := e.accrue(tx, pool, e.now(), true)
	if err != nil {
		return nil, err
	}
	pos, err := tx.position(poolID, caller)
	if err != nil {
		return nil, err
	}
	reward, err = settle(tx, pool, pos, acc)
	if err != nil {
		return nil, err
	}
	tx.putCredit(poolID, caller, nil)
	if !pos.Amount.IsZero() {
		if err := resync(pos, pool, acc); err != nil {
			return nil, err
		}
		tx.putPosition(pos)
	}
	if err := e.push(tx, pool.RewardAsset, caller, reward, "reward"); err != nil {
		return nil, err
	}
	if err := e.commit(tx); err != nil {
		return nil, err
	}
	e.emit(PositionChanged{Kind: EventTypeClaim, PoolID: poolID, User: caller, Reward: reward.Clone()})
	return reward, nil
}

// EmergencyWithdraw returns the caller's whole stake and forfeits every
// reward. It never runs accrual or moves the reward asset, and it stays
// available while the module is paused.
func (e *Engine) EmergencyWithdraw(caller common.Address, poolID uint64) (principal *uint256.Int, err error) {
	defer func() { e.observe("emergency_withdraw", err) }()
	release, err := e.enter(false)
	if err != nil {
		return nil, err
	}
	defer release()

	tx := e.begin()
	defer func() { err = tx.finish(err) }()
	pool, err := tx.pool(poolID)
	if err != nil {
		return nil, err
	}
	pos, err := tx.position(poolID, caller)
	if err != nil {
		return nil, err
	}
	if pos.Amount.IsZero() {
		return nil, ErrAmountIsZero
	}
	principal = pos.Amount.Clone()
	if pool.TotalStaked, err = checkedSub(pool.TotalStaked, principal, ErrAccountingInvariant); err != nil {
		return nil, err
	}
	pos.Amount = new(uint256.Int)
	pos.RewardDebt = new(uint256.Int)
	tx.putPosition(pos)
	tx.putCredit(poolID, caller, nil)
	tx.putPool(pool)
	if err := e.push(tx, pool.StakingAsset, caller, principal, "emergency"); err != nil {
		return nil, err
	}
	if err := e.commit(tx); err != nil {
		return nil, err
	}
	e.emit(PositionChanged{Kind: EventTypeEmergencyWithdraw, PoolID: poolID, User: caller, Amount: principal.Clone()})
	return principal, nil
}

// GetUserPosition returns the caller's position and carried credit. Unknown
// positions read as zero.
func (e *Engine) GetUserPosition(user common.Address, poolID uint64) (*PositionView, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	tx := e.begin()
	if _, err := tx.pool(poolID); err != nil {
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
	return &PositionView{UserPosition: *pos, Credit: credit}, nil
}
