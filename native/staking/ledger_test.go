package staking

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestDepositValidation(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, 10_000, 1_000, 12)
	if _, err := h.engine.Deposit(alice, u(0), pool); !errors.Is(err, ErrAmountIsZero) {
		t.Fatalf("expected zero amount, got %v", err)
	}
	if _, err := h.engine.Deposit(alice, nil, pool); !errors.Is(err, ErrAmountIsZero) {
		t.Fatalf("expected zero amount for nil, got %v", err)
	}
	if _, err := h.engine.Deposit(alice, u(1), pool+1); !errors.Is(err, ErrPoolDoesNotExist) {
		t.Fatalf("expected missing pool, got %v", err)
	}
	if _, err := h.engine.Deposit(alice, u(1), pool); err == nil {
		t.Fatalf("expected unfunded deposit to fail")
	}
	view, err := h.engine.GetUserPosition(alice, pool)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if !view.Amount.IsZero() {
		t.Fatalf("failed deposit left a stake behind")
	}
}

func TestDepositCreditsReceivedAmount(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, 10_000, 1_000, 12)
	h.transfers.feeBps[stakeAsset] = 1_000
	h.transfers.mint(stakeAsset, alice, 100)
	received, err := h.engine.Deposit(alice, u(100), pool)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	expectAmount(t, "received", received, 90)
	view, err := h.engine.GetUserPosition(alice, pool)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	expectAmount(t, "position", view.Amount, 90)
	expectAmount(t, "total staked", h.pool(t, pool).TotalStaked, 90)
}

func TestDepositCarriesEarnedRewardAsCredit(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, 10_000, 1_000_000, 12)
	start := h.start()
	h.at(start)
	h.deposit(t, alice, 100, pool)

	h.at(start + 1_000)
	h.deposit(t, alice, 100, pool)
	view, err := h.engine.GetUserPosition(alice, pool)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	expectAmount(t, "credit", view.Credit, 100_000)
	expectAmount(t, "amount", view.Amount, 200)
	expectAmount(t, "pending right after deposit", h.pending(t, alice, pool), 100_000)

	h.at(start + 2_000)
	expectAmount(t, "pending", h.pending(t, alice, pool), 200_000)
}

func TestWithdrawPaysPrincipalAndReward(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, 10_000, 1_000_000, 12)
	start := h.start()
	h.at(start)
	h.deposit(t, alice, 100, pool)

	h.at(start + 1_000)
	reward, err := h.engine.Withdraw(alice, u(40), pool)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	expectAmount(t, "reward", reward, 100_000)
	expectAmount(t, "principal returned", h.transfers.balance(stakeAsset, alice), 40)
	expectAmount(t, "reward paid", h.transfers.balance(rewardAsset, alice), 100_000)
	if len(h.transfers.pushes) != 2 {
		t.Fatalf("expected separate principal and reward transfers, got %d", len(h.transfers.pushes))
	}
	view, err := h.engine.GetUserPosition(alice, pool)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	expectAmount(t, "remaining stake", view.Amount, 60)
	expectAmount(t, "credit cleared", view.Credit, 0)
	expectAmount(t, "pending after withdraw", h.pending(t, alice, pool), 0)
	expectAmount(t, "total staked", h.pool(t, pool).TotalStaked, 60)
}

func TestWithdrawCombinesTransfersForSameAsset(t *testing.T) {
	h := newHarness(t)
	const asset = "TKN"
	h.transfers.mint(asset, owner, 1_000_000)
	pool, err := h.engine.AddPool(owner, PoolParams{
		StakingAsset:      asset,
		RewardAsset:       asset,
		StartTime:         h.start(),
		EndTime:           h.start() + 10_000,
		PrecisionExponent: 12,
		TotalReward:       u(1_000_000),
	})
	if err != nil {
		t.Fatalf("add pool: %v", err)
	}
	h.at(h.start())
	h.transfers.mint(asset, alice, 100)
	if _, err := h.engine.Deposit(alice, u(100), pool); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	h.at(h.start() + 1_000)
	if _, err := h.engine.Withdraw(alice, u(100), pool); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if len(h.transfers.pushes) != 1 {
		t.Fatalf("expected one combined transfer, got %d", len(h.transfers.pushes))
	}
	expectAmount(t, "combined transfer", h.transfers.pushes[0].amount, 100_100)
}

func TestWithdrawMoreThanStaked(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, 10_000, 1_000, 12)
	h.deposit(t, alice, 100, pool)

	_, err := h.engine.Withdraw(alice, u(101), pool)
	var insufficient *InsufficientBalanceError
	if !errors.As(err, &insufficient) || !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	expectAmount(t, "requested", insufficient.Requested, 101)
	expectAmount(t, "available", insufficient.Available, 100)

	if _, err := h.engine.Withdraw(bob, u(1), pool); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance for stranger, got %v", err)
	}
	if _, err := h.engine.Withdraw(alice, u(0), pool); !errors.Is(err, ErrAmountIsZero) {
		t.Fatalf("expected zero amount, got %v", err)
	}
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, 10_000, 1_000_000, 12)
	h.at(h.start())
	h.deposit(t, bob, 50, pool)

	h.at(h.start() + 2_500)
	h.deposit(t, alice, 100, pool)
	reward, err := h.engine.Withdraw(alice, u(100), pool)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	expectAmount(t, "reward", reward, 0)
	expectAmount(t, "principal", h.transfers.balance(stakeAsset, alice), 100)
	expectAmount(t, "pending", h.pending(t, alice, pool), 0)
}

func TestWithdrawRollsBackOnTransferFailure(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, 10_000, 1_000_000, 12)
	h.at(h.start())
	h.deposit(t, alice, 100, pool)

	h.at(h.start() + 1_000)
	h.transfers.pushErr = errors.New("recipient frozen")
	if _, err := h.engine.Withdraw(alice, u(100), pool); err == nil {
		t.Fatalf("expected push failure")
	}
	h.transfers.pushErr = nil
	view, err := h.engine.GetUserPosition(alice, pool)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	expectAmount(t, "stake kept", view.Amount, 100)
	expectAmount(t, "pending kept", h.pending(t, alice, pool), 100_000)
	if h.pool(t, pool).LastRewardTime != h.start() {
		t.Fatalf("accrual committed despite failure")
	}
}

func TestWithdrawReversesPrincipalWhenRewardPushFails(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, 10_000, 1_000_000, 12)
	h.at(h.start())
	h.deposit(t, alice, 100, pool)
	h.deposit(t, bob, 100, pool)

	h.at(h.start() + 1_000)
	h.transfers.set(rewardAsset, vault, u(0))
	if _, err := h.engine.Withdraw(alice, u(100), pool); err == nil {
		t.Fatalf("expected reward push failure")
	}
	expectAmount(t, "principal pulled back", h.transfers.balance(stakeAsset, alice), 0)
	expectAmount(t, "vault principal", h.transfers.balance(stakeAsset, vault), 200)
	view, err := h.engine.GetUserPosition(alice, pool)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	expectAmount(t, "stake kept", view.Amount, 100)

	h.transfers.mint(rewardAsset, vault, 1_000_000)
	reward, err := h.engine.Withdraw(alice, u(100), pool)
	if err != nil {
		t.Fatalf("withdraw after refill: %v", err)
	}
	expectAmount(t, "reward", reward, 50_000)
	expectAmount(t, "alice principal", h.transfers.balance(stakeAsset, alice), 100)
	expectAmount(t, "bob principal still held", h.transfers.balance(stakeAsset, vault), 100)
	if _, err := h.engine.Withdraw(alice, u(100), pool); err == nil {
		t.Fatalf("expected repeated withdrawal to be rejected")
	}
}

func TestClaimWithoutPositionWritesNothing(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, 10_000, 1_000_000, 12)
	h.at(h.start() + 10)
	reward, err := h.engine.ClaimReward(bob, pool)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	expectAmount(t, "reward", reward, 0)
	if _, ok := h.state.positions[posKey{pool, bob}]; ok {
		t.Fatalf("empty position persisted")
	}
}

func TestClaimRewardLeavesPrincipal(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, 10_000, 1_000_000, 12)
	h.at(h.start())
	h.deposit(t, alice, 100, pool)

	reward, err := h.engine.ClaimReward(alice, pool)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	expectAmount(t, "nothing earned yet", reward, 0)
	if len(h.transfers.pushes) != 0 {
		t.Fatalf("zero claim transferred funds")
	}

	h.at(h.start() + 300)
	reward, err = h.engine.ClaimReward(alice, pool)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	expectAmount(t, "reward", reward, 30_000)
	view, err := h.engine.GetUserPosition(alice, pool)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	expectAmount(t, "stake", view.Amount, 100)
	expectAmount(t, "alice staking balance", h.transfers.balance(stakeAsset, alice), 0)
}

func TestStakeLimitEnforced(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, 10_000, 1_000, 12)
	if err := h.engine.SetPoolStakeLimit(owner, pool, u(150)); err != nil {
		t.Fatalf("set limit: %v", err)
	}
	h.deposit(t, alice, 100, pool)

	h.transfers.mint(stakeAsset, bob, 60)
	_, err := h.engine.Deposit(bob, u(60), pool)
	var limitErr *StakeLimitError
	if !errors.As(err, &limitErr) || !errors.Is(err, ErrMaximumStakeAmountReached) {
		t.Fatalf("expected stake limit error, got %v", err)
	}
	expectAmount(t, "attempted", limitErr.Attempted, 160)
	expectAmount(t, "limit", limitErr.Limit, 150)

	h.deposit(t, bob, 50, pool)
	expectAmount(t, "total staked", h.pool(t, pool).TotalStaked, 150)
	h.transfers.mint(stakeAsset, bob, 1)
	if _, err := h.engine.Deposit(bob, u(1), pool); !errors.Is(err, ErrMaximumStakeAmountReached) {
		t.Fatalf("expected cap to hold, got %v", err)
	}
	if err := h.engine.SetPoolStakeLimit(owner, pool, u(150)); !errors.Is(err, ErrInvalidStakeLimit) {
		t.Fatalf("expected limit at current stake to be rejected, got %v", err)
	}
}

func TestEmergencyWithdrawZeroesPosition(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, 10_000, 1_000_000, 12)
	h.at(h.start())
	h.deposit(t, alice, 100, pool)
	h.at(h.start() + 3_000)
	h.deposit(t, alice, 20, pool)

	h.at(h.start() + 4_000)
	principal, err := h.engine.EmergencyWithdraw(alice, pool)
	if err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	expectAmount(t, "principal", principal, 120)
	view, err := h.engine.GetUserPosition(alice, pool)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	expectAmount(t, "amount", view.Amount, 0)
	expectAmount(t, "debt", view.RewardDebt, 0)
	expectAmount(t, "credit", view.Credit, 0)
	expectAmount(t, "pending", h.pending(t, alice, pool), 0)
	expectAmount(t, "total staked", h.pool(t, pool).TotalStaked, 0)
	expectAmount(t, "no reward paid", h.transfers.balance(rewardAsset, alice), 0)
	for _, push := range h.transfers.pushes {
		if push.asset != stakeAsset {
			t.Fatalf("emergency exit moved %s", push.asset)
		}
	}
	if h.pool(t, pool).LastRewardTime != h.start()+3_000 {
		t.Fatalf("emergency exit ran accrual")
	}

	if _, err := h.engine.EmergencyWithdraw(alice, pool); !errors.Is(err, ErrAmountIsZero) {
		t.Fatalf("expected zero stake, got %v", err)
	}

	// Exited is not terminal.
	h.deposit(t, alice, 10, pool)
	h.at(h.start() + 5_000)
	expectAmount(t, "pending after re-entry", h.pending(t, alice, pool), 100_000)
}

func TestRewardsConserved(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, 10_000, 1_000_000, 12)
	start := h.start()
	funded := uint64(1_000_000)

	h.at(start)
	h.deposit(t, alice, 300, pool)
	h.at(start + 2_000)
	h.deposit(t, bob, 700, pool)

	h.at(start + 4_000)
	h.transfers.mint(rewardAsset, owner, 500_000)
	if err := h.engine.AddPoolReward(owner, pool, u(500_000)); err != nil {
		t.Fatalf("top up: %v", err)
	}
	funded += 300_000

	h.at(start + 6_000)
	if err := h.engine.StopReward(owner, pool); err != nil {
		t.Fatalf("stop: %v", err)
	}

	h.at(start + 7_000)
	paid := uint64(0)
	for _, user := range []common.Address{alice, bob} {
		view, err := h.engine.GetUserPosition(user, pool)
		if err != nil {
			t.Fatalf("position: %v", err)
		}
		reward, err := h.engine.Withdraw(user, view.Amount, pool)
		if err != nil {
			t.Fatalf("withdraw: %v", err)
		}
		paid += reward.Uint64()
	}
	refund := h.transfers.balance(rewardAsset, owner).Uint64() - 200_000
	if refund != 600_000 {
		t.Fatalf("expected refund 600000, got %d", refund)
	}
	if paid+refund > funded {
		t.Fatalf("paid %d + refund %d exceeds funding %d", paid, refund, funded)
	}
	if funded-(paid+refund) > 10 {
		t.Fatalf("rounding loss too large: %d", funded-(paid+refund))
	}
	expectAmount(t, "alice principal", h.transfers.balance(stakeAsset, alice), 300)
	expectAmount(t, "bob principal", h.transfers.balance(stakeAsset, bob), 700)
}
