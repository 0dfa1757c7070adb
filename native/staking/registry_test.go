package staking

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestAddPoolValidation(t *testing.T) {
	now := uint64(genesis)
	valid := PoolParams{
		StakingAsset:      stakeAsset,
		RewardAsset:       rewardAsset,
		StartTime:         now + 10,
		EndTime:           now + 1_000,
		PrecisionExponent: 12,
		TotalReward:       u(1_000),
	}
	cases := []struct {
		name   string
		mutate func(p *PoolParams)
		want   error
	}{
		{name: "zero reward", mutate: func(p *PoolParams) { p.TotalReward = u(0) }, want: ErrRewardAmountIsZero},
		{name: "nil reward", mutate: func(p *PoolParams) { p.TotalReward = nil }, want: ErrRewardAmountIsZero},
		{name: "start now", mutate: func(p *PoolParams) { p.StartTime = now }, want: ErrRewardsInPast},
		{name: "end in past", mutate: func(p *PoolParams) { p.StartTime = now + 10; p.EndTime = now - 1 }, want: ErrRewardsInPast},
		{name: "precision too small", mutate: func(p *PoolParams) { p.PrecisionExponent = 5 }, want: ErrInvalidPrecision},
		{name: "precision too large", mutate: func(p *PoolParams) { p.PrecisionExponent = 37 }, want: ErrInvalidPrecision},
		{name: "start after end", mutate: func(p *PoolParams) { p.StartTime = now + 2_000 }, want: ErrInvalidStartAndEndDates},
		{name: "empty window", mutate: func(p *PoolParams) { p.EndTime = p.StartTime }, want: ErrInvalidStartAndEndDates},
		{name: "window too long", mutate: func(p *PoolParams) { p.EndTime = p.StartTime + MaxPoolDuration + 1 }, want: ErrInvalidStartAndEndDates},
		{name: "missing asset", mutate: func(p *PoolParams) { p.RewardAsset = "  " }, want: ErrInvalidAsset},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.transfers.mint(rewardAsset, owner, 1_000)
			params := valid
			tc.mutate(&params)
			if _, err := h.engine.AddPool(owner, params); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if h.state.count != 0 {
				t.Fatalf("rejected pool was stored")
			}
		})
	}
}

func TestAddPoolRecordsRegistryState(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.Initialize(admin, 7); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	h.transfers.mint(rewardAsset, owner, 5_000)
	first, err := h.engine.AddPool(owner, PoolParams{
		StakingAsset:      " stk ",
		RewardAsset:       "rwd",
		StartTime:         uint64(genesis) + 1,
		EndTime:           uint64(genesis) + 100,
		PrecisionExponent: 6,
		TotalReward:       u(2_000),
	})
	if err != nil {
		t.Fatalf("add pool: %v", err)
	}
	second := h.createPool(t, 500, 3_000, 36)
	if first != 0 || second != 1 {
		t.Fatalf("expected dense ids 0 and 1, got %d and %d", first, second)
	}

	pool := h.pool(t, first)
	if pool.StakingAsset != stakeAsset || pool.RewardAsset != rewardAsset {
		t.Fatalf("assets not normalised: %q %q", pool.StakingAsset, pool.RewardAsset)
	}
	if pool.Owner != owner || pool.Version != 7 {
		t.Fatalf("unexpected owner/version: %s %d", pool.Owner.Hex(), pool.Version)
	}
	expectAmount(t, "precision", pool.Precision, 1_000_000)
	expectAmount(t, "total reward", pool.TotalReward, 2_000)
	if !pool.TotalStaked.IsZero() || !pool.AccRewardPerShare.IsZero() || pool.LastRewardTime != 0 {
		t.Fatalf("accrual fields not zeroed: %+v", pool)
	}
	big := h.pool(t, second).Precision
	want := new(uint256.Int).Exp(u(10), u(36))
	if !big.Eq(want) {
		t.Fatalf("expected 10^36 precision, got %s", big.Dec())
	}

	count, err := h.engine.PoolCount()
	if err != nil || count != 2 {
		t.Fatalf("expected 2 pools, got %d (%v)", count, err)
	}
	pools, err := h.engine.ListPools()
	if err != nil {
		t.Fatalf("list pools: %v", err)
	}
	if len(pools) != 2 || pools[0].ID != 0 || pools[1].ID != 1 {
		t.Fatalf("unexpected listing: %+v", pools)
	}
	if _, err := h.engine.GetPool(2); !errors.Is(err, ErrPoolDoesNotExist) {
		t.Fatalf("expected missing pool, got %v", err)
	}
}

func TestAddPoolUsesReceivedReward(t *testing.T) {
	h := newHarness(t)
	h.transfers.feeBps[rewardAsset] = 100
	pool := h.createPool(t, 10_000, 1_000, 6)
	expectAmount(t, "total reward", h.pool(t, pool).TotalReward, 990)
	expectAmount(t, "vault", h.transfers.balance(rewardAsset, vault), 990)
}

func TestUsableTopUpFraction(t *testing.T) {
	pool := &Pool{StartTime: 1_000, EndTime: 1_100}
	usable, err := usableTopUp(pool, 1_050, u(1_000))
	if err != nil {
		t.Fatalf("usable: %v", err)
	}
	expectAmount(t, "usable", usable, 500)

	usable, err = usableTopUp(pool, 900, u(1_000))
	if err != nil {
		t.Fatalf("usable before start: %v", err)
	}
	expectAmount(t, "usable before start", usable, 1_000)
}

func TestAddPoolRewardPullsUsableShare(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, 10_000, 1_000, 12)
	start := h.start()
	h.at(start)
	h.deposit(t, alice, 100, pool)

	h.at(start + 5_000)
	h.transfers.mint(rewardAsset, owner, 1_000)
	if err := h.engine.AddPoolReward(owner, pool, u(1_000)); err != nil {
		t.Fatalf("top up: %v", err)
	}
	expectAmount(t, "owner keeps unpulled part", h.transfers.balance(rewardAsset, owner), 500)
	stored := h.pool(t, pool)
	expectAmount(t, "total reward tracks full request", stored.TotalReward, 2_000)
	if stored.LastRewardTime != start+5_000 {
		t.Fatalf("top up did not fold accrual first")
	}

	// The tracked budget exceeds what was funded, but the remaining window
	// only distributes the usable share: everything paid equals everything pulled.
	h.at(start + 10_001)
	reward, err := h.engine.ClaimReward(alice, pool)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	expectAmount(t, "reward", reward, 1_500)
	expectAmount(t, "vault drained exactly", h.transfers.balance(rewardAsset, vault), 0)

	evt := h.recorder.Events[len(h.recorder.Events)-2].(PoolToppedUp)
	expectAmount(t, "event pulled", evt.Pulled, 500)
	expectAmount(t, "event requested", evt.Requested, 1_000)
}

func TestAddPoolRewardFailures(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, 10_000, 1_000, 12)
	start := h.start()
	h.transfers.mint(rewardAsset, owner, 10_000)
	h.at(start + 1_000)

	if err := h.engine.AddPoolReward(owner, 9, u(10)); !errors.Is(err, ErrPoolDoesNotExist) {
		t.Fatalf("expected missing pool, got %v", err)
	}
	if err := h.engine.AddPoolReward(alice, pool, u(10)); !errors.Is(err, ErrNotPoolOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}
	if err := h.engine.AddPoolReward(owner, pool, u(0)); !errors.Is(err, ErrRewardAmountIsZero) {
		t.Fatalf("expected zero reward, got %v", err)
	}
	h.at(start + 10_000 - MinRewardWindow + 1)
	if err := h.engine.AddPoolReward(owner, pool, u(10)); !errors.Is(err, ErrInsufficientRemainingTime) {
		t.Fatalf("expected insufficient time, got %v", err)
	}
	h.at(start + 10_000)
	if err := h.engine.AddPoolReward(owner, pool, u(10)); !errors.Is(err, ErrPoolEnded) {
		t.Fatalf("expected ended pool, got %v", err)
	}

	h.at(start + 5_000)
	overflow := new(uint256.Int).SetAllOne()
	if err := h.engine.AddPoolReward(owner, pool, overflow); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	expectAmount(t, "total reward unchanged", h.pool(t, pool).TotalReward, 1_000)
}

func TestAddPoolRewardRejectsShortTransfer(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, 10_000, 1_000, 12)
	h.transfers.feeBps[rewardAsset] = 100
	h.transfers.mint(rewardAsset, owner, 1_000)
	h.at(h.start() + 5_000)

	err := h.engine.AddPoolReward(owner, pool, u(1_000))
	var shortfall *TransferShortfallError
	if !errors.As(err, &shortfall) || !errors.Is(err, ErrInsufficientTransferredAmount) {
		t.Fatalf("expected transfer shortfall, got %v", err)
	}
	expectAmount(t, "expected", shortfall.Expected, 500)
	expectAmount(t, "received", shortfall.Received, 495)
	expectAmount(t, "total reward unchanged", h.pool(t, pool).TotalReward, 1_000)
	// The plain adapter returns what the vault received; the skimmed fee is gone.
	expectAmount(t, "vault restored", h.transfers.balance(rewardAsset, vault), 1_000)
	expectAmount(t, "owner refunded", h.transfers.balance(rewardAsset, owner), 995)
}

func TestStopRewardRefundsUnelapsedShare(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, 10_000, 1_000_000, 12)
	start := h.start()
	h.at(start)
	h.deposit(t, alice, 100, pool)

	h.at(start + 4_000)
	if err := h.engine.StopReward(owner, pool); err != nil {
		t.Fatalf("stop: %v", err)
	}
	expectAmount(t, "refund", h.transfers.balance(rewardAsset, owner), 600_000)
	stored := h.pool(t, pool)
	if stored.EndTime != start+4_000 {
		t.Fatalf("end time not moved: %d", stored.EndTime)
	}
	expectAmount(t, "remaining budget", stored.TotalReward, 400_000)

	h.at(start + 9_000)
	expectAmount(t, "pending after stop", h.pending(t, alice, pool), 400_000)
	if _, err := h.engine.ClaimReward(alice, pool); err != nil {
		t.Fatalf("claim: %v", err)
	}
	expectAmount(t, "vault drained", h.transfers.balance(rewardAsset, vault), 0)

	if err := h.engine.StopReward(owner, pool); !errors.Is(err, ErrPoolEnded) {
		t.Fatalf("expected ended pool, got %v", err)
	}
}

func TestStopRewardFailures(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, 10_000, 1_000_000, 12)
	start := h.start()

	if err := h.engine.StopReward(owner, pool); !errors.Is(err, ErrRewardWindowTooShort) {
		t.Fatalf("expected short window before start, got %v", err)
	}
	h.at(start + MinRewardWindow - 1)
	if err := h.engine.StopReward(owner, pool); !errors.Is(err, ErrRewardWindowTooShort) {
		t.Fatalf("expected short window, got %v", err)
	}
	if err := h.engine.StopReward(alice, pool); !errors.Is(err, ErrNotPoolOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}
	h.at(start + MinRewardWindow)
	h.transfers.pushErr = errors.New("transfer rejected")
	if err := h.engine.StopReward(owner, pool); err == nil {
		t.Fatalf("expected push failure")
	}
	if h.pool(t, pool).EndTime != start+10_000 {
		t.Fatalf("failed stop changed the pool")
	}
}

func TestSetPoolStakeLimitRules(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, 10_000, 1_000, 12)
	h.at(h.start())
	h.deposit(t, alice, 100, pool)

	if err := h.engine.SetPoolStakeLimit(alice, pool, u(500)); !errors.Is(err, ErrNotPoolOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}
	if err := h.engine.SetPoolStakeLimit(owner, pool, u(100)); !errors.Is(err, ErrInvalidStakeLimit) {
		t.Fatalf("expected invalid limit, got %v", err)
	}
	if err := h.engine.SetPoolStakeLimit(owner, pool, u(101)); err != nil {
		t.Fatalf("set limit: %v", err)
	}
	if err := h.engine.SetPoolStakeLimit(owner, pool, u(1_000)); err != nil {
		t.Fatalf("raise limit: %v", err)
	}
	expectAmount(t, "limit", h.pool(t, pool).StakeLimit, 1_000)

	h.at(h.start() + 10_000)
	if err := h.engine.SetPoolStakeLimit(owner, pool, u(2_000)); !errors.Is(err, ErrPoolEnded) {
		t.Fatalf("expected ended pool, got %v", err)
	}
}
