package state

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"stakeledger/native/staking"
	"stakeledger/storage"
)

var (
	testOwner = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testUser  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

func testPool(id uint64) *staking.Pool {
	return &staking.Pool{
		ID:                id,
		StakingAsset:      "STK",
		RewardAsset:       "RWD",
		StartTime:         100,
		EndTime:           200,
		Precision:         uint256.NewInt(1_000_000),
		TotalReward:       uint256.NewInt(5_000),
		TotalStaked:       uint256.NewInt(40),
		AccRewardPerShare: uint256.MustFromDecimal("340282366920938463463374607431768211456"),
		LastRewardTime:    150,
		Owner:             testOwner,
		Version:           3,
	}
}

func TestStakingKeyFormats(t *testing.T) {
	require.Equal(t, append([]byte("staking/pool/"), 0, 0, 0, 0, 0, 0, 0, 7), StakingPoolKey(7))
	posKey := StakingPositionKey(1, testUser)
	require.Len(t, posKey, len("staking/position/")+8+20)
	require.NotEqual(t, posKey, StakingCreditKey(1, testUser))
}

func TestStakingRecordsRoundtrip(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())

	count, err := mgr.StakingPoolCount()
	require.NoError(t, err)
	require.Zero(t, count)
	_, ok, err := mgr.StakingPool(0)
	require.NoError(t, err)
	require.False(t, ok)

	pool := testPool(0)
	cs := &staking.ChangeSet{
		Pools: []*staking.Pool{pool},
		Positions: []*staking.UserPosition{{
			PoolID: 0, User: testUser, Amount: uint256.NewInt(40), RewardDebt: uint256.NewInt(9),
		}},
		Credits: []staking.CreditEntry{{PoolID: 0, User: testUser, Amount: uint256.NewInt(11)}},
		Meta:    &staking.Meta{Admin: testOwner, VersionTag: 3, Initialized: true, SchemaVersion: 2},
	}
	require.NoError(t, mgr.StakingCommit(cs))

	count, err = mgr.StakingPoolCount()
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)

	stored, ok, err := mgr.StakingPool(0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, pool.AccRewardPerShare.Dec(), stored.AccRewardPerShare.Dec())
	require.Equal(t, testOwner, stored.Owner)
	require.Equal(t, uint64(150), stored.LastRewardTime)
	require.True(t, stored.StakeLimit.IsZero(), "nil stake limit decodes as zero")

	pos, ok, err := mgr.StakingPosition(0, testUser)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(40), pos.Amount.Uint64())
	require.Equal(t, uint64(9), pos.RewardDebt.Uint64())

	credit, err := mgr.StakingCredit(0, testUser)
	require.NoError(t, err)
	require.Equal(t, uint64(11), credit.Uint64())

	meta, ok, err := mgr.StakingMeta()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, staking.Meta{Admin: testOwner, VersionTag: 3, Initialized: true, SchemaVersion: 2}, *meta)

	// Zero credit removes the record.
	require.NoError(t, mgr.StakingCommit(&staking.ChangeSet{
		Credits: []staking.CreditEntry{{PoolID: 0, User: testUser, Amount: new(uint256.Int)}},
	}))
	credit, err = mgr.StakingCredit(0, testUser)
	require.NoError(t, err)
	require.True(t, credit.IsZero())
}

func TestStakingCommitRejectsGaps(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	err := mgr.StakingCommit(&staking.ChangeSet{Pools: []*staking.Pool{testPool(1)}})
	require.Error(t, err)
	count, err := mgr.StakingPoolCount()
	require.NoError(t, err)
	require.Zero(t, count)

	require.NoError(t, mgr.StakingCommit(&staking.ChangeSet{Pools: []*staking.Pool{testPool(0)}}))
	updated := testPool(0)
	updated.TotalStaked = uint256.NewInt(99)
	require.NoError(t, mgr.StakingCommit(&staking.ChangeSet{Pools: []*staking.Pool{updated}}))
	count, err = mgr.StakingPoolCount()
	require.NoError(t, err)
	require.Equal(t, uint64(1), count, "rewriting a pool must not grow the registry")
}

func TestStakingCommitCarriesBalances(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	balances := []staking.BalanceEntry{{Asset: "rwd", Account: testOwner, Amount: uint256.NewInt(70)}}

	err := mgr.StakingCommit(&staking.ChangeSet{Pools: []*staking.Pool{testPool(1)}, Balances: balances})
	require.Error(t, err)
	held, err := mgr.BankBalance("RWD", testOwner)
	require.NoError(t, err)
	require.True(t, held.IsZero(), "balances must not land when the records are rejected")

	require.NoError(t, mgr.StakingCommit(&staking.ChangeSet{Pools: []*staking.Pool{testPool(0)}, Balances: balances}))
	held, err = mgr.BankBalance("RWD", testOwner)
	require.NoError(t, err)
	require.Equal(t, uint64(70), held.Uint64())

	require.NoError(t, mgr.StakingCommit(&staking.ChangeSet{Balances: []staking.BalanceEntry{{Asset: "RWD", Account: testOwner}}}))
	held, err = mgr.BankBalance("RWD", testOwner)
	require.NoError(t, err)
	require.True(t, held.IsZero())
}

func TestEngineOverLevelDB(t *testing.T) {
	db, err := storage.NewLevelDB(filepath.Join(t.TempDir(), "ledger"))
	require.NoError(t, err)
	defer db.Close()
	mgr := NewManager(db)

	engine := staking.NewEngine()
	engine.SetState(mgr)
	engine.SetMetrics(nil)
	now := int64(1_000)
	engine.SetNowFunc(func() int64 { return now })
	engine.SetTransfers(passThrough{})

	id, err := engine.AddPool(testOwner, staking.PoolParams{
		StakingAsset:      "stk",
		RewardAsset:       "rwd",
		StartTime:         1_100,
		EndTime:           2_100,
		PrecisionExponent: 18,
		TotalReward:       uint256.NewInt(1_000_000),
	})
	require.NoError(t, err)
	now = 1_100
	_, err = engine.Deposit(testUser, uint256.NewInt(100), id)
	require.NoError(t, err)

	now = 1_600
	pending, err := engine.PreviewPendingReward(testUser, id)
	require.NoError(t, err)
	require.Equal(t, uint64(500_000), pending.Uint64())

	pools, err := engine.ListPools()
	require.NoError(t, err)
	require.Len(t, pools, 1)
	require.Equal(t, "STK", pools[0].StakingAsset)
}

type passThrough struct{}

func (passThrough) Pull(_ string, _ common.Address, amount *uint256.Int) (*uint256.Int, error) {
	return amount.Clone(), nil
}

func (passThrough) Push(string, common.Address, *uint256.Int) error { return nil }
