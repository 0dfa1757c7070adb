package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"stakeledger/core/events"
	"stakeledger/core/types"
	"stakeledger/native/staking"
)

type plainEvent struct{}

func (plainEvent) EventType() string { return "plain" }

func openTestJournal(t *testing.T, path string) *Journal {
	t.Helper()
	j, err := Open("sqlite", path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalRecordsPayloadEvents(t *testing.T) {
	j := openTestJournal(t, filepath.Join(t.TempDir(), "journal.db"))
	var emitter events.Emitter = j

	user := common.HexToAddress("0xb1")
	emitter.Emit(staking.PoolCreated{PoolID: 0, Owner: user, StakingAsset: "STK", RewardAsset: "RWD", TotalReward: uint256.NewInt(1000)})
	emitter.Emit(staking.PositionChanged{Kind: staking.EventTypeDeposit, PoolID: 0, User: user, Amount: uint256.NewInt(10)})
	emitter.Emit(staking.PositionChanged{Kind: staking.EventTypeDeposit, PoolID: 1, User: user, Amount: uint256.NewInt(10)})
	emitter.Emit(plainEvent{})

	all, err := j.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, uint64(1), all[0].Sequence)
	require.Equal(t, staking.EventTypePoolCreated, all[0].Type)
	require.NotEqual(t, all[1].Digest, all[2].Digest)

	attrs, err := all[1].Decoded()
	require.NoError(t, err)
	require.Equal(t, "10", attrs["amount"])
	for _, record := range all {
		ok, err := Verify(record)
		require.NoError(t, err)
		require.True(t, ok)
	}

	deposits, err := j.List(context.Background(), Filter{Type: staking.EventTypeDeposit, PoolID: "1"})
	require.NoError(t, err)
	require.Len(t, deposits, 1)
	require.Equal(t, uint64(3), deposits[0].Sequence)

	later, err := j.List(context.Background(), Filter{After: 2, Limit: 5})
	require.NoError(t, err)
	require.Len(t, later, 1)
}

func TestJournalResumesSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	first, err := Open("sqlite", path, nil)
	require.NoError(t, err)
	require.NoError(t, first.Append(context.Background(), &types.Event{Type: "staking.claim", Attributes: map[string]string{"poolId": "0"}}))
	require.NoError(t, first.Close())

	second := openTestJournal(t, path)
	require.NoError(t, second.Append(context.Background(), &types.Event{Type: "staking.claim", Attributes: map[string]string{"poolId": "0"}}))
	records, err := second.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, uint64(2), records[1].Sequence)
	require.NotEqual(t, records[0].Digest, records[1].Digest)
}

func TestDigestIsOrderIndependent(t *testing.T) {
	a := &types.Event{Type: "x", Attributes: map[string]string{"a": "1", "b": "2"}}
	b := &types.Event{Type: "x", Attributes: map[string]string{"b": "2", "a": "1"}}
	require.Equal(t, Digest(7, a), Digest(7, b))
	require.NotEqual(t, Digest(7, a), Digest(8, a))
	require.Len(t, Digest(1, a), 64)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "", nil)
	require.Error(t, err)
	_, err = New(nil, nil)
	require.Error(t, err)
}
