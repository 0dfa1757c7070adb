package staking

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type positionKey struct {
	poolID uint64
	user   common.Address
}

// stagedState buffers the reads and writes of a single operation on top of
// the persistent state. Nothing reaches the store until the engine commits
// the resulting change set, so a failed operation leaves no trace.
type stagedState struct {
	base      engineState
	count     uint64
	countRead bool
	pools     map[uint64]*Pool
	positions map[positionKey]*UserPosition
	credits   map[positionKey]*uint256.Int
	meta      *Meta
	transfers *transferSession
}

func newStagedState(base engineState, adapter AssetTransferAdapter) *stagedState {
	return &stagedState{
		base:      base,
		transfers: &transferSession{adapter: adapter},
		pools:     make(map[uint64]*Pool),
		positions: make(map[positionKey]*UserPosition),
		credits:   make(map[positionKey]*uint256.Int),
	}
}

func (s *stagedState) poolCount() (uint64, error) {
	if !s.countRead {
		count, err := s.base.StakingPoolCount()
		if err != nil {
			return 0, err
		}
		s.count = count
		s.countRead = true
	}
	return s.count, nil
}

func (s *stagedState) pool(id uint64) (*Pool, error) {
	if pool, ok := s.pools[id]; ok {
		return pool, nil
	}
	pool, ok, err := s.base.StakingPool(id)
	if err != nil {
		return nil, err
	}
	if !ok || pool == nil {
		return nil, ErrPoolDoesNotExist
	}
	pool = pool.Clone()
	pool.EnsureDefaults()
	return pool, nil
}

func (s *stagedState) putPool(pool *Pool) {
	s.pools[pool.ID] = pool
}

func (s *stagedState) appendPool(pool *Pool) (uint64, error) {
	count, err := s.poolCount()
	if err != nil {
		return 0, err
	}
	pool.ID = count
	s.pools[count] = pool
	s.count = count + 1
	return count, nil
}

func (s *stagedState) position(poolID uint64, user common.Address) (*UserPosition, error) {
	key := positionKey{poolID: poolID, user: user}
	if pos, ok := s.positions[key]; ok {
		return pos, nil
	}
	pos, ok, err := s.base.StakingPosition(poolID, user)
	if err != nil {
		return nil, err
	}
	if !ok || pos == nil {
		pos = &UserPosition{PoolID: poolID, User: user}
	} else {
		pos = pos.Clone()
	}
	pos.EnsureDefaults()
	return pos, nil
}

func (s *stagedState) putPosition(pos *UserPosition) {
	s.positions[positionKey{poolID: pos.PoolID, user: pos.User}] = pos
}

func (s *stagedState) credit(poolID uint64, user common.Address) (*uint256.Int, error) {
	key := positionKey{poolID: poolID, user: user}
	if credit, ok := s.credits[key]; ok {
		return credit.Clone(), nil
	}
	credit, err := s.base.StakingCredit(poolID, user)
	if err != nil {
		return nil, err
	}
	if credit == nil {
		return new(uint256.Int), nil
	}
	return credit.Clone(), nil
}

func (s *stagedState) putCredit(poolID uint64, user common.Address, amount *uint256.Int) {
	s.credits[positionKey{poolID: poolID, user: user}] = zeroIfNil(amount).Clone()
}

func (s *stagedState) loadMeta() (*Meta, error) {
	if s.meta != nil {
		return s.meta, nil
	}
	meta, ok, err := s.base.StakingMeta()
	if err != nil {
		return nil, err
	}
	if !ok || meta == nil {
		return &Meta{}, nil
	}
	return meta.Clone(), nil
}

func (s *stagedState) putMeta(meta *Meta) {
	s.meta = meta
}

// changeSet renders the staged writes in a deterministic order.
func (s *stagedState) changeSet() *ChangeSet {
	cs := &ChangeSet{Meta: s.meta, Balances: s.transfers.balances()}
	for _, pool := range s.pools {
		cs.Pools = append(cs.Pools, pool)
	}
	sort.Slice(cs.Pools, func(i, j int) bool { return cs.Pools[i].ID < cs.Pools[j].ID })

	for _, pos := range s.positions {
		cs.Positions = append(cs.Positions, pos)
	}
	sort.Slice(cs.Positions, func(i, j int) bool {
		return lessKey(cs.Positions[i].PoolID, cs.Positions[i].User, cs.Positions[j].PoolID, cs.Positions[j].User)
	})

	for key, amount := range s.credits {
		cs.Credits = append(cs.Credits, CreditEntry{PoolID: key.poolID, User: key.user, Amount: amount})
	}
	sort.Slice(cs.Credits, func(i, j int) bool {
		return lessKey(cs.Credits[i].PoolID, cs.Credits[i].User, cs.Credits[j].PoolID, cs.Credits[j].User)
	})
	return cs
}

// finish ends the operation's transfer session. It must run after the
// commit attempt with the operation's final error.
func (s *stagedState) finish(err error) error {
	return s.transfers.finish(err)
}

func lessKey(poolA uint64, userA common.Address, poolB uint64, userB common.Address) bool {
	if poolA != poolB {
		return poolA < poolB
	}
	return bytes.Compare(userA[:], userB[:]) < 0
}
