package staking

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakeledger/core/events"
	nativecommon "stakeledger/native/common"
	"stakeledger/observability/metrics"
)

const moduleName = "staking"

type engineState interface {
	StakingPoolCount() (uint64, error)
	StakingPool(id uint64) (*Pool, bool, error)
	StakingPosition(poolID uint64, user common.Address) (*UserPosition, bool, error)
	StakingCredit(poolID uint64, user common.Address) (*uint256.Int, error)
	StakingMeta() (*Meta, bool, error)
	StakingCommit(cs *ChangeSet) error
}

// AssetTransferAdapter moves value between callers and the ledger's holding
// account. Pull must report the amount actually received, which can be lower
// than requested for assets that skim a fee on transfer.
type AssetTransferAdapter interface {
	Pull(asset string, from common.Address, amount *uint256.Int) (*uint256.Int, error)
	Push(asset string, to common.Address, amount *uint256.Int) error
}

// HoldingsReader is optionally implemented by adapters that can report how
// much of an asset the ledger currently holds.
type HoldingsReader interface {
	Holdings(asset string) (*uint256.Int, error)
}

// AdminAuthority decides who may run registry-wide administrative operations.
type AdminAuthority interface {
	IsAdmin(addr common.Address) bool
}

// Engine implements the pool registry, the reward accrual engine and the user
// ledger on top of a pluggable state backend.
type Engine struct {
	state     engineState
	transfers AssetTransferAdapter
	emitter   events.Emitter
	nowFn     func() int64
	pauses    nativecommon.PauseView
	authority AdminAuthority
	guard     nativecommon.ReentrancyGuard
	telemetry *metrics.StakingMetrics
}

// NewEngine constructs a staking engine with default dependencies.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn: func() int64 {
			return time.Now().Unix()
		},
		telemetry: metrics.Staking(),
	}
}

// SetState wires the engine to the persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTransfers configures the adapter used to move assets.
func (e *Engine) SetTransfers(adapter AssetTransferAdapter) { e.transfers = adapter }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetPauses wires the module pause switch. Emergency withdrawals ignore it.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetAuthority overrides the administrator recorded at initialisation.
func (e *Engine) SetAuthority(authority AdminAuthority) {
	if e == nil {
		return
	}
	e.authority = authority
}

// SetMetrics replaces the telemetry sink. A nil value disables metrics.
func (e *Engine) SetMetrics(m *metrics.StakingMetrics) {
	if e == nil {
		return
	}
	e.telemetry = m
}

// enter takes the reentrancy guard for a mutating operation.
func (e *Engine) enter(pausable bool) (func(), error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	release, err := e.guard.Enter()
	if err != nil {
		e.telemetry.ObserveReentrancy()
		return nil, ErrReentrant
	}
	if pausable {
		if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
			release()
			return nil, err
		}
	}
	return release, nil
}

func (e *Engine) begin() *stagedState {
	return newStagedState(e.state, e.transfers)
}

func (e *Engine) commit(tx *stagedState) error {
	cs := tx.changeSet()
	if cs.Empty() {
		return nil
	}
	if err := e.state.StakingCommit(cs); err != nil {
		return fmt.Errorf("staking: commit: %w", err)
	}
	for _, pool := range cs.Pools {
		e.telemetry.SetPoolState(pool.ID, toFloat(pool.TotalStaked), toFloat(pool.AccRewardPerShare))
	}
	if tx.countRead {
		e.telemetry.SetPoolCount(tx.count)
	}
	return nil
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || evt == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() uint64 {
	var ts int64
	if e == nil || e.nowFn == nil {
		ts = time.Now().Unix()
	} else {
		ts = e.nowFn()
	}
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) pull(tx *stagedState, asset string, from common.Address, amount *uint256.Int) (*uint256.Int, error) {
	return tx.transfers.pull(asset, from, amount)
}

func (e *Engine) push(tx *stagedState, asset string, to common.Address, amount *uint256.Int, kind string) error {
	if isZero(amount) {
		return nil
	}
	if err := tx.transfers.push(asset, to, amount); err != nil {
		return err
	}
	e.telemetry.ObservePayout(asset, kind, toFloat(amount))
	return nil
}

func (e *Engine) observe(operation string, err error) {
	if e == nil {
		return
	}
	e.telemetry.ObserveOperation(operation, err)
}

func toFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
