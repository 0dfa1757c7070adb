package staking

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Initialize records the registry administrator and the initial version tag.
// It succeeds at most once for the lifetime of the store.
func (e *Engine) Initialize(admin common.Address, versionTag uint64) (err error) {
	defer func() { e.observe("initialize", err) }()
	release, err := e.enter(false)
	if err != nil {
		return err
	}
	defer release()

	tx := e.begin()
	meta, err := tx.loadMeta()
	if err != nil {
		return err
	}
	if meta.Initialized {
		return ErrAlreadyInitialized
	}
	meta.Admin = admin
	meta.VersionTag = versionTag
	meta.Initialized = true
	tx.putMeta(meta)
	return e.commit(tx)
}

// Meta returns the registry settings.
func (e *Engine) Meta() (*Meta, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.begin().loadMeta()
}

func (e *Engine) isAdmin(tx *stagedState, caller common.Address) (bool, error) {
	if e.authority != nil {
		return e.authority.IsAdmin(caller), nil
	}
	meta, err := tx.loadMeta()
	if err != nil {
		return false, err
	}
	return meta.Initialized && meta.Admin == caller, nil
}

func (e *Engine) requireAdmin(tx *stagedState, caller common.Address) error {
	ok, err := e.isAdmin(tx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAdmin
	}
	return nil
}

// SetVersionTag changes the tag recorded against pools created from now on.
func (e *Engine) SetVersionTag(caller common.Address, tag uint64) (err error) {
	defer func() { e.observe("set_version_tag", err) }()
	release, err := e.enter(true)
	if err != nil {
		return err
	}
	defer release()

	tx := e.begin()
	if err := e.requireAdmin(tx, caller); err != nil {
		return err
	}
	meta, err := tx.loadMeta()
	if err != nil {
		return err
	}
	previous := meta.VersionTag
	meta.VersionTag = tag
	tx.putMeta(meta)
	if err := e.commit(tx); err != nil {
		return err
	}
	e.emit(VersionTagSet{Previous: previous, Current: tag})
	return nil
}

// stakedPrincipal sums TotalStaked across every pool staking asset.
func (e *Engine) stakedPrincipal(tx *stagedState, asset string) (*uint256.Int, error) {
	count, err := tx.poolCount()
	if err != nil {
		return nil, err
	}
	total := new(uint256.Int)
	for id := uint64(0); id < count; id++ {
		pool, err := tx.pool(id)
		if err != nil {
			return nil, err
		}
		if pool.StakingAsset != asset {
			continue
		}
		if total, err = checkedAdd(total, pool.TotalStaked); err != nil {
			return nil, err
		}
	}
	return total, nil
}

// SweepStrandedAsset moves assets that reached the ledger outside of any pool
// flow to recipient. When the adapter reports holdings, staked principal of
// that asset cannot be swept.
func (e *Engine) SweepStrandedAsset(caller common.Address, asset string, amount *uint256.Int, recipient common.Address) (err error) {
	defer func() { e.observe("sweep", err) }()
	release, err := e.enter(true)
	if err != nil {
		return err
	}
	defer release()

	asset = NormalizeAsset(asset)
	if asset == "" {
		return ErrInvalidAsset
	}
	if isZero(amount) {
		return ErrAmountIsZero
	}
	tx := e.begin()
	defer func() { err = tx.finish(err) }()
	if err := e.requireAdmin(tx, caller); err != nil {
		return err
	}
	held, known, err := tx.transfers.holdings(asset)
	if err != nil {
		return err
	}
	if known {
		staked, err := e.stakedPrincipal(tx, asset)
		if err != nil {
			return err
		}
		stranded := new(uint256.Int)
		if held != nil && held.Cmp(staked) > 0 {
			stranded.Sub(held, staked)
		}
		if amount.Cmp(stranded) > 0 {
			return ErrSweepExceedsStranded
		}
	}
	if err := e.push(tx, asset, recipient, amount, "sweep"); err != nil {
		return err
	}
	if err := e.commit(tx); err != nil {
		return err
	}
	e.emit(AssetSwept{Asset: asset, Recipient: recipient, Amount: amount.Clone()})
	return nil
}
