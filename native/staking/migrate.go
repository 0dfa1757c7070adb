package staking

import "fmt"

// CurrentSchemaVersion is the layout version written by this release.
const CurrentSchemaVersion uint64 = 2

type migration struct {
	from  uint64
	apply func(tx *stagedState, meta *Meta) error
}

var migrations = []migration{
	{from: 0, apply: migrateInitialLayout},
	{from: 1, apply: migrateNormalizeAssets},
}

// Migrate upgrades the stored layout to CurrentSchemaVersion. Running it on an
// up-to-date store is a no-op. The accrual fields of existing pools are never
// rewritten.
func (e *Engine) Migrate() (from uint64, err error) {
	defer func() { e.observe("migrate", err) }()
	release, err := e.enter(false)
	if err != nil {
		return 0, err
	}
	defer release()

	tx := e.begin()
	meta, err := tx.loadMeta()
	if err != nil {
		return 0, err
	}
	from = meta.SchemaVersion
	if from > CurrentSchemaVersion {
		return from, fmt.Errorf("staking: schema version %d is newer than supported %d", from, CurrentSchemaVersion)
	}
	for _, m := range migrations {
		if meta.SchemaVersion != m.from {
			continue
		}
		if err := m.apply(tx, meta); err != nil {
			return from, fmt.Errorf("staking: migrate from schema %d: %w", m.from, err)
		}
		meta.SchemaVersion = m.from + 1
	}
	if meta.SchemaVersion == from {
		return from, nil
	}
	tx.putMeta(meta)
	return from, e.commit(tx)
}

// migrateInitialLayout covers stores written before the meta record existed:
// pool count and pools are already in place, only the meta record is new.
func migrateInitialLayout(tx *stagedState, meta *Meta) error {
	_, err := tx.poolCount()
	return err
}

// migrateNormalizeAssets canonicalises asset identifiers and fills amounts
// older layouts left unset.
func migrateNormalizeAssets(tx *stagedState, meta *Meta) error {
	count, err := tx.poolCount()
	if err != nil {
		return err
	}
	for id := uint64(0); id < count; id++ {
		pool, err := tx.pool(id)
		if err != nil {
			return err
		}
		pool.StakingAsset = NormalizeAsset(pool.StakingAsset)
		pool.RewardAsset = NormalizeAsset(pool.RewardAsset)
		tx.putPool(pool)
	}
	return nil
}
