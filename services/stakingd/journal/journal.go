package journal

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"stakeledger/core/events"
	"stakeledger/core/types"
)

const defaultListLimit = 100

// Record is one journaled ledger event.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Sequence   uint64    `gorm:"uniqueIndex;not null" json:"sequence"`
	Type       string    `gorm:"size:64;index" json:"type"`
	PoolID     string    `gorm:"size:20;index" json:"poolId,omitempty"`
	Attributes string    `gorm:"type:text" json:"-"`
	Digest     string    `gorm:"size:64;uniqueIndex" json:"digest"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TableName pins the table name across drivers.
func (Record) TableName() string { return "ledger_events" }

// Decoded returns the stored attribute map.
func (r Record) Decoded() (map[string]string, error) {
	attrs := make(map[string]string)
	if r.Attributes == "" {
		return attrs, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	return attrs, nil
}

// Filter narrows List results.
type Filter struct {
	Type   string
	PoolID string
	After  uint64
	Limit  int
}

// Journal persists ledger events into a SQL database. It satisfies
// events.Emitter so it can sit next to other subscribers in a fanout.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	next uint64
}

// Open connects to the configured driver and migrates the schema.
func Open(driver, dsn string, log *slog.Logger) (*Journal, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", driver, err)
	}
	return New(db, log)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, log *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal: database required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	var last Record
	next := uint64(1)
	err := db.Order("sequence desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("journal: load sequence: %w", err)
	}
	if last.Sequence > 0 {
		next = last.Sequence + 1
	}
	return &Journal{db: db, logger: log, now: time.Now, next: next}, nil
}

// Emit implements events.Emitter. Events that cannot render themselves are
// skipped. Failures are logged; the ledger state is already committed.
func (j *Journal) Emit(evt events.Event) {
	payload, ok := evt.(events.Payload)
	if !ok {
		return
	}
	if err := j.Append(context.Background(), payload.Event()); err != nil {
		j.logger.Error("journal append failed", slog.String("type", evt.EventType()), slog.Any("error", err))
	}
}

// Append stores evt under the next sequence number.
func (j *Journal) Append(ctx context.Context, evt *types.Event) error {
	if evt == nil {
		return errors.New("journal: nil event")
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return fmt.Errorf("journal: encode attributes: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	record := Record{
		ID:         uuid.New(),
		Sequence:   j.next,
		Type:       evt.Type,
		PoolID:     evt.Attributes["poolId"],
		Attributes: string(attrs),
		Digest:     Digest(j.next, evt),
		CreatedAt:  j.now().UTC(),
	}
	res := j.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
	if res.Error != nil {
		return fmt.Errorf("journal: insert: %w", res.Error)
	}
	j.next++
	return nil
}

// List returns events in sequence order.
func (j *Journal) List(ctx context.Context, filter Filter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultListLimit
	}
	query := j.db.WithContext(ctx).Model(&Record{}).Where("sequence > ?", filter.After)
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.PoolID != "" {
		query = query.Where("pool_id = ?", filter.PoolID)
	}
	var out []Record
	if err := query.Order("sequence asc").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return out, nil
}

// Verify recomputes the digest of a stored record.
func Verify(r Record) (bool, error) {
	attrs, err := r.Decoded()
	if err != nil {
		return false, err
	}
	return Digest(r.Sequence, &types.Event{Type: r.Type, Attributes: attrs}) == r.Digest, nil
}

// Digest hashes the sequence number, type and sorted attributes of an event.
func Digest(sequence uint64, evt *types.Event) string {
	h := blake3.New(32, nil)
	fmt.Fprintf(h, "%d\x00%s\x00", sequence, evt.Type)
	for _, key := range evt.SortedKeys() {
		fmt.Fprintf(h, "%s=%s\x00", key, evt.Attributes[key])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
