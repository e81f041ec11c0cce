// Package sqlstore implements store.Store on a relational database through gorm.
//
// Entries live in a single table with a per-row version column. Update reads the declared
// rows, runs the callback, then commits inside a transaction where every write is a
// compare-and-swap on the version that was read (or a plain INSERT for absent keys, guarded
// by the primary key). Losing a race re-runs the callback.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MrEthical07/authcore/store"
)

// TableName is the table holding all entries.
const TableName = "authcore_kv"

var errVersionChanged = errors.New("sqlstore: version changed")

type kvEntry struct {
	Key       string `gorm:"column:entry_key;primaryKey;size:512"`
	Value     []byte `gorm:"column:entry_value"`
	Version   int64  `gorm:"column:version;not null"`
	ExpiresAt int64  `gorm:"column:expires_at;not null;index"`
}

func (kvEntry) TableName() string { return TableName }

func (e kvEntry) expired(now time.Time) bool {
	return e.ExpiresAt != 0 && now.UnixNano() >= e.ExpiresAt
}

// Store is a gorm-backed store.Store.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open connects to driver ("sqlite" or "postgres") with gorm's logger silenced and error
// translation enabled, which Update relies on to detect duplicate inserts.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	return db, nil
}

// New migrates the entry table and returns a Store over db. db should be opened with
// TranslateError enabled (see Open).
func New(db *gorm.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlstore: nil db")
	}
	if err := db.AutoMigrate(&kvEntry{}); err != nil {
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var row kvEntry
	err := s.db.WithContext(ctx).Where("entry_key = ?", key).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, unavailable(err)
	}
	if row.expired(s.now()) {
		return nil, store.ErrNotFound
	}
	if row.Value == nil {
		return []byte{}, nil
	}
	return row.Value, nil
}

// Put implements store.Store.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.Update(ctx, []string{key}, func(tx store.Tx) error {
		return tx.Put(key, value, ttl)
	})
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("entry_key = ?", key).Delete(&kvEntry{}).Error; err != nil {
		return unavailable(err)
	}
	return nil
}

// Update implements store.Store.
func (s *Store) Update(ctx context.Context, keys []string, fn func(tx store.Tx) error) error {
	for attempt := 0; attempt < store.MaxUpdateAttempts; attempt++ {
		err := s.updateOnce(ctx, keys, fn)
		if errors.Is(err, errVersionChanged) {
			continue
		}
		return err
	}
	return store.ErrConflict
}

func (s *Store) updateOnce(ctx context.Context, keys []string, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return store.Unavailable(err)
	}
	db := s.db.WithContext(ctx)

	var rows []kvEntry
	if len(keys) > 0 {
		if err := db.Where("entry_key IN ?", keys).Find(&rows).Error; err != nil {
			return unavailable(err)
		}
	}

	now := s.now()
	versions := make(map[string]int64, len(rows))
	snapshot := make(map[string][]byte, len(keys))
	for _, k := range keys {
		snapshot[k] = nil
	}
	for _, row := range rows {
		versions[row.Key] = row.Version
		if row.expired(now) {
			continue
		}
		if row.Value == nil {
			snapshot[row.Key] = []byte{}
		} else {
			snapshot[row.Key] = row.Value
		}
	}

	buf := store.NewBuffer(snapshot)
	if err := fn(buf); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return store.Unavailable(err)
	}

	written := make(map[string]bool, len(buf.Writes()))
	err := db.Transaction(func(tx *gorm.DB) error {
		for _, w := range buf.Writes() {
			written[w.Key] = true
			version, existed := versions[w.Key]
			if err := s.apply(tx, w, version, existed, now); err != nil {
				return err
			}
		}
		// Keys that were only read must still hold the version we saw.
		for _, k := range keys {
			if written[k] {
				continue
			}
			if err := validate(tx, k, versions); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, errVersionChanged) {
		return err
	}
	return unavailable(err)
}

func (s *Store) apply(tx *gorm.DB, w store.Write, version int64, existed bool, now time.Time) error {
	switch {
	case w.Delete && !existed:
		var count int64
		if err := tx.Model(&kvEntry{}).Where("entry_key = ?", w.Key).Count(&count).Error; err != nil {
			return err
		}
		if count != 0 {
			return errVersionChanged
		}
		return nil
	case w.Delete:
		res := tx.Where("entry_key = ? AND version = ?", w.Key, version).Delete(&kvEntry{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errVersionChanged
		}
		return nil
	case existed:
		res := tx.Model(&kvEntry{}).
			Where("entry_key = ? AND version = ?", w.Key, version).
			Updates(map[string]any{
				"entry_value": valueOrEmpty(w.Value),
				"version":     version + 1,
				"expires_at":  expiresAt(now, w.TTL),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errVersionChanged
		}
		return nil
	default:
		row := kvEntry{
			Key:       w.Key,
			Value:     valueOrEmpty(w.Value),
			Version:   1,
			ExpiresAt: expiresAt(now, w.TTL),
		}
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errVersionChanged
			}
			return err
		}
		return nil
	}
}

func validate(tx *gorm.DB, key string, versions map[string]int64) error {
	var rows []kvEntry
	if err := tx.Select("entry_key", "version").Where("entry_key = ?", key).Find(&rows).Error; err != nil {
		return err
	}
	version, existed := versions[key]
	switch {
	case !existed && len(rows) == 0:
		return nil
	case existed && len(rows) == 1 && rows[0].Version == version:
		return nil
	default:
		return errVersionChanged
	}
}

// Sweep deletes expired rows and returns how many were removed.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at <> 0 AND expires_at <= ?", s.now().UnixNano()).
		Delete(&kvEntry{})
	if res.Error != nil {
		return 0, unavailable(res.Error)
	}
	return res.RowsAffected, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func expiresAt(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now.Add(ttl).UnixNano()
}

func valueOrEmpty(v []byte) []byte {
	if v == nil {
		return []byte{}
	}
	return v
}

func unavailable(err error) error {
	return store.Unavailable(fmt.Errorf("sql: %w", err))
}
