package history

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DefaultPath returns ~/.ytdle/ytdle.db, the default history database
// location (spec §6). Callers may override it freely.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ytdle", "ytdle.db"), nil
}

// DefaultLegacyJSONPath returns ~/.ytdle/history.json, the legacy flat-file
// location migrated on first open.
func DefaultLegacyJSONPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ytdle", "history.json"), nil
}

// Store is the History Store of spec §4.C: a single-writer,
// multi-reader embedded relational database.
type Store struct {
	db *gorm.DB
}

// Open creates the database file (and its parent directory) if needed,
// enables WAL journaling for concurrent readers, migrates the schema, and
// — if a legacy JSON history exists at legacyJSONPath and no migration has
// run yet — ingests it and renames it to ".backup" (spec §4.C, §6, §8.7,
// §9). Passing "" for legacyJSONPath skips migration entirely.
func Open(dbPath, legacyJSONPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := db.Exec("PRAGMA synchronous=NORMAL;").Error; err != nil {
		return nil, fmt.Errorf("set synchronous: %w", err)
	}
	if err := db.AutoMigrate(&Record{}, &Setting{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	s := &Store{db: db}

	if legacyJSONPath != "" {
		if _, err := os.Stat(legacyJSONPath); err == nil {
			if _, err := s.migrateFromJSON(legacyJSONPath); err != nil {
				return nil, fmt.Errorf("migrate legacy history: %w", err)
			}
		}
	}

	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AddCompleted appends a successful record.
func (s *Store) AddCompleted(url, title, format, quality, outputPath string) error {
	return s.addRecord(Record{
		URL: url, Title: title, Format: format, Quality: quality,
		Timestamp: nowUTC(), OutputPath: outputPath, Success: true,
	})
}

// AddFailed appends a failed record with the given error message and
// retry count.
func (s *Store) AddFailed(url, title, format, quality, errMsg string, retryCount int) error {
	return s.addRecord(Record{
		URL: url, Title: title, Format: format, Quality: quality,
		Timestamp: nowUTC(), Success: false, ErrorMessage: errMsg, RetryCount: retryCount,
	})
}

// addRecord writes inside an explicit transaction: commit on success,
// rollback on any error (spec §4.C "atomic commit per write; rollback on
// any raised error inside a write session").
func (s *Store) addRecord(r Record) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&r).Error
	})
}

// GetAll returns all records, newest first. limit <= 0 means unlimited.
func (s *Store) GetAll(limit int) ([]Record, error) {
	return s.query(s.db, limit)
}

// GetCompleted returns successful records, newest first.
func (s *Store) GetCompleted(limit int) ([]Record, error) {
	return s.query(s.db.Where("success = ?", true), limit)
}

// GetFailed returns failed records, newest first.
func (s *Store) GetFailed(limit int) ([]Record, error) {
	return s.query(s.db.Where("success = ?", false), limit)
}

func (s *Store) query(tx *gorm.DB, limit int) ([]Record, error) {
	var records []Record
	q := tx.Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Search does a case-insensitive substring match on url OR title.
func (s *Store) Search(query string, limit int) ([]Record, error) {
	like := "%" + query + "%"
	tx := s.db.Where("url LIKE ? OR title LIKE ?", like, like)
	return s.query(tx, limit)
}

// Fields is the set of optional fields UpdateByURL may patch.
type Fields struct {
	Title        *string
	Success      *bool
	OutputPath   *string
	ErrorMessage *string
	RetryCount   *int
}

// UpdateByURL applies a partial update to the most recent record for url
// (spec §4.C, §8 invariant 8). This deliberately differs from
// original_source/core/database.py's update_record, which updates every
// row matching the URL with no ordering — see DESIGN.md.
func (s *Store) UpdateByURL(url string, fields Fields) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var rec Record
		err := tx.Where("url = ?", url).Order("id DESC").First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("no history record for url %q", url)
		}
		if err != nil {
			return err
		}

		updates := map[string]any{}
		if fields.Title != nil {
			updates["title"] = *fields.Title
		}
		if fields.Success != nil {
			updates["success"] = *fields.Success
		}
		if fields.OutputPath != nil {
			updates["output_path"] = *fields.OutputPath
		}
		if fields.ErrorMessage != nil {
			updates["error_message"] = *fields.ErrorMessage
		}
		if fields.RetryCount != nil {
			updates["retry_count"] = *fields.RetryCount
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&Record{}).Where("id = ?", rec.ID).Updates(updates).Error
	})
}

// ClearAll deletes every history record.
func (s *Store) ClearAll() error {
	return s.db.Exec("DELETE FROM history").Error
}

// ClearCompleted deletes only successful records.
func (s *Store) ClearCompleted() error {
	return s.db.Where("success = ?", true).Delete(&Record{}).Error
}

// ClearFailed deletes only failed records.
func (s *Store) ClearFailed() error {
	return s.db.Where("success = ?", false).Delete(&Record{}).Error
}

// Stats summarizes the store.
func (s *Store) Stats() (Stats, error) {
	var total, completed int64
	if err := s.db.Model(&Record{}).Count(&total).Error; err != nil {
		return Stats{}, err
	}
	if err := s.db.Model(&Record{}).Where("success = ?", true).Count(&completed).Error; err != nil {
		return Stats{}, err
	}
	failed := total - completed
	rate := 0.0
	if total > 0 {
		rate = float64(completed) / float64(total) * 100
	}
	return Stats{Total: total, Completed: completed, Failed: failed, SuccessRate: rate}, nil
}

// GetSetting returns a stored setting value, or ("", false) if absent.
func (s *Store) GetSetting(key string) (string, bool, error) {
	var row Setting
	err := s.db.Where("key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.Value, true, nil
}

// SetSetting upserts a setting value.
func (s *Store) SetSetting(key, value string) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&Setting{Key: key, Value: value}).Error
}
