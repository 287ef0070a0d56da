// Package history implements the durable record of completed/failed
// download items: an embedded relational store (gorm + sqlite) with
// indexed queries and migration from a legacy flat-file format.
package history

import "time"

// Record is one row of the history table. It is created at item
// finalization and never mutated in place except via UpdateByURL, which
// targets only the most recent row for a given URL (spec §4.C, §8
// invariant 8).
type Record struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	URL          string    `gorm:"index;not null"`
	Title        string    `gorm:""`
	Format       string    `gorm:""`
	Quality      string    `gorm:""`
	Timestamp    time.Time `gorm:"index;not null"`
	OutputPath   string    `gorm:""`
	Success      bool      `gorm:"index"`
	ErrorMessage string    `gorm:""`
	RetryCount   int       `gorm:"default:0"`
	MetaJSON     string    `gorm:"column:metadata"`
}

func (Record) TableName() string { return "history" }

// Setting is the key/value settings table that lives beside history in
// the same database file (original_source/core/database.py keeps the two
// together; spec.md §4.C mandates the same table alongside history).
type Setting struct {
	Key   string `gorm:"primaryKey;column:key"`
	Value string `gorm:"column:value"`
}

func (Setting) TableName() string { return "settings" }

// Stats is the summary returned by Store.Stats().
type Stats struct {
	Total       int64
	Completed   int64
	Failed      int64
	SuccessRate float64
}
