package history

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// legacyRecord mirrors one entry of the legacy JSON history file. Accepts
// both a raw array and {"records": […]} (spec §9 "Legacy JSON
// compatibility").
type legacyRecord struct {
	URL          string `json:"url"`
	Title        string `json:"title"`
	Format       string `json:"format"`
	Quality      string `json:"quality"`
	Timestamp    string `json:"timestamp"`
	OutputPath   string `json:"output_path"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message"`
	RetryCount   int    `json:"retry_count"`
}

type legacyEnvelope struct {
	Records []legacyRecord `json:"records"`
}

// migrateFromJSON ingests a legacy flat-file history, preserving original
// timestamps, then renames the source file to "<path>.backup" so
// subsequent opens do not re-migrate (spec §6, §8.6, §9). It returns the
// number of records migrated.
func (s *Store) migrateFromJSON(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read legacy history: %w", err)
	}

	records, err := parseLegacyJSON(raw)
	if err != nil {
		return 0, fmt.Errorf("parse legacy history: %w", err)
	}

	for _, lr := range records {
		ts := nowUTC()
		if lr.Timestamp != "" {
			if parsed, err := time.Parse(time.RFC3339, lr.Timestamp); err == nil {
				ts = parsed
			}
		}
		rec := Record{
			URL: lr.URL, Title: lr.Title, Format: lr.Format, Quality: lr.Quality,
			Timestamp: ts, OutputPath: lr.OutputPath, Success: lr.Success,
			ErrorMessage: lr.ErrorMessage, RetryCount: lr.RetryCount,
		}
		if err := s.addRecord(rec); err != nil {
			return 0, fmt.Errorf("insert migrated record for %q: %w", lr.URL, err)
		}
	}

	backup := path + ".backup"
	if err := os.Rename(path, backup); err != nil {
		return 0, fmt.Errorf("rename legacy history to backup: %w", err)
	}

	return len(records), nil
}

// parseLegacyJSON accepts either a raw array of records or an
// {"records": […]} envelope.
func parseLegacyJSON(raw []byte) ([]legacyRecord, error) {
	var envelope legacyEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Records != nil {
		return envelope.Records, nil
	}
	var records []legacyRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func nowUTC() time.Time { return time.Now().UTC() }
