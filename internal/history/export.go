package history

import (
	"fmt"
	"os"
)

// ExportFailedUrls writes one block per failed record to path, in the
// retry-ready format mandated by spec §6:
//
//	# Failed: {errorMessage}
//	# Retry count: {n}
//	# Date: {iso8601}
//	{url}
//	<blank line>
//
// This is richer than original_source/core/database.py's
// export_failed_urls, which writes bare URLs with no header — see
// DESIGN.md.
func (s *Store) ExportFailedUrls(path string) error {
	records, err := s.GetFailed(0)
	if err != nil {
		return fmt.Errorf("load failed records: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	for _, r := range records {
		if _, err := fmt.Fprintf(f, "# Failed: %s\n# Retry count: %d\n# Date: %s\n%s\n\n",
			r.ErrorMessage, r.RetryCount, r.Timestamp.Format("2006-01-02T15:04:05Z07:00"), r.URL); err != nil {
			return fmt.Errorf("write export record: %w", err)
		}
	}
	return nil
}
