// Package reconciler locates and deletes partial artifacts left by an
// aborted download item. It runs only on the failure path — never on
// success, since the pattern list includes "{stem}.mp4" which would
// otherwise delete a just-finished valid output (spec §9).
package reconciler

import (
	"log/slog"
	"os"
	"path/filepath"
)

// Result reports what the reconciliation pass did.
type Result struct {
	Removed int
	Failed  int
}

// patterns mirrors the exact glob list from
// original_source/core/downloader.py's _cleanup_artifacts_for_current_item.
func patterns(stem string) []string {
	return []string{
		stem + ".part",
		stem + ".ytdl",
		stem + ".ytdl.part",
		stem + ".tmp",
		stem + ".temp",
		stem + "-video.*",
		stem + "-audio.*",
		stem + "*.m4s",
		stem + "*.ts",
		stem + ".webp",
		stem + ".jpg",
		stem + ".png",
		stem + ".mp4",
	}
}

// Reconcile unions the candidates already observed by the Driver with
// every path in dir matching the glob patterns for stem, then deletes each
// existing regular file. Per-file failures are logged and skipped, never
// propagated; a missing stem or directory is a no-op.
func Reconcile(log *slog.Logger, dir, stem string, candidates map[string]struct{}) Result {
	if stem == "" || dir == "" {
		return Result{}
	}
	if _, err := os.Stat(dir); err != nil {
		return Result{}
	}

	all := map[string]struct{}{}
	for c := range candidates {
		all[c] = struct{}{}
	}
	for _, pat := range patterns(stem) {
		matches, err := filepath.Glob(filepath.Join(dir, pat))
		if err != nil {
			continue
		}
		for _, m := range matches {
			all[m] = struct{}{}
		}
	}

	var res Result
	for path := range all {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if err := os.Remove(path); err != nil {
			res.Failed++
			if log != nil {
				log.Warn("reconciler: failed to remove artifact", "path", path, "error", err)
			}
			continue
		}
		res.Removed++
	}

	if res.Removed == 0 && log != nil {
		log.Info("reconciler: no artifacts found to remove", "dir", dir, "stem", stem)
	}
	return res
}
