package scheduler

import "net/url"

// hostOf extracts the hostname for per-host courtesy rate limiting; a
// malformed URL yields an empty host, and the Scheduler simply skips
// rate limiting for it (the Fetcher will classify failures on its own).
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
