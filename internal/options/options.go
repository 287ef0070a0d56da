// Package options models caller-supplied DownloadOptions (spec §3) and the
// pure per-attempt configuration builder of the Fetcher Adapter (spec §4.E).
package options

import "strings"

// Kind is the media format kind requested for a batch.
type Kind int

const (
	Audio Kind = iota
	Video
)

// TranscoderArgMode is the transcoder custom-argument mode.
type TranscoderArgMode int

const (
	// TranscoderArgsAppend supplements the default postprocessor args.
	TranscoderArgsAppend TranscoderArgMode = iota
	// TranscoderArgsOverride replaces the default postprocessor args.
	TranscoderArgsOverride
)

// CookieSpec is the tagged union {none | browser | file}; browser takes
// precedence over file when both are set (spec §9).
type CookieSpec struct {
	Browser *BrowserCookies
	File    string
}

// BrowserCookies names a browser-cookie source.
type BrowserCookies struct {
	Name      string
	Profile   string
	Keyring   string
	Container string
}

// Effective returns the cookie source that actually applies, per the
// browser-over-file precedence rule.
func (c CookieSpec) Effective() (browser *BrowserCookies, file string) {
	if c.Browser != nil {
		return c.Browser, ""
	}
	return nil, c.File
}

// DownloadOptions is the caller-supplied, immutable-per-batch option
// record (spec §3), matching original_source/core/config.py's
// DownloadOptions field-for-field.
type DownloadOptions struct {
	Directory                string
	OutputTemplate           string
	Kind                     Kind
	Quality                  string
	PlaylistMode             bool
	RestrictFilenames        bool
	Retries                  int
	FragmentRetries          int
	ConcurrentFragments      int
	NoCheckCertificate       bool
	Cookies                  CookieSpec
	TranscoderArgs           string
	TranscoderArgsMode       TranscoderArgMode
	UseExternalAccelerator   bool
	AcceleratorMaxConns      int
	MaxConcurrentDownloads   int
}

// DefaultTemplate is substituted whenever the caller's template is blank
// (spec §4.E, §8 invariant 11).
const DefaultTemplate = "%(title).150s"

// NormalizedTemplate strips surrounding whitespace and falls back to
// DefaultTemplate when empty.
func (o DownloadOptions) NormalizedTemplate() string {
	t := strings.TrimSpace(o.OutputTemplate)
	if t == "" {
		return DefaultTemplate
	}
	return t
}
