package options

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/shlex"
)

// Postprocessor names one post-processing step requested of the Fetcher
// (audio extraction, metadata embed, thumbnail embed).
type Postprocessor struct {
	Key  string
	Args []string
}

// Attempt is the deterministic, pure-function output of BuildAttempt: a
// full configuration record for one Fetcher invocation (spec §4.E).
type Attempt struct {
	OutputTemplate   string
	Format           string
	MergeOutputFormat string
	NoPlaylist       bool
	RestrictFilenames bool
	NoCheckCertificate bool
	Retries          int
	FragmentRetries  int
	ConcurrentFragments int
	TranscoderPath   string
	CookieBrowser    *BrowserCookies
	CookieFile       string
	WriteThumbnail   bool
	Postprocessors   []Postprocessor
	// PostprocessorArgs are the custom transcoder argument string's
	// tokens (spec §4.E "pass as post-processor arguments"), destined for
	// yt-dlp's generic "ffmpeg" postprocessor-args key — distinct from
	// any external-downloader configuration.
	PostprocessorArgs []string
	// ExternalDownloaderName/ExternalDownloaderArgs configure yt-dlp's
	// external-downloader delegation (spec §4.E "External accelerator"),
	// which only takes effect paired with a downloader name; these are
	// never merged with PostprocessorArgs.
	ExternalDownloaderName string
	ExternalDownloaderArgs []string
}

var digitsRE = regexp.MustCompile(`\d+`)

// digitsOrDefault extracts the first run of digits from token, returning
// def if none are present (spec §4.E, §8 invariant 12).
func digitsOrDefault(token string, def int) int {
	match := digitsRE.FindString(token)
	if match == "" {
		return def
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return def
	}
	return n
}

// resolveTranscoder resolves the transcoder binary location in order:
// bundled next to the running executable, current working directory,
// system PATH (spec §4.E, §6).
func resolveTranscoder(name string) string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		candidate := filepath.Join(cwd, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if path, err := lookPath(name); err == nil {
		return path
	}
	return ""
}

// lookPath is a seam over exec.LookPath so builder.go has no import-level
// dependency surprises; kept as a thin wrapper for testability.
func lookPath(name string) (string, error) {
	return execLookPath(name)
}

func formatSelection(opts DownloadOptions, attempt int) (selection, merge string) {
	if opts.Kind == Audio {
		return "bestaudio/best", ""
	}

	switch attempt {
	case 0:
		if strings.EqualFold(opts.Quality, "best") {
			return "bv*+ba/best", "mp4"
		}
		h := digitsOrDefault(opts.Quality, 1080)
		return fmt.Sprintf("bv*[height<=%d]+ba/b[height<=%d]/best[height<=%d]/best", h, h, h), "mp4"
	case 1:
		if strings.EqualFold(opts.Quality, "best") {
			return "best[ext=mp4]/best", "mp4"
		}
		h := digitsOrDefault(opts.Quality, 1080)
		return fmt.Sprintf("best[height<=%d][ext=mp4]/best[height<=%d]/best", h, h), "mp4"
	default:
		return "best", "mp4"
	}
}

func audioPostprocessors(opts DownloadOptions) []Postprocessor {
	bitrate := strconv.Itoa(digitsOrDefault(opts.Quality, 192))
	return []Postprocessor{
		{Key: "FFmpegExtractAudio", Args: []string{"--audio-quality", bitrate}},
		{Key: "FFmpegMetadata"},
		{Key: "EmbedThumbnail"},
	}
}

func videoPostprocessors() []Postprocessor {
	return []Postprocessor{{Key: "FFmpegMetadata"}}
}

// tokenizeTranscoderArgs tokenizes a custom transcoder argument string by
// POSIX shell rules, replacing original_source's shlex.split.
func tokenizeTranscoderArgs(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return shlex.Split(raw)
}

// defaultPostprocessorArgs are the baseline generic ffmpeg postprocessor
// arguments BuildAttempt applies before any caller-supplied custom
// transcoder args, giving §4.E's append/override distinction something
// real to operate on: append mode prepends these, override mode drops
// them entirely in favor of the caller's own tokens.
func defaultPostprocessorArgs(opts DownloadOptions) []string {
	if opts.Kind == Audio {
		return []string{"-ar", "44100"}
	}
	return []string{"-movflags", "+faststart"}
}

// BuildAttempt is the deterministic, pure function of (options, attempt
// index) → Attempt (spec §4.E). It never touches the network or the
// filesystem beyond the read-only transcoder-resolution probes.
func BuildAttempt(opts DownloadOptions, attempt int) (Attempt, error) {
	selection, merge := formatSelection(opts, attempt)

	a := Attempt{
		OutputTemplate:         filepath.Join(opts.Directory, opts.NormalizedTemplate()) + ".%(ext)s",
		Format:                 selection,
		MergeOutputFormat:      merge,
		NoPlaylist:             !opts.PlaylistMode,
		RestrictFilenames:      opts.RestrictFilenames,
		NoCheckCertificate:     opts.NoCheckCertificate,
		Retries:                opts.Retries,
		FragmentRetries:        opts.FragmentRetries,
		ConcurrentFragments:    opts.ConcurrentFragments,
		TranscoderPath:         resolveTranscoder(transcoderBinaryName()),
	}

	browser, file := opts.Cookies.Effective()
	a.CookieBrowser = browser
	a.CookieFile = file

	if opts.Kind == Audio {
		a.Postprocessors = audioPostprocessors(opts)
		a.WriteThumbnail = true
	} else {
		a.Postprocessors = videoPostprocessors()
	}

	custom, err := tokenizeTranscoderArgs(opts.TranscoderArgs)
	if err != nil {
		return Attempt{}, fmt.Errorf("tokenize transcoder args: %w", err)
	}
	switch {
	case len(custom) == 0:
		a.PostprocessorArgs = defaultPostprocessorArgs(opts)
	case opts.TranscoderArgsMode == TranscoderArgsOverride:
		a.PostprocessorArgs = custom
	default:
		a.PostprocessorArgs = append(append([]string{}, defaultPostprocessorArgs(opts)...), custom...)
	}

	if opts.UseExternalAccelerator {
		n := opts.AcceleratorMaxConns
		if n <= 0 {
			n = 16
		}
		a.ExternalDownloaderName = "aria2c"
		a.ExternalDownloaderArgs = []string{
			"-x", strconv.Itoa(n), "-s", strconv.Itoa(n), "-k", "1M",
			"--file-allocation=none", "--optimize-concurrent-downloads=true",
		}
	}

	return a, nil
}

func transcoderBinaryName() string {
	if isWindows() {
		return "ffmpeg.exe"
	}
	return "ffmpeg"
}
