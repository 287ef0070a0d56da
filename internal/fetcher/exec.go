package fetcher

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"ytdle/internal/options"
)

// ExecFetcher is a concrete Fetcher implementation that shells out to a
// real yt-dlp binary and parses its newline-delimited JSON progress
// template. It is provided so the module runs end to end; the core
// engine (Scheduler/Driver/Adapter) never imports this type directly,
// only the Fetcher interface (SPEC_FULL.md "Supplemented features").
type ExecFetcher struct {
	BinaryPath string
}

// NewExecFetcher resolves the yt-dlp binary on PATH unless an explicit
// path is given.
func NewExecFetcher(binaryPath string) *ExecFetcher {
	if binaryPath == "" {
		binaryPath = "yt-dlp"
	}
	return &ExecFetcher{BinaryPath: binaryPath}
}

func (f *ExecFetcher) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, f.BinaryPath, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("yt-dlp --version: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

type probeResult struct {
	Title         string  `json:"title"`
	Uploader      string  `json:"uploader"`
	Duration      float64 `json:"duration"`
	Filesize      int64   `json:"filesize"`
	FilesizeApprox int64  `json:"filesize_approx"`
}

func (f *ExecFetcher) Probe(ctx context.Context, url string, attempt options.Attempt) (Info, error) {
	args := []string{"--dump-json", "--skip-download", "--no-warnings"}
	args = append(args, commonArgs(attempt)...)
	args = append(args, url)

	out, err := exec.CommandContext(ctx, f.BinaryPath, args...).Output()
	if err != nil {
		return Info{}, fmt.Errorf("probe %s: %w", url, err)
	}

	var pr probeResult
	if err := json.Unmarshal(out, &pr); err != nil {
		return Info{}, fmt.Errorf("parse probe output: %w", err)
	}
	size := pr.Filesize
	if size == 0 {
		size = pr.FilesizeApprox
	}
	return Info{
		Title:     pr.Title,
		Uploader:  pr.Uploader,
		Duration:  time.Duration(pr.Duration * float64(time.Second)),
		SizeBytes: size,
	}, nil
}

type progressLine struct {
	Status              string  `json:"status"`
	DownloadedBytes     int64   `json:"downloaded_bytes"`
	TotalBytes          int64   `json:"total_bytes"`
	TotalBytesEstimate  int64   `json:"total_bytes_estimate"`
	Speed               float64 `json:"speed"`
	Filename             string  `json:"filename"`
	Tmpfilename          string  `json:"tmpfilename"`
}

func (f *ExecFetcher) Download(ctx context.Context, url string, attempt options.Attempt, onProgress ProgressFunc) error {
	args := []string{
		"--newline", "--no-warnings",
		"--progress-template", "%(progress)j",
	}
	args = append(args, commonArgs(attempt)...)
	args = append(args, attemptArgs(attempt)...)
	args = append(args, url)

	cmd := exec.CommandContext(ctx, f.BinaryPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start yt-dlp: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var progressErr error
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] != '{' {
			continue
		}
		var pl progressLine
		if err := json.Unmarshal([]byte(line), &pl); err != nil {
			continue
		}
		ev := ProgressEvent{
			Status:              pl.Status,
			DownloadedBytes:     pl.DownloadedBytes,
			TotalBytes:          pl.TotalBytes,
			EstimatedTotalBytes: pl.TotalBytesEstimate,
			SpeedBytesPerSec:    pl.Speed,
			Filename:            pl.Filename,
			TmpFilename:         pl.Tmpfilename,
		}
		if err := onProgress(ev); err != nil {
			progressErr = err
			_ = cmd.Process.Kill()
			break
		}
	}

	waitErr := cmd.Wait()
	if progressErr != nil {
		return progressErr
	}
	if waitErr != nil {
		return fmt.Errorf("yt-dlp: %w", waitErr)
	}
	return nil
}

func commonArgs(attempt options.Attempt) []string {
	args := []string{}
	if attempt.NoCheckCertificate {
		args = append(args, "--no-check-certificate")
	}
	if attempt.CookieBrowser != nil {
		spec := attempt.CookieBrowser.Name
		if attempt.CookieBrowser.Profile != "" {
			spec += ":" + attempt.CookieBrowser.Profile
		}
		args = append(args, "--cookies-from-browser", spec)
	} else if attempt.CookieFile != "" {
		args = append(args, "--cookies", attempt.CookieFile)
	}
	if attempt.RestrictFilenames {
		args = append(args, "--restrict-filenames")
	}
	if attempt.NoPlaylist {
		args = append(args, "--no-playlist")
	} else {
		args = append(args, "--yes-playlist")
	}
	if attempt.Retries > 0 {
		args = append(args, "--retries", strconv.Itoa(attempt.Retries))
	}
	if attempt.FragmentRetries > 0 {
		args = append(args, "--fragment-retries", strconv.Itoa(attempt.FragmentRetries))
	}
	if attempt.ConcurrentFragments > 0 {
		args = append(args, "--concurrent-fragments", strconv.Itoa(attempt.ConcurrentFragments))
	}
	if attempt.TranscoderPath != "" {
		args = append(args, "--ffmpeg-location", attempt.TranscoderPath)
	}
	return args
}

func attemptArgs(attempt options.Attempt) []string {
	args := []string{
		"-f", attempt.Format,
		"-o", attempt.OutputTemplate,
	}
	if attempt.MergeOutputFormat != "" {
		args = append(args, "--merge-output-format", attempt.MergeOutputFormat)
	}
	if attempt.WriteThumbnail {
		args = append(args, "--write-thumbnail")
	}
	for _, pp := range attempt.Postprocessors {
		if pp.Key == "FFmpegExtractAudio" {
			args = append(args, "-x")
		}
		if len(pp.Args) > 0 {
			args = append(args, "--postprocessor-args", fmt.Sprintf("%s:%s", pp.Key, strings.Join(pp.Args, " ")))
		}
	}
	// Custom transcoder args (spec §4.E) are always ffmpeg postprocessor
	// arguments, never bare yt-dlp CLI tokens (cf. async_manager.py's
	// postprocessor_args = {"ffmpeg": final_args}).
	if len(attempt.PostprocessorArgs) > 0 {
		args = append(args, "--postprocessor-args", fmt.Sprintf("ffmpeg:%s", strings.Join(attempt.PostprocessorArgs, " ")))
	}
	// The external accelerator only means anything paired with
	// --external-downloader naming which binary to delegate to; its
	// flags are scoped to that name, never mixed onto the bare CLI.
	if attempt.ExternalDownloaderName != "" {
		args = append(args, "--external-downloader", attempt.ExternalDownloaderName)
		if len(attempt.ExternalDownloaderArgs) > 0 {
			args = append(args, "--external-downloader-args",
				fmt.Sprintf("%s:%s", attempt.ExternalDownloaderName, strings.Join(attempt.ExternalDownloaderArgs, " ")))
		}
	}
	return args
}
