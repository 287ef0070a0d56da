// Command ytdle drives a batch of media URLs through the download
// orchestration engine (spec §6 CLI surface).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"ytdle/internal/fetcher"
	"ytdle/internal/history"
	"ytdle/internal/logger"
	"ytdle/internal/options"
	"ytdle/internal/scheduler"
)

type cliFlags struct {
	urls               []string
	outputDir          string
	format             string
	quality            string
	playlist           bool
	restrictFilenames  bool
	template           string
	noCheckCertificate bool
	cookiesPath        string
	ffmpegAddArgs      string
	ffmpegOverrideArgs string
	verbose            bool
}

// parseArgs hand-rolls the flag loop the way the teacher's main.go parses
// its own boolean/valued flags (a manual os.Args scan rather than
// subcommands), since the surface here is similarly a flat set of
// switches rather than a command tree.
func parseArgs(args []string) (cliFlags, error) {
	f := cliFlags{format: "mp3"}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-i":
			for i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				f.urls = append(f.urls, args[i+1])
				i++
			}
		case "-od":
			i++
			f.outputDir = valueAt(args, i)
		case "-f":
			i++
			f.format = valueAt(args, i)
		case "-q":
			i++
			f.quality = valueAt(args, i)
		case "-p":
			f.playlist = true
		case "-r":
			f.restrictFilenames = true
		case "-t":
			i++
			f.template = valueAt(args, i)
		case "--no-check-certificate":
			f.noCheckCertificate = true
		case "--cookies":
			i++
			f.cookiesPath = valueAt(args, i)
		case "--ffmpeg-add-args":
			i++
			f.ffmpegAddArgs = valueAt(args, i)
		case "--ffmpeg-override-args":
			i++
			f.ffmpegOverrideArgs = valueAt(args, i)
		case "-v":
			f.verbose = true
		default:
			return f, fmt.Errorf("unrecognized argument: %s", args[i])
		}
	}
	if len(f.urls) == 0 {
		return f, fmt.Errorf("at least one -i URL is required")
	}
	return f, nil
}

func valueAt(args []string, i int) string {
	if i < 0 || i >= len(args) {
		return ""
	}
	return args[i]
}

func (f cliFlags) toOptions() (options.DownloadOptions, error) {
	dir := f.outputDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return options.DownloadOptions{}, err
		}
		dir = cwd
	}

	kind := options.Audio
	quality := f.quality
	switch strings.ToLower(f.format) {
	case "mp3":
		kind = options.Audio
		if quality == "" {
			quality = "192k"
		}
	case "mp4":
		kind = options.Video
		if quality == "" {
			quality = "Best"
		}
	default:
		return options.DownloadOptions{}, fmt.Errorf("unsupported format %q (want mp3 or mp4)", f.format)
	}

	return options.DownloadOptions{
		Directory:              dir,
		OutputTemplate:         f.template,
		Kind:                   kind,
		Quality:                quality,
		PlaylistMode:           f.playlist,
		RestrictFilenames:      f.restrictFilenames,
		Retries:                10,
		FragmentRetries:        10,
		ConcurrentFragments:    3,
		NoCheckCertificate:     f.noCheckCertificate,
		Cookies:                options.CookieSpec{File: f.cookiesPath},
		TranscoderArgs:         pickTranscoderArgs(f),
		TranscoderArgsMode:     pickTranscoderMode(f),
		MaxConcurrentDownloads: 3,
	}, nil
}

func pickTranscoderArgs(f cliFlags) string {
	if f.ffmpegOverrideArgs != "" {
		return f.ffmpegOverrideArgs
	}
	return f.ffmpegAddArgs
}

func pickTranscoderMode(f cliFlags) options.TranscoderArgMode {
	if f.ffmpegOverrideArgs != "" {
		return options.TranscoderArgsOverride
	}
	return options.TranscoderArgsAppend
}

// cliSink prints the Scheduler's events to stdout; it is the thin
// presentation-layer adapter spec §9 calls for — the engine knows
// nothing about it.
type cliSink struct {
	log *slog.Logger
}

func (s cliSink) Progress(pct int)                  {}
func (s cliSink) Status(str string)                 {}
func (s cliSink) Log(str string)                    { s.log.Info(str) }
func (s cliSink) Error(str string)                  { s.log.Error(str) }
func (s cliSink) ItemStarted(url string)            { s.log.Info("started", "url", url) }
func (s cliSink) ItemFinished(url string, ok bool, info string) {
	s.log.Info("finished", "url", url, "success", ok, "info", info)
}
func (s cliSink) AllFinished(success, fail int) {
	s.log.Info("batch complete", "success", success, "fail", fail)
}

func run() int {
	flags, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "ytdle:", err)
		return 1
	}

	dbPath, err := history.DefaultPath()
	if err != nil {
		fmt.Fprintln(os.Stderr, "ytdle: resolve history path:", err)
		return 1
	}
	legacyPath, _ := history.DefaultLegacyJSONPath()

	minLevel := slog.LevelInfo
	if flags.verbose {
		minLevel = slog.LevelDebug
	}
	log, closer, err := logger.New(filepath.Dir(dbPath), os.Stdout, minLevel, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ytdle: init logger:", err)
		return 1
	}
	defer closer.Close()

	hist, err := history.Open(dbPath, legacyPath)
	if err != nil {
		log.Error("open history store", "error", err)
		return 1
	}
	defer hist.Close()

	opts, err := flags.toOptions()
	if err != nil {
		log.Error("invalid options", "error", err)
		return 1
	}

	f := fetcher.NewExecFetcher("")
	sched := scheduler.New(flags.urls, opts, hist, f, log, cliSink{log: log}, opts.MaxConcurrentDownloads)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		sched.Cancel()
	}()

	_, fail := sched.Run(ctx)
	if fail > 0 || ctx.Err() != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(run())
}
