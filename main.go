package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/GoodchildTrevor/kinescope-donwloader/internal/app"
	"github.com/GoodchildTrevor/kinescope-donwloader/internal/browser"
	"github.com/GoodchildTrevor/kinescope-donwloader/internal/capture"
	"github.com/GoodchildTrevor/kinescope-donwloader/internal/config"
	"github.com/GoodchildTrevor/kinescope-donwloader/internal/downloader"
	"github.com/GoodchildTrevor/kinescope-donwloader/internal/web"
	"github.com/GoodchildTrevor/kinescope-donwloader/internal/ws"
)

func main() {
	var (
		opts     downloader.Options
		titles   titleFlags
		envFile  string
		tab      int
		headless bool
		chrome   string
		pick     bool
		webAddr  string
		workers  int
		jsonOut  bool
	)
	flag.StringVar(&envFile, "env-file", "", "load LMS_* variables from this file (default .env when present)")
	flag.StringVar(&opts.OutputDir, "o", "", "output directory for .mp4 files (default $LMS_OUTPUT_DIR or .)")
	flag.IntVar(&tab, "tab", 0, "1-based unit tab to open before capturing (0 = as loaded)")
	flag.BoolVar(&headless, "headless", false, "run Chrome without a window (default $LMS_HEADLESS)")
	flag.StringVar(&chrome, "chrome", "", "path to the Chrome/Chromium binary")
	flag.StringVar(&opts.FFmpegPath, "ffmpeg", "", "path to the ffmpeg binary")
	flag.Var(&titles, "title", "download only this title (repeatable)")
	flag.BoolVar(&pick, "select", false, "choose videos interactively before downloading")
	flag.StringVar(&webAddr, "web", "", "serve the web front end on this address (e.g. 127.0.0.1:8080)")
	flag.IntVar(&workers, "workers", 1, "concurrent download jobs in web mode")
	flag.BoolVar(&jsonOut, "json", false, "print the found media as JSON instead of downloading")
	flag.BoolVar(&opts.Quiet, "quiet", false, "suppress progress output (errors still shown)")
	flag.StringVar(&opts.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	printer := downloader.NewPrinter(opts)
	opts.Renderer = printer

	if err := config.LoadEnvFile(envFile); err != nil {
		exit(printer, err)
	}
	cfg, err := config.Load()
	if err != nil {
		exit(printer, err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "headless":
			cfg.Browser.Headless = headless
		case "chrome":
			cfg.Browser.ExecPath = chrome
		}
	})
	if opts.OutputDir == "" {
		opts.OutputDir = cfg.OutputDir
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = cfg.FFmpegPath
	}
	if tab < 0 {
		exit(printer, capture.Wrap(capture.CategoryConfig, errors.New("-tab must not be negative")))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := app.New(app.Config{
		Browser:  launcher(cfg.Browser, printer),
		Timeouts: cfg.Timeouts,
		Download: opts,
		Log:      printer,
	})

	if webAddr != "" {
		exit(printer, serve(ctx, webAddr, svc, cfg, opts.OutputDir, workers, printer))
		return
	}

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [options] <lesson-url>\n       %s -web <addr> [options]\n", os.Args[0], os.Args[0])
		flag.PrintDefaults()
		os.Exit(capture.ExitCode(capture.Wrap(capture.CategoryInvalidURL, errors.New("no url provided"))))
	}

	target := capture.Target{URL: flag.Arg(0), Credentials: cfg.Credentials, Tab: tab}
	printer.Log(downloader.LogInfo, app.StatusSearching)
	found, err := svc.SearchTarget(ctx, target, nil)
	printer.Log(downloader.LogInfo, app.SearchStatus(found))
	if err != nil {
		os.Exit(capture.ExitCode(err))
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		_ = enc.Encode(found)
		return
	}

	if len(found) == 0 {
		exit(printer, capture.Wrap(capture.CategoryEmptyCapture, errors.New("no media captured")))
	}

	selected := found
	switch {
	case pick:
		selected, err = downloader.RunMediaSelector(found)
		if err != nil {
			exit(printer, capture.Wrap(capture.CategoryConfig, err))
		}
	case len(titles.values) > 0:
		selected = app.Select(found, titles.values)
	}
	if len(selected) == 0 {
		printer.Log(downloader.LogWarn, app.StatusNothingSelected)
		return
	}

	report := svc.DownloadReport(ctx, selected, nil)
	printer.Log(downloader.LogInfo, app.StatusDownloaded(report.OK))
	exit(printer, report.Err())
}

// launcher starts one Chrome per search.
func launcher(opts browser.Options, log capture.Logger) app.BrowserFactory {
	return func(ctx context.Context) (capture.Browser, func(), error) {
		session, err := browser.Launch(ctx, opts, log)
		if err != nil {
			return nil, nil, err
		}
		return session, session.Close, nil
	}
}

func serve(ctx context.Context, addr string, svc *app.Service, cfg config.Config, outputDir string, workers int, log capture.Logger) error {
	hub := ws.NewHub(log)
	go hub.Run()
	defer hub.Stop()

	srv := web.NewServer(ctx, svc, hub, web.Options{
		Credentials: cfg.Credentials,
		OutputDir:   outputDir,
		Workers:     workers,
		Log:         log,
	})
	defer srv.Close()

	handler, err := srv.Handler()
	if err != nil {
		return err
	}
	log.Log(capture.LogInfo, fmt.Sprintf("serving on http://%s", addr))
	return web.ListenAndServe(ctx, addr, handler)
}

// exit logs err and terminates with its category's exit code. A nil err
// returns normally.
func exit(printer *downloader.Printer, err error) {
	if err == nil {
		return
	}
	printer.Log(downloader.LogError, err.Error())
	os.Exit(capture.ExitCode(err))
}

type titleFlags struct {
	values []string
}

func (t *titleFlags) String() string {
	if t == nil {
		return ""
	}
	return strings.Join(t.values, ",")
}

func (t *titleFlags) Set(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("empty title")
	}
	t.values = append(t.values, value)
	return nil
}
