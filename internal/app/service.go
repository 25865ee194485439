// Package app exposes the two operations every front end drives: search a
// lesson page for videos and download a chosen subset of them.
package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/GoodchildTrevor/kinescope-donwloader/internal/capture"
	"github.com/GoodchildTrevor/kinescope-donwloader/internal/downloader"
)

// Status lines shown to the user. They never carry raw error detail.
const (
	StatusSearching       = "searching..."
	StatusNothingFound    = "no videos found"
	StatusNothingSelected = "nothing selected"
)

func StatusFound(n int) string      { return fmt.Sprintf("found %d video(s)", n) }
func StatusDownloaded(n int) string { return fmt.Sprintf("downloaded %d video(s)", n) }

// BrowserFactory starts a browser for one search. The returned func
// releases it.
type BrowserFactory func(ctx context.Context) (capture.Browser, func(), error)

type Config struct {
	Browser  BrowserFactory
	Timeouts capture.Timeouts
	Download downloader.Options
	Log      capture.Logger
}

type Service struct {
	cfg    Config
	runner downloader.CommandRunner
}

func New(cfg Config) *Service {
	if cfg.Log == nil {
		cfg.Log = cfg.Download.Renderer
	}
	return &Service{cfg: cfg}
}

// WithRunner replaces the remux process runner used by downloads.
func (s *Service) WithRunner(runner downloader.CommandRunner) *Service {
	s.runner = runner
	return s
}

// SearchTarget captures the videos of target. onState may be nil. Every
// failure is logged before it is returned.
func (s *Service) SearchTarget(ctx context.Context, target capture.Target, onState func(capture.State)) ([]capture.Media, error) {
	if err := ValidateURL(target.URL); err != nil {
		return s.fail(err)
	}
	if s.cfg.Browser == nil {
		return s.fail(capture.Wrap(capture.CategoryConfig, fmt.Errorf("no browser configured")))
	}
	browser, release, err := s.cfg.Browser(ctx)
	if err != nil {
		return s.fail(capture.Wrap(capture.CategoryConfig, fmt.Errorf("starting browser: %w", err)))
	}
	if release != nil {
		defer release()
	}

	orch := capture.NewOrchestrator(browser, s.cfg.Timeouts, s.log())
	orch.OnState = onState
	return orch.Run(ctx, target)
}

func (s *Service) fail(err error) ([]capture.Media, error) {
	s.log().Log(capture.LogError, err.Error())
	return []capture.Media{}, err
}

// Search runs a capture and returns the found media with a status line.
func (s *Service) Search(ctx context.Context, target capture.Target) ([]capture.Media, string) {
	media, _ := s.SearchTarget(ctx, target, nil)
	return media, SearchStatus(media)
}

func SearchStatus(media []capture.Media) string {
	if len(media) == 0 {
		return StatusNothingFound
	}
	return StatusFound(len(media))
}

// DownloadReport remuxes selected, reporting through renderer (or the
// configured one when nil).
func (s *Service) DownloadReport(ctx context.Context, selected []capture.Media, renderer downloader.Renderer) downloader.Report {
	opts := s.cfg.Download
	if renderer != nil {
		opts.Renderer = renderer
	}
	exec := downloader.NewExecutor(opts)
	if s.runner != nil {
		exec.WithRunner(s.runner)
	}
	return exec.DownloadAll(ctx, downloader.MediaList(selected))
}

// Download remuxes selected and returns a status line.
func (s *Service) Download(ctx context.Context, selected []capture.Media) string {
	if len(selected) == 0 {
		return StatusNothingSelected
	}
	report := s.DownloadReport(ctx, selected, nil)
	return StatusDownloaded(report.OK)
}

// Select keeps the entries of found whose titles were chosen.
func Select(found []capture.Media, titles []string) []capture.Media {
	return capture.SelectByTitle(found, titles)
}

// ValidateURL accepts absolute http and https URLs.
func ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return capture.Wrap(capture.CategoryInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return capture.Wrap(capture.CategoryInvalidURL, fmt.Errorf("%q is not an http(s) URL", raw))
	}
	return nil
}

func (s *Service) log() capture.Logger {
	if s.cfg.Log == nil {
		return nopLogger{}
	}
	return s.cfg.Log
}

type nopLogger struct{}

func (nopLogger) Log(capture.LogLevel, string) {}
