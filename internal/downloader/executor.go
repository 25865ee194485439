package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/alessio/shellescape"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/GoodchildTrevor/kinescope-donwloader/internal/capture"
)

const (
	fallbackTitle       = "downloaded_video"
	outputExt           = ".mp4"
	defaultWaitTimeout  = 30 * time.Second
	defaultPollInterval = time.Second
)

// Options describes a download run.
type Options struct {
	OutputDir  string
	FFmpegPath string
	Quiet      bool
	LogLevel   string
	// WaitTimeout bounds the wait for a non-empty media source.
	WaitTimeout  time.Duration
	PollInterval time.Duration
	Renderer     Renderer
}

// Renderer receives what an executor run reports.
type Renderer interface {
	capture.Logger
	ItemFinished(index, total int, result Result)
	Summary(report Report)
}

// MediaSource yields the entries to download. It may be filled while the
// executor waits.
type MediaSource interface {
	Media() []capture.Media
}

// MediaList is a fixed MediaSource.
type MediaList []capture.Media

func (m MediaList) Media() []capture.Media { return m }

// CommandRunner runs a prepared remux command.
type CommandRunner interface {
	Run(ctx context.Context, cmd *exec.Cmd) error
}

// ExecRunner runs commands as child processes, killing them when ctx ends.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		return ctx.Err()
	}
}

type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Result is the outcome for one media entry.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Output  string  `json:"output,omitempty"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
	Err     error   `json:"-"`
}

type Report struct {
	Total   int      `json:"total"`
	OK      int      `json:"ok"`
	Failed  int      `json:"failed"`
	Skipped int      `json:"skipped"`
	Results []Result `json:"results,omitempty"`
	// Empty is set when the source stayed empty for the whole wait.
	Empty bool `json:"empty,omitempty"`
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	switch res.Outcome {
	case OutcomeOK:
		r.OK++
	case OutcomeFailed:
		r.Failed++
	default:
		r.Skipped++
	}
}

// Err summarizes the run as a categorized error, nil when nothing failed.
func (r Report) Err() error {
	if r.Empty {
		return capture.Wrap(capture.CategoryEmptyCapture, errors.New("no media captured"))
	}
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed && res.Err != nil {
			return res.Err
		}
	}
	if r.Failed > 0 {
		return capture.Wrap(capture.CategoryRemux, fmt.Errorf("%d of %d downloads failed", r.Failed, r.Total))
	}
	return nil
}

// Executor remuxes captured manifests into local .mp4 files with ffmpeg.
type Executor struct {
	opts     Options
	runner   CommandRunner
	renderer Renderer
}

func NewExecutor(opts Options) *Executor {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = defaultWaitTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	renderer := opts.Renderer
	if renderer == nil {
		renderer = NewPrinter(opts)
	}
	return &Executor{opts: opts, runner: ExecRunner{}, renderer: renderer}
}

// WithRunner replaces the process runner.
func (e *Executor) WithRunner(runner CommandRunner) *Executor {
	e.runner = runner
	return e
}

// DownloadAll remuxes every entry of source in order. Entries fail or skip
// independently; the run always continues with the next one.
func (e *Executor) DownloadAll(ctx context.Context, source MediaSource) Report {
	items := source.Media()
	if len(items) == 0 {
		ready := capture.PollUntil(ctx, e.opts.PollInterval, e.opts.WaitTimeout, func() bool {
			items = source.Media()
			return len(items) > 0
		})
		if !ready {
			err := capture.Wrap(capture.CategoryEmptyCapture, fmt.Errorf("no media found within %s", e.opts.WaitTimeout))
			e.renderer.Log(LogError, err.Error())
			return Report{Empty: true}
		}
	}

	report := Report{Total: len(items)}
	dirErr := os.MkdirAll(e.opts.OutputDir, 0o755)
	if dirErr != nil {
		e.renderer.Log(LogError, fmt.Sprintf("creating output directory %s: %v", e.opts.OutputDir, dirErr))
	}

	missingReported := false
	for i, item := range items {
		var res Result
		switch {
		case ctx.Err() != nil:
			res = Result{Title: item.Title, URL: item.URL, Outcome: OutcomeSkipped, Error: "cancelled", Err: ctx.Err()}
		case dirErr != nil:
			err := capture.Wrap(capture.CategoryConfig, dirErr)
			res = Result{Title: item.Title, URL: item.URL, Outcome: OutcomeFailed, Error: err.Error(), Err: err}
		default:
			res = e.downloadOne(ctx, item, &missingReported)
		}
		report.add(res)
		e.renderer.ItemFinished(i, len(items), res)
	}
	e.renderer.Summary(report)
	return report
}

// OutputPath returns where title is written.
func (e *Executor) OutputPath(title string) string {
	return filepath.Join(e.opts.OutputDir, capture.SanitizeTitle(title, fallbackTitle)+outputExt)
}

func (e *Executor) downloadOne(ctx context.Context, item capture.Media, missingReported *bool) Result {
	output := e.OutputPath(item.Title)
	res := Result{
		Title:  strings.TrimSuffix(filepath.Base(output), outputExt),
		URL:    item.URL,
		Output: output,
	}

	if !strings.Contains(item.URL, capture.ManifestMarker) {
		e.renderer.Log(LogWarn, fmt.Sprintf("%s is not a manifest URL, skipping", item.URL))
		res.Outcome = OutcomeSkipped
		res.Error = "not a manifest URL"
		return res
	}

	e.renderer.Log(LogInfo, fmt.Sprintf("downloading %s -> %s", item.URL, filepath.Base(output)))
	var stdout, stderr bytes.Buffer
	cmd := e.command(item.URL, output, &stdout, &stderr)
	e.renderer.Log(LogDebug, "running: "+shellescape.QuoteCommand(cmd.Args))

	err := e.runner.Run(ctx, cmd)
	switch {
	case err == nil:
		e.renderer.Log(LogInfo, fmt.Sprintf("done: %s", filepath.Base(output)))
		res.Outcome = OutcomeOK
		return res
	case isMissingBinary(err):
		if !*missingReported {
			e.renderer.Log(LogError, "ffmpeg not found: install ffmpeg and add it to PATH (or set -ffmpeg)")
			*missingReported = true
		}
		res.Err = capture.Wrap(capture.CategoryRemuxMissing, err)
	default:
		e.renderer.Log(LogError, fmt.Sprintf("ffmpeg failed for %s: %v", filepath.Base(output), err))
		if out := strings.TrimSpace(stdout.String()); out != "" {
			e.renderer.Log(LogError, "stdout: "+out)
		}
		if errOut := strings.TrimSpace(stderr.String()); errOut != "" {
			e.renderer.Log(LogError, "stderr: "+errOut)
		}
		res.Err = capture.Wrap(capture.CategoryRemux, err)
	}
	res.Outcome = OutcomeFailed
	res.Error = res.Err.Error()
	return res
}

// command builds `ffmpeg -i <url> -c copy <output> -y`. A relative output
// is passed as ./<output> so a leading '-' is not read as an option.
func (e *Executor) command(url, output string, stdout, stderr io.Writer) *exec.Cmd {
	if !filepath.IsAbs(output) {
		output = "." + string(filepath.Separator) + output
	}
	args := ffmpeg.Input(url).
		Output(output, ffmpeg.KwArgs{"c": "copy"}).
		OverWriteOutput().
		GetArgs()
	bin := e.opts.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.Command(bin, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd
}

func isMissingBinary(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}
