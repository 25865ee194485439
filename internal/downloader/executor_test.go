package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GoodchildTrevor/kinescope-donwloader/internal/capture"
)

type logLine struct {
	level LogLevel
	msg   string
}

type recordingRenderer struct {
	mu      sync.Mutex
	logs    []logLine
	items   []Result
	summary *Report
}

func (r *recordingRenderer) Log(level LogLevel, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, logLine{level, msg})
}

func (r *recordingRenderer) ItemFinished(index, total int, result Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, result)
}

func (r *recordingRenderer) Summary(report Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary = &report
}

func (r *recordingRenderer) count(level LogLevel, substr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.logs {
		if l.level == level && strings.Contains(l.msg, substr) {
			n++
		}
	}
	return n
}

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	run   func(cmd *exec.Cmd) error
}

func (f *fakeRunner) Run(_ context.Context, cmd *exec.Cmd) error {
	f.mu.Lock()
	f.calls = append(f.calls, cmd.Args)
	f.mu.Unlock()
	if f.run != nil {
		return f.run(cmd)
	}
	return nil
}

func newTestExecutor(t *testing.T, runner CommandRunner) (*Executor, *recordingRenderer, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "out")
	rec := &recordingRenderer{}
	e := NewExecutor(Options{
		OutputDir:    dir,
		WaitTimeout:  50 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		Renderer:     rec,
	}).WithRunner(runner)
	return e, rec, dir
}

func TestDownloadAllRemuxesEveryManifest(t *testing.T) {
	runner := &fakeRunner{}
	e, rec, dir := newTestExecutor(t, runner)

	report := e.DownloadAll(context.Background(), MediaList{
		{URL: "https://kinescope.io/a/master.m3u8", Title: "Week_1_Intro"},
		{URL: "https://kinescope.io/b/master.m3u8", Title: "Week 1: Intro?"},
	})

	if report.Total != 2 || report.OK != 2 || report.Failed != 0 || report.Skipped != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if err := report.Err(); err != nil {
		t.Fatalf("unexpected report error: %v", err)
	}
	want := []string{"ffmpeg", "-i", "https://kinescope.io/a/master.m3u8", "-c", "copy", filepath.Join(dir, "Week_1_Intro.mp4"), "-y"}
	if got := runner.calls[0]; strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("args = %q, want %q", got, want)
	}
	if got := report.Results[1].Output; got != filepath.Join(dir, "Week_1_Intro.mp4") {
		t.Fatalf("sanitized output = %q", got)
	}
	if rec.summary == nil || rec.summary.OK != 2 {
		t.Fatalf("summary not rendered: %+v", rec.summary)
	}
	if len(rec.items) != 2 {
		t.Fatalf("expected 2 item lines, got %d", len(rec.items))
	}
}

func TestDownloadAllUsesConfiguredBinary(t *testing.T) {
	runner := &fakeRunner{}
	e, _, _ := newTestExecutor(t, runner)
	e.opts.FFmpegPath = "/opt/ffmpeg/bin/ffmpeg"

	e.DownloadAll(context.Background(), MediaList{{URL: "https://x/a.m3u8", Title: "a"}})
	if got := runner.calls[0][0]; got != "/opt/ffmpeg/bin/ffmpeg" {
		t.Fatalf("binary = %q", got)
	}
}

func TestDownloadAllRelativeOutputWithLeadingDash(t *testing.T) {
	chdirForTest(t, t.TempDir())
	runner := &fakeRunner{}
	e := NewExecutor(Options{OutputDir: ".", Renderer: &recordingRenderer{}}).WithRunner(runner)

	report := e.DownloadAll(context.Background(), MediaList{{URL: "https://k/a.m3u8", Title: "- Intro"}})
	if report.OK != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	args := runner.calls[0]
	if got, want := args[len(args)-2], "."+string(filepath.Separator)+"-_Intro.mp4"; got != want {
		t.Fatalf("output arg = %q, want %q", got, want)
	}
}

func TestDownloadAllFallbackTitle(t *testing.T) {
	runner := &fakeRunner{}
	e, _, dir := newTestExecutor(t, runner)

	report := e.DownloadAll(context.Background(), MediaList{{URL: "https://x/a.m3u8", Title: "???"}})
	if got := report.Results[0].Output; got != filepath.Join(dir, "downloaded_video.mp4") {
		t.Fatalf("output = %q", got)
	}
}

func TestDownloadAllSkipsNonManifest(t *testing.T) {
	runner := &fakeRunner{}
	e, rec, _ := newTestExecutor(t, runner)

	report := e.DownloadAll(context.Background(), MediaList{
		{URL: "https://x/video.mp4", Title: "direct"},
		{URL: "https://x/a.m3u8", Title: "stream"},
	})
	if report.Skipped != 1 || report.OK != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("ffmpeg ran %d times, want 1", len(runner.calls))
	}
	if rec.count(LogWarn, "not a manifest") != 1 {
		t.Fatalf("expected a skip warning, logs: %+v", rec.logs)
	}
}

func TestDownloadAllContinuesAfterFailure(t *testing.T) {
	runner := &fakeRunner{run: func(cmd *exec.Cmd) error {
		if strings.Contains(cmd.Args[2], "bad") {
			fmt.Fprint(cmd.Stderr, "Server returned 403 Forbidden")
			return errors.New("exit status 1")
		}
		return nil
	}}
	e, rec, _ := newTestExecutor(t, runner)

	report := e.DownloadAll(context.Background(), MediaList{
		{URL: "https://x/bad.m3u8", Title: "one"},
		{URL: "https://x/good.m3u8", Title: "two"},
	})
	if report.Failed != 1 || report.OK != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if capture.CategoryOf(report.Err()) != capture.CategoryRemux {
		t.Fatalf("category = %q", capture.CategoryOf(report.Err()))
	}
	if rec.count(LogError, "403 Forbidden") != 1 {
		t.Fatalf("stderr not logged: %+v", rec.logs)
	}
}

func TestDownloadAllMissingFFmpegReportedOnce(t *testing.T) {
	runner := &fakeRunner{run: func(*exec.Cmd) error {
		return &exec.Error{Name: "ffmpeg", Err: exec.ErrNotFound}
	}}
	e, rec, _ := newTestExecutor(t, runner)

	report := e.DownloadAll(context.Background(), MediaList{
		{URL: "https://x/a.m3u8", Title: "a"},
		{URL: "https://x/b.m3u8", Title: "b"},
		{URL: "https://x/c.m3u8", Title: "c"},
	})
	if report.Failed != 3 || len(runner.calls) != 3 {
		t.Fatalf("every entry should be attempted, report %+v calls %d", report, len(runner.calls))
	}
	if rec.count(LogError, "ffmpeg not found") != 1 {
		t.Fatalf("missing ffmpeg should be logged once: %+v", rec.logs)
	}
	if capture.CategoryOf(report.Err()) != capture.CategoryRemuxMissing {
		t.Fatalf("category = %q", capture.CategoryOf(report.Err()))
	}
}

func TestDownloadAllEmptySource(t *testing.T) {
	runner := &fakeRunner{}
	e, rec, _ := newTestExecutor(t, runner)

	start := time.Now()
	report := e.DownloadAll(context.Background(), MediaList(nil))
	if time.Since(start) < 40*time.Millisecond {
		t.Fatalf("returned before the wait elapsed")
	}
	if !report.Empty || report.Total != 0 || len(runner.calls) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if capture.CategoryOf(report.Err()) != capture.CategoryEmptyCapture {
		t.Fatalf("category = %q", capture.CategoryOf(report.Err()))
	}
	if rec.count(LogError, "no media found") != 1 {
		t.Fatalf("expected an empty-capture error log: %+v", rec.logs)
	}
}

func TestDownloadAllWaitsForLateMedia(t *testing.T) {
	runner := &fakeRunner{}
	e, _, _ := newTestExecutor(t, runner)
	e.opts.WaitTimeout = time.Second

	list := capture.NewList()
	go func() {
		time.Sleep(30 * time.Millisecond)
		list.Record("https://x/late.m3u8")
	}()

	report := e.DownloadAll(context.Background(), list)
	if report.OK != 1 {
		t.Fatalf("late entry not downloaded: %+v", report)
	}
	if got := report.Results[0].Title; got != capture.SentinelVideoTitle {
		t.Fatalf("title = %q", got)
	}
}

func TestDownloadAllCancelledSkipsRest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{run: func(*exec.Cmd) error {
		cancel()
		return context.Canceled
	}}
	e, _, _ := newTestExecutor(t, runner)

	report := e.DownloadAll(ctx, MediaList{
		{URL: "https://x/a.m3u8", Title: "a"},
		{URL: "https://x/b.m3u8", Title: "b"},
	})
	if len(runner.calls) != 1 || report.Skipped != 1 {
		t.Fatalf("expected the second entry skipped after cancel, report %+v", report)
	}
}

func TestExecRunnerMissingBinary(t *testing.T) {
	cmd := exec.Command("kinescope-ffmpeg-that-does-not-exist")
	err := ExecRunner{}.Run(context.Background(), cmd)
	if err == nil || !isMissingBinary(err) {
		t.Fatalf("expected missing binary error, got %v", err)
	}
}

// chdirForTest changes the working directory for the duration of the test
// (equivalent to testing.T.Chdir, which requires Go 1.24).
func chdirForTest(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
