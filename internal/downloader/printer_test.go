package downloader

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrinterLogThreshold(t *testing.T) {
	tests := []struct {
		name  string
		opts  Options
		level LogLevel
		shown bool
	}{
		{"info default", Options{}, LogInfo, true},
		{"debug hidden by default", Options{}, LogDebug, false},
		{"debug enabled", Options{LogLevel: "debug"}, LogDebug, true},
		{"warn threshold hides info", Options{LogLevel: "warn"}, LogInfo, false},
		{"quiet hides warn", Options{Quiet: true}, LogWarn, false},
		{"quiet keeps error", Options{Quiet: true}, LogError, true},
		{"unknown level falls back to info", Options{LogLevel: "loud"}, LogInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			p := newPrinterTo(&buf, tt.opts, false)
			p.Log(tt.level, "hello")
			if got := buf.Len() > 0; got != tt.shown {
				t.Fatalf("shown = %v, want %v (output %q)", got, tt.shown, buf.String())
			}
		})
	}
}

func TestPrinterLogFormat(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinterTo(&buf, Options{}, false)
	p.Log(LogWarn, "play control not found")
	if got := buf.String(); got != "[warn] play control not found\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestPrinterColorizesWhenEnabled(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinterTo(&buf, Options{}, true)
	p.Log(LogError, "boom")
	if !strings.Contains(buf.String(), colorRed+"[error]"+colorReset) {
		t.Fatalf("missing color codes: %q", buf.String())
	}
}

func TestPrinterItemsAndSummary(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinterTo(&buf, Options{}, false)
	p.ItemFinished(0, 3, Result{Title: "Week_1_Intro", Outcome: OutcomeOK, Output: "out/Week_1_Intro.mp4"})
	p.ItemFinished(1, 3, Result{Title: "Week_2", Outcome: OutcomeFailed, Error: "remux: exit status 1"})
	p.ItemFinished(2, 3, Result{Title: "Week_3", Outcome: OutcomeSkipped, Error: "not a manifest URL"})
	p.Summary(Report{Total: 3, OK: 1, Failed: 1, Skipped: 1})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d: %q", len(lines), buf.String())
	}
	for i, want := range []string{"OK", "FAIL", "SKIP"} {
		if !strings.Contains(lines[i], " "+want+" ") {
			t.Fatalf("line %d = %q, want status %s", i, lines[i], want)
		}
	}
	if !strings.HasPrefix(lines[0], "[1/3]") {
		t.Fatalf("prefix = %q", lines[0])
	}
	if lines[3] != "Summary: OK 1 | FAIL 1 | SKIP 1 | TOTAL 3" {
		t.Fatalf("summary = %q", lines[3])
	}
}

func TestPrinterQuietShowsOnlyFailures(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinterTo(&buf, Options{Quiet: true}, false)
	p.ItemFinished(0, 2, Result{Title: "a", Outcome: OutcomeOK})
	p.ItemFinished(1, 2, Result{Title: "b", Outcome: OutcomeFailed, Error: "x"})
	p.Summary(Report{Total: 2, OK: 1, Failed: 1})
	if got := strings.Count(buf.String(), "\n"); got != 1 || !strings.Contains(buf.String(), "FAIL") {
		t.Fatalf("quiet output = %q", buf.String())
	}
}

func TestTruncateText(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"much longer text", 10, "much lo..."},
		{"abcdef", 3, "abc"},
		{"abc", 0, "abc"},
	}
	for _, tt := range tests {
		if got := truncateText(tt.in, tt.max); got != tt.want {
			t.Fatalf("truncateText(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
