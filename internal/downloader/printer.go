package downloader

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/GoodchildTrevor/kinescope-donwloader/internal/capture"
)

type LogLevel = capture.LogLevel

const (
	LogDebug = capture.LogDebug
	LogInfo  = capture.LogInfo
	LogWarn  = capture.LogWarn
	LogError = capture.LogError
)

// Printer writes levelled log lines and per-item results to the terminal.
type Printer struct {
	mu         sync.Mutex
	out        io.Writer
	quiet      bool
	level      LogLevel
	color      bool
	columns    int
	titleWidth int
}

func NewPrinter(opts Options) *Printer {
	return newPrinterTo(colorable.NewColorableStderr(), opts, supportsColor(os.Stderr))
}

func newPrinterTo(out io.Writer, opts Options, color bool) *Printer {
	columns := terminalColumns()
	if columns <= 0 {
		columns = 100
	}

	titleWidth := columns - 44
	if titleWidth < 20 {
		titleWidth = 20
	}
	if titleWidth > 60 {
		titleWidth = 60
	}

	level, ok := capture.ParseLogLevel(opts.LogLevel)
	if !ok {
		level = LogInfo
	}

	return &Printer{
		out:        out,
		quiet:      opts.Quiet,
		level:      level,
		color:      color,
		columns:    columns,
		titleWidth: titleWidth,
	}
}

// Log prints msg when level passes the configured threshold. Quiet mode
// keeps errors only.
func (p *Printer) Log(level LogLevel, msg string) {
	if p == nil || msg == "" {
		return
	}
	if level < p.level || (p.quiet && level < LogError) {
		return
	}
	tag := p.colorize(fmt.Sprintf("[%s]", level), levelColor(level))
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s %s\n", tag, msg)
}

func (p *Printer) Prefix(index, total int, title string) string {
	if total <= 0 {
		total = 1
	}
	width := len(strconv.Itoa(total))
	idx := fmt.Sprintf("%*d/%d", width, index, total)
	return fmt.Sprintf("[%s] %-*s", idx, p.titleWidth, truncateText(title, p.titleWidth))
}

// ItemFinished prints the OK, FAIL or SKIP line for one entry.
func (p *Printer) ItemFinished(index, total int, result Result) {
	prefix := p.Prefix(index+1, total, result.Title)
	switch result.Outcome {
	case OutcomeSkipped:
		p.itemLine(prefix, "SKIP", colorYellow, result.Error)
	case OutcomeFailed:
		p.itemLine(prefix, "FAIL", colorRed, result.Error)
	default:
		if p.quiet {
			return
		}
		p.itemLine(prefix, "OK", colorGreen, result.Output)
	}
}

func (p *Printer) itemLine(prefix, status, color, detail string) {
	if p.quiet && status != "FAIL" {
		return
	}
	maxDetail := p.columns - len(prefix) - len(status) - 3
	if maxDetail < 0 {
		maxDetail = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s %s %s\n", prefix, p.colorize(status, color), truncateText(detail, maxDetail))
}

func (p *Printer) Summary(report Report) {
	if p.quiet {
		return
	}
	okLabel := p.colorize("OK", colorGreen)
	failLabel := p.colorize("FAIL", colorRed)
	skipLabel := p.colorize("SKIP", colorYellow)
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "Summary: %s %d | %s %d | %s %d | TOTAL %d\n",
		okLabel, report.OK, failLabel, report.Failed, skipLabel, report.Skipped, report.Total)
}

func (p *Printer) colorize(text, color string) string {
	if !p.color || color == "" {
		return text
	}
	return color + text + colorReset
}

func levelColor(level LogLevel) string {
	switch level {
	case LogError:
		return colorRed
	case LogWarn:
		return colorYellow
	case LogDebug:
		return colorGray
	default:
		return colorCyan
	}
}

func truncateText(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	if max <= 3 {
		return text[:max]
	}
	return text[:max-3] + "..."
}

func terminalColumns() int {
	if columns := os.Getenv("COLUMNS"); columns != "" {
		if val, err := strconv.Atoi(columns); err == nil && val > 0 {
			return val
		}
	}
	return 0
}

func supportsColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" || os.Getenv("CLICOLOR_FORCE") != "" {
		return true
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

const (
	colorReset  = "\x1b[0m"
	colorGreen  = "\x1b[32m"
	colorRed    = "\x1b[31m"
	colorYellow = "\x1b[33m"
	colorCyan   = "\x1b[36m"
	colorGray   = "\x1b[90m"
)
