package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/GoodchildTrevor/kinescope-donwloader/internal/capture"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Options configures the Chrome instance and the waits of the session.
type Options struct {
	Headless bool
	ExecPath string
	// LoginFieldTimeout bounds the wait for the login form.
	LoginFieldTimeout time.Duration
	// NavTimeout bounds page navigation and the post-login redirect.
	NavTimeout time.Duration
	TabTimeout time.Duration
	TabSettle  time.Duration
}

func DefaultOptions() Options {
	return Options{
		LoginFieldTimeout: 15 * time.Second,
		NavTimeout:        60 * time.Second,
		TabTimeout:        10 * time.Second,
		TabSettle:         2 * time.Second,
	}
}

// Session is one Chrome tab driven through chromedp. It implements
// capture.Browser and capture.Mouse.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   Options
	log    capture.Logger
}

// Launch starts Chrome and opens the tab the session drives.
func Launch(ctx context.Context, opts Options, log capture.Logger) (*Session, error) {
	defaults := DefaultOptions()
	if opts.LoginFieldTimeout <= 0 {
		opts.LoginFieldTimeout = defaults.LoginFieldTimeout
	}
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = defaults.NavTimeout
	}
	if opts.TabTimeout <= 0 {
		opts.TabTimeout = defaults.TabTimeout
	}
	if opts.TabSettle < 0 {
		opts.TabSettle = defaults.TabSettle
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(opts)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		tabCancel()
		allocCancel()
	}
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("starting chrome: %w", err)
	}
	if log == nil {
		log = nopLogger{}
	}
	return &Session{ctx: tabCtx, cancel: cancel, opts: opts, log: log}, nil
}

// Close shuts the browser down.
func (s *Session) Close() {
	if s != nil && s.cancel != nil {
		s.cancel()
	}
}

func allocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	out = append(out,
		chromedp.Flag("headless", opts.Headless),
		// Player iframes are cross-origin. Keeping them in-process makes their
		// documents and requests visible from the page target.
		chromedp.Flag("disable-features", "IsolateOrigins,site-per-process,Translate,BlinkGenPropertyTrees"),
		chromedp.Flag("disable-site-isolation-trials", true),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1366, 900),
		chromedp.UserAgent(defaultUserAgent),
	)
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	return out
}

// scope derives a context from the tab that is also cancelled with ctx and
// shares its deadline.
func (s *Session) scope(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(s.ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		prev := cancel
		cancel = func() { cancelDeadline(); prev() }
	}
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		prev := cancel
		cancel = func() { cancelTimeout(); prev() }
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := s.scope(ctx, timeout)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Observe reports the URL of every request the tab sends to fn. Requests
// are only observed, never paused, so page traffic is unaffected.
func (s *Session) Observe(ctx context.Context, fn func(url string)) error {
	chromedp.ListenTarget(s.ctx, func(ev interface{}) {
		if e, ok := ev.(*network.EventRequestWillBeSent); ok && e.Request != nil {
			fn(e.Request.URL)
		}
	})
	if err := s.run(ctx, 0, network.Enable()); err != nil {
		return fmt.Errorf("enabling network events: %w", err)
	}
	return nil
}

func (s *Session) Mouse() capture.Mouse {
	return s
}

// ClickAt dispatches a left click at page coordinates.
func (s *Session) ClickAt(ctx context.Context, x, y float64) error {
	return s.run(ctx, 0, chromedp.MouseClickXY(x, y))
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

type nopLogger struct{}

func (nopLogger) Log(capture.LogLevel, string) {}
