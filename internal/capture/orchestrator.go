package capture

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State names a step of a capture run.
type State string

const (
	StateLoggingIn              State = "logging_in"
	StateAwaitingContentFrame   State = "awaiting_content_frame"
	StateDiscoveringVideoFrames State = "discovering_video_frames"
	StateResolving              State = "resolving"
	StatePlaying                State = "playing"
	StateCooling                State = "cooling"
	StateCorrelating            State = "correlating"
	StateFinalizing             State = "finalizing"
	StateDone                   State = "done"
	StateAborted                State = "aborted"
)

// Credentials are the LMS login.
type Credentials struct {
	Email    string
	Password string
}

// Target describes one capture run.
type Target struct {
	URL         string
	Credentials Credentials
	// Tab is the 1-based unit tab to activate before capture; 0 leaves the
	// page as loaded.
	Tab int
}

// Browser is the automated browsing session a capture run drives.
type Browser interface {
	// Login navigates to url and submits creds when a login form shows up.
	// A page without login fields counts as already authenticated.
	Login(ctx context.Context, url string, creds Credentials) error
	// ActivateTab switches to the index-th (0-based) unit tab.
	ActivateTab(ctx context.Context, index int) error
	// ContentDocument waits for the lesson content frame until ctx is done.
	ContentDocument(ctx context.Context) (Document, error)
	// Observe installs fn as the observer of every outbound request for the
	// rest of the session. fn must not block.
	Observe(ctx context.Context, fn func(url string)) error
	Mouse() Mouse
}

// Document is the lesson content document.
type Document interface {
	HTML(ctx context.Context) (string, error)
	// VideoFrames waits until at least one player frame exists and returns
	// all of them in document order.
	VideoFrames(ctx context.Context) ([]VideoFrame, error)
}

// VideoFrame is a player frame element inside the lesson document.
type VideoFrame interface {
	Handle
	// Content returns the player's nested document.
	Content(ctx context.Context) (Frame, error)
}

// NoCooldown disables the wait after a playback start. A zero Cooldown
// means the default.
const NoCooldown time.Duration = -1

// Timeouts bound every wait of a capture run.
type Timeouts struct {
	ContentFrame time.Duration
	Discovery    time.Duration
	Play         time.Duration
	Cooldown     time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		ContentFrame: 30 * time.Second,
		Discovery:    30 * time.Second,
		Play:         DefaultPlayTimeout,
		Cooldown:     5 * time.Second,
	}
}

// Orchestrator sequences one capture run against a Browser.
type Orchestrator struct {
	browser  Browser
	timeouts Timeouts
	log      Logger
	// OnState, when set, is called on every state transition.
	OnState func(State)
}

func NewOrchestrator(browser Browser, timeouts Timeouts, log Logger) *Orchestrator {
	defaults := DefaultTimeouts()
	if timeouts.ContentFrame <= 0 {
		timeouts.ContentFrame = defaults.ContentFrame
	}
	if timeouts.Discovery <= 0 {
		timeouts.Discovery = defaults.Discovery
	}
	if timeouts.Play <= 0 {
		timeouts.Play = defaults.Play
	}
	switch {
	case timeouts.Cooldown == 0:
		timeouts.Cooldown = defaults.Cooldown
	case timeouts.Cooldown < 0:
		timeouts.Cooldown = 0
	}
	return &Orchestrator{browser: browser, timeouts: timeouts, log: orNop(log)}
}

func (o *Orchestrator) enter(state State) {
	o.log.Log(LogDebug, "capture state: "+string(state))
	if o.OnState != nil {
		o.OnState(state)
	}
}

func (o *Orchestrator) abort(err error) ([]Media, error) {
	o.enter(StateAborted)
	o.log.Log(LogError, err.Error())
	return []Media{}, err
}

// Run captures every player on the target page and returns the final media
// list. Authentication, content-load and discovery failures abort the run
// with an empty list and a categorized error.
func (o *Orchestrator) Run(ctx context.Context, target Target) ([]Media, error) {
	o.enter(StateLoggingIn)
	if err := o.browser.Login(ctx, target.URL, target.Credentials); err != nil {
		return o.abort(Wrap(CategoryAuth, err))
	}

	if target.Tab > 0 {
		if err := o.browser.ActivateTab(ctx, target.Tab-1); err != nil {
			o.log.Log(LogWarn, fmt.Sprintf("could not activate tab %d: %v", target.Tab, err))
		}
	}

	o.enter(StateAwaitingContentFrame)
	doc, err := o.contentDocument(ctx)
	if err != nil {
		return o.abort(Wrap(CategoryContentLoad, err))
	}

	o.enter(StateDiscoveringVideoFrames)
	list := NewList()
	interceptor := NewInterceptor(list, o.log)
	if err := o.browser.Observe(ctx, func(url string) { interceptor.Observe(url) }); err != nil {
		return o.abort(Wrap(CategoryContentLoad, fmt.Errorf("install request observer: %w", err)))
	}
	frames, err := o.videoFrames(ctx, doc)
	if err != nil {
		return o.abort(Wrap(CategoryDiscovery, err))
	}
	o.log.Log(LogInfo, fmt.Sprintf("found %d player frame(s)", len(frames)))

	player := NewPlayer(o.browser.Mouse(), o.timeouts.Play, o.log)
	for index, frame := range frames {
		if err := ctx.Err(); err != nil {
			return o.abort(err)
		}
		o.captureOne(ctx, doc, player, list, frame, index)
	}

	o.enter(StateFinalizing)
	final := Finalize(list.Items())
	o.enter(StateDone)
	return final, nil
}

func (o *Orchestrator) contentDocument(ctx context.Context) (Document, error) {
	waitCtx, cancel := context.WithTimeout(ctx, o.timeouts.ContentFrame)
	defer cancel()
	doc, err := o.browser.ContentDocument(waitCtx)
	if err != nil {
		return nil, fmt.Errorf("content frame: %w", err)
	}
	if doc == nil {
		return nil, errors.New("content frame has no document")
	}
	return doc, nil
}

func (o *Orchestrator) videoFrames(ctx context.Context, doc Document) ([]VideoFrame, error) {
	waitCtx, cancel := context.WithTimeout(ctx, o.timeouts.Discovery)
	defer cancel()
	frames, err := doc.VideoFrames(waitCtx)
	if err != nil {
		return nil, fmt.Errorf("player frames: %w", err)
	}
	if len(frames) == 0 {
		return nil, errors.New("no player frames found")
	}
	return frames, nil
}

func (o *Orchestrator) captureOne(ctx context.Context, doc Document, player *Player, list *List, frame VideoFrame, index int) {
	o.enter(StateResolving)
	html, err := doc.HTML(ctx)
	title := SentinelVideoTitle
	if err != nil {
		o.log.Log(LogWarn, fmt.Sprintf("read lesson content for video %d: %v", index+1, Wrap(CategoryTitleExtraction, err)))
	} else {
		title = ResolveTitle(html, index, o.log)
	}
	o.log.Log(LogInfo, fmt.Sprintf("video %d title: %s", index+1, title))

	o.enter(StatePlaying)
	content, err := frame.Content(ctx)
	if err != nil || content == nil {
		o.log.Log(LogWarn, fmt.Sprintf("video %d has no player document, skipping", index+1))
		return
	}
	if err := player.Play(ctx, PlayTarget{Frame: content, Handle: frame, Index: index}); err != nil {
		o.log.Log(LogWarn, fmt.Sprintf("could not start video %d: %v", index+1, err))
		return
	}

	o.enter(StateCooling)
	if err := Sleep(ctx, o.timeouts.Cooldown); err != nil {
		return
	}

	o.enter(StateCorrelating)
	if media, ok := list.Backfill(title); ok {
		o.log.Log(LogDebug, fmt.Sprintf("correlated %s -> %s", media.URL, media.Title))
	} else {
		o.log.Log(LogDebug, fmt.Sprintf("no untitled manifest to correlate with video %d", index+1))
	}
}
