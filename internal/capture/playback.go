package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultPlaySelectors lists the play controls tried in a player frame. The
// first element in document order matching any of them is clicked.
var DefaultPlaySelectors = []string{
	"button[aria-label*='Play']",
	"div[class*='play-button']",
	"video",
	"div[aria-label*='Воспроизвести']",
}

const DefaultPlayTimeout = 10 * time.Second

// Box is an element's bounding box in page coordinates.
type Box struct {
	X, Y, Width, Height float64
}

func (b Box) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Frame is a player's nested document.
type Frame interface {
	// ClickFirst clicks the first element matching selector once it exists,
	// waiting until ctx is done.
	ClickFirst(ctx context.Context, selector string) error
}

// Handle is the element hosting a player in its parent document.
type Handle interface {
	// BoundingBox returns false when the element is not visible or attached.
	BoundingBox(ctx context.Context) (Box, bool, error)
}

// Mouse dispatches clicks at page coordinates.
type Mouse interface {
	ClickAt(ctx context.Context, x, y float64) error
}

// PlayTarget bundles what a strategy needs to start one video.
type PlayTarget struct {
	Frame  Frame
	Handle Handle
	Index  int
}

// Strategy is one way of starting playback.
type Strategy interface {
	Name() string
	Play(ctx context.Context, target PlayTarget) error
}

// SelectorStrategy clicks the first play control found within Timeout.
type SelectorStrategy struct {
	Selectors []string
	Timeout   time.Duration
}

func (s SelectorStrategy) Name() string { return "selector" }

func (s SelectorStrategy) Play(ctx context.Context, target PlayTarget) error {
	if target.Frame == nil {
		return errors.New("player frame unavailable")
	}
	selectors := s.Selectors
	if len(selectors) == 0 {
		selectors = DefaultPlaySelectors
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultPlayTimeout
	}

	clickCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := target.Frame.ClickFirst(clickCtx, strings.Join(selectors, ", "))
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(clickCtx.Err(), context.DeadlineExceeded)) {
		return Wrap(CategoryPlaybackTimeout, fmt.Errorf("%w after %s", ErrPlayTimeout, timeout))
	}
	return err
}

// CenterClickStrategy clicks the middle of the player's host element. An
// element without a bounding box is left alone.
type CenterClickStrategy struct {
	Mouse Mouse
	Log   Logger
}

func (s CenterClickStrategy) Name() string { return "center-click" }

func (s CenterClickStrategy) Play(ctx context.Context, target PlayTarget) error {
	if target.Handle == nil || s.Mouse == nil {
		return nil
	}
	box, ok, err := target.Handle.BoundingBox(ctx)
	if err != nil {
		return err
	}
	if !ok {
		orNop(s.Log).Log(LogDebug, fmt.Sprintf("video %d host element has no bounding box, not clicking", target.Index+1))
		return nil
	}
	x, y := box.Center()
	return s.Mouse.ClickAt(ctx, x, y)
}

// Player runs strategies in order. The next strategy runs only when the
// previous one timed out; any other outcome ends the attempt.
type Player struct {
	Strategies []Strategy
	log        Logger
}

func NewPlayer(mouse Mouse, playTimeout time.Duration, log Logger) *Player {
	return &Player{
		Strategies: []Strategy{
			SelectorStrategy{Selectors: DefaultPlaySelectors, Timeout: playTimeout},
			CenterClickStrategy{Mouse: mouse, Log: log},
		},
		log: orNop(log),
	}
}

func (p *Player) Play(ctx context.Context, target PlayTarget) error {
	log := orNop(p.log)
	var err error
	for i, strategy := range p.Strategies {
		err = strategy.Play(ctx, target)
		if err == nil {
			log.Log(LogInfo, fmt.Sprintf("started playback of video %d (%s)", target.Index+1, strategy.Name()))
			return nil
		}
		if !IsPlayTimeout(err) || i == len(p.Strategies)-1 {
			return err
		}
		log.Log(LogWarn, fmt.Sprintf("play control not found for video %d, trying %s", target.Index+1, p.Strategies[i+1].Name()))
	}
	return err
}

// IsPlayTimeout reports whether err means a play control did not show up in
// time.
func IsPlayTimeout(err error) bool {
	return errors.Is(err, ErrPlayTimeout)
}
