// Package capturetest provides a scripted capture.Browser for tests of
// packages that drive capture runs.
package capturetest

import (
	"context"
	"html"
	"strings"
	"sync"

	"github.com/GoodchildTrevor/kinescope-donwloader/internal/capture"
)

// Video is one lesson block: its title paragraph and the requests its
// player makes once playback starts.
type Video struct {
	Title    string
	Requests []string
}

// Browser serves a single lesson page made of videos.
type Browser struct {
	LoginErr error
	DocErr   error

	mu       sync.Mutex
	videos   []Video
	observer func(string)
	logins   int
}

func Lesson(videos ...Video) *Browser {
	return &Browser{videos: videos}
}

func (b *Browser) Login(context.Context, string, capture.Credentials) error {
	b.mu.Lock()
	b.logins++
	b.mu.Unlock()
	return b.LoginErr
}

// Logins reports how many times Login was called.
func (b *Browser) Logins() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.logins
}

func (b *Browser) ActivateTab(context.Context, int) error { return nil }

func (b *Browser) ContentDocument(context.Context) (capture.Document, error) {
	if b.DocErr != nil {
		return nil, b.DocErr
	}
	return document{b}, nil
}

func (b *Browser) Observe(_ context.Context, fn func(string)) error {
	b.mu.Lock()
	b.observer = fn
	b.mu.Unlock()
	return nil
}

func (b *Browser) Mouse() capture.Mouse { return mouse{} }

func (b *Browser) request(url string) {
	b.mu.Lock()
	fn := b.observer
	b.mu.Unlock()
	if fn != nil {
		fn(url)
	}
}

type document struct{ b *Browser }

func (d document) HTML(context.Context) (string, error) {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	for _, v := range d.b.videos {
		sb.WriteString(`<div class="xblock-student_view-html"><p>`)
		sb.WriteString(html.EscapeString(v.Title))
		sb.WriteString(`</p></div>`)
	}
	sb.WriteString("</body></html>")
	return sb.String(), nil
}

func (d document) VideoFrames(context.Context) ([]capture.VideoFrame, error) {
	frames := make([]capture.VideoFrame, len(d.b.videos))
	for i, v := range d.b.videos {
		frames[i] = frame{b: d.b, requests: v.Requests}
	}
	return frames, nil
}

type frame struct {
	b        *Browser
	requests []string
}

func (f frame) BoundingBox(context.Context) (capture.Box, bool, error) {
	return capture.Box{Width: 640, Height: 360}, true, nil
}

func (f frame) Content(context.Context) (capture.Frame, error) { return f, nil }

func (f frame) ClickFirst(context.Context, string) error {
	for _, u := range f.requests {
		f.b.request(u)
	}
	return nil
}

type mouse struct{}

func (mouse) ClickAt(context.Context, float64, float64) error { return nil }
