package capture

import (
	"fmt"
	"sync"
)

const (
	// SentinelVideoTitle marks a captured manifest whose lesson title is not
	// known yet.
	SentinelVideoTitle = "Untitled_Video"
	// SentinelLessonTitle replaces a lesson title that sanitizes to nothing.
	SentinelLessonTitle = "Untitled_Lesson"
	// ManifestMarker identifies streaming manifest URLs.
	ManifestMarker = ".m3u8"
)

// Media is one captured stream: the manifest URL and the title used for the
// output file.
type Media struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// List is the capture list: manifests in arrival order plus the set of URLs
// already recorded.
//
// During capture the interceptor is the only caller of Record and the
// orchestrator the only caller of Backfill. Browser events arrive on the
// session's event goroutine, so both paths go through mu.
type List struct {
	mu    sync.Mutex
	items []Media
	seen  map[string]struct{}
}

func NewList() *List {
	return &List{seen: make(map[string]struct{})}
}

// NewListFrom builds a list already holding items, dropping repeated URLs.
func NewListFrom(items []Media) *List {
	l := NewList()
	for _, m := range items {
		if _, ok := l.seen[m.URL]; ok {
			continue
		}
		l.seen[m.URL] = struct{}{}
		l.items = append(l.items, m)
	}
	return l
}

// Record appends url with the sentinel title unless it was recorded before.
func (l *List) Record(url string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen == nil {
		l.seen = make(map[string]struct{})
	}
	if _, ok := l.seen[url]; ok {
		return false
	}
	l.seen[url] = struct{}{}
	l.items = append(l.items, Media{URL: url, Title: SentinelVideoTitle})
	return true
}

// Backfill assigns title to the most recently captured entry that still
// carries the sentinel title. At most one entry changes.
func (l *List) Backfill(title string) (Media, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.items) - 1; i >= 0; i-- {
		if l.items[i].Title == SentinelVideoTitle {
			l.items[i].Title = title
			return l.items[i], true
		}
	}
	return Media{}, false
}

// Items returns a copy of the list in capture order.
func (l *List) Items() []Media {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Media(nil), l.items...)
}

// Media satisfies downloader.MediaSource.
func (l *List) Media() []Media {
	return l.Items()
}

func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Finalize turns a capture list into the final media list: the first entry
// per URL wins and repeated titles get _1, _2, ... in encounter order.
func Finalize(items []Media) []Media {
	out := make([]Media, 0, len(items))
	seenURLs := make(map[string]struct{}, len(items))
	seenTitles := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, ok := seenURLs[item.URL]; ok {
			continue
		}
		title := item.Title
		for suffix := 1; ; suffix++ {
			if _, taken := seenTitles[title]; !taken {
				break
			}
			title = fmt.Sprintf("%s_%d", item.Title, suffix)
		}
		out = append(out, Media{URL: item.URL, Title: title})
		seenURLs[item.URL] = struct{}{}
		seenTitles[title] = struct{}{}
	}
	return out
}

// SelectByTitle keeps the entries of items whose title is in titles,
// preserving the order of items.
func SelectByTitle(items []Media, titles []string) []Media {
	wanted := make(map[string]struct{}, len(titles))
	for _, t := range titles {
		wanted[t] = struct{}{}
	}
	var out []Media
	for _, m := range items {
		if _, ok := wanted[m.Title]; ok {
			out = append(out, m)
		}
	}
	return out
}
