package capture

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

const (
	lessonBlockSelector = "div.xblock-student_view-html"
	maxTitleParagraphs  = 2
)

// ResolveTitle derives a filename-safe lesson title from the index-th lesson
// block of html. Any failure degrades to SentinelVideoTitle with a warning.
func ResolveTitle(html string, index int, log Logger) (title string) {
	log = orNop(log)
	title = SentinelVideoTitle
	defer func() {
		if r := recover(); r != nil {
			log.Log(LogWarn, fmt.Sprintf("title extraction failed for block #%d: %v", index, r))
			title = SentinelVideoTitle
		}
	}()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		log.Log(LogWarn, fmt.Sprintf("title extraction failed for block #%d: %v", index, Wrap(CategoryTitleExtraction, err)))
		return SentinelVideoTitle
	}

	blocks := doc.Find(lessonBlockSelector)
	if index < 0 || blocks.Length() <= index {
		log.Log(LogWarn, fmt.Sprintf("lesson block #%d not found", index))
		return SentinelVideoTitle
	}
	paragraphs := blocks.Eq(index).Find("p")
	if paragraphs.Length() == 0 {
		log.Log(LogWarn, fmt.Sprintf("lesson block #%d has no paragraphs", index))
		return SentinelVideoTitle
	}

	var parts []string
	paragraphs.Slice(0, min(maxTitleParagraphs, paragraphs.Length())).Each(func(_ int, p *goquery.Selection) {
		text := strings.TrimSpace(p.Text())
		if text == "" {
			return
		}
		text = strings.NewReplacer("\n", " ", "\r", " ").Replace(text)
		parts = append(parts, text)
	})

	title = SanitizeTitle(strings.Join(parts, " "), SentinelLessonTitle)
	log.Log(LogInfo, fmt.Sprintf("resolved title for block #%d: %s", index, title))
	return title
}

// SanitizeTitle keeps letters, numbers, spaces, '.', '_' and '-', trims the
// result and turns spaces into underscores. An empty result yields fallback.
func SanitizeTitle(raw, fallback string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if isTitleRune(r) {
			b.WriteRune(r)
		}
	}
	cleaned := strings.TrimSpace(b.String())
	if cleaned == "" {
		return fallback
	}
	return strings.ReplaceAll(cleaned, " ", "_")
}

func isTitleRune(r rune) bool {
	switch r {
	case ' ', '.', '_', '-':
		return true
	}
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}
