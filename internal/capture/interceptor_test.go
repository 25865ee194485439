package capture

import (
	"strings"
	"testing"
)

type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) Log(level LogLevel, msg string) {
	r.lines = append(r.lines, level.String()+": "+msg)
}

func (r *recordingLogger) contains(substr string) bool {
	for _, line := range r.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func TestInterceptorObserve(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want Decision
	}{
		{"top-level manifest", "https://kinescope.io/abc/master.m3u8", DecisionRecord},
		{"manifest with token", "https://kinescope.io/abc/master.m3u8?token=1", DecisionRecord},
		{"video variant", "https://kinescope.io/abc/master.m3u8?quality=720&type=video", DecisionIgnore},
		{"audio variant", "https://kinescope.io/abc/master.m3u8?type=audio&quality=128", DecisionIgnore},
		{"quality only", "https://kinescope.io/abc/master.m3u8?quality=720", DecisionRecord},
		{"type only", "https://kinescope.io/abc/master.m3u8?type=video", DecisionRecord},
		{"not a manifest", "https://kinescope.io/abc/segment.ts", DecisionIgnore},
		{"unparsable", "https://kinescope.io/%zz.m3u8", DecisionIgnore},
		{"empty", "", DecisionIgnore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := NewInterceptor(NewList(), nil)
			if got := in.Observe(tt.url); got != tt.want {
				t.Fatalf("Observe(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestInterceptorVariantExclusion(t *testing.T) {
	list := NewList()
	in := NewInterceptor(list, nil)
	in.Observe("https://kinescope.io/v/master.m3u8?quality=720&type=video")
	if list.Len() != 0 {
		t.Fatalf("variant stream was recorded")
	}
	in.Observe("https://kinescope.io/v/master.m3u8")
	if list.Len() != 1 {
		t.Fatalf("top-level manifest was not recorded")
	}
}

func TestInterceptorRecordsOncePerURL(t *testing.T) {
	log := &recordingLogger{}
	in := NewInterceptor(NewList(), log)
	url := "https://kinescope.io/v/master.m3u8"
	if got := in.Observe(url); got != DecisionRecord {
		t.Fatalf("first observe = %v", got)
	}
	if got := in.Observe(url); got != DecisionIgnore {
		t.Fatalf("second observe = %v", got)
	}
	if in.List().Len() != 1 {
		t.Fatalf("len = %d, want 1", in.List().Len())
	}
	if !log.contains("captured manifest") {
		t.Fatalf("expected capture log line, got %v", log.lines)
	}
}
