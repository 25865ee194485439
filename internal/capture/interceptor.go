package capture

import (
	"fmt"
	"net/url"
	"strings"
)

// Decision is the interceptor's verdict on one outbound request.
type Decision int

const (
	DecisionIgnore Decision = iota
	DecisionRecord
)

func (d Decision) String() string {
	if d == DecisionRecord {
		return "record"
	}
	return "ignore"
}

// Interceptor watches outbound request URLs and records top-level streaming
// manifests into a List. It never alters or delays the request itself.
type Interceptor struct {
	list *List
	log  Logger
}

func NewInterceptor(list *List, log Logger) *Interceptor {
	return &Interceptor{list: list, log: orNop(log)}
}

func (i *Interceptor) List() *List {
	return i.list
}

// Observe decides whether requestURL is a new top-level manifest and records
// it if so.
func (i *Interceptor) Observe(requestURL string) Decision {
	if !IsManifestCandidate(requestURL) {
		return DecisionIgnore
	}
	if !i.list.Record(requestURL) {
		return DecisionIgnore
	}
	i.log.Log(LogInfo, fmt.Sprintf("captured manifest: %s", requestURL))
	return DecisionRecord
}

// IsManifestCandidate reports whether rawURL names a streaming manifest
// that is not a quality/type variant sub-stream.
func IsManifestCandidate(rawURL string) bool {
	if !strings.Contains(rawURL, ManifestMarker) {
		return false
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return !isVariantQuery(parsed.RawQuery)
}

func isVariantQuery(query string) bool {
	if !strings.Contains(query, "quality=") {
		return false
	}
	return strings.Contains(query, "type=video") || strings.Contains(query, "type=audio")
}
