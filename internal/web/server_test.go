package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GoodchildTrevor/kinescope-donwloader/internal/app"
	"github.com/GoodchildTrevor/kinescope-donwloader/internal/capture"
	"github.com/GoodchildTrevor/kinescope-donwloader/internal/capture/capturetest"
	"github.com/GoodchildTrevor/kinescope-donwloader/internal/downloader"
	"github.com/GoodchildTrevor/kinescope-donwloader/internal/ws"
)

type recordingHub struct {
	mu       sync.Mutex
	messages []ws.WSMessage
}

func (h *recordingHub) Broadcast(msg ws.WSMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

func (h *recordingHub) HandleWS(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusTeapot)
}

func (h *recordingHub) types() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := map[string]int{}
	for _, m := range h.messages {
		out[m.Type]++
	}
	return out
}

type writingRunner struct{}

// Run creates the output file instead of invoking ffmpeg.
func (writingRunner) Run(_ context.Context, cmd *exec.Cmd) error {
	out := cmd.Args[len(cmd.Args)-2]
	return os.WriteFile(out, []byte("mp4"), 0o644)
}

type quietRenderer struct{}

func (quietRenderer) Log(capture.LogLevel, string) {}
func (quietRenderer) ItemFinished(int, int, downloader.Result) {}
func (quietRenderer) Summary(downloader.Report) {}

type testServer struct {
	*httptest.Server
	hub    *recordingHub
	outDir string
}

func newTestServer(t *testing.T, browser capture.Browser) *testServer {
	t.Helper()
	outDir := t.TempDir()
	svc := app.New(app.Config{
		Browser: func(context.Context) (capture.Browser, func(), error) {
			return browser, func() {}, nil
		},
		Timeouts: capture.Timeouts{Cooldown: capture.NoCooldown},
		Download: downloader.Options{OutputDir: outDir, Renderer: quietRenderer{}},
	}).WithRunner(writingRunner{})

	ctx, cancel := context.WithCancel(context.Background())
	hub := &recordingHub{}
	srv := NewServer(ctx, svc, hub, Options{OutputDir: outDir})
	handler, err := srv.Handler()
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
		cancel()
	})
	return &testServer{Server: ts, hub: hub, outDir: outDir}
}

func (ts *testServer) postJSON(t *testing.T, path string, body any) (*http.Response, JobResponse) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var out JobResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (ts *testServer) waitJob(t *testing.T, id string) JobView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(ts.URL + "/api/jobs?id=" + id)
		if err != nil {
			t.Fatalf("GET job: %v", err)
		}
		var view JobView
		_ = json.NewDecoder(resp.Body).Decode(&view)
		resp.Body.Close()
		if view.Status == statusComplete || view.Status == statusError {
			return view
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s still %q", id, view.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSearchThenDownload(t *testing.T) {
	browser := capturetest.Lesson(
		capturetest.Video{Title: "Intro", Requests: []string{"https://kinescope.io/1/master.m3u8"}},
		capturetest.Video{Title: "Outro", Requests: []string{"https://kinescope.io/2/master.m3u8"}},
	)
	ts := newTestServer(t, browser)

	resp, ack := ts.postJSON(t, "/api/search", SearchRequest{URL: "https://lms.example/unit"})
	if resp.StatusCode != http.StatusAccepted || ack.ID == "" || ack.Status != app.StatusSearching {
		t.Fatalf("search ack = %d %+v", resp.StatusCode, ack)
	}
	search := ts.waitJob(t, ack.ID)
	if search.Message != "found 2 video(s)" || len(search.Media) != 2 || search.State != string(capture.StateDone) {
		t.Fatalf("search job = %+v", search)
	}

	resp, ack = ts.postJSON(t, "/api/download", DownloadRequest{SearchID: search.ID, Titles: []string{"Outro"}})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("download status = %d %+v", resp.StatusCode, ack)
	}
	download := ts.waitJob(t, ack.ID)
	if download.Message != "downloaded 1 video(s)" || download.Report == nil || download.Report.OK != 1 {
		t.Fatalf("download job = %+v", download)
	}
	if _, err := os.Stat(filepath.Join(ts.outDir, "Outro.mp4")); err != nil {
		t.Fatalf("output missing: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for ts.hub.types()[ws.TypeResult] < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	types := ts.hub.types()
	if types[ws.TypeState] == 0 || types[ws.TypeResult] != 2 || types[ws.TypeProgress] == 0 {
		t.Fatalf("broadcast types = %v", types)
	}

	listResp, err := http.Get(ts.URL + "/api/media/")
	if err != nil {
		t.Fatalf("GET media: %v", err)
	}
	defer listResp.Body.Close()
	var listing struct {
		Items []mediaItem `json:"items"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&listing); err != nil || len(listing.Items) != 1 || listing.Items[0].Title != "Outro" {
		t.Fatalf("listing = %+v (%v)", listing, err)
	}
}

func TestDownloadNothingSelected(t *testing.T) {
	browser := capturetest.Lesson(capturetest.Video{Title: "Intro", Requests: []string{"https://x/1.m3u8"}})
	ts := newTestServer(t, browser)

	_, ack := ts.postJSON(t, "/api/search", SearchRequest{URL: "https://lms.example"})
	search := ts.waitJob(t, ack.ID)

	resp, ack := ts.postJSON(t, "/api/download", DownloadRequest{SearchID: search.ID, Titles: []string{"Other"}})
	if resp.StatusCode != http.StatusOK || ack.Status != app.StatusNothingSelected || ack.ID != "" {
		t.Fatalf("response = %d %+v", resp.StatusCode, ack)
	}
}

func TestSearchFailureShowsCategoryOnly(t *testing.T) {
	browser := &capturetest.Browser{LoginErr: os.ErrPermission}
	ts := newTestServer(t, browser)

	_, ack := ts.postJSON(t, "/api/search", SearchRequest{URL: "https://lms.example"})
	view := ts.waitJob(t, ack.ID)
	if view.Status != statusError || view.Category != string(capture.CategoryAuth) || view.Message != app.StatusNothingFound {
		t.Fatalf("view = %+v", view)
	}
	data, _ := json.Marshal(view)
	if strings.Contains(string(data), "permission") {
		t.Fatalf("raw error leaked: %s", data)
	}
}

func TestRequestValidation(t *testing.T) {
	ts := newTestServer(t, capturetest.Lesson())

	tests := []struct {
		name   string
		path   string
		body   string
		ctype  string
		status int
	}{
		{"wrong content type", "/api/search", `{"url":"https://x"}`, "text/plain", http.StatusUnsupportedMediaType},
		{"bad json", "/api/search", `{"url":`, "application/json", http.StatusBadRequest},
		{"unknown field", "/api/search", `{"url":"https://x","extra":1}`, "application/json", http.StatusBadRequest},
		{"invalid url", "/api/search", `{"url":"ftp://x"}`, "application/json", http.StatusBadRequest},
		{"negative tab", "/api/search", `{"url":"https://x","tab":-1}`, "application/json", http.StatusBadRequest},
		{"unknown search", "/api/download", `{"search_id":"nope","titles":["a"]}`, "application/json", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+tt.path, tt.ctype, strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, capturetest.Lesson())
	for _, path := range []string{"/api/search", "/api/download"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("GET %s = %d", path, resp.StatusCode)
		}
	}
}

func TestIndexAndSecurityHeaders(t *testing.T) {
	ts := newTestServer(t, capturetest.Lesson())
	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("index = %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("X-Frame-Options") != "DENY" || resp.Header.Get("Content-Security-Policy") == "" {
		t.Fatalf("missing security headers: %v", resp.Header)
	}

	apiResp, err := http.Get(ts.URL + "/api/unknown")
	if err != nil {
		t.Fatalf("GET api: %v", err)
	}
	apiResp.Body.Close()
	if apiResp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown api path = %d", apiResp.StatusCode)
	}
}

func TestResolveMediaPath(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tests := []struct {
		path   string
		status int
	}{
		{"a.mp4", 0},
		{"../a.mp4", http.StatusBadRequest},
		{"/etc/passwd", http.StatusBadRequest},
		{"missing.mp4", http.StatusNotFound},
	}
	for _, tt := range tests {
		_, status, err := resolveMediaPath(dir, tt.path)
		if status != tt.status || (tt.status == 0) != (err == nil) {
			t.Fatalf("resolveMediaPath(%q) = %d, %v; want %d", tt.path, status, err, tt.status)
		}
	}
}
