// Package web serves the JSON API and single page front end.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/GoodchildTrevor/kinescope-donwloader/internal/app"
	"github.com/GoodchildTrevor/kinescope-donwloader/internal/capture"
	"github.com/GoodchildTrevor/kinescope-donwloader/internal/downloader"
	"github.com/GoodchildTrevor/kinescope-donwloader/internal/ws"
)

//go:embed assets/*
var embeddedAssets embed.FS

const maxRequestBodyBytes = 1 << 20

const (
	jobTTL             = 30 * time.Minute
	jobCleanupInterval = time.Minute
	defaultWorkers     = 1
)

// Hub is the event fan-out used for job progress.
type Hub interface {
	downloader.WSBroadcaster
	HandleWS(w http.ResponseWriter, r *http.Request)
}

type Options struct {
	// Credentials are used when a search request carries none.
	Credentials capture.Credentials
	OutputDir   string
	Workers     int
	Log         capture.Logger
}

type SearchRequest struct {
	URL      string `json:"url"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
	Tab      int    `json:"tab,omitempty"`
}

type DownloadRequest struct {
	SearchID string   `json:"search_id"`
	Titles   []string `json:"titles"`
}

// JobResponse acknowledges a request.
type JobResponse struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type mediaItem struct {
	Filename string `json:"filename"`
	Title    string `json:"title"`
	Size     int64  `json:"size"`
	Date     string `json:"date"`
}

// Server runs search jobs one at a time and download jobs on a worker pool.
type Server struct {
	ctx       context.Context
	svc       *app.Service
	hub       Hub
	pool      *downloader.Pool
	tracker   *jobTracker
	searches  chan struct{}
	opts      Options
	startedAt time.Time
}

func NewServer(ctx context.Context, svc *app.Service, hub Hub, opts Options) *Server {
	if opts.Workers < 1 {
		opts.Workers = defaultWorkers
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if opts.Log == nil {
		opts.Log = nopLogger{}
	}
	s := &Server{
		ctx:       ctx,
		svc:       svc,
		hub:       hub,
		pool:      downloader.NewPool(opts.Workers, hub),
		tracker:   &jobTracker{},
		searches:  make(chan struct{}, 1),
		opts:      opts,
		startedAt: time.Now(),
	}
	s.pool.Log = opts.Log
	s.pool.Start(ctx)
	s.tracker.StartCleanup(ctx, jobCleanupInterval, jobTTL)
	return s
}

// Close stops the download workers.
func (s *Server) Close() {
	s.pool.Stop()
}

func (s *Server) Handler() (http.Handler, error) {
	assets, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		return nil, err
	}
	fileServer := http.FileServer(http.FS(assets))

	mux := http.NewServeMux()
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/download", s.handleDownload)
	mux.HandleFunc("/api/jobs", s.handleJob)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/media/", s.handleMedia)
	mux.HandleFunc("/ws", s.hub.HandleWS)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			http.NotFound(w, r)
			return
		}
		if r.URL.Path != "/" && fileExists(assets, strings.TrimPrefix(r.URL.Path, "/")) {
			fileServer.ServeHTTP(w, r)
			return
		}
		serveIndex(w, assets)
	})
	return withSecurityHeaders(mux), nil
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req SearchRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, err.status, err.message)
		return
	}
	if err := app.ValidateURL(req.URL); err != nil {
		writeJSONError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
		return
	}
	if req.Tab < 0 {
		writeJSONError(w, http.StatusBadRequest, "tab must not be negative")
		return
	}

	target := capture.Target{
		URL:         strings.TrimSpace(req.URL),
		Credentials: s.opts.Credentials,
		Tab:         req.Tab,
	}
	if req.Email != "" || req.Password != "" {
		target.Credentials = capture.Credentials{Email: req.Email, Password: req.Password}
	}

	job := s.tracker.Create(JobSearch, target.URL)
	s.opts.Log.Log(capture.LogInfo, fmt.Sprintf("search %s queued for %s", job.ID(), target.URL))
	go s.runSearch(job, target)
	writeJSON(w, http.StatusAccepted, JobResponse{ID: job.ID(), Status: app.StatusSearching})
}

func (s *Server) runSearch(job *Job, target capture.Target) {
	select {
	case s.searches <- struct{}{}:
	case <-s.ctx.Done():
		job.finish(app.StatusNothingFound, s.ctx.Err())
		return
	}
	defer func() { <-s.searches }()

	job.setRunning(app.StatusSearching)
	media, err := s.svc.SearchTarget(s.ctx, target, func(state capture.State) {
		job.setState(state)
		s.hub.Broadcast(ws.WSMessage{
			Type:    ws.TypeState,
			Payload: ws.StatePayload{ID: job.ID(), State: string(state)},
		})
	})
	status := app.SearchStatus(media)
	job.finishSearch(media, status, err)
	s.hub.Broadcast(ws.WSMessage{
		Type:    ws.TypeResult,
		Payload: ws.ResultPayload{ID: job.ID(), Status: status, Count: len(media)},
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req DownloadRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, err.status, err.message)
		return
	}
	search, ok := s.tracker.Get(req.SearchID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "search not found")
		return
	}
	found, ok := search.Media()
	if !ok {
		writeJSONError(w, http.StatusConflict, "search has not completed")
		return
	}
	selected := app.Select(found, req.Titles)
	if len(selected) == 0 {
		writeJSON(w, http.StatusOK, JobResponse{Status: app.StatusNothingSelected})
		return
	}

	job := s.tracker.Create(JobDownload, search.View().URL)
	job.setRunning("queued")
	s.pool.AddTask(downloader.Task{
		ID:    job.ID(),
		Media: selected,
		Execute: func(ctx context.Context, media []capture.Media, renderer downloader.Renderer) downloader.Report {
			return s.svc.DownloadReport(ctx, media, renderer)
		},
		OnFinish: func(id string, report downloader.Report, err error) {
			status := app.StatusDownloaded(report.OK)
			job.finishDownload(report, status, err)
			s.hub.Broadcast(ws.WSMessage{
				Type:    ws.TypeResult,
				Payload: ws.ResultPayload{ID: id, Status: status, Count: report.OK},
			})
		},
	})
	writeJSON(w, http.StatusAccepted, JobResponse{ID: job.ID(), Status: "queued"})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	job, ok := s.tracker.Get(r.URL.Query().Get("id"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job.View())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active_jobs": s.tracker.ActiveCount(),
		"uptime":      time.Since(s.startedAt).Truncate(time.Second).String(),
	})
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	reqPath := strings.TrimPrefix(r.URL.Path, "/api/media/")
	if reqPath == "" {
		items, err := listMediaFiles(s.opts.OutputDir)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to read output directory")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}
	fullPath, status, err := resolveMediaPath(s.opts.OutputDir, reqPath)
	if err != nil {
		writeJSONError(w, status, err.Error())
		return
	}
	http.ServeFile(w, r, fullPath)
}

// ListenAndServe serves handler on addr until ctx is done.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string { return e.message }

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) *requestError {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return &requestError{http.StatusUnsupportedMediaType, "content type must be application/json"}
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return &requestError{http.StatusRequestEntityTooLarge, "request body too large"}
		}
		return &requestError{http.StatusBadRequest, "invalid JSON payload"}
	}
	if err := dec.Decode(new(struct{})); err != io.EOF {
		return &requestError{http.StatusBadRequest, "invalid JSON payload"}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, JobResponse{Status: "error", Error: message})
}

func serveIndex(w http.ResponseWriter, assets fs.FS) {
	data, err := fs.ReadFile(assets, "index.html")
	if err != nil {
		http.Error(w, "missing index", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func fileExists(assets fs.FS, name string) bool {
	if name == "" {
		return false
	}
	f, err := assets.Open(name)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

func withSecurityHeaders(next http.Handler) http.Handler {
	const csp = "default-src 'self'; base-uri 'self'; frame-ancestors 'none'; object-src 'none'; script-src 'self'; style-src 'self' 'unsafe-inline'; connect-src 'self'; media-src 'self'"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", csp)
		next.ServeHTTP(w, r)
	})
}

// listMediaFiles lists the .mp4 files in dir, newest first.
func listMediaFiles(dir string) ([]mediaItem, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []mediaItem{}, nil
	}
	if err != nil {
		return nil, err
	}
	type dated struct {
		item    mediaItem
		modTime time.Time
	}
	var files []dated
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".mp4") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, dated{
			item: mediaItem{
				Filename: info.Name(),
				Title:    strings.TrimSuffix(info.Name(), filepath.Ext(info.Name())),
				Size:     info.Size(),
				Date:     info.ModTime().Format("2006-01-02"),
			},
			modTime: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].item.Filename < files[j].item.Filename
		}
		return files[i].modTime.After(files[j].modTime)
	})
	out := make([]mediaItem, 0, len(files))
	for _, f := range files {
		out = append(out, f.item)
	}
	return out, nil
}

// resolveMediaPath confines reqPath to dir, following symlinks.
func resolveMediaPath(dir, reqPath string) (string, int, error) {
	cleaned := filepath.Clean(reqPath)
	if cleaned == "." || strings.Contains(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", http.StatusBadRequest, fmt.Errorf("invalid path")
	}
	fullPath := filepath.Join(dir, cleaned)
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", http.StatusNotFound, fmt.Errorf("not found")
	}
	realTarget, err := filepath.EvalSymlinks(fullPath)
	if err != nil {
		return "", http.StatusNotFound, fmt.Errorf("not found")
	}
	rel, err := filepath.Rel(realDir, realTarget)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", http.StatusForbidden, fmt.Errorf("access denied")
	}
	return fullPath, 0, nil
}

type nopLogger struct{}

func (nopLogger) Log(capture.LogLevel, string) {}
