package web

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoodchildTrevor/kinescope-donwloader/internal/capture"
	"github.com/GoodchildTrevor/kinescope-donwloader/internal/downloader"
)

type JobKind string

const (
	JobSearch   JobKind = "search"
	JobDownload JobKind = "download"
)

const (
	statusQueued   = "queued"
	statusRunning  = "running"
	statusComplete = "complete"
	statusError    = "error"
)

// Job is an asynchronous search or download.
type Job struct {
	mu          sync.RWMutex
	id          string
	kind        JobKind
	status      string
	url         string
	state       capture.State
	message     string
	category    capture.Category
	media       []capture.Media
	report      *downloader.Report
	createdAt   time.Time
	completedAt time.Time
}

// JobView is the JSON form of a Job.
type JobView struct {
	ID          string             `json:"id"`
	Kind        JobKind            `json:"kind"`
	Status      string             `json:"status"`
	URL         string             `json:"url,omitempty"`
	State       string             `json:"state,omitempty"`
	Message     string             `json:"message,omitempty"`
	Category    string             `json:"category,omitempty"`
	Media       []capture.Media    `json:"media,omitempty"`
	Report      *downloader.Report `json:"report,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

func (j *Job) ID() string { return j.id }

func (j *Job) View() JobView {
	j.mu.RLock()
	defer j.mu.RUnlock()
	v := JobView{
		ID:        j.id,
		Kind:      j.kind,
		Status:    j.status,
		URL:       j.url,
		State:     string(j.state),
		Message:   j.message,
		Category:  string(j.category),
		Media:     append([]capture.Media(nil), j.media...),
		Report:    j.report,
		CreatedAt: j.createdAt,
	}
	if !j.completedAt.IsZero() {
		done := j.completedAt
		v.CompletedAt = &done
	}
	return v
}

func (j *Job) setRunning(message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = statusRunning
	j.message = message
}

func (j *Job) setState(state capture.State) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = state
}

// finish records the outcome. Only the category of err is kept.
func (j *Job) finish(message string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.message = message
	j.completedAt = time.Now()
	if err != nil {
		j.status = statusError
		j.category = capture.CategoryOf(err)
		return
	}
	j.status = statusComplete
}

func (j *Job) finishSearch(media []capture.Media, message string, err error) {
	j.mu.Lock()
	j.media = append([]capture.Media(nil), media...)
	j.mu.Unlock()
	j.finish(message, err)
}

// finishDownload keeps the per-entry outcomes with their error category in
// place of the error text.
func (j *Job) finishDownload(report downloader.Report, message string, err error) {
	results := make([]downloader.Result, len(report.Results))
	for i, res := range report.Results {
		if res.Err != nil {
			res.Error = string(capture.CategoryOf(res.Err))
		}
		results[i] = res
	}
	report.Results = results
	j.mu.Lock()
	j.report = &report
	j.mu.Unlock()
	j.finish(message, err)
}

// Media returns a copy of the media found by a finished search.
func (j *Job) Media() ([]capture.Media, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.kind != JobSearch || j.status != statusComplete {
		return nil, false
	}
	return append([]capture.Media(nil), j.media...), true
}

func (j *Job) isActive() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status == statusQueued || j.status == statusRunning
}

func (j *Job) isExpired(now time.Time, ttl time.Duration) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if ttl <= 0 || j.completedAt.IsZero() {
		return false
	}
	return now.Sub(j.completedAt) > ttl
}

// jobTracker keeps jobs in memory until they expire.
type jobTracker struct {
	jobs sync.Map
}

func (jt *jobTracker) Create(kind JobKind, url string) *Job {
	job := &Job{
		id:        uuid.NewString(),
		kind:      kind,
		status:    statusQueued,
		url:       url,
		createdAt: time.Now(),
	}
	jt.jobs.Store(job.id, job)
	return job
}

func (jt *jobTracker) Get(id string) (*Job, bool) {
	v, ok := jt.jobs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Job), true
}

func (jt *jobTracker) ActiveCount() int {
	count := 0
	jt.jobs.Range(func(_, v any) bool {
		if j, ok := v.(*Job); ok && j.isActive() {
			count++
		}
		return true
	})
	return count
}

func (jt *jobTracker) RemoveExpired(now time.Time, ttl time.Duration) int {
	removed := 0
	jt.jobs.Range(func(key, v any) bool {
		if j, ok := v.(*Job); ok && j.isExpired(now, ttl) {
			jt.jobs.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

func (jt *jobTracker) StartCleanup(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				jt.RemoveExpired(now, ttl)
			}
		}
	}()
}
