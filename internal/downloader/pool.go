package downloader

import (
	"context"
	"sync"

	"github.com/GoodchildTrevor/kinescope-donwloader/internal/capture"
	"github.com/GoodchildTrevor/kinescope-donwloader/internal/ws"
)

// Task is one queued download job.
type Task struct {
	ID       string
	Media    []capture.Media
	Execute  func(ctx context.Context, media []capture.Media, renderer Renderer) Report
	OnFinish func(id string, report Report, err error)
}

// WSBroadcaster decouples the pool from the websocket hub.
type WSBroadcaster interface {
	Broadcast(msg ws.WSMessage)
}

// Pool runs download tasks on a fixed number of workers.
type Pool struct {
	TaskQueue   chan Task // unbuffered
	WorkerQueue chan int
	Workers     int
	Hub         WSBroadcaster
	// Log receives executor log lines. They never reach the hub.
	Log    capture.Logger
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewPool(workers int, hub WSBroadcaster) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		TaskQueue:   make(chan Task),
		WorkerQueue: make(chan int, workers),
		Workers:     workers,
		Hub:         hub,
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.Workers; i++ {
		p.WorkerQueue <- i
		go p.worker()
	}
}

// AddTask queues t without blocking the caller.
func (p *Pool) AddTask(t Task) {
	go func() {
		select {
		case p.TaskQueue <- t:
		case <-p.ctx.Done():
		}
	}()
}

func (p *Pool) worker() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case workerID := <-p.WorkerQueue:
			select {
			case <-p.ctx.Done():
				return
			case task := <-p.TaskQueue:
				p.wg.Add(1)
				p.processTask(task)
				p.wg.Done()
			}
			select {
			case p.WorkerQueue <- workerID:
			case <-p.ctx.Done():
			}
		}
	}
}

func (p *Pool) processTask(t Task) {
	p.Hub.Broadcast(ws.WSMessage{
		Type:    ws.TypeProgress,
		Payload: ws.ProgressPayload{ID: t.ID, Status: "starting"},
	})

	report := t.Execute(p.ctx, t.Media, &poolRenderer{id: t.ID, hub: p.Hub, log: p.Log})
	err := report.Err()
	if err != nil {
		category := string(capture.CategoryOf(err))
		p.Hub.Broadcast(ws.WSMessage{
			Type: ws.TypeError,
			Payload: ws.ErrorPayload{
				ID:       t.ID,
				Message:  category,
				Category: category,
				Code:     capture.ExitCode(err),
			},
		})
	}

	if t.OnFinish != nil {
		t.OnFinish(t.ID, report, err)
	}
}

func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// poolRenderer sends per-item outcomes to the hub. Log text, which carries
// manifest URLs and ffmpeg output, goes to the local logger only.
type poolRenderer struct {
	id  string
	hub WSBroadcaster
	log capture.Logger
}

func (r *poolRenderer) Log(level LogLevel, msg string) {
	if r.log != nil {
		r.log.Log(level, "job "+r.id+": "+msg)
	}
}

func (r *poolRenderer) ItemFinished(index, total int, result Result) {
	percent := 0.0
	if total > 0 {
		percent = float64(index+1) * 100 / float64(total)
	}
	r.hub.Broadcast(ws.WSMessage{
		Type: ws.TypeProgress,
		Payload: ws.ProgressPayload{
			ID:       r.id,
			Filename: result.Title,
			Percent:  percent,
			Status:   string(result.Outcome),
			Category: string(resultCategory(result)),
		},
	})
}

func (r *poolRenderer) Summary(report Report) {
	r.hub.Broadcast(ws.WSMessage{
		Type: ws.TypeProgress,
		Payload: ws.ProgressPayload{
			ID:      r.id,
			Percent: 100,
			Status:  "complete",
		},
	})
}

func resultCategory(result Result) capture.Category {
	if result.Err == nil || result.Outcome != OutcomeFailed {
		return ""
	}
	return capture.CategoryOf(result.Err)
}
