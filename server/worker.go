package server

import (
	"errors"
	"fmt"
	"sync"
)

// ErrStopped is returned by Do once the worker has been stopped.
var ErrStopped = errors.New("worker stopped")

// workRequest represents a unit of work to be executed on the analysis goroutine.
type workRequest struct {
	fn   func(*Workspace) any
	done chan workResult
}

// workResult holds the return value from a workspace operation.
type workResult struct {
	value any
	err   error
}

// Worker serializes all workspace access through a single goroutine.
// Handlers run concurrently; the analysis cache is not locked.
type Worker struct {
	ws       *Workspace
	requests chan workRequest
	quit     chan struct{}
	stop     sync.Once
}

// NewWorker creates a Worker and starts the processing goroutine.
func NewWorker(ws *Workspace) *Worker {
	w := &Worker{
		ws:       ws,
		requests: make(chan workRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially on a dedicated goroutine.
func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on the workspace, recovering from panics.
func (w *Worker) execute(fn func(*Workspace) any) workResult {
	var result workResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("%v", r)
			}
		}()
		result.value = fn(w.ws)
	}()
	return result
}

// Do runs fn on the worker goroutine and waits for its result. A panic in
// fn comes back as the error; after Stop, Do returns ErrStopped.
func (w *Worker) Do(fn func(*Workspace) any) (any, error) {
	req := workRequest{
		fn:   fn,
		done: make(chan workResult, 1),
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, ErrStopped
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.quit:
		return nil, ErrStopped
	}
}

// Stop shuts down the worker goroutine. Calling it again is a no-op.
func (w *Worker) Stop() {
	w.stop.Do(func() { close(w.quit) })
}
