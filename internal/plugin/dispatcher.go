package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
)

// StatusFunc records a status returned by a plugin for a record.
type StatusFunc func(recordID, pluginName, status string) error

// Job is one event waiting to be delivered to subscribed plugins.
type Job struct {
	Event    string
	RecordID string
	Record   any
}

// Result is the outcome of running one plugin for a Job.
type Result struct {
	Plugin   string
	Response *Response
	Err      error
}

// Dispatcher delivers events to subscribed plugins off the caller's goroutine. Jobs
// are queued in a bounded channel and run one at a time by Run.
type Dispatcher struct {
	manager  *Manager
	executor *Executor
	onStatus StatusFunc
	jobs     chan Job
}

// NewDispatcher creates a Dispatcher with room for queueSize pending jobs. onStatus
// may be nil.
func NewDispatcher(manager *Manager, executor *Executor, queueSize int, onStatus StatusFunc) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		manager:  manager,
		executor: executor,
		onStatus: onStatus,
		jobs:     make(chan Job, queueSize),
	}
}

// Submit queues a job without blocking. It returns false if the queue is full.
func (d *Dispatcher) Submit(job Job) bool {
	select {
	case d.jobs <- job:
		return true
	default:
		log.Printf("Plugin queue full, dropping %s event for %s", job.Event, job.RecordID)
		return false
	}
}

// Run processes queued jobs until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.jobs:
			d.Dispatch(ctx, job)
		}
	}
}

// Dispatch runs every plugin subscribed to job.Event in name order and returns their
// results. Statuses from successful responses are passed to the StatusFunc.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) []Result {
	subs := d.manager.Subscribers(job.Event)
	if len(subs) == 0 {
		return nil
	}

	record, err := json.Marshal(job.Record)
	if err != nil {
		log.Printf("Plugin dispatch: cannot encode %s record: %v", job.Event, err)
		return nil
	}

	results := make([]Result, 0, len(subs))
	for _, p := range subs {
		req := &Request{
			Event:    job.Event,
			RecordID: job.RecordID,
			Record:   record,
		}
		resp, err := d.executor.Execute(ctx, p, req)
		if err == nil && !resp.Success {
			err = fmt.Errorf("plugin %s: %s", p.Manifest.Name, resp.Error)
		}
		if err != nil {
			log.Printf("Plugin %s failed on %s: %v", p.Manifest.Name, job.Event, err)
		} else if resp.Status != "" && d.onStatus != nil && job.RecordID != "" {
			if serr := d.onStatus(job.RecordID, p.Manifest.Name, resp.Status); serr != nil {
				log.Printf("Plugin %s status for %s not saved: %v", p.Manifest.Name, job.RecordID, serr)
			}
		}
		results = append(results, Result{Plugin: p.Manifest.Name, Response: resp, Err: err})
	}
	return results
}
