package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrStopped = errors.New("worker queue is stopped")

type Job func()

// Worker runs queued jobs one at a time, in the order they were queued, on a
// single goroutine. A panicking job is logged and the next job still runs.
type Worker struct {
	name string
	log  *zap.Logger

	mut_jobs sync.Mutex
	jobsCond *sync.Cond
	jobs     []Job
	stopping bool

	done chan struct{}
}

func New(name string, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	w := &Worker{
		name: name,
		log:  logger.With(zap.String("worker", name)),
		done: make(chan struct{}),
	}
	w.jobsCond = sync.NewCond(&w.mut_jobs)

	go w.consume()
	return w
}

// QueueJob appends job to the queue and returns without waiting for it.
func (w *Worker) QueueJob(job Job) error {
	w.mut_jobs.Lock()
	defer w.mut_jobs.Unlock()

	if w.stopping {
		return ErrStopped
	}
	w.jobs = append(w.jobs, job)
	w.jobsCond.Signal()
	return nil
}

// Pending is the number of jobs queued but not yet started.
func (w *Worker) Pending() int {
	w.mut_jobs.Lock()
	defer w.mut_jobs.Unlock()
	return len(w.jobs)
}

// Flush blocks until every job queued before the call has run.
func (w *Worker) Flush() {
	flushed := make(chan struct{})
	if err := w.QueueJob(func() { close(flushed) }); err != nil {
		<-w.done
		return
	}
	<-flushed
}

// Every queues job once per interval until ctx ends or the worker stops.
// Ticks that arrive while the previous run is still queued are skipped.
func (w *Worker) Every(ctx context.Context, interval time.Duration, job Job) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var mut_queued sync.Mutex
		queued := false

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return
			case <-ticker.C:
			}

			mut_queued.Lock()
			if queued {
				mut_queued.Unlock()
				continue
			}
			queued = true
			mut_queued.Unlock()

			err := w.QueueJob(func() {
				mut_queued.Lock()
				queued = false
				mut_queued.Unlock()

				if ctx.Err() != nil {
					return
				}
				job()
			})
			if err != nil {
				return
			}
		}
	}()
}

// Close stops accepting jobs, lets the consumer drain what is queued and
// waits for it to exit.
func (w *Worker) Close() {
	w.mut_jobs.Lock()
	w.stopping = true
	w.jobsCond.Broadcast()
	w.mut_jobs.Unlock()

	<-w.done
}

func (w *Worker) consume() {
	defer close(w.done)

	for {
		w.mut_jobs.Lock()
		for len(w.jobs) == 0 && !w.stopping {
			w.jobsCond.Wait()
		}
		if len(w.jobs) == 0 {
			w.mut_jobs.Unlock()
			w.log.Debug("Worker drained and stopped")
			return
		}
		job := w.jobs[0]
		w.jobs[0] = nil
		w.jobs = w.jobs[1:]
		w.mut_jobs.Unlock()

		w.run(job)
	}
}

func (w *Worker) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Job panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	job()
}
