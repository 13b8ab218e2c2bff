package worker

import (
	"context"

	"go.uber.org/zap"
)

// Job is one unit of work bound to a session.
type Job struct {
	SessionID string

	ctx     context.Context
	fn      func(ctx context.Context) error
	done    chan error
	started bool // guarded by Dispatcher.mu
}

func newJob(ctx context.Context, sessionID string, fn func(ctx context.Context) error) *Job {
	return &Job{
		SessionID: sessionID,
		ctx:       ctx,
		fn:        fn,
		done:      make(chan error, 1),
	}
}

type Worker struct {
	id         int
	dispatcher *Dispatcher
}

func newWorker(id int, d *Dispatcher) *Worker {
	return &Worker{id: id, dispatcher: d}
}

func (w *Worker) run() {
	defer w.dispatcher.wg.Done()
	for {
		job, ok := w.dispatcher.next()
		if !ok {
			return
		}
		w.dispatcher.logger.Debug("job assigned", zap.String("session_id", job.SessionID), zap.Int("worker", w.id))

		var err error
		if err = job.ctx.Err(); err == nil {
			err = safeRun(job.ctx, job.fn)
		}
		job.done <- err
		w.dispatcher.finish(job.SessionID)
	}
}
