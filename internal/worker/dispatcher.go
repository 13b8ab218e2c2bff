package worker

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrDispatcherBusy is returned when the queue already holds QueueSize jobs.
	ErrDispatcherBusy = errors.New("dispatcher queue is full")
	// ErrDispatcherStopped is returned for jobs submitted after Stop.
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)

const defaultQueueSize = 64

type sessionQueue struct {
	jobs    []*Job
	running bool // a job of this session is on a worker
}

// Dispatcher runs jobs on a fixed set of workers. Jobs of one session run
// strictly one after another in submission order; sessions with pending work
// take turns in round-robin order.
type Dispatcher struct {
	logger    *zap.Logger
	queueSize int

	mu        sync.Mutex
	cond      *sync.Cond
	queues    map[string]*sessionQueue // job queue for each session
	ready     *list.List               // sessions with a job that may start now
	positions map[string]*list.Element
	pending   int
	closed    bool

	wg sync.WaitGroup
}

func NewDispatcher(workers, queueSize int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		logger:    logger,
		queueSize: queueSize,
		queues:    make(map[string]*sessionQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}
	d.cond = sync.NewCond(&d.mu)

	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		w := newWorker(i, d)
		go w.run()
	}
	return d
}

// Do queues fn for sessionID and blocks until it has run. If ctx ends while the
// job is still queued it is withdrawn and ctx.Err() returned; once the job has
// started Do waits for it, so the caller never returns ahead of its side effects.
func (d *Dispatcher) Do(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("job func is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	job := newJob(ctx, sessionID, fn)
	if err := d.enqueue(job); err != nil {
		return err
	}
	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
	}
	if d.withdraw(job) {
		return ctx.Err()
	}
	return <-job.done
}

// Pending reports jobs that are queued but not yet running.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Stop refuses new jobs, lets workers drain what is queued and waits for them.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cond.Broadcast()
	d.wg.Wait()
}

func (d *Dispatcher) enqueue(job *Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDispatcherStopped
	}
	if d.pending >= d.queueSize {
		return ErrDispatcherBusy
	}

	q := d.queues[job.SessionID]
	if q == nil {
		q = &sessionQueue{}
		d.queues[job.SessionID] = q
	}
	q.jobs = append(q.jobs, job)
	d.pending++
	d.markReadyLocked(job.SessionID, q)
	d.logger.Debug("job queued", zap.String("session_id", job.SessionID), zap.Int("pending", d.pending))
	return nil
}

// withdraw removes job from its session queue if no worker has taken it yet.
func (d *Dispatcher) withdraw(job *Job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if job.started {
		return false
	}
	q := d.queues[job.SessionID]
	if q == nil {
		return false
	}
	for i, queued := range q.jobs {
		if queued != job {
			continue
		}
		q.jobs = append(q.jobs[:i:i], q.jobs[i+1:]...)
		d.pending--
		if len(q.jobs) == 0 {
			if elem, ok := d.positions[job.SessionID]; ok {
				d.ready.Remove(elem)
				delete(d.positions, job.SessionID)
			}
			if !q.running {
				delete(d.queues, job.SessionID)
			}
		}
		if d.closed && d.pending == 0 {
			d.cond.Broadcast()
		}
		return true
	}
	return false
}

// markReadyLocked puts the session at the back of the ready list unless it is
// already there or running.
func (d *Dispatcher) markReadyLocked(sessionID string, q *sessionQueue) {
	if q.running || len(q.jobs) == 0 {
		return
	}
	if _, ok := d.positions[sessionID]; ok {
		return
	}
	d.positions[sessionID] = d.ready.PushBack(sessionID)
	d.cond.Signal()
}

// next blocks until a job may start. It returns false once stopped and drained.
func (d *Dispatcher) next() (*Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for d.ready.Len() == 0 && !(d.closed && d.pending == 0) {
		d.cond.Wait()
	}
	elem := d.ready.Front()
	if elem == nil {
		return nil, false
	}
	sessionID := elem.Value.(string)
	d.ready.Remove(elem)
	delete(d.positions, sessionID)

	q := d.queues[sessionID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	job.started = true
	q.running = true
	d.pending--
	return job, true
}

// finish releases the session so its next job can be picked up.
func (d *Dispatcher) finish(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[sessionID]
	if q == nil {
		return
	}
	q.running = false
	if len(q.jobs) == 0 {
		delete(d.queues, sessionID)
		if d.closed && d.pending == 0 {
			d.cond.Broadcast()
		}
		return
	}
	d.markReadyLocked(sessionID, q)
}

func safeRun(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx)
}
