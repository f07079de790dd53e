package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// PoolConfig configures the worker pool.
type PoolConfig struct {
	// Workers is the number of concurrent task runners. Defaults to 4.
	Workers int

	// SoftTimeLimit cancels a task's context so it can record a timeout
	// result. Defaults to 1 hour.
	SoftTimeLimit time.Duration

	// HardTimeLimit abandons a task that ignored the soft limit. Defaults
	// to SoftTimeLimit + 5 minutes.
	HardTimeLimit time.Duration

	Logger hclog.Logger
}

// Pool is an in-process Dispatcher backed by a fixed set of worker
// goroutines.
type Pool struct {
	workers   int
	softLimit time.Duration
	hardLimit time.Duration
	logger    hclog.Logger

	queue chan *execution

	mu     sync.Mutex
	active map[string]context.CancelCauseFunc
	closed bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

type execution struct {
	task   Task
	ctx    context.Context
	cancel context.CancelCauseFunc

	// after runs on the worker once the task finishes, abandoned tasks
	// included. It drives group countdowns and chain continuation.
	after func()
}

// NewPool creates and starts a worker pool.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.SoftTimeLimit <= 0 {
		cfg.SoftTimeLimit = time.Hour
	}
	if cfg.HardTimeLimit <= cfg.SoftTimeLimit {
		cfg.HardTimeLimit = cfg.SoftTimeLimit + 5*time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		workers:    cfg.Workers,
		softLimit:  cfg.SoftTimeLimit,
		hardLimit:  cfg.HardTimeLimit,
		logger:     cfg.Logger.Named("dispatch-pool"),
		queue:      make(chan *execution, 1024),
		active:     make(map[string]context.CancelCauseFunc),
		baseCtx:    ctx,
		baseCancel: cancel,
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case exec := <-p.queue:
			p.runTask(exec)
		case <-p.baseCtx.Done():
			return
		}
	}
}

func (p *Pool) runTask(exec *execution) {
	defer func() {
		p.mu.Lock()
		delete(p.active, exec.task.ID)
		p.mu.Unlock()
		if exec.after != nil {
			exec.after()
		}
	}()

	soft := time.AfterFunc(p.softLimit, func() {
		p.logger.Warn("task exceeded soft time limit", "task_id", exec.task.ID, "task", exec.task.Name)
		exec.cancel(ErrSoftTimeLimit)
	})
	defer soft.Stop()

	done := make(chan error, 1)
	go func() {
		done <- exec.task.Run(exec.ctx)
	}()

	hard := time.NewTimer(p.hardLimit)
	defer hard.Stop()

	select {
	case err := <-done:
		if err != nil {
			p.logger.Error("task failed", "task_id", exec.task.ID, "task", exec.task.Name, "error", err)
		}
	case <-hard.C:
		// The runner goroutine is abandoned; it holds a cancelled
		// context and cannot block the pool any longer.
		exec.cancel(ErrHardTimeLimit)
		p.logger.Error("task exceeded hard time limit, abandoning", "task_id", exec.task.ID, "task", exec.task.Name)
	}
}

// newExecution registers the task for cancellation and assigns an id when the
// caller left it empty. Must hold p.mu.
func (p *Pool) newExecution(task Task, after func()) *execution {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	ctx, cancel := context.WithCancelCause(p.baseCtx)
	p.active[task.ID] = cancel
	return &execution{task: task, ctx: ctx, cancel: cancel, after: after}
}

func (p *Pool) enqueue(exec *execution) {
	select {
	case p.queue <- exec:
	case <-p.baseCtx.Done():
	}
}

// enqueueAsync is for after callbacks running on a worker. A direct send
// could deadlock with every worker busy and the queue full.
func (p *Pool) enqueueAsync(exec *execution) {
	select {
	case p.queue <- exec:
	default:
		go p.enqueue(exec)
	}
}

// SubmitGroup runs the tasks in parallel and the finalizer once the last of
// them finishes.
func (p *Pool) SubmitGroup(tasks []Task, finalizer Task) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}

	finExec := p.newExecution(finalizer, nil)
	if len(tasks) == 0 {
		p.enqueue(finExec)
		return nil, nil
	}

	remaining := int64(len(tasks))
	ids := make([]string, 0, len(tasks))
	execs := make([]*execution, 0, len(tasks))
	for _, task := range tasks {
		exec := p.newExecution(task, func() {
			if atomic.AddInt64(&remaining, -1) == 0 {
				p.enqueueAsync(finExec)
			}
		})
		ids = append(ids, exec.task.ID)
		execs = append(execs, exec)
	}
	for _, exec := range execs {
		p.enqueue(exec)
	}
	return ids, nil
}

// SubmitChain runs the tasks strictly in order, continuing past failures,
// with the finalizer last.
func (p *Pool) SubmitChain(tasks []Task, finalizer Task) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}

	next := p.newExecution(finalizer, nil)
	ids := make([]string, len(tasks))
	for i := len(tasks) - 1; i >= 0; i-- {
		succ := next
		next = p.newExecution(tasks[i], func() {
			p.enqueueAsync(succ)
		})
		ids[i] = next.task.ID
	}

	p.enqueue(next)
	return ids, nil
}

// Cancel requests cancellation of a queued or running task.
func (p *Pool) Cancel(taskID string) bool {
	p.mu.Lock()
	cancel, ok := p.active[taskID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	cancel(ErrCancelled)
	return true
}

// Close stops accepting work, cancels everything in flight, and waits for the
// workers to drain.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.baseCancel()
	p.wg.Wait()
}
