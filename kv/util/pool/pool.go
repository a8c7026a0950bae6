package pool

import (
	"sync"

	"go.uber.org/atomic"
)

// Task is a unit of work submitted to the pool.
type Task func()

const defaultQueueCapacity = 128

// Pool is a static pool of worker goroutines. The workers are multiplexed
// over a small number of task channels to spread submission contention;
// each worker services exactly one channel.
type Pool struct {
	queues []chan Task
	wg     sync.WaitGroup
	active *atomic.Bool
	next   *atomic.Uint64
}

// New starts a pool of `threads` workers sharing `queues` task channels.
func New(threads, queues int) *Pool {
	if queues > threads {
		queues = threads
	}
	p := &Pool{
		queues: make([]chan Task, queues),
		active: atomic.NewBool(true),
		next:   atomic.NewUint64(0),
	}
	for i := range p.queues {
		p.queues[i] = make(chan Task, defaultQueueCapacity)
	}
	for i := 0; i < threads; i++ {
		ch := p.queues[i%queues]
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range ch {
				task()
			}
		}()
	}
	return p
}

// RunTask submits a task. Submissions round-robin over the task channels.
// Blocks if every slot of the chosen channel is full.
func (p *Pool) RunTask(task Task) {
	i := p.next.Inc() % uint64(len(p.queues))
	p.queues[i] <- task
}

// Active reports whether the pool accepts work. The scheduler polls this
// as its run predicate.
func (p *Pool) Active() bool {
	return p.active.Load()
}

// Stop flips the pool inactive. Submitters must observe Active() == false
// and stop calling RunTask before Join is called.
func (p *Pool) Stop() {
	p.active.Store(false)
}

// Join closes the task channels, lets queued tasks finish, and waits for
// the workers. Call after Stop, once no submitter can race RunTask.
func (p *Pool) Join() {
	for _, ch := range p.queues {
		close(ch)
	}
	p.wg.Wait()
}

// Shutdown is Stop followed by Join, for callers that submit and stop
// from the same goroutine.
func (p *Pool) Shutdown() {
	p.Stop()
	p.Join()
}
