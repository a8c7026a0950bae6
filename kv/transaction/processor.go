package transaction

import (
	"runtime"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/tinytxn/tinytxn/kv/config"
	"github.com/tinytxn/tinytxn/kv/storage"
	"github.com/tinytxn/tinytxn/kv/util/pool"
	"github.com/tinytxn/tinytxn/kv/util/queue"
)

// CCMode selects the concurrency control protocol a processor runs.
type CCMode int

const (
	// Serial executes transactions one at a time on the scheduler
	// goroutine.
	Serial CCMode = iota
	// LockingExclusiveOnly is strict two-phase locking where read locks
	// are exclusive too.
	LockingExclusiveOnly
	// Locking is strict two-phase locking with shared read locks.
	Locking
	// OCC executes optimistically and validates serially on the
	// scheduler goroutine.
	OCC
	// ParallelOCC executes optimistically and validates on the worker
	// pool against the set of concurrently validating transactions.
	ParallelOCC
)

func (m CCMode) String() string {
	switch m {
	case Serial:
		return "serial"
	case LockingExclusiveOnly:
		return "locking-exclusive"
	case Locking:
		return "locking"
	case OCC:
		return "occ"
	case ParallelOCC:
		return "p-occ"
	}
	return "unknown"
}

// ParseCCMode maps a config mode string to a CCMode.
func ParseCCMode(s string) (CCMode, error) {
	switch s {
	case "serial":
		return Serial, nil
	case "locking-exclusive":
		return LockingExclusiveOnly, nil
	case "locking":
		return Locking, nil
	case "occ":
		return OCC, nil
	case "p-occ":
		return ParallelOCC, nil
	}
	return Serial, errors.Errorf("unknown concurrency control mode %q", s)
}

// validation carries a parallel validation verdict back to the scheduler.
type validation struct {
	txn *Txn
	ok  bool
}

// TxnProcessor runs read-modify-write transactions against an in-memory
// store under one of five concurrency control modes. One goroutine (the
// scheduler) owns admission, lock management, serial validation, and
// commit; a pool of workers executes transaction bodies and, in p-occ,
// validation tasks.
//
// Clients push transactions with NewTxnRequest and collect them with
// GetTxnResult; results arrive in completion order, not admission order.
type TxnProcessor struct {
	mode  CCMode
	conf  *config.Config
	pool  *pool.Pool
	store storage.Storage

	// Inbound requests, finished bodies, and parallel validation
	// verdicts. All three are drained only by the scheduler, which never
	// blocks on them.
	requests  *queue.Queue
	completed *queue.Queue
	validated *queue.Queue

	// ready holds transactions whose last lock request was just granted.
	// The lock manager borrows it for its lifetime.
	ready *queue.Queue

	results chan *Txn

	lm LockManager

	mu     sync.Mutex
	nextID uint64

	done chan struct{}

	admitted   prometheus.Counter
	committed  prometheus.Counter
	aborted    prometheus.Counter
	occRetries prometheus.Counter
}

// NewTxnProcessor starts a processor with the default configuration.
func NewTxnProcessor(mode CCMode) *TxnProcessor {
	return NewTxnProcessorWithConfig(mode, config.NewDefaultConfig())
}

// NewTxnProcessorWithConfig starts a processor. The scheduler goroutine
// and the worker pool run until Close.
func NewTxnProcessorWithConfig(mode CCMode, conf *config.Config) *TxnProcessor {
	p := &TxnProcessor{
		mode:      mode,
		conf:      conf,
		pool:      pool.New(conf.Workers, conf.TaskQueues),
		store:     storage.NewMemStorage(),
		requests:  queue.New(),
		completed: queue.New(),
		validated: queue.New(),
		ready:     queue.New(),
		results:   make(chan *Txn, conf.ResultBuffer),
		done:      make(chan struct{}),

		admitted:   admittedCounter.WithLabelValues(mode.String()),
		committed:  committedCounter.WithLabelValues(mode.String()),
		aborted:    abortedCounter.WithLabelValues(mode.String()),
		occRetries: occRetryCounter.WithLabelValues(mode.String()),
	}
	switch mode {
	case LockingExclusiveOnly:
		p.lm = NewLockManagerA(p.ready)
	case Locking:
		p.lm = NewLockManagerB(p.ready)
	}
	go p.runScheduler()
	return p
}

// NewTxnProcessorFromConfig starts a processor in the mode the config
// names.
func NewTxnProcessorFromConfig(conf *config.Config) (*TxnProcessor, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	mode, err := ParseCCMode(conf.Mode)
	if err != nil {
		return nil, err
	}
	return NewTxnProcessorWithConfig(mode, conf), nil
}

// NewTxnRequest transfers ownership of t to the processor. The
// transaction is assigned a fresh unique id; ownership returns to the
// client when GetTxnResult hands it back.
func (p *TxnProcessor) NewTxnRequest(t *Txn) {
	p.mu.Lock()
	p.nextID++
	t.ID = p.nextID
	p.mu.Unlock()
	p.admitted.Inc()
	p.requests.Push(t)
}

// GetTxnResult blocks until some transaction has reached a terminal
// state and returns it.
func (p *TxnProcessor) GetTxnResult() *Txn {
	return <-p.results
}

// Close stops the worker pool and joins the scheduler goroutine.
// Transactions still in flight are dropped. Callers should collect all
// pending results first.
func (p *TxnProcessor) Close() {
	p.pool.Stop()
	<-p.done
	p.pool.Join()
}

// runScheduler dispatches exactly one scheduler loop for the configured
// mode.
func (p *TxnProcessor) runScheduler() {
	defer close(p.done)
	log.Info("scheduler starting", zap.Stringer("mode", p.mode))
	switch p.mode {
	case Serial:
		p.runSerialScheduler()
	case LockingExclusiveOnly, Locking:
		p.runLockingScheduler()
	case OCC:
		p.runOCCScheduler()
	case ParallelOCC:
		p.runParallelOCCScheduler()
	default:
		log.Fatal("invalid concurrency control mode", zap.Int("mode", int(p.mode)))
	}
	log.Info("scheduler stopped", zap.Stringer("mode", p.mode))
}

// runSerialScheduler executes each transaction to completion on the
// scheduler goroutine before admitting the next.
func (p *TxnProcessor) runSerialScheduler() {
	for p.pool.Active() {
		item, ok := p.requests.TryPop()
		if !ok {
			runtime.Gosched()
			continue
		}
		txn := item.(*Txn)
		p.executeTxn(txn)
		p.finishTxn(txn)
	}
}

// runLockingScheduler admits a transaction by requesting its whole lock
// set up front, executes it once every request is granted, and releases
// everything at completion.
func (p *TxnProcessor) runLockingScheduler() {
	for p.pool.Active() {
		if item, ok := p.requests.TryPop(); ok {
			txn := item.(*Txn)
			blocked := 0
			for _, key := range txn.ReadSet.Sorted() {
				if !p.lm.ReadLock(txn, key) {
					blocked++
				}
			}
			for _, key := range txn.WriteSet.Sorted() {
				if !p.lm.WriteLock(txn, key) {
					blocked++
				}
			}
			// Every request granted on the spot: the lock manager will
			// never see a counter reach zero, so enqueue directly.
			if blocked == 0 {
				p.ready.Push(txn)
			}
		}

		for {
			item, ok := p.completed.TryPop()
			if !ok {
				break
			}
			txn := item.(*Txn)
			for _, key := range txn.ReadSet.Sorted() {
				p.lm.Release(txn, key)
			}
			for _, key := range txn.WriteSet.Sorted() {
				p.lm.Release(txn, key)
			}
			p.finishTxn(txn)
		}

		for {
			item, ok := p.ready.TryPop()
			if !ok {
				break
			}
			txn := item.(*Txn)
			p.pool.RunTask(func() {
				p.executeTxn(txn)
				p.completed.Push(txn)
			})
		}
		runtime.Gosched()
	}
}

// runOCCScheduler executes transactions speculatively and validates them
// serially on the scheduler goroutine. A transaction that read anything
// overwritten since its start is re-admitted.
func (p *TxnProcessor) runOCCScheduler() {
	for p.pool.Active() {
		if item, ok := p.requests.TryPop(); ok {
			txn := item.(*Txn)
			txn.occStartTime = time.Now().UnixNano()
			p.pool.RunTask(func() {
				p.executeTxn(txn)
				p.completed.Push(txn)
			})
		}

		for {
			item, ok := p.completed.TryPop()
			if !ok {
				break
			}
			txn := item.(*Txn)
			if txn.status == CompletedCommit && !p.occValid(txn) {
				p.restartTxn(txn)
				continue
			}
			p.finishTxn(txn)
		}
		runtime.Gosched()
	}
}

// runParallelOCCScheduler offloads validation onto the worker pool. The
// scheduler tracks the active set of concurrently validating
// transactions; each validation task gets a snapshot of the set as of its
// submission.
func (p *TxnProcessor) runParallelOCCScheduler() {
	activeSet := make(map[*Txn]struct{})
	for p.pool.Active() {
		if item, ok := p.requests.TryPop(); ok {
			txn := item.(*Txn)
			txn.occStartTime = time.Now().UnixNano()
			p.pool.RunTask(func() {
				p.executeTxn(txn)
				p.completed.Push(txn)
			})
		}

		for i := 0; i < p.conf.ValidateIn; i++ {
			item, ok := p.completed.TryPop()
			if !ok {
				break
			}
			txn := item.(*Txn)
			snapshot := make([]*Txn, 0, len(activeSet))
			for u := range activeSet {
				snapshot = append(snapshot, u)
			}
			activeSet[txn] = struct{}{}
			p.pool.RunTask(func() {
				p.validateTxn(txn, snapshot)
			})
		}

		for i := 0; i < p.conf.ValidateOut; i++ {
			item, ok := p.validated.TryPop()
			if !ok {
				break
			}
			v := item.(validation)
			delete(activeSet, v.txn)
			if !v.ok {
				p.restartTxn(v.txn)
				continue
			}
			switch v.txn.status {
			case Committed:
				p.committed.Inc()
			case Aborted:
				p.aborted.Inc()
			}
			p.results <- v.txn
		}
		runtime.Gosched()
	}
}

// executeTxn reads every key in the transaction's read and write sets
// into its read buffer, then runs the body. Runs on a worker in every
// mode but serial.
func (p *TxnProcessor) executeTxn(txn *Txn) {
	txn.reads = make(map[storage.Key]storage.Value)
	txn.writes = make(map[storage.Key]storage.Value)

	for key := range txn.ReadSet {
		if v, ok := p.store.Read(key); ok {
			txn.reads[key] = v
		}
	}
	for key := range txn.WriteSet {
		if v, ok := p.store.Read(key); ok {
			txn.reads[key] = v
		}
	}

	txn.program.Run(txn)
}

// occValid reports whether no key the transaction touched was written
// after its start time. Serial validation checks both sets.
func (p *TxnProcessor) occValid(txn *Txn) bool {
	for key := range txn.ReadSet {
		if p.store.Timestamp(key) > txn.occStartTime {
			return false
		}
	}
	for key := range txn.WriteSet {
		if p.store.Timestamp(key) > txn.occStartTime {
			return false
		}
	}
	return true
}

// validateTxn is the parallel validation task. The transaction fails if
// any readset key was overwritten since its start, or if its writeset
// intersects the read or write set of any transaction in the snapshot.
// A valid transaction applies its writes here, on the worker; storage is
// internally synchronized.
func (p *TxnProcessor) validateTxn(txn *Txn, snapshot []*Txn) {
	if txn.status == CompletedAbort {
		txn.status = Aborted
		p.validated.Push(validation{txn: txn, ok: true})
		return
	}
	if txn.status != CompletedCommit {
		log.Fatal("completed txn has invalid status",
			zap.Uint64("txn", txn.ID), zap.Stringer("status", txn.status))
	}

	ok := true
	for key := range txn.ReadSet {
		if p.store.Timestamp(key) > txn.occStartTime {
			ok = false
			break
		}
	}
	if ok {
	outer:
		for _, u := range snapshot {
			for key := range txn.WriteSet {
				if u.ReadSet.Contains(key) || u.WriteSet.Contains(key) {
					ok = false
					break outer
				}
			}
		}
	}

	if ok {
		p.applyWrites(txn)
	}
	p.validated.Push(validation{txn: txn, ok: ok})
}

// restartTxn re-admits a transaction whose validation failed. It gets a
// fresh id and a fresh start time at the next scheduler pickup; the
// client sees nothing of the retry.
func (p *TxnProcessor) restartTxn(txn *Txn) {
	log.Debug("validation failed, restarting txn", zap.Uint64("txn", txn.ID))
	txn.status = Incomplete
	p.occRetries.Inc()
	p.NewTxnRequest(txn)
}

// finishTxn moves a completed transaction to its terminal state and hands
// it to the client. Any other completed status is an unrecoverable
// invariant violation.
func (p *TxnProcessor) finishTxn(txn *Txn) {
	switch txn.status {
	case CompletedCommit:
		p.applyWrites(txn)
		p.committed.Inc()
	case CompletedAbort:
		txn.status = Aborted
		p.aborted.Inc()
	default:
		log.Fatal("completed txn has invalid status",
			zap.Uint64("txn", txn.ID), zap.Stringer("status", txn.status))
	}
	p.results <- txn
}

// applyWrites flushes the transaction's buffered writes to storage and
// marks it committed. Each write stamps the key's timestamp.
func (p *TxnProcessor) applyWrites(txn *Txn) {
	for key, value := range txn.writes {
		p.store.Write(key, value)
	}
	txn.status = Committed
}
