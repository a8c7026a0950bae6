package transaction

import (
	"github.com/tinytxn/tinytxn/kv/storage"
	"github.com/tinytxn/tinytxn/kv/util/queue"
)

// LockMode describes how a key is held.
type LockMode int

const (
	Unlocked LockMode = iota
	Shared
	Exclusive
)

func (m LockMode) String() string {
	switch m {
	case Unlocked:
		return "unlocked"
	case Shared:
		return "shared"
	case Exclusive:
		return "exclusive"
	}
	return "unknown"
}

// LockManager tracks, per key, an ordered queue of lock requests. Lock
// operations never fail: they either grant immediately (true) or enqueue
// the request (false) and count it against the transaction. When the last
// outstanding request of a transaction is granted, the transaction is
// pushed onto the ready queue borrowed at construction.
//
// The lock table is only ever touched from the scheduler goroutine, so
// none of this is synchronized.
type LockManager interface {
	// ReadLock requests key for reading on behalf of t.
	ReadLock(t *Txn, key storage.Key) bool
	// WriteLock requests key for writing on behalf of t.
	WriteLock(t *Txn, key storage.Key) bool
	// Release drops t's request for key, granted or not, and wakes any
	// requests that become granted. Releasing a key t never requested is
	// a no-op.
	Release(t *Txn, key storage.Key)
	// Status reports how key is currently held and by whom.
	Status(key storage.Key) (LockMode, []*Txn)
}

type lockRequest struct {
	mode LockMode
	txn  *Txn
}

// lockTable is the state shared by both lock manager variants: the per-key
// request queues, the per-transaction count of ungranted requests, and the
// borrowed ready queue.
type lockTable struct {
	requests map[storage.Key][]lockRequest
	waits    map[*Txn]int
	ready    *queue.Queue
}

func newLockTable(ready *queue.Queue) lockTable {
	return lockTable{
		requests: make(map[storage.Key][]lockRequest),
		waits:    make(map[*Txn]int),
		ready:    ready,
	}
}

// block counts one more ungranted request against t.
func (lt *lockTable) block(t *Txn) {
	lt.waits[t]++
}

// wake grants one outstanding request of t. On the decrement that reaches
// zero, t goes onto the ready queue. Tolerates a transaction with no wait
// entry (a stray release) without corrupting the counters.
func (lt *lockTable) wake(t *Txn) {
	n, ok := lt.waits[t]
	if !ok {
		return
	}
	n--
	if n <= 0 {
		delete(lt.waits, t)
		lt.ready.Push(t)
		return
	}
	lt.waits[t] = n
}

// remove deletes t's request for key. Requests are unique per (key, txn).
func (lt *lockTable) remove(t *Txn, key storage.Key) (lockRequest, int, bool) {
	reqs := lt.requests[key]
	for i, req := range reqs {
		if req.txn == t {
			lt.requests[key] = append(reqs[:i], reqs[i+1:]...)
			return req, i, true
		}
	}
	return lockRequest{}, 0, false
}

// LockManagerA grants exclusive locks only: read and write requests are
// indistinguishable and at most the front request of each queue is
// granted.
type LockManagerA struct {
	lockTable
}

func NewLockManagerA(ready *queue.Queue) *LockManagerA {
	return &LockManagerA{lockTable: newLockTable(ready)}
}

func (lm *LockManagerA) WriteLock(t *Txn, key storage.Key) bool {
	reqs := append(lm.requests[key], lockRequest{mode: Exclusive, txn: t})
	lm.requests[key] = reqs
	if len(reqs) == 1 {
		return true
	}
	lm.block(t)
	return false
}

func (lm *LockManagerA) ReadLock(t *Txn, key storage.Key) bool {
	return lm.WriteLock(t, key)
}

func (lm *LockManagerA) Release(t *Txn, key storage.Key) {
	_, idx, ok := lm.remove(t, key)
	if !ok {
		return
	}
	reqs := lm.requests[key]
	if idx == 0 && len(reqs) > 0 {
		lm.wake(reqs[0].txn)
	}
}

func (lm *LockManagerA) Status(key storage.Key) (LockMode, []*Txn) {
	reqs := lm.requests[key]
	if len(reqs) == 0 {
		return Unlocked, nil
	}
	return Exclusive, []*Txn{reqs[0].txn}
}

// LockManagerB grants shared and exclusive locks. A request is granted iff
// every earlier request in its queue is compatible with it, so the granted
// prefix is either a single exclusive at the front or a maximal run of
// shared requests. The grant state is recomputed from queue contents,
// never stored.
type LockManagerB struct {
	lockTable
}

func NewLockManagerB(ready *queue.Queue) *LockManagerB {
	return &LockManagerB{lockTable: newLockTable(ready)}
}

// grantedPrefix returns how many requests at the front of reqs are
// granted.
func grantedPrefix(reqs []lockRequest) int {
	if len(reqs) == 0 {
		return 0
	}
	if reqs[0].mode == Exclusive {
		return 1
	}
	n := 0
	for n < len(reqs) && reqs[n].mode == Shared {
		n++
	}
	return n
}

func (lm *LockManagerB) WriteLock(t *Txn, key storage.Key) bool {
	reqs := append(lm.requests[key], lockRequest{mode: Exclusive, txn: t})
	lm.requests[key] = reqs
	if len(reqs) == 1 {
		return true
	}
	lm.block(t)
	return false
}

func (lm *LockManagerB) ReadLock(t *Txn, key storage.Key) bool {
	reqs := lm.requests[key]
	for _, req := range reqs {
		if req.mode == Exclusive {
			lm.requests[key] = append(reqs, lockRequest{mode: Shared, txn: t})
			lm.block(t)
			return false
		}
	}
	lm.requests[key] = append(reqs, lockRequest{mode: Shared, txn: t})
	return true
}

func (lm *LockManagerB) Release(t *Txn, key storage.Key) {
	before := lm.requests[key]
	granted := grantedPrefix(before)
	_, _, ok := lm.remove(t, key)
	if !ok {
		return
	}

	wasGranted := make(map[*Txn]struct{}, granted)
	for _, req := range before[:granted] {
		wasGranted[req.txn] = struct{}{}
	}

	// Wake, in queue order, every request that the removal promoted into
	// the granted prefix.
	after := lm.requests[key]
	for _, req := range after[:grantedPrefix(after)] {
		if _, ok := wasGranted[req.txn]; !ok {
			lm.wake(req.txn)
		}
	}
}

func (lm *LockManagerB) Status(key storage.Key) (LockMode, []*Txn) {
	reqs := lm.requests[key]
	if len(reqs) == 0 {
		return Unlocked, nil
	}
	if reqs[0].mode == Exclusive {
		return Exclusive, []*Txn{reqs[0].txn}
	}
	owners := make([]*Txn, 0, len(reqs))
	for _, req := range reqs {
		if req.mode != Shared {
			break
		}
		owners = append(owners, req.txn)
	}
	return Shared, owners
}
