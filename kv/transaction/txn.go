package transaction

import (
	"sort"
	"time"

	"github.com/tinytxn/tinytxn/kv/storage"
)

// TxnStatus tracks a transaction through its lifecycle. A body finishing
// sets one of the Completed states to record its intent; only the
// scheduler moves a transaction to a terminal state.
type TxnStatus int

const (
	Incomplete TxnStatus = iota
	// CompletedCommit means the body finished and wants to commit.
	CompletedCommit
	// CompletedAbort means the body finished and chose to abort.
	CompletedAbort
	// Committed and Aborted are terminal.
	Committed
	Aborted
)

func (s TxnStatus) String() string {
	switch s {
	case Incomplete:
		return "incomplete"
	case CompletedCommit:
		return "completed-commit"
	case CompletedAbort:
		return "completed-abort"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// KeySet is a set of storage keys. Sorted iteration gives the
// deterministic lock request order that makes two-phase locking here
// deadlock free.
type KeySet map[storage.Key]struct{}

func NewKeySet(keys ...storage.Key) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func (s KeySet) Contains(key storage.Key) bool {
	_, ok := s[key]
	return ok
}

func (s KeySet) Sorted() []storage.Key {
	keys := make([]storage.Key, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Program is a transaction body. Run reads through Txn.Read, buffers
// writes through Txn.Write, and must finish by calling Txn.Commit or
// Txn.Abort. Run must be deterministic given the values it observes: a
// transaction that fails optimistic validation is re-executed.
type Program interface {
	Run(t *Txn)
}

// Txn is a transaction record. The read and write sets are fixed before
// admission; everything else is mutated by the scheduler and by the body
// while the scheduler owns the transaction. Ownership passes to the
// processor on NewTxnRequest and back to the client on GetTxnResult.
type Txn struct {
	// ID is assigned at admission, strictly increasing per processor.
	ID uint64

	ReadSet  KeySet
	WriteSet KeySet

	program Program
	status  TxnStatus

	// reads holds the values observed for readset and writeset keys at
	// execution time; writes buffers the body's writes until commit.
	reads  map[storage.Key]storage.Value
	writes map[storage.Key]storage.Value

	// occStartTime is stamped when an optimistic scheduler picks the
	// transaction up, and re-stamped on every re-admission.
	occStartTime int64
}

// NewTxn builds a transaction around a body. Keys may appear in at most
// one of the two sets; a key being written does not also belong in the
// read set (its current value is observable regardless).
func NewTxn(program Program, readSet, writeSet KeySet) *Txn {
	if readSet == nil {
		readSet = NewKeySet()
	}
	if writeSet == nil {
		writeSet = NewKeySet()
	}
	return &Txn{
		ReadSet:  readSet,
		WriteSet: writeSet,
		program:  program,
		status:   Incomplete,
		reads:    make(map[storage.Key]storage.Value),
		writes:   make(map[storage.Key]storage.Value),
	}
}

func (t *Txn) Status() TxnStatus {
	return t.status
}

// Read returns the value observed for key at execution time. It only
// consults the transaction's own read buffer, never storage.
func (t *Txn) Read(key storage.Key) (storage.Value, bool) {
	v, ok := t.reads[key]
	return v, ok
}

// Write buffers a write. Nothing reaches storage until the scheduler
// commits the transaction.
func (t *Txn) Write(key storage.Key, value storage.Value) {
	t.writes[key] = value
}

// Commit marks the body as finished with intent to commit.
func (t *Txn) Commit() {
	t.status = CompletedCommit
}

// Abort marks the body as finished with intent to abort.
func (t *Txn) Abort() {
	t.status = CompletedAbort
}

// Sleep blocks the worker executing the body. Used by benchmark programs
// to simulate transaction duration.
func (t *Txn) Sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
