package transaction

import (
	"math/rand"
	"time"

	"github.com/tinytxn/tinytxn/kv/storage"
)

// Built-in transaction programs. These cover initialization and state
// checks for tests, plus the read-modify-write workloads the benchmark
// generates.

// Noop commits without touching any key.
type Noop struct{}

func (Noop) Run(t *Txn) {
	t.Commit()
}

func NewNoop() *Txn {
	return NewTxn(Noop{}, nil, nil)
}

// Put writes every given pair unconditionally.
type Put struct {
	values map[storage.Key]storage.Value
}

func (p *Put) Run(t *Txn) {
	for k, v := range p.values {
		t.Write(k, v)
	}
	t.Commit()
}

func NewPut(values map[storage.Key]storage.Value) *Txn {
	writeSet := NewKeySet()
	for k := range values {
		writeSet[k] = struct{}{}
	}
	return NewTxn(&Put{values: values}, nil, writeSet)
}

// Expect commits iff every given key holds exactly the given value, and
// aborts on the first missing key or mismatch.
type Expect struct {
	values map[storage.Key]storage.Value
}

func (e *Expect) Run(t *Txn) {
	for k, want := range e.values {
		got, ok := t.Read(k)
		if !ok || got != want {
			t.Abort()
			return
		}
	}
	t.Commit()
}

func NewExpect(values map[storage.Key]storage.Value) *Txn {
	readSet := NewKeySet()
	for k := range values {
		readSet[k] = struct{}{}
	}
	return NewTxn(&Expect{values: values}, readSet, nil)
}

// jitter returns a duration averaging d: 90% of d plus a random slice of
// up to 20% of d.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d*9/10 + time.Duration(rand.Int63n(int64(d)/5+1))
}

// Increment reads one key, writes back its value plus one, and waits a
// randomized while before committing. A missing key counts as zero.
type Increment struct {
	key  storage.Key
	wait time.Duration
}

func (p *Increment) Run(t *Txn) {
	v, _ := t.Read(p.key)
	t.Write(p.key, v+1)
	t.Sleep(jitter(p.wait))
	t.Commit()
}

func NewIncrement(key storage.Key, wait time.Duration) *Txn {
	return NewTxn(&Increment{key: key, wait: wait},
		NewKeySet(key), NewKeySet(key))
}

// Shopping decrements the shared stock key if it is positive and, if so,
// increments its own account key.
type Shopping struct {
	account storage.Key
	wait    time.Duration
}

const stockKey storage.Key = 1

func (p *Shopping) Run(t *Txn) {
	stock, _ := t.Read(stockKey)
	if stock > 0 {
		t.Write(stockKey, stock-1)
		owned, _ := t.Read(p.account)
		t.Write(p.account, owned+1)
	}
	t.Sleep(jitter(p.wait))
	t.Commit()
}

func NewShopping(account storage.Key, wait time.Duration) *Txn {
	return NewTxn(&Shopping{account: account, wait: wait},
		NewKeySet(stockKey), NewKeySet(stockKey, account))
}

// RMW reads its read set, increments every key in its write set, and
// waits a randomized while before committing.
type RMW struct {
	wait time.Duration
}

func (p *RMW) Run(t *Txn) {
	for k := range t.ReadSet {
		t.Read(k)
	}
	for k := range t.WriteSet {
		v, _ := t.Read(k)
		t.Write(k, v+1)
	}
	t.Sleep(jitter(p.wait))
	t.Commit()
}

// NewRMW builds an RMW transaction over rSetSize + wSetSize distinct keys
// drawn uniformly from [0, dbSize).
func NewRMW(dbSize, rSetSize, wSetSize int, wait time.Duration) *Txn {
	readSet := NewKeySet()
	writeSet := NewKeySet()
	for len(readSet) < rSetSize {
		readSet[storage.Key(rand.Intn(dbSize))] = struct{}{}
	}
	for len(writeSet) < wSetSize {
		k := storage.Key(rand.Intn(dbSize))
		if !readSet.Contains(k) {
			writeSet[k] = struct{}{}
		}
	}
	return NewTxn(&RMW{wait: wait}, readSet, writeSet)
}
