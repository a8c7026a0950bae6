package transaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytxn/tinytxn/kv/util/queue"
)

var testTxnID uint64

// newTestTxn builds a placeholder transaction with a distinct id so
// assertions can tell lock holders apart.
func newTestTxn() *Txn {
	txn := NewTxn(Noop{}, nil, nil)
	testTxnID++
	txn.ID = testTxnID
	return txn
}

// popReady drains the ready queue into a slice.
func popReady(q *queue.Queue) []*Txn {
	var txns []*Txn
	for {
		item, ok := q.TryPop()
		if !ok {
			return txns
		}
		txns = append(txns, item.(*Txn))
	}
}

func TestLockManagerAFIFO(t *testing.T) {
	ready := queue.New()
	lm := NewLockManagerA(ready)
	t1, t2, t3 := newTestTxn(), newTestTxn(), newTestTxn()

	assert.True(t, lm.WriteLock(t1, 1))
	assert.False(t, lm.WriteLock(t2, 1))
	// Read locks are exclusive too in this variant.
	assert.False(t, lm.ReadLock(t3, 1))
	assert.Empty(t, popReady(ready))

	mode, owners := lm.Status(1)
	assert.Equal(t, Exclusive, mode)
	assert.Equal(t, []*Txn{t1}, owners)

	lm.Release(t1, 1)
	assert.Equal(t, []*Txn{t2}, popReady(ready))

	lm.Release(t2, 1)
	assert.Equal(t, []*Txn{t3}, popReady(ready))

	lm.Release(t3, 1)
	mode, owners = lm.Status(1)
	assert.Equal(t, Unlocked, mode)
	assert.Empty(t, owners)
}

func TestLockManagerAReleaseNotHeld(t *testing.T) {
	ready := queue.New()
	lm := NewLockManagerA(ready)
	t1, t2 := newTestTxn(), newTestTxn()

	// Releasing a key never requested is a no-op.
	lm.Release(t1, 99)

	assert.True(t, lm.WriteLock(t1, 1))
	assert.False(t, lm.WriteLock(t2, 1))

	lm.Release(t1, 1)
	require.Equal(t, []*Txn{t2}, popReady(ready))

	// Duplicate release must not corrupt the wait counters.
	lm.Release(t1, 1)
	assert.Empty(t, popReady(ready))
	mode, owners := lm.Status(1)
	assert.Equal(t, Exclusive, mode)
	assert.Equal(t, []*Txn{t2}, owners)
}

func TestLockManagerAMultiKeyWaits(t *testing.T) {
	ready := queue.New()
	lm := NewLockManagerA(ready)
	t1, t2 := newTestTxn(), newTestTxn()

	assert.True(t, lm.WriteLock(t1, 1))
	assert.True(t, lm.WriteLock(t1, 2))
	assert.False(t, lm.WriteLock(t2, 1))
	assert.False(t, lm.WriteLock(t2, 2))

	// t2 still waits on key 2 after the first grant.
	lm.Release(t1, 1)
	assert.Empty(t, popReady(ready))

	lm.Release(t1, 2)
	assert.Equal(t, []*Txn{t2}, popReady(ready))
}

// TestLockManagerBWakeSequence walks the E S S E S handover on one key.
func TestLockManagerBWakeSequence(t *testing.T) {
	ready := queue.New()
	lm := NewLockManagerB(ready)
	t1, t2, t3, t4, t5 := newTestTxn(), newTestTxn(), newTestTxn(), newTestTxn(), newTestTxn()

	assert.True(t, lm.WriteLock(t1, 1))
	assert.False(t, lm.ReadLock(t2, 1))
	assert.False(t, lm.ReadLock(t3, 1))
	assert.False(t, lm.WriteLock(t4, 1))
	assert.False(t, lm.ReadLock(t5, 1))
	assert.Empty(t, popReady(ready))

	mode, owners := lm.Status(1)
	assert.Equal(t, Exclusive, mode)
	assert.Equal(t, []*Txn{t1}, owners)

	// The exclusive front leaves: both queued shared requests wake, in
	// queue order.
	lm.Release(t1, 1)
	assert.Equal(t, []*Txn{t2, t3}, popReady(ready))
	mode, owners = lm.Status(1)
	assert.Equal(t, Shared, mode)
	assert.Equal(t, []*Txn{t2, t3}, owners)

	// One shared holder leaves, the other still blocks the exclusive.
	lm.Release(t2, 1)
	assert.Empty(t, popReady(ready))

	lm.Release(t3, 1)
	assert.Equal(t, []*Txn{t4}, popReady(ready))
	mode, owners = lm.Status(1)
	assert.Equal(t, Exclusive, mode)
	assert.Equal(t, []*Txn{t4}, owners)

	lm.Release(t4, 1)
	assert.Equal(t, []*Txn{t5}, popReady(ready))
	mode, owners = lm.Status(1)
	assert.Equal(t, Shared, mode)
	assert.Equal(t, []*Txn{t5}, owners)
}

func TestLockManagerBSharedPrefix(t *testing.T) {
	ready := queue.New()
	lm := NewLockManagerB(ready)
	t1, t2, t3 := newTestTxn(), newTestTxn(), newTestTxn()

	// Shared requests with no exclusive ahead are granted immediately.
	assert.True(t, lm.ReadLock(t1, 1))
	assert.True(t, lm.ReadLock(t2, 1))
	mode, owners := lm.Status(1)
	assert.Equal(t, Shared, mode)
	assert.Equal(t, []*Txn{t1, t2}, owners)

	assert.False(t, lm.WriteLock(t3, 1))

	// The exclusive wakes only when the last shared holder leaves.
	lm.Release(t1, 1)
	assert.Empty(t, popReady(ready))
	lm.Release(t2, 1)
	assert.Equal(t, []*Txn{t3}, popReady(ready))
}

func TestLockManagerBReleaseNotHeld(t *testing.T) {
	ready := queue.New()
	lm := NewLockManagerB(ready)
	t1, t2 := newTestTxn(), newTestTxn()

	lm.Release(t1, 7)
	assert.Empty(t, popReady(ready))

	assert.True(t, lm.ReadLock(t1, 7))
	assert.False(t, lm.WriteLock(t2, 7))

	// Duplicate release: the first wakes the exclusive, the second finds
	// nothing to remove.
	lm.Release(t1, 7)
	assert.Equal(t, []*Txn{t2}, popReady(ready))
	lm.Release(t1, 7)
	assert.Empty(t, popReady(ready))
	mode, owners := lm.Status(7)
	assert.Equal(t, Exclusive, mode)
	assert.Equal(t, []*Txn{t2}, owners)
}

func TestLockManagerBStatusUnlocked(t *testing.T) {
	lm := NewLockManagerB(queue.New())
	mode, owners := lm.Status(3)
	assert.Equal(t, Unlocked, mode)
	assert.Empty(t, owners)
}
