package transaction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytxn/tinytxn/kv/config"
	"github.com/tinytxn/tinytxn/kv/storage"
)

var allModes = []CCMode{Serial, LockingExclusiveOnly, Locking, OCC, ParallelOCC}

func newTestProcessor(t *testing.T, mode CCMode) *TxnProcessor {
	t.Helper()
	return NewTxnProcessorWithConfig(mode, config.NewTestConfig())
}

// runToResult submits a transaction and waits for its terminal state.
func runToResult(p *TxnProcessor, txn *Txn) *Txn {
	p.NewTxnRequest(txn)
	return p.GetTxnResult()
}

func TestNoop(t *testing.T) {
	for _, mode := range allModes {
		t.Run(mode.String(), func(t *testing.T) {
			p := newTestProcessor(t, mode)
			defer p.Close()

			txn := NewNoop()
			assert.Equal(t, Incomplete, txn.Status())
			result := runToResult(p, txn)
			assert.Equal(t, Committed, result.Status())
		})
	}
}

func TestPutExpect(t *testing.T) {
	for _, mode := range allModes {
		t.Run(mode.String(), func(t *testing.T) {
			p := newTestProcessor(t, mode)
			defer p.Close()

			put := runToResult(p, NewPut(map[storage.Key]storage.Value{
				1: 2, 3: 4, 5: 6, 7: 8,
			}))
			require.Equal(t, Committed, put.Status())

			// Missing key aborts.
			missing := runToResult(p, NewExpect(map[storage.Key]storage.Value{2: 2}))
			assert.Equal(t, Aborted, missing.Status())

			// Wrong value aborts.
			wrong := runToResult(p, NewExpect(map[storage.Key]storage.Value{1: 1}))
			assert.Equal(t, Aborted, wrong.Status())

			ok := runToResult(p, NewExpect(map[storage.Key]storage.Value{1: 2}))
			assert.Equal(t, Committed, ok.Status())
		})
	}
}

// TestBankCounter runs five read-increment-write transactions against one
// key in every mode. Serializability requires the counter to end at
// exactly five, whatever the interleaving.
func TestBankCounter(t *testing.T) {
	waits := []time.Duration{
		100 * time.Microsecond,
		time.Millisecond,
		5 * time.Millisecond,
		20 * time.Millisecond,
		0,
	}
	for _, mode := range allModes {
		t.Run(mode.String(), func(t *testing.T) {
			p := newTestProcessor(t, mode)
			defer p.Close()

			init := runToResult(p, NewPut(map[storage.Key]storage.Value{1: 0}))
			require.Equal(t, Committed, init.Status())

			for _, wait := range waits {
				p.NewTxnRequest(NewIncrement(1, wait))
			}
			for range waits {
				result := p.GetTxnResult()
				assert.Equal(t, Committed, result.Status())
			}

			final := runToResult(p, NewExpect(map[storage.Key]storage.Value{1: 5}))
			assert.Equal(t, Committed, final.Status())
		})
	}
}

// TestShopping submits five transactions that each decrement a stock of
// three if positive. Exactly three must succeed in decrementing; the
// stock must end at zero, never negative.
func TestShopping(t *testing.T) {
	waits := []time.Duration{
		100 * time.Microsecond,
		time.Millisecond,
		5 * time.Millisecond,
		20 * time.Millisecond,
		0,
	}
	for _, mode := range allModes {
		t.Run(mode.String(), func(t *testing.T) {
			p := newTestProcessor(t, mode)
			defer p.Close()

			init := runToResult(p, NewPut(map[storage.Key]storage.Value{
				1: 3, 2: 0, 3: 0, 4: 0, 5: 0, 6: 0, 7: 0, 8: 0,
			}))
			require.Equal(t, Committed, init.Status())

			for i, wait := range waits {
				p.NewTxnRequest(NewShopping(storage.Key(i+2), wait))
			}
			for range waits {
				result := p.GetTxnResult()
				assert.Equal(t, Committed, result.Status())
			}

			final := runToResult(p, NewExpect(map[storage.Key]storage.Value{1: 0}))
			assert.Equal(t, Committed, final.Status())
		})
	}
}

// TestSerialOrder checks that under the serial scheduler results come
// back in admission order and the final state is the serial fold.
func TestSerialOrder(t *testing.T) {
	p := newTestProcessor(t, Serial)
	defer p.Close()

	var submitted []*Txn
	for i := 1; i <= 10; i++ {
		txn := NewPut(map[storage.Key]storage.Value{1: storage.Value(i)})
		submitted = append(submitted, txn)
		p.NewTxnRequest(txn)
	}
	for _, want := range submitted {
		got := p.GetTxnResult()
		assert.True(t, want == got, "results must arrive in admission order")
		assert.Equal(t, Committed, got.Status())
	}

	final := runToResult(p, NewExpect(map[storage.Key]storage.Value{1: 10}))
	assert.Equal(t, Committed, final.Status())
}

// TestOCCRetry admits two conflicting increments together. One validates
// first; the other must fail validation, re-execute against the new
// value, and still commit.
func TestOCCRetry(t *testing.T) {
	for _, mode := range []CCMode{OCC, ParallelOCC} {
		t.Run(mode.String(), func(t *testing.T) {
			p := newTestProcessor(t, mode)
			defer p.Close()

			init := runToResult(p, NewPut(map[storage.Key]storage.Value{1: 0}))
			require.Equal(t, Committed, init.Status())

			p.NewTxnRequest(NewIncrement(1, 30*time.Millisecond))
			p.NewTxnRequest(NewIncrement(1, 30*time.Millisecond))
			first := p.GetTxnResult()
			second := p.GetTxnResult()
			assert.Equal(t, Committed, first.Status())
			assert.Equal(t, Committed, second.Status())

			final := runToResult(p, NewExpect(map[storage.Key]storage.Value{1: 2}))
			assert.Equal(t, Committed, final.Status())
		})
	}
}

// TestAbortIntent checks that a body choosing to abort surfaces as
// Aborted and leaves storage untouched.
func TestAbortIntent(t *testing.T) {
	for _, mode := range allModes {
		t.Run(mode.String(), func(t *testing.T) {
			p := newTestProcessor(t, mode)
			defer p.Close()

			// Expect on an empty store always aborts.
			result := runToResult(p, NewExpect(map[storage.Key]storage.Value{9: 9}))
			assert.Equal(t, Aborted, result.Status())

			// The store still has no key 9.
			after := runToResult(p, NewExpect(map[storage.Key]storage.Value{9: 9}))
			assert.Equal(t, Aborted, after.Status())
		})
	}
}

func TestParseCCMode(t *testing.T) {
	for _, mode := range allModes {
		parsed, err := ParseCCMode(mode.String())
		require.NoError(t, err)
		assert.Equal(t, mode, parsed)
	}
	_, err := ParseCCMode("vaporware")
	assert.Error(t, err)
}

func TestNewTxnProcessorFromConfig(t *testing.T) {
	conf := config.NewTestConfig()
	conf.Mode = "occ"
	p, err := NewTxnProcessorFromConfig(conf)
	require.NoError(t, err)
	defer p.Close()

	result := runToResult(p, NewNoop())
	assert.Equal(t, Committed, result.Status())

	conf.Mode = "vaporware"
	_, err = NewTxnProcessorFromConfig(conf)
	assert.Error(t, err)
}

// TestUniqueIDsIncrease checks admission assigns strictly increasing ids.
func TestUniqueIDsIncrease(t *testing.T) {
	p := newTestProcessor(t, Serial)
	defer p.Close()

	var last uint64
	for i := 0; i < 5; i++ {
		result := runToResult(p, NewNoop())
		assert.True(t, result.ID > last)
		last = result.ID
	}
}
