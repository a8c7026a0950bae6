package bench

import (
	"math/rand"
	"time"

	"github.com/tinytxn/tinytxn/kv/transaction"
)

// LoadGen produces the transactions a benchmark run feeds the processor.
type LoadGen interface {
	NewTxn() *transaction.Txn
}

// RMWLoadGen generates uniform read-modify-write transactions over a key
// space of DBSize keys.
type RMWLoadGen struct {
	DBSize   int
	RSetSize int
	WSetSize int
	Wait     time.Duration
}

func (g *RMWLoadGen) NewTxn() *transaction.Txn {
	return transaction.NewRMW(g.DBSize, g.RSetSize, g.WSetSize, g.Wait)
}

// RMWLoadGen2 generates a mixed load: 10% are read-only transactions that
// run for the full wait duration, the rest are fast high-contention
// updates.
type RMWLoadGen2 struct {
	DBSize   int
	RSetSize int
	WSetSize int
	Wait     time.Duration
}

func (g *RMWLoadGen2) NewTxn() *transaction.Txn {
	if rand.Intn(100) < 10 {
		return transaction.NewRMW(g.DBSize, g.RSetSize, 0, g.Wait)
	}
	return transaction.NewRMW(g.DBSize, 0, g.WSetSize, 0)
}
