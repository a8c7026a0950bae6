package bench

import (
	"time"

	"github.com/juju/ratelimit"
	"github.com/montanaflynn/stats"
	"github.com/pingcap/errors"

	"github.com/tinytxn/tinytxn/kv/config"
	"github.com/tinytxn/tinytxn/kv/storage"
	"github.com/tinytxn/tinytxn/kv/transaction"
)

// Options shapes a benchmark run.
type Options struct {
	// Conf configures the processor under test. Nil means defaults.
	Conf *config.Config
	// ActiveTxns is how many transactions are kept in flight.
	ActiveTxns int
	// Duration is how long new transactions keep being admitted.
	Duration time.Duration
	// Rate caps admissions per second. Zero means unpaced.
	Rate float64
	// DBSize keys [0, DBSize) are preloaded with zero before measuring.
	DBSize int
}

// Result is the outcome of one (mode, load) measurement.
type Result struct {
	Mode       transaction.CCMode
	Completed  int
	Elapsed    time.Duration
	Throughput float64 // transactions per second
}

// Run measures throughput of one mode under one load. It preloads the
// store, keeps ActiveTxns transactions in flight for Duration, then
// drains the tail and reports completed transactions per second.
func Run(mode transaction.CCMode, gen LoadGen, opts Options) (Result, error) {
	if opts.ActiveTxns <= 0 {
		return Result{}, errors.Errorf("active txns must be positive, got %d", opts.ActiveTxns)
	}
	conf := opts.Conf
	if conf == nil {
		conf = config.NewDefaultConfig()
	}

	p := transaction.NewTxnProcessorWithConfig(mode, conf)
	defer p.Close()

	if opts.DBSize > 0 {
		init := make(map[storage.Key]storage.Value, opts.DBSize)
		for i := 0; i < opts.DBSize; i++ {
			init[storage.Key(i)] = 0
		}
		p.NewTxnRequest(transaction.NewPut(init))
		loaded := p.GetTxnResult()
		if loaded.Status() != transaction.Committed {
			return Result{}, errors.Errorf("preload did not commit: %s", loaded.Status())
		}
	}

	var bucket *ratelimit.Bucket
	if opts.Rate > 0 {
		bucket = ratelimit.NewBucketWithRate(opts.Rate, int64(opts.ActiveTxns))
	}

	start := time.Now()
	for i := 0; i < opts.ActiveTxns; i++ {
		p.NewTxnRequest(gen.NewTxn())
	}

	// One admission per completion keeps the in-flight count constant.
	completed := 0
	for time.Since(start) < opts.Duration {
		p.GetTxnResult()
		completed++
		if bucket != nil {
			bucket.Wait(1)
		}
		p.NewTxnRequest(gen.NewTxn())
	}
	for i := 0; i < opts.ActiveTxns; i++ {
		p.GetTxnResult()
		completed++
	}

	elapsed := time.Since(start)
	return Result{
		Mode:       mode,
		Completed:  completed,
		Elapsed:    elapsed,
		Throughput: float64(completed) / elapsed.Seconds(),
	}, nil
}

// Summary aggregates the throughput samples of one mode across loads.
type Summary struct {
	Mean   float64
	Median float64
	P95    float64
}

func Summarize(throughputs []float64) (Summary, error) {
	mean, err := stats.Mean(throughputs)
	if err != nil {
		return Summary{}, errors.Annotate(err, "summarize throughput")
	}
	median, err := stats.Median(throughputs)
	if err != nil {
		return Summary{}, errors.Annotate(err, "summarize throughput")
	}
	p95, err := stats.Percentile(throughputs, 95)
	if err != nil {
		return Summary{}, errors.Annotate(err, "summarize throughput")
	}
	return Summary{Mean: mean, Median: median, P95: p95}, nil
}
