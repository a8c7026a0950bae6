package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tinytxn/tinytxn/kv/bench"
	"github.com/tinytxn/tinytxn/kv/config"
	"github.com/tinytxn/tinytxn/kv/transaction"
)

var (
	cfgPath     string
	modesArg    string
	activeTxns  int
	duration    time.Duration
	rate        float64
	metricsAddr string
)

// waits are the average transaction durations each load is run with.
var waits = []time.Duration{
	100 * time.Microsecond,
	time.Millisecond,
	10 * time.Millisecond,
	100 * time.Millisecond,
}

type experiment struct {
	name   string
	dbSize int
	gen    func(wait time.Duration) bench.LoadGen
}

var experiments = []experiment{
	{"read only", 10000, func(w time.Duration) bench.LoadGen {
		return &bench.RMWLoadGen{DBSize: 10000, RSetSize: 10, Wait: w}
	}},
	{"1% contention", 10000, func(w time.Duration) bench.LoadGen {
		return &bench.RMWLoadGen{DBSize: 10000, RSetSize: 10, WSetSize: 10, Wait: w}
	}},
	{"10% contention", 1000, func(w time.Duration) bench.LoadGen {
		return &bench.RMWLoadGen{DBSize: 1000, RSetSize: 10, WSetSize: 10, Wait: w}
	}},
	{"65% contention", 100, func(w time.Duration) bench.LoadGen {
		return &bench.RMWLoadGen{DBSize: 100, RSetSize: 10, WSetSize: 10, Wait: w}
	}},
	{"100% contention", 10, func(w time.Duration) bench.LoadGen {
		return &bench.RMWLoadGen{DBSize: 10, WSetSize: 10, Wait: w}
	}},
	{"high contention mixed read/write", 100, func(w time.Duration) bench.LoadGen {
		return &bench.RMWLoadGen2{DBSize: 100, RSetSize: 20, WSetSize: 10, Wait: w}
	}},
}

func main() {
	rootCmd := &cobra.Command{
		Use:          "txnbench",
		Short:        "Compare transaction throughput under different concurrency control protocols",
		RunE:         run,
		SilenceUsage: true,
	}
	flags := rootCmd.Flags()
	flags.StringVar(&cfgPath, "config", "", "path to a TOML config file")
	flags.StringVar(&modesArg, "modes", "serial,locking-exclusive,locking,occ,p-occ",
		"comma-separated concurrency control modes to benchmark")
	flags.IntVar(&activeTxns, "active", 0, "transactions kept in flight (overrides config)")
	flags.DurationVar(&duration, "duration", 0, "length of each measurement (overrides config)")
	flags.Float64Var(&rate, "rate", 0, "cap on admissions per second, 0 for unpaced")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "if set, serve prometheus metrics on this address")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	conf := config.NewDefaultConfig()
	if cfgPath != "" {
		var err error
		if conf, err = config.FromTOML(cfgPath); err != nil {
			return err
		}
	}
	if activeTxns > 0 {
		conf.BenchActiveTxns = activeTxns
	}
	if duration > 0 {
		conf.BenchDuration = duration
	}

	lg, prop, err := log.InitLogger(&log.Config{Level: conf.LogLevel})
	if err != nil {
		return err
	}
	log.ReplaceGlobals(lg, prop)
	defer log.Sync()

	if metricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(metricsAddr, promhttp.Handler()); err != nil {
				log.Error("metrics listener failed", zap.Error(err))
			}
		}()
	}

	var modes []transaction.CCMode
	for _, name := range strings.Split(modesArg, ",") {
		mode, err := transaction.ParseCCMode(strings.TrimSpace(name))
		if err != nil {
			return err
		}
		modes = append(modes, mode)
	}

	perMode := make(map[transaction.CCMode][]float64)
	for _, exp := range experiments {
		fmt.Printf("\n%s\n", exp.name)
		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprint(w, "mode")
		for _, wait := range waits {
			fmt.Fprintf(w, "\t%s", wait)
		}
		fmt.Fprintln(w)

		for _, mode := range modes {
			fmt.Fprint(w, mode)
			for _, wait := range waits {
				result, err := bench.Run(mode, exp.gen(wait), bench.Options{
					Conf:       conf,
					ActiveTxns: conf.BenchActiveTxns,
					Duration:   conf.BenchDuration,
					Rate:       rate,
					DBSize:     exp.dbSize,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "\t%.0f", result.Throughput)
				perMode[mode] = append(perMode[mode], result.Throughput)
			}
			fmt.Fprintln(w)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Printf("\nthroughput across all loads (txns/sec)\n")
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "mode\tmean\tmedian\tp95")
	for _, mode := range modes {
		s, err := bench.Summarize(perMode[mode])
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%.0f\t%.0f\t%.0f\n", mode, s.Mean, s.Median, s.P95)
	}
	return w.Flush()
}
