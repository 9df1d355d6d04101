package record

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/rKV/cmd/util"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/lib/value"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	benchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Performance testing tool for rKV clusters",
		Long:    `Runs every benchmark (put, get, exists, remove, mixed, put-async) with the configured number of workers and prints latency percentiles and throughput. The records are removed afterwards.`,
		PreRunE: processBenchConfig,
		RunE:    runBench,
	}
	benchSet       = "__bench"
	benchWorkers   = 10
	benchOps       = 10_000
	benchKeySpread = 100
	benchValueSize = 100
	benchSkip      []string
)

// benchmark is a single operation measured by the bench command
type benchmark struct {
	name    string
	prepare bool // write all keys before the run
	op      func(ctx context.Context, key *store.Key, i int) error
}

func init() {
	key := "skip"
	benchCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "workers"
	benchCmd.Flags().Int(key, 10, util.WrapString("Number of concurrent workers"))
	key = "ops"
	benchCmd.Flags().Int(key, 10_000, util.WrapString("Number of operations per benchmark"))
	key = "keys"
	benchCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use"))
	key = "value-size"
	benchCmd.Flags().Int(key, 100, util.WrapString("Size of the string bin written by put (in bytes)"))
	key = "csv"
	benchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	benchWorkers = max(viper.GetInt("workers"), 1)
	benchOps = max(viper.GetInt("ops"), 1)
	benchKeySpread = max(viper.GetInt("keys"), 1)
	benchValueSize = max(viper.GetInt("value-size"), 0)
	benchSkip = util.SplitList(viper.GetString("skip"))
	return nil
}

func runBench(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	fmt.Println("Performance testing tool for rKV clusters")
	clientConfig := util.GetClientConfig()
	fmt.Println(clientConfig.String())
	fmt.Printf("Workers: %d, Operations: %d, Keys: %d\n\n", benchWorkers, benchOps, benchKeySpread)

	keys, err := benchKeys()
	if err != nil {
		return err
	}
	bins := value.Bins{"v": value.String(strings.Repeat("x", benchValueSize))}

	benchmarks := []benchmark{
		{name: "put", op: func(ctx context.Context, key *store.Key, _ int) error {
			return rpcClient.Put(ctx, key, bins, nil)
		}},
		{name: "get", prepare: true, op: func(ctx context.Context, key *store.Key, _ int) error {
			_, err := rpcClient.Get(ctx, key, nil)
			return err
		}},
		{name: "exists", prepare: true, op: func(ctx context.Context, key *store.Key, _ int) error {
			_, err := rpcClient.Exists(ctx, key, nil)
			return err
		}},
		{name: "remove", prepare: true, op: func(ctx context.Context, key *store.Key, _ int) error {
			return rpcClient.Remove(ctx, key, &store.Policy{IgnoreNotFound: true})
		}},
		{name: "mixed", prepare: true, op: func(ctx context.Context, key *store.Key, i int) error {
			var err error
			switch i % 4 {
			case 0:
				err = rpcClient.Put(ctx, key, bins, nil)
			case 1:
				_, err = rpcClient.Get(ctx, key, nil)
			case 2:
				_, err = rpcClient.Exists(ctx, key, nil)
			case 3:
				err = rpcClient.Remove(ctx, key, &store.Policy{IgnoreNotFound: true})
			}
			if store.CodeOf(err) == store.ResultKeyNotFound {
				return nil
			}
			return err
		}},
		{name: "put-async", op: func(ctx context.Context, key *store.Key, _ int) error {
			_, err := rpcClient.PutAsync(key, bins, nil, nil).Wait(ctx)
			return err
		}},
	}

	registry := gometrics.NewRegistry()
	for _, b := range benchmarks {
		if slices.Contains(benchSkip, b.name) {
			fmt.Printf("%-12sskipped\n", b.name)
			continue
		}
		if b.prepare {
			for _, key := range keys {
				if err := rpcClient.Put(ctx, key, bins, nil); err != nil {
					return fmt.Errorf("(%s) prepare: %w", b.name, err)
				}
			}
		}
		took := runBenchmark(ctx, registry, b, keys)
		printResult(registry, b.name, took)
	}

	// cleanup
	for _, key := range keys {
		if err := rpcClient.Remove(ctx, key, &store.Policy{IgnoreNotFound: true}); err != nil {
			util.Logger.Warningf("(cleanup) - error removing %s: %v", key, err)
		}
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, registry, benchmarks); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func benchKeys() ([]*store.Key, error) {
	keys := make([]*store.Key, benchKeySpread)
	for i := range keys {
		key, err := store.NewKey(viper.GetString("namespace"), benchSet, i)
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}
	return keys, nil
}

// runBenchmark runs benchOps operations on benchWorkers workers and records
// the latency of every operation in the timer of the benchmark
func runBenchmark(ctx context.Context, registry gometrics.Registry, b benchmark, keys []*store.Key) time.Duration {
	timer := gometrics.GetOrRegisterTimer(b.name, registry)
	errs := gometrics.GetOrRegisterCounter(b.name+".errors", registry)

	var next atomic.Int64
	var wg sync.WaitGroup
	start := time.Now()
	for w := 0; w < benchWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1) - 1)
				if i >= benchOps || ctx.Err() != nil {
					return
				}
				opStart := time.Now()
				err := b.op(ctx, keys[i%len(keys)], i)
				timer.UpdateSince(opStart)
				if err != nil {
					errs.Inc(1)
					util.Logger.Debugf("(%s) - error: %v", b.name, err)
				}
			}
		}()
	}
	wg.Wait()
	return time.Since(start)
}

var benchPercentiles = []float64{0.5, 0.9, 0.99}

// printResult prints the result of a benchmark in a formatted way
func printResult(registry gometrics.Registry, name string, took time.Duration) {
	timer := gometrics.GetOrRegisterTimer(name, registry)
	errs := gometrics.GetOrRegisterCounter(name+".errors", registry)
	ps := timer.Percentiles(benchPercentiles)
	opsPerSec := float64(timer.Count()) / max(took.Seconds(), 1e-9)

	fmt.Printf("%-12smean %-10s p50 %-10s p90 %-10s p99 %-10s %8.0f ops/sec  %d errors\n",
		name,
		time.Duration(timer.Mean()).Round(time.Microsecond),
		time.Duration(ps[0]).Round(time.Microsecond),
		time.Duration(ps[1]).Round(time.Microsecond),
		time.Duration(ps[2]).Round(time.Microsecond),
		opsPerSec,
		errs.Count(),
	)
}

// writeResultsToCSV writes the benchmark results to a CSV file
func writeResultsToCSV(csvPath string, registry gometrics.Registry, benchmarks []benchmark) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "Count", "Errors", "MeanNs", "P50Ns", "P90Ns", "P99Ns", "RateMean",
		"Hosts", "TotalTimeout", "RetryCount", "ConnectionsPerNode",
		"Serializer", "Transport", "Workers", "Keys", "ValueSize",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	config := util.GetClientConfig()
	for _, b := range benchmarks {
		if slices.Contains(benchSkip, b.name) {
			continue
		}
		timer := gometrics.GetOrRegisterTimer(b.name, registry)
		errs := gometrics.GetOrRegisterCounter(b.name+".errors", registry)
		ps := timer.Percentiles(benchPercentiles)

		row := []string{
			b.name,
			strconv.FormatInt(timer.Count(), 10),
			strconv.FormatInt(errs.Count(), 10),
			fmt.Sprintf("%.0f", timer.Mean()),
			fmt.Sprintf("%.0f", ps[0]),
			fmt.Sprintf("%.0f", ps[1]),
			fmt.Sprintf("%.0f", ps[2]),
			fmt.Sprintf("%.1f", timer.RateMean()),
			strings.Join(config.Hosts, ";"),
			config.TotalTimeout.String(),
			strconv.Itoa(config.RetryCount),
			strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(benchWorkers),
			strconv.Itoa(benchKeySpread),
			strconv.Itoa(benchValueSize),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", b.name, err)
		}
	}
	return nil
}
