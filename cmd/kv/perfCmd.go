package kv

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/replkv/cmd/util"
	"github.com/ValentinKolb/replkv/lib/client"
	"github.com/ValentinKolb/replkv/lib/common"
	"github.com/ValentinKolb/replkv/lib/lockmgr"
	"github.com/ValentinKolb/replkv/lib/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for the pooled client",
		Long:    "Runs parallel benchmarks of plain commands, pipelines, transactions and locks through the pool.",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfBatchSize        = 10
	perfSkip             = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines per CPU to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "batch"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("How many commands the pipeline and transaction tests queue per round trip"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfBatchSize = max(viper.GetInt("batch"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// benchmark is one performance test. op runs a single iteration on a pooled
// client, prepared benchmarks find their keys set before the timer starts.
type benchmark struct {
	name     string
	readOnly bool
	prepare  bool
	op       func(ctx context.Context, c *client.Client, key string) error
}

type benchmarkResult struct {
	name   string
	result testing.BenchmarkResult
}

func run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	fmt.Println("Performance testing tool for the pooled client")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	largeValue := make([]byte, perfLargeValueSizeKB*1024)
	locks := lockmgr.NewLockManager(kvPool)

	benchmarks := []benchmark{
		{name: "set", op: func(ctx context.Context, c *client.Client, key string) error {
			return c.Set(ctx, key, "test", 0)
		}},
		{name: "set-large", op: func(ctx context.Context, c *client.Client, key string) error {
			return c.Set(ctx, key, largeValue, 0)
		}},
		{name: "get", readOnly: true, prepare: true, op: func(ctx context.Context, c *client.Client, key string) error {
			_, err := c.Get(ctx, key)
			return err
		}},
		{name: "has", readOnly: true, prepare: true, op: func(ctx context.Context, c *client.Client, key string) error {
			_, err := c.Exists(ctx, key)
			return err
		}},
		{name: "incr", op: func(ctx context.Context, c *client.Client, key string) error {
			_, err := c.Incr(ctx, key)
			return err
		}},
		{name: "pipeline", op: func(ctx context.Context, c *client.Client, key string) error {
			p, err := pipeline.New(c)
			if err != nil {
				return err
			}
			defer p.Close()
			for i := 0; i < perfBatchSize; i++ {
				if err := p.Incr(key, nil); err != nil {
					return err
				}
			}
			return p.Flush(ctx)
		}},
		{name: "transaction", op: func(ctx context.Context, c *client.Client, key string) error {
			tx, err := pipeline.Begin(c)
			if err != nil {
				return err
			}
			defer tx.Close()
			for i := 0; i < perfBatchSize; i++ {
				if err := tx.Incr(key, nil); err != nil {
					return err
				}
			}
			_, err = tx.Commit(ctx)
			return err
		}},
		{name: "lock", op: func(ctx context.Context, c *client.Client, key string) error {
			lock, err := lockmgr.AcquireOn(ctx, c, key+"-lock", time.Second)
			if err != nil {
				return err
			}
			return lock.Release(ctx)
		}},
	}

	results := make([]benchmarkResult, 0, len(benchmarks)+1)
	for _, bm := range benchmarks {
		result := runBenchmark(ctx, bm)
		results = append(results, benchmarkResult{bm.name, result})
		printResult(bm.name, result)
	}

	// the lock manager borrows a client per acquire and release
	lockMgrResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("lock-manager") {
			return
		}
		getKey, _ := getKeys("lock-manager")

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				lock, err := locks.AcquireLock(ctx, getKey(counter), time.Second)
				if err == nil {
					err = lock.Release(ctx)
				}
				if err != nil {
					util.Logger.Warningf("(lock-manager) - error: %v", err)
				}
				counter++
			}
		})
	})
	results = append(results, benchmarkResult{"lock-manager", lockMgrResult})
	printResult("lock-manager", lockMgrResult)

	// Print pool usage
	fmt.Println()
	fmt.Println(kvPool.Snapshot().String())

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// runBenchmark runs bm in parallel through the pool and deletes its keys
// afterwards
func runBenchmark(ctx context.Context, bm benchmark) testing.BenchmarkResult {
	return testing.Benchmark(func(b *testing.B) {
		if shouldSkip(bm.name) {
			return
		}

		// prepare keys
		getKey, iter := getKeys(bm.name)

		if bm.prepare {
			iter(func(k string) {
				if err := kvPool.Exec(ctx, func(c *client.Client) error {
					return c.Set(ctx, k, "test", 0)
				}); err != nil {
					util.Logger.Warningf("(%s) - error setting key: %v", bm.name, err)
				}
			})
		}

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if err := kvPool.Exec(ctx, func(c *client.Client) error {
					_, err := c.Del(ctx, k)
					return err
				}); err != nil {
					util.Logger.Warningf("(%s) - error deleting key: %v", bm.name, err)
				}
			})
		})

		exec := kvPool.Exec
		if bm.readOnly {
			exec = kvPool.ExecReadOnly
		}

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				key := getKey(counter)
				if err := exec(ctx, func(c *client.Client) error {
					return bm.op(ctx, c, key)
				}); err != nil {
					util.Logger.Warningf("(%s) - error: %v", bm.name, err)
				}
				counter++
			}
		})
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results []benchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Masters", "Slaves", "WritePoolSize", "ReadPoolSize", "PoolTimeout",
		"SinglePool", "RetryTimeout",
		"Threads", "LargeValueSizeKB", "Keys Count", "BatchSize",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for _, r := range results {
		var nsPerOp float64
		var opsPerSec float64
		skipped := "true"

		if r.result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(r.result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			r.name,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strings.Join(config.Masters, ";"),
			strings.Join(config.Slaves, ";"),
			strconv.Itoa(config.MaxWritePoolSize),
			strconv.Itoa(config.MaxReadPoolSize),
			config.PoolTimeout.String(),
			strconv.FormatBool(config.SinglePool),
			config.RetryTimeout.String(),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
			strconv.Itoa(perfBatchSize),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", r.name, err)
		}
	}

	return nil
}
