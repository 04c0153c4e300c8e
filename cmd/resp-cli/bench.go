package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeebo/xxh3"
	"golang.org/x/exp/rand"

	"github.com/pior/resp"
	"github.com/pior/resp/internal/logger"
	"github.com/pior/resp/protocol"
)

type benchOptions struct {
	duration    time.Duration
	concurrency int
	pipeline    int
	keyspace    int
	valueSize   int
	verify      bool
	seed        uint64
}

type BenchmarkResult struct {
	Duration     time.Duration
	Batches      int64
	TotalOps     int64
	Failures     int64
	Mismatches   int64
	OpsPerSecond float64
	Pool         resp.PoolStats
}

var benchOpts benchOptions

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Pipelined SET/GET load through a connection pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		poolConfig := cfg.PoolConfig()
		poolConfig.ConnectionOptions = []resp.Option{resp.WithLogger(logger.Logger())}

		pool, err := resp.NewPool(cfg.Endpoint(), poolConfig)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := pool.With(cmd.Context(), (*resp.Connection).Ping); err != nil {
			return fmt.Errorf("server not reachable: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Benchmarking %s: %d workers, pipelines of %d SET+GET, %s\n",
			cfg.Endpoint().Addr(), benchOpts.concurrency, benchOpts.pipeline, benchOpts.duration)

		result := runBenchmark(cmd.Context(), pool, benchOpts)
		printResult(out, result, benchOpts.verify)

		if result.Mismatches > 0 {
			return fmt.Errorf("%d values failed verification", result.Mismatches)
		}
		return nil
	},
}

func init() {
	flags := benchCmd.Flags()
	flags.DurationVar(&benchOpts.duration, "duration", 5*time.Second, "how long to run")
	flags.IntVar(&benchOpts.concurrency, "concurrency", 8, "number of concurrent workers")
	flags.IntVar(&benchOpts.pipeline, "pipeline", 16, "SET+GET pairs per round trip")
	flags.IntVar(&benchOpts.keyspace, "keyspace", 10000, "number of distinct keys")
	flags.IntVar(&benchOpts.valueSize, "value-size", 64, "value size in bytes")
	flags.Int32("pool-size", 8, "maximum pool connections")
	flags.BoolVar(&benchOpts.verify, "verify", false, "check every value read back against its checksum")
	flags.Uint64Var(&benchOpts.seed, "seed", uint64(time.Now().UnixNano()), "random seed")

	rootCmd.AddCommand(benchCmd)
}

// keyValue returns the key and the value stored under it. The value only
// depends on the key index, so concurrent writers agree on it.
func keyValue(index, size int) (string, []byte) {
	value := make([]byte, size)
	_, _ = rand.New(rand.NewSource(uint64(index))).Read(value)
	return "bench:" + strconv.Itoa(index), value
}

func runBenchmark(ctx context.Context, pool *resp.Pool, opts benchOptions) BenchmarkResult {
	var sums []uint64
	if opts.verify {
		sums = make([]uint64, opts.keyspace)
		for i := range sums {
			_, value := keyValue(i, opts.valueSize)
			sums[i] = xxh3.Hash(value)
		}
	}

	var batches, ops, failures, mismatches atomic.Int64

	ctx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	for w := range opts.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(opts.seed + uint64(w)))
			keys := make([]int, opts.pipeline)

			for ctx.Err() == nil {
				for i := range keys {
					keys[i] = rng.Intn(opts.keyspace)
				}

				err := pool.With(ctx, func(conn *resp.Connection) error {
					for _, k := range keys {
						key, value := keyValue(k, opts.valueSize)
						if err := conn.SendCommand(protocol.SET, []byte(key), value); err != nil {
							return err
						}
						if err := conn.SendCommand(protocol.GET, []byte(key)); err != nil {
							return err
						}
					}

					results, err := conn.ReadBatch(2 * len(keys))
					if err != nil {
						return err
					}
					for i, res := range results {
						if res.Failed() {
							failures.Add(1)
							continue
						}
						if opts.verify && i%2 == 1 && xxh3.Hash(res.Reply.Bulk) != sums[keys[i/2]] {
							mismatches.Add(1)
						}
					}
					return nil
				})
				if err != nil {
					if ctx.Err() == nil {
						failures.Add(1)
						logger.Logger().WithError(err).Debug("bench: batch failed")
					}
					continue
				}
				batches.Add(1)
				ops.Add(int64(2 * len(keys)))
			}
		}()
	}
	wg.Wait()

	elapsed := time.Since(start)
	return BenchmarkResult{
		Duration:     elapsed,
		Batches:      batches.Load(),
		TotalOps:     ops.Load(),
		Failures:     failures.Load(),
		Mismatches:   mismatches.Load(),
		OpsPerSecond: float64(ops.Load()) / elapsed.Seconds(),
		Pool:         pool.Stats(),
	}
}

func printResult(w io.Writer, result BenchmarkResult, verify bool) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Duration:        %v\n", result.Duration.Round(time.Millisecond))
	fmt.Fprintf(&buf, "Round trips:     %d\n", result.Batches)
	fmt.Fprintf(&buf, "Commands:        %d\n", result.TotalOps)
	fmt.Fprintf(&buf, "Failures:        %d\n", result.Failures)
	if verify {
		fmt.Fprintf(&buf, "Mismatches:      %d\n", result.Mismatches)
	}
	fmt.Fprintf(&buf, "Ops/sec:         %.0f\n", result.OpsPerSecond)
	fmt.Fprintf(&buf, "Connections:     %d created, %d destroyed, %d waits (%v)\n",
		result.Pool.CreatedConns, result.Pool.DestroyedConns,
		result.Pool.AcquireWaitCount, result.Pool.AcquireWaitTime().Round(time.Microsecond))
	_, _ = w.Write(buf.Bytes())
}
