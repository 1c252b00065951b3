package main

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/elysium/arc"
	"github.com/vkngwrapper/elysium/memory"
	"github.com/vkngwrapper/elysium/union"
)

var (
	stressWorkers    int
	stressIterations int
	stressLength     int
	stressJSON       bool
)

func init() {
	cmd := newStressCmd()
	cmd.Flags().IntVarP(&stressWorkers, "workers", "w", 8, "Number of goroutines")
	cmd.Flags().IntVarP(&stressIterations, "iterations", "n", 10000, "Iterations per goroutine")
	cmd.Flags().IntVar(&stressLength, "length", 32, "Element count of each header slice")
	cmd.Flags().BoolVar(&stressJSON, "json", false, "Print the detailed allocator map as JSON")
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Clone and release handles from many goroutines",
		Long: `The stress command shares one counted record between all workers while each
worker builds header slices, moves them between fat, thin and tagged forms,
and releases everything it made.

Example:
  arcstress stress
  arcstress stress --workers 32 --iterations 100000
  arcstress stress --pages heap --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(cmd)
		},
	}
	return cmd
}

type sharedRecord struct {
	ID uint64
	// Hits is only touched through sync/atomic, so the record stays copyable into its block
	Hits uint64
}

type sliceHeader struct {
	Worker    uint32
	Iteration uint32
}

type stressUnion = union.Union4[
	arc.Arc[sharedRecord],
	arc.Box[uint64],
	arc.Thin[sliceHeader, uint64],
	arc.Borrow[sharedRecord],
]

func runStress(cmd *cobra.Command) error {
	if stressWorkers < 1 || stressIterations < 0 || stressLength < 0 {
		return errors.New("workers must be positive, iterations and length must not be negative")
	}

	allocator := memory.Global()
	baseline := allocator.LiveBlockCount()
	builder := union.MustBuilder4[
		arc.Arc[sharedRecord],
		arc.Box[uint64],
		arc.Thin[sliceHeader, uint64],
		arc.Borrow[sharedRecord],
	]()

	shared := arc.New(sharedRecord{ID: 1})
	start := time.Now()

	var wg sync.WaitGroup
	for worker := 0; worker < stressWorkers; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			runWorker(builder, shared.Clone(), uint32(worker))
		}(worker)
	}
	wg.Wait()

	elapsed := time.Since(start)
	hits := atomic.LoadUint64(&shared.Get().Hits)
	if !shared.IsUnique() {
		return errors.Errorf("shared record still has %d references", shared.Count())
	}
	shared.Release()

	allocator.Logger().Debug("Stress run complete", "elapsed", elapsed, "hits", hits)

	out := cmd.OutOrStdout()
	if stressJSON {
		fmt.Fprintln(out, allocator.BuildStatsString(true))
	} else {
		stats := allocator.Statistics()
		fmt.Fprintf(out, "Workers:    %d\n", stressWorkers)
		fmt.Fprintf(out, "Iterations: %d\n", stressIterations)
		fmt.Fprintf(out, "Hits:       %d\n", hits)
		fmt.Fprintf(out, "Elapsed:    %s\n", elapsed)
		fmt.Fprintf(out, "Mapped:     %d regions, %d bytes\n", stats.BlockCount, stats.BlockBytes)
	}

	leaked := allocator.LiveBlockCount() - baseline
	if leaked != 0 {
		return errors.Errorf("%d blocks were leaked", leaked)
	}

	return allocator.Validate()
}

func runWorker(builder union.Builder4[
	arc.Arc[sharedRecord],
	arc.Box[uint64],
	arc.Thin[sliceHeader, uint64],
	arc.Borrow[sharedRecord],
], shared arc.Arc[sharedRecord], worker uint32) {
	defer shared.Release()

	values := make([]uint64, stressLength)
	for index := range values {
		values[index] = uint64(index) * uint64(worker+1)
	}

	for i := 0; i < stressIterations; i++ {
		local := shared.Clone()
		atomic.AddUint64(&local.Get().Hits, 1)

		header := sliceHeader{Worker: worker, Iteration: uint32(i)}
		thin := arc.FromHeaderAndSlice(header, values).IntoThin()

		var u stressUnion
		switch i % 4 {
		case 0:
			u = builder.A(local.Clone())
		case 1:
			box := arc.NewBox(uint64(i))
			*box.Get() += uint64(worker)
			u = builder.B(box)
		case 2:
			u = builder.C(thin.Clone())
		default:
			u = builder.D(local.Borrow())
		}

		if c, ok := u.C(); ok && c.Len() != stressLength {
			panic(fmt.Sprintf("thin handle reports %d items, expected %d", c.Len(), stressLength))
		}

		u.Release()
		thin.Release()
		local.Release()
	}
}
