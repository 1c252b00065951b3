package main

import (
	"fmt"
	"math/rand/v2"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/elysium/arc"
	"github.com/vkngwrapper/elysium/memory"
)

var (
	statsBlocks   int
	statsMaxItems int
	statsSeed     uint64
	statsDetailed bool
)

func init() {
	cmd := newStatsCmd()
	cmd.Flags().IntVar(&statsBlocks, "blocks", 256, "Number of header slices to keep alive")
	cmd.Flags().IntVar(&statsMaxItems, "max-items", 4096, "Largest element count of a single slice")
	cmd.Flags().Uint64Var(&statsSeed, "seed", 1, "Seed for the slice sizes")
	cmd.Flags().BoolVar(&statsDetailed, "detailed", false, "List every region of every chunk")
	rootCmd.AddCommand(cmd)
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Dump allocator statistics while blocks are alive",
		Long: `The stats command allocates header slices of random length, prints the
allocator's json statistics while they are all alive, then releases them.

Example:
  arcstress stats
  arcstress stats --blocks 1000 --max-items 100000 --detailed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd)
		},
	}
	return cmd
}

func runStats(cmd *cobra.Command) error {
	if statsBlocks < 0 || statsMaxItems < 1 {
		return errors.New("blocks must not be negative and max-items must be positive")
	}

	allocator := memory.Global()
	baseline := allocator.LiveBlockCount()
	rng := rand.New(rand.NewPCG(statsSeed, statsSeed^0x9e3779b97f4a7c15))

	live := make([]arc.Slice[uint64, byte], 0, statsBlocks)
	for i := 0; i < statsBlocks; i++ {
		length := rng.IntN(statsMaxItems) + 1
		live = append(live, arc.FromHeaderAndIter(uint64(i), length, func(yield func(byte) bool) {
			for n := 0; n < length; n++ {
				if !yield(byte(n)) {
					return
				}
			}
		}))
	}

	fmt.Fprintln(cmd.OutOrStdout(), allocator.BuildStatsString(statsDetailed))

	for _, s := range live {
		s.Release()
	}

	if allocator.LiveBlockCount() != baseline {
		return errors.Errorf("%d blocks were leaked", allocator.LiveBlockCount()-baseline)
	}
	return nil
}
