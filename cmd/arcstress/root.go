package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/elysium/memory"
	"github.com/vkngwrapper/elysium/memutils/metadata"
	"golang.org/x/exp/slog"
)

var (
	// Global flags
	verbose     bool
	chunkSize   int
	pageSource  string
	strategy    string
	releaseIdle bool
)

var (
	initOnce sync.Once
	initErr  error
)

var rootCmd = &cobra.Command{
	Use:   "arcstress",
	Short: "Exercise shared handles against the block allocator",
	Long: `arcstress drives shared, unique, thin and tagged handles from many goroutines
and reports what the block allocator looks like afterwards. It exits with an
error if any block is left behind.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return initAllocator() },
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().
		IntVar(&chunkSize, "chunk-size", memory.DefaultChunkSize, "Size of each allocator chunk in bytes")
	rootCmd.PersistentFlags().
		StringVar(&pageSource, "pages", "os", "Where chunks come from: os or heap")
	rootCmd.PersistentFlags().
		StringVar(&strategy, "strategy", "balanced", "Free region search: balanced, memory, time or offset")
	rootCmd.PersistentFlags().
		BoolVar(&releaseIdle, "release-empty", false, "Unmap chunks as soon as they are empty")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseStrategy(name string) (metadata.AllocationStrategy, error) {
	switch name {
	case "balanced":
		return 0, nil
	case "memory":
		return metadata.AllocationStrategyMinMemory, nil
	case "time":
		return metadata.AllocationStrategyMinTime, nil
	case "offset":
		return metadata.AllocationStrategyMinOffset, nil
	}
	return 0, errors.Errorf("unknown strategy %q", name)
}

func parsePageSource(name string) (memory.PageSource, error) {
	switch name {
	case "os":
		return memory.DefaultPageSource(), nil
	case "heap":
		return memory.NewHeapPageSource(), nil
	}
	return nil, errors.Errorf("unknown page source %q", name)
}

// initAllocator configures the global allocator from the flags. Only the first command to run in a
// process gets to configure it.
func initAllocator() error {
	initOnce.Do(func() {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		options := memory.CreateOptions{ChunkSize: chunkSize}
		if releaseIdle {
			options.Flags |= memory.CreateReleaseEmptyChunks
		}

		options.Strategy, initErr = parseStrategy(strategy)
		if initErr != nil {
			return
		}

		options.PageSource, initErr = parsePageSource(pageSource)
		if initErr != nil {
			return
		}

		initErr = errors.Wrap(memory.InitGlobal(logger, options), "failed to initialize allocator")
	})

	return initErr
}
