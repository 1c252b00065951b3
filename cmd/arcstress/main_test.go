package main

import (
	"bytes"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/elysium/memory"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--pages", "heap", "--chunk-size", "65536"}, args...))
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return out.String(), err
}

func TestStressCommand(t *testing.T) {
	output, err := runCommand(t, "stress", "--workers", "4", "--iterations", "200", "--length", "7")
	require.NoError(t, err)
	require.Contains(t, output, "Workers:    4")
	require.Contains(t, output, "Hits:       800")
	require.Zero(t, memory.Global().LiveBlockCount())
}

func TestStressCommandJson(t *testing.T) {
	output, err := runCommand(t, "stress", "--workers", "2", "--iterations", "50", "--json")
	require.NoError(t, err)

	var stats map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &stats))
	require.Contains(t, stats, "Total")

	stressJSON = false
}

func TestStatsCommand(t *testing.T) {
	output, err := runCommand(t, "stats", "--blocks", "64", "--max-items", "9000")
	require.NoError(t, err)

	var stats map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &stats))
	require.Zero(t, memory.Global().LiveBlockCount())
}

func TestStressRejectsBadFlags(t *testing.T) {
	_, err := runCommand(t, "stress", "--workers", "0")
	require.Error(t, err)

	stressWorkers = 8
}

func TestParseOptions(t *testing.T) {
	for _, name := range []string{"balanced", "memory", "time", "offset"} {
		_, err := parseStrategy(name)
		require.NoError(t, err, name)
	}
	_, err := parseStrategy("fastest")
	require.Error(t, err)

	source, err := parsePageSource("heap")
	require.NoError(t, err)
	require.IsType(t, &memory.HeapPageSource{}, source)
	_, err = parsePageSource("disk")
	require.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	output, err := runCommand(t, "version")
	require.NoError(t, err)
	require.Contains(t, output, "arcstress dev")
}

func TestSharedRecordHoldsPlainWords(t *testing.T) {
	// Records are moved into blocks by value, so no field may carry copy-sensitive state
	recordType := reflect.TypeOf(sharedRecord{})
	for i := 0; i < recordType.NumField(); i++ {
		field := recordType.Field(i)
		require.Equalf(t, reflect.Uint64, field.Type.Kind(), "field %s", field.Name)
	}
}
