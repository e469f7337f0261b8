package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"lookup", "sweep", "cache", "budget", "runs", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "school-intel", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestLookupCommand_Flags(t *testing.T) {
	for _, name := range []string{"source-url", "urn", "area", "format", "output", "force"} {
		assert.NotNil(t, lookupCmd.Flags().Lookup(name), "lookup should have --%s", name)
	}
}

func TestSweepCommand_Flags(t *testing.T) {
	cat := sweepCmd.Flags().Lookup("category")
	require.NotNil(t, cat)
	assert.Equal(t, "all", cat.DefValue)

	timeout := sweepCmd.Flags().Lookup("timeout")
	require.NotNil(t, timeout)
	assert.Equal(t, "0s", timeout.DefValue)

	for _, name := range []string{"format", "output", "directory", "concurrency", "limit", "force"} {
		assert.NotNil(t, sweepCmd.Flags().Lookup(name), "sweep should have --%s", name)
	}
}

func TestCacheCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range cacheCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["stats"])
	assert.True(t, names["clear"])
	assert.NotNil(t, cacheClearCmd.Flags().Lookup("expired"))
}

func TestBudgetCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range budgetCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["status"])
	assert.True(t, names["reset"])
}

func TestRunsCommand_Flags(t *testing.T) {
	flag := runsCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}
