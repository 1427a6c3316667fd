package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/geoshare/internal/server"
)

func newFlagCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	addServeFlags(cmd)
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "")
	cmd.Flags().StringVar(&logFile, "log-file", "console", "")
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestApplyFlags_OnlyChangedFlagsOverride(t *testing.T) {
	cfg := server.NewConfig()
	cfg.Port = ":4000"
	cfg.Log.Level = "warn"

	applyFlags(newFlagCommand(t, "--port", ":5000"), cfg)

	assert.Equal(t, ":5000", cfg.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestApplyFlags_LogFlags(t *testing.T) {
	cfg := server.NewConfig()

	applyFlags(newFlagCommand(t, "--log-level", "debug", "--log-file", "/tmp/geoshare.log"), cfg)

	assert.Equal(t, ":3000", cfg.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/geoshare.log", cfg.Log.File)
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["simulate"])
	assert.NotNil(t, rootCmd.Flags().Lookup("port"), "serve flags are accepted by the root command")
}
