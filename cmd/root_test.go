// File: cmd/root_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendloop/mendloop/internal/config"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestRootCmd_VersionFlag(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"--version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.ExecuteContext(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out.String(), Version)
}

func TestCommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"heal", "test", "history", "sync", "fixtures"} {
		assert.True(t, names[want], "command %q should be registered", want)
	}
}

func TestInitializeConfig_Defaults(t *testing.T) {
	resetViper(t)
	cfgFile = ""

	require.NoError(t, initializeConfig())
	assert.Equal(t, 3, viper.GetInt("heal.max_iterations"))
	assert.Equal(t, "tests/parser_extracted.py", viper.GetString("subject.module_path"))
}

func TestInitializeConfig_EnvOverride(t *testing.T) {
	resetViper(t)
	cfgFile = ""
	t.Setenv("MENDLOOP_HEAL_MAX_ITERATIONS", "7")

	require.NoError(t, initializeConfig())
	assert.Equal(t, 7, viper.GetInt("heal.max_iterations"))
}

func TestInitializeConfig_FileOverride(t *testing.T) {
	resetViper(t)

	path := filepath.Join(t.TempDir(), "mendloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte("heal:\n  max_fixes_per_run: 9\n"), 0o644))
	cfgFile = path
	t.Cleanup(func() { cfgFile = "" })

	require.NoError(t, initializeConfig())

	loaded, err := config.NewConfigFromViper(viper.GetViper())
	require.NoError(t, err)
	assert.Equal(t, 9, loaded.Heal.MaxFixesPerRun)
	// Values the file does not set keep their defaults.
	assert.Equal(t, 3, loaded.Heal.MaxIterations)
}
