package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeWith(t, nil, args...)
}

func executeWith(t *testing.T, env map[string]string, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("RELAY_STORE_DRIVER", "memory")
	for k, v := range env {
		t.Setenv(k, v)
	}

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "relay", cmd.Use)
	assert.Contains(t, cmd.Long, "threaded replies")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"run", "console", "migrate", "templates", "translate"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "", configFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("log-format"))
}

func TestConsoleCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	sub, _, err := cmd.Find([]string{"console"})
	require.NoError(t, err)

	assert.Equal(t, "1", sub.Flags().Lookup("chat").DefValue)
	assert.Equal(t, "1", sub.Flags().Lookup("sender").DefValue)
	assert.Equal(t, "10s", sub.Flags().Lookup("drain").DefValue)
}

func TestMigrateMemoryStore(t *testing.T) {
	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "store memory ready")
}

func TestMigrateSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")
	t.Setenv("RELAY_STORE_PATH", path)

	out, err := executeWith(t, map[string]string{"RELAY_STORE_DRIVER": "sqlite"}, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "store sqlite ready")
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestTemplatesListsBuiltins(t *testing.T) {
	out, err := execute(t, "templates")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "plain (active)")
	assert.Contains(t, out, "attributed")
	assert.Contains(t, out, "builtin")
}

func TestTranslatePassthrough(t *testing.T) {
	out, err := execute(t, "translate", "BTC", "long")
	require.NoError(t, err)
	assert.Equal(t, "BTC long", strings.TrimSpace(out))
}

func TestTranslateRejectsEmptyInput(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RELAY_STORE_DRIVER", "memory")
	cmd := NewRootCommand()
	cmd.SetIn(strings.NewReader("   "))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"translate"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to translate")
}

func TestInvalidConfigFails(t *testing.T) {
	t.Setenv("RELAY_PUBLISHER_TYPE", "slack")
	_, err := execute(t, "templates")
	require.Error(t, err)
}

func TestLogLevelOverride(t *testing.T) {
	cmd := NewRootCommand()
	t.Chdir(t.TempDir())
	t.Setenv("RELAY_STORE_DRIVER", "memory")
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--log-level", "debug", "templates"})
	require.NoError(t, cmd.Execute())
}
