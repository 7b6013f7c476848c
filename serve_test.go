package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akeyanjam/mbss-test/testutil"
)

// These tests exercise serve's fail-fast paths, which return before any
// listener or background loop starts.

func TestServeCommand_MissingEnvironmentsFileAborts(t *testing.T) {
	clearEnvOverrides(t)
	saveFlags(t)

	home := t.TempDir()
	cfgDir := filepath.Join(home, "config")

	// app.config.json only; the environment registry is mandatory.
	testutil.WriteConfigDir(t, cfgDir, testutil.AppConfigJSON(home), "", "")

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve", "--config", cfgDir, "--quiet"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "environments")
}

func TestServeCommand_InvalidPortFlagAborts(t *testing.T) {
	clearEnvOverrides(t)
	saveFlags(t)

	home := t.TempDir()
	cfgDir := filepath.Join(home, "config")
	testutil.WriteConfigDir(t, cfgDir, testutil.AppConfigJSON(home), "", "")

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve", "--config", cfgDir, "--port", "70000", "--quiet"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}

func TestServeCommand_UnparseableAppConfigAborts(t *testing.T) {
	clearEnvOverrides(t)
	saveFlags(t)

	home := t.TempDir()
	cfgDir := filepath.Join(home, "config")
	testutil.WriteConfigDir(t, cfgDir, `{"port": "three thousand"}`, "", "")

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve", "--config", cfgDir, "--quiet"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app.config.json")
}
