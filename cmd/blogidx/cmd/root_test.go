package cmd

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmdHelpListsSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())
	output := buf.String()
	assert.Contains(t, output, "run")
	assert.Contains(t, output, "serve")
	assert.Contains(t, output, "health")
	assert.Contains(t, output, "version")
}

func TestRootCmdUnknownCommand(t *testing.T) {
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"frobnicate"})

	assert.Error(t, cmd.Execute())
}

func TestExitErrorCarriesCode(t *testing.T) {
	cause := errors.New("boom")
	err := exitWith(ExitConfigError, cause)

	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ExitConfigError, ee.code)
	assert.ErrorIs(t, err, cause)
}

func TestExitErrorWithoutCause(t *testing.T) {
	err := exitWith(ExitPartial, nil)
	assert.Contains(t, err.Error(), "1")
}

func TestRunCmdBadConfigFile(t *testing.T) {
	t.Cleanup(func() { configPath = "blogidx.yaml" })
	configPath = t.TempDir() // a directory is not a readable config file

	cmd := newRunCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ExitConfigError, ee.code)
}
