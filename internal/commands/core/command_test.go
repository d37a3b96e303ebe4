package core

import (
	"bytes"
	"context"
	"testing"

	"github.com/mitchellh/cli"
	"github.com/stretchr/testify/require"
)

func testCmd() *Command {
	return &Command{UI: cli.NewMockUi(), ctx: context.Background()}
}

func TestCoreCommandSynopsisAndHelp(t *testing.T) {
	c := testCmd()
	require.Equal(t, "Runs the client device authentication core service", c.Synopsis())
	require.Contains(t, c.Help(), "CONFIG-FILE")
}

func TestCoreCommandRejectsUnknownFlag(t *testing.T) {
	c := testCmd()
	var buffer bytes.Buffer
	c.output = &buffer
	require.Equal(t, 1, c.Run([]string{"-not-a-flag"}))
	require.Contains(t, buffer.String(), "flag provided but not defined: -not-a-flag")
}

func TestCoreCommandRequiresAllThreeArguments(t *testing.T) {
	c := testCmd()
	var buffer bytes.Buffer
	c.output = &buffer
	require.Equal(t, 1, c.Run([]string{"config.json"}))
}

func TestCoreCommandRequiresCollaboratorsToBeSet(t *testing.T) {
	c := testCmd()
	var buffer bytes.Buffer
	c.output = &buffer
	require.Equal(t, 1, c.Run([]string{"config.json", "policy.json", t.TempDir()}))
}
