package main

import (
	"bytes"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindAvailablePortSkipsBusyPort(t *testing.T) {
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer l.Close()

	busy := l.Addr().(*net.TCPAddr).Port
	port, err := findAvailablePort(busy, 5)
	require.NoError(t, err)
	assert.NotEqual(t, busy, port)
	assert.Greater(t, port, busy)
}

func TestFindAvailablePortGivesUp(t *testing.T) {
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer l.Close()

	busy := l.Addr().(*net.TCPAddr).Port
	_, err = findAvailablePort(busy, 1)
	assert.Error(t, err)
}

func TestPredictCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{
		"predict",
		"--artifacts-dir", "modeling_files",
		"--blurb", "Great board game",
		"--backers", "100",
		"--goal", "5000",
	})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "Your campaign will likely: Succeed!", strings.TrimSpace(out.String()))
}
