package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("QUORUMLOCK_BACKEND", "memory")
	t.Setenv("QUORUMLOCK_ADDRS", "m1:1,m2:1,m3:1")
	t.Setenv("QUORUMLOCK_LOG_LEVEL", "error")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCheck(t *testing.T) {
	out, err := run(t, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "NODE")
	assert.Contains(t, out, "m1:1")
	assert.Equal(t, 3, bytes.Count([]byte(out), []byte(" ok\n")))
}

func TestAcquire(t *testing.T) {
	out, err := run(t, "acquire", "--resource", "orders", "--ttl", "5s", "--hold=false")
	require.NoError(t, err)

	var h handleOutput
	require.NoError(t, json.Unmarshal([]byte(out), &h))
	assert.Equal(t, "orders", h.Resource)
	assert.Len(t, h.Token, 32)
	assert.NotEmpty(t, h.Validity)
}

func TestAcquire_MissingResource(t *testing.T) {
	lockResource = ""
	_, err := run(t, "acquire", "--ttl", "5s")
	assert.Error(t, err)
}

func TestRelease_InvalidToken(t *testing.T) {
	_, err := run(t, "release", "--resource", "orders", "--token", "nope")
	assert.ErrorContains(t, err, "invalid handle")
}

func TestExec(t *testing.T) {
	_, err := run(t, "exec", "--resource", "orders", "--ttl", "5s", "--", "true")
	require.NoError(t, err)

	_, err = run(t, "exec", "--resource", "orders", "--ttl", "5s", "--", "sh", "-c", "exit 3")
	require.Error(t, err)
	assert.Equal(t, 3, exitCode(err))
}
