package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandWiring(t *testing.T) {
	want := []string{"auth", "request", "batch", "services", "serve", "version"}
	for _, name := range want {
		found := false
		for _, sub := range rootCmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		assert.True(t, found, "missing subcommand %q", name)
	}
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3")

	var out bytes.Buffer
	cmd := newVersionCmd()
	cmd.SetOut(&out)
	cmd.Run(cmd, nil)

	assert.Equal(t, "workspace-cli version 1.2.3\n", out.String())
}

func TestReadBodyArg(t *testing.T) {
	payload, err := readBodyArg(`{"a":1}`, "", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(payload))

	payload, err = readBodyArg("", "-", strings.NewReader(`{"b":2}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":2}`, string(payload))

	payload, err = readBodyArg("", "", nil)
	require.NoError(t, err)
	assert.Nil(t, payload)

	_, err = readBodyArg(`{"a":1}`, "file.json", nil)
	assert.Error(t, err, "body and body-file are mutually exclusive")

	_, err = readBodyArg(`{nope`, "", nil)
	assert.Error(t, err)
}

func TestReadBatchFile(t *testing.T) {
	reqs, err := readBatchFile("-", strings.NewReader(`[
		{"id": "a", "method": "GET", "path": "/users/me/messages/x"},
		{"id": "b", "method": "POST", "path": "/users/me/messages/send", "body": {"raw": "abc"}}
	]`))
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "a", reqs[0].ID)
	assert.JSONEq(t, `{"raw":"abc"}`, string(reqs[1].Body))

	_, err = readBatchFile("-", strings.NewReader(`[]`))
	assert.Error(t, err, "empty array is rejected")

	_, err = readBatchFile("-", strings.NewReader(`{"not":"an array"}`))
	assert.Error(t, err)
}

func TestPrintJSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printJSON(&out, []byte(`{"a":{"b":1}}`)))
	assert.Equal(t, "{\n  \"a\": {\n    \"b\": 1\n  }\n}\n", out.String())

	out.Reset()
	require.NoError(t, printJSON(&out, nil))
	assert.Empty(t, out.String())

	out.Reset()
	require.NoError(t, printJSON(&out, []byte("plain text")))
	assert.Equal(t, "plain text", out.String())
}
