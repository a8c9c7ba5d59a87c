package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	initFile = "testdata/init.yaml"

	aliceDeposit  = `{"to":{"owner":"alice","subaccount":""},"utxos":[{"txid":"aa","vout":0,"value":50000,"height":10}]}`
	bobDeposit    = `{"to":{"owner":"bob","subaccount":"savings"},"utxos":[{"txid":"bb","vout":0,"value":1000,"height":11}]}`
	aliceRetrieve = `{"block_index":1,"amount":20000,"address":"bcrt1qxyz","from":{"owner":"alice","subaccount":""}}`
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// executeJSON runs args with --format json and decodes the response.
func executeJSON(t *testing.T, args ...string) (CLIResponse, error) {
	t.Helper()
	out, err := execute(t, append(args, "--format", "json")...)
	var resp CLIResponse
	if out != "" {
		require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	}
	return resp, err
}

// data re-decodes a response payload into v.
func data(t *testing.T, resp CLIResponse, v any) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

// installed returns a database with the minter installed and alice funded.
func installed(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "minter.db")
	_, err := execute(t, "install", "--db", db, "--init", initFile)
	require.NoError(t, err)
	_, err = execute(t, "append", "--db", db, "received_utxos", aliceDeposit)
	require.NoError(t, err)
	return db
}

func status(t *testing.T, db string) StatusResult {
	t.Helper()
	resp, err := executeJSON(t, "status", "--db", db)
	require.NoError(t, err)
	var s StatusResult
	data(t, resp, &s)
	return s
}
