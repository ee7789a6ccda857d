package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretRotateRewritesSecretAndRestarts(t *testing.T) {
	gw := &fakeGateway{}
	rootCmd := newTestRootCmd(t, gw)
	rootCmd.SetArgs([]string{"secret", "rotate", "--key-id", "AK1", "--key-secret", "shh"})

	restore := captureStdout(t)
	err := rootCmd.Execute()
	out := restore()
	require.NoError(t, err)

	stmts := gw.recorded()
	require.Len(t, stmts, 3)
	assert.Equal(t, "ALTER SECRET mcd_agent.core.mcd_agent_token SET SECRET_STRING = ?", stmts[0])
	assert.Contains(t, stmts[1], "SUSPEND")
	assert.Contains(t, stmts[2], "RESUME")

	binds := gw.recordedBinds()
	require.NotEmpty(t, binds[0])
	assert.JSONEq(t, `{"mcd_id":"AK1","mcd_token":"shh"}`, binds[0][0].(string))

	assert.Contains(t, out, "Secret mcd_agent.core.mcd_agent_token rotated")
}

func TestSecretRotateJSONOutput(t *testing.T) {
	gw := &fakeGateway{}
	rootCmd := newTestRootCmd(t, gw)
	rootCmd.SetArgs([]string{"-o", "json", "secret", "rotate", "--key-id", "AK1", "--key-secret", "shh"})

	restore := captureStdout(t)
	err := rootCmd.Execute()
	out := restore()
	require.NoError(t, err)

	var doc map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "rotated", doc["status"])
	assert.Equal(t, "AK1", doc["key_id"])
	assert.Equal(t, "mcd_agent.core.mcd_agent_token", doc["secret"])
}
