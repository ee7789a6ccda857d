package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppStartConvergesResources(t *testing.T) {
	gw := &fakeGateway{}
	rootCmd := newTestRootCmd(t, gw)
	rootCmd.SetArgs([]string{"app", "start", "--min-nodes", "2", "--max-nodes", "4", "--wh-size", "SMALL"})

	restore := captureStdout(t)
	err := rootCmd.Execute()
	out := restore()
	require.NoError(t, err)

	joined := strings.Join(gw.recorded(), "\n")
	assert.Contains(t, joined, "CREATE COMPUTE POOL IF NOT EXISTS mcd_agent_compute_pool")
	assert.Contains(t, joined, "MIN_NODES = 2")
	assert.Contains(t, joined, "MAX_NODES = 4")
	assert.Contains(t, joined, "CREATE WAREHOUSE IF NOT EXISTS mcd_agent_wh")
	assert.Contains(t, joined, "WAREHOUSE_SIZE = SMALL")
	assert.Contains(t, joined, "CREATE SERVICE IF NOT EXISTS mcd_agent_service")
	assert.Contains(t, joined, "ALTER SERVICE IF EXISTS mcd_agent_service RESUME")
	assert.Contains(t, out, "mcd_agent_service started")
}

func TestAppSuspendAndResume(t *testing.T) {
	gw := &fakeGateway{}
	rootCmd := newTestRootCmd(t, gw)
	rootCmd.SetArgs([]string{"app", "suspend"})

	restore := captureStdout(t)
	err := rootCmd.Execute()
	out := restore()
	require.NoError(t, err)

	require.Len(t, gw.recorded(), 1)
	assert.Equal(t, "ALTER SERVICE IF EXISTS mcd_agent_service SUSPEND", gw.recorded()[0])
	assert.Contains(t, out, "suspended")

	rootCmd.SetArgs([]string{"app", "resume"})
	restore = captureStdout(t)
	err = rootCmd.Execute()
	out = restore()
	require.NoError(t, err)

	assert.Equal(t, "ALTER SERVICE IF EXISTS mcd_agent_service RESUME", gw.recorded()[1])
	assert.Contains(t, out, "resumed")
}

func TestAppRestartSuspendsThenResumes(t *testing.T) {
	gw := &fakeGateway{}
	rootCmd := newTestRootCmd(t, gw)
	rootCmd.SetArgs([]string{"app", "restart"})

	restore := captureStdout(t)
	err := rootCmd.Execute()
	out := restore()
	require.NoError(t, err)

	stmts := gw.recorded()
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "SUSPEND")
	assert.Contains(t, stmts[1], "RESUME")
	assert.Contains(t, out, "restarted")
}

func TestAppStatusParsesPlatformReport(t *testing.T) {
	report := `[{"status":"READY","message":"Running","containerName":"agent","instanceId":"0","restartCount":2,"startTime":"2026-02-01T00:00:00Z"}]`
	gw := &fakeGateway{queryFn: func(statement string, _ ...interface{}) ([][]interface{}, error) {
		require.Contains(t, statement, "SYSTEM$GET_SERVICE_STATUS('mcd_agent_service')")
		return [][]interface{}{{report}}, nil
	}}
	rootCmd := newTestRootCmd(t, gw)
	rootCmd.SetArgs([]string{"-o", "json", "app", "status"})

	restore := captureStdout(t)
	err := rootCmd.Execute()
	out := restore()
	require.NoError(t, err)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "READY", status["status"])
	assert.Equal(t, float64(2), status["restart_count"])
	assert.Equal(t, "agent", status["container_name"])
}

func TestAppLogsDropsProbeLines(t *testing.T) {
	raw := "[2026-02-01T10:00:00Z] agent started\n" +
		`10.0.0.1 GET /healthcheck 200` + "\n" +
		"[2026-02-01T10:00:05Z] stream connected"
	gw := &fakeGateway{queryFn: func(statement string, _ ...interface{}) ([][]interface{}, error) {
		require.Contains(t, statement, "SYSTEM$GET_SERVICE_LOGS('mcd_agent_service', '0', 'agent', 50)")
		return [][]interface{}{{raw}}, nil
	}}
	rootCmd := newTestRootCmd(t, gw)
	rootCmd.SetArgs([]string{"app", "logs", "--limit", "50"})

	restore := captureStdout(t)
	err := rootCmd.Execute()
	out := restore()
	require.NoError(t, err)

	assert.Contains(t, out, "agent started")
	assert.Contains(t, out, "stream connected")
	assert.NotContains(t, out, "/healthcheck")
}
