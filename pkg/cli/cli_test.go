package cli

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"

	"snowbridge/internal/snowflake"
)

// fakeGateway records every statement and answers from scripted functions.
type fakeGateway struct {
	mu         sync.Mutex
	statements []string
	binds      [][]interface{}

	queryFn  func(statement string, binds ...interface{}) ([][]interface{}, error)
	helperFn func(query string, timeoutSecs int) (*snowflake.ResultSet, error)
}

func (f *fakeGateway) Query(_ context.Context, statement string, binds ...interface{}) ([][]interface{}, error) {
	f.mu.Lock()
	f.statements = append(f.statements, statement)
	f.binds = append(f.binds, binds)
	f.mu.Unlock()
	if f.queryFn == nil {
		return nil, nil
	}
	return f.queryFn(statement, binds...)
}

func (f *fakeGateway) ExecuteHelperQuery(_ context.Context, query string, timeoutSecs int) (*snowflake.ResultSet, error) {
	if f.helperFn == nil {
		panic("unexpected helper query: " + query)
	}
	return f.helperFn(query, timeoutSecs)
}

func (f *fakeGateway) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.statements))
	copy(out, f.statements)
	return out
}

func (f *fakeGateway) recordedBinds() [][]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]interface{}, len(f.binds))
	copy(out, f.binds)
	return out
}

// newTestRootCmd creates a fresh root command wired to the fake gateway.
// HOME is isolated so no real profile or state database is touched.
func newTestRootCmd(t *testing.T, gw statementGateway) *cobra.Command {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	return newRootCmdWithGateway(gw)
}

// captureStdout redirects os.Stdout to a pipe and returns a function
// that restores stdout and returns the captured output.
// Uses a goroutine to read concurrently, avoiding pipe buffer deadlocks.
func captureStdout(t *testing.T) func() string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w

	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		_, _ = buf.ReadFrom(r)
		close(done)
	}()

	return func() string {
		_ = w.Close()
		<-done
		os.Stdout = old
		return buf.String()
	}
}

func TestCommandTree(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	rootCmd := newRootCmd()
	cmdNames := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		cmdNames[cmd.Name()] = true
	}

	expected := []string{
		"app", "reference", "secret", "config", "agent", "query",
		"profile", "version", "completion",
	}
	for _, name := range expected {
		assert.True(t, cmdNames[name], "expected command %q on root", name)
	}
}

func TestAppSubcommandTree(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	rootCmd := newRootCmd()
	var appCmd *cobra.Command
	for _, cmd := range rootCmd.Commands() {
		if cmd.Name() == "app" {
			appCmd = cmd
			break
		}
	}
	if appCmd == nil {
		t.Fatal("app command not found")
	}

	subNames := make(map[string]bool)
	for _, cmd := range appCmd.Commands() {
		subNames[cmd.Name()] = true
	}
	for _, name := range []string{"start", "suspend", "resume", "restart", "status", "logs"} {
		assert.True(t, subNames[name], "expected subcommand %q under app", name)
	}
}

func TestInvalidOutputFormat(t *testing.T) {
	rootCmd := newTestRootCmd(t, &fakeGateway{})
	rootCmd.SetArgs([]string{"-o", "xml", "version"})

	err := rootCmd.Execute()
	assert.ErrorContains(t, err, "unsupported output format")
}

func TestUnknownCommand(t *testing.T) {
	rootCmd := newTestRootCmd(t, &fakeGateway{})
	rootCmd.SetArgs([]string{"nonexistent"})

	err := rootCmd.Execute()
	assert.ErrorContains(t, err, "unknown command")
}
