package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearAgentEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_DATABASE", "AGENT_ID", "BACKEND_SERVICE_URL", "ENV",
		"SERVER_HOST", "SERVER_PORT", "CREDS_FILE", "LEDGER_DB_PATH",
		"LOG_LEVEL", "STORAGE_PROVIDER", "STORAGE_BUCKET", "STORAGE_ACCOUNT",
		"CONFIG_TABLE_NAME", "USE_DB_CONFIG_PERSISTENCE",
		"SNOWFLAKE_HOST", "SNOWFLAKE_ACCOUNT", "SNOWFLAKE_DATABASE",
		"SNOWFLAKE_WAREHOUSE", "SNOWFLAKE_TOKEN_FILE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearAgentEnv(t)
	t.Setenv("BACKEND_SERVICE_URL", "https://backend.example.com")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "MCD_AGENT", cfg.AppDatabase)
	assert.Equal(t, "snowflake", cfg.AgentID)
	assert.Equal(t, "0.0.0.0:8081", cfg.ListenAddr())
	assert.Equal(t, "/usr/local/creds/secret_string", cfg.CredsFile)
	assert.Equal(t, "stage", cfg.StorageProvider)
	assert.Equal(t, "MCD_AGENT.CONFIG.APP_CONFIG", cfg.ConfigTable)
	assert.Equal(t, "MCD_AGENT", cfg.Snowflake.Database)
	assert.Equal(t, "mcd_agent_wh", cfg.Snowflake.Warehouse)
	assert.Equal(t, "/snowflake/session/token", cfg.Snowflake.TokenFile)
	assert.True(t, cfg.UseDBConfig)
	assert.False(t, cfg.IsLocal())
}

func TestLoadFromEnv_TrimsBackendSlash(t *testing.T) {
	clearAgentEnv(t)
	t.Setenv("BACKEND_SERVICE_URL", "https://backend.example.com/")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "https://backend.example.com", cfg.BackendURL)
}

func TestLoadFromEnv_BackendRequiredOutsideLocal(t *testing.T) {
	clearAgentEnv(t)

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BACKEND_SERVICE_URL")
}

func TestLoadFromEnv_LocalWithoutBackend(t *testing.T) {
	clearAgentEnv(t)
	t.Setenv("ENV", "local")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.IsLocal())
	assert.False(t, cfg.UseDBConfig)
	assert.NotEmpty(t, cfg.Warnings)
}

func TestLoadFromEnv_DerivedNamesFollowDatabase(t *testing.T) {
	clearAgentEnv(t)
	t.Setenv("BACKEND_SERVICE_URL", "https://backend.example.com")
	t.Setenv("APP_DATABASE", "ACME_AGENT")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "ACME_AGENT.CONFIG.APP_CONFIG", cfg.ConfigTable)
	assert.Equal(t, "ACME_AGENT", cfg.Snowflake.Database)
	assert.Equal(t, "acme_agent_wh", cfg.Snowflake.Warehouse)
}

func TestLoadFromEnv_InvalidStorageProvider(t *testing.T) {
	clearAgentEnv(t)
	t.Setenv("BACKEND_SERVICE_URL", "https://backend.example.com")
	t.Setenv("STORAGE_PROVIDER", "ftp")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORAGE_PROVIDER")
}

func TestLoadFromEnv_S3RequiresBucket(t *testing.T) {
	clearAgentEnv(t)
	t.Setenv("BACKEND_SERVICE_URL", "https://backend.example.com")
	t.Setenv("STORAGE_PROVIDER", "s3")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORAGE_BUCKET")
}

func TestLoadFromEnv_InvalidPort(t *testing.T) {
	clearAgentEnv(t)
	t.Setenv("BACKEND_SERVICE_URL", "https://backend.example.com")
	t.Setenv("SERVER_PORT", "eighty")

	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestDeriveNames(t *testing.T) {
	names := DeriveNames("MCD_AGENT")

	assert.Equal(t, "mcd_agent_compute_pool", names.ComputePool)
	assert.Equal(t, "mcd_agent_wh", names.Warehouse)
	assert.Equal(t, "mcd_agent_service", names.Service)
	assert.Equal(t, "MCD_AGENT_HELPER.MCD_AGENT.MCD_AGENT_EXECUTE_QUERY", names.HelperProcedure)
	assert.Equal(t, "mcd_agent.core.mcd_agent_token", names.TokenSecret)
	assert.Equal(t, "mcd_agent.core.data_store", names.Stage)
	assert.Equal(t, "MCD_AGENT.CONFIG.APP_CONFIG", names.ConfigTable)
	assert.Equal(t, "mcd_agent.core", names.CallbackSchema)
	assert.Equal(t, "mcd_agent.core.agent_repository", names.ImageRepository)
	assert.Equal(t, "mcd_agent_access_integration", names.EAIName)
}

func TestLoadDotEnv_FileNotFound(t *testing.T) {
	err := LoadDotEnv("/nonexistent/.env")
	if err != nil {
		t.Errorf("expected no error for missing .env, got: %v", err)
	}
}

func TestLoadDotEnv_ParsesKeyValue(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	err := os.WriteFile(envFile, []byte("TEST_KEY=test_value\n"), 0644)
	if err != nil {
		t.Fatalf("write .env: %v", err)
	}

	if err := LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if val := os.Getenv("TEST_KEY"); val != "test_value" {
		t.Errorf("TEST_KEY = %q, want %q", val, "test_value")
	}
	_ = os.Unsetenv("TEST_KEY")
}

func TestLoadDotEnv_SkipsComments(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	err := os.WriteFile(envFile, []byte("# comment\nTEST_COMMENT_KEY=value\n"), 0644)
	if err != nil {
		t.Fatalf("write .env: %v", err)
	}

	if err := LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if val := os.Getenv("TEST_COMMENT_KEY"); val != "value" {
		t.Errorf("TEST_COMMENT_KEY = %q, want %q", val, "value")
	}
	_ = os.Unsetenv("TEST_COMMENT_KEY")
}

func TestLoadDotEnv_EnvVarPrecedence(t *testing.T) {
	t.Setenv("TEST_PRECEDENCE_KEY", "from_env")

	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	err := os.WriteFile(envFile, []byte("TEST_PRECEDENCE_KEY=from_file\n"), 0644)
	if err != nil {
		t.Fatalf("write .env: %v", err)
	}

	if err := LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if val := os.Getenv("TEST_PRECEDENCE_KEY"); val != "from_env" {
		t.Errorf("TEST_PRECEDENCE_KEY = %q, want %q (env precedence)", val, "from_env")
	}
}
