package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Dynamic configuration keys. Values are stored as strings and parsed on read.
const (
	KeyUseConnectionPool  = "USE_CONNECTION_POOL"
	KeyConnectionPoolSize = "CONNECTION_POOL_SIZE"
	KeyQueryWorkers       = "QUERIES_RUNNER_THREAD_COUNT"
	KeyOperationWorkers   = "OPS_RUNNER_THREAD_COUNT"
	KeyPublisherWorkers   = "PUBLISHER_THREAD_COUNT"
	KeyUseSyncQueries     = "USE_SYNC_QUERIES"
	KeyStageName          = "STAGE_NAME"
	KeyPresignedURLExpiry = "PRE_SIGNED_URL_RESPONSE_EXPIRATION_SECONDS"
)

// Defaults applied when a key is absent from the store.
const (
	DefaultConnectionPoolSize        = 3
	DefaultQueryWorkers              = 3
	DefaultOperationWorkers          = 2
	DefaultPublisherWorkers          = 2
	DefaultPresignedURLExpirySeconds = 3600
)

// Store persists dynamic configuration. Load returns the full key set; Set
// upserts a single key.
type Store interface {
	Load(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
}

// Querier runs one statement against the host account and returns its rows.
// Declared here so the store does not depend on the warehouse client.
type Querier interface {
	Query(ctx context.Context, statement string, binds ...interface{}) ([][]interface{}, error)
}

// DBStore persists configuration in an app-owned table so values survive
// service restarts and apply to every node.
type DBStore struct {
	querier Querier
	table   string
}

// NewDBStore creates a store backed by the given configuration table.
func NewDBStore(querier Querier, table string) *DBStore {
	return &DBStore{querier: querier, table: table}
}

func (s *DBStore) Load(ctx context.Context) (map[string]string, error) {
	rows, err := s.querier.Query(ctx, fmt.Sprintf("SELECT KEY, VALUE FROM %s", s.table))
	if err != nil {
		return nil, fmt.Errorf("load config from %s: %w", s.table, err)
	}
	values := make(map[string]string, len(rows))
	for _, row := range rows {
		if len(row) < 2 || row[0] == nil {
			continue
		}
		values[asString(row[0])] = asString(row[1])
	}
	return values, nil
}

func (s *DBStore) Set(ctx context.Context, key, value string) error {
	statement := fmt.Sprintf(
		"MERGE INTO %s AS t USING (SELECT ? AS KEY, ? AS VALUE) AS s ON t.KEY = s.KEY "+
			"WHEN MATCHED THEN UPDATE SET t.VALUE = s.VALUE "+
			"WHEN NOT MATCHED THEN INSERT (KEY, VALUE) VALUES (s.KEY, s.VALUE)",
		s.table)
	if _, err := s.querier.Query(ctx, statement, key, value); err != nil {
		return fmt.Errorf("persist config %s: %w", key, err)
	}
	return nil
}

func asString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// EnvPrefix namespaces dynamic keys when read from the process environment.
const EnvPrefix = "SNA_"

// EnvStore reads configuration from SNA_-prefixed environment variables.
// Writes only affect the current process.
type EnvStore struct{}

// NewEnvStore creates an environment-backed store for local runs.
func NewEnvStore() *EnvStore { return &EnvStore{} }

func (s *EnvStore) Load(context.Context) (map[string]string, error) {
	values := make(map[string]string)
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		values[strings.TrimPrefix(key, EnvPrefix)] = value
	}
	return values, nil
}

func (s *EnvStore) Set(_ context.Context, key, value string) error {
	return os.Setenv(EnvPrefix+key, value)
}

// MemoryStore is an in-memory store for tests.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryStore creates a store seeded with the given values.
func NewMemoryStore(initial map[string]string) *MemoryStore {
	values := make(map[string]string, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &MemoryStore{values: values}
}

func (s *MemoryStore) Load(context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Manager caches dynamic configuration and exposes typed accessors. Refresh
// swaps the whole cache; readers never block on the store.
type Manager struct {
	store Store
	names Names

	mu     sync.RWMutex
	values map[string]string
}

// NewManager creates a manager over the given store. Call Refresh before
// first use; until then every accessor returns its default.
func NewManager(store Store, names Names) *Manager {
	return &Manager{store: store, names: names, values: map[string]string{}}
}

// Refresh reloads the full key set from the store.
func (m *Manager) Refresh(ctx context.Context) error {
	values, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.values = values
	m.mu.Unlock()
	return nil
}

// Set persists a key and updates the cache on success.
func (m *Manager) Set(ctx context.Context, key, value string) error {
	if err := m.store.Set(ctx, key, value); err != nil {
		return err
	}
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the cached values.
func (m *Manager) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

func (m *Manager) lookup(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

// String returns the value for key, or def when absent.
func (m *Manager) String(key, def string) string {
	if v, ok := m.lookup(key); ok && v != "" {
		return v
	}
	return def
}

// Bool returns the parsed boolean for key, or def when absent or unparsable.
func (m *Manager) Bool(key string, def bool) bool {
	v, ok := m.lookup(key)
	if !ok {
		return def
	}
	switch strings.TrimSpace(strings.ToLower(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

// Int returns the parsed integer for key, or def when absent or unparsable.
func (m *Manager) Int(key string, def int) int {
	v, ok := m.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// UseConnectionPool reports whether warehouse sessions are pooled.
func (m *Manager) UseConnectionPool() bool { return m.Bool(KeyUseConnectionPool, true) }

// ConnectionPoolSize is the warehouse session pool size.
func (m *Manager) ConnectionPoolSize() int {
	return m.positive(KeyConnectionPoolSize, DefaultConnectionPoolSize)
}

// QueryWorkers is the query execution concurrency.
func (m *Manager) QueryWorkers() int { return m.positive(KeyQueryWorkers, DefaultQueryWorkers) }

// OperationWorkers is the inbound event processing concurrency.
func (m *Manager) OperationWorkers() int {
	return m.positive(KeyOperationWorkers, DefaultOperationWorkers)
}

// PublisherWorkers is the result push concurrency.
func (m *Manager) PublisherWorkers() int {
	return m.positive(KeyPublisherWorkers, DefaultPublisherWorkers)
}

// UseSyncQueries disables the async dispatch block and runs queries inline.
func (m *Manager) UseSyncQueries() bool { return m.Bool(KeyUseSyncQueries, false) }

// StageName is the stage used for result offload.
func (m *Manager) StageName() string { return m.String(KeyStageName, m.names.Stage) }

// PresignedURLExpirySeconds is the lifetime of offloaded result URLs.
func (m *Manager) PresignedURLExpirySeconds() int {
	return m.positive(KeyPresignedURLExpiry, DefaultPresignedURLExpirySeconds)
}

func (m *Manager) positive(key string, def int) int {
	if n := m.Int(key, def); n > 0 {
		return n
	}
	return def
}
