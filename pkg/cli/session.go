package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"snowbridge/internal/config"
	"snowbridge/internal/db"
	"snowbridge/internal/db/repository"
	"snowbridge/internal/lifecycle"
	"snowbridge/internal/snowflake"
)

// statementGateway is the slice of the warehouse gateway the CLI drives.
// Tests substitute a fake; the real implementation is snowflake.Gateway.
type statementGateway interface {
	Query(ctx context.Context, statement string, binds ...interface{}) ([][]interface{}, error)
	ExecuteHelperQuery(ctx context.Context, query string, timeoutSecs int) (*snowflake.ResultSet, error)
}

var _ statementGateway = (*snowflake.Gateway)(nil)

// session carries the settings resolved from flags, environment, and the
// active profile, plus the lazily built collaborators every subcommand
// shares. One session lives for one command invocation.
type session struct {
	profile Profile
	output  string
	log     *slog.Logger

	gw      statementGateway
	ctl     *lifecycle.Controller
	stateDB *sql.DB
}

// gateway returns the statement gateway, building it from the resolved
// profile on first use.
func (s *session) gateway() (statementGateway, error) {
	if s.gw != nil {
		return s.gw, nil
	}
	if s.profile.Account == "" && s.profile.Host == "" {
		return nil, fmt.Errorf("no account configured: pass --account, set SNOWBRIDGE_ACCOUNT, or run 'snowbridge profile set'")
	}
	tokens, err := snowflake.NewKeyPairProvider(
		s.profile.Account, s.profile.User, s.profile.PrivateKeyPath, s.profile.PrivateKeyPassphrase)
	if err != nil {
		return nil, err
	}
	client, err := snowflake.NewClient(snowflake.Options{
		Host:      s.profile.Host,
		Account:   s.profile.Account,
		Database:  s.profile.Database,
		Warehouse: s.profile.Warehouse,
		Role:      s.profile.Role,
	}, tokens, nil, s.log)
	if err != nil {
		return nil, err
	}
	s.gw = snowflake.NewGateway(client, s.names(), s.log)
	return s.gw, nil
}

// names derives the deployed object names from the configured app database.
func (s *session) names() config.Names {
	return config.DeriveNames(s.profile.Database)
}

// deployConfig assembles the deployment settings the lifecycle controller
// renders into the service specification. Values mirror the agent's own
// defaults so a CLI-created service matches one created by the installer.
func (s *session) deployConfig() *config.Config {
	return &config.Config{
		AppDatabase:     s.profile.Database,
		AgentID:         "snowflake",
		BackendURL:      s.profile.BackendURL,
		EventsTransport: "sse",
		StorageProvider: config.StorageProviderStage,
		StageMountPath:  "/stage",
		ListenPort:      8081,
		LogLevel:        "info",
	}
}

// controller returns the lifecycle controller, opening the local state
// database that journals interrupted restarts. Callers that use it should
// defer s.close().
func (s *session) controller() (*lifecycle.Controller, error) {
	if s.ctl != nil {
		return s.ctl, nil
	}
	gw, err := s.gateway()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(ConfigDir(), 0o700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	stateDB, err := db.Open(StateDBPath())
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if err := db.Migrate(stateDB); err != nil {
		_ = stateDB.Close()
		return nil, fmt.Errorf("migrate state db: %w", err)
	}
	s.stateDB = stateDB
	s.ctl = lifecycle.NewController(gw, repository.NewIntentRepo(stateDB), s.deployConfig(), s.log)
	return s.ctl, nil
}

// dynamicStore returns the store for the deployed app's dynamic
// configuration table.
func (s *session) dynamicStore() (config.Store, error) {
	gw, err := s.gateway()
	if err != nil {
		return nil, err
	}
	return config.NewDBStore(gw, s.names().ConfigTable), nil
}

func (s *session) close() {
	if s.stateDB != nil {
		_ = s.stateDB.Close()
		s.stateDB = nil
	}
}
