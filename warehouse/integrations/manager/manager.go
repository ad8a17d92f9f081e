// Package manager opens warehouse sessions for configured connections.
package manager

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/datacampus/dcx/settings"
	"github.com/datacampus/dcx/warehouse/integrations/duckdb"
	sqlmw "github.com/datacampus/dcx/warehouse/integrations/middleware/sqlquerywrapper"
	"github.com/datacampus/dcx/warehouse/integrations/postgres"
	"github.com/datacampus/dcx/warehouse/integrations/snowflake"
	"github.com/datacampus/dcx/warehouse/integrations/types"
	"github.com/datacampus/dcx/warehouse/logfield"
)

var secretsRegex = map[string]string{
	`(?i)(password\s*=\s*)'[^']*'`: "$1'***'",
}

// Session is an open connection to one warehouse.
type Session struct {
	Name    string
	Type    string
	DB      *sqlmw.DB
	Dialect types.Dialect
	// User is the configured user name, empty for warehouses without one.
	User string
}

func (s *Session) Close() error {
	return s.DB.Close()
}

// Ping runs a trivial query to prove the session works.
func (s *Session) Ping(ctx context.Context) error {
	var one int
	if err := s.DB.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("testing connection %s: %w", s.Name, err)
	}
	return nil
}

type Manager struct {
	conf         *config.Config
	log          logger.Logger
	statsFactory stats.Stats
}

func New(conf *config.Config, log logger.Logger, statsFactory stats.Stats) *Manager {
	return &Manager{
		conf:         conf,
		log:          log.Child("manager"),
		statsFactory: statsFactory,
	}
}

// Open connects to conn. A connection without a password falls back to
// Warehouse.password, which is how secrets are kept out of the settings file.
func (m *Manager) Open(ctx context.Context, name string, conn settings.Connection) (*Session, error) {
	whType := conn.WarehouseType()
	connectTimeout := m.conf.GetDurationVar(60, time.Second, "Warehouse."+whType+".connectTimeout")
	password := conn.Password
	if password == "" {
		password = m.conf.GetStringVar("", "Warehouse."+whType+".password", "Warehouse.password")
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var (
		db      *sql.DB
		dialect types.Dialect
		err     error
	)
	switch whType {
	case types.SNOWFLAKE:
		dialect = snowflake.Dialect{}
		db, err = snowflake.Connect(ctx, snowflake.Credentials{
			Account:              conn.Account,
			User:                 conn.User,
			Password:             password,
			Database:             conn.Database,
			Schema:               conn.Schema,
			Warehouse:            conn.Warehouse,
			Role:                 conn.Role,
			Authenticator:        conn.Authenticator,
			PrivateKeyPath:       conn.PrivateKeyPath,
			PrivateKeyPassphrase: conn.PrivateKeyPassphrase,
			Timeout:              connectTimeout,
		})
	case types.POSTGRES:
		dialect = postgres.Dialect{}
		db, err = postgres.Connect(ctx, postgres.Credentials{
			Host:     conn.Host,
			Port:     conn.Port,
			User:     conn.User,
			Password: password,
			Database: conn.Database,
			Schema:   conn.Schema,
			SSLMode:  conn.SSLMode,
			Timeout:  connectTimeout,
		})
	case types.DUCKDB:
		dialect = duckdb.Dialect{}
		db, err = duckdb.Open(ctx, conn.Path)
	default:
		return nil, fmt.Errorf("warehouse type %q of connection %s is not supported", whType, name)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", name, err)
	}

	m.log.Debugw("connected", logfield.Connection, name, logfield.WarehouseType, whType)
	return &Session{
		Name:    name,
		Type:    whType,
		Dialect: dialect,
		User:    conn.User,
		DB: sqlmw.New(db,
			sqlmw.WithLogger(m.log.Child("query")),
			sqlmw.WithKeyAndValues(logfield.WarehouseType, whType, logfield.Connection, name),
			sqlmw.WithSlowQueryThreshold(m.conf.GetDurationVar(5, time.Minute, "Warehouse.slowQueryThreshold")),
			sqlmw.WithQueryTimeout(m.conf.GetDurationVar(0, time.Second, "Warehouse.queryTimeout")),
			sqlmw.WithSecretsRegex(secretsRegex),
			sqlmw.WithStats(m.statsFactory),
		),
	}, nil
}
