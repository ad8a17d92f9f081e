package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/datacampus/dcx/loader/model"
	"github.com/datacampus/dcx/warehouse/integrations/types"
)

// postgres rejects statements with more than 65535 bind parameters.
const maxBindParams = 65535

var dataTypesMap = map[model.ColumnType]string{
	model.StringColumn:    "TEXT",
	model.TimestampColumn: "TIMESTAMP",
	model.BooleanColumn:   "BOOLEAN",
	model.VariantColumn:   "JSONB",
	model.IntegerColumn:   "BIGINT",
}

type Dialect struct{}

func (Dialect) Name() string { return types.POSTGRES }

func (Dialect) Quote(identifier string) string { return pq.QuoteIdentifier(identifier) }

// NormalizeIdentifier folds unquoted identifiers to lower case.
func (Dialect) NormalizeIdentifier(name string, quoted bool) string {
	if quoted {
		return name
	}
	return strings.ToLower(name)
}

func (Dialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Dialect) DataType(t model.ColumnType) string { return dataTypesMap[t] }

func (Dialect) DefaultValue(d model.ColumnDefault) string {
	switch d {
	case model.DefaultNow:
		return "CURRENT_TIMESTAMP"
	case model.DefaultTrue:
		return "TRUE"
	}
	return ""
}

func (Dialect) VariantExpr(expr string) string { return expr + "::jsonb" }

func (Dialect) NativeVariant() bool { return true }

func (Dialect) SelectFromValues() bool { return false }

func (Dialect) CurrentUser() string { return "current_user" }

func (Dialect) SupportsTruncate() bool { return true }

// SupportsGrants is false: postgres has no GRANT ... TO ROLE form.
func (Dialect) SupportsGrants() bool { return false }

func (Dialect) MaxBindParams() int { return maxBindParams }

func (Dialect) InformationSchema(string) string { return "information_schema" }

type Credentials struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	Schema   string
	SSLMode  string
	Timeout  time.Duration
}

func (c Credentials) dsn() string {
	kv := []string{
		"host=" + quoteValue(c.Host),
		"port=" + quoteValue(c.Port),
		"user=" + quoteValue(c.User),
		"password=" + quoteValue(c.Password),
		"dbname=" + quoteValue(c.Database),
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	kv = append(kv, "sslmode="+quoteValue(sslMode))
	if c.Timeout > 0 {
		kv = append(kv, fmt.Sprintf("connect_timeout=%d", int(c.Timeout.Seconds())))
	}
	if c.Schema != "" {
		kv = append(kv, "search_path="+quoteValue(c.Schema))
	}
	return strings.Join(kv, " ")
}

func quoteValue(v string) string {
	if v == "" {
		return "''"
	}
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v) + "'"
}

func Connect(ctx context.Context, cred Credentials) (*sql.DB, error) {
	db, err := sql.Open("postgres", cred.dsn())
	if err != nil {
		return nil, fmt.Errorf("postgres connection error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}
