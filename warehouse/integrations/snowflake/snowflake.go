package snowflake

import (
	"context"
	"crypto/rsa"
	"database/sql"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/youmark/pkcs8"

	snowflake "github.com/snowflakedb/gosnowflake"

	"github.com/datacampus/dcx/loader/model"
	"github.com/datacampus/dcx/warehouse/integrations/types"
)

const (
	application = "dcx"

	AuthPassword        = "snowflake"
	AuthExternalBrowser = "externalbrowser"
	AuthJWT             = "snowflake_jwt"
)

var dataTypesMap = map[model.ColumnType]string{
	model.StringColumn:    "VARCHAR",
	model.TimestampColumn: "TIMESTAMP_NTZ",
	model.BooleanColumn:   "BOOLEAN",
	model.VariantColumn:   "VARIANT",
	model.IntegerColumn:   "NUMBER",
}

type Dialect struct{}

func (Dialect) Name() string { return types.SNOWFLAKE }

func (Dialect) Quote(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

// NormalizeIdentifier upper-cases unquoted identifiers, quoted ones keep their case.
func (Dialect) NormalizeIdentifier(name string, quoted bool) string {
	if quoted {
		return name
	}
	return strings.ToUpper(name)
}

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) DataType(t model.ColumnType) string { return dataTypesMap[t] }

func (Dialect) DefaultValue(d model.ColumnDefault) string {
	switch d {
	case model.DefaultNow:
		return "CURRENT_TIMESTAMP()"
	case model.DefaultTrue:
		return "TRUE"
	}
	return ""
}

func (Dialect) VariantExpr(expr string) string { return "PARSE_JSON(" + expr + ")" }

func (Dialect) NativeVariant() bool { return true }

// SelectFromValues is required since PARSE_JSON is not allowed inside a VALUES clause.
func (Dialect) SelectFromValues() bool { return true }

func (Dialect) CurrentUser() string { return "CURRENT_USER()" }

func (Dialect) SupportsTruncate() bool { return true }

func (Dialect) SupportsGrants() bool { return true }

func (Dialect) MaxBindParams() int { return 16384 }

func (Dialect) InformationSchema(database string) string {
	if database != "" {
		return database + ".INFORMATION_SCHEMA"
	}
	return "INFORMATION_SCHEMA"
}

// Credentials for a snowflake session.
type Credentials struct {
	Account              string
	User                 string
	Password             string
	Database             string
	Schema               string
	Warehouse            string
	Role                 string
	Authenticator        string
	PrivateKeyPath       string
	PrivateKeyPassphrase string
	Timeout              time.Duration
}

func (c Credentials) config() (snowflake.Config, error) {
	cfg := snowflake.Config{
		Account:     c.Account,
		User:        c.User,
		Database:    c.Database,
		Schema:      c.Schema,
		Warehouse:   c.Warehouse,
		Role:        c.Role,
		Application: application,
	}
	if c.Timeout > 0 {
		cfg.LoginTimeout = c.Timeout
	}

	switch strings.ToLower(c.Authenticator) {
	case "", AuthPassword:
		cfg.Authenticator = snowflake.AuthTypeSnowflake
		cfg.Password = c.Password
	case AuthExternalBrowser:
		cfg.Authenticator = snowflake.AuthTypeExternalBrowser
	case AuthJWT:
		if c.PrivateKeyPath == "" {
			return cfg, fmt.Errorf("authenticator %s requires a private key path", AuthJWT)
		}
		key, err := loadPrivateKey(c.PrivateKeyPath, c.PrivateKeyPassphrase)
		if err != nil {
			return cfg, err
		}
		cfg.Authenticator = snowflake.AuthTypeJwt
		cfg.PrivateKey = key
	default:
		return cfg, fmt.Errorf("unsupported authenticator %q", c.Authenticator)
	}
	return cfg, nil
}

func loadPrivateKey(path, passphrase string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("private key %s is not PEM encoded", path)
	}
	var passwords [][]byte
	if passphrase != "" {
		passwords = append(passwords, []byte(passphrase))
	}
	key, err := pkcs8.ParsePKCS8PrivateKeyRSA(block.Bytes, passwords...)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return key, nil
}

// Connect opens a snowflake session. The session aborts its queries when the client detaches.
func Connect(ctx context.Context, cred Credentials) (*sql.DB, error) {
	cfg, err := cred.config()
	if err != nil {
		return nil, fmt.Errorf("snowflake config: %w", err)
	}
	abort := strconv.FormatBool(true)
	cfg.Params = map[string]*string{
		"ABORT_DETACHED_QUERY": &abort,
	}

	db := sql.OpenDB(snowflake.NewConnector(snowflake.SnowflakeDriver{}, cfg))
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("snowflake connect: %w", err)
	}
	return db, nil
}
