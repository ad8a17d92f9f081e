package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/datacampus/dcx/loader/model"
	"github.com/datacampus/dcx/warehouse/integrations/types"
)

// Variants are stored as JSON text so the json extension is not required.
var dataTypesMap = map[model.ColumnType]string{
	model.StringColumn:    "VARCHAR",
	model.TimestampColumn: "TIMESTAMPTZ",
	model.BooleanColumn:   "BOOLEAN",
	model.VariantColumn:   "VARCHAR",
	model.IntegerColumn:   "BIGINT",
}

type Dialect struct{}

func (Dialect) Name() string { return types.DUCKDB }

func (Dialect) Quote(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

// NormalizeIdentifier ignores quoting: duckdb resolves every identifier case-insensitively.
func (Dialect) NormalizeIdentifier(name string, _ bool) string {
	return strings.ToLower(name)
}

func (Dialect) Placeholder(int) string { return "?" }

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

func (Dialect) VariantExpr(expr string) string { return expr }

func (Dialect) NativeVariant() bool { return false }

func (Dialect) SelectFromValues() bool { return false }

func (Dialect) CurrentUser() string { return "" }

func (Dialect) SupportsTruncate() bool { return false }

func (Dialect) SupportsGrants() bool { return false }

func (Dialect) MaxBindParams() int { return 0 }

func (Dialect) InformationSchema(string) string { return "information_schema" }

// Open opens a duckdb database at path, or an in-memory one when path is empty.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("duckdb open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("duckdb ping: %w", err)
	}
	return db, nil
}
