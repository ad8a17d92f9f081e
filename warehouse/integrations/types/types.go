package types

import (
	"github.com/datacampus/dcx/loader/model"
)

const (
	SNOWFLAKE = "snowflake"
	POSTGRES  = "postgres"
	DUCKDB    = "duckdb"
)

// Dialect captures the per-warehouse differences in SQL text. Everything else
// is generated by query.Builder.
type Dialect interface {
	Name() string
	// Quote renders a case-preserving identifier.
	Quote(identifier string) string
	// NormalizeIdentifier returns the name the warehouse resolves an identifier
	// to, so that two columns collide exactly when their normalized names are equal.
	NormalizeIdentifier(name string, quoted bool) string
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string
	DataType(t model.ColumnType) string
	// DefaultValue returns the DEFAULT expression for d, or "" when the column has none.
	DefaultValue(d model.ColumnDefault) string
	// VariantExpr wraps a bound JSON text so that it is stored as a semi-structured value.
	VariantExpr(expr string) string
	// NativeVariant reports whether variant columns hold parsed JSON. When false
	// they are plain text and single-column lines are stored as they are read.
	NativeVariant() bool
	// SelectFromValues reports whether multi-row inserts must be written as
	// INSERT ... SELECT ... FROM VALUES so that VariantExpr can be applied.
	SelectFromValues() bool
	// CurrentUser is the SQL expression of the acting identity, or "" when unsupported.
	CurrentUser() string
	SupportsTruncate() bool
	SupportsGrants() bool
	// MaxBindParams is the number of bind parameters a single statement may carry, 0 for no limit.
	MaxBindParams() int
	// InformationSchema returns the information schema to query for objects in database.
	InformationSchema(database string) string
}
