// Package query renders the SQL statements of a load for a given warehouse dialect.
package query

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/datacampus/dcx/loader/model"
	"github.com/datacampus/dcx/warehouse/integrations/types"
)

type Builder struct {
	dialect types.Dialect
}

func New(dialect types.Dialect) *Builder {
	return &Builder{dialect: dialect}
}

func (b *Builder) Dialect() types.Dialect {
	return b.dialect
}

// Table renders a table reference. Every part has already been validated as a safe identifier.
func (*Builder) Table(ref model.TableRef) string {
	return ref.String()
}

// Schema renders the schema part of ref, qualified by its database.
func (*Builder) Schema(ref model.TableRef) string {
	if ref.Database != "" {
		return ref.Database + "." + ref.Schema
	}
	return ref.Schema
}

func (b *Builder) Column(c model.Column) string {
	if c.Quoted {
		return b.dialect.Quote(c.Name)
	}
	return c.Name
}

func (b *Builder) columnDefinition(c model.Column) string {
	def := b.Column(c) + " " + b.dialect.DataType(c.Type)
	if d := b.dialect.DefaultValue(c.Default); d != "" {
		def += " DEFAULT " + d
	}
	return def
}

func (*Builder) CurrentSchema() string {
	return "SELECT CURRENT_SCHEMA()"
}

func (b *Builder) CurrentUser() string {
	if b.dialect.CurrentUser() == "" {
		return ""
	}
	return "SELECT " + b.dialect.CurrentUser()
}

func (b *Builder) SchemaExists(ref model.TableRef) (string, []any) {
	args := []any{ref.Schema}
	q := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s.schemata WHERE UPPER(schema_name) = UPPER(%s)",
		b.dialect.InformationSchema(ref.Database), b.dialect.Placeholder(1),
	)
	if ref.Database != "" {
		args = append(args, ref.Database)
		q += fmt.Sprintf(" AND UPPER(catalog_name) = UPPER(%s)", b.dialect.Placeholder(2))
	}
	return q, args
}

func (b *Builder) CreateSchema(ref model.TableRef) string {
	return "CREATE SCHEMA IF NOT EXISTS " + b.Schema(ref)
}

// Columns lists the live columns of a table in ordinal order.
func (b *Builder) Columns(ref model.TableRef) (string, []any) {
	args := []any{ref.Schema, ref.Table}
	q := fmt.Sprintf(
		"SELECT column_name, data_type FROM %s.columns WHERE UPPER(table_schema) = UPPER(%s) AND UPPER(table_name) = UPPER(%s)",
		b.dialect.InformationSchema(ref.Database), b.dialect.Placeholder(1), b.dialect.Placeholder(2),
	)
	if ref.Database != "" {
		args = append(args, ref.Database)
		q += fmt.Sprintf(" AND UPPER(table_catalog) = UPPER(%s)", b.dialect.Placeholder(3))
	}
	return q + " ORDER BY ordinal_position", args
}

func (b *Builder) CreateTable(ref model.TableRef, columns []model.Column) string {
	defs := lo.Map(columns, func(c model.Column, _ int) string {
		return b.columnDefinition(c)
	})
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", b.Table(ref), strings.Join(defs, ", "))
}

func (b *Builder) AddColumn(ref model.TableRef, c model.Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s", b.Table(ref), b.columnDefinition(c))
}

// where renders the tag predicate starting at bind position start. An empty
// tag set yields no predicate, which matches every row.
func (b *Builder) where(tags model.Tags, start int, extra ...string) (string, []any) {
	preds := make([]string, 0, len(tags)+len(extra))
	args := make([]any, 0, len(tags))
	for i, tag := range tags {
		preds = append(preds, fmt.Sprintf("%s = %s", tag.Key, b.dialect.Placeholder(start+i)))
		args = append(args, tag.Value)
	}
	preds = append(preds, extra...)
	if len(preds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(preds, " AND "), args
}

func (b *Builder) Count(ref model.TableRef, tags model.Tags) (string, []any) {
	w, args := b.where(tags, 1)
	return "SELECT COUNT(*) FROM " + b.Table(ref) + w, args
}

func (b *Builder) Delete(ref model.TableRef, tags model.Tags) (string, []any) {
	w, args := b.where(tags, 1)
	return "DELETE FROM " + b.Table(ref) + w, args
}

func (b *Builder) Truncate(ref model.TableRef) string {
	if !b.dialect.SupportsTruncate() {
		return "DELETE FROM " + b.Table(ref)
	}
	return "TRUNCATE TABLE " + b.Table(ref)
}

func (b *Builder) CountMostRecent(ref model.TableRef, tags model.Tags) (string, []any) {
	w, args := b.where(tags, 1, model.MostRecentColumn+" = TRUE")
	return "SELECT COUNT(*) FROM " + b.Table(ref) + w, args
}

func (b *Builder) UnmarkMostRecent(ref model.TableRef, tags model.Tags) (string, []any) {
	w, args := b.where(tags, 1, model.MostRecentColumn+" = TRUE")
	return fmt.Sprintf("UPDATE %s SET %s = FALSE%s", b.Table(ref), model.MostRecentColumn, w), args
}

// BatchRows is the number of rows a single insert of width columns may carry.
func (b *Builder) BatchRows(width, preferred int) int {
	if preferred <= 0 {
		preferred = 1
	}
	limit := b.dialect.MaxBindParams()
	if limit <= 0 || width <= 0 {
		return preferred
	}
	return max(1, min(preferred, limit/width))
}

// Insert renders a multi-row insert of rows rows into columns.
func (b *Builder) Insert(ref model.TableRef, columns []model.Column, rows int) string {
	names := lo.Map(columns, func(c model.Column, _ int) string {
		return b.Column(c)
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) ", b.Table(ref), strings.Join(names, ", "))

	if b.dialect.SelectFromValues() {
		exprs := make([]string, len(columns))
		for i, c := range columns {
			exprs[i] = fmt.Sprintf("column%d", i+1)
			if c.Type == model.VariantColumn {
				exprs[i] = b.dialect.VariantExpr(exprs[i])
			}
		}
		fmt.Fprintf(&sb, "SELECT %s FROM ", strings.Join(exprs, ", "))
	}
	sb.WriteString("VALUES ")

	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for i, c := range columns {
			if i > 0 {
				sb.WriteString(", ")
			}
			p := b.dialect.Placeholder(n)
			if c.Type == model.VariantColumn && !b.dialect.SelectFromValues() {
				p = b.dialect.VariantExpr(p)
			}
			sb.WriteString(p)
			n++
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

func (b *Builder) GrantUsage(ref model.TableRef, role string) string {
	return fmt.Sprintf("GRANT USAGE ON SCHEMA %s TO ROLE %s", b.Schema(ref), role)
}

func (b *Builder) GrantSelect(ref model.TableRef, role string) string {
	return fmt.Sprintf("GRANT SELECT ON TABLE %s TO ROLE %s", b.Table(ref), role)
}

// GroupByTags summarises a table per distinct combination of tag columns.
func (b *Builder) GroupByTags(ref model.TableRef, tagColumns []string, mostRecent bool) string {
	cols := strings.Join(tagColumns, ", ")
	aggs := []string{
		"COUNT(*) AS row_count",
		"COUNT(DISTINCT " + model.SourceFileColumn + ") AS file_count",
		"MAX(" + model.LoadTimestampColumn + ") AS last_loaded",
	}
	if mostRecent {
		aggs = append(aggs, fmt.Sprintf("SUM(CASE WHEN %s THEN 1 ELSE 0 END) AS most_recent_rows", model.MostRecentColumn))
	}
	if cols == "" {
		return fmt.Sprintf("SELECT %s FROM %s", strings.Join(aggs, ", "), b.Table(ref))
	}
	return fmt.Sprintf(
		"SELECT %[1]s, %[2]s FROM %[3]s GROUP BY %[1]s ORDER BY %[1]s",
		cols, strings.Join(aggs, ", "), b.Table(ref),
	)
}

// Totals returns the row count, distinct file count and, when tracked, the most-recent row count.
func (b *Builder) Totals(ref model.TableRef, mostRecent bool) string {
	mr := "0"
	if mostRecent {
		mr = fmt.Sprintf("CAST(COALESCE(SUM(CASE WHEN %s THEN 1 ELSE 0 END), 0) AS BIGINT)", model.MostRecentColumn)
	}
	return fmt.Sprintf(
		"SELECT COUNT(*), COUNT(DISTINCT %s), %s FROM %s",
		model.SourceFileColumn, mr, b.Table(ref),
	)
}

// LoadRange returns the first and last load timestamps of a table.
func (b *Builder) LoadRange(ref model.TableRef) string {
	return fmt.Sprintf("SELECT MIN(%[1]s), MAX(%[1]s) FROM %[2]s", model.LoadTimestampColumn, b.Table(ref))
}

// DistinctValues samples up to limit distinct values of an already rendered column.
func (b *Builder) DistinctValues(ref model.TableRef, column string, limit int) string {
	return fmt.Sprintf("SELECT DISTINCT %[1]s FROM %[2]s ORDER BY %[1]s LIMIT %[3]d", column, b.Table(ref), limit)
}
