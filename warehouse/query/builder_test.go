package query_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/datacampus/dcx/loader/model"
	"github.com/datacampus/dcx/warehouse/integrations/duckdb"
	"github.com/datacampus/dcx/warehouse/integrations/postgres"
	"github.com/datacampus/dcx/warehouse/integrations/snowflake"
	"github.com/datacampus/dcx/warehouse/query"
)

var (
	ref  = model.TableRef{Database: "ANALYTICS", Schema: "RAW", Table: "EVENTS"}
	tags = model.Tags{{Key: "region", Value: "eu"}, {Key: "batch", Value: "7"}}
)

func TestBuilder_Snowflake(t *testing.T) {
	b := query.New(snowflake.Dialect{})

	columns := []model.Column{
		{Name: model.SourceFileColumn, Type: model.StringColumn},
		{Name: model.LoadTimestampColumn, Type: model.TimestampColumn, Default: model.DefaultNow},
		{Name: model.MostRecentColumn, Type: model.BooleanColumn, Default: model.DefaultTrue},
		{Name: "region", Type: model.StringColumn},
		{Name: "data", Type: model.VariantColumn},
	}
	require.Equal(t,
		"CREATE TABLE IF NOT EXISTS ANALYTICS.RAW.EVENTS (_source_file VARCHAR, _load_timestamp TIMESTAMP_NTZ DEFAULT CURRENT_TIMESTAMP(), is_most_recent BOOLEAN DEFAULT TRUE, region VARCHAR, data VARIANT)",
		b.CreateTable(ref, columns),
	)
	require.Equal(t,
		`ALTER TABLE ANALYTICS.RAW.EVENTS ADD COLUMN IF NOT EXISTS "Email" VARCHAR`,
		b.AddColumn(ref, model.Column{Name: "Email", Type: model.StringColumn, Quoted: true}),
	)
	require.Equal(t, "CREATE SCHEMA IF NOT EXISTS ANALYTICS.RAW", b.CreateSchema(ref))

	q, args := b.Delete(ref, tags)
	require.Equal(t, "DELETE FROM ANALYTICS.RAW.EVENTS WHERE region = ? AND batch = ?", q)
	require.Equal(t, []any{"eu", "7"}, args)

	q, args = b.Delete(ref, nil)
	require.Equal(t, "DELETE FROM ANALYTICS.RAW.EVENTS", q)
	require.Empty(t, args)

	q, args = b.UnmarkMostRecent(ref, tags)
	require.Equal(t, "UPDATE ANALYTICS.RAW.EVENTS SET is_most_recent = FALSE WHERE region = ? AND batch = ? AND is_most_recent = TRUE", q)
	require.Equal(t, []any{"eu", "7"}, args)

	q, _ = b.UnmarkMostRecent(ref, nil)
	require.Equal(t, "UPDATE ANALYTICS.RAW.EVENTS SET is_most_recent = FALSE WHERE is_most_recent = TRUE", q)

	require.Equal(t, "TRUNCATE TABLE ANALYTICS.RAW.EVENTS", b.Truncate(ref))

	insertColumns := []model.Column{columns[0], columns[3], columns[4]}
	require.Equal(t,
		"INSERT INTO ANALYTICS.RAW.EVENTS (_source_file, region, data) SELECT column1, column2, PARSE_JSON(column3) FROM VALUES (?, ?, ?), (?, ?, ?)",
		b.Insert(ref, insertColumns, 2),
	)

	q, args = b.Columns(ref)
	require.Equal(t,
		"SELECT column_name, data_type FROM ANALYTICS.INFORMATION_SCHEMA.columns WHERE UPPER(table_schema) = UPPER(?) AND UPPER(table_name) = UPPER(?) AND UPPER(table_catalog) = UPPER(?) ORDER BY ordinal_position",
		q,
	)
	require.Equal(t, []any{"RAW", "EVENTS", "ANALYTICS"}, args)

	require.Equal(t, "GRANT USAGE ON SCHEMA ANALYTICS.RAW TO ROLE ANALYST", b.GrantUsage(ref, "ANALYST"))
	require.Equal(t, "GRANT SELECT ON TABLE ANALYTICS.RAW.EVENTS TO ROLE ANALYST", b.GrantSelect(ref, "ANALYST"))
	require.Equal(t, "SELECT CURRENT_USER()", b.CurrentUser())
}

func TestBuilder_Postgres(t *testing.T) {
	b := query.New(postgres.Dialect{})
	pref := model.TableRef{Schema: "raw", Table: "events"}

	q, args := b.Count(pref, tags)
	require.Equal(t, "SELECT COUNT(*) FROM raw.events WHERE region = $1 AND batch = $2", q)
	require.Equal(t, []any{"eu", "7"}, args)

	require.Equal(t,
		`INSERT INTO raw.events (_source_file, "name", data) VALUES ($1, $2, $3::jsonb), ($4, $5, $6::jsonb)`,
		b.Insert(pref, []model.Column{
			{Name: model.SourceFileColumn, Type: model.StringColumn},
			{Name: "name", Type: model.StringColumn, Quoted: true},
			{Name: "data", Type: model.VariantColumn},
		}, 2),
	)

	q, args = b.SchemaExists(pref)
	require.Equal(t, "SELECT COUNT(*) FROM information_schema.schemata WHERE UPPER(schema_name) = UPPER($1)", q)
	require.Equal(t, []any{"raw"}, args)
	require.Equal(t, "SELECT current_user", b.CurrentUser())
}

func TestBuilder_DuckDB(t *testing.T) {
	b := query.New(duckdb.Dialect{})
	require.Equal(t, "DELETE FROM raw.events", b.Truncate(model.TableRef{Schema: "raw", Table: "events"}))
	require.Equal(t, "", b.CurrentUser())
}

func TestBuilder_BatchRows(t *testing.T) {
	require.Equal(t, 1000, query.New(duckdb.Dialect{}).BatchRows(5, 1000))
	require.Equal(t, 13107, query.New(postgres.Dialect{}).BatchRows(5, 20000))
	require.Equal(t, 1, query.New(snowflake.Dialect{}).BatchRows(20000, 1000))
	require.Equal(t, 1, query.New(duckdb.Dialect{}).BatchRows(5, 0))
}

func TestBuilder_GroupByTags(t *testing.T) {
	b := query.New(duckdb.Dialect{})
	pref := model.TableRef{Schema: "raw", Table: "events"}
	require.Equal(t,
		"SELECT region, batch, COUNT(*) AS row_count, COUNT(DISTINCT _source_file) AS file_count, MAX(_load_timestamp) AS last_loaded FROM raw.events GROUP BY region, batch ORDER BY region, batch",
		b.GroupByTags(pref, []string{"region", "batch"}, false),
	)
	require.Equal(t,
		"SELECT COUNT(*) AS row_count, COUNT(DISTINCT _source_file) AS file_count, MAX(_load_timestamp) AS last_loaded FROM raw.events",
		b.GroupByTags(pref, nil, false),
	)
}

func TestBuilder_Inspection(t *testing.T) {
	b := query.New(snowflake.Dialect{})
	ref := model.TableRef{Schema: "RAW", Table: "EVENTS"}
	require.Equal(t, "SELECT MIN(_load_timestamp), MAX(_load_timestamp) FROM RAW.EVENTS", b.LoadRange(ref))
	require.Equal(t, `SELECT DISTINCT "REGION" FROM RAW.EVENTS ORDER BY "REGION" LIMIT 10`, b.DistinctValues(ref, b.Dialect().Quote("REGION"), 10))
	require.Equal(t,
		"SELECT COUNT(*), COUNT(DISTINCT _source_file), CAST(COALESCE(SUM(CASE WHEN is_most_recent THEN 1 ELSE 0 END), 0) AS BIGINT) FROM RAW.EVENTS",
		b.Totals(ref, true),
	)
}
