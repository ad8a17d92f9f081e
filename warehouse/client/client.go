// Package client inspects and maintains tables written by loads.
package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/datacampus/dcx/loader/model"
	sqlmw "github.com/datacampus/dcx/warehouse/integrations/middleware/sqlquerywrapper"
	"github.com/datacampus/dcx/warehouse/integrations/types"
	"github.com/datacampus/dcx/warehouse/logfield"
	"github.com/datacampus/dcx/warehouse/query"
)

// QueryResult holds a query's rows rendered as text. NULLs render as "".
type QueryResult struct {
	Columns []string
	Values  [][]string
}

type Column struct {
	Name string
	Type string
}

type TableInfo struct {
	Ref           model.TableRef
	Columns       []Column
	TagColumns    []string
	Rows          int64
	Files         int64
	HasMostRecent bool
	// MostRecentRows is the number of rows of the latest load per tag set.
	MostRecentRows int64
	FirstLoad      time.Time
	LastLoad       time.Time
	// TagValues samples the distinct values of every tag column.
	TagValues map[string][]string
}

type Client struct {
	db      *sqlmw.DB
	builder *query.Builder
	log     logger.Logger
}

func New(db *sqlmw.DB, dialect types.Dialect, log logger.Logger) *Client {
	return &Client{
		db:      db,
		builder: query.New(dialect),
		log:     log.Child("client"),
	}
}

// Query runs statement and returns its rows as text.
func (cl *Client) Query(ctx context.Context, statement string, args ...any) (result QueryResult, err error) {
	rows, err := cl.db.QueryContext(ctx, statement, args...)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return result, err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return result, nil
	}
	defer func() { _ = rows.Close() }()

	result.Columns, err = rows.Columns()
	if err != nil {
		return result, err
	}

	colCount := len(result.Columns)
	values := make([]any, colCount)
	valuePtrs := make([]any, colCount)

	for rows.Next() {
		for i := 0; i < colCount; i++ {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return result, err
		}
		row := make([]string, colCount)
		for i, v := range values {
			row[i] = render(v)
		}
		result.Values = append(result.Values, row)
	}
	return result, rows.Err()
}

func render(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.DateTime)
	}
	return fmt.Sprint(v)
}

// Resolve fills in the session's current schema when ref has none.
func (cl *Client) Resolve(ctx context.Context, ref model.TableRef) (model.TableRef, error) {
	if ref.Schema != "" {
		return ref, nil
	}
	var current sql.NullString
	if err := cl.db.QueryRowContext(ctx, cl.builder.CurrentSchema()).Scan(&current); err != nil || !current.Valid {
		return ref, fmt.Errorf("%w: no schema given for %s", model.ErrDestinationMissing, ref.Table)
	}
	ref.Schema = current.String
	return ref, nil
}

// Columns lists the columns of ref. A missing table is ErrDestinationMissing.
func (cl *Client) Columns(ctx context.Context, ref model.TableRef) ([]Column, error) {
	q, args := cl.builder.Columns(ref)
	rows, err := cl.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", ref, err)
	}
	defer func() { _ = rows.Close() }()

	var columns []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, fmt.Errorf("scanning columns of %s: %w", ref, err)
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", ref, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: table %s does not exist", model.ErrDestinationMissing, ref)
	}
	return columns, nil
}

// TagColumns guesses the tag columns of a table: every column that is neither
// a system column nor the single-column data column.
func TagColumns(columns []Column) []string {
	reserved := []string{model.SourceFileColumn, model.LoadTimestampColumn, model.MostRecentColumn, model.DataColumn}
	return lo.FilterMap(columns, func(c Column, _ int) (string, bool) {
		return c.Name, !lo.ContainsBy(reserved, func(r string) bool { return strings.EqualFold(r, c.Name) })
	})
}

func hasMostRecent(columns []Column) bool {
	return lo.ContainsBy(columns, func(c Column) bool { return strings.EqualFold(c.Name, model.MostRecentColumn) })
}

type ListOptions struct {
	// TagColumns overrides the guessed tag columns.
	TagColumns []string
	Limit      int
}

// List summarises ref per distinct combination of tag values.
func (cl *Client) List(ctx context.Context, ref model.TableRef, opts ListOptions) (QueryResult, error) {
	ref, err := cl.Resolve(ctx, ref)
	if err != nil {
		return QueryResult{}, err
	}
	columns, err := cl.Columns(ctx, ref)
	if err != nil {
		return QueryResult{}, err
	}

	tagColumns := opts.TagColumns
	if len(tagColumns) == 0 {
		tagColumns = TagColumns(columns)
	}
	quoted := lo.Map(tagColumns, func(c string, _ int) string { return cl.liveColumn(columns, c) })

	stmt := cl.builder.GroupByTags(ref, quoted, hasMostRecent(columns))
	if opts.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	res, err := cl.Query(ctx, stmt)
	if err != nil {
		return res, fmt.Errorf("listing %s: %w", ref, err)
	}
	return res, nil
}

// liveColumn quotes the live spelling of name so that it resolves regardless of case rules.
func (cl *Client) liveColumn(columns []Column, name string) string {
	for _, c := range columns {
		if strings.EqualFold(c.Name, name) {
			return cl.builder.Dialect().Quote(c.Name)
		}
	}
	return cl.builder.Dialect().Quote(name)
}

// Info describes ref with its totals and samples of its tag values.
func (cl *Client) Info(ctx context.Context, ref model.TableRef, sample int) (TableInfo, error) {
	ref, err := cl.Resolve(ctx, ref)
	if err != nil {
		return TableInfo{}, err
	}
	info := TableInfo{Ref: ref, TagValues: make(map[string][]string)}
	if info.Columns, err = cl.Columns(ctx, ref); err != nil {
		return info, err
	}
	info.TagColumns = TagColumns(info.Columns)
	info.HasMostRecent = hasMostRecent(info.Columns)

	if err := cl.db.QueryRowContext(ctx, cl.builder.Totals(ref, info.HasMostRecent)).Scan(
		&info.Rows, &info.Files, &info.MostRecentRows,
	); err != nil {
		return info, fmt.Errorf("counting rows of %s: %w", ref, err)
	}

	var first, last sql.NullTime
	if err := cl.db.QueryRowContext(ctx, cl.builder.LoadRange(ref)).Scan(&first, &last); err != nil {
		cl.log.Warnw("reading load range", logfield.TableName, ref.String(), logfield.Error, err.Error())
	}
	info.FirstLoad, info.LastLoad = first.Time, last.Time

	for _, c := range info.TagColumns {
		res, err := cl.Query(ctx, cl.builder.DistinctValues(ref, cl.liveColumn(info.Columns, c), sample))
		if err != nil {
			return info, fmt.Errorf("sampling %s of %s: %w", c, ref, err)
		}
		info.TagValues[c] = lo.Map(res.Values, func(row []string, _ int) string { return row[0] })
	}
	return info, nil
}

// Count returns the number of rows of ref matching every tag.
func (cl *Client) Count(ctx context.Context, ref model.TableRef, tags model.Tags) (int64, error) {
	if err := tags.Validate(); err != nil {
		return 0, err
	}
	ref, err := cl.Resolve(ctx, ref)
	if err != nil {
		return 0, err
	}
	if _, err := cl.Columns(ctx, ref); err != nil {
		return 0, err
	}
	var n int64
	q, args := cl.builder.Count(ref, tags)
	if err := cl.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting rows of %s: %w", ref, err)
	}
	return n, nil
}

// Delete removes the rows of ref matching every tag, or all rows when tags is
// empty, and returns how many were removed.
func (cl *Client) Delete(ctx context.Context, ref model.TableRef, tags model.Tags) (int64, error) {
	if err := tags.Validate(); err != nil {
		return 0, err
	}
	ref, err := cl.Resolve(ctx, ref)
	if err != nil {
		return 0, err
	}
	if _, err := cl.Columns(ctx, ref); err != nil {
		return 0, err
	}

	tx, err := cl.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: beginning transaction: %w", model.ErrDMLFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	var n int64
	q, args := cl.builder.Count(ref, tags)
	if err := tx.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: counting rows: %w", model.ErrDMLFailure, err)
	}
	q, args = cl.builder.Delete(ref, tags)
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return 0, fmt.Errorf("%w: deleting rows: %w", model.ErrDMLFailure, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: committing: %w", model.ErrDMLFailure, err)
	}

	cl.log.Infow("deleted rows", logfield.TableName, ref.String(), logfield.Tags, tags.String(), logfield.RowsDeleted, n)
	return n, nil
}
