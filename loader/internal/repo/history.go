package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/datacampus/dcx/loader/model"
	sqlmw "github.com/datacampus/dcx/warehouse/integrations/middleware/sqlquerywrapper"
	"github.com/datacampus/dcx/warehouse/query"
)

const DefaultHistoryTable = "_dcx_load_history"

var historyColumns = []model.Column{
	{Name: "load_id", Type: model.StringColumn},
	{Name: "table_name", Type: model.StringColumn},
	{Name: "tags", Type: model.VariantColumn},
	{Name: "strategy", Type: model.StringColumn},
	{Name: "row_count", Type: model.IntegerColumn},
	{Name: "file_count", Type: model.IntegerColumn},
	{Name: "deleted_count", Type: model.IntegerColumn},
	{Name: "load_timestamp", Type: model.TimestampColumn, Default: model.DefaultNow},
	{Name: "status", Type: model.StringColumn},
	{Name: "error_message", Type: model.StringColumn},
	{Name: "user_name", Type: model.StringColumn},
}

// History is the audit trail of loads, kept in a table next to the loaded ones.
type History struct {
	*repo
	table model.TableRef
}

func NewHistory(db *sqlmw.DB, builder *query.Builder, table model.TableRef, opts ...Opt) *History {
	r := &repo{
		db:           db,
		builder:      builder,
		now:          time.Now,
		statsFactory: stats.NOP,
		repoType:     "history",
	}
	for _, opt := range opts {
		opt(r)
	}
	return &History{repo: r, table: table}
}

func (h *History) Table() model.TableRef {
	return h.table
}

// Record appends rec, creating the history table when it is absent. The
// acting identity is the warehouse's current user when it can report one.
func (h *History) Record(ctx context.Context, rec model.AuditRecord) error {
	defer h.TimerStat("record")()

	if _, err := h.db.ExecContext(ctx, h.builder.CreateTable(h.table, historyColumns)); err != nil {
		return fmt.Errorf("creating history table %s: %w", h.table, err)
	}

	if q := h.builder.CurrentUser(); q != "" {
		var user sql.NullString
		if err := h.db.QueryRowContext(ctx, q).Scan(&user); err == nil && user.Valid && user.String != "" {
			rec.Actor = user.String
		}
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = h.now()
	}
	tags := rec.Tags
	if tags == nil {
		tags = model.Tags{}
	}
	tagsJSON, err := tags.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshalling tags: %w", err)
	}

	_, err = h.db.ExecContext(ctx, h.builder.Insert(h.table, historyColumns, 1),
		rec.LoadID,
		rec.TableName,
		string(tagsJSON),
		string(rec.Strategy),
		rec.RowsLoaded,
		int64(rec.FilesProcessed),
		rec.RowsDeleted,
		rec.Timestamp.UTC(),
		string(rec.Status),
		rec.Error,
		rec.Actor,
	)
	if err != nil {
		return fmt.Errorf("inserting history record: %w", err)
	}
	return nil
}

type ListFilter struct {
	// TableName keeps records of one table, matched case-insensitively.
	TableName string
	Limit     int
}

// List returns the most recent records first. A missing history table has no records.
func (h *History) List(ctx context.Context, filter ListFilter) ([]model.AuditRecord, error) {
	defer h.TimerStat("list")()

	exists, err := h.exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	d := h.builder.Dialect()
	columns := lo.Map(historyColumns, func(c model.Column, _ int) string { return h.builder.Column(c) })
	stmt := fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), h.builder.Table(h.table))

	var args []any
	if filter.TableName != "" {
		stmt += fmt.Sprintf(" WHERE UPPER(table_name) = UPPER(%s)", d.Placeholder(1))
		args = append(args, filter.TableName)
	}
	stmt += " ORDER BY load_timestamp DESC"
	if filter.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := h.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.AuditRecord
	for rows.Next() {
		var (
			rec                            model.AuditRecord
			tags, strategy, status         sql.NullString
			errorMessage, actor, tableName sql.NullString
			rowCount, fileCount, deleted   sql.NullInt64
		)
		err := rows.Scan(
			&rec.LoadID, &tableName, &tags, &strategy,
			&rowCount, &fileCount, &deleted,
			&rec.Timestamp, &status, &errorMessage, &actor,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		if tags.Valid && tags.String != "" {
			if err := rec.Tags.UnmarshalJSON([]byte(tags.String)); err != nil {
				return nil, fmt.Errorf("decoding tags of load %s: %w", rec.LoadID, err)
			}
		}
		rec.TableName = tableName.String
		rec.Strategy = model.Strategy(strategy.String)
		rec.RowsLoaded = rowCount.Int64
		rec.FilesProcessed = int(fileCount.Int64)
		rec.RowsDeleted = deleted.Int64
		rec.Status = model.AuditStatus(status.String)
		rec.Error = errorMessage.String
		rec.Actor = actor.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	return records, nil
}

func (h *History) exists(ctx context.Context) (bool, error) {
	q, args := h.builder.Columns(h.table)
	rows, err := h.db.QueryContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("checking history table: %w", err)
	}
	defer func() { _ = rows.Close() }()
	exists := rows.Next()
	return exists, rows.Err()
}
