// Package strategy applies a load's write strategy and inserts its rows.
package strategy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/datacampus/dcx/loader/internal/encoding"
	"github.com/datacampus/dcx/loader/internal/schema"
	"github.com/datacampus/dcx/loader/model"
	sqlmw "github.com/datacampus/dcx/warehouse/integrations/middleware/sqlquerywrapper"
	"github.com/datacampus/dcx/warehouse/logfield"
	"github.com/datacampus/dcx/warehouse/query"
)

type State string

const (
	Planning   State = "planning"
	Deleting   State = "deleting"
	Inserting  State = "inserting"
	Finalizing State = "finalizing"
	Done       State = "done"
	Failed     State = "failed"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Opts struct {
	BatchSize           int
	MaxLineBytes        int
	Transactional       bool
	ContinueOnFileError bool
}

// Input is a planned load against a reconciled table.
type Input struct {
	Ref  model.TableRef
	Spec model.LoadSpec
	Plan schema.Plan
	// TableExisted is false when the table is only about to be created, which only happens in dry-run.
	TableExisted  bool
	HasMostRecent bool
	// AddedColumns were added to the existing table for this load.
	AddedColumns []model.Column
}

type Result struct {
	Files        []string
	SkippedFiles []string
	Inserted     int64
	Deleted      int64
	Unmarked     int64
	Grants       []string
}

type Executor struct {
	db      *sqlmw.DB
	builder *query.Builder
	log     logger.Logger
	opts    Opts

	state State
}

func New(db *sqlmw.DB, builder *query.Builder, log logger.Logger, opts Opts) *Executor {
	return &Executor{
		db:      db,
		builder: builder,
		log:     log.Child("executor"),
		opts:    opts,
	}
}

func (e *Executor) State() State {
	return e.state
}

func (e *Executor) transition(log logger.Logger, s State) {
	log.Infow("load state changed", logfield.State, s)
	e.state = s
}

// Execute runs the strategy. Deletes, unmarking and inserts share one
// transaction unless transactions are disabled; grants run after commit.
func (e *Executor) Execute(ctx context.Context, in Input) (res Result, err error) {
	log := e.log.With(
		logfield.Namespace, in.Ref.Schema,
		logfield.TableName, in.Ref.Table,
		logfield.Strategy, in.Spec.Strategy,
		logfield.DryRun, in.Spec.DryRun,
	)
	defer func() {
		if err != nil {
			log.Warnw("load failed", logfield.State, e.state, logfield.Error, err.Error())
			e.transition(log, Failed)
		}
	}()

	e.transition(log, Planning)
	if in.Spec.DryRun {
		err = e.dryRun(ctx, log, in, &res)
		return res, err
	}
	files := in.Plan.Files
	if e.opts.ContinueOnFileError {
		// nothing is deleted unless at least one file can be loaded
		if files, _, err = e.validFiles(ctx, in, &res); err != nil {
			return res, err
		}
	}

	var (
		q        querier = e.db
		tx       *sqlmw.Tx
		finished int
	)
	if e.opts.Transactional {
		if tx, err = e.db.BeginTx(ctx, nil); err != nil {
			return res, fmt.Errorf("%w: beginning transaction: %w", model.ErrDMLFailure, err)
		}
		q = tx
		defer func() {
			if err != nil {
				if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
					log.Warnw("rolling back", logfield.Error, rbErr.Error())
				}
			}
		}()
	}
	partial := func(err error) error {
		if !e.opts.Transactional && finished > 0 {
			return fmt.Errorf("%w: %d of %d files committed: %w", model.ErrPartialFailure, finished, len(files), err)
		}
		return err
	}

	e.transition(log, Deleting)
	if res.Deleted, err = e.delete(ctx, log, q, in); err != nil {
		return res, err
	}
	if in.Spec.MostRecent {
		stmt, args := e.builder.UnmarkMostRecent(in.Ref, in.Spec.Tags)
		result, err := q.ExecContext(ctx, stmt, args...)
		if err != nil {
			return res, fmt.Errorf("%w: unmarking most recent rows: %w", model.ErrDMLFailure, err)
		}
		if res.Unmarked, err = result.RowsAffected(); err != nil {
			return res, fmt.Errorf("%w: unmarking most recent rows: %w", model.ErrDMLFailure, err)
		}
	}

	e.transition(log, Inserting)
	for _, f := range files {
		n, err := e.insertFile(ctx, q, in, f)
		res.Inserted += n
		if err != nil {
			return res, partial(err)
		}
		finished++
		res.Files = append(res.Files, f.Name)
		log.Debugw("inserted file", logfield.SourceFile, f.Name, logfield.RowsInserted, n)
	}

	e.transition(log, Finalizing)
	if tx != nil {
		if err = tx.Commit(); err != nil {
			return res, fmt.Errorf("%w: committing: %w", model.ErrDMLFailure, err)
		}
	}

	if res.Grants, err = e.grant(ctx, log, in, false); err != nil {
		return res, fmt.Errorf("%w: load committed but granting failed: %w", model.ErrPartialFailure, err)
	}

	e.transition(log, Done)
	return res, nil
}

// validFiles streams every file without inserting it and returns the loadable
// files along with their row count. A file-local error skips the file only when
// ContinueOnFileError is set, otherwise it fails the load like inserting would.
// Skipping every file is an error.
func (e *Executor) validFiles(ctx context.Context, in Input, res *Result) ([]model.DetectedFile, int64, error) {
	var (
		rows     int64
		firstErr error
	)
	valid := make([]model.DetectedFile, 0, len(in.Plan.Files))
	for _, f := range in.Plan.Files {
		n, err := e.encoder(in, f).Stream(ctx, func([]any) error { return nil })
		switch {
		case err == nil:
			valid = append(valid, f)
			rows += n
		case e.opts.ContinueOnFileError && model.IsFileLocal(err):
			e.log.Warnw("skipping file", logfield.SourceFile, f.Name, logfield.Error, err.Error())
			res.SkippedFiles = append(res.SkippedFiles, f.Name)
			if firstErr == nil {
				firstErr = err
			}
		default:
			return nil, 0, err
		}
	}
	if len(valid) == 0 {
		if firstErr == nil {
			return nil, 0, model.ErrNoFiles
		}
		return nil, 0, fmt.Errorf("every file was skipped, first: %w", firstErr)
	}
	return valid, rows, nil
}

// dryRun counts what the load would delete, unmark and insert without mutating anything.
func (e *Executor) dryRun(ctx context.Context, log logger.Logger, in Input, res *Result) error {
	files, rows, err := e.validFiles(ctx, in, res)
	if err != nil {
		return err
	}
	res.Inserted = rows
	for _, f := range files {
		res.Files = append(res.Files, f.Name)
	}

	if in.TableExisted {
		e.transition(log, Deleting)
		if res.Deleted, err = e.countDeleted(ctx, e.db, in); err != nil {
			return err
		}
		// rows of the tag set removed by the strategy are never unmarked
		if in.Spec.MostRecent && !in.Spec.Strategy.DeletesTagScope() {
			if res.Unmarked, err = e.countUnmarked(ctx, in); err != nil {
				return err
			}
		}
	}

	e.transition(log, Finalizing)
	res.Grants, _ = e.grant(ctx, log, in, true)
	e.transition(log, Done)
	return nil
}

// countUnmarked counts the rows unmarking would flip. Adding is_most_recent
// marks every existing row, so without the column the whole tag scope counts,
// unless a tag column is new too and no existing row can match the tags.
func (e *Executor) countUnmarked(ctx context.Context, in Input) (int64, error) {
	var (
		n    int64
		stmt string
		args []any
	)
	switch {
	case in.HasMostRecent:
		stmt, args = e.builder.CountMostRecent(in.Ref, in.Spec.Tags)
	case lo.SomeBy(in.AddedColumns, func(c model.Column) bool { return in.Spec.Tags.Has(c.Name) }):
		return 0, nil
	default:
		stmt, args = e.builder.Count(in.Ref, in.Spec.Tags)
	}
	if err := e.db.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: counting most recent rows: %w", model.ErrDMLFailure, err)
	}
	return n, nil
}

func (e *Executor) countDeleted(ctx context.Context, q querier, in Input) (int64, error) {
	var (
		n    int64
		stmt string
		args []any
	)
	switch in.Spec.Strategy {
	case model.OverwriteStrategy:
		stmt, args = e.builder.Count(in.Ref, in.Spec.Tags)
	case model.ReplaceStrategy:
		stmt, args = e.builder.Count(in.Ref, nil)
	default:
		return 0, nil
	}
	if err := q.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: counting rows to delete: %w", model.ErrDMLFailure, err)
	}
	return n, nil
}

func (e *Executor) delete(ctx context.Context, log logger.Logger, q querier, in Input) (int64, error) {
	n, err := e.countDeleted(ctx, q, in)
	if err != nil {
		return 0, err
	}
	if in.Spec.Strategy == model.OverwriteStrategy && len(in.Spec.Tags) == 0 && n > 0 {
		log.Warnw("overwrite without tags deletes every row of the table", logfield.RowsDeleted, n)
	}

	var (
		stmt string
		args []any
	)
	switch in.Spec.Strategy {
	case model.OverwriteStrategy:
		stmt, args = e.builder.Delete(in.Ref, in.Spec.Tags)
	case model.ReplaceStrategy:
		stmt = e.builder.Truncate(in.Ref)
	default:
		return 0, nil
	}
	if _, err := q.ExecContext(ctx, stmt, args...); err != nil {
		return 0, fmt.Errorf("%w: deleting rows: %w", model.ErrDMLFailure, err)
	}
	return n, nil
}

func (e *Executor) encoder(in Input, f model.DetectedFile) *encoding.Encoder {
	return encoding.NewEncoder(f, encoding.Options{
		SingleColumn: in.Spec.SingleColumn,
		Strict:       in.Spec.Strict,
		RawLines:     !e.builder.Dialect().NativeVariant(),
		MaxLineBytes: e.opts.MaxLineBytes,
	}, e.log)
}

// insertFile streams f into the table in batches. Every row starts with the
// file name followed by the tag values.
func (e *Executor) insertFile(ctx context.Context, q querier, in Input, f model.DetectedFile) (int64, error) {
	columns := in.Plan.InsertColumns()
	width := len(columns)
	batchRows := e.builder.BatchRows(width, e.opts.BatchSize)

	prefix := append([]any{f.Name}, lo.ToAnySlice(in.Spec.Tags.Values())...)
	batch := make([]any, 0, batchRows*width)
	var inserted int64

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		rows := len(batch) / width
		if _, err := q.ExecContext(ctx, e.builder.Insert(in.Ref, columns, rows), batch...); err != nil {
			return fmt.Errorf("%w: inserting rows of %s: %w", model.ErrDMLFailure, f.Name, err)
		}
		inserted += int64(rows)
		batch = batch[:0]
		return nil
	}

	_, err := e.encoder(in, f).Stream(ctx, func(values []any) error {
		batch = append(batch, prefix...)
		batch = append(batch, values...)
		if len(batch) >= batchRows*width {
			return flush()
		}
		return nil
	})
	if err != nil {
		return inserted, err
	}
	return inserted, flush()
}

// grant returns the grant statements of the load, running them unless plan is set.
func (e *Executor) grant(ctx context.Context, log logger.Logger, in Input, plan bool) ([]string, error) {
	if len(in.Spec.Grants) == 0 {
		return nil, nil
	}
	if !e.builder.Dialect().SupportsGrants() {
		log.Warnw("warehouse does not support role grants, skipping", logfield.Role, in.Spec.Grants)
		return nil, nil
	}

	var stmts []string
	for _, role := range in.Spec.Grants {
		stmts = append(stmts, e.builder.GrantUsage(in.Ref, role), e.builder.GrantSelect(in.Ref, role))
	}
	if plan {
		return stmts, nil
	}
	for _, stmt := range stmts {
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return stmts, fmt.Errorf("%w: %s: %w", model.ErrDDLFailure, stmt, err)
		}
		log.Infow("granted", logfield.Query, stmt)
	}
	return stmts, nil
}
