// Package materializer makes sure a destination table exists with every planned column.
package materializer

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/datacampus/dcx/loader/model"
	sqlmw "github.com/datacampus/dcx/warehouse/integrations/middleware/sqlquerywrapper"
	"github.com/datacampus/dcx/warehouse/logfield"
	"github.com/datacampus/dcx/warehouse/query"
)

type confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

type Opts struct {
	// CreateTable allows creating an absent table.
	CreateTable bool
	// CreateSchema creates an absent schema without asking.
	CreateSchema bool
	// Confirmer is asked before creating an absent schema. A nil confirmer declines.
	Confirmer confirmer
}

type Result struct {
	// Ref is the destination with its schema resolved.
	Ref           model.TableRef
	Statements    []string
	SchemaExisted bool
	TableExisted  bool
	// HasMostRecent reports whether the live table already had is_most_recent.
	HasMostRecent bool
	// AddedColumns are the columns added to an existing table.
	AddedColumns []model.Column
}

type Materializer struct {
	db      *sqlmw.DB
	builder *query.Builder
	log     logger.Logger
	opts    Opts
}

func New(db *sqlmw.DB, builder *query.Builder, log logger.Logger, opts Opts) *Materializer {
	return &Materializer{
		db:      db,
		builder: builder,
		log:     log.Child("materializer"),
		opts:    opts,
	}
}

// ResolveSchema fills in the session's current schema when ref has none.
func (m *Materializer) ResolveSchema(ctx context.Context, ref model.TableRef) (model.TableRef, error) {
	if ref.Schema != "" {
		return ref, nil
	}
	var current sql.NullString
	if err := m.db.QueryRowContext(ctx, m.builder.CurrentSchema()).Scan(&current); err != nil {
		return ref, fmt.Errorf("%w: resolving current schema: %w", model.ErrDestinationMissing, err)
	}
	if !current.Valid || current.String == "" {
		return ref, fmt.Errorf("%w: no schema given for %s and the session has no current schema",
			model.ErrDestinationMissing, ref.Table)
	}
	ref.Schema = current.String
	return ref, nil
}

// Reconcile brings the destination table in line with target. Columns are only
// ever added. In dry-run the statements are returned without being executed.
func (m *Materializer) Reconcile(ctx context.Context, ref model.TableRef, target model.TargetSchema, dryRun bool) (Result, error) {
	ref, err := m.ResolveSchema(ctx, ref)
	if err != nil {
		return Result{}, err
	}
	res := Result{Ref: ref}
	log := m.log.With(logfield.Namespace, ref.Schema, logfield.TableName, ref.Table)

	exec := func(stmt string) error {
		res.Statements = append(res.Statements, stmt)
		if dryRun {
			return nil
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %s: %w", model.ErrDDLFailure, stmt, err)
		}
		return nil
	}

	res.SchemaExisted, err = m.schemaExists(ctx, ref)
	if err != nil {
		return res, err
	}
	if !res.SchemaExisted {
		if !m.opts.CreateTable {
			return res, fmt.Errorf("%w: schema %s does not exist", model.ErrDestinationMissing, m.builder.Schema(ref))
		}
		if !m.opts.CreateSchema && !dryRun {
			if err := m.confirmSchema(ctx, ref); err != nil {
				return res, err
			}
		}
		log.Infow("creating schema", logfield.DryRun, dryRun)
		if err := exec(m.builder.CreateSchema(ref)); err != nil {
			return res, err
		}
	}

	var live []string
	if res.SchemaExisted {
		if live, err = m.LiveColumns(ctx, ref); err != nil {
			return res, err
		}
	}
	res.TableExisted = len(live) > 0

	if !res.TableExisted {
		if !m.opts.CreateTable {
			return res, fmt.Errorf("%w: table %s does not exist", model.ErrDestinationMissing, ref)
		}
		log.Infow("creating table", logfield.DryRun, dryRun)
		return res, exec(m.builder.CreateTable(ref, target.Columns()))
	}

	mostRecent := model.Column{Name: model.MostRecentColumn}
	for _, name := range live {
		if mostRecent.Matches(name) {
			res.HasMostRecent = true
		}
	}

	for _, c := range target.Columns() {
		if hasColumn(live, c) {
			continue
		}
		log.Infow("adding column", logfield.ColumnName, c.Name, logfield.DryRun, dryRun)
		if err := exec(m.builder.AddColumn(ref, c)); err != nil {
			return res, err
		}
		res.AddedColumns = append(res.AddedColumns, c)
	}
	return res, nil
}

func (m *Materializer) confirmSchema(ctx context.Context, ref model.TableRef) error {
	if m.opts.Confirmer == nil {
		return fmt.Errorf("%w: schema %s does not exist", model.ErrSchemaCreationDeclined, m.builder.Schema(ref))
	}
	ok, err := m.opts.Confirmer.Confirm(ctx, fmt.Sprintf("Schema %s does not exist. Create it?", m.builder.Schema(ref)))
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrSchemaCreationDeclined, err)
	}
	if !ok {
		return fmt.Errorf("%w: schema %s", model.ErrSchemaCreationDeclined, m.builder.Schema(ref))
	}
	return nil
}

func (m *Materializer) schemaExists(ctx context.Context, ref model.TableRef) (bool, error) {
	q, args := m.builder.SchemaExists(ref)
	var count int
	if err := m.db.QueryRowContext(ctx, q, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("%w: checking schema %s: %w", model.ErrDDLFailure, ref.Schema, err)
	}
	return count > 0, nil
}

// LiveColumns returns the column names of ref in ordinal order. An absent table has none.
func (m *Materializer) LiveColumns(ctx context.Context, ref model.TableRef) ([]string, error) {
	q, args := m.builder.Columns(ref)
	rows, err := m.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: reading columns of %s: %w", model.ErrDDLFailure, ref, err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, fmt.Errorf("%w: scanning columns of %s: %w", model.ErrDDLFailure, ref, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading columns of %s: %w", model.ErrDDLFailure, ref, err)
	}
	return names, nil
}

func hasColumn(live []string, c model.Column) bool {
	for _, name := range live {
		if c.Matches(name) {
			return true
		}
	}
	return false
}
