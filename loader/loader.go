// Package loader loads flat files into a warehouse table.
package loader

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rudderlabs/rudder-go-kit/bytesize"
	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/datacampus/dcx/loader/internal/materializer"
	"github.com/datacampus/dcx/loader/internal/repo"
	"github.com/datacampus/dcx/loader/internal/schema"
	"github.com/datacampus/dcx/loader/internal/source"
	"github.com/datacampus/dcx/loader/internal/strategy"
	"github.com/datacampus/dcx/loader/model"
	sqlmw "github.com/datacampus/dcx/warehouse/integrations/middleware/sqlquerywrapper"
	"github.com/datacampus/dcx/warehouse/integrations/types"
	"github.com/datacampus/dcx/warehouse/logfield"
	"github.com/datacampus/dcx/warehouse/query"
)

//go:generate mockgen -destination=../mocks/loader/mock_confirmer.go -package=mock_loader github.com/datacampus/dcx/loader Confirmer

// Confirmer asks the user to approve an action. It is only consulted outside dry-run.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

type Opt func(*Loader)

func WithConfirmer(c Confirmer) Opt {
	return func(l *Loader) {
		l.confirmer = c
	}
}

func WithNow(now func() time.Time) Opt {
	return func(l *Loader) {
		l.now = now
	}
}

type Loader struct {
	db           *sqlmw.DB
	builder      *query.Builder
	log          logger.Logger
	statsFactory stats.Stats
	confirmer    Confirmer
	now          func() time.Time

	config struct {
		insertBatchSize     int
		maxLineBytes        int
		transactional       bool
		continueOnFileError bool
		auditTable          string
		errorMessageLimit   int
	}
}

func New(
	conf *config.Config,
	log logger.Logger,
	statsFactory stats.Stats,
	db *sqlmw.DB,
	dialect types.Dialect,
	opts ...Opt,
) *Loader {
	l := &Loader{
		db:           db,
		builder:      query.New(dialect),
		log:          log.Child("loader"),
		statsFactory: statsFactory,
		now:          time.Now,
	}
	l.config.insertBatchSize = conf.GetIntVar(1000, 1, "Loader.insertBatchSize")
	l.config.maxLineBytes = int(conf.GetInt64Var(16*bytesize.MB, 1, "Loader.maxLineBytes"))
	l.config.transactional = conf.GetBoolVar(true, "Loader.transactional")
	l.config.continueOnFileError = conf.GetBoolVar(false, "Loader.continueOnFileError")
	l.config.auditTable = conf.GetStringVar(repo.DefaultHistoryTable, "Loader.auditTable")
	l.config.errorMessageLimit = conf.GetIntVar(1000, 1, "Loader.errorMessageLimit")

	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load runs one load described by spec. The returned summary is filled in as
// far as the load got, also when an error is returned.
func (l *Loader) Load(ctx context.Context, spec model.LoadSpec) (summary model.Summary, err error) {
	startedAt := l.now()
	summary = model.Summary{
		LoadID:      uuid.NewString(),
		Destination: spec.Destination,
		Strategy:    spec.Strategy,
		DryRun:      spec.DryRun,
		Status:      model.AuditFailed,
	}
	log := l.log.With(logfield.LoadID, summary.LoadID, logfield.DryRun, spec.DryRun)

	if err := spec.Validate(); err != nil {
		return summary, err
	}
	// aliases resolve to their canonical values
	spec.Strategy, _ = model.ParseStrategy(string(spec.Strategy))
	spec.Format, _ = model.ParseFormat(string(spec.Format))
	summary.Strategy = spec.Strategy
	if !model.IsSafeIdentifier(l.config.auditTable) {
		return summary, fmt.Errorf("unsafe audit table name %q", l.config.auditTable)
	}

	defer func() {
		l.report(summary, startedAt)
		if spec.Audit && !spec.DryRun {
			if auditErr := l.audit(ctx, spec, summary, err); auditErr != nil {
				log.Warnw("recording load history", logfield.Error, auditErr.Error())
				err = errors.Join(err, fmt.Errorf("recording load history: %w", auditErr))
			}
		}
	}()

	log.Infow("starting load",
		logfield.Source, spec.Source,
		logfield.TableName, spec.Destination.String(),
		logfield.Strategy, spec.Strategy,
		logfield.Tags, spec.Tags.String(),
	)

	files, cleanup, err := source.NewExpander(l.log).Expand(ctx, spec.Source, source.Options{
		Recursive: spec.Recursive,
		Include:   spec.Include,
	})
	defer cleanup()
	if err != nil {
		return summary, err
	}

	plan, err := schema.NewPlanner(l.log, l.config.maxLineBytes, l.builder.Dialect()).Plan(ctx, spec, files)
	if err != nil {
		return summary, err
	}

	m := materializer.New(l.db, l.builder, l.log, materializer.Opts{
		CreateTable:  spec.CreateTable,
		CreateSchema: spec.CreateSchema,
		Confirmer:    l.confirmer,
	})
	reconciled, err := m.Reconcile(ctx, spec.Destination, plan.Schema, spec.DryRun)
	summary.Destination = reconciled.Ref
	summary.Statements = reconciled.Statements
	if err != nil {
		return summary, err
	}

	executor := strategy.New(l.db, l.builder, l.log, strategy.Opts{
		BatchSize:           l.config.insertBatchSize,
		MaxLineBytes:        l.config.maxLineBytes,
		Transactional:       l.config.transactional,
		ContinueOnFileError: l.config.continueOnFileError,
	})
	res, err := executor.Execute(ctx, strategy.Input{
		Ref:           reconciled.Ref,
		Spec:          spec,
		Plan:          plan,
		TableExisted:  reconciled.TableExisted,
		HasMostRecent: reconciled.HasMostRecent,
		AddedColumns:  reconciled.AddedColumns,
	})
	summary.Files = res.Files
	summary.SkippedFiles = res.SkippedFiles
	summary.RowsInserted = res.Inserted
	summary.RowsDeleted = res.Deleted
	summary.RowsUnmarked = res.Unmarked
	summary.Grants = res.Grants
	summary.Statements = append(summary.Statements, res.Grants...)
	if err != nil {
		return summary, err
	}

	summary.Status = model.AuditSucceeded
	log.Infow("load finished",
		logfield.TableName, summary.Destination.String(),
		logfield.FileCount, len(summary.Files),
		logfield.RowsInserted, summary.RowsInserted,
		logfield.RowsDeleted, summary.RowsDeleted,
		logfield.RowsUnmarked, summary.RowsUnmarked,
	)
	return summary, nil
}

func (l *Loader) audit(ctx context.Context, spec model.LoadSpec, summary model.Summary, loadErr error) error {
	ref := summary.Destination
	if ref.Schema == "" {
		resolved, err := materializer.New(l.db, l.builder, l.log, materializer.Opts{}).ResolveSchema(ctx, ref)
		if err != nil {
			return err
		}
		ref = resolved
	}

	rec := model.AuditRecord{
		LoadID:         summary.LoadID,
		TableName:      ref.String(),
		Tags:           spec.Tags,
		Strategy:       spec.Strategy,
		RowsLoaded:     summary.RowsInserted,
		FilesProcessed: len(summary.Files),
		RowsDeleted:    summary.RowsDeleted,
		Timestamp:      l.now(),
		Status:         summary.Status,
		Actor:          spec.Actor,
	}
	if loadErr != nil {
		rec.Error = model.TruncateError(loadErr.Error(), l.config.errorMessageLimit)
	}
	history := repo.NewHistory(l.db, l.builder, ref.WithTable(l.config.auditTable),
		repo.WithNow(l.now),
		repo.WithStats(l.statsFactory),
	)
	return history.Record(ctx, rec)
}

// HistoryFilter narrows History to one table and a number of records.
type HistoryFilter = repo.ListFilter

// History lists the audit records kept in the schema of ref.
func (l *Loader) History(ctx context.Context, ref model.TableRef, filter HistoryFilter) ([]model.AuditRecord, error) {
	ref, err := materializer.New(l.db, l.builder, l.log, materializer.Opts{}).ResolveSchema(ctx, ref)
	if err != nil {
		return nil, err
	}
	return repo.NewHistory(l.db, l.builder, ref.WithTable(l.config.auditTable)).List(ctx, filter)
}

func (l *Loader) report(summary model.Summary, startedAt time.Time) {
	tags := stats.Tags{
		"status":   string(summary.Status),
		"strategy": summary.Strategy.String(),
		"dryRun":   strconv.FormatBool(summary.DryRun),
	}
	l.statsFactory.NewTaggedStat("dcx_loads", stats.CountType, tags).Increment()
	l.statsFactory.NewTaggedStat("dcx_load_rows_inserted", stats.CountType, tags).Count(int(summary.RowsInserted))
	l.statsFactory.NewTaggedStat("dcx_load_rows_deleted", stats.CountType, tags).Count(int(summary.RowsDeleted))
	l.statsFactory.NewTaggedStat("dcx_load_files", stats.CountType, tags).Count(len(summary.Files))
	l.statsFactory.NewTaggedStat("dcx_load_duration", stats.TimerType, tags).Since(startedAt)
}
