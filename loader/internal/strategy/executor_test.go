package strategy_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/logger/mock_logger"

	"github.com/datacampus/dcx/loader/internal/materializer"
	"github.com/datacampus/dcx/loader/internal/schema"
	"github.com/datacampus/dcx/loader/internal/strategy"
	"github.com/datacampus/dcx/loader/model"
	"github.com/datacampus/dcx/warehouse/integrations/duckdb"
	sqlmw "github.com/datacampus/dcx/warehouse/integrations/middleware/sqlquerywrapper"
	"github.com/datacampus/dcx/warehouse/integrations/snowflake"
	"github.com/datacampus/dcx/warehouse/logfield"
	"github.com/datacampus/dcx/warehouse/query"
)

const maxLineBytes = 64

type file struct {
	name    string
	content string
}

type harness struct {
	t       *testing.T
	db      *sqlmw.DB
	builder *query.Builder
	ref     model.TableRef
	log     logger.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := duckdb.Open(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return &harness{
		t:       t,
		db:      sqlmw.New(db),
		builder: query.New(duckdb.Dialect{}),
		ref:     model.TableRef{Schema: "main", Table: "people"},
		log:     logger.NOP,
	}
}

func (h *harness) spec(strategyName model.Strategy, tags ...model.Tag) model.LoadSpec {
	return model.LoadSpec{
		Source:      "testdata",
		Destination: h.ref,
		Tags:        tags,
		Strategy:    strategyName,
		CreateTable: true,
	}
}

// run plans and reconciles spec for files, then executes it.
func (h *harness) run(spec model.LoadSpec, opts strategy.Opts, files ...file) (strategy.Result, error) {
	h.t.Helper()
	ctx := context.Background()

	dir := h.t.TempDir()
	var sources []model.SourceFile
	for _, f := range files {
		p := filepath.Join(dir, f.name)
		require.NoError(h.t, os.WriteFile(p, []byte(f.content), 0o600))
		sources = append(sources, model.SourceFile{Path: p, Name: f.name})
	}

	plan, err := schema.NewPlanner(logger.NOP, maxLineBytes, h.builder.Dialect()).Plan(ctx, spec, sources)
	require.NoError(h.t, err)

	m := materializer.New(h.db, h.builder, logger.NOP, materializer.Opts{CreateTable: true})
	rec, err := m.Reconcile(ctx, spec.Destination, plan.Schema, spec.DryRun)
	require.NoError(h.t, err)

	if opts.BatchSize == 0 {
		opts.BatchSize = 1000
	}
	opts.MaxLineBytes = maxLineBytes
	return strategy.New(h.db, h.builder, h.log, opts).Execute(ctx, strategy.Input{
		Ref:           rec.Ref,
		Spec:          spec,
		Plan:          plan,
		TableExisted:  rec.TableExisted,
		HasMostRecent: rec.HasMostRecent,
		AddedColumns:  rec.AddedColumns,
	})
}

func (h *harness) count(where string) int {
	h.t.Helper()
	q := "SELECT COUNT(*) FROM " + h.ref.String()
	if where != "" {
		q += " WHERE " + where
	}
	var n int
	require.NoError(h.t, h.db.QueryRowContext(context.Background(), q).Scan(&n))
	return n
}

var (
	people  = file{name: "people.csv", content: "NAME,EMAIL\nalice,a@x.io\nbob,b@x.io\n"}
	more    = file{name: "more.csv", content: "NAME,EMAIL\ncarol,c@x.io\n"}
	tooLong = file{name: "long.csv", content: "NAME,EMAIL\n" + strings.Repeat("x", maxLineBytes+1) + ",y\n"}

	batch1 = model.Tag{Key: "batch", Value: "1"}
	batch2 = model.Tag{Key: "batch", Value: "2"}
)

func TestExecutor_Strategies(t *testing.T) {
	transactional := strategy.Opts{Transactional: true}

	t.Run("append adds rows", func(t *testing.T) {
		h := newHarness(t)
		for i := 0; i < 2; i++ {
			res, err := h.run(h.spec(model.AppendStrategy, batch1), transactional, people)
			require.NoError(t, err)
			require.EqualValues(t, 2, res.Inserted)
			require.Zero(t, res.Deleted)
		}
		require.Equal(t, 4, h.count(""))
	})

	t.Run("overwrite replaces only the tag set", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.run(h.spec(model.AppendStrategy, batch2), transactional, more)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			res, err := h.run(h.spec(model.OverwriteStrategy, batch1), transactional, people)
			require.NoError(t, err)
			require.EqualValues(t, 2, res.Inserted)
			if i > 0 {
				require.EqualValues(t, 2, res.Deleted)
			}
		}
		require.Equal(t, 2, h.count("batch = '1'"))
		require.Equal(t, 1, h.count("batch = '2'"))
	})

	t.Run("overwrite without tags replaces everything", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.run(h.spec(model.AppendStrategy), transactional, people, more)
		require.NoError(t, err)

		res, err := h.run(h.spec(model.OverwriteStrategy), transactional, more)
		require.NoError(t, err)
		require.EqualValues(t, 3, res.Deleted)
		require.Equal(t, 1, h.count(""))
	})

	t.Run("overwrite without tags warns before deleting", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.run(h.spec(model.AppendStrategy), transactional, people)
		require.NoError(t, err)

		mockLog := mock_logger.NewMockLogger(gomock.NewController(t))
		mockLog.EXPECT().Child(gomock.Any()).Return(mockLog).AnyTimes()
		mockLog.EXPECT().With(gomock.Any()).Return(mockLog).AnyTimes()
		mockLog.EXPECT().Debugw(gomock.Any(), gomock.Any()).AnyTimes()
		mockLog.EXPECT().Infow(gomock.Any(), gomock.Any()).AnyTimes()
		mockLog.EXPECT().Warnw("overwrite without tags deletes every row of the table", logfield.RowsDeleted, int64(2)).Times(1)
		h.log = mockLog

		res, err := h.run(h.spec(model.OverwriteStrategy), transactional, more)
		require.NoError(t, err)
		require.EqualValues(t, 2, res.Deleted)
	})

	t.Run("replace truncates the table", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.run(h.spec(model.AppendStrategy, batch2), transactional, people)
		require.NoError(t, err)

		res, err := h.run(h.spec(model.ReplaceStrategy, batch1), transactional, more)
		require.NoError(t, err)
		require.EqualValues(t, 2, res.Deleted)
		require.Equal(t, 1, h.count(""))
		require.Equal(t, 1, h.count("batch = '1'"))
	})

	t.Run("most recent marks only the latest load per tag set", func(t *testing.T) {
		h := newHarness(t)
		spec := func(tag model.Tag) model.LoadSpec {
			s := h.spec(model.AppendStrategy, tag)
			s.MostRecent = true
			return s
		}
		_, err := h.run(spec(batch2), transactional, more)
		require.NoError(t, err)
		_, err = h.run(spec(batch1), transactional, people)
		require.NoError(t, err)
		res, err := h.run(spec(batch1), transactional, more)
		require.NoError(t, err)
		require.EqualValues(t, 2, res.Unmarked)

		require.Equal(t, 1, h.count("batch = '1' AND is_most_recent"))
		require.Equal(t, 2, h.count("batch = '1' AND NOT is_most_recent"))
		require.Equal(t, 1, h.count("batch = '2' AND is_most_recent"))
	})

	t.Run("batches respect the batch size", func(t *testing.T) {
		h := newHarness(t)
		five := file{name: "five.csv", content: "NAME,EMAIL\na,1\nb,2\nc,3\nd,4\ne,5\n"}
		res, err := h.run(h.spec(model.AppendStrategy, batch1), strategy.Opts{Transactional: true, BatchSize: 2}, five)
		require.NoError(t, err)
		require.EqualValues(t, 5, res.Inserted)
		require.Equal(t, 5, h.count(""))
	})
}

func TestExecutor_DryRun(t *testing.T) {
	transactional := strategy.Opts{Transactional: true}
	h := newHarness(t)

	s := h.spec(model.AppendStrategy, batch1)
	s.MostRecent = true
	_, err := h.run(s, transactional, people)
	require.NoError(t, err)

	testCases := []struct {
		name     string
		strategy model.Strategy
	}{
		{name: "append", strategy: model.AppendStrategy},
		{name: "overwrite", strategy: model.OverwriteStrategy},
		{name: "replace", strategy: model.ReplaceStrategy},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			s := h.spec(tc.strategy, batch1)
			s.MostRecent = true
			s.DryRun = true
			s.Grants = []string{"ANALYST"}
			planned, err := h.run(s, transactional, more)
			require.NoError(t, err)
			require.Equal(t, 2, h.count(""))
			require.Nil(t, planned.Grants)

			// run the same load for real on a copy of the table
			_, err = h.db.ExecContext(context.Background(), "CREATE TABLE main.people_backup AS SELECT * FROM main.people")
			require.NoError(t, err)
			t.Cleanup(func() {
				_, _ = h.db.ExecContext(context.Background(), "DELETE FROM main.people")
				_, _ = h.db.ExecContext(context.Background(), "INSERT INTO main.people SELECT * FROM main.people_backup")
				_, _ = h.db.ExecContext(context.Background(), "DROP TABLE main.people_backup")
			})

			s.DryRun = false
			actual, err := h.run(s, transactional, more)
			require.NoError(t, err)
			require.Equal(t, actual.Inserted, planned.Inserted)
			require.Equal(t, actual.Deleted, planned.Deleted)
			require.Equal(t, actual.Unmarked, planned.Unmarked)
			require.Equal(t, actual.Files, planned.Files)
		})
	}
}

func TestExecutor_DryRunMostRecentAdded(t *testing.T) {
	transactional := strategy.Opts{Transactional: true}
	region := model.Tag{Key: "region", Value: "eu"}

	testCases := []struct {
		name         string
		tag          model.Tag
		wantUnmarked int64
		wantMarked   int
	}{
		{name: "existing tag column", tag: batch1, wantUnmarked: 2, wantMarked: 1},
		// earlier rows have no region so they stay marked
		{name: "new tag column", tag: region, wantUnmarked: 0, wantMarked: 3},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.run(h.spec(model.AppendStrategy, batch1), transactional, people)
			require.NoError(t, err)

			s := h.spec(model.AppendStrategy, tc.tag)
			s.MostRecent = true
			s.DryRun = true
			planned, err := h.run(s, transactional, more)
			require.NoError(t, err)
			require.Equal(t, tc.wantUnmarked, planned.Unmarked)

			s.DryRun = false
			actual, err := h.run(s, transactional, more)
			require.NoError(t, err)
			require.Equal(t, actual.Unmarked, planned.Unmarked)
			require.Equal(t, tc.wantMarked, h.count("is_most_recent"))
		})
	}
}

func TestExecutor_DryRunFileErrors(t *testing.T) {
	testCases := []struct {
		name        string
		opts        strategy.Opts
		wantErr     error
		wantSkipped []string
	}{
		{
			name:    "file error fails the load",
			opts:    strategy.Opts{Transactional: true},
			wantErr: model.ErrLineTooLong,
		},
		{
			name:        "file error skips the file",
			opts:        strategy.Opts{Transactional: true, ContinueOnFileError: true},
			wantSkipped: []string{"long.csv"},
		},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			s := h.spec(model.AppendStrategy, batch1)
			s.DryRun = true
			planned, plannedErr := h.run(s, tc.opts, people, tooLong)

			s.DryRun = false
			actual, actualErr := h.run(s, tc.opts, people, tooLong)

			if tc.wantErr != nil {
				require.ErrorIs(t, plannedErr, tc.wantErr)
				require.ErrorIs(t, actualErr, tc.wantErr)
				return
			}
			require.NoError(t, plannedErr)
			require.NoError(t, actualErr)
			require.Equal(t, tc.wantSkipped, planned.SkippedFiles)
			require.Equal(t, actual.SkippedFiles, planned.SkippedFiles)
			require.Equal(t, actual.Inserted, planned.Inserted)
		})
	}
}

func TestExecutor_Failures(t *testing.T) {
	t.Run("transactional load leaves nothing behind", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.run(h.spec(model.AppendStrategy, batch1), strategy.Opts{Transactional: true}, more, people)
		require.NoError(t, err)

		_, err = h.run(h.spec(model.OverwriteStrategy, batch1), strategy.Opts{Transactional: true}, people, tooLong)
		require.ErrorIs(t, err, model.ErrLineTooLong)
		require.NotErrorIs(t, err, model.ErrPartialFailure)
		require.Equal(t, 3, h.count(""))
	})

	t.Run("non transactional load reports a partial failure", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.run(h.spec(model.AppendStrategy, batch1), strategy.Opts{}, people, tooLong)
		require.ErrorIs(t, err, model.ErrPartialFailure)
		require.ErrorIs(t, err, model.ErrLineTooLong)
		require.Equal(t, 2, h.count(""))
	})

	t.Run("continue on file error skips the file", func(t *testing.T) {
		h := newHarness(t)
		res, err := h.run(h.spec(model.AppendStrategy, batch1), strategy.Opts{Transactional: true, ContinueOnFileError: true}, people, tooLong)
		require.NoError(t, err)
		require.Equal(t, []string{"long.csv"}, res.SkippedFiles)
		require.Equal(t, []string{"people.csv"}, res.Files)
		require.Equal(t, 2, h.count(""))
	})

	t.Run("nothing is deleted when every file is skipped", func(t *testing.T) {
		testCases := []struct {
			name     string
			strategy model.Strategy
		}{
			{name: "replace", strategy: model.ReplaceStrategy},
			{name: "overwrite", strategy: model.OverwriteStrategy},
		}
		for _, tc := range testCases {
			tc := tc
			t.Run(tc.name, func(t *testing.T) {
				h := newHarness(t)
				_, err := h.run(h.spec(model.AppendStrategy, batch1), strategy.Opts{Transactional: true}, people)
				require.NoError(t, err)

				opts := strategy.Opts{Transactional: true, ContinueOnFileError: true}
				for _, s := range []bool{true, false} {
					spec := h.spec(tc.strategy, batch1)
					spec.DryRun = s
					res, err := h.run(spec, opts, tooLong)
					require.ErrorIs(t, err, model.ErrLineTooLong)
					require.Equal(t, []string{"long.csv"}, res.SkippedFiles)
					require.Zero(t, res.Deleted)
				}
				require.Equal(t, 2, h.count(""))
			})
		}
	})

	t.Run("strict rejects malformed rows", func(t *testing.T) {
		h := newHarness(t)
		s := h.spec(model.AppendStrategy, batch1)
		s.Strict = true
		_, err := h.run(s, strategy.Opts{Transactional: true}, file{name: "bad.csv", content: "NAME,EMAIL\nalice\n"})
		require.ErrorIs(t, err, model.ErrMalformedRow)
		require.Zero(t, h.count(""))
	})

	t.Run("grants are skipped where unsupported", func(t *testing.T) {
		h := newHarness(t)
		s := h.spec(model.AppendStrategy, batch1)
		s.Grants = []string{"ANALYST"}
		res, err := h.run(s, strategy.Opts{Transactional: true}, people)
		require.NoError(t, err)
		require.Empty(t, res.Grants)
	})
}

func TestExecutor_Snowflake(t *testing.T) {
	ctx := context.Background()
	ref := model.TableRef{Database: "ANALYTICS", Schema: "RAW", Table: "EVENTS"}

	dir := t.TempDir()
	path := filepath.Join(dir, "events.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\n"), 0o600))

	spec := model.LoadSpec{
		Source:      path,
		Destination: ref,
		Tags:        model.Tags{batch1},
		Strategy:    model.OverwriteStrategy,
		Grants:      []string{"ANALYST"},
	}
	plan, err := schema.NewPlanner(logger.NOP, maxLineBytes, snowflake.Dialect{}).Plan(ctx, spec, []model.SourceFile{{Path: path, Name: "events.txt"}})
	require.NoError(t, err)

	testCases := []struct {
		name     string
		grantErr error
		wantErr  error
	}{
		{name: "granted"},
		{name: "grant fails after commit", grantErr: errors.New("insufficient privileges"), wantErr: model.ErrPartialFailure},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })

			mock.ExpectBegin()
			mock.ExpectQuery("SELECT COUNT(*) FROM ANALYTICS.RAW.EVENTS WHERE batch = ?").
				WithArgs("1").
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
			mock.ExpectExec("DELETE FROM ANALYTICS.RAW.EVENTS WHERE batch = ?").
				WithArgs("1").
				WillReturnResult(sqlmock.NewResult(0, 5))
			mock.ExpectExec("INSERT INTO ANALYTICS.RAW.EVENTS (_source_file, batch, data) SELECT column1, column2, PARSE_JSON(column3) FROM VALUES (?, ?, ?), (?, ?, ?)").
				WithArgs("events.txt", "1", `"one"`, "events.txt", "1", `"two"`).
				WillReturnResult(sqlmock.NewResult(0, 2))
			mock.ExpectCommit()
			mock.ExpectExec("GRANT USAGE ON SCHEMA ANALYTICS.RAW TO ROLE ANALYST").
				WillReturnResult(sqlmock.NewResult(0, 0))
			if tc.grantErr != nil {
				mock.ExpectExec("GRANT SELECT ON TABLE ANALYTICS.RAW.EVENTS TO ROLE ANALYST").
					WillReturnError(tc.grantErr)
			} else {
				mock.ExpectExec("GRANT SELECT ON TABLE ANALYTICS.RAW.EVENTS TO ROLE ANALYST").
					WillReturnResult(sqlmock.NewResult(0, 0))
			}

			e := strategy.New(sqlmw.New(db), query.New(snowflake.Dialect{}), logger.NOP, strategy.Opts{
				BatchSize:     1000,
				MaxLineBytes:  maxLineBytes,
				Transactional: true,
			})
			res, err := e.Execute(ctx, strategy.Input{Ref: ref, Spec: spec, Plan: plan, TableExisted: true})
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				require.Equal(t, strategy.Failed, e.State())
			} else {
				require.NoError(t, err)
				require.Equal(t, strategy.Done, e.State())
			}
			require.EqualValues(t, 5, res.Deleted)
			require.EqualValues(t, 2, res.Inserted)
			require.Len(t, res.Grants, 2)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
