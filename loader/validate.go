package loader

import (
	"context"
	"fmt"
	"os"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/rudderlabs/rudder-go-kit/bytesize"
	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/datacampus/dcx/loader/internal/encoding"
	"github.com/datacampus/dcx/loader/internal/source"
	"github.com/datacampus/dcx/loader/model"
	"github.com/datacampus/dcx/warehouse/logfield"
)

type ValidateOptions struct {
	Recursive bool
	Include   []string
	Format    model.Format
}

// FileReport is the outcome of validating one file. Err is nil for a valid file.
type FileReport struct {
	Name         string
	Format       model.Format
	Size         int64
	Lines        int64
	MaxLineBytes int
	AvgLineBytes float64
	Err          error
}

func (r FileReport) Valid() bool {
	return r.Err == nil
}

// Validator checks files against the line ceiling and for UTF-8 encoding without loading them.
type Validator struct {
	log          logger.Logger
	maxLineBytes int
	concurrency  int
}

func NewValidator(conf *config.Config, log logger.Logger) *Validator {
	return &Validator{
		log:          log.Child("validator"),
		maxLineBytes: int(conf.GetInt64Var(16*bytesize.MB, 1, "Loader.maxLineBytes")),
		concurrency:  conf.GetIntVar(4, 1, "Validate.concurrency"),
	}
}

// Validate reports on every file of src in name order. The error is only set
// when the files themselves could not be listed.
func (v *Validator) Validate(ctx context.Context, src string, opts ValidateOptions) ([]FileReport, error) {
	files, cleanup, err := source.NewExpander(v.log).Expand(ctx, src, source.Options{
		Recursive: opts.Recursive,
		Include:   opts.Include,
	})
	defer cleanup()
	if err != nil {
		return nil, err
	}

	reports := make([]FileReport, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, v.concurrency))
	for i, f := range files {
		g.Go(func() error {
			reports[i] = v.validateFile(ctx, f, source.Detect(f.Name, opts.Format))
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	invalid := 0
	for _, r := range reports {
		if !r.Valid() {
			invalid++
		}
	}
	v.log.Infow("validated files", logfield.FileCount, len(reports), logfield.Actual, invalid)
	return reports, nil
}

func (v *Validator) validateFile(ctx context.Context, f model.SourceFile, format model.Format) FileReport {
	report := FileReport{Name: f.Name, Format: format}

	fh, err := os.Open(f.Path)
	if err != nil {
		report.Err = fmt.Errorf("%w: %w", model.ErrSourceUnreadable, err)
		return report
	}
	defer func() { _ = fh.Close() }()
	if info, err := fh.Stat(); err == nil {
		report.Size = info.Size()
	}

	var total int64
	reader := encoding.NewLineReader(fh, v.maxLineBytes)
	for {
		line, ok := reader.Next()
		if !ok {
			break
		}
		if reader.LineNumber()%10000 == 0 && ctx.Err() != nil {
			report.Err = ctx.Err()
			return report
		}
		report.Lines++
		total += int64(len(line))
		report.MaxLineBytes = max(report.MaxLineBytes, len(line))
		if !utf8.ValidString(line) {
			report.Err = fmt.Errorf("%w: line %d is not valid UTF-8", model.ErrInvalidEncoding, reader.LineNumber())
			break
		}
	}
	if err := reader.Err(); err != nil && report.Err == nil {
		report.Err = err
	}
	if report.Lines > 0 {
		report.AvgLineBytes = float64(total) / float64(report.Lines)
	}
	return report
}
