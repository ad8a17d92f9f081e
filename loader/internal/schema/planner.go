package schema

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/datacampus/dcx/loader/internal/encoding"
	"github.com/datacampus/dcx/loader/internal/source"
	"github.com/datacampus/dcx/loader/model"
	"github.com/datacampus/dcx/warehouse/integrations/types"
	"github.com/datacampus/dcx/warehouse/logfield"
)

const byteOrderMark = "\ufeff"

type Plan struct {
	Format model.Format
	Files  []model.DetectedFile
	Schema model.TargetSchema
}

// InsertColumns are the columns every inserted row binds a value for, in bind order.
// Columns with defaults are left to the warehouse.
func (p Plan) InsertColumns() []model.Column {
	columns := []model.Column{{Name: model.SourceFileColumn, Type: model.StringColumn}}
	columns = append(columns, p.Schema.Tags...)
	return append(columns, p.Schema.Data...)
}

// Planner derives the target schema of a load from its files. Column names
// are checked for collisions the way dialect resolves them.
type Planner struct {
	log          logger.Logger
	maxLineBytes int
	dialect      types.Dialect
}

func NewPlanner(log logger.Logger, maxLineBytes int, dialect types.Dialect) *Planner {
	return &Planner{
		log:          log.Child("planner"),
		maxLineBytes: maxLineBytes,
		dialect:      dialect,
	}
}

func (p *Planner) Plan(ctx context.Context, spec model.LoadSpec, files []model.SourceFile) (Plan, error) {
	detected := make([]model.DetectedFile, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return Plan{}, err
		}
		d := model.DetectedFile{
			SourceFile: f,
			Format:     source.Detect(f.Name, spec.Format),
			DataLines:  spec.SkipHeader,
		}
		if len(detected) > 0 && detected[0].Format != d.Format {
			return Plan{}, fmt.Errorf("%w: %s is %s but %s is %s",
				model.ErrSchemaConflict, d.Name, d.Format, detected[0].Name, detected[0].Format)
		}
		if d.Format.Delimited() {
			header, err := p.readHeader(f, d.Format, spec.SkipHeader)
			if err != nil {
				return Plan{}, err
			}
			if spec.Sanitize {
				header = lo.Map(header, func(h string, _ int) string {
					return encoding.SanitizeColumnName(h)
				})
			}
			if len(detected) > 0 && !slices.Equal(detected[0].Header, header) {
				return Plan{}, fmt.Errorf("%w: header of %s [%s] differs from header of %s [%s]",
					model.ErrSchemaConflict,
					d.Name, strings.Join(header, ", "),
					detected[0].Name, strings.Join(detected[0].Header, ", "),
				)
			}
			d.Header = header
			d.DataLines = spec.SkipHeader + 1
		}
		detected = append(detected, d)
	}
	if len(detected) == 0 {
		return Plan{}, model.ErrNoFiles
	}

	plan := Plan{
		Format: detected[0].Format,
		Files:  detected,
		Schema: model.TargetSchema{
			System: model.SystemColumns(spec.MostRecent),
			Tags: lo.Map(spec.Tags, func(tag model.Tag, _ int) model.Column {
				return model.Column{Name: tag.Key, Type: model.StringColumn}
			}),
		},
	}

	header := detected[0].Header
	switch {
	case !plan.Format.Delimited() || spec.SingleColumn:
		if spec.SingleColumn && len(lo.Uniq(header)) != len(header) {
			return Plan{}, fmt.Errorf("%w: duplicate header names in %s", model.ErrInvalidHeader, detected[0].Name)
		}
		plan.Schema.Data = []model.Column{{Name: model.DataColumn, Type: model.VariantColumn}}
	default:
		plan.Schema.Data = lo.Map(header, func(h string, _ int) model.Column {
			return model.Column{Name: h, Type: model.StringColumn, Quoted: true}
		})
	}

	if err := plan.Schema.Validate(p.dialect.NormalizeIdentifier); err != nil {
		return Plan{}, err
	}

	p.log.Infow("planned schema",
		logfield.Format, plan.Format,
		logfield.FileCount, len(plan.Files),
		logfield.ColumnName, lo.Map(plan.Schema.Columns(), func(c model.Column, _ int) string { return c.Name }),
	)
	return plan, nil
}

// readHeader skips skip lines and parses the next one as the header.
func (p *Planner) readHeader(f model.SourceFile, format model.Format, skip int) ([]string, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrSourceUnreadable, err)
	}
	defer func() { _ = fh.Close() }()

	reader := encoding.NewLineReader(fh, p.maxLineBytes)
	var (
		line string
		ok   bool
	)
	for i := 0; i <= skip; i++ {
		if line, ok = reader.Next(); !ok {
			break
		}
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s has no header line", model.ErrInvalidHeader, f.Name)
	}

	line = strings.TrimPrefix(line, byteOrderMark)
	header, err := encoding.SplitFields(line, format.Delimiter())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", model.ErrInvalidHeader, f.Name, err)
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("%w: %s has an empty header line", model.ErrInvalidHeader, f.Name)
	}
	for i, h := range header {
		if strings.TrimSpace(h) == "" {
			return nil, fmt.Errorf("%w: %s has an empty name for column %d", model.ErrInvalidHeader, f.Name, i+1)
		}
	}
	return header, nil
}
