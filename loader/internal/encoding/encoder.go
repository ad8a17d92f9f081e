package encoding

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/rudderlabs/rudder-go-kit/jsonrs"
	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/datacampus/dcx/loader/model"
	"github.com/datacampus/dcx/warehouse/logfield"
)

type Options struct {
	// SingleColumn stores a delimited row as one ordered JSON object keyed by the header.
	SingleColumn bool
	// Strict rejects rows whose field count differs from the header instead of padding them.
	Strict bool
	// RawLines keeps single-column lines as read instead of encoding them as
	// JSON strings, for warehouses whose variant columns are plain text.
	RawLines     bool
	MaxLineBytes int
}

// Encoder turns the data lines of one file into the values of its data columns.
type Encoder struct {
	file model.DetectedFile
	opts Options
	log  logger.Logger

	mismatched int
}

func NewEncoder(file model.DetectedFile, opts Options, log logger.Logger) *Encoder {
	return &Encoder{
		file: file,
		opts: opts,
		log:  log.Child("encoder").With(logfield.SourceFile, file.Name),
	}
}

// Encode returns the data column values of one line. ok is false for lines
// that produce no row.
func (e *Encoder) Encode(line string, lineNumber int) (values []any, ok bool, err error) {
	if !e.file.Format.Delimited() {
		if e.opts.RawLines {
			return []any{line}, true, nil
		}
		v, err := jsonrs.Marshal(line)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %s line %d: %w", model.ErrMalformedRow, e.file.Name, lineNumber, err)
		}
		return []any{string(v)}, true, nil
	}

	if line == "" {
		return nil, false, nil
	}
	fields, err := SplitFields(line, e.file.Format.Delimiter())
	if err != nil {
		return nil, false, fmt.Errorf("%s line %d: %w", e.file.Name, lineNumber, err)
	}
	if len(fields) != len(e.file.Header) {
		if e.opts.Strict {
			return nil, false, fmt.Errorf("%w: %s line %d has %d fields, header has %d",
				model.ErrMalformedRow, e.file.Name, lineNumber, len(fields), len(e.file.Header))
		}
		e.mismatched++
		e.log.Debugw("field count mismatch",
			logfield.LineNumber, lineNumber,
			logfield.Expected, len(e.file.Header),
			logfield.Actual, len(fields),
		)
	}

	if e.opts.SingleColumn {
		obj, err := e.object(fields)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %s line %d: %w", model.ErrMalformedRow, e.file.Name, lineNumber, err)
		}
		return []any{obj}, true, nil
	}

	values = make([]any, len(e.file.Header))
	for i := range values {
		if i < len(fields) {
			values[i] = fields[i]
		}
	}
	return values, true, nil
}

// object renders fields as a JSON object in header order; missing fields are null.
func (e *Encoder) object(fields []string) (string, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range e.file.Header {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := jsonrs.Marshal(name)
		if err != nil {
			return "", err
		}
		buf.Write(k)
		buf.WriteByte(':')
		if i >= len(fields) {
			buf.WriteString("null")
			continue
		}
		v, err := jsonrs.Marshal(fields[i])
		if err != nil {
			return "", err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.String(), nil
}

// Stream reads the file, skipping the lines preceding its data, and calls fn
// with the values of every row. It returns the number of rows passed to fn.
func (e *Encoder) Stream(ctx context.Context, fn func(values []any) error) (int64, error) {
	f, err := os.Open(e.file.Path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", model.ErrSourceUnreadable, err)
	}
	defer func() { _ = f.Close() }()

	var rows int64
	reader := NewLineReader(f, e.opts.MaxLineBytes)
	for {
		line, ok := reader.Next()
		if !ok {
			break
		}
		if reader.LineNumber() <= e.file.DataLines {
			continue
		}
		if rows%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return rows, err
			}
		}
		values, ok, err := e.Encode(line, reader.LineNumber())
		if err != nil {
			return rows, err
		}
		if !ok {
			continue
		}
		if err := fn(values); err != nil {
			return rows, err
		}
		rows++
	}
	if err := reader.Err(); err != nil {
		return rows, fmt.Errorf("%s: %w", e.file.Name, err)
	}

	if e.mismatched > 0 {
		e.log.Warnw("padded or truncated rows whose field count differs from the header",
			logfield.Actual, e.mismatched,
			logfield.Expected, len(e.file.Header),
		)
	}
	return rows, nil
}
