package encoding

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/datacampus/dcx/loader/model"
)

const initialBufferCapacity = 64 * 1024

// LineReader streams the lines of a file without their terminators. CRLF and
// LF endings are both accepted; a final line without a terminator is returned.
type LineReader struct {
	scanner      *bufio.Scanner
	maxLineBytes int
	lineNumber   int
	err          error
}

// NewLineReader returns a reader failing with ErrLineTooLong on lines longer than maxLineBytes.
func NewLineReader(r io.Reader, maxLineBytes int) *LineReader {
	// the scanner needs room for the terminator to recognise a line of exactly maxLineBytes
	maxCapacity := maxLineBytes + 2
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, min(initialBufferCapacity, maxCapacity)), maxCapacity)

	return &LineReader{scanner: scanner, maxLineBytes: maxLineBytes}
}

// Next advances to the next line. It returns false at the end of input or on
// error; Err tells them apart.
func (r *LineReader) Next() (string, bool) {
	if r.err != nil {
		return "", false
	}
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				r.err = fmt.Errorf("%w: line %d exceeds %d bytes", model.ErrLineTooLong, r.lineNumber+1, r.maxLineBytes)
			} else {
				r.err = fmt.Errorf("%w: %w", model.ErrSourceUnreadable, err)
			}
		}
		return "", false
	}
	r.lineNumber++
	line := r.scanner.Text()
	if len(line) > r.maxLineBytes {
		r.err = fmt.Errorf("%w: line %d exceeds %d bytes", model.ErrLineTooLong, r.lineNumber, r.maxLineBytes)
		return "", false
	}
	return line, true
}

// LineNumber is the 1-based number of the line last returned by Next.
func (r *LineReader) LineNumber() int {
	return r.lineNumber
}

func (r *LineReader) Err() error {
	return r.err
}
