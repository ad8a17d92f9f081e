package encoding

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/datacampus/dcx/loader/model"
)

// SplitFields parses one line of a delimited file, honouring double-quoted fields.
func SplitFields(line string, delimiter rune) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = delimiter
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.ReuseRecord = false

	fields, err := r.Read()
	if errors.Is(err, io.EOF) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrMalformedRow, err)
	}
	return fields, nil
}

var unsafeColumnChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// SanitizeColumnName maps a header token to an upper-case identifier made of
// letters, digits and underscores that does not start with a digit.
func SanitizeColumnName(name string) string {
	sanitized := unsafeColumnChars.ReplaceAllString(strings.TrimSpace(name), "_")
	if sanitized == "" {
		return "COL"
	}
	if sanitized[0] >= '0' && sanitized[0] <= '9' {
		sanitized = "_" + sanitized
	}
	return strings.ToUpper(sanitized)
}
