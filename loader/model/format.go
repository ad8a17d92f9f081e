package model

import (
	"fmt"
	"strings"
)

type Format string

const (
	AutoFormat         Format = "auto"
	SingleColumnFormat Format = "single-column"
	CSVFormat          Format = "csv"
	TSVFormat          Format = "tsv"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(AutoFormat):
		return AutoFormat, nil
	case string(SingleColumnFormat), "single_column", "single":
		return SingleColumnFormat, nil
	case string(CSVFormat):
		return CSVFormat, nil
	case string(TSVFormat):
		return TSVFormat, nil
	}
	return "", fmt.Errorf("unknown format %q: expected one of auto, single-column, csv, tsv", s)
}

// Delimited reports whether the format splits lines into fields.
func (f Format) Delimited() bool {
	return f == CSVFormat || f == TSVFormat
}

// Delimiter returns the field separator of a delimited format.
func (f Format) Delimiter() rune {
	if f == TSVFormat {
		return '\t'
	}
	return ','
}

func (f Format) String() string {
	return string(f)
}
