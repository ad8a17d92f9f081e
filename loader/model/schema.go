package model

import (
	"fmt"
	"strings"
)

type ColumnType string

const (
	StringColumn    ColumnType = "string"
	TimestampColumn ColumnType = "timestamp"
	BooleanColumn   ColumnType = "boolean"
	VariantColumn   ColumnType = "variant"
	IntegerColumn   ColumnType = "integer"
)

type ColumnDefault int

const (
	NoDefault ColumnDefault = iota
	DefaultNow
	DefaultTrue
)

const (
	SourceFileColumn    = "_source_file"
	LoadTimestampColumn = "_load_timestamp"
	MostRecentColumn    = "is_most_recent"
	DataColumn          = "data"
)

type Column struct {
	Name    string
	Type    ColumnType
	Quoted  bool
	Default ColumnDefault
}

// Normalizer returns the name a warehouse resolves an identifier to.
type Normalizer func(name string, quoted bool) string

// Matches reports whether a live column name refers to c.
func (c Column) Matches(live string) bool {
	if c.Quoted {
		return c.Name == live
	}
	return strings.EqualFold(c.Name, live)
}

// TargetSchema is the planned column layout of a destination table.
type TargetSchema struct {
	System []Column
	Tags   []Column
	Data   []Column
}

// Columns returns system, tag and data columns in that order.
func (s TargetSchema) Columns() []Column {
	columns := make([]Column, 0, len(s.System)+len(s.Tags)+len(s.Data))
	columns = append(columns, s.System...)
	columns = append(columns, s.Tags...)
	return append(columns, s.Data...)
}

func (s TargetSchema) HasColumn(name string) bool {
	for _, c := range s.Columns() {
		if c.Matches(name) {
			return true
		}
	}
	return false
}

// Validate fails with ErrSchemaConflict when two columns normalise to the same
// name under the warehouse's identifier rules.
func (s TargetSchema) Validate(normalize Normalizer) error {
	seen := make(map[string]string)
	for _, c := range s.Columns() {
		n := normalize(c.Name, c.Quoted)
		if prev, ok := seen[n]; ok {
			return fmt.Errorf("%w: column %q collides with %q", ErrSchemaConflict, c.Name, prev)
		}
		seen[n] = c.Name
	}
	return nil
}

// SystemColumns returns the bookkeeping columns every destination table carries.
func SystemColumns(mostRecent bool) []Column {
	columns := []Column{
		{Name: SourceFileColumn, Type: StringColumn},
		{Name: LoadTimestampColumn, Type: TimestampColumn, Default: DefaultNow},
	}
	if mostRecent {
		columns = append(columns, Column{Name: MostRecentColumn, Type: BooleanColumn, Default: DefaultTrue})
	}
	return columns
}
