package model

import (
	"fmt"
	"regexp"
	"strings"
)

var identifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// IsSafeIdentifier reports whether name can be embedded in SQL without quoting.
func IsSafeIdentifier(name string) bool {
	return identifierRegex.MatchString(name)
}

// TableRef identifies a table, optionally qualified by database and schema.
type TableRef struct {
	Database string
	Schema   string
	Table    string
}

// ParseTableRef accepts "table", "schema.table" or "database.schema.table".
func ParseTableRef(s string) (TableRef, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	switch len(parts) {
	case 1:
		return TableRef{Table: parts[0]}, validateRefParts(s, parts)
	case 2:
		return TableRef{Schema: parts[0], Table: parts[1]}, validateRefParts(s, parts)
	case 3:
		return TableRef{Database: parts[0], Schema: parts[1], Table: parts[2]}, validateRefParts(s, parts)
	}
	return TableRef{}, fmt.Errorf("invalid table reference %q: expected [database.][schema.]table", s)
}

func validateRefParts(s string, parts []string) error {
	for _, p := range parts {
		if !IsSafeIdentifier(p) {
			return fmt.Errorf("invalid table reference %q: unsafe identifier %q", s, p)
		}
	}
	return nil
}

func (r TableRef) String() string {
	var parts []string
	if r.Database != "" {
		parts = append(parts, r.Database)
	}
	if r.Schema != "" {
		parts = append(parts, r.Schema)
	}
	return strings.Join(append(parts, r.Table), ".")
}

// WithTable returns a reference to another table in the same schema.
func (r TableRef) WithTable(table string) TableRef {
	r.Table = table
	return r
}

func (r TableRef) Validate() error {
	if r.Table == "" {
		return fmt.Errorf("destination table is required")
	}
	for _, p := range []string{r.Database, r.Schema, r.Table} {
		if p != "" && !IsSafeIdentifier(p) {
			return fmt.Errorf("unsafe identifier %q in destination %q", p, r.String())
		}
	}
	return nil
}

// LoadSpec describes one load invocation.
type LoadSpec struct {
	Source      string
	Destination TableRef
	Tags        Tags
	Strategy    Strategy
	Format      Format
	SkipHeader  int

	MostRecent   bool
	SingleColumn bool
	Sanitize     bool
	Strict       bool
	Recursive    bool
	Include      []string

	CreateTable  bool
	CreateSchema bool
	Grants       []string
	Audit        bool
	DryRun       bool

	// Actor is recorded as the acting identity when the warehouse cannot report one.
	Actor string
}

func (s LoadSpec) Validate() error {
	if s.Source == "" {
		return fmt.Errorf("source is required")
	}
	if err := s.Destination.Validate(); err != nil {
		return err
	}
	if _, err := ParseStrategy(string(s.Strategy)); err != nil {
		return err
	}
	if _, err := ParseFormat(string(s.Format)); err != nil {
		return err
	}
	if s.SkipHeader < 0 {
		return fmt.Errorf("skip header must not be negative: %d", s.SkipHeader)
	}
	if err := s.Tags.Validate(); err != nil {
		return err
	}
	for _, role := range s.Grants {
		if !IsSafeIdentifier(role) {
			return fmt.Errorf("unsafe grant role %q", role)
		}
	}
	return nil
}
