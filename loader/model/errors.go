package model

import "errors"

var (
	ErrSourceNotFound         = errors.New("source not found")
	ErrSourceUnreadable       = errors.New("source unreadable")
	ErrNoFiles                = errors.New("no files found")
	ErrSchemaConflict         = errors.New("schema conflict")
	ErrInvalidHeader          = errors.New("invalid header")
	ErrDestinationMissing     = errors.New("destination missing")
	ErrSchemaCreationDeclined = errors.New("schema creation declined")
	ErrLineTooLong            = errors.New("line too long")
	ErrMalformedRow           = errors.New("malformed row")
	ErrInvalidEncoding        = errors.New("invalid encoding")
	ErrDDLFailure             = errors.New("ddl failure")
	ErrDMLFailure             = errors.New("dml failure")
	ErrPartialFailure         = errors.New("partial failure")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	// partial failures wrap the underlying destination error, so they are matched first
	{ErrPartialFailure, "PartialFailure"},
	{ErrSourceNotFound, "SourceNotFound"},
	{ErrSourceUnreadable, "SourceUnreadable"},
	{ErrNoFiles, "NoFiles"},
	{ErrSchemaConflict, "SchemaConflict"},
	{ErrInvalidHeader, "InvalidHeader"},
	{ErrDestinationMissing, "DestinationMissing"},
	{ErrSchemaCreationDeclined, "SchemaCreationDeclined"},
	{ErrLineTooLong, "LineTooLong"},
	{ErrMalformedRow, "MalformedRow"},
	{ErrInvalidEncoding, "InvalidEncoding"},
	{ErrDDLFailure, "DDLFailure"},
	{ErrDMLFailure, "DMLFailure"},
}

// ErrorKind returns the name of the first known error kind found in err's chain,
// or "Unknown" when err is not one of the load errors.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, ek := range errorKinds {
		if errors.Is(err, ek.err) {
			return ek.kind
		}
	}
	return "Unknown"
}

// IsFileLocal reports whether err only concerns the contents of a single source file.
func IsFileLocal(err error) bool {
	return errors.Is(err, ErrLineTooLong) || errors.Is(err, ErrMalformedRow)
}
