package model

type Summary struct {
	LoadID       string
	Destination  TableRef
	Strategy     Strategy
	Files        []string
	SkippedFiles []string
	RowsInserted int64
	RowsDeleted  int64
	RowsUnmarked int64
	// Statements holds the DDL and DCL the load ran, or would run when DryRun is set.
	Statements []string
	Grants     []string
	Status     AuditStatus
	DryRun     bool
}
