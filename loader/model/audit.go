package model

import "time"

type AuditStatus string

const (
	AuditSucceeded AuditStatus = "success"
	AuditFailed    AuditStatus = "failed"
)

type AuditRecord struct {
	LoadID         string
	TableName      string
	Tags           Tags
	Strategy       Strategy
	RowsLoaded     int64
	FilesProcessed int
	RowsDeleted    int64
	Timestamp      time.Time
	Status         AuditStatus
	Error          string
	Actor          string
}

// TruncateError shortens msg to at most limit characters.
func TruncateError(msg string, limit int) string {
	if limit <= 0 {
		return msg
	}
	r := []rune(msg)
	if len(r) <= limit {
		return msg
	}
	return string(r[:limit])
}
