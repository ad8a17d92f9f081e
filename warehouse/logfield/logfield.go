package logfield

const (
	LoadID             = "loadID"
	Status             = "status"
	Strategy           = "strategy"
	Source             = "source"
	SourceFile         = "sourceFile"
	Format             = "format"
	Database           = "database"
	Namespace          = "namespace"
	TableName          = "tableName"
	ColumnName         = "columnName"
	Tags               = "tags"
	Role               = "role"
	Error              = "error"
	DryRun             = "dryRun"
	State              = "state"
	LineNumber         = "lineNumber"
	Expected           = "expected"
	Actual             = "actual"
	RowsInserted       = "rowsInserted"
	RowsDeleted        = "rowsDeleted"
	RowsUnmarked       = "rowsUnmarked"
	FileCount          = "fileCount"
	Connection         = "connection"
	WarehouseType      = "warehouseType"
	Query              = "query"
	QueryExecutionTime = "queryExecutionTime"
)
