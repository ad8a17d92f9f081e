package model

// SourceFile is a regular file produced by the expander.
type SourceFile struct {
	// Path is where the file can be opened.
	Path string
	// Name is recorded in _source_file: the archive-relative name for archive
	// members, the base name otherwise.
	Name string
}

type DetectedFile struct {
	SourceFile
	Format Format
	// Header is empty for single-column files.
	Header []string
	// DataLines is the number of leading lines (skipped lines and header) that precede data.
	DataLines int
}
