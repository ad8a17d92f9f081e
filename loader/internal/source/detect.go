package source

import (
	"path"
	"strings"

	"github.com/datacampus/dcx/loader/model"
)

// Detect returns the format of a file. An explicit format always wins,
// otherwise the extension decides and the content is never inspected.
func Detect(name string, explicit model.Format) model.Format {
	if explicit != "" && explicit != model.AutoFormat {
		return explicit
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".csv":
		return model.CSVFormat
	case ".tsv":
		return model.TSVFormat
	}
	return model.SingleColumnFormat
}
