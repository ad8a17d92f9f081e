package model

import (
	"fmt"
	"strings"
)

type Strategy string

const (
	// OverwriteStrategy deletes rows matching the load's tags before inserting.
	OverwriteStrategy Strategy = "overwrite"
	// AppendStrategy only inserts, keeping the full history under a tag set.
	AppendStrategy Strategy = "append"
	// ReplaceStrategy truncates the whole table before inserting.
	ReplaceStrategy Strategy = "replace"
)

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(OverwriteStrategy):
		return OverwriteStrategy, nil
	case string(AppendStrategy):
		return AppendStrategy, nil
	case string(ReplaceStrategy), "truncate":
		return ReplaceStrategy, nil
	}
	return "", fmt.Errorf("unknown strategy %q: expected one of overwrite, append, replace", s)
}

func (s Strategy) String() string {
	return string(s)
}

// DeletesTagScope reports whether the strategy removes every existing row of the load's tag set.
func (s Strategy) DeletesTagScope() bool {
	return s == OverwriteStrategy || s == ReplaceStrategy
}
