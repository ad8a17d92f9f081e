package settings

import (
	"errors"
	"fmt"

	"github.com/spf13/cast"

	"github.com/datacampus/dcx/loader/model"
)

var ErrNoDestination = errors.New("no destination specified: use --dest or a profile with dest")

// LoadFlags holds load options given on the command line. Zero values and nil
// pointers mean the flag was not given.
type LoadFlags struct {
	Dest          string
	Connection    string
	Strategy      string
	Format        string
	SkipHeader    int
	SkipHeaderSet bool
	Tags          []string
	Grants        []string
	Include       []string
	MostRecent    *bool
	SingleColumn  *bool
	Sanitize      *bool
	Strict        *bool
	Recursive     *bool
	Audit         *bool
	CreateSchema  *bool
	NoCreateTable bool
	DryRun        bool
}

// TagList returns the profile tags ordered by key. Values of any TOML scalar type are accepted.
func (p Profile) TagList() (model.Tags, error) {
	tags := make(model.Tags, 0, len(p.Tags))
	for _, k := range sortedKeys(p.Tags) {
		v, err := cast.ToStringE(p.Tags[k])
		if err != nil {
			return nil, fmt.Errorf("profile tag %q: %w", k, err)
		}
		tags = append(tags, model.Tag{Key: k, Value: v})
	}
	return tags, nil
}

// ConnectionName is the connection the flags select, falling back to the profile's.
func ConnectionName(p Profile, flags LoadFlags) string {
	return firstNonEmpty(flags.Connection, p.Connection)
}

// Resolve merges a profile with command line flags into a load spec. Flags win,
// including a boolean flag explicitly set to false.
func Resolve(source string, p Profile, flags LoadFlags, conn Connection, actor string) (model.LoadSpec, error) {
	dest := firstNonEmpty(flags.Dest, p.Dest)
	if dest == "" {
		return model.LoadSpec{}, ErrNoDestination
	}
	ref, err := conn.TableRef(dest)
	if err != nil {
		return model.LoadSpec{}, err
	}

	strategy, err := model.ParseStrategy(firstNonEmpty(flags.Strategy, p.Strategy))
	if err != nil {
		return model.LoadSpec{}, err
	}
	format, err := model.ParseFormat(firstNonEmpty(flags.Format, p.Format))
	if err != nil {
		return model.LoadSpec{}, err
	}

	profileTags, err := p.TagList()
	if err != nil {
		return model.LoadSpec{}, err
	}
	flagTags, err := model.ParseTags(flags.Tags)
	if err != nil {
		return model.LoadSpec{}, err
	}

	skipHeader := p.SkipHeader
	if flags.SkipHeaderSet {
		skipHeader = flags.SkipHeader
	}

	grants := flags.Grants
	if len(grants) == 0 {
		grants = p.Grants
	}
	include := flags.Include
	if len(include) == 0 {
		include = p.Include
	}

	spec := model.LoadSpec{
		Source:       source,
		Destination:  ref,
		Tags:         profileTags.Merge(flagTags),
		Strategy:     strategy,
		Format:       format,
		SkipHeader:   skipHeader,
		MostRecent:   boolOr(flags.MostRecent, p.MostRecent),
		SingleColumn: boolOr(flags.SingleColumn, p.SingleColumn),
		Sanitize:     boolOr(flags.Sanitize, p.Sanitize),
		Strict:       boolOr(flags.Strict, p.Strict),
		Recursive:    boolOr(flags.Recursive, p.Recursive),
		Include:      include,
		CreateTable:  !flags.NoCreateTable,
		CreateSchema: boolOr(flags.CreateSchema, p.CreateSchema),
		Grants:       grants,
		Audit:        boolOr(flags.Audit, p.Audit),
		DryRun:       flags.DryRun,
		Actor:        firstNonEmpty(conn.User, actor),
	}
	if err := spec.Validate(); err != nil {
		return model.LoadSpec{}, err
	}
	return spec, nil
}

func boolOr(flag *bool, profile bool) bool {
	if flag != nil {
		return *flag
	}
	return profile
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
