package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/datacampus/dcx/loader"
	"github.com/datacampus/dcx/loader/model"
	"github.com/datacampus/dcx/settings"
	"github.com/datacampus/dcx/warehouse/logfield"
)

func init() {
	DefaultList = append(DefaultList, LOAD, VALIDATE)
}

func LOAD(env *Env) *cli.Command {
	return &cli.Command{
		Name:      "load",
		Usage:     "load a file, directory or archive into a table",
		ArgsUsage: "SOURCE",
		Action:    env.Load,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dest", Aliases: []string{"d"}, Usage: "destination table as [[database.]schema.]table"},
			&cli.StringFlag{Name: "profile", Aliases: []string{"p"}, Usage: "load profile from settings"},
			&cli.StringSliceFlag{Name: "tag", Aliases: []string{"t"}, Usage: "tag rows with key=value, repeatable"},
			&cli.StringFlag{Name: "strategy", Aliases: []string{"s"}, Usage: "overwrite, append or replace (default overwrite)"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "auto, csv, tsv or single-column (default auto)"},
			&cli.IntFlag{Name: "skip-header", Usage: "number of leading lines to skip"},
			connectionFlag(),
			&cli.BoolFlag{Name: "create-table", Value: true, Usage: "create the table when it does not exist"},
			&cli.BoolFlag{Name: "create-schema", Usage: "create the schema without asking"},
			&cli.StringSliceFlag{Name: "grant", Aliases: []string{"g"}, Usage: "grant SELECT to a role, repeatable"},
			&cli.BoolFlag{Name: "most-recent", Usage: "flag the rows of the latest load per tag set"},
			&cli.BoolFlag{Name: "single-column", Usage: "store each row as one JSON column"},
			&cli.BoolFlag{Name: "sanitize", Usage: "normalise header names"},
			&cli.BoolFlag{Name: "strict", Usage: "reject rows whose field count differs from the header"},
			&cli.BoolFlag{Name: "recursive", Aliases: []string{"r"}, Usage: "descend into subdirectories"},
			&cli.StringSliceFlag{Name: "include", Aliases: []string{"i"}, Usage: "only load files with this extension, repeatable"},
			&cli.BoolFlag{Name: "audit", Usage: "record the load in the history table"},
			&cli.BoolFlag{Name: "dry-run", Usage: "show what would be done without changing anything"},
		},
	}
}

func loadFlags(c *cli.Context) settings.LoadFlags {
	return settings.LoadFlags{
		Dest:          c.String("dest"),
		Connection:    c.String("connection"),
		Strategy:      c.String("strategy"),
		Format:        c.String("format"),
		SkipHeader:    c.Int("skip-header"),
		SkipHeaderSet: c.IsSet("skip-header"),
		Tags:          c.StringSlice("tag"),
		Grants:        c.StringSlice("grant"),
		Include:       c.StringSlice("include"),
		MostRecent:    optionalBool(c, "most-recent"),
		SingleColumn:  optionalBool(c, "single-column"),
		Sanitize:      optionalBool(c, "sanitize"),
		Strict:        optionalBool(c, "strict"),
		Recursive:     optionalBool(c, "recursive"),
		Audit:         optionalBool(c, "audit"),
		CreateSchema:  optionalBool(c, "create-schema"),
		NoCreateTable: !c.Bool("create-table"),
		DryRun:        c.Bool("dry-run"),
	}
}

// optionalBool is nil unless the flag was given, so a profile value survives an absent flag.
func optionalBool(c *cli.Context, name string) *bool {
	if !c.IsSet(name) {
		return nil
	}
	v := c.Bool(name)
	return &v
}

func (env *Env) Load(c *cli.Context) error {
	src, err := oneArg(c, "SOURCE")
	if err != nil {
		return err
	}
	f, err := env.settings(c)
	if err != nil {
		return err
	}

	var p settings.Profile
	if name := c.String("profile"); name != "" {
		if p, err = f.Profile(name); err != nil {
			return err
		}
		env.printf("Using profile %s\n", name)
	}
	flags := loadFlags(c)

	connName, conn, err := env.loadConnection(c.Context, f, settings.ConnectionName(p, flags), flags.DryRun)
	if err != nil {
		return err
	}
	spec, err := settings.Resolve(src, p, flags, conn, currentUser())
	if err != nil {
		return err
	}

	s, err := env.open(c.Context, connName, conn)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	l := loader.New(env.Conf, env.Log, env.Stats, s.DB, s.Dialect, loader.WithConfirmer(env.Confirmer))
	summary, err := l.Load(c.Context, spec)
	env.printSummary(summary, err)
	return err
}

// loadConnection picks the connection of a load. Without an explicit name, the
// default target of a dbt project in the working directory is offered first,
// except on a dry run which never prompts.
func (env *Env) loadConnection(ctx context.Context, f *settings.File, name string, dryRun bool) (string, settings.Connection, error) {
	if name == "" && !dryRun {
		if target := env.dbtProjectTarget(); target != nil {
			ok, err := env.Confirmer.Confirm(ctx, fmt.Sprintf("Found dbt_project.yml using %s (%s). Use this connection?", target, target.Type))
			if err == nil && ok {
				return "dbt:" + target.String(), target.Connection(), nil
			}
		}
	}
	conn, name, err := f.Connection(name)
	return name, conn, err
}

func (env *Env) dbtProjectTarget() *settings.DBTTarget {
	dir, err := os.Getwd()
	if err != nil {
		return nil
	}
	profilesPath, _ := settings.DBTProfilesPath()
	target, err := settings.ProjectTarget(dir, profilesPath)
	if err != nil {
		env.Log.Warnw("ignoring dbt project", logfield.Error, err.Error())
		return nil
	}
	return target
}

func (env *Env) printSummary(summary model.Summary, err error) {
	if summary.DryRun {
		env.printf("Dry run for %s (%s)\n", summary.Destination, summary.Strategy)
		for _, stmt := range summary.Statements {
			env.printf("  %s\n", stmt)
		}
		env.printf("Would load %s rows from %d file(s)\n", humanize.Comma(summary.RowsInserted), len(summary.Files))
		if summary.RowsDeleted > 0 {
			env.printf("Would delete %s existing rows\n", humanize.Comma(summary.RowsDeleted))
		}
		if summary.RowsUnmarked > 0 {
			env.printf("Would unmark %s most recent rows\n", humanize.Comma(summary.RowsUnmarked))
		}
		env.printSkipped(summary.SkippedFiles)
		return
	}
	if err != nil && !errors.Is(err, model.ErrPartialFailure) {
		return
	}
	env.printf("Loaded %s rows from %d file(s) into %s\n", humanize.Comma(summary.RowsInserted), len(summary.Files), summary.Destination)
	if summary.RowsDeleted > 0 {
		env.printf("Deleted %s existing rows\n", humanize.Comma(summary.RowsDeleted))
	}
	if len(summary.Grants) > 0 {
		env.printf("Granted: %s\n", strings.Join(summary.Grants, "; "))
	}
	env.printSkipped(summary.SkippedFiles)
	env.printf("Load id %s\n", summary.LoadID)
}

func (env *Env) printSkipped(files []string) {
	if len(files) > 0 {
		env.printf("Skipped %d file(s): %s\n", len(files), strings.Join(files, ", "))
	}
}

func VALIDATE(env *Env) *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "check files against the line limit and for UTF-8 encoding",
		ArgsUsage: "SOURCE",
		Action:    env.Validate,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "auto, csv, tsv or single-column (default auto)"},
			&cli.BoolFlag{Name: "recursive", Aliases: []string{"r"}, Usage: "descend into subdirectories"},
			&cli.StringSliceFlag{Name: "include", Aliases: []string{"i"}, Usage: "only check files with this extension, repeatable"},
		},
	}
}

func (env *Env) Validate(c *cli.Context) error {
	src, err := oneArg(c, "SOURCE")
	if err != nil {
		return err
	}
	format, err := model.ParseFormat(c.String("format"))
	if err != nil {
		return err
	}
	reports, err := loader.NewValidator(env.Conf, env.Log).Validate(c.Context, src, loader.ValidateOptions{
		Recursive: c.Bool("recursive"),
		Include:   c.StringSlice("include"),
		Format:    format,
	})
	if err != nil {
		return err
	}

	table := env.newTable([]string{"FILE", "FORMAT", "SIZE", "LINES", "MAX LINE", "AVG LINE", "STATUS"})
	var invalid []loader.FileReport
	for _, r := range reports {
		status := "ok"
		if !r.Valid() {
			status = r.Err.Error()
			invalid = append(invalid, r)
		}
		table.Append([]string{
			r.Name,
			r.Format.String(),
			humanize.IBytes(uint64(r.Size)),
			humanize.Comma(r.Lines),
			humanize.IBytes(uint64(r.MaxLineBytes)),
			strconv.FormatFloat(r.AvgLineBytes, 'f', 1, 64),
			status,
		})
	}
	table.Render()

	if len(invalid) > 0 {
		return fmt.Errorf("%d of %d file(s) failed validation, first %s: %w",
			len(invalid), len(reports), invalid[0].Name, invalid[0].Err)
	}
	env.printf("All %d file(s) are valid\n", len(reports))
	return nil
}
