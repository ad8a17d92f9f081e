package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"github.com/datacampus/dcx/loader"
	"github.com/datacampus/dcx/loader/model"
	"github.com/datacampus/dcx/warehouse/client"
)

func init() {
	DefaultList = append(DefaultList, DELETE, LIST, INFO, HISTORY)
}

func DELETE(env *Env) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "delete the rows of a table matching tags",
		ArgsUsage: "TABLE",
		Action:    env.Delete,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "tag", Aliases: []string{"t"}, Usage: "match rows with key=value, repeatable"},
			connectionFlag(),
			&cli.BoolFlag{Name: "all", Usage: "delete every row, requires --force"},
			&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "do not ask for confirmation"},
		},
	}
}

func (env *Env) Delete(c *cli.Context) error {
	name, err := oneArg(c, "TABLE")
	if err != nil {
		return err
	}
	tags, err := model.ParseTags(c.StringSlice("tag"))
	if err != nil {
		return err
	}
	all, force := c.Bool("all"), c.Bool("force")
	switch {
	case len(tags) == 0 && !all:
		return errors.New("specify --tag or --all")
	case len(tags) > 0 && all:
		return errors.New("--all cannot be combined with --tag")
	case all && !force:
		return errors.New("--all requires --force")
	}

	s, cl, ref, err := env.table(c, name)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	n, err := cl.Count(c.Context, ref, tags)
	if err != nil {
		return err
	}
	if n == 0 {
		env.printf("No matching rows found\n")
		return nil
	}
	env.printf("Will delete %s rows from %s\n", humanize.Comma(n), ref)
	if len(tags) > 0 {
		env.printf("Where %s\n", tags)
	}
	if !force {
		ok, err := env.Confirmer.Confirm(c.Context, "Proceed?")
		if err != nil {
			return err
		}
		if !ok {
			env.printf("Cancelled\n")
			return nil
		}
	}

	deleted, err := cl.Delete(c.Context, ref, tags)
	if err != nil {
		return err
	}
	env.printf("Deleted %s rows\n", humanize.Comma(deleted))
	return nil
}

func LIST(env *Env) *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "count rows and files per tag combination",
		ArgsUsage: "TABLE",
		Action:    env.List,
		Flags: []cli.Flag{
			connectionFlag(),
			&cli.StringSliceFlag{Name: "tag-column", Usage: "group by this column instead of the guessed tag columns, repeatable"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "maximum number of groups, 0 for all"},
		},
	}
}

func (env *Env) List(c *cli.Context) error {
	name, err := oneArg(c, "TABLE")
	if err != nil {
		return err
	}
	tagColumns := c.StringSlice("tag-column")
	for _, tc := range tagColumns {
		if !model.IsSafeIdentifier(tc) {
			return fmt.Errorf("invalid tag column %q", tc)
		}
	}

	s, cl, ref, err := env.table(c, name)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	res, err := cl.List(c.Context, ref, client.ListOptions{TagColumns: tagColumns, Limit: c.Int("limit")})
	if err != nil {
		return err
	}
	if len(res.Values) == 0 {
		env.printf("%s is empty\n", ref)
		return nil
	}
	env.render(res)
	return nil
}

func INFO(env *Env) *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "describe a table and its loads",
		ArgsUsage: "TABLE",
		Action:    env.Info,
		Flags: []cli.Flag{
			connectionFlag(),
			&cli.IntFlag{Name: "sample", Value: 5, Usage: "distinct values shown per tag column"},
		},
	}
}

func (env *Env) Info(c *cli.Context) error {
	name, err := oneArg(c, "TABLE")
	if err != nil {
		return err
	}
	s, cl, ref, err := env.table(c, name)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	info, err := cl.Info(c.Context, ref, max(1, c.Int("sample")))
	if err != nil {
		return err
	}

	env.printf("Table %s\n", info.Ref)
	table := env.newTable([]string{"COLUMN", "TYPE", "ROLE"})
	for _, col := range info.Columns {
		table.Append([]string{col.Name, col.Type, columnRole(col.Name, info.TagColumns)})
	}
	table.Render()

	env.printf("Rows: %s\n", humanize.Comma(info.Rows))
	env.printf("Files: %s\n", humanize.Comma(info.Files))
	if info.HasMostRecent {
		env.printf("Most recent rows: %s\n", humanize.Comma(info.MostRecentRows))
	}
	if !info.LastLoad.IsZero() {
		env.printf("Loaded: %s to %s\n", info.FirstLoad.Format(time.DateTime), info.LastLoad.Format(time.DateTime))
	}
	for _, tc := range info.TagColumns {
		env.printf("%s: %s\n", tc, strings.Join(info.TagValues[tc], ", "))
	}
	return nil
}

func columnRole(name string, tagColumns []string) string {
	switch {
	case lo.ContainsBy(model.SystemColumns(true), func(sc model.Column) bool { return strings.EqualFold(sc.Name, name) }):
		return "system"
	case lo.ContainsBy(tagColumns, func(tc string) bool { return strings.EqualFold(tc, name) }):
		return "tag"
	}
	return "data"
}

func HISTORY(env *Env) *cli.Command {
	return &cli.Command{
		Name:   "history",
		Usage:  "show recorded loads",
		Action: env.History,
		Flags: []cli.Flag{
			connectionFlag(),
			&cli.StringFlag{Name: "table", Usage: "only loads into this table"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "maximum number of loads, 0 for all"},
		},
	}
}

func (env *Env) History(c *cli.Context) error {
	s, conn, err := env.session(c, c.String("connection"))
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	// the history table lives next to the tables it describes
	ref := model.TableRef{Schema: conn.Schema}
	if conn.WarehouseType() == "snowflake" {
		ref.Database = conn.Database
	}
	filter := loader.HistoryFilter{Limit: c.Int("limit")}
	if name := c.String("table"); name != "" {
		if ref, err = conn.TableRef(name); err != nil {
			return err
		}
		if ref, err = client.New(s.DB, s.Dialect, env.Log).Resolve(c.Context, ref); err != nil {
			return err
		}
		filter.TableName = ref.String()
	}

	l := loader.New(env.Conf, env.Log, env.Stats, s.DB, s.Dialect)
	records, err := l.History(c.Context, ref, filter)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		env.printf("No loads recorded\n")
		return nil
	}

	table := env.newTable([]string{"LOADED AT", "TABLE", "STRATEGY", "TAGS", "FILES", "ROWS", "DELETED", "STATUS", "USER", "ERROR"})
	for _, r := range records {
		table.Append([]string{
			r.Timestamp.Format(time.DateTime),
			r.TableName,
			r.Strategy.String(),
			r.Tags.String(),
			strconv.Itoa(r.FilesProcessed),
			humanize.Comma(r.RowsLoaded),
			humanize.Comma(r.RowsDeleted),
			string(r.Status),
			r.Actor,
			r.Error,
		})
	}
	table.Render()
	return nil
}
