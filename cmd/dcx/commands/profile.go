package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"github.com/datacampus/dcx/loader/model"
	"github.com/datacampus/dcx/settings"
)

func init() {
	DefaultList = append(DefaultList, PROFILE)
}

func PROFILE(env *Env) *cli.Command {
	return &cli.Command{
		Name:  "profile",
		Usage: "manage reusable load options",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "add or replace a profile",
				ArgsUsage: "NAME",
				Action:    env.ProfileAdd,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dest", Aliases: []string{"d"}, Usage: "destination table"},
					connectionFlag(),
					&cli.StringFlag{Name: "strategy", Aliases: []string{"s"}},
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}},
					&cli.IntFlag{Name: "skip-header"},
					&cli.StringSliceFlag{Name: "tag", Aliases: []string{"t"}, Usage: "key=value, repeatable"},
					&cli.StringSliceFlag{Name: "grant", Aliases: []string{"g"}, Usage: "role, repeatable"},
					&cli.StringSliceFlag{Name: "include", Aliases: []string{"i"}, Usage: "extension, repeatable"},
					&cli.BoolFlag{Name: "most-recent"},
					&cli.BoolFlag{Name: "single-column"},
					&cli.BoolFlag{Name: "sanitize"},
					&cli.BoolFlag{Name: "strict"},
					&cli.BoolFlag{Name: "recursive"},
					&cli.BoolFlag{Name: "audit"},
					&cli.BoolFlag{Name: "create-schema"},
				},
			},
			{
				Name:   "list",
				Usage:  "list profiles",
				Action: env.ProfileList,
			},
			{
				Name:      "show",
				Usage:     "show the options of a profile",
				ArgsUsage: "NAME",
				Action:    env.ProfileShow,
			},
			{
				Name:      "remove",
				Usage:     "remove a profile",
				ArgsUsage: "NAME",
				Action:    env.ProfileRemove,
			},
		},
	}
}

func (env *Env) ProfileAdd(c *cli.Context) error {
	name, err := oneArg(c, "NAME")
	if err != nil {
		return err
	}
	tags, err := model.ParseTags(c.StringSlice("tag"))
	if err != nil {
		return err
	}
	p := settings.Profile{
		Dest:         c.String("dest"),
		Connection:   c.String("connection"),
		Strategy:     c.String("strategy"),
		Format:       c.String("format"),
		SkipHeader:   c.Int("skip-header"),
		Grants:       c.StringSlice("grant"),
		Include:      c.StringSlice("include"),
		MostRecent:   c.Bool("most-recent"),
		SingleColumn: c.Bool("single-column"),
		Sanitize:     c.Bool("sanitize"),
		Strict:       c.Bool("strict"),
		Recursive:    c.Bool("recursive"),
		Audit:        c.Bool("audit"),
		CreateSchema: c.Bool("create-schema"),
	}
	if len(tags) > 0 {
		p.Tags = make(map[string]any, len(tags))
		for _, t := range tags {
			p.Tags[t.Key] = t.Value
		}
	}
	if c.NumFlags() == 0 {
		return fmt.Errorf("profile %s needs at least one option", name)
	}
	if p.Strategy != "" {
		if _, err := model.ParseStrategy(p.Strategy); err != nil {
			return err
		}
	}
	if p.Format != "" {
		if _, err := model.ParseFormat(p.Format); err != nil {
			return err
		}
	}
	if p.Dest != "" {
		if _, err := model.ParseTableRef(p.Dest); err != nil {
			return err
		}
	}

	store, err := env.store(c)
	if err != nil {
		return err
	}
	if err := store.Update(func(f *settings.File) error {
		f.AddProfile(name, p)
		return nil
	}); err != nil {
		return err
	}
	env.printf("Added profile %s\n", name)
	env.printProfile(p)
	return nil
}

func (env *Env) ProfileList(c *cli.Context) error {
	f, err := env.settings(c)
	if err != nil {
		return err
	}
	names := f.ProfileNames()
	if len(names) == 0 {
		env.printf("No profiles configured, add one with: dcx profile add NAME\n")
		return nil
	}
	table := env.newTable([]string{"NAME", "DEST", "CONNECTION", "STRATEGY", "TAGS"})
	for _, name := range names {
		p := f.Profiles[name]
		tags, err := p.TagList()
		if err != nil {
			return err
		}
		table.Append([]string{name, p.Dest, p.Connection, p.Strategy, tags.String()})
	}
	table.Render()
	return nil
}

func (env *Env) ProfileShow(c *cli.Context) error {
	name, err := oneArg(c, "NAME")
	if err != nil {
		return err
	}
	f, err := env.settings(c)
	if err != nil {
		return err
	}
	p, err := f.Profile(name)
	if err != nil {
		return err
	}
	env.printf("Profile %s\n", name)
	env.printProfile(p)
	return nil
}

func (env *Env) ProfileRemove(c *cli.Context) error {
	name, err := oneArg(c, "NAME")
	if err != nil {
		return err
	}
	store, err := env.store(c)
	if err != nil {
		return err
	}
	if err := store.Update(func(f *settings.File) error { return f.RemoveProfile(name) }); err != nil {
		return err
	}
	env.printf("Removed profile %s\n", name)
	return nil
}

// printProfile lists the options a profile sets, in the order load applies them.
func (env *Env) printProfile(p settings.Profile) {
	tags, _ := p.TagList()
	options := []lo.Tuple2[string, string]{
		{A: "dest", B: p.Dest},
		{A: "connection", B: p.Connection},
		{A: "strategy", B: p.Strategy},
		{A: "format", B: p.Format},
		{A: "tags", B: tags.String()},
		{A: "grants", B: strings.Join(p.Grants, ", ")},
		{A: "include", B: strings.Join(p.Include, ", ")},
	}
	if p.SkipHeader > 0 {
		options = append(options, lo.T2("skip_header", strconv.Itoa(p.SkipHeader)))
	}
	for _, flag := range []lo.Tuple2[string, bool]{
		{A: "most_recent", B: p.MostRecent},
		{A: "single_column", B: p.SingleColumn},
		{A: "sanitize", B: p.Sanitize},
		{A: "strict", B: p.Strict},
		{A: "recursive", B: p.Recursive},
		{A: "audit", B: p.Audit},
		{A: "create_schema", B: p.CreateSchema},
	} {
		if flag.B {
			options = append(options, lo.T2(flag.A, "true"))
		}
	}
	for _, o := range options {
		if o.B != "" {
			env.printf("  %s: %s\n", o.A, o.B)
		}
	}
}
