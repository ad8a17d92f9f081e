package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"github.com/datacampus/dcx/settings"
)

func init() {
	DefaultList = append(DefaultList, CONFIG)
}

func CONFIG(env *Env) *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "manage warehouse connections",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "add or replace a connection",
				ArgsUsage: "NAME",
				Action:    env.ConfigAdd,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Value: "snowflake", Usage: "snowflake, postgres or duckdb"},
					&cli.StringFlag{Name: "account", Aliases: []string{"a"}, Usage: "snowflake account"},
					&cli.StringFlag{Name: "user", Aliases: []string{"u"}},
					&cli.BoolFlag{Name: "password-prompt", Usage: "ask for a password and store it in the settings file"},
					&cli.StringFlag{Name: "database", Aliases: []string{"d"}},
					&cli.StringFlag{Name: "schema", Aliases: []string{"s"}},
					&cli.StringFlag{Name: "warehouse", Aliases: []string{"w"}, Usage: "snowflake warehouse"},
					&cli.StringFlag{Name: "role", Aliases: []string{"r"}},
					&cli.StringFlag{Name: "authenticator", Usage: "snowflake, externalbrowser or snowflake_jwt"},
					&cli.StringFlag{Name: "private-key-path", Usage: "PEM encoded PKCS#8 key for snowflake_jwt"},
					&cli.StringFlag{Name: "host"},
					&cli.StringFlag{Name: "port"},
					&cli.StringFlag{Name: "sslmode"},
					&cli.StringFlag{Name: "path", Usage: "duckdb database file, empty for in-memory"},
					&cli.BoolFlag{Name: "default", Usage: "make it the default connection"},
				},
			},
			{
				Name:   "list",
				Usage:  "list connections",
				Action: env.ConfigList,
			},
			{
				Name:      "remove",
				Usage:     "remove a connection",
				ArgsUsage: "NAME",
				Action:    env.ConfigRemove,
			},
			{
				Name:      "default",
				Usage:     "set the default connection",
				ArgsUsage: "NAME",
				Action:    env.ConfigDefault,
			},
			{
				Name:      "import-dbt",
				Usage:     "import a target of the dbt profiles, or list them without an argument",
				ArgsUsage: "[PROFILE.TARGET]",
				Action:    env.ConfigImportDBT,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "connection name (default the target name)"},
					&cli.StringFlag{Name: "profiles", Usage: "profiles.yml path (default $DBT_PROFILES_DIR or ~/.dbt)"},
					&cli.BoolFlag{Name: "default", Usage: "make it the default connection"},
				},
			},
			{
				Name:      "test",
				Usage:     "connect and run a trivial query",
				ArgsUsage: "[NAME]",
				Action:    env.ConfigTest,
			},
			{
				Name:   "path",
				Usage:  "print the settings file location",
				Action: env.ConfigPath,
			},
		},
	}
}

func (env *Env) ConfigAdd(c *cli.Context) error {
	name, err := oneArg(c, "NAME")
	if err != nil {
		return err
	}
	conn := settings.Connection{
		Type:           c.String("type"),
		Account:        c.String("account"),
		User:           c.String("user"),
		Database:       c.String("database"),
		Schema:         c.String("schema"),
		Warehouse:      c.String("warehouse"),
		Role:           c.String("role"),
		Authenticator:  c.String("authenticator"),
		PrivateKeyPath: c.String("private-key-path"),
		Host:           c.String("host"),
		Port:           c.String("port"),
		SSLMode:        c.String("sslmode"),
		Path:           c.String("path"),
	}
	switch conn.WarehouseType() {
	case "snowflake":
		if conn.Account == "" {
			return errors.New("snowflake connections need --account")
		}
	case "postgres", "duckdb":
	default:
		return fmt.Errorf("unsupported connection type %q", conn.Type)
	}
	if c.Bool("password-prompt") {
		if conn.Password, err = readSecret(os.Stdin, env.Out, "Password"); err != nil {
			return err
		}
	}

	store, err := env.store(c)
	if err != nil {
		return err
	}
	if err := store.Update(func(f *settings.File) error {
		f.AddConnection(name, conn, c.Bool("default"))
		return nil
	}); err != nil {
		return err
	}
	env.printf("Added connection %s\n", name)
	return nil
}

func (env *Env) ConfigList(c *cli.Context) error {
	f, err := env.settings(c)
	if err != nil {
		return err
	}
	names := f.ConnectionNames()
	if len(names) == 0 {
		env.printf("No connections configured, add one with: dcx config add NAME\n")
		return nil
	}
	table := env.newTable([]string{"", "NAME", "TYPE", "ACCOUNT", "DATABASE", "SCHEMA", "USER"})
	for _, name := range names {
		conn := f.Connections[name]
		marker := ""
		if name == f.Default {
			marker = "*"
		}
		table.Append([]string{
			marker,
			name,
			conn.WarehouseType(),
			lo.CoalesceOrEmpty(conn.Account, conn.Host, conn.Path),
			conn.Database,
			conn.Schema,
			conn.User,
		})
	}
	table.Render()
	return nil
}

func (env *Env) ConfigRemove(c *cli.Context) error {
	name, err := oneArg(c, "NAME")
	if err != nil {
		return err
	}
	store, err := env.store(c)
	if err != nil {
		return err
	}
	if err := store.Update(func(f *settings.File) error { return f.RemoveConnection(name) }); err != nil {
		return err
	}
	env.printf("Removed connection %s\n", name)
	return nil
}

func (env *Env) ConfigDefault(c *cli.Context) error {
	name, err := oneArg(c, "NAME")
	if err != nil {
		return err
	}
	store, err := env.store(c)
	if err != nil {
		return err
	}
	if err := store.Update(func(f *settings.File) error { return f.SetDefault(name) }); err != nil {
		return err
	}
	env.printf("Default connection is now %s\n", name)
	return nil
}

func (env *Env) ConfigImportDBT(c *cli.Context) error {
	path := c.String("profiles")
	if path == "" {
		var err error
		if path, err = settings.DBTProfilesPath(); err != nil {
			return err
		}
	}
	targets, err := settings.DBTTargets(path)
	if err != nil {
		return err
	}

	if c.Args().Len() == 0 {
		if len(targets) == 0 {
			env.printf("No supported targets in %s\n", path)
			return nil
		}
		table := env.newTable([]string{"TARGET", "TYPE", "ACCOUNT", "DATABASE", "SCHEMA"})
		for _, t := range targets {
			conn := t.Connection()
			table.Append([]string{t.String(), t.Type, lo.CoalesceOrEmpty(conn.Account, conn.Host, conn.Path), conn.Database, conn.Schema})
		}
		table.Render()
		return nil
	}

	want := c.Args().First()
	target, ok := lo.Find(targets, func(t settings.DBTTarget) bool { return strings.EqualFold(t.String(), want) })
	if !ok {
		return fmt.Errorf("dbt target %s not found in %s", want, path)
	}
	name := lo.CoalesceOrEmpty(c.String("name"), target.Name)

	store, err := env.store(c)
	if err != nil {
		return err
	}
	if err := store.Update(func(f *settings.File) error {
		f.AddConnection(name, target.Connection(), c.Bool("default"))
		return nil
	}); err != nil {
		return err
	}
	env.printf("Imported %s as connection %s\n", target, name)
	if target.Password != "" {
		env.printf("The password was not imported, set DCX_WAREHOUSE_PASSWORD or use dcx config add --password-prompt\n")
	}
	return nil
}

func (env *Env) ConfigTest(c *cli.Context) error {
	if c.Args().Len() > 1 {
		return errors.New("test expects at most one NAME argument")
	}
	s, _, err := env.session(c, c.Args().First())
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if err := s.Ping(c.Context); err != nil {
		return err
	}
	env.printf("Connection %s (%s) is working\n", s.Name, s.Type)
	return nil
}

func (env *Env) ConfigPath(c *cli.Context) error {
	store, err := env.store(c)
	if err != nil {
		return err
	}
	env.printf("%s\n", store.Path())
	return nil
}
