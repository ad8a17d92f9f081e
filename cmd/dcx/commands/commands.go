// Package commands implements the dcx command line.
package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/user"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/datacampus/dcx/loader"
	"github.com/datacampus/dcx/loader/model"
	"github.com/datacampus/dcx/settings"
	"github.com/datacampus/dcx/warehouse/client"
	"github.com/datacampus/dcx/warehouse/integrations/manager"
	"github.com/datacampus/dcx/warehouse/logfield"
)

// DefaultList holds the constructors of every top level command.
var DefaultList []func(*Env) *cli.Command

// Env carries what commands share. Fields left nil are filled with defaults by App.
type Env struct {
	Conf      *config.Config
	Log       logger.Logger
	Stats     stats.Stats
	Out       io.Writer
	Confirmer loader.Confirmer
	Version   string
}

func App(env *Env) *cli.App {
	if env.Conf == nil {
		env.Conf = config.Default
	}
	if env.Log == nil {
		env.Log = logger.NOP
	}
	if env.Stats == nil {
		env.Stats = stats.NOP
	}
	if env.Out == nil {
		env.Out = os.Stdout
	}
	if env.Confirmer == nil {
		env.Confirmer = NewTerminalConfirmer(os.Stdin, env.Out)
	}

	return &cli.App{
		Name:                      "dcx",
		Usage:                     "load flat files into warehouse tables",
		Writer:                    env.Out,
		HideVersion:               true,
		DisableSliceFlagSeparator: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "settings",
				Usage:   "settings file (default ~/.dcx/config.toml)",
				EnvVars: []string{"DCX_SETTINGS"},
			},
		},
		Commands: lo.Map(DefaultList, func(newCommand func(*Env) *cli.Command, _ int) *cli.Command {
			return newCommand(env)
		}),
		// errors are reported by the caller
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

// ErrorMessage renders err the way dcx reports failures.
func ErrorMessage(err error) string {
	kind := model.ErrorKind(err)
	if kind == "Unknown" {
		return "Error: " + err.Error()
	}
	return fmt.Sprintf("Error [%s]: %s", kind, err.Error())
}

func (env *Env) store(c *cli.Context) (*settings.Store, error) {
	if path := c.String("settings"); path != "" {
		return settings.NewStore(path), nil
	}
	path, err := settings.DefaultPath()
	if err != nil {
		return nil, err
	}
	return settings.NewStore(path), nil
}

func (env *Env) settings(c *cli.Context) (*settings.File, error) {
	store, err := env.store(c)
	if err != nil {
		return nil, err
	}
	return store.Load()
}

func (env *Env) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(env.Out, format, args...)
}

func (env *Env) open(ctx context.Context, name string, conn settings.Connection) (*manager.Session, error) {
	env.Log.Debugw("opening session", logfield.Connection, name, logfield.WarehouseType, conn.WarehouseType())
	return manager.New(env.Conf, env.Log, env.Stats).Open(ctx, name, conn)
}

// session opens the named connection, or the default one when name is empty.
func (env *Env) session(c *cli.Context, name string) (*manager.Session, settings.Connection, error) {
	f, err := env.settings(c)
	if err != nil {
		return nil, settings.Connection{}, err
	}
	conn, name, err := f.Connection(name)
	if err != nil {
		return nil, conn, err
	}
	s, err := env.open(c.Context, name, conn)
	return s, conn, err
}

// table opens a session and resolves a table name given on the command line against it.
func (env *Env) table(c *cli.Context, name string) (*manager.Session, *client.Client, model.TableRef, error) {
	s, conn, err := env.session(c, c.String("connection"))
	if err != nil {
		return nil, nil, model.TableRef{}, err
	}
	ref, err := conn.TableRef(name)
	if err != nil {
		_ = s.Close()
		return nil, nil, ref, err
	}
	return s, client.New(s.DB, s.Dialect, env.Log), ref, nil
}

func (env *Env) newTable(header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(env.Out)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	colors := make([]tablewriter.Colors, len(header))
	for i := range colors {
		colors[i] = tablewriter.Colors{tablewriter.Bold}
	}
	table.SetHeaderColor(colors...)
	return table
}

func (env *Env) render(res client.QueryResult) {
	table := env.newTable(res.Columns)
	table.AppendBulk(res.Values)
	table.Render()
}

func connectionFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "connection",
		Aliases: []string{"c"},
		Usage:   "connection name from settings",
	}
}

func oneArg(c *cli.Context, name string) (string, error) {
	if c.Args().Len() != 1 {
		return "", fmt.Errorf("%s expects exactly one %s argument", c.Command.Name, name)
	}
	return c.Args().First(), nil
}

// currentUser is the OS user name, used when neither the connection nor the warehouse names the actor.
func currentUser() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.Username
}
