package commands

import (
	"runtime/debug"

	"github.com/urfave/cli/v2"
)

func init() {
	DefaultList = append(DefaultList, VERSION)
}

func VERSION(env *Env) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "print the dcx version",
		Action: func(*cli.Context) error {
			env.printf("dcx %s\n", env.version())
			return nil
		},
	}
}

// version prefers the linker supplied version and falls back to the module version of the build.
func (env *Env) version() string {
	if env.Version != "" {
		return env.Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}
