package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/datacampus/dcx/cmd/dcx/commands"
)

// set with -ldflags "-X main.version=..."
var version string

func main() {
	// a missing .env file is fine, variables may come from the environment
	_ = godotenv.Load()

	conf := config.New(config.WithEnvPrefix("DCX"))
	log := logger.NewFactory(conf).NewLogger().Child("dcx")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := commands.App(&commands.Env{
		Conf:    conf,
		Log:     log,
		Stats:   stats.NOP,
		Out:     os.Stdout,
		Version: version,
	})
	if err := app.RunContext(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, commands.ErrorMessage(err))
		cancel()
		os.Exit(1)
	}
}
