package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/cotrelay/server/internal/config"
)

// set at build time via ldflags
var (
	Version   = "0.0.1"
	BuildDate = "unknown"
)

const usage = `usage: cotrelay [flags] [command]

Without a command the server runs until interrupted.

commands:
  migrate                          create or update the database schema
  user add <name> <password>       add a principal or reset its password
  user disable <name>              reject further logins of a principal
  user enable <name>               allow a disabled principal again
  mission create <name> [creator]  create a mission devices can subscribe to
  version                          print the build version

flags:
`

func main() {
	fs := pflag.NewFlagSet("cotrelay", pflag.ContinueOnError)
	config.Flags(fs)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	configDir, _ := fs.GetString("config-dir")
	if err := config.Load(configDir, fs); err != nil {
		fmt.Fprintf(os.Stderr, "cotrelay: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	if args := fs.Args(); len(args) > 0 {
		err = runCommand(ctx, args, os.Stdout)
	} else {
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "cotrelay: %v\n", err)
		stop()
		os.Exit(1)
	}
}
