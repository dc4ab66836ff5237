// Command restobot runs the Hadoota Masreya WhatsApp assistant: the provider
// webhook, the bot worker, the staff API and the maintenance scheduler.
//
// Usage:
//
//	restobot serve -config restobot.yaml          # run the service
//	restobot token -user usr_1 -role staff        # mint a staff token
//	restobot seed -file menu.yaml                 # load menu, branches and CRM customers
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/config"
)

func main() {
	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = serveCmd(args)
	case "token":
		err = tokenCmd(args)
	case "seed":
		err = seedCmd(args)
	default:
		fmt.Fprintf(os.Stderr, "restobot: unknown command %q (serve, token, seed)\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("restobot: fatal", "command", cmd, "error", err)
		os.Exit(1)
	}
}

// commonFlags registers the config file flags every subcommand accepts.
func commonFlags(fs *flag.FlagSet) (configPath, envFile *string) {
	configPath = fs.String("config", os.Getenv("RESTOBOT_CONFIG"), "path to restobot.yaml")
	envFile = fs.String("env-file", ".env", "dotenv file loaded before the config (ignored when missing)")
	return configPath, envFile
}

// setup loads the configuration and installs the JSON logger.
func setup(configPath, envFile string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return nil, nil, err
	}
	lvl, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func serveCmd(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath, envFile := commonFlags(fs)
	fs.Parse(args)

	cfg, logger, err := setup(*configPath, *envFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, logger)
}
