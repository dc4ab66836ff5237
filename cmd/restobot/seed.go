package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/catalog"
)

// seedCmd loads a menu, branch and CRM customer file into the database.
func seedCmd(args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	configPath, envFile := commonFlags(fs)
	file := fs.String("file", "", "seed YAML file (required)")
	fs.Parse(args)

	if *file == "" {
		return errors.New("seed: -file is required")
	}
	cfg, logger, err := setup(*configPath, *envFile)
	if err != nil {
		return err
	}

	db, err := openDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	if err := catalog.NewStore(db).LoadSeed(context.Background(), *file); err != nil {
		return err
	}
	logger.Info("seed: loaded", "file", *file, "db", cfg.DBPath)
	return nil
}
