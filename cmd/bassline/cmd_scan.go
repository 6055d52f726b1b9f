/*
Copyright (C) 2026 Wren Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wrenlabs/bassline/internal/db"
	"github.com/wrenlabs/bassline/internal/library"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the music directories once and exit",
	Long:  "Run a single library scan against the configured database without starting the server",
	RunE:  runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close(database)

	store, err := library.NewStore(database, logger)
	if err != nil {
		return err
	}

	scanner := library.NewScanner(store, cfg.MusicDirs, cfg.ArtCacheDir, cfg.ScanWorkers, nil, nil, logger)
	result, err := scanner.Scan(cmd.Context())
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	fmt.Printf("scanned %d files: %d added, %d updated, %d removed, %d failed in %s\n",
		result.Scanned, result.Added, result.Updated, result.Removed, result.Failed, result.Duration.Round(10*time.Millisecond))
	return nil
}
