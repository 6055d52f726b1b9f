/*
Copyright (C) 2026 Wren Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wrenlabs/bassline/internal/config"
	"github.com/wrenlabs/bassline/internal/logging"
	"github.com/wrenlabs/bassline/internal/platform/localaudio"
	"github.com/wrenlabs/bassline/internal/server"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "bassline",
	Short: "Bassline - local music server and player",
	Long:  "Bassline indexes local music directories and plays them with live frequency analysis, over HTTP or straight to the sound device.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Bassline server",
	Long:  "Start the HTTP API, scan the music directories, and watch them for changes",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(playCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it).
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Msg("Bassline starting")

	// Stream URLs resolve through the catalog once the server is up.
	var srv *server.Server
	pf := localaudio.New(func(url string) (string, error) {
		const streamPrefix = "/api/v1/stream/"
		if !strings.HasPrefix(url, streamPrefix) {
			return url, nil
		}
		track, err := srv.Store().Get(context.Background(), strings.TrimPrefix(url, streamPrefix))
		if err != nil {
			return "", err
		}
		return track.Path, nil
	}, logger)

	srv, err := server.New(cfg, pf, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	httpServer := srv.HTTPServer()

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("Bassline stopped")
	return nil
}
