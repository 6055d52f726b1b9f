/*
Copyright (C) 2026 Wren Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wrenlabs/bassline/internal/events"
	"github.com/wrenlabs/bassline/internal/platform/localaudio"
	"github.com/wrenlabs/bassline/internal/playback"
)

var playShuffle bool

var playCmd = &cobra.Command{
	Use:   "play FILE...",
	Short: "Play audio files on the local sound device",
	Long:  "Queue the given files and play them straight through the sound device, without the HTTP server",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPlay,
}

func init() {
	playCmd.Flags().BoolVar(&playShuffle, "shuffle", false, "play the queue in random order")
}

func runPlay(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	queue := make([]playback.Track, 0, len(args))
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return err
		}
		if _, err := os.Stat(abs); err != nil {
			return fmt.Errorf("cannot play %s: %w", arg, err)
		}
		queue = append(queue, playback.Track{
			ID:          abs,
			Title:       strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs)),
			PlayableURL: abs,
		})
	}

	bus := events.NewBus()
	pf := localaudio.New(nil, logger)
	player, err := playback.NewOrchestrator(pf, bus, nil, rand.New(rand.NewSource(time.Now().UnixNano())), playback.Options{
		AutoplayRetryDelay: cfg.AutoplayRetry,
		AnalyzerTick:       cfg.AnalyzerTick,
	}, logger)
	if err != nil {
		return fmt.Errorf("build player: %w", err)
	}
	defer player.Close()

	nowPlaying := bus.Subscribe(events.EventNowPlaying)
	loadErrors := bus.Subscribe(events.EventLoadError)

	player.SetQueue(queue)
	if playShuffle {
		player.ToggleShuffle()
	}
	if err := player.PlayTrackAt(player.Session().Current()); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			fmt.Println()
			return nil

		case payload := <-nowPlaying:
			if title, ok := payload["title"].(string); ok {
				fmt.Printf("\nplaying: %s\n", title)
			}

		case payload := <-loadErrors:
			fmt.Printf("\nskipping: %v\n", payload["error"])

		case <-ticker.C:
			snap := player.Snapshot()
			if snap.PlaybackState == playback.StateEnded && !player.Session().HasNext() {
				fmt.Println()
				return nil
			}
			if snap.PlaybackState == playback.StatePlaying {
				fmt.Printf("\r%6.1fs / %.1fs  bass %4.2f", snap.Position, snap.Duration, snap.BassIntensity)
			}
		}
	}
}
