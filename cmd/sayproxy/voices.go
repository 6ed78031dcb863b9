package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "Manage the local neural voice cache",
}

var voicesLoadCmd = &cobra.Command{
	Use:   "load <path>...",
	Short: "Pre-load reference audio files into the local neural server",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runVoicesLoad,
}

var voicesStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List the voice cache's live registry entries",
	Args:  cobra.NoArgs,
	RunE:  runVoicesStatus,
}

func init() {
	rootCmd.AddCommand(voicesCmd)
	voicesCmd.AddCommand(voicesLoadCmd)
	voicesCmd.AddCommand(voicesStatusCmd)
	voicesCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "debug, info, warn, or error")
}

func runVoicesLoad(cmd *cobra.Command, args []string) error {
	engine, logger, err := buildEngine()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := engine.Close(); cerr != nil {
			logger.Warn("shutdown error", "error", cerr)
		}
	}()

	entries, err := engine.LoadVoices(context.Background(), args...)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s\t%s\n", e.Identity, e.SourcePath, humanize.Bytes(uint64(e.Size)))
	}
	return nil
}

func runVoicesStatus(cmd *cobra.Command, args []string) error {
	engine, logger, err := buildEngine()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := engine.Close(); cerr != nil {
			logger.Warn("shutdown error", "error", cerr)
		}
	}()

	for _, e := range engine.VoiceCacheStatus() {
		fmt.Printf("%s\t%s\t%s\t%s (%s)\n", e.Identity, e.SourcePath, humanize.Bytes(uint64(e.Size)),
			humanize.Time(e.LoadedAt), e.LoadedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}
