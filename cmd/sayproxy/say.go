package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/sayproxy/sayproxy/internal/provider"
	"github.com/sayproxy/sayproxy/pkg/sayproxy"
)

var (
	flagContentFile      string
	flagContentFormat    string
	flagSSMLPlatform     string
	flagEmotionProfile   string
	flagProviderOptions  []string
)

var sayCmd = &cobra.Command{
	Use:   "say [text]",
	Short: "Synthesise text or a document to speech",
	Long: `Synthesise speech from either plain text (the positional argument) or a
document file (--content), streaming to the default audio device or saving
to --output.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSay,
}

func init() {
	rootCmd.AddCommand(sayCmd)

	sayCmd.Flags().StringVarP(&flagVoice, "voice", "v", "", "voice reference: bare name, provider:voice, or a clone-from-path")
	sayCmd.Flags().StringVarP(&flagFormat, "format", "f", "", "output audio format (mp3, wav, ogg, flac)")
	sayCmd.Flags().Float64Var(&flagRate, "rate", 0, "speaking rate delta in percent, -50 to 200")
	sayCmd.Flags().Float64Var(&flagPitch, "pitch", 0, "pitch delta in Hz, -50 to 50")
	sayCmd.Flags().BoolVarP(&flagStream, "stream", "s", false, "play to the default audio device instead of saving")
	sayCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output file path (required unless --stream)")
	sayCmd.Flags().StringVar(&flagDefaultProvider, "provider", "", "default provider id when the voice reference doesn't select one")
	sayCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "debug, info, warn, or error")

	sayCmd.Flags().StringVar(&flagContentFile, "content", "", "path to a document file (markdown, html, or json) to synthesise")
	sayCmd.Flags().StringVar(&flagContentFormat, "content-format", "", "document format hint: markdown, html, or json (auto-detected if empty)")
	sayCmd.Flags().StringVar(&flagSSMLPlatform, "ssml", "", "render document mode as SSML for this platform (azure, google, amazon); plain text otherwise")
	sayCmd.Flags().StringVar(&flagEmotionProfile, "emotion-profile", "", "technical, marketing, narrative, or tutorial (auto-classified if empty)")
	sayCmd.Flags().StringArrayVar(&flagProviderOptions, "opt", nil, "provider-specific option as key=value, may be repeated")
}

func runSay(cmd *cobra.Command, args []string) error {
	engine, logger, err := buildEngine()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := engine.Close(); cerr != nil {
			logger.Warn("shutdown error", "error", cerr)
		}
	}()

	req := sayproxy.Request{
		Voice:      flagVoice,
		Format:     provider.AudioFormat(flagFormat),
		Stream:     flagStream,
		OutputPath: flagOutput,
	}
	if flagRate != 0 {
		req.Rate = provider.NewAdjust(flagRate)
	}
	if flagPitch != 0 {
		req.Pitch = provider.NewAdjust(flagPitch)
	}
	if len(flagProviderOptions) > 0 {
		opts, err := parseOptions(flagProviderOptions)
		if err != nil {
			return err
		}
		req.ProviderOptions = opts
	}

	if flagContentFile != "" {
		content, err := os.ReadFile(flagContentFile)
		if err != nil {
			return err
		}
		req.Content = content
		req.ContentFormatHint = flagContentFormat
		req.SSMLPlatform = flagSSMLPlatform
		req.EmotionProfile = flagEmotionProfile
	} else if len(args) == 1 {
		req.Text = args[0]
	} else {
		return errNoInput
	}

	result, err := engine.Synthesize(context.Background(), req)
	if err != nil {
		return err
	}

	if result.OutputPath != "" {
		logger.Info("synthesis complete", "output", result.OutputPath, "bytes", result.BytesWritten, "provider", result.ProviderID)
	} else {
		logger.Info("synthesis complete", "bytes", result.BytesWritten, "provider", result.ProviderID)
	}
	return nil
}
