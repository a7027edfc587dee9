package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"veil/internal/processing"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var (
		faceBlur    bool
		voiceChange bool
		transcribe  bool
		quality     string
		voiceEffect string
		mode        string
		optionsJSON string
		jsonOutput  bool
	)

	cmd := &cobra.Command{
		Use:   "process <video>",
		Short: "Anonymize a video and produce a processed artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			opts := processing.Options{
				EnableFaceBlur:      faceBlur,
				EnableVoiceChange:   voiceChange,
				EnableTranscription: transcribe,
				Quality:             quality,
				VoiceEffect:         voiceEffect,
				Mode:                mode,
			}
			if optionsJSON != "" {
				opts, err = processing.ParseOptions([]byte(optionsJSON))
				if err != nil {
					return err
				}
			}

			processor := processing.New(cfg, logger)
			job, attached, err := processor.Submit(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			if attached {
				fmt.Fprintln(cmd.OutOrStdout(), "Attached to processing already in flight for this source.")
			}

			events := job.Events()
			interactive := isatty.IsTerminal(os.Stdout.Fd()) && !jsonOutput
			for event := range events {
				if interactive {
					fmt.Fprintf(cmd.OutOrStdout(), "\r[%3d%%] %-14s %s\033[K", event.Percent, event.Stage, event.Message)
				} else if !jsonOutput {
					fmt.Fprintf(cmd.OutOrStdout(), "[%3d%%] %s: %s\n", event.Percent, event.Stage, event.Message)
				}
			}
			if interactive {
				fmt.Fprintln(cmd.OutOrStdout())
			}

			artifact, err := job.Wait(cmd.Context())
			if err != nil {
				return err
			}
			return printArtifact(cmd, artifact, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&faceBlur, "face-blur", false, "Blur detected faces")
	cmd.Flags().BoolVar(&voiceChange, "voice-change", false, "Apply the voice pitch transform")
	cmd.Flags().BoolVar(&transcribe, "transcribe", false, "Transcribe audio and burn in captions")
	cmd.Flags().StringVar(&quality, "quality", "", "Encode quality: low, medium, or high")
	cmd.Flags().StringVar(&voiceEffect, "voice-effect", "", "Voice effect: deep or light")
	cmd.Flags().StringVar(&mode, "mode", "", "Execution mode: local, server, or hybrid")
	cmd.Flags().StringVar(&optionsJSON, "options-json", "", "Full options document (overrides the individual flags)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the artifact as JSON")

	return cmd
}

func printArtifact(cmd *cobra.Command, artifact *processing.Artifact, jsonOutput bool) error {
	if jsonOutput {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(artifact)
	}

	rows := [][]string{
		{"Artifact", artifact.URI},
		{"Resolution", fmt.Sprintf("%dx%d", artifact.Width, artifact.Height)},
		{"Duration", fmt.Sprintf("%.1fs", artifact.Duration)},
		{"Size", strconv.FormatInt(artifact.Size, 10) + " bytes"},
		{"Face blur", yesNo(artifact.FaceBlurApplied)},
		{"Voice change", yesNo(artifact.VoiceChangeApplied)},
	}
	if artifact.ThumbnailURI != "" {
		rows = append(rows, []string{"Thumbnail", artifact.ThumbnailURI})
	}
	if artifact.Transcription != "" {
		rows = append(rows, []string{"Transcription", artifact.Transcription})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows))
	return nil
}
