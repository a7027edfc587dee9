package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"veil/internal/captions"
	"veil/internal/config"
	"veil/internal/media/ffprobe"
)

func newCaptionsCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "captions <video>",
		Short: "Generate caption data for a video",
		Long:  "Transcribes the video's audio and writes a caption sidecar file next to the source. Repeat runs reuse the sidecar unless --force is given.",
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

			source, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}

			var duration float64
			if result, probeErr := ffprobe.Inspect(cmd.Context(), cfg.FFprobeBinary(), source); probeErr == nil {
				duration = result.DurationSeconds()
			}

			var provider captions.Provider
			if cfg.Transcription.Provider == "cloud" && cfg.Transcription.BaseURL != "" {
				provider = captions.NewCloudProvider(cfg)
			} else {
				provider = captions.NewSimulatedProvider()
			}

			service := captions.NewService(cfg, provider, logger)
			data, err := service.GenerateForVideo(cmd.Context(), source, duration, force)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(data.Segments))
			for _, segment := range data.Segments {
				rows = append(rows, []string{
					fmt.Sprintf("%d", segment.ID),
					fmt.Sprintf("%.2f-%.2f", segment.Start, segment.End),
					segment.Text,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"#", "Time", "Text"}, rows, 0))
			fmt.Fprintf(cmd.OutOrStdout(), "Sidecar: %s\n", captions.SidecarPath(source))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Regenerate even if a fresh sidecar exists")
	return cmd
}
