package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"veil/internal/delivery"
	"veil/internal/deps"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show toolchain, network, and cache status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			title := cases.Title(language.English)
			out := cmd.OutOrStdout()

			depRows := [][]string{}
			for _, status := range deps.CheckBinaries(deps.Defaults(cfg.FaceBlur.DetectorCommand)) {
				state := "ok"
				if !status.Available {
					state = "missing"
					if status.Optional {
						state = "missing (optional)"
					}
				}
				depRows = append(depRows, []string{status.Name, status.Command, state, status.Detail})
			}
			fmt.Fprintln(out, "Dependencies")
			fmt.Fprintln(out, renderTable([]string{"Name", "Command", "State", "Detail"}, depRows))

			fmt.Fprintln(out, "Network")
			profiler := delivery.NewProfiler(cfg, nil)
			if profile, err := profiler.Measure(cmd.Context()); err != nil {
				fmt.Fprintf(out, "  probe failed: %v\n", err)
			} else {
				tier := delivery.TierForProfile(profile)
				fmt.Fprintln(out, renderTable([]string{"Metric", "Value"}, [][]string{
					{"Quality", title.String(string(profile.Quality))},
					{"Bandwidth", fmt.Sprintf("%.1f Mbps", profile.BandwidthMbps)},
					{"Latency", fmt.Sprintf("%.0f ms", profile.LatencyMs)},
					{"Selected tier", string(tier)},
				}))
			}

			fmt.Fprintln(out, "Device")
			score := delivery.DeviceScore()
			fmt.Fprintln(out, renderTable([]string{"Metric", "Value"}, [][]string{
				{"Performance score", strconv.Itoa(score)},
				{"Cache capacity", humanize.IBytes(uint64(cfg.Delivery.CacheMaxMiB) * 1024 * 1024)},
			}))

			return nil
		},
	}
}
