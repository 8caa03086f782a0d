package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"chunkwise/internal/config"
	"chunkwise/internal/logging"
	"chunkwise/internal/pipeline"
)

type encodeFlags struct {
	input    string
	output   string
	temp     string
	workers  int
	encoder  string
	params   string
	method   string
	crop     string
	noResume bool
	keepTemp bool
	affinity bool
}

func newEncodeCommand(ctx *commandContext) *cobra.Command {
	var flags encodeFlags

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode a video in parallel chunks",
		Long: "Split the input into chunks, encode them with a pool of encoder processes, and join\n" +
			"the results. An interrupted run resumes from its temp directory when rerun with the\n" +
			"same input, output, and settings.",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg, err := applyEncodeFlags(base, flags, cmd.Flags().Changed)
			if err != nil {
				return err
			}
			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			runner := pipeline.NewRunner(cfg, logger, pipeline.WithProgressOutput(os.Stderr))
			result, err := runner.Run(cmd.Context(), pipeline.Job{
				Input:   flags.input,
				Output:  flags.output,
				TempDir: flags.temp,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Encoded %s\n", result.Output)
			fmt.Fprintf(out, "  Run:      %s (%s)\n", result.RunID, result.Decision)
			fmt.Fprintf(out, "  Chunks:   %d (%d attempts, %d workers)\n", result.Chunks, result.Attempts, result.Workers)
			fmt.Fprintf(out, "  Frames:   %s\n", humanize.Comma(int64(result.Frames)))
			fmt.Fprintf(out, "  Size:     %s\n", humanize.IBytes(uint64(max(result.Size, 0))))
			fmt.Fprintf(out, "  Audio:    %s\n", yesNo(result.Audio))
			fmt.Fprintf(out, "  Elapsed:  %s\n", result.Elapsed.Round(time.Second))
			if cfg.Resume.KeepTemp {
				fmt.Fprintf(out, "  Temp dir: %s\n", result.TempDir)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.input, "input", "i", "", "Source video file")
	f.StringVarP(&flags.output, "output", "o", "", "Destination file")
	f.StringVar(&flags.temp, "temp", "", "Temp directory for chunk artifacts and run state")
	f.IntVar(&flags.workers, "workers", 0, "Number of concurrent encoder processes (0 = automatic)")
	f.StringVar(&flags.encoder, "encoder", "", "Encoder name ("+strings.Join(config.EncoderNames(), ", ")+")")
	f.StringVar(&flags.params, "params", "", "Encoder parameters passed through verbatim")
	f.StringVar(&flags.method, "method", "", "Chunking method (scene, keyframe, fixed, none)")
	f.StringVar(&flags.crop, "crop", "", "Crop mode: none, auto, or crop=W:H:X:Y")
	f.BoolVar(&flags.noResume, "no-resume", false, "Ignore any previous run state and start over")
	f.BoolVar(&flags.keepTemp, "keep-temp", false, "Keep the temp directory after a successful run")
	f.BoolVar(&flags.affinity, "affinity", false, "Pin each worker to its own CPU set")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

// applyEncodeFlags returns a copy of base with the changed flags applied on
// top and the result normalized again.
func applyEncodeFlags(base *config.Config, flags encodeFlags, changed func(string) bool) (*config.Config, error) {
	if base == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	cfg := *base
	if changed("workers") {
		if flags.workers < 0 {
			return nil, fmt.Errorf("--workers must be zero or positive")
		}
		cfg.Workers.Count = flags.workers
	}
	if changed("encoder") {
		name := strings.TrimSpace(flags.encoder)
		if !strings.EqualFold(name, cfg.Encoder.Name) {
			cfg.Encoder.Binary = ""
		}
		cfg.Encoder.Name = name
	}
	if changed("params") {
		cfg.Encoder.Params = flags.params
	}
	if changed("method") {
		cfg.Chunking.Method = flags.method
	}
	if changed("crop") {
		cfg.Source.Crop = flags.crop
	}
	if changed("no-resume") && flags.noResume {
		cfg.Resume.Enabled = false
	}
	if changed("keep-temp") {
		cfg.Resume.KeepTemp = flags.keepTemp
	}
	if changed("affinity") {
		cfg.Workers.Affinity = flags.affinity
	}
	if err := cfg.Finalize(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	return &cfg, nil
}
