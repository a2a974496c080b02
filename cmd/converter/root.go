package main

import (
	"github.com/spf13/cobra"
)

// defaultConfigPath is read when --config is not given. A missing file means
// defaults plus CONVERTER_* environment variables.
const defaultConfigPath = "config.yaml"

func newRootCommand() *cobra.Command {
	ctx := newCommandContext()

	rootCmd := &cobra.Command{
		Use:           "converter",
		Short:         "Batch convert MKV files to MP4 with ffmpeg",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&ctx.configPath, "config", "c", defaultConfigPath, "Configuration file path")
	flags.String("input", "", "Input root directory (overrides input_root)")
	flags.String("output", "", "Output root directory (overrides output_root)")
	flags.BoolP("verbose", "v", false, "Verbose logging and ffmpeg output")
	ctx.bindFlag(flags.Lookup("input"), "input_root")
	ctx.bindFlag(flags.Lookup("output"), "output_root")
	ctx.bindFlag(flags.Lookup("verbose"), "verbose")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newScanCommand(ctx))
	rootCmd.AddCommand(newCheckCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))

	return rootCmd
}
