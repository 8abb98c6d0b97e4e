// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/ezrec/ucboot/backend"
	"github.com/ezrec/ucboot/pipeline"
)

const DEFAULT_CONFIG = "ucboot.yaml"
const DEFAULT_EXAMPLE = "hello"

// rootOptions are the flags shared by every command.
type rootOptions struct {
	config  string
	verbose bool
}

// newPipeline loads the configuration. The default file is optional.
func (opts *rootOptions) newPipeline(cmd *cobra.Command) (pl *pipeline.Pipeline, err error) {
	optional := !cmd.Flags().Changed("config")
	config, err := pipeline.LoadConfig(opts.config, optional)
	if err != nil {
		return
	}

	pl, err = pipeline.New(config)
	if err != nil {
		return
	}

	pl.Verbose = opts.verbose
	pl.Stdout = cmd.OutOrStdout()
	pl.Stderr = cmd.ErrOrStderr()
	return
}

func exampleArg(args []string) string {
	if len(args) == 0 {
		return DEFAULT_EXAMPLE
	}
	return args[0]
}

func newBuildCommand(opts *rootOptions) *cobra.Command {
	var vm bool

	cmd := &cobra.Command{
		Use:   "build [example]",
		Short: "Build a bootable floppy image from an example",
		Long: `Assemble an example and the runtime library, link them, generate
boot sector assembly, run the external assembler, and write a 1.44MB
floppy image with the boot signature.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			pl, err := opts.newPipeline(cmd)
			if err != nil {
				return
			}
			if vm {
				pl.Mode = backend.MODE_VM
			}

			report, err := pl.Build(cmd.Context(), exampleArg(args))
			if err != nil {
				return
			}

			for _, path := range report.Artifacts {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return
		},
	}

	cmd.Flags().BoolVar(&vm, "vm", false, "Use the bytecode VM bootloader")

	return cmd
}

func newConvertCommand(opts *rootOptions) *cobra.Command {
	var width string

	cmd := &cobra.Command{
		Use:   "convert <input> <output>",
		Short: "Convert one source file to native assembly",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			w, err := backend.ParseWidth(width)
			if err != nil {
				return
			}

			pl, err := opts.newPipeline(cmd)
			if err != nil {
				return
			}

			err = pl.Convert(args[0], args[1], w)
			return
		},
	}

	cmd.Flags().StringVar(&width, "width", "16", "Register width, 16 or 32")

	return cmd
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [example]",
		Short: "Run an example on the bytecode VM",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			pl, err := opts.newPipeline(cmd)
			if err != nil {
				return
			}

			err = pl.Run(cmd.Context(), exampleArg(args), cmd.OutOrStdout())
			return
		},
	}

	return cmd
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "ucboot",
		Short:         "Link assembly modules into bootable images",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.PersistentFlags().StringVar(&opts.config, "config", DEFAULT_CONFIG, "Build configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose mode")

	cmd.AddCommand(
		newBuildCommand(opts),
		newConvertCommand(opts),
		newRunCommand(opts),
	)

	return cmd
}

func main() {
	log.SetFlags(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := newRootCommand(os.Stdout, os.Stderr)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		stop()
		log.Fatalf("%v: %v", cmd.Name(), err)
	}
}
