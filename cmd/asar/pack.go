package main

import (
	"fmt"

	"github.com/spf13/cobra"

	asarcore "github.com/meigma/asar/core"
)

type packOptions struct {
	unpack      []string
	exclude     []string
	natives     bool
	strict      bool
	concurrency int
	maxFiles    int
	quiet       bool
}

func newPackCommand(c *cli) *cobra.Command {
	var opts packOptions
	cmd := &cobra.Command{
		Use:   "pack DIR OUTPUT",
		Short: "Pack a directory into an archive",
		Long: "Pack a directory into an archive. Files selected with --unpack are kept\n" +
			"out of the archive and copied to OUTPUT.unpacked.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runPack(cmd, args[0], args[1], opts)
		},
	}
	flags := cmd.Flags()
	flags.StringSliceVar(&opts.unpack, "unpack", nil, "glob of files to keep outside the archive (repeatable)")
	flags.StringSliceVar(&opts.exclude, "exclude", nil, "glob of files to leave out (repeatable)")
	flags.BoolVar(&opts.natives, "unpack-native", false, "keep native modules (.node, .so, .dll, .dylib) outside the archive")
	flags.BoolVar(&opts.strict, "strict", false, "fail when files change while packing")
	flags.IntVar(&opts.concurrency, "concurrency", 0, "files hashed in parallel (0 = GOMAXPROCS)")
	flags.IntVar(&opts.maxFiles, "max-files", asarcore.DefaultMaxFiles, "maximum number of entries (negative = unlimited)")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "do not print a summary")
	return cmd
}

func (c *cli) runPack(cmd *cobra.Command, dir, out string, opts packOptions) error {
	createOpts := []asarcore.CreateOption{
		asarcore.CreateWithUnpack(opts.unpack...),
		asarcore.CreateWithExclude(opts.exclude...),
		asarcore.CreateWithConcurrency(opts.concurrency),
		asarcore.CreateWithMaxFiles(opts.maxFiles),
		asarcore.CreateWithLogger(c.logger),
		asarcore.CreateWithProgress(func(ev asarcore.ProgressEvent) {
			c.logger.Debug("pack progress", "stage", ev.Stage.String(), "path", ev.Path)
		}),
	}
	if opts.natives {
		createOpts = append(createOpts, asarcore.CreateWithUnpackFunc(asarcore.NativeModules))
	}
	if opts.strict {
		createOpts = append(createOpts, asarcore.CreateWithChangeDetection(asarcore.ChangeDetectionStrict))
	}

	a, err := asarcore.CreateFile(cmd.Context(), dir, out, createOpts...)
	if err != nil {
		return err
	}
	defer a.Close()

	if !opts.quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries, header %d bytes, %d bytes total\n",
			out, a.Len(), a.HeaderSize(), a.Size())
	}
	return nil
}
