package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"text/tabwriter"

	"github.com/spf13/cobra"

	asarcore "github.com/meigma/asar/core"
	"github.com/meigma/asar/core/remote"
)

// openArchive opens a container file or http(s) URL directly, honoring the
// configured header limit and integrity checking.
func (c *cli) openArchive(ctx context.Context, path string) (*asarcore.Archive, error) {
	opts := []asarcore.Option{
		asarcore.WithLogger(c.logger),
		asarcore.WithVerifyIntegrity(c.cfg.VerifyIntegrity),
		asarcore.WithMaxLinkHops(c.cfg.MaxLinkHops),
	}
	if c.cfg.MaxHeaderSize > 0 {
		opts = append(opts, asarcore.WithMaxHeaderSize(c.cfg.MaxHeaderSize))
	}
	if remote.IsURL(path) {
		return remote.Open(ctx, path, nil, opts...)
	}
	return asarcore.OpenFile(path, opts...)
}

func newListCommand(c *cli) *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:     "list ARCHIVE",
		Aliases: []string{"ls"},
		Short:   "List archive entries in storage order",
		Long:    "List archive entries. ARCHIVE may be an http(s) URL whose server honors range requests.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.openArchive(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer a.Close()
			return listEntries(cmd.OutOrStdout(), a, long)
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "show kind, mode, size and link targets")
	return cmd
}

func listEntries(w io.Writer, a *asarcore.Archive, long bool) error {
	if !long {
		for name := range a.Entries() {
			if _, err := fmt.Fprintln(w, name); err != nil {
				return err
			}
		}
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for name, e := range a.Entries() {
		suffix := ""
		switch {
		case e.IsLink():
			suffix = " -> " + e.Link
		case e.Unpacked:
			suffix = " (unpacked)"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s%s\n", e.Mode(), e.Size, name, suffix)
	}
	return tw.Flush()
}

func newCatCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "cat PATH...",
		Short: "Print files, reading through archives",
		Long:  "Print files. Paths may run through archives, e.g. app.asar/lib/index.js.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := c.newFS()
			if err != nil {
				return err
			}
			defer fsys.Close()
			for _, name := range args {
				data, err := fsys.ReadFile(name)
				if err != nil {
					return err
				}
				if _, err := cmd.OutOrStdout().Write(data); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newStatCommand(c *cli) *cobra.Command {
	var noFollow bool
	cmd := &cobra.Command{
		Use:   "stat PATH",
		Short: "Describe a file, reading through archives",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := c.newFS()
			if err != nil {
				return err
			}
			defer fsys.Close()

			var info fs.FileInfo
			if noFollow {
				info, err = fsys.Lstat(args[0])
			} else {
				info, err = fsys.Stat(args[0])
			}
			if err != nil {
				return err
			}
			printInfo(cmd.OutOrStdout(), args[0], info)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&noFollow, "no-follow", "L", false, "describe a link itself")
	return cmd
}

func printInfo(w io.Writer, name string, info fs.FileInfo) {
	tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', 0)
	fmt.Fprintf(tw, "path:\t%s\n", name)
	fmt.Fprintf(tw, "size:\t%d\n", info.Size())
	fmt.Fprintf(tw, "mode:\t%s\n", info.Mode())
	if e, ok := info.Sys().(*asarcore.Entry); ok {
		switch {
		case e.IsLink():
			fmt.Fprintf(tw, "link:\t%s\n", e.Link)
		case e.IsFile() && e.Unpacked:
			fmt.Fprintf(tw, "unpacked:\ttrue\n")
		case e.IsFile():
			fmt.Fprintf(tw, "offset:\t%d\n", e.Offset)
		}
		if e.Integrity != nil {
			fmt.Fprintf(tw, "integrity:\t%s %s\n", e.Integrity.Algorithm, e.Integrity.Hash)
		}
	}
	tw.Flush()
}
