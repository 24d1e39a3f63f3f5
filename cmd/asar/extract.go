package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	asarcore "github.com/meigma/asar/core"
)

func newExtractCommand(c *cli) *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "extract ARCHIVE DEST",
		Short: "Extract an archive into a directory",
		Long: "Extract an archive into DEST. Unpacked files are copied from\n" +
			"ARCHIVE.unpacked when present. Nothing is written outside DEST.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.openArchive(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer a.Close()
			if concurrency <= 0 {
				concurrency = runtime.GOMAXPROCS(0)
			}
			n, err := c.extract(cmd, a, args[1], concurrency)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "extracted %d entries to %s\n", n, args[1])
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "files written in parallel (0 = GOMAXPROCS)")
	return cmd
}

// extract writes every entry of a below dest. Directories are created
// first, then files in parallel, then links.
func (c *cli) extract(cmd *cobra.Command, a *asarcore.Archive, dest string, concurrency int) (int, error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return 0, err
	}
	root, err := os.OpenRoot(dest)
	if err != nil {
		return 0, err
	}
	defer root.Close()

	var files, links []string
	count := 0
	for name, e := range a.Entries() {
		count++
		switch {
		case e.IsDir():
			if err := root.MkdirAll(filepath.FromSlash(name), 0o755); err != nil {
				return 0, fmt.Errorf("create %s: %w", name, err)
			}
		case e.IsLink():
			links = append(links, name)
		default:
			files = append(files, name)
		}
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(concurrency)
	for _, name := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return c.extractFile(root, a, name)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	for _, name := range links {
		e, err := a.Lookup(name)
		if err != nil {
			return 0, err
		}
		if err := root.Symlink(filepath.FromSlash(e.Link), filepath.FromSlash(name)); err != nil && !errors.Is(err, fs.ErrExist) {
			return 0, fmt.Errorf("link %s: %w", name, err)
		}
	}
	return count, nil
}

func (c *cli) extractFile(root *os.Root, a *asarcore.Archive, name string) error {
	e, err := a.Lookup(name)
	if err != nil {
		return err
	}
	perm := fs.FileMode(0o644)
	if e.Executable {
		perm = 0o755
	}

	var src io.ReadCloser
	if e.Unpacked {
		hostPath := filepath.Join(a.Path()+".unpacked", filepath.FromSlash(name))
		f, err := os.Open(hostPath) //nolint:gosec // path is derived from the archive location
		if errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("unpacked file missing, skipped", "path", name, "expected", hostPath)
			return nil
		}
		if err != nil {
			return err
		}
		src = f
	} else {
		f, err := a.OpenEntry(name)
		if err != nil {
			return err
		}
		src = f
	}
	defer src.Close()

	dst, err := root.OpenFile(filepath.FromSlash(name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("extract %s: %w", name, err)
	}
	c.logger.Debug("extracted", "stage", asarcore.StageExtracting.String(), "path", name)
	return dst.Close()
}
