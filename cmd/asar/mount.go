package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/asar/fuse"
)

func newMountCommand(c *cli) *cobra.Command {
	var allowOther bool
	cmd := &cobra.Command{
		Use:   "mount ARCHIVE MOUNTPOINT",
		Short: "Mount an archive read-only with FUSE",
		Long:  "Mount an archive read-only with FUSE. Runs until interrupted.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.openArchive(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer a.Close()

			server, err := fuse.Mount(fuse.Options{
				Mountpoint: args[1],
				Archive:    a,
				AllowOther: allowOther,
				Logger:     c.logger,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "mounted %s at %s\n", args[0], args[1])

			done := make(chan struct{})
			go func() {
				server.Wait()
				close(done)
			}()
			select {
			case <-cmd.Context().Done():
				if err := server.Unmount(); err != nil {
					return fmt.Errorf("unmount %s: %w", args[1], err)
				}
				<-done
			case <-done:
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&allowOther, "allow-other", false, "let other users access the mount")
	return cmd
}
