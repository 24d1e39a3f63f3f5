package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/meigma/asar"
	"github.com/meigma/asar/internal/config"
)

// cli carries state shared by every subcommand.
type cli struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	cmd := &cobra.Command{
		Use:           "asar",
		Short:         "Pack, inspect and verify asar archives",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "configuration file (YAML or JSONC)")
	flags.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&c.logFormat, "log-format", "", "log format: text or json")

	cmd.AddCommand(
		newPackCommand(c),
		newListCommand(c),
		newCatCommand(c),
		newStatCommand(c),
		newExtractCommand(c),
		newDigestCommand(c),
		newVerifyCommand(c),
		newMountCommand(c),
	)
	return cmd
}

// setup loads configuration and applies flag overrides.
func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = c.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = c.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := cfg.Log.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logger
	return nil
}

// newFS builds the filesystem described by the configuration.
func (c *cli) newFS() (*asar.FS, error) {
	opts, err := c.cfg.FSOptions(c.logger)
	if err != nil {
		return nil, err
	}
	return asar.New(opts...)
}
