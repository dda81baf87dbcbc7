package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"contentfilter/pkg/blocklist"
	"contentfilter/pkg/config"
	"contentfilter/pkg/logger"
	"contentfilter/pkg/version"
)

// cli carries state shared by the subcommands.
type cli struct {
	configPath string
	cfg        *config.Config
	log        *slog.Logger
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "contentfilter",
		Short:         "Manage a URL block-list and push it to a Caddy reverse proxy",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return c.setup(cmd)
		},
		RunE: c.runServe,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "path to a TOML config file (default $CONTENTFILTER_CONFIG)")
	flags.String("database", "urls.json", "path of the block-list JSON file")
	flags.String("listen", ":8000", "admin API listen address")
	flags.String("prefix", "", "web root prefix of the admin API")
	flags.String("proxy-mode", "static-config-file", "proxy sync mode: live-api, static-json, static-config-file or disabled")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-file", "stdout", "log file path, stdout or stderr")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the admin API and keep the proxy in sync (default)",
			Args:  cobra.NoArgs,
			RunE:  c.runServe,
		},
		&cobra.Command{
			Use:   "sync",
			Short: "Push the stored block-list to the proxy once",
			Args:  cobra.NoArgs,
			RunE:  c.runSync,
		},
		&cobra.Command{
			Use:   "import <file-or-url>",
			Short: "Import a JSON list of URLs into the block-list",
			Args:  cobra.ExactArgs(1),
			RunE:  c.runImport,
		},
		&cobra.Command{
			Use:   "export",
			Short: "Print the block-list as a JSON array",
			Args:  cobra.NoArgs,
			RunE:  c.runExport,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version.ContentFilterVersion)
			},
		},
	)

	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath, cmd.Flags())
	if err != nil {
		return c.report(cmd, fmt.Errorf("load config: %w", err))
	}
	logFile := cfg.Logging.File
	if cmd.Name() == "export" && logFile == "stdout" {
		// stdout carries the exported document.
		logFile = "stderr"
	}
	log, err := logger.Setup(cfg.Logging.Level, logFile)
	if err != nil {
		return c.report(cmd, err)
	}
	c.cfg = cfg
	c.log = log
	return nil
}

// report prints err for the operator, who may not be reading the log file.
func (c *cli) report(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
	return err
}

func (c *cli) newApp(cmd *cobra.Command) (*app, error) {
	a, err := newApp(c.cfg, c.log)
	if err != nil {
		c.log.Error("failed to initialise", "error", err)
		return nil, c.report(cmd, err)
	}
	return a, nil
}

func (c *cli) runServe(cmd *cobra.Command, _ []string) error {
	a, err := c.newApp(cmd)
	if err != nil {
		return err
	}
	if err := a.runUntilSignal(cmd.Context()); err != nil {
		c.log.Error("server stopped with error", "error", err)
		return c.report(cmd, err)
	}
	return nil
}

func (c *cli) runSync(cmd *cobra.Command, _ []string) error {
	a, err := c.newApp(cmd)
	if err != nil {
		return err
	}
	if err := a.svc.Resync(cmd.Context(), "command line"); err != nil {
		return c.report(cmd, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pushed %d URLs (%s)\n", a.store.Len(), a.tracker.Mode())
	return nil
}

func (c *cli) runImport(cmd *cobra.Command, args []string) error {
	a, err := c.newApp(cmd)
	if err != nil {
		return err
	}
	data, err := blocklist.ReadSource(cmd.Context(), args[0])
	if err != nil {
		return c.report(cmd, fmt.Errorf("read %s: %w", args[0], err))
	}
	n, err := a.svc.ImportJSON(cmd.Context(), data)
	if err != nil {
		if errors.Is(err, blocklist.ErrNotList) || errors.Is(err, blocklist.ErrMalformed) {
			err = fmt.Errorf("unable to import %s: %w", args[0], err)
		}
		return c.report(cmd, err)
	}
	if n == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no URL imported, was the list empty or all duplicates?")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d URLs, %d in the block-list\n", n, a.store.Len())
	return nil
}

func (c *cli) runExport(cmd *cobra.Command, _ []string) error {
	a, err := c.newApp(cmd)
	if err != nil {
		return err
	}
	data, err := a.svc.ExportJSON()
	if err != nil {
		return c.report(cmd, err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
