package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func (c *cli) executeCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Run one scheduler pass over the local config",
		Long: `Run every job of local_config.json that is due, publish the results and exit.

Job state lives in the .prom files themselves, so a job that ran less than
its execution frequency ago is skipped just like in the daemon.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := commandContext(cmd)
			defer stop()

			a, err := c.openAgent()
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.RunScheduler(ctx, wait)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "due=%d published=%d failed=%d timed_out=%d errors=%d took=%s\n",
				s.Due, s.Published, s.Failed, s.TimedOut, s.Errors, s.Took.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "How long to wait for the config service to write the local config")
	return cmd
}

func (c *cli) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one config service pass",
		Long:  "Download the central config, lint it, resolve this host's profile from its tags and write local_config.json.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := commandContext(cmd)
			defer stop()

			a, err := c.openAgent()
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.RunConfigService(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "profile=%q enabled=%t files=%d took=%s\n",
				rep.Host.Profile, rep.Host.Enabled, len(rep.Files), rep.Took.Round(time.Millisecond))
			for _, m := range rep.Metrics {
				fmt.Fprintln(out, m)
			}
			return nil
		},
	}
}

func (c *cli) gcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Delete .prom files of metrics that are no longer configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := commandContext(cmd)
			defer stop()

			a, err := c.openAgent()
			if err != nil {
				return err
			}
			defer a.Close()

			deleted, err := a.RunGarbageCollector(ctx)
			if err != nil {
				return err
			}
			for _, p := range deleted {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}

func (c *cli) downloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Fetch the central config into the download directory only",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := commandContext(cmd)
			defer stop()

			a, err := c.openAgent()
			if err != nil {
				return err
			}
			defer a.Close()

			files, err := a.Download(ctx)
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}
}
