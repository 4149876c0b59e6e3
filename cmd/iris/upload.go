package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"iris/internal/config"
	"iris/internal/configsvc"
	"iris/internal/metric"
	logx "iris/pkg/logx"
)

func (c *cli) uploadCmd() *cobra.Command {
	var (
		prefix string
		noLint bool
	)
	cmd := &cobra.Command{
		Use:   "upload <dir>",
		Short: "Publish a central config tree to the configured S3 bucket",
		Long: `Upload every file under dir to s3://<bucket>/<prefix>, using the bucket,
region and credentials of the config_service.s3 section.

The tree is linted first and nothing is uploaded when it is invalid.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := commandContext(cmd)
			defer stop()

			dir := args[0]
			cfg, err := config.NewConfigManager(c.configPath).Load()
			if err != nil {
				return fmt.Errorf("load config %s: %w", c.configPath, err)
			}
			log := logx.NewConsole(cfg.Logging.Level)

			if !noLint {
				tree, err := metric.NewLinter(log, reservedNames()...).LintTree(dir)
				if err != nil {
					return fmt.Errorf("refusing to upload: %w", err)
				}
				if undefined := tree.Undefined(); len(undefined) > 0 {
					return fmt.Errorf("refusing to upload: profiles reference undefined metrics: %v", undefined)
				}
			}

			s3cfg := cfg.ConfigService.S3
			if cmd.Flags().Changed("prefix") {
				s3cfg.Prefix = prefix
			}
			src, err := configsvc.NewS3Source(ctx, configsvc.S3Options{
				Bucket:          s3cfg.Bucket,
				Prefix:          s3cfg.Prefix,
				Region:          s3cfg.Region,
				Profile:         s3cfg.Profile,
				CredentialsFile: s3cfg.CredentialsFile,
			}, log.Component("upload"))
			if err != nil {
				return err
			}
			keys, err := src.Upload(ctx, dir)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "s3://%s/%s\n", s3cfg.Bucket, k)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Override config_service.s3.prefix")
	cmd.Flags().BoolVar(&noLint, "no-lint", false, "Upload without linting the tree first")
	return cmd
}
