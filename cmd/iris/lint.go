package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"iris/internal/agent"
	"iris/internal/config"
	"iris/internal/expo"
	"iris/internal/metric"
	logx "iris/pkg/logx"
)

func (c *cli) lintCmd() *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "lint [dir]",
		Short: "Validate a central config tree",
		Long: `Lint global_config.json, metrics.json and profiles/ under dir.

Without dir the agent's download directory is linted. Profiles that name
metrics missing from metrics.json fail the lint, since the config service
would refuse them on every host using that profile.

With --local the agent's local_config.json is linted as well.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var paths config.Paths
			if len(args) == 0 || local {
				cfg, err := config.NewConfigManager(c.configPath).Load()
				if err != nil {
					return fmt.Errorf("load config %s: %w", c.configPath, err)
				}
				paths = cfg.Paths()
			}
			dir := paths.Downloads
			if len(args) == 1 {
				dir = args[0]
			}

			linter := metric.NewLinter(logx.NewConsole("warn"), reservedNames()...)
			tree, err := linter.LintTree(dir)
			if err != nil {
				return err
			}
			if undefined := tree.Undefined(); len(undefined) > 0 {
				names := make([]string, 0, len(undefined))
				for p := range undefined {
					names = append(names, p)
				}
				sort.Strings(names)
				var b strings.Builder
				for _, p := range names {
					fmt.Fprintf(&b, "\n  profile %s: %s", p, strings.Join(undefined[p], ", "))
				}
				return fmt.Errorf("profiles reference undefined metrics:%s", b.String())
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok (%d metrics, %d profiles)\n", dir, len(tree.Metrics), len(tree.Profiles))
			if !local {
				return nil
			}
			defs, err := linter.LintLocalConfig(tree.Global, paths.LocalConfig)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: ok (%d metrics)\n", paths.LocalConfig, len(defs))
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "Also lint the agent's local_config.json")
	return cmd
}

// reservedNames are the internal signal files of a running agent.
func reservedNames() []string { return expo.InternalNames(agent.Supervised...) }
