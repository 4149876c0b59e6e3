package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"iris/internal/agent"
)

const defaultConfigPath = "/etc/iris/iris.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "iris:", err)
		os.Exit(1)
	}
}

// cli carries the global flags and the agent options every subcommand
// builds its agent with.
type cli struct {
	configPath string
	opts       []agent.Option
}

func newRootCmd(opts ...agent.Option) *cobra.Command {
	c := &cli{opts: opts}
	root := &cobra.Command{
		Use:   "iris",
		Short: "iris - host metrics agent for the node exporter textfile collector",
		Long: `iris runs shell commands on a schedule and writes their numeric output
as Prometheus .prom files for the node exporter textfile collector.

Which commands run on a host is decided by its profile: the config service
downloads the central metric definitions and picks the profile named by the
host's tags.

Examples:
  iris run                       # Start the agent
  iris execute --wait 30s        # One scheduler pass
  iris lint ./central-config     # Validate a config tree before upload
  iris history cpu_load -n 5     # Recent runs of one job`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", defaultConfigPath, "Path to the agent config file (YAML or JSON)")

	root.AddCommand(
		c.runCmd(),
		c.executeCmd(),
		c.syncCmd(),
		c.gcCmd(),
		c.downloadCmd(),
		c.lintCmd(),
		c.uploadCmd(),
		c.historyCmd(),
	)
	return root
}

func (c *cli) openAgent() (*agent.Agent, error) {
	a, err := agent.New(c.configPath, c.opts...)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", c.configPath, err)
	}
	return a, nil
}
