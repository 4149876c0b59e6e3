package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func (c *cli) historyCmd() *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "history [job]",
		Short: "Show recent runs from the run history",
		Long: `Show the most recent recorded runs, newest first. Without job every job is listed.

Requires the storage section in the agent config.

Examples:
  iris history                  # Last 20 runs of any job
  iris history cpu_load -n 5    # Last 5 runs of cpu_load
  iris history --json           # One JSON record per line`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			var job string
			if len(args) == 1 {
				job = args[0]
			}

			a, err := c.openAgent()
			if err != nil {
				return err
			}
			defer a.Close()
			st := a.Store()
			if st == nil {
				return errors.New("run history is disabled (no storage section in config)")
			}

			runs, err := st.RecentRuns(cmd.Context(), job, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				for _, r := range runs {
					if err := enc.Encode(r); err != nil {
						return err
					}
				}
				return nil
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs recorded")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "AT\tJOB\tVALUE\tRC\tTOOK\tPUBLISHED\tNOTE")
			for _, r := range runs {
				note := r.Error
				if r.TimedOut {
					note = "timed out"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					r.At.Local().Format(time.DateTime),
					r.Job,
					r.Value,
					r.ReturnCode,
					(time.Duration(r.TookMS) * time.Millisecond).String(),
					strconv.FormatBool(r.Published),
					note,
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print one JSON record per line")
	return cmd
}
