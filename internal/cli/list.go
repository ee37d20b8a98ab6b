package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/me/kthreads/pkg/model"
)

func newListCmd() *cobra.Command {
	var (
		limit    int
		offset   int
		status   string
		scenario string
		mlfqs    string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))
			q.Set("status", status)
			q.Set("scenario", scenario)
			q.Set("mlfqs", mlfqs)

			resp, err := client.Get("/api/v1/runs/", q)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			var runs []model.Run
			if err := json.Unmarshal(resp.Data, &runs); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(runs) == 0 {
				printf(cmd, "No runs found.\n")
				return nil
			}

			printf(cmd, "%-40s  %-24s  %-10s  %-6s  %10s  %s\n", "ID", "SCENARIO", "STATUS", "MLFQS", "TICKS", "CREATED")
			printf(cmd, "%-40s  %-24s  %-10s  %-6s  %10s  %s\n", "--", "--------", "------", "-----", "-----", "-------")
			for _, r := range runs {
				printf(cmd, "%-40s  %-24s  %-10s  %-6t  %10d  %s\n", r.ID, r.Scenario, r.Status, r.MLFQS, r.Ticks, since(r.CreatedAt))
			}

			if resp.Pagination != nil && resp.Pagination.HasMore {
				printf(cmd, "\n(%d of %d shown)\n", len(runs), resp.Pagination.Total)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to show (1-100)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Runs to skip")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (COMPLETED, FAULTED)")
	cmd.Flags().StringVar(&scenario, "scenario", "", "Filter by scenario name")
	cmd.Flags().StringVar(&mlfqs, "mlfqs", "", "Filter by scheduler (true, false)")
	return cmd
}
