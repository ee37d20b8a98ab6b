package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/me/kthreads/pkg/model"
)

func newEventsCmd() *cobra.Command {
	var (
		kind   string
		thread string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "events <run_id>",
		Short: "Show the scheduling trace of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("kind", kind)
			q.Set("thread", thread)
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))

			resp, err := client.Get("/api/v1/runs/"+args[0]+"/events", q)
			if err != nil {
				return fmt.Errorf("list events: %w", err)
			}

			var events []model.Event
			if err := json.Unmarshal(resp.Data, &events); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			if len(events) == 0 {
				printf(cmd, "No events found.\n")
				return nil
			}

			printEvents(cmd.OutOrStdout(), events)
			if resp.Pagination != nil && resp.Pagination.HasMore {
				printf(cmd, "\n(%d of %d shown; use --offset %d for more)\n",
					len(events), resp.Pagination.Total, offset+len(events))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Only events of this kind (dispatch, donate, wake, ...)")
	cmd.Flags().StringVar(&thread, "thread", "", "Only events of this thread")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum events to show (1-100)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Events to skip")
	return cmd
}
