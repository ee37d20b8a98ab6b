package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/kthreads/internal/scenario"
	"github.com/me/kthreads/internal/store"
	"github.com/me/kthreads/pkg/model"
)

// ErrRunFaulted is returned when a scenario ends in a kernel fault.
var ErrRunFaulted = errors.New("run faulted")

func newRunCmd() *cobra.Command {
	var (
		dbPath     string
		mlfqs      bool
		remote     bool
		showEvents bool
		threads    bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scheduling scenario",
		Long: `Boots a simulated machine, runs the scenario to completion, and prints the
run summary. By default the run happens in this process; --remote submits it
to the server instead. A run that ends in a kernel fault exits non-zero.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var run *model.Run
			var events []model.Event
			var err error
			if remote {
				run, err = runRemote(args[0], mlfqs)
			} else {
				if dbPath == "" {
					dbPath = fileCfg.DBPath
				}
				run, events, err = runLocal(cmd.Context(), args[0], mlfqs, dbPath, timeout)
			}
			if err != nil {
				return err
			}

			printRun(cmd.OutOrStdout(), run)
			if threads {
				printThreads(cmd.OutOrStdout(), run.Threads)
			}
			if showEvents && events != nil {
				printf(cmd, "\n")
				printEvents(cmd.OutOrStdout(), events)
			}
			if run.Status == model.RunStatusFaulted {
				return fmt.Errorf("%w: %s", ErrRunFaulted, run.Fault)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Persist the run to this SQLite database (default: config db, else not persisted)")
	cmd.Flags().BoolVar(&mlfqs, "mlfqs", false, "Force the multi-level feedback queue scheduler")
	cmd.Flags().BoolVar(&remote, "remote", false, "Execute on the server instead of locally")
	cmd.Flags().BoolVar(&showEvents, "events", false, "Print the scheduling trace (local runs)")
	cmd.Flags().BoolVar(&threads, "threads", false, "Print the final thread table")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "Wall-clock limit for a local run")

	return cmd
}

func runLocal(parent context.Context, path string, mlfqs bool, dbPath string, timeout time.Duration) (*model.Run, []model.Event, error) {
	sc, err := scenario.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if mlfqs {
		sc.MLFQS = true
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := scenario.Run(ctx, sc, fileCfg.Kernel, logger)
	if err != nil {
		return nil, nil, err
	}

	if dbPath != "" {
		if err := persist(context.Background(), dbPath, res); err != nil {
			return nil, nil, err
		}
		logger.Info("run stored", "id", res.Run.ID, "db", dbPath)
	}
	return &res.Run, res.Events, nil
}

func persist(ctx context.Context, dbPath string, res *scenario.Result) error {
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate %s: %w", dbPath, err)
	}
	return st.SaveRun(ctx, &res.Run, res.Events)
}

func runRemote(path string, mlfqs bool) (*model.Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	endpoint := "/api/v1/runs/"
	if mlfqs {
		endpoint += "?mlfqs=true"
	}
	resp, err := client.PostScenario(endpoint, data)
	if err != nil {
		return nil, fmt.Errorf("submit scenario: %w", err)
	}
	var run model.Run
	if err := json.Unmarshal(resp.Data, &run); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &run, nil
}
