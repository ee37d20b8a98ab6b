package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/kthreads/internal/config"
	"github.com/me/kthreads/internal/logging"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string
	flagConfig    string

	logger  *slog.Logger
	client  *Client
	fileCfg config.File
)

// defaultServer returns the default server URL, checking KTHREADS_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("KTHREADS_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the kthreads CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kthreads",
		Short: "kthreads: simulated kernel thread scheduler",
		Long: `kthreads runs scheduling scenarios on a simulated single-CPU kernel with
priority donation or the multi-level feedback queue scheduler, and inspects
the runs stored by a kthreads server.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			fileCfg = config.DefaultFile()
			if flagConfig != "" {
				f, err := config.Load(flagConfig)
				if err != nil {
					return err
				}
				fileCfg = f
				if !cmd.Flags().Changed("log-level") && f.Log.Level != "" {
					flagLogLevel = f.Log.Level
				}
				if !cmd.Flags().Changed("log-format") && f.Log.Format != "" {
					flagLogFormat = f.Log.Format
				}
			}
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLoggerWithWriter(logging.ParseLevel(flagLogLevel), flagLogFormat, cmd.ErrOrStderr())
			client = NewClient(flagServer, logger)
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "kthreads server URL (or KTHREADS_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "YAML config file with kernel, log and db sections")

	root.AddCommand(
		newRunCmd(),
		newListCmd(),
		newStatusCmd(),
		newEventsCmd(),
		newDeleteCmd(),
	)

	return root
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
