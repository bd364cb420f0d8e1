package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"newsletter/internal/notify"
	"newsletter/internal/store"
)

var dispatchTimeout time.Duration

// sendNotificationsCmd runs one publish and dispatch pass and prints its report.
var sendNotificationsCmd = &cobra.Command{
	Use:   "send-notifications",
	Short: "Publish due posts and email pending notifications once",
	Long: `Publishes scheduled posts whose time has come, then notifies eligible
subscribers of every published post whose notifications are still open.
Safe to run alongside 'serve' or another instance: posts and ledger
entries are locked while they are processed.

Examples:
  newsletter send-notifications
  newsletter send-notifications --timeout 2m`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		db, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		if dispatchTimeout > 0 {
			var cancel func()
			ctx, cancel = context.WithTimeout(ctx, dispatchTimeout)
			defer cancel()
		}

		dispatcher := newDispatcher(cfg,
			store.NewPostStore(db, cfg.DispatchLockTimeout),
			store.NewLedgerStore(db, cfg.DispatchLockTimeout),
			notify.SystemClock{},
		)
		report, err := dispatcher.Run(ctx)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		if report.Failed > 0 || report.Errors > 0 {
			return fmt.Errorf("dispatch finished with %d failed sends and %d errors", report.Failed, report.Errors)
		}
		return nil
	},
}

func init() {
	sendNotificationsCmd.Flags().DurationVar(&dispatchTimeout, "timeout", 10*time.Minute, "Upper bound for the whole pass (0 disables)")
}
