package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"profile-indexer/application"
)

var flagReindexForce bool

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Bring every profile's index entry up to date",
	Long: `Submit an index job for every profile and wait for all of them.
Unchanged profiles are skipped unless --force is given. Only one bulk run may
hold the reindex lock at a time. Ctrl-C stops the run after the profiles
already in flight.`,
	Args: cobra.NoArgs,
	RunE: runReindex,
}

func init() {
	reindexCmd.Flags().BoolVar(&flagReindexForce, "force", false, "Re-embed every profile even when unchanged")
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if !flagJSON {
		printSection("Reindex")
	}
	lastPercent := -1
	summary, err := a.reindex.ReindexAll(ctx, flagReindexForce, func(s application.ReindexSummary) {
		if flagJSON || s.Percent() == lastPercent {
			return
		}
		lastPercent = s.Percent()
		printInfo("", fmt.Sprintf("%3d%%  %d/%d profiles", s.Percent(), s.Done, s.Total))
	})

	cancelled := errors.Is(err, context.Canceled)
	switch {
	case errors.Is(err, application.ErrReindexInProgress):
		printWarn("", "another bulk reindex is running")
		return err
	case err != nil && !cancelled:
		return err
	}

	if flagJSON {
		if jerr := printJSON(summary); jerr != nil {
			return jerr
		}
		return err
	}
	if cancelled {
		printWarn("", fmt.Sprintf("cancelled after %d of %d profiles", summary.Done, summary.Total))
		return err
	}
	printOK("", fmt.Sprintf("processed %d, skipped %d, errors %d of %d profiles",
		summary.Processed, summary.Skipped, summary.Errors, summary.Total))
	if summary.Errors > 0 {
		return fmt.Errorf("%d profiles failed to index", summary.Errors)
	}
	return nil
}
