package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"profile-indexer/domain"
)

var (
	flagIndexForce bool
	flagIndexWait  bool
)

var indexCmd = &cobra.Command{
	Use:   "index <profile-id>",
	Short: "Index one profile now",
	Long: `Enqueue an index job for one profile. A profile whose indexable text has
not changed since it was last indexed is skipped unless --force is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagIndexForce, "force", false, "Re-embed even when the text is unchanged")
	indexCmd.Flags().BoolVar(&flagIndexWait, "wait", true, "Wait for the job and print its final status")
	rootCmd.AddCommand(indexCmd)
}

func parseProfileID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid profile id %q", s)
	}
	return id, nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	id, err := parseProfileID(args[0])
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.indexing.TriggerProfile(ctx, id, flagIndexForce)
	if err != nil {
		return err
	}
	if res.Status == "skipped" || !flagIndexWait {
		if flagJSON {
			return printJSON(res)
		}
		if res.Status == "skipped" {
			printSkip(args[0], "up to date ("+res.Fingerprint.Short()+")")
		} else {
			printInfo(args[0], "queued as job "+res.JobID)
		}
		return nil
	}

	st, err := a.pool.Wait(ctx, res.JobID)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(st)
	}
	return printJobStatus(args[0], st)
}

func printJobStatus(name string, st domain.JobStatus) error {
	switch st.State {
	case domain.JobSucceeded:
		msg := fmt.Sprintf("indexed after %d attempt(s)", st.Attempts)
		if st.Result != nil {
			msg += fmt.Sprintf(" with %s (%s)", st.Result.EncoderVersion, st.Result.Fingerprint.Short())
		}
		printOK(name, msg)
	case domain.JobSkipped:
		printSkip(name, "up to date")
	case domain.JobFailed:
		printErr(name, fmt.Sprintf("failed after %d attempt(s): %s", st.Attempts, st.Error))
		return fmt.Errorf("index job %s failed", st.ID)
	default:
		printInfo(name, fmt.Sprintf("job %s is %s", st.ID, st.State))
	}
	return nil
}
