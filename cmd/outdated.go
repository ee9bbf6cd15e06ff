package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var outdatedCmd = &cobra.Command{
	Use:   "outdated",
	Short: "List profiles whose index entry is missing or stale",
	Args:  cobra.NoArgs,
	RunE:  runOutdated,
}

func init() {
	rootCmd.AddCommand(outdatedCmd)
}

func runOutdated(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	outdated, err := a.indexing.Outdated(ctx)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(outdated)
	}
	if len(outdated) == 0 {
		printOK("", "every profile is up to date")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTORED\tCURRENT")
	for _, o := range outdated {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", o.ProfileID, o.Name, o.StoredFingerprint, o.CurrentFingerprint)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d profiles outdated\n", len(outdated))
	return nil
}
