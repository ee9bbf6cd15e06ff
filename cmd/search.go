package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"profile-indexer/domain"
)

var (
	flagSearchResourceType string
	flagSearchIntent       string
	flagSearchExclude      int64
	flagSearchLimit        int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Rank profiles of the opposite intent by similarity",
	Long: `Embed the query and rank the active profiles that declare the opposite
intent and whose resource type contains the given label. Profiles without a
dedicated index entry are scored with their legacy vector.

Examples:
  profile-indexer search "need some GPUs" --intent seek --resource-type gpu
  profile-indexer search "quantum" --intent share --exclude 3 --limit 10`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&flagSearchResourceType, "resource-type", "", "Substring of the candidates' resource type (empty matches all)")
	searchCmd.Flags().StringVar(&flagSearchIntent, "intent", domain.IntentSeek, "The searcher's own intent: seek or share")
	searchCmd.Flags().Int64Var(&flagSearchExclude, "exclude", 0, "Profile id to leave out of the results")
	searchCmd.Flags().IntVar(&flagSearchLimit, "limit", 0, "Maximum matches (default from config)")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	req := domain.SearchRequest{
		QueryText:    strings.Join(args, " "),
		ResourceType: flagSearchResourceType,
		Intent:       flagSearchIntent,
		Limit:        flagSearchLimit,
	}
	if cmd.Flags().Changed("exclude") {
		req.ExcludeID = &flagSearchExclude
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	matches, err := a.search.Search(ctx, req)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(matches)
	}
	if len(matches) == 0 {
		printInfo("", "no matching profiles")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tID\tNAME\tRESOURCE TYPE\tSOURCE")
	for _, m := range matches {
		fmt.Fprintf(w, "%.4f\t%d\t%s\t%s\t%s\n", m.Score, m.ProfileID, m.Name, m.ResourceType, m.Source)
	}
	return w.Flush()
}
